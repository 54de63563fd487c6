package subscription

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alfylabs/billing/pkg/logger"
)

// maxWebhookBody caps inbound webhook payloads; gateway events are small.
const maxWebhookBody = 1 << 20

// Router exposes the subscription HTTP surface. Authenticated routes expect
// the user in the request context (see WithUser); the webhook route is
// unauthenticated and protected by the callback token instead.
func Router(svc *Service, proc *EventProcessor, log *slog.Logger) chi.Router {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &handlers{svc: svc, proc: proc, log: log}

	r := chi.NewRouter()
	r.Get("/status", h.status)
	r.Post("/create", h.create)
	r.Post("/cancel/{subscriptionID}", h.cancel)
	r.Post("/webhook", h.webhook)
	return r
}

type handlers struct {
	svc  *Service
	proc *EventProcessor
	log  *slog.Logger
}

type subscriptionView struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"userId"`
	Plan        PlanType   `json:"type"`
	Status      Status     `json:"status"`
	InvoiceID   string     `json:"invoiceId"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	StartDate   time.Time  `json:"startDate"`
	EndDate     time.Time  `json:"endDate"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	IsActive    bool       `json:"isActive"`
}

func newSubscriptionView(sub *Subscription, now time.Time) *subscriptionView {
	if sub == nil {
		return nil
	}
	return &subscriptionView{
		ID:          sub.ID,
		UserID:      sub.UserID,
		Plan:        sub.Plan,
		Status:      sub.Status,
		InvoiceID:   sub.InvoiceID,
		Amount:      sub.Amount,
		Currency:    sub.Currency,
		StartDate:   sub.StartDate,
		EndDate:     sub.EndDate,
		PaidAt:      sub.PaidAt,
		CancelledAt: sub.CancelledAt,
		IsActive:    sub.IsActiveAt(now),
	}
}

type invoiceView struct {
	ID        string    `json:"id"`
	URL       string    `json:"invoice_url"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	plan, err := ParsePlanType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, `Invalid subscription type. Must be "daily" or "weekly"`, nil)
		return
	}

	result, err := h.svc.Request(r.Context(), user, plan)
	if err != nil {
		var already *AlreadySubscribedError
		switch {
		case errors.As(err, &already):
			respondError(w, http.StatusBadRequest, "User already has an active subscription", map[string]any{
				"subscription": newSubscriptionView(already.Existing, time.Now().UTC()),
			})
		case errors.Is(err, ErrSubscriptionConflict):
			respondError(w, http.StatusConflict, "A conflicting subscription request won the race", nil)
		case errors.Is(err, ErrGatewayUnavailable):
			respondError(w, http.StatusBadGateway, "Payment gateway unavailable, please retry", nil)
		default:
			h.log.ErrorContext(r.Context(), "Failed to create subscription invoice",
				logger.UserID(user.ID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to create subscription invoice", nil)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"subscription": newSubscriptionView(result.Subscription, time.Now().UTC()),
		"invoice": invoiceView{
			ID:        result.Subscription.InvoiceID,
			URL:       result.InvoiceURL,
			Amount:    result.Subscription.Amount,
			Currency:  result.Subscription.Currency,
			ExpiresAt: result.ExpiresAt,
		},
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	result, err := h.svc.Status(r.Context(), user.ID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "Failed to get subscription status",
			logger.UserID(user.ID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get subscription status", nil)
		return
	}

	now := time.Now().UTC()
	history := make([]*subscriptionView, 0, len(result.History))
	for i := range result.History {
		history = append(history, newSubscriptionView(&result.History[i], now))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":               true,
		"hasActiveSubscription": result.Active != nil,
		"activeSubscription":    newSubscriptionView(result.Active, now),
		"subscriptionHistory":   history,
	})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	subID, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Subscription not found", nil)
		return
	}

	cancelled, err := h.svc.Cancel(r.Context(), user.ID, subID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			respondError(w, http.StatusNotFound, "Subscription not found", nil)
		case errors.Is(err, ErrNotOwner):
			respondError(w, http.StatusForbidden, "Not authorized to cancel this subscription", nil)
		case errors.Is(err, ErrNotActive):
			respondError(w, http.StatusBadRequest, "Subscription is not active", nil)
		default:
			h.log.ErrorContext(r.Context(), "Failed to cancel subscription",
				logger.UserID(user.ID), logger.SubscriptionID(subID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to cancel subscription", nil)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"subscription": newSubscriptionView(cancelled, time.Now().UTC()),
	})
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read webhook payload", nil)
		return
	}

	err = h.proc.Process(r.Context(), payload, r.Header.Get("X-Callback-Token"))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, ErrUnauthorizedEvent):
		respondError(w, http.StatusUnauthorized, "Invalid signature", nil)
	default:
		// Transient failure: a 5xx tells the gateway to redeliver.
		h.log.ErrorContext(r.Context(), "Failed to handle webhook", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to handle webhook", nil)
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string, extra map[string]any) {
	body := map[string]any{"error": message}
	for k, v := range extra {
		body[k] = v
	}
	respondJSON(w, status, body)
}
