package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alfylabs/billing/pkg/logger"
)

// Config holds subscription pricing and gateway interaction settings.
// Prices are snapshotted onto each record at creation; changing them later
// never rewrites sold subscriptions.
type Config struct {
	DailyPrice   int64  `env:"DAILY_SUBSCRIPTION_PRICE" envDefault:"99"`
	WeeklyPrice  int64  `env:"WEEKLY_SUBSCRIPTION_PRICE" envDefault:"499"`
	Currency     string `env:"SUBSCRIPTION_CURRENCY" envDefault:"PHP"`
	ClientDomain string `env:"DOMAIN_CLIENT" envDefault:"http://localhost:3080"` // ClientDomain hosts the post-payment redirect pages.

	InvoiceDuration time.Duration `env:"SUBSCRIPTION_INVOICE_DURATION" envDefault:"24h"` // InvoiceDuration is how long a gateway invoice stays payable.
	GatewayTimeout  time.Duration `env:"SUBSCRIPTION_GATEWAY_TIMEOUT" envDefault:"15s"`  // GatewayTimeout bounds a single gateway call.
	HistoryLimit    int           `env:"SUBSCRIPTION_HISTORY_LIMIT" envDefault:"5"`      // HistoryLimit caps the history list in status responses.
}

// PriceFor returns the amount charged for a plan.
func (c Config) PriceFor(plan PlanType) int64 {
	if plan == PlanWeekly {
		return c.WeeklyPrice
	}
	return c.DailyPrice
}

// User identifies the requesting customer. The chat application's auth layer
// supplies it; this service never reads user storage directly.
type User struct {
	ID    uuid.UUID
	Email string
	Name  string
}

// CheckoutResult is returned to a user who just requested a subscription.
type CheckoutResult struct {
	Subscription *Subscription
	InvoiceURL   string
	ExpiresAt    time.Time
}

// StatusResult describes a user's current entitlement and purchase history.
type StatusResult struct {
	Active  *Subscription // nil when no subscription is currently active
	History []Subscription
}

// Service orchestrates invoice creation and cancellation against the store,
// enforcing the one-active-subscription-per-user invariant.
type Service struct {
	cfg          Config
	store        SubscriptionStore
	gateway      PaymentGateway
	entitlements EntitlementUpdater
	log          *slog.Logger
	now          func() time.Time
}

// NewService creates a subscription service. Panics on nil required
// dependencies to fail fast during initialization.
func NewService(cfg Config, store SubscriptionStore, gateway PaymentGateway, entitlements EntitlementUpdater, log *slog.Logger) *Service {
	if store == nil {
		panic("subscription: SubscriptionStore is required")
	}
	if gateway == nil {
		panic("subscription: PaymentGateway is required")
	}
	if entitlements == nil {
		entitlements = NoopEntitlements{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{
		cfg:          cfg,
		store:        store,
		gateway:      gateway,
		entitlements: entitlements,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Request creates a gateway invoice and a pending subscription for the user.
//
// The gateway call happens before anything is persisted: a gateway failure
// must not leave an orphaned local record. The reverse orphan (a remote
// invoice without a local record, possible if Create fails afterwards) is
// compensated by expiring the invoice, and is bounded by the invoice duration
// regardless.
func (s *Service) Request(ctx context.Context, user User, plan PlanType) (*CheckoutResult, error) {
	if !plan.Valid() {
		return nil, ErrInvalidPlan
	}

	now := s.now()

	// Pending counts too: the user already holds an invoice to pay, and the
	// store's one-open-per-user constraint would reject a second record
	// anyway. Refusing here avoids creating a gateway invoice just to expire
	// it in compensation.
	if existing, err := s.store.FindOpenByUser(ctx, user.ID); err == nil {
		return nil, &AlreadySubscribedError{Existing: existing}
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("check open subscription: %w", err)
	}

	sub := &Subscription{
		ID:        uuid.New(),
		UserID:    user.ID,
		Plan:      plan,
		Status:    StatusPending,
		Amount:    s.cfg.PriceFor(plan),
		Currency:  s.cfg.Currency,
		StartDate: now,
		EndDate:   now.Add(plan.Period()),
	}

	// Deterministic correlation id ties the gateway invoice back to this
	// request during reconciliation and debugging.
	externalID := fmt.Sprintf("sub_%s_%s_%d", user.ID, plan, now.UnixMilli())

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	invoice, err := s.gateway.CreateInvoice(gwCtx, InvoiceSpec{
		ExternalID:         externalID,
		Amount:             sub.Amount,
		Currency:           sub.Currency,
		Description:        plan.Description(),
		CustomerEmail:      user.Email,
		CustomerName:       user.Name,
		SuccessRedirectURL: s.cfg.ClientDomain + "/subscription/success",
		FailureRedirectURL: s.cfg.ClientDomain + "/subscription/failed",
		Duration:           s.cfg.InvoiceDuration,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to create gateway invoice",
			logger.UserID(user.ID), slog.String("external_id", externalID), logger.Error(err))
		return nil, errors.Join(ErrGatewayUnavailable, err)
	}
	sub.InvoiceID = invoice.InvoiceID

	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, ErrDuplicateInvoice) || errors.Is(err, ErrSubscriptionExists) {
			// Lost a concurrent race for the same user (or, practically
			// impossible, an invoice id collision). Expire the remote invoice
			// so the user cannot pay for a record that does not exist.
			s.compensateInvoice(ctx, invoice.InvoiceID)
			return nil, errors.Join(ErrSubscriptionConflict, err)
		}
		return nil, fmt.Errorf("persist subscription: %w", err)
	}

	s.log.InfoContext(ctx, "Subscription invoice created",
		logger.UserID(user.ID),
		logger.SubscriptionID(sub.ID),
		logger.InvoiceID(sub.InvoiceID),
		slog.String("plan", string(plan)),
		slog.Int64("amount", sub.Amount))

	return &CheckoutResult{
		Subscription: sub,
		InvoiceURL:   invoice.URL,
		ExpiresAt:    invoice.ExpiresAt,
	}, nil
}

func (s *Service) compensateInvoice(ctx context.Context, invoiceID string) {
	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	if err := s.gateway.ExpireInvoice(gwCtx, invoiceID); err != nil {
		// The invoice will still die on its own duration; log for follow-up.
		s.log.WarnContext(ctx, "Failed to expire orphaned gateway invoice",
			logger.InvoiceID(invoiceID), logger.Error(err))
	}
}

// Status returns the user's current entitlement and a bounded purchase
// history, most recent first.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*StatusResult, error) {
	res := &StatusResult{}

	active, err := s.store.FindActiveByUser(ctx, userID, s.now())
	switch {
	case err == nil:
		res.Active = active
	case errors.Is(err, ErrSubscriptionNotFound):
		// No active subscription is a normal answer.
	default:
		return nil, fmt.Errorf("find active subscription: %w", err)
	}

	history, err := s.store.ListByUser(ctx, userID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list subscription history: %w", err)
	}
	res.History = history

	return res, nil
}

// Cancel transitions the user's active subscription to cancelled. This is a
// local decision: the gateway is not notified and no refund is issued.
func (s *Service) Cancel(ctx context.Context, userID, subscriptionID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, ErrNotOwner
	}
	if sub.Status != StatusActive {
		return nil, ErrNotActive
	}

	now := s.now()
	cancelled, err := s.store.CompareAndTransition(ctx, sub.InvoiceID, StatusActive, StatusCancelled, func(rec *Subscription) {
		rec.CancelledAt = &now
	})
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			// Lost a race against the reconciler or a webhook event.
			return nil, ErrNotActive
		}
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}

	// Best-effort side effect: a failed entitlement sync never rolls back the
	// cancellation. A separate reconciliation path retries drift.
	if err := s.entitlements.Deactivate(ctx, userID); err != nil {
		s.log.ErrorContext(ctx, "Failed to deactivate entitlement after cancellation",
			logger.UserID(userID), logger.SubscriptionID(subscriptionID), logger.Error(err))
	}

	s.log.InfoContext(ctx, "Subscription cancelled",
		logger.UserID(userID), logger.SubscriptionID(subscriptionID))

	return cancelled, nil
}
