package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfylabs/billing/pkg/logger"
)

// Gateway invoice lifecycle events. The processor ignores anything else so
// new event kinds the gateway adds do not break delivery.
const (
	EventInvoicePaid          = "invoice.paid"
	EventInvoiceExpired       = "invoice.expired"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID        string `json:"id"`
		PaymentID string `json:"payment_id"`
	} `json:"data"`
}

// EventProcessor consumes at-least-once, possibly out-of-order gateway events
// and drives subscriptions through their lifecycle.
//
// Every transition is conditioned on the current stored status through the
// store's CompareAndTransition, which makes processing idempotent under
// duplicate delivery and safe under arbitrary reordering: a late event whose
// transition no longer applies is logged as stale and acknowledged.
type EventProcessor struct {
	gateway      PaymentGateway
	store        SubscriptionStore
	entitlements EntitlementUpdater
	log          *slog.Logger
	now          func() time.Time
}

// NewEventProcessor creates a webhook event processor. Panics on nil required
// dependencies to fail fast during initialization.
func NewEventProcessor(gateway PaymentGateway, store SubscriptionStore, entitlements EntitlementUpdater, log *slog.Logger) *EventProcessor {
	if gateway == nil {
		panic("subscription: PaymentGateway is required")
	}
	if store == nil {
		panic("subscription: SubscriptionStore is required")
	}
	if entitlements == nil {
		entitlements = NoopEntitlements{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &EventProcessor{
		gateway:      gateway,
		store:        store,
		entitlements: entitlements,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Process validates and applies one inbound gateway event.
//
// A nil return acknowledges the event: the gateway stops redelivering. Only
// two kinds of errors come back: ErrUnauthorizedEvent when the token check
// fails, and transient store errors, which the HTTP layer answers with 5xx so
// the gateway retries. Everything else - duplicates, stale events, unknown
// event kinds, events for invoices this system never created - is logged and
// acknowledged, because redelivery can never make them succeed.
func (p *EventProcessor) Process(ctx context.Context, payload []byte, token string) error {
	// Authenticity first: nothing is parsed from an unverified payload.
	if !p.gateway.VerifyCallbackToken(token) {
		p.log.WarnContext(ctx, "Webhook authenticity check failed")
		return ErrUnauthorizedEvent
	}

	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		p.log.WarnContext(ctx, "Malformed webhook payload", logger.Error(err))
		return nil
	}

	p.log.InfoContext(ctx, "Received gateway webhook",
		logger.Event(event.Event), logger.InvoiceID(event.Data.ID))

	switch event.Event {
	case EventInvoicePaid:
		return p.handleInvoicePaid(ctx, event.Data.ID, event.Data.PaymentID)
	case EventInvoiceExpired:
		return p.handleInvoiceExpired(ctx, event.Data.ID)
	case EventInvoicePaymentFailed:
		return p.handlePaymentFailed(ctx, event.Data.ID)
	default:
		p.log.InfoContext(ctx, "Unhandled webhook event", logger.Event(event.Event))
		return nil
	}
}

func (p *EventProcessor) handleInvoicePaid(ctx context.Context, invoiceID, paymentID string) error {
	now := p.now()
	sub, err := p.store.CompareAndTransition(ctx, invoiceID, StatusPending, StatusActive, func(rec *Subscription) {
		rec.PaidAt = &now
		rec.PaymentID = paymentID
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			// Stale or foreign invoice; ack so the gateway stops retrying.
			p.log.WarnContext(ctx, "Subscription not found for paid invoice", logger.InvoiceID(invoiceID))
			return nil
		case errors.Is(err, ErrStaleTransition):
			// The subscription already moved on, e.g. a reconciler sweep beat
			// a very delayed delivery.
			p.log.InfoContext(ctx, "Ignoring stale paid event", logger.InvoiceID(invoiceID))
			return nil
		default:
			return fmt.Errorf("apply paid transition: %w", err)
		}
	}

	// Best-effort entitlement sync; idempotent, so duplicate deliveries that
	// no-opped above are safe to sync again.
	paidAt := now
	if sub.PaidAt != nil {
		paidAt = *sub.PaidAt
	}
	if err := p.entitlements.Activate(ctx, sub.UserID, string(sub.Plan), sub.EndDate, paidAt); err != nil {
		p.log.ErrorContext(ctx, "Failed to activate entitlement",
			logger.UserID(sub.UserID), logger.SubscriptionID(sub.ID), logger.Error(err))
	}

	p.log.InfoContext(ctx, "Subscription activated",
		logger.UserID(sub.UserID), logger.SubscriptionID(sub.ID), logger.InvoiceID(invoiceID))
	return nil
}

func (p *EventProcessor) handleInvoiceExpired(ctx context.Context, invoiceID string) error {
	sub, err := p.store.CompareAndTransition(ctx, invoiceID, StatusPending, StatusExpired, nil)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			p.log.WarnContext(ctx, "Subscription not found for expired invoice", logger.InvoiceID(invoiceID))
			return nil
		case errors.Is(err, ErrStaleTransition):
			// An invoice cannot expire after being paid or cancelled.
			p.log.InfoContext(ctx, "Ignoring stale expired event", logger.InvoiceID(invoiceID))
			return nil
		default:
			return fmt.Errorf("apply expired transition: %w", err)
		}
	}

	p.log.InfoContext(ctx, "Subscription expired before payment",
		logger.UserID(sub.UserID), logger.SubscriptionID(sub.ID), logger.InvoiceID(invoiceID))
	return nil
}

// handlePaymentFailed is purely observational: the subscription stays pending
// until a later paid event or the gateway's own invoice expiry.
func (p *EventProcessor) handlePaymentFailed(ctx context.Context, invoiceID string) error {
	sub, err := p.store.FindByInvoiceID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			p.log.WarnContext(ctx, "Subscription not found for failed payment", logger.InvoiceID(invoiceID))
			return nil
		}
		return fmt.Errorf("find subscription for failed payment: %w", err)
	}

	p.log.InfoContext(ctx, "Subscription payment failed",
		logger.UserID(sub.UserID), logger.SubscriptionID(sub.ID), logger.InvoiceID(invoiceID))
	return nil
}
