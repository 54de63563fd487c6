package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore defines the persistence contract for subscription records.
//
// Implementations must enforce two uniqueness invariants: the gateway invoice
// id is globally unique, and a user holds at most one pending-or-active record
// at a time. The second one is what closes the check-then-act race in
// Service.Request; relying on the application-level FindActiveByUser check
// alone would let two concurrent requests both pass it.
type SubscriptionStore interface {
	// Create persists a new record and assigns its ID if unset.
	// Returns ErrDuplicateInvoice if the invoice id is taken and
	// ErrSubscriptionExists if the user already holds a pending or active
	// subscription.
	Create(ctx context.Context, sub *Subscription) error

	// FindByID returns the record or ErrSubscriptionNotFound.
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// FindByInvoiceID returns the record joined to a gateway invoice, or
	// ErrSubscriptionNotFound.
	FindByInvoiceID(ctx context.Context, invoiceID string) (*Subscription, error)

	// FindActiveByUser returns the user's record with status active and
	// endDate after now, or ErrSubscriptionNotFound. Should the uniqueness
	// invariant ever be violated, the record with the latest endDate wins.
	FindActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) (*Subscription, error)

	// FindOpenByUser returns the user's pending-or-active record, or
	// ErrSubscriptionNotFound. This mirrors exactly the set guarded by the
	// one-open-per-user constraint, so Service.Request can refuse a second
	// request before creating a gateway invoice the constraint would orphan.
	FindOpenByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// ListByUser returns up to limit records for the user, most recent first.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Subscription, error)

	// CompareAndTransition atomically moves the record identified by invoiceID
	// from expected to next, applying apply to stamp transition fields before
	// the write. If the stored status already equals next the call is a no-op
	// and succeeds (duplicate delivery); if it is anything else it fails with
	// ErrStaleTransition. The read-modify-write is a single atomic step: this
	// is what makes webhook processing idempotent under duplication and safe
	// under reordering.
	CompareAndTransition(ctx context.Context, invoiceID string, expected, next Status, apply func(*Subscription)) (*Subscription, error)

	// SweepExpired atomically transitions every active record with endDate
	// before now to expired and returns the affected records.
	SweepExpired(ctx context.Context, now time.Time) ([]Subscription, error)
}
