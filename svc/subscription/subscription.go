package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a subscription.
//
// Transitions are monotonic: pending -> active -> expired/cancelled, or
// pending -> expired. A subscription never moves backward; expired and
// cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// Subscription is a time-boxed purchase of chat access, paid through a single
// gateway invoice. One gateway invoice maps to exactly one subscription.
type Subscription struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Plan        PlanType
	Status      Status
	InvoiceID   string // gateway invoice id, globally unique
	PaymentID   string // gateway payment id, set once when paid
	Amount      int64  // snapshotted at creation, never recomputed
	Currency    string
	StartDate   time.Time
	EndDate     time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsActiveAt reports whether the subscription entitles the user at the given
// instant. This is a pure predicate over (status, endDate, now): the stored
// status can lag real time between reconciler sweeps, so the derived value is
// never persisted as truth.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.Status == StatusActive && s.EndDate.After(now)
}

// IsActive reports whether the subscription entitles the user right now.
func (s *Subscription) IsActive() bool {
	return s.IsActiveAt(time.Now().UTC())
}
