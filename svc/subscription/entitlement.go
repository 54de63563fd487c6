package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntitlementUpdater propagates subscription state to the chat application's
// user records. Calls are best-effort from the state machine's perspective:
// the stored subscription is the source of truth, failures are logged and
// never roll back a transition.
type EntitlementUpdater interface {
	Activate(ctx context.Context, userID uuid.UUID, plan string, endDate, paidAt time.Time) error
	Deactivate(ctx context.Context, userID uuid.UUID) error
}

// NoopEntitlements satisfies EntitlementUpdater when no collaborator is wired,
// e.g. in tests or local development without the chat database.
type NoopEntitlements struct{}

func (NoopEntitlements) Activate(context.Context, uuid.UUID, string, time.Time, time.Time) error {
	return nil
}

func (NoopEntitlements) Deactivate(context.Context, uuid.UUID) error { return nil }
