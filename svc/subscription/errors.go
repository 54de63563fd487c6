package subscription

import "errors"

var (
	ErrInvalidPlan          = errors.New("invalid subscription plan type")
	ErrAlreadySubscribed    = errors.New("user already has an active subscription")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotOwner             = errors.New("subscription belongs to another user")
	ErrNotActive            = errors.New("subscription is not active")

	// ErrGatewayUnavailable signals a transient failure talking to the payment
	// gateway; the caller may retry and no local state was left behind.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrSubscriptionConflict is surfaced to the loser of a concurrent create
	// race once the store's uniqueness constraints reject the second record.
	ErrSubscriptionConflict = errors.New("conflicting subscription request")

	// Store-level violations.
	ErrDuplicateInvoice   = errors.New("gateway invoice id already exists")
	ErrSubscriptionExists = errors.New("user already has a pending or active subscription")
	ErrStaleTransition    = errors.New("subscription already moved past the expected status")

	// ErrUnauthorizedEvent is returned when a webhook's callback token does not
	// match the configured secret. No part of the payload is processed.
	ErrUnauthorizedEvent = errors.New("webhook authenticity check failed")
)

// AlreadySubscribedError rejects a second subscription while one is active and
// carries the existing record so callers can surface it.
type AlreadySubscribedError struct {
	Existing *Subscription
}

func (e *AlreadySubscribedError) Error() string { return ErrAlreadySubscribed.Error() }

// Is lets errors.Is(err, ErrAlreadySubscribed) match the typed error.
func (e *AlreadySubscribedError) Is(target error) bool { return target == ErrAlreadySubscribed }
