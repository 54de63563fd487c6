package subscription

import (
	"strings"
	"time"
)

// PlanType determines the price and period of a subscription. Immutable after
// creation.
type PlanType string

const (
	PlanDaily  PlanType = "daily"
	PlanWeekly PlanType = "weekly"
)

// Valid reports whether the plan type is a recognized enumeration value.
func (p PlanType) Valid() bool {
	return p == PlanDaily || p == PlanWeekly
}

// Period returns the entitlement window the plan grants.
func (p PlanType) Period() time.Duration {
	switch p {
	case PlanWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Description returns the human-readable invoice line for the plan.
func (p PlanType) Description() string {
	return "Alfy " + strings.ToUpper(string(p)[:1]) + string(p)[1:] + " Subscription"
}

// ParsePlanType normalizes client input into a PlanType.
// Returns ErrInvalidPlan for anything but "daily" or "weekly".
func ParsePlanType(s string) (PlanType, error) {
	p := PlanType(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", ErrInvalidPlan
	}
	return p, nil
}
