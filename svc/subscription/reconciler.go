package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/alfylabs/billing/pkg/logger"
)

// ReconcilerConfig controls the periodic expiry sweep.
type ReconcilerConfig struct {
	SweepInterval time.Duration `env:"SUBSCRIPTION_SWEEP_INTERVAL" envDefault:"1m"` // SweepInterval is how often stale active records are force-expired.
}

// Reconciler force-expires active subscriptions whose period elapsed without
// any corresponding gateway event. The gateway only notifies about invoice
// lifecycle, never about subscription-period lifecycle, so entitlement decay
// depends on this sweep rather than on event delivery.
type Reconciler struct {
	store        SubscriptionStore
	entitlements EntitlementUpdater
	interval     time.Duration
	log          *slog.Logger
	now          func() time.Time
}

// NewReconciler creates an expiry reconciler. Panics on a nil store to fail
// fast during initialization.
func NewReconciler(cfg ReconcilerConfig, store SubscriptionStore, entitlements EntitlementUpdater, log *slog.Logger) *Reconciler {
	if store == nil {
		panic("subscription: SubscriptionStore is required")
	}
	if entitlements == nil {
		entitlements = NoopEntitlements{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		store:        store,
		entitlements: entitlements,
		interval:     interval,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately, then on every tick until the context is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Sweep(ctx, r.now())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx, r.now())
		}
	}
}

// Sweep expires every active record whose endDate passed and deactivates the
// affected users' entitlements. Sweeping is idempotent: a second run at the
// same instant finds nothing to do.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) {
	expired, err := r.store.SweepExpired(ctx, now)
	if err != nil {
		r.log.ErrorContext(ctx, "Expiry sweep failed", logger.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, sub := range expired {
		if err := r.entitlements.Deactivate(ctx, sub.UserID); err != nil {
			// Same policy as cancellation: entitlement drift is retried by a
			// later sweep path, never blocks expiry.
			r.log.ErrorContext(ctx, "Failed to deactivate entitlement after expiry",
				logger.UserID(sub.UserID), logger.SubscriptionID(sub.ID), logger.Error(err))
			continue
		}
		r.log.InfoContext(ctx, "Subscription force-expired",
			logger.UserID(sub.UserID), logger.SubscriptionID(sub.ID))
	}

	r.log.InfoContext(ctx, "Expiry sweep completed", slog.Int("expired", len(expired)))
}
