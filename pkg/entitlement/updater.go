package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/alfylabs/billing/pkg/logger"
)

type Config struct {
	UsersCollection string        `env:"ENTITLEMENT_USERS_COLLECTION" envDefault:"users"`
	CacheTTL        time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"5m"` // CacheTTL caps how long a cached entitlement answer may lag the store.
}

var ErrUserNotFound = errors.New("entitlement: user not found")

// Updater writes subscription entitlement onto the chat application's user
// documents and keeps a short-lived cache for the hot per-message check.
//
// The subscription store stays the source of truth; these fields are a
// denormalized projection and may lag until the next update or cache expiry.
type Updater struct {
	users *mongo.Collection
	cache *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

// NewUpdater creates an entitlement updater. The cache client is optional;
// with a nil cache every check falls through to its caller's fallback.
func NewUpdater(db *mongo.Database, cache *redis.Client, cfg Config, log *slog.Logger) *Updater {
	if db == nil {
		panic("entitlement: mongo database is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Updater{
		users: db.Collection(cfg.UsersCollection),
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

func cacheKey(userID uuid.UUID) string {
	return "entitlement:user:" + userID.String()
}

// Activate marks the user as entitled until endDate.
func (u *Updater) Activate(ctx context.Context, userID uuid.UUID, plan string, endDate, paidAt time.Time) error {
	res, err := u.users.UpdateOne(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$set": bson.M{
			"subscription.isActive":    true,
			"subscription.type":        plan,
			"subscription.endDate":     endDate,
			"subscription.lastPayment": paidAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("activate entitlement: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}

	u.setCache(ctx, userID, true, endDate)
	return nil
}

// Deactivate marks the user as no longer entitled.
func (u *Updater) Deactivate(ctx context.Context, userID uuid.UUID) error {
	res, err := u.users.UpdateOne(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$set": bson.M{"subscription.isActive": false}},
	)
	if err != nil {
		return fmt.Errorf("deactivate entitlement: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}

	u.setCache(ctx, userID, false, time.Time{})
	return nil
}

// setCache is best-effort: a cache write failure only costs a store lookup.
func (u *Updater) setCache(ctx context.Context, userID uuid.UUID, active bool, endDate time.Time) {
	if u.cache == nil {
		return
	}

	ttl := u.ttl
	if active {
		// Never cache an active answer beyond the entitlement window.
		if remaining := time.Until(endDate); remaining < ttl {
			ttl = remaining
		}
		if ttl <= 0 {
			return
		}
	}

	value := "0"
	if active {
		value = "1"
	}
	if err := u.cache.Set(ctx, cacheKey(userID), value, ttl).Err(); err != nil {
		u.log.WarnContext(ctx, "Failed to cache entitlement", logger.UserID(userID), logger.Error(err))
	}
}

// CachedActive returns the cached entitlement answer, or ok=false on a miss.
func (u *Updater) CachedActive(ctx context.Context, userID uuid.UUID) (active, ok bool) {
	if u.cache == nil {
		return false, false
	}
	val, err := u.cache.Get(ctx, cacheKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			u.log.WarnContext(ctx, "Failed to read entitlement cache", logger.UserID(userID), logger.Error(err))
		}
		return false, false
	}
	return val == "1", true
}
