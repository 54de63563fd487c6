package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alfylabs/billing/pkg/pg"
)

// PostgresStore is the authoritative SubscriptionStore. Uniqueness invariants
// live in the schema: a unique index on invoice_id and a partial unique index
// allowing one pending-or-active row per user (see migrations/).
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("subscription: pgx pool is required")
	}
	return &PostgresStore{pool: pool}
}

const subscriptionColumns = `id, user_id, plan, status, invoice_id, payment_id,
	amount, currency, start_date, end_date, paid_at, cancelled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.InvoiceID, &sub.PaymentID,
		&sub.Amount, &sub.Currency, &sub.StartDate, &sub.EndDate,
		&sub.PaidAt, &sub.CancelledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, plan, status, invoice_id, payment_id,
			amount, currency, start_date, end_date, paid_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		sub.ID, sub.UserID, sub.Plan, sub.Status, sub.InvoiceID, sub.PaymentID,
		sub.Amount, sub.Currency, sub.StartDate, sub.EndDate, sub.PaidAt, sub.CancelledAt,
	)
	if err := row.Scan(&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		if pg.IsDuplicateKeyError(err) {
			if pg.ConstraintName(err) == "subscriptions_one_open_per_user" {
				return ErrSubscriptionExists
			}
			return ErrDuplicateInvoice
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
}

func (s *PostgresStore) FindByInvoiceID(ctx context.Context, invoiceID string) (*Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE invoice_id = $1`, invoiceID))
}

func (s *PostgresStore) FindActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) (*Subscription, error) {
	// ORDER BY end_date DESC is defensive: the partial unique index should
	// make more than one match impossible.
	return scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status = $2 AND end_date > $3
		ORDER BY end_date DESC
		LIMIT 1`,
		userID, StatusActive, now))
}

func (s *PostgresStore) FindOpenByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status IN ($2, $3)
		LIMIT 1`,
		userID, StatusPending, StatusActive))
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// CompareAndTransition serializes per record via SELECT FOR UPDATE, so the
// read-modify-write is a single atomic step even across service instances.
func (s *PostgresStore) CompareAndTransition(ctx context.Context, invoiceID string, expected, next Status, apply func(*Subscription)) (*Subscription, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	sub, err := scanSubscription(tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE invoice_id = $1 FOR UPDATE`, invoiceID))
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case next:
		// Duplicate delivery: success, no mutation.
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transition tx: %w", err)
		}
		return sub, nil
	case expected:
	default:
		return nil, ErrStaleTransition
	}

	if apply != nil {
		apply(sub)
	}
	sub.Status = next
	sub.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, payment_id = $3, paid_at = $4, cancelled_at = $5, updated_at = $6
		WHERE invoice_id = $1`,
		invoiceID, sub.Status, sub.PaymentID, sub.PaidAt, sub.CancelledAt, sub.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition tx: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE subscriptions
		SET status = $1, updated_at = $2
		WHERE status = $3 AND end_date < $4
		RETURNING `+subscriptionColumns,
		StatusExpired, time.Now().UTC(), StatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("sweep expired subscriptions: %w", err)
	}
	defer rows.Close()

	var expired []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *sub)
	}
	return expired, rows.Err()
}
