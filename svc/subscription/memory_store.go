package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory SubscriptionStore with the same
// uniqueness and atomicity semantics as the Postgres implementation. Used by
// tests and local development without a database.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Subscription // keyed by invoice id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Subscription)}
}

func (s *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[sub.InvoiceID]; exists {
		return ErrDuplicateInvoice
	}
	// Mirrors the partial unique index: at most one pending-or-active record
	// per user, regardless of end dates.
	for _, rec := range s.byID {
		if rec.UserID == sub.UserID && (rec.Status == StatusPending || rec.Status == StatusActive) {
			return ErrSubscriptionExists
		}
	}

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	cp := *sub
	s.byID[sub.InvoiceID] = &cp
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.byID {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) FindByInvoiceID(_ context.Context, invoiceID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[invoiceID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) FindActiveByUser(_ context.Context, userID uuid.UUID, now time.Time) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Subscription
	for _, rec := range s.byID {
		if rec.UserID != userID || !rec.IsActiveAt(now) {
			continue
		}
		if best == nil || rec.EndDate.After(best.EndDate) {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrSubscriptionNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) FindOpenByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.byID {
		if rec.UserID == userID && (rec.Status == StatusPending || rec.Status == StatusActive) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Subscription
	for _, rec := range s.byID {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CompareAndTransition(_ context.Context, invoiceID string, expected, next Status, apply func(*Subscription)) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[invoiceID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}

	switch rec.Status {
	case next:
		// Duplicate delivery: success, no mutation.
		cp := *rec
		return &cp, nil
	case expected:
		if apply != nil {
			apply(rec)
		}
		rec.Status = next
		rec.UpdatedAt = time.Now().UTC()
		cp := *rec
		return &cp, nil
	default:
		return nil, ErrStaleTransition
	}
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Subscription
	for _, rec := range s.byID {
		if rec.Status == StatusActive && rec.EndDate.Before(now) {
			rec.Status = StatusExpired
			rec.UpdatedAt = time.Now().UTC()
			expired = append(expired, *rec)
		}
	}
	return expired, nil
}
