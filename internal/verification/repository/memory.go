package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/verification/domain"
)

// MemoryRepository keeps verification tokens in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.Token
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]*domain.Token)}
}

func clone(t *domain.Token) *domain.Token {
	c := *t
	return &c
}

func (r *MemoryRepository) Create(_ context.Context, t *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.ID == t.ID || existing.TokenHash == t.TokenHash {
			return db.ErrConflict
		}
	}
	r.tokens[t.ID] = clone(t)
	return nil
}

func (r *MemoryRepository) Find(_ context.Context, q Query) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q.ID == "" && q.TokenHash == "" {
		return nil, errors.New("verification token lookup: no key set")
	}
	for _, t := range r.tokens {
		if q.ID != "" && t.ID != q.ID {
			continue
		}
		if q.ID == "" && t.TokenHash != q.TokenHash {
			continue
		}
		if q.Type != "" && t.Type != q.Type {
			return nil, nil
		}
		return clone(t), nil
	}
	return nil, nil
}

func (r *MemoryRepository) List(_ context.Context, q Query) ([]*domain.Token, error) {
	if q.UserID == "" {
		return nil, errors.New("verification token list: user id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Token
	for _, t := range r.tokens {
		if t.UserID != q.UserID || (q.Type != "" && t.Type != q.Type) {
			continue
		}
		if q.UsableAt != nil && !t.CanUse(*q.UsableAt) {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) MarkUsed(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	t.UsedAt = &at
	return true, nil
}

func (r *MemoryRepository) InvalidateAll(_ context.Context, userID string, tokenType domain.TokenType, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tokens {
		if t.UserID == userID && t.Type == tokenType && t.UsedAt == nil && t.InvalidatedAt == nil {
			t.InvalidatedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return 0, nil
	}
	t.Attempts++
	return t.Attempts, nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if !before.Before(t.ExpiresAt) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteUsedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if (t.UsedAt != nil && t.UsedAt.Before(before)) || (t.InvalidatedAt != nil && t.InvalidatedAt.Before(before)) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}
