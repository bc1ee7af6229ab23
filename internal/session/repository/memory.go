package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/session/domain"
)

// MemoryRepository is an in-process Repository for development mode and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	return &c
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.ID == s.ID || existing.SessionTokenHash == s.SessionTokenHash || existing.RefreshTokenHash == s.RefreshTokenHash {
			return db.ErrConflict
		}
	}
	r.sessions[s.ID] = clone(s)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, l Lookup) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case l.ID != "":
		if s, ok := r.sessions[l.ID]; ok {
			return clone(s), nil
		}
		return nil, nil
	case l.SessionTokenHash == "" && l.RefreshTokenHash == "":
		return nil, errors.New("session lookup: no key set")
	}
	for _, s := range r.sessions {
		if (l.SessionTokenHash != "" && s.SessionTokenHash == l.SessionTokenHash) ||
			(l.RefreshTokenHash != "" && s.RefreshTokenHash == l.RefreshTokenHash) {
			return clone(s), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if f.UserID != "" && s.UserID != f.UserID {
			continue
		}
		if f.OrgID != "" && s.OrgID != f.OrgID {
			continue
		}
		if f.ActiveOnly && !s.Active {
			continue
		}
		if f.ExpiredBefore != nil && s.ExpiresAt.After(*f.ExpiredBefore) {
			continue
		}
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func deactivate(s *domain.Session, reason string, at time.Time) {
	t := at
	s.Active = false
	s.RevokedAt = &t
	s.RevokeReason = reason
}

func (r *MemoryRepository) Deactivate(_ context.Context, id, reason string, at time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Active {
		return nil, nil
	}
	deactivate(s, reason, at)
	return clone(s), nil
}

func (r *MemoryRepository) DeactivateAll(_ context.Context, userID, exceptID, reason string, at time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.ID != exceptID && s.Active {
			deactivate(s, reason, at)
			out = append(out, clone(s))
		}
	}
	return out, nil
}

func (r *MemoryRepository) DeactivateExpired(_ context.Context, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.Active && !s.ExpiresAt.After(now) {
			deactivate(s, domain.ReasonExpired, now)
			out = append(out, clone(s))
		}
	}
	return out, nil
}

func (r *MemoryRepository) RotateRefreshToken(_ context.Context, rot Rotation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[rot.SessionID]
	if !ok || s.RefreshTokenHash != rot.OldHash || !s.IsUsable(rot.Now) {
		return false, nil
	}
	t := rot.Now
	s.RefreshTokenHash = rot.NewHash
	s.AccessJTI = rot.AccessJTI
	s.AccessExpiresAt = rot.AccessExpiresAt
	s.LastSeenAt = &t
	return true, nil
}
