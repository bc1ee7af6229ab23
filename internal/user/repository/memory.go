package repository

import (
	"context"
	"sync"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/user/domain"
)

type recoveryCode struct {
	hash   string
	usedAt *time.Time
}

// MemoryRepository is an in-process Repository for development mode and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	byEmail  map[string]string // org_id + "\x00" + email -> id
	recovery map[string][]recoveryCode
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]*domain.User),
		byEmail:  make(map[string]string),
		recovery: make(map[string][]recoveryCode),
	}
}

func emailKey(orgID, email string) string { return orgID + "\x00" + email }

func cloneUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, orgID, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[emailKey(orgID, email)]
	if !ok {
		return nil, nil
	}
	return cloneUser(r.users[id]), nil
}

func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := emailKey(u.OrgID, u.Email)
	if _, exists := r.byEmail[key]; exists {
		return db.ErrConflict
	}
	if _, exists := r.users[u.ID]; exists {
		return db.ErrConflict
	}
	r.users[u.ID] = cloneUser(u)
	r.byEmail[key] = u.ID
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[u.ID]
	if !ok {
		return nil
	}
	cur.Name = u.Name
	cur.Active = u.Active
	cur.EmailVerifiedAt = u.EmailVerifiedAt
	cur.TwoFactorEnabled = u.TwoFactorEnabled
	cur.TwoFactorSecret = u.TwoFactorSecret
	cur.UpdatedAt = u.UpdatedAt
	return nil
}

func (r *MemoryRepository) SetPassword(_ context.Context, userID, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = &at
	u.FailedLoginCount = 0
	u.LockedUntil = nil
	u.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) RecordLoginFailure(_ context.Context, userID string, p LockoutPolicy, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	u.UpdatedAt = now
	if u.FailedLoginCount+1 >= p.Threshold {
		until := now.Add(p.Duration)
		u.LockedUntil = &until
		u.FailedLoginCount = 0
		return true, nil
	}
	u.FailedLoginCount++
	return false, nil
}

func (r *MemoryRepository) ResetLoginFailures(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok && u.FailedLoginCount != 0 {
		u.FailedLoginCount = 0
		u.UpdatedAt = at
	}
	return nil
}

func (r *MemoryRepository) ReplaceRecoveryCodes(_ context.Context, userID string, hashes []string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make([]recoveryCode, 0, len(hashes))
	for _, h := range hashes {
		codes = append(codes, recoveryCode{hash: h})
	}
	r.recovery[userID] = codes
	return nil
}

func (r *MemoryRepository) ConsumeRecoveryCode(_ context.Context, userID, hash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := r.recovery[userID]
	for i := range codes {
		if codes[i].hash == hash && codes[i].usedAt == nil {
			t := at
			codes[i].usedAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) DeleteRecoveryCodes(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recovery, userID)
	return nil
}

// UnusedRecoveryCodes returns how many recovery codes remain for userID.
func (r *MemoryRepository) UnusedRecoveryCodes(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.recovery[userID] {
		if c.usedAt == nil {
			n++
		}
	}
	return n
}
