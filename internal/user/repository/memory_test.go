package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/user/domain"
)

func TestMemory_CreateUniquePerOrg(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := &domain.User{ID: "u1", OrgID: "o1", Email: "a@b.co", PasswordHash: "h"}
	if err := r.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := &domain.User{ID: "u2", OrgID: "o1", Email: "a@b.co", PasswordHash: "h"}
	if err := r.Create(ctx, dup); !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Create duplicate: want ErrConflict, got %v", err)
	}
	other := &domain.User{ID: "u3", OrgID: "o2", Email: "a@b.co", PasswordHash: "h"}
	if err := r.Create(ctx, other); err != nil {
		t.Fatalf("Create same email other org: %v", err)
	}
	got, _ := r.GetByEmail(ctx, "o2", "a@b.co")
	if got == nil || got.ID != "u3" {
		t.Errorf("GetByEmail o2 = %+v", got)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	_ = r.Create(ctx, &domain.User{ID: "u1", Email: "a@b.co", PasswordHash: "h"})
	u, _ := r.GetByID(ctx, "u1")
	u.Active = true
	again, _ := r.GetByID(ctx, "u1")
	if again.Active {
		t.Error("mutating a returned user must not change the store")
	}
}

func TestMemory_RecordLoginFailure_ConcurrentThreshold(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	_ = r.Create(ctx, &domain.User{ID: "u1", Email: "a@b.co", PasswordHash: "h", Active: true})
	p := LockoutPolicy{Threshold: 5, Duration: time.Minute}
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	locks := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locked, err := r.RecordLoginFailure(ctx, "u1", p, now)
			if err != nil {
				t.Error(err)
			}
			if locked {
				mu.Lock()
				locks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if locks != 2 {
		t.Errorf("10 failures at threshold 5 should lock exactly twice, got %d", locks)
	}
	u, _ := r.GetByID(ctx, "u1")
	if !u.IsLockedOut(now) {
		t.Error("user should be locked")
	}
}

func TestMemory_SetPasswordClearsLockout(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	until := time.Now().Add(time.Hour)
	_ = r.Create(ctx, &domain.User{ID: "u1", Email: "a@b.co", PasswordHash: "old", LockedUntil: &until, FailedLoginCount: 3})
	now := time.Now()
	if err := r.SetPassword(ctx, "u1", "new", now); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	u, _ := r.GetByID(ctx, "u1")
	if u.PasswordHash != "new" || u.LockedUntil != nil || u.FailedLoginCount != 0 || u.PasswordChangedAt == nil {
		t.Errorf("user after SetPassword = %+v", u)
	}
}

func TestMemory_RecoveryCodes(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	_ = r.ReplaceRecoveryCodes(ctx, "u1", []string{"a", "b"}, now)
	ok, _ := r.ConsumeRecoveryCode(ctx, "u1", "a", now)
	if !ok {
		t.Fatal("first consume should succeed")
	}
	ok, _ = r.ConsumeRecoveryCode(ctx, "u1", "a", now)
	if ok {
		t.Fatal("second consume of same code should fail")
	}
	if n := r.UnusedRecoveryCodes("u1"); n != 1 {
		t.Errorf("UnusedRecoveryCodes = %d, want 1", n)
	}
	_ = r.DeleteRecoveryCodes(ctx, "u1")
	if n := r.UnusedRecoveryCodes("u1"); n != 0 {
		t.Errorf("after delete = %d", n)
	}
}
