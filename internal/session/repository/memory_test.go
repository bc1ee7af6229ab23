package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/session/domain"
)

func newSession(id, userID string, created time.Time) *domain.Session {
	return &domain.Session{
		ID:               id,
		UserID:           userID,
		OrgID:            "org-1",
		SessionTokenHash: "st-" + id,
		RefreshTokenHash: "rt-" + id,
		AccessJTI:        "jti-" + id,
		Active:           true,
		CreatedAt:        created,
		ExpiresAt:        created.Add(24 * time.Hour),
	}
}

func TestMemory_GetByEachKey(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	if err := r.Create(ctx, newSession("s1", "u1", now)); err != nil {
		t.Fatal(err)
	}
	for _, l := range []Lookup{{ID: "s1"}, {SessionTokenHash: "st-s1"}, {RefreshTokenHash: "rt-s1"}} {
		s, err := r.Get(ctx, l)
		if err != nil || s == nil || s.ID != "s1" {
			t.Errorf("Get(%+v) = %v, %v", l, s, err)
		}
	}
	if s, _ := r.Get(ctx, Lookup{RefreshTokenHash: "nope"}); s != nil {
		t.Error("unknown refresh hash should return nil")
	}
	if _, err := r.Get(ctx, Lookup{}); err == nil {
		t.Error("empty lookup should error")
	}
	if err := r.Create(ctx, newSession("s1", "u1", now)); !errors.Is(err, db.ErrConflict) {
		t.Errorf("duplicate create: want ErrConflict, got %v", err)
	}
}

func TestMemory_DeactivateIsMonotonic(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	_ = r.Create(ctx, newSession("s1", "u1", now))

	s, err := r.Deactivate(ctx, "s1", domain.ReasonLogout, now)
	if err != nil || s == nil || s.Active || s.RevokeReason != domain.ReasonLogout {
		t.Fatalf("first Deactivate = %+v, %v", s, err)
	}
	s, err = r.Deactivate(ctx, "s1", domain.ReasonTerminated, now)
	if err != nil || s != nil {
		t.Fatalf("second Deactivate should be a no-op, got %+v, %v", s, err)
	}
	ok, _ := r.RotateRefreshToken(ctx, Rotation{SessionID: "s1", OldHash: "rt-s1", NewHash: "rt-new", Now: now})
	if ok {
		t.Fatal("rotation on a deactivated session must fail")
	}
	got, _ := r.Get(ctx, Lookup{ID: "s1"})
	if got.Active || got.RevokeReason != domain.ReasonLogout {
		t.Errorf("session reactivated or reason overwritten: %+v", got)
	}
}

func TestMemory_ConcurrentLogoutAndRotate(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := NewMemoryRepository()
		ctx := context.Background()
		now := time.Now()
		_ = r.Create(ctx, newSession("s1", "u1", now))

		var wg sync.WaitGroup
		var logouts, rotations atomic.Int32
		wg.Add(3)
		go func() {
			defer wg.Done()
			if s, _ := r.Deactivate(ctx, "s1", domain.ReasonLogout, now); s != nil {
				logouts.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if s, _ := r.Deactivate(ctx, "s1", domain.ReasonLogout, now); s != nil {
				logouts.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if ok, _ := r.RotateRefreshToken(ctx, Rotation{SessionID: "s1", OldHash: "rt-s1", NewHash: "rt-2", Now: now}); ok {
				rotations.Add(1)
			}
		}()
		wg.Wait()

		if logouts.Load() != 1 {
			t.Fatalf("exactly one logout should win, got %d", logouts.Load())
		}
		got, _ := r.Get(ctx, Lookup{ID: "s1"})
		if got.Active {
			t.Fatal("session must end deactivated")
		}
	}
}

func TestMemory_RotateRefreshToken_CAS(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	_ = r.Create(ctx, newSession("s1", "u1", now))

	ok, _ := r.RotateRefreshToken(ctx, Rotation{SessionID: "s1", OldHash: "rt-s1", NewHash: "rt-2", AccessJTI: "jti-2", Now: now})
	if !ok {
		t.Fatal("first rotation should apply")
	}
	ok, _ = r.RotateRefreshToken(ctx, Rotation{SessionID: "s1", OldHash: "rt-s1", NewHash: "rt-3", Now: now})
	if ok {
		t.Fatal("reusing the old hash must not apply")
	}
	s, _ := r.Get(ctx, Lookup{RefreshTokenHash: "rt-2"})
	if s == nil || s.AccessJTI != "jti-2" || s.LastSeenAt == nil {
		t.Fatalf("rotated session = %+v", s)
	}
	ok, _ = r.RotateRefreshToken(ctx, Rotation{SessionID: "s1", OldHash: "rt-2", NewHash: "rt-3", Now: now.Add(25 * time.Hour)})
	if ok {
		t.Fatal("rotation after expiry must not apply")
	}
}

func TestMemory_DeactivateAllExcept(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	_ = r.Create(ctx, newSession("s1", "u1", now))
	_ = r.Create(ctx, newSession("s2", "u1", now.Add(time.Second)))
	_ = r.Create(ctx, newSession("s3", "u1", now.Add(2*time.Second)))
	_ = r.Create(ctx, newSession("s4", "u2", now))

	ended, err := r.DeactivateAll(ctx, "u1", "s2", domain.ReasonPasswordChange, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(ended) != 2 {
		t.Fatalf("ended = %d, want 2", len(ended))
	}
	active, _ := r.List(ctx, Filter{UserID: "u1", ActiveOnly: true})
	if len(active) != 1 || active[0].ID != "s2" {
		t.Errorf("remaining active = %+v", active)
	}
	other, _ := r.Get(ctx, Lookup{ID: "s4"})
	if !other.Active {
		t.Error("other user's session must stay active")
	}
	again, _ := r.DeactivateAll(ctx, "u1", "s2", domain.ReasonPasswordChange, now)
	if len(again) != 0 {
		t.Errorf("repeat DeactivateAll should end nothing, got %d", len(again))
	}
}

func TestMemory_ListAndExpire(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	old := newSession("old", "u1", now.Add(-48*time.Hour))
	_ = r.Create(ctx, old)
	_ = r.Create(ctx, newSession("new", "u1", now))

	expired, _ := r.List(ctx, Filter{ExpiredBefore: &now, ActiveOnly: true})
	if len(expired) != 1 || expired[0].ID != "old" {
		t.Fatalf("expired = %+v", expired)
	}
	all, _ := r.List(ctx, Filter{UserID: "u1"})
	if len(all) != 2 || all[0].ID != "new" {
		t.Fatalf("List should be newest first: %+v", all)
	}
	page, _ := r.List(ctx, Filter{UserID: "u1", Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != "old" {
		t.Fatalf("page = %+v", page)
	}

	ended, _ := r.DeactivateExpired(ctx, now)
	if len(ended) != 1 || ended[0].ID != "old" || ended[0].RevokeReason != domain.ReasonExpired {
		t.Fatalf("DeactivateExpired = %+v", ended)
	}
	ended, _ = r.DeactivateExpired(ctx, now)
	if len(ended) != 0 {
		t.Fatalf("second sweep should be empty, got %d", len(ended))
	}
}
