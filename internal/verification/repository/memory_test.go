package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/verification/domain"
)

func newToken(id, userID string, typ domain.TokenType, created time.Time) *domain.Token {
	return &domain.Token{
		ID: id, UserID: userID, Type: typ, TokenHash: "hash-" + id,
		ExpiresAt: created.Add(time.Hour), MaxAttempts: 5, CreatedAt: created,
	}
}

func TestMemory_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now().UTC()
	if err := repo.Create(ctx, newToken("t1", "u1", domain.TypePasswordReset, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, newToken("t1", "u1", domain.TypePasswordReset, now)); !errors.Is(err, db.ErrConflict) {
		t.Fatalf("duplicate Create: err = %v, want ErrConflict", err)
	}

	got, err := repo.Find(ctx, Query{TokenHash: "hash-t1"})
	if err != nil || got == nil || got.ID != "t1" {
		t.Fatalf("Find by hash = %+v, %v", got, err)
	}
	got, err = repo.Find(ctx, Query{TokenHash: "hash-t1", Type: domain.TypeEmailVerification})
	if err != nil || got != nil {
		t.Fatalf("Find with wrong type = %+v, %v; want nil", got, err)
	}
	got, err = repo.Find(ctx, Query{TokenHash: "nope"})
	if err != nil || got != nil {
		t.Fatalf("Find missing = %+v, %v", got, err)
	}
}

func TestMemory_MarkUsedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now().UTC()
	_ = repo.Create(ctx, newToken("t1", "u1", domain.TypeEmailVerification, now))

	first := now.Add(time.Minute)
	changed, err := repo.MarkUsed(ctx, "t1", first)
	if err != nil || !changed {
		t.Fatalf("first MarkUsed = %v, %v", changed, err)
	}
	changed, err = repo.MarkUsed(ctx, "t1", first.Add(time.Minute))
	if err != nil || changed {
		t.Fatalf("second MarkUsed = %v, %v; want false, nil", changed, err)
	}
	tok, _ := repo.Find(ctx, Query{ID: "t1"})
	if tok.UsedAt == nil || !tok.UsedAt.Equal(first) {
		t.Errorf("UsedAt = %v, want %v", tok.UsedAt, first)
	}
}

func TestMemory_InvalidateAllOnlyTouchesLiveTokensOfType(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now().UTC()
	_ = repo.Create(ctx, newToken("a", "u1", domain.TypePasswordReset, now))
	_ = repo.Create(ctx, newToken("b", "u1", domain.TypePasswordReset, now))
	_ = repo.Create(ctx, newToken("c", "u1", domain.TypeEmailVerification, now))
	_ = repo.Create(ctx, newToken("d", "u2", domain.TypePasswordReset, now))
	_, _ = repo.MarkUsed(ctx, "b", now)

	n, err := repo.InvalidateAll(ctx, "u1", domain.TypePasswordReset, now)
	if err != nil || n != 1 {
		t.Fatalf("InvalidateAll = %d, %v; want 1", n, err)
	}
	usable, _ := repo.List(ctx, Query{UserID: "u1", UsableAt: &now})
	if len(usable) != 1 || usable[0].ID != "c" {
		t.Errorf("usable tokens = %v", usable)
	}
	other, _ := repo.Find(ctx, Query{ID: "d"})
	if other.InvalidatedAt != nil {
		t.Error("other user's token must not be invalidated")
	}
}

func TestMemory_IncrementAttemptsConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Create(ctx, newToken("t1", "u1", domain.TypeTwoFactor, time.Now()))

	const workers = 20
	seen := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := repo.IncrementAttempts(ctx, "t1")
			if err != nil {
				t.Errorf("IncrementAttempts: %v", err)
			}
			seen <- n
		}()
	}
	wg.Wait()
	close(seen)
	counts := make(map[int]bool)
	for n := range seen {
		if counts[n] {
			t.Fatalf("count %d returned twice", n)
		}
		counts[n] = true
	}
	tok, _ := repo.Find(ctx, Query{ID: "t1"})
	if tok.Attempts != workers {
		t.Errorf("Attempts = %d, want %d", tok.Attempts, workers)
	}
	if n, _ := repo.IncrementAttempts(ctx, "missing"); n != 0 {
		t.Errorf("missing token increment = %d, want 0", n)
	}
}

func TestMemory_Cleanup(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now().UTC()
	expired := newToken("old", "u1", domain.TypeEmailVerification, now.Add(-2*time.Hour))
	_ = repo.Create(ctx, expired)
	_ = repo.Create(ctx, newToken("used", "u1", domain.TypePasswordReset, now))
	_ = repo.Create(ctx, newToken("live", "u1", domain.TypeTwoFactor, now))
	_, _ = repo.MarkUsed(ctx, "used", now.Add(-48*time.Hour))

	n, err := repo.DeleteExpired(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired = %d, %v", n, err)
	}
	n, err = repo.DeleteUsedBefore(ctx, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteUsedBefore = %d, %v", n, err)
	}
	all, _ := repo.List(ctx, Query{UserID: "u1"})
	if len(all) != 1 || all[0].ID != "live" {
		t.Errorf("remaining = %v", all)
	}
}
