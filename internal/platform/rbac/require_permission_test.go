package rbac

import (
	"context"
	"errors"
	"testing"

	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/server/interceptors"
)

// mockChecker implements PermissionChecker for tests.
type mockChecker struct {
	grants map[string]bool
	err    error
}

func (m *mockChecker) HasPermission(ctx context.Context, userID, perm, orgID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.grants[userID+":"+orgID+":"+perm], nil
}

func TestRequirePermission_Granted(t *testing.T) {
	checker := &mockChecker{grants: map[string]bool{"user-1:org-1:roles:manage": true}}
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "org-1", "session-1")

	orgID, userID, err := RequirePermission(ctx, checker, "roles:manage")
	if err != nil {
		t.Fatalf("RequirePermission: %v", err)
	}
	if orgID != "org-1" {
		t.Errorf("org_id = %q, want %q", orgID, "org-1")
	}
	if userID != "user-1" {
		t.Errorf("user_id = %q, want %q", userID, "user-1")
	}
}

func TestRequirePermission_Denied(t *testing.T) {
	checker := &mockChecker{grants: map[string]bool{"user-1:org-2:roles:manage": true}}
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "org-1", "session-1")

	_, _, err := RequirePermission(ctx, checker, "roles:manage")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if autherr.KindOf(err) != autherr.Unauthorized {
		t.Errorf("kind = %v, want unauthorized", autherr.KindOf(err))
	}
}

func TestRequirePermission_NoIdentity(t *testing.T) {
	_, _, err := RequirePermission(context.Background(), &mockChecker{}, "roles:manage")
	if err == nil {
		t.Fatal("expected error without identity")
	}
	if errors.Is(err, ErrPermissionDenied) {
		t.Error("missing identity must not be reported as permission denied")
	}
	if autherr.KindOf(err) != autherr.Unauthorized {
		t.Errorf("kind = %v, want unauthorized", autherr.KindOf(err))
	}
}

func TestRequirePermission_CheckerError(t *testing.T) {
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "org-1", "session-1")
	_, _, err := RequirePermission(ctx, &mockChecker{err: errors.New("db down")}, "roles:manage")
	if autherr.KindOf(err) != autherr.Internal {
		t.Errorf("kind = %v, want internal", autherr.KindOf(err))
	}
}
