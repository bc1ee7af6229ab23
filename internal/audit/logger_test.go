package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"practice-portal/auth/internal/audit/domain"
	auditrepo "practice-portal/auth/internal/audit/repository"
)

type failingRepo struct{}

func (failingRepo) Create(context.Context, *domain.AuditLog) error { return errors.New("db down") }
func (failingRepo) ListByOrg(context.Context, string, auditrepo.Filter) ([]*domain.AuditLog, error) {
	return nil, nil
}

func TestLogger_LogEvent(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo, func(context.Context) string { return "192.0.2.1" }, zerolog.Nop())
	ctx := context.Background()

	l.LogEvent(ctx, "org-1", "u1", domain.ActionLoginSuccess, domain.ResourceUser, "")
	l.LogEvent(ctx, "", "", domain.ActionLoginFailure, domain.ResourceUser, "unknown_email")

	got, _ := repo.ListByOrg(ctx, "org-1", auditrepo.Filter{})
	if len(got) != 1 || got[0].IP != "192.0.2.1" || got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("org-1 entries = %+v", got)
	}
	sys, _ := repo.ListByOrg(ctx, SentinelOrgID, auditrepo.Filter{})
	if len(sys) != 1 || sys[0].Metadata != "unknown_email" {
		t.Fatalf("system entries = %+v", sys)
	}
}

func TestLogger_NoExtractorRecordsUnknown(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	NewLogger(repo, nil, zerolog.Nop()).LogEvent(context.Background(), "org-1", "u1", domain.ActionLogout, domain.ResourceSession, "")
	got, _ := repo.ListByOrg(context.Background(), "org-1", auditrepo.Filter{})
	if len(got) != 1 || got[0].IP != "unknown" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestLogger_RepoErrorIsSwallowed(t *testing.T) {
	l := NewLogger(failingRepo{}, nil, zerolog.Nop())
	l.LogEvent(context.Background(), "org-1", "u1", domain.ActionLogout, domain.ResourceSession, "")
	var nilLogger *Logger
	nilLogger.LogEvent(context.Background(), "", "", "", "", "")
}

type captureSink struct{ got []*domain.AuditLog }

func (c *captureSink) Emit(_ context.Context, a *domain.AuditLog) { c.got = append(c.got, a) }

func TestLogger_ForwardsToSink(t *testing.T) {
	sink := &captureSink{}
	l := NewLogger(auditrepo.NewMemoryRepository(), nil, zerolog.Nop()).WithSink(sink)
	l.LogEvent(context.Background(), "org-1", "u1", domain.ActionPasswordChange, domain.ResourceUser, "")
	if len(sink.got) != 1 || sink.got[0].Action != domain.ActionPasswordChange {
		t.Fatalf("sink got %+v", sink.got)
	}
}
