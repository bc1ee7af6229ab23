package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"practice-portal/auth/internal/audit/domain"
)

func TestMemory_ListByOrgNewestFirst(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	base := time.Now().UTC()
	for i, action := range []string{domain.ActionRegister, domain.ActionLoginFailure, domain.ActionLoginSuccess} {
		_ = r.Create(ctx, &domain.AuditLog{ID: action, OrgID: "org-1", UserID: "u1", Action: action, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	_ = r.Create(ctx, &domain.AuditLog{ID: "other", OrgID: "org-2", Action: domain.ActionRegister})

	list, _ := r.ListByOrg(ctx, "org-1", Filter{})
	if len(list) != 3 || list[0].Action != domain.ActionLoginSuccess {
		t.Fatalf("list = %+v", list)
	}
	list, _ = r.ListByOrg(ctx, "org-1", Filter{Action: domain.ActionLoginFailure})
	if len(list) != 1 {
		t.Errorf("filtered = %d entries", len(list))
	}
	list, _ = r.ListByOrg(ctx, "org-1", Filter{Limit: 1, Offset: 1})
	if len(list) != 1 || list[0].Action != domain.ActionLoginFailure {
		t.Errorf("paged = %+v", list)
	}
}

func TestPostgres_CreateAndList(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()
	r := NewPostgresRepository(sqlDB)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("a1", "org-1", nil, domain.ActionLoginFailure, domain.ResourceUser, "10.0.0.1", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = r.Create(context.Background(), &domain.AuditLog{ID: "a1", OrgID: "org-1", Action: domain.ActionLoginFailure,
		Resource: domain.ResourceUser, IP: "10.0.0.1", CreatedAt: now})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	mock.ExpectQuery("FROM audit_logs WHERE org_id = \\$1 AND user_id = \\$2 ORDER BY created_at DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("org-1", "u1", 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "user_id", "action", "resource", "ip", "metadata", "created_at"}).
			AddRow("a2", "org-1", "u1", domain.ActionLogout, domain.ResourceSession, "10.0.0.1", nil, now))
	list, err := r.ListByOrg(context.Background(), "org-1", Filter{UserID: "u1"})
	if err != nil || len(list) != 1 || list[0].UserID != "u1" {
		t.Fatalf("ListByOrg = %+v, %v", list, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
