package repository

import (
	"context"

	"practice-portal/auth/internal/audit/domain"
)

// Filter narrows ListByOrg. Empty fields do not filter.
type Filter struct {
	UserID string
	Action string
	Limit  int
	Offset int
}

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByOrg returns entries for orgID, newest first.
	ListByOrg(ctx context.Context, orgID string, f Filter) ([]*domain.AuditLog, error)
}
