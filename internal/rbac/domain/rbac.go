package domain

import (
	"errors"
	"strings"
	"time"
)

// Role is a named bundle of permissions (e.g. "doctor", "receptionist").
type Role struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// UserRole assigns a role to a user. OrgID "" makes the assignment global:
// it applies in every organization. Revocation deactivates the row.
type UserRole struct {
	ID        string
	UserID    string
	RoleID    string
	OrgID     string
	Active    bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

// AccessPermission grants Action on Resource to a role.
type AccessPermission struct {
	ID        string
	RoleID    string
	Resource  string
	Action    string
	Active    bool
	CreatedAt time.Time
}

// Permission is the "resource:action" form of a grant.
func (p AccessPermission) Permission() string {
	return p.Resource + ":" + p.Action
}

// ErrInvalidPermission is returned for strings not of the form "resource:action".
var ErrInvalidPermission = errors.New("permission must be resource:action")

// ParsePermission splits "resource:action". Both parts must be non-empty.
func ParsePermission(s string) (resource, action string, err error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return "", "", ErrInvalidPermission
	}
	return resource, action, nil
}
