package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/rbac/domain"
)

// MemoryRepository is an in-process Repository for development mode and tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	roles       map[string]*domain.Role // by id
	assignments []*domain.UserRole
	permissions []*domain.AccessPermission
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{roles: make(map[string]*domain.Role)}
}

func (r *MemoryRepository) CreateRole(_ context.Context, role *domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return db.ErrConflict
		}
	}
	c := *role
	r.roles[role.ID] = &c
	return nil
}

func (r *MemoryRepository) GetRoleByName(_ context.Context, name string) (*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.Name == name {
			c := *role
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListRoles(_ context.Context) ([]*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		c := *role
		out = append(out, &c)
	}
	sortRoles(out)
	return out, nil
}

func (r *MemoryRepository) ListActiveRoles(_ context.Context, userID, orgID string) ([]*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []*domain.Role
	for _, a := range r.assignments {
		if !a.Active || a.UserID != userID || (a.OrgID != orgID && a.OrgID != "") {
			continue
		}
		role, ok := r.roles[a.RoleID]
		if !ok || seen[role.ID] {
			continue
		}
		seen[role.ID] = true
		c := *role
		out = append(out, &c)
	}
	sortRoles(out)
	return out, nil
}

func (r *MemoryRepository) AssignRole(_ context.Context, ur *domain.UserRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[ur.RoleID]; !ok {
		return db.ErrReference
	}
	for _, a := range r.assignments {
		if a.Active && a.UserID == ur.UserID && a.RoleID == ur.RoleID && a.OrgID == ur.OrgID {
			return db.ErrConflict
		}
	}
	c := *ur
	c.Active = true
	r.assignments = append(r.assignments, &c)
	return nil
}

func (r *MemoryRepository) DeactivateAssignment(_ context.Context, userID, roleID, orgID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, a := range r.assignments {
		if a.Active && a.UserID == userID && a.RoleID == roleID && a.OrgID == orgID {
			a.Active = false
			t := at
			a.RevokedAt = &t
			changed = true
		}
	}
	return changed, nil
}

func (r *MemoryRepository) ListPermissions(_ context.Context, roleIDs []string) ([]*domain.AccessPermission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		want[id] = true
	}
	var out []*domain.AccessPermission
	for _, p := range r.permissions {
		if p.Active && want[p.RoleID] {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GrantPermission(_ context.Context, p *domain.AccessPermission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[p.RoleID]; !ok {
		return db.ErrReference
	}
	for _, existing := range r.permissions {
		if existing.Active && existing.RoleID == p.RoleID && existing.Resource == p.Resource && existing.Action == p.Action {
			return db.ErrConflict
		}
	}
	c := *p
	c.Active = true
	r.permissions = append(r.permissions, &c)
	return nil
}

func (r *MemoryRepository) DeactivatePermission(_ context.Context, roleID, resource, action string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, p := range r.permissions {
		if p.Active && p.RoleID == roleID && p.Resource == resource && p.Action == action {
			p.Active = false
			changed = true
		}
	}
	return changed, nil
}

func sortRoles(rs []*domain.Role) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Name < rs[j].Name })
}
