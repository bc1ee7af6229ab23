package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/ids"
	"practice-portal/auth/internal/rbac/domain"
	"practice-portal/auth/internal/rbac/repository"
	userdomain "practice-portal/auth/internal/user/domain"
)

// UserGetter loads users for the active/lockout gate.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Grants is the resolved role and permission set for one user in one org.
type Grants struct {
	Roles       []string
	Permissions []string
}

// Has reports whether perm is in the set.
func (g Grants) Has(perm string) bool {
	i := sort.SearchStrings(g.Permissions, perm)
	return i < len(g.Permissions) && g.Permissions[i] == perm
}

type cacheKey struct{ userID, orgID string }

type cacheEntry struct {
	grants  Grants
	gen     repository.Generation
	expires time.Time
}

// Resolver resolves a user's roles and the union of their permissions per
// organization. Results are cached for ttl and stamped with the generation
// read before loading; every edit made through the Resolver advances the
// generation before it returns, so resolvers sharing a GenerationStore stop
// serving the old grants at once.
type Resolver struct {
	repo  repository.Repository
	users UserGetter
	gens  repository.GenerationStore
	ttl   time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// NewResolver returns a Resolver with process-local generations. ttl <= 0
// disables caching.
func NewResolver(repo repository.Repository, users UserGetter, ttl time.Duration) *Resolver {
	return &Resolver{
		repo:  repo,
		users: users,
		gens:  repository.NewMemoryGenerations(),
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[cacheKey]cacheEntry),
	}
}

// WithGenerations shares cache generations with other resolvers, typically
// a RedisGenerations when several API replicas run.
func (r *Resolver) WithGenerations(gens repository.GenerationStore) *Resolver {
	r.gens = gens
	return r
}

// WithClock overrides the time source for lockout checks and cache expiry.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// IsUserActive reports whether the user exists and is active.
func (r *Resolver) IsUserActive(ctx context.Context, userID string) (bool, error) {
	u, err := r.users.GetByID(ctx, userID)
	if err != nil || u == nil {
		return false, err
	}
	return u.Active, nil
}

// IsUserLockedOut reports whether a lockout is in force for the user.
func (r *Resolver) IsUserLockedOut(ctx context.Context, userID string) (bool, error) {
	u, err := r.users.GetByID(ctx, userID)
	if err != nil || u == nil {
		return false, err
	}
	return u.IsLockedOut(r.now()), nil
}

// GetActiveRoles returns the names of roles actively assigned to the user in
// orgID or globally.
func (r *Resolver) GetActiveRoles(ctx context.Context, userID, orgID string) ([]string, error) {
	g, err := r.grants(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	return g.Roles, nil
}

// GetPermissions returns the sorted union of permissions over the user's
// active roles. Inactive or locked-out users resolve to none.
func (r *Resolver) GetPermissions(ctx context.Context, userID, orgID string) ([]string, error) {
	g, err := r.Resolve(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	return g.Permissions, nil
}

// HasPermission reports whether the user holds perm in orgID.
func (r *Resolver) HasPermission(ctx context.Context, userID, perm, orgID string) (bool, error) {
	g, err := r.Resolve(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	return g.Has(perm), nil
}

// Resolve returns roles and permissions after the active/lockout gate. A user
// who fails the gate gets an empty Grants and no error.
func (r *Resolver) Resolve(ctx context.Context, userID, orgID string) (Grants, error) {
	u, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return Grants{}, err
	}
	if u == nil || !u.CanAuthenticate(r.now()) {
		return Grants{}, nil
	}
	return r.grants(ctx, userID, orgID)
}

func (r *Resolver) grants(ctx context.Context, userID, orgID string) (Grants, error) {
	key := cacheKey{userID, orgID}
	cacheable := r.ttl > 0
	var gen repository.Generation
	if cacheable {
		var err error
		// Without a readable generation the load still happens, uncached.
		if gen, err = r.gens.Current(ctx, userID); err != nil {
			cacheable = false
		} else {
			r.mu.RLock()
			e, ok := r.cache[key]
			r.mu.RUnlock()
			if ok && e.gen == gen && r.now().Before(e.expires) {
				return e.grants, nil
			}
		}
	}

	roles, err := r.repo.ListActiveRoles(ctx, userID, orgID)
	if err != nil {
		return Grants{}, err
	}
	g := Grants{Roles: make([]string, 0, len(roles))}
	roleIDs := make([]string, 0, len(roles))
	for _, role := range roles {
		g.Roles = append(g.Roles, role.Name)
		roleIDs = append(roleIDs, role.ID)
	}
	perms, err := r.repo.ListPermissions(ctx, roleIDs)
	if err != nil {
		return Grants{}, err
	}
	seen := make(map[string]bool, len(perms))
	g.Permissions = make([]string, 0, len(perms))
	for _, p := range perms {
		s := p.Permission()
		if !seen[s] {
			seen[s] = true
			g.Permissions = append(g.Permissions, s)
		}
	}
	sort.Strings(g.Roles)
	sort.Strings(g.Permissions)

	if cacheable {
		r.mu.Lock()
		r.cache[key] = cacheEntry{grants: g, gen: gen, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return g, nil
}

// AssignRole grants roleName to the user in orgID ("" for global).
func (r *Resolver) AssignRole(ctx context.Context, userID, roleName, orgID string) error {
	const op = "rbac.AssignRole"
	role, err := r.roleByName(ctx, op, roleName)
	if err != nil {
		return err
	}
	err = r.repo.AssignRole(ctx, &domain.UserRole{
		ID:        ids.NewID(),
		UserID:    userID,
		RoleID:    role.ID,
		OrgID:     orgID,
		Active:    true,
		CreatedAt: r.now().UTC(),
	})
	if ierr := r.invalidateUser(ctx, op, userID); ierr != nil && err == nil {
		return ierr
	}
	switch {
	case errors.Is(err, db.ErrConflict):
		return autherr.New(autherr.Conflict, op)
	case errors.Is(err, db.ErrReference):
		return autherr.New(autherr.NotFound, op)
	case err != nil:
		return autherr.Wrap(autherr.Internal, op, err)
	}
	return nil
}

// RevokeRole deactivates the user's assignment of roleName in orgID.
func (r *Resolver) RevokeRole(ctx context.Context, userID, roleName, orgID string) error {
	const op = "rbac.RevokeRole"
	role, err := r.roleByName(ctx, op, roleName)
	if err != nil {
		return err
	}
	changed, err := r.repo.DeactivateAssignment(ctx, userID, role.ID, orgID, r.now().UTC())
	if ierr := r.invalidateUser(ctx, op, userID); ierr != nil && err == nil {
		return ierr
	}
	if err != nil {
		return autherr.Wrap(autherr.Internal, op, err)
	}
	if !changed {
		return autherr.New(autherr.NotFound, op)
	}
	return nil
}

// GrantPermission grants "resource:action" to roleName.
func (r *Resolver) GrantPermission(ctx context.Context, roleName, perm string) error {
	const op = "rbac.GrantPermission"
	resource, action, err := domain.ParsePermission(perm)
	if err != nil {
		return autherr.Invalid(op, err.Error())
	}
	role, err := r.roleByName(ctx, op, roleName)
	if err != nil {
		return err
	}
	err = r.repo.GrantPermission(ctx, &domain.AccessPermission{
		ID:        ids.NewID(),
		RoleID:    role.ID,
		Resource:  resource,
		Action:    action,
		Active:    true,
		CreatedAt: r.now().UTC(),
	})
	if ierr := r.invalidateAll(ctx, op); ierr != nil && err == nil {
		return ierr
	}
	if errors.Is(err, db.ErrConflict) {
		return autherr.New(autherr.Conflict, op)
	}
	if err != nil {
		return autherr.Wrap(autherr.Internal, op, err)
	}
	return nil
}

// RevokePermission removes "resource:action" from roleName.
func (r *Resolver) RevokePermission(ctx context.Context, roleName, perm string) error {
	const op = "rbac.RevokePermission"
	resource, action, err := domain.ParsePermission(perm)
	if err != nil {
		return autherr.Invalid(op, err.Error())
	}
	role, err := r.roleByName(ctx, op, roleName)
	if err != nil {
		return err
	}
	changed, err := r.repo.DeactivatePermission(ctx, role.ID, resource, action)
	if ierr := r.invalidateAll(ctx, op); ierr != nil && err == nil {
		return ierr
	}
	if err != nil {
		return autherr.Wrap(autherr.Internal, op, err)
	}
	if !changed {
		return autherr.New(autherr.NotFound, op)
	}
	return nil
}

func (r *Resolver) roleByName(ctx context.Context, op, name string) (*domain.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, autherr.Invalid(op, "role is required")
	}
	role, err := r.repo.GetRoleByName(ctx, name)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if role == nil {
		return nil, autherr.New(autherr.NotFound, op)
	}
	return role, nil
}

// invalidateUser advances the user's generation, which retires every cached
// org view for userID since a global assignment changes all of them.
func (r *Resolver) invalidateUser(ctx context.Context, op, userID string) error {
	r.mu.Lock()
	for k := range r.cache {
		if k.userID == userID {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
	if err := r.gens.BumpUser(ctx, userID); err != nil {
		return autherr.Wrap(autherr.Internal, op, err)
	}
	return nil
}

func (r *Resolver) invalidateAll(ctx context.Context, op string) error {
	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
	if err := r.gens.BumpAll(ctx); err != nil {
		return autherr.Wrap(autherr.Internal, op, err)
	}
	return nil
}
