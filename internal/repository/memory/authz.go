package memory

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
)

var (
	_ authz.Source = (*AuthzRepo)(nil)
	_ authz.Admin  = (*AuthzRepo)(nil)
)

type AuthzRepo struct {
	s     *Store
	loads atomic.Int64
}

func NewAuthzRepo(s *Store) *AuthzRepo { return &AuthzRepo{s: s} }

// Loads reports how many times a principal was read from the source.
func (r *AuthzRepo) Loads() int64 { return r.loads.Load() }

func (r *AuthzRepo) AddRole(name string) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := r.s.id()
	r.s.st.roles[id] = roleRow{name: name, active: true}
	return id
}

// SetRoleState toggles the active and deleted flags of a role.
func (r *AuthzRepo) SetRoleState(id int64, active, deleted bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row := r.s.st.roles[id]
	row.active, row.deleted = active, deleted
	r.s.st.roles[id] = row
}

func (r *AuthzRepo) AddForm(module, form string) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := r.s.id()
	r.s.st.forms[id] = formRow{module: module, name: form}
	return id
}

func (r *AuthzRepo) AddPermission(name string) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := r.s.id()
	r.s.st.perms[id] = name
	return id
}

func (r *AuthzRepo) LoadPrincipal(ctx context.Context, id int64) (*authz.Principal, error) {
	r.loads.Add(1)
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &authz.Principal{
		ID:       u.ID,
		PersonID: u.PersonID,
		FullName: u.FullName,
		Email:    u.Email,
		Active:   u.Active,
	}, nil
}

func (r *AuthzRepo) ActiveRoles(ctx context.Context, principalID int64) ([]authz.Role, error) {
	defer r.s.lock(ctx)()
	var out []authz.Role
	for roleID := range r.s.st.userRoles[principalID] {
		row, ok := r.s.st.roles[roleID]
		if !ok || !row.active || row.deleted {
			continue
		}
		out = append(out, authz.Role{ID: roleID, Name: row.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *AuthzRepo) Grants(ctx context.Context, roleIDs []int64) ([]authz.Grant, error) {
	defer r.s.lock(ctx)()
	want := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		want[id] = struct{}{}
	}
	var out []authz.Grant
	for _, l := range r.s.st.links {
		if _, ok := want[l.roleID]; !ok || !l.active || l.deleted {
			continue
		}
		f, ok := r.s.st.forms[l.formID]
		if !ok {
			continue
		}
		out = append(out, authz.Grant{
			RoleID:     l.roleID,
			Module:     f.module,
			Form:       f.name,
			Permission: r.s.st.perms[l.permID],
		})
	}
	return out, nil
}

func (r *AuthzRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	set, ok := r.s.st.userRoles[userID]
	if !ok {
		set = make(map[int64]struct{})
		r.s.st.userRoles[userID] = set
	}
	set[roleID] = struct{}{}
	return nil
}

func (r *AuthzRepo) UnassignRole(ctx context.Context, userID, roleID int64) error {
	defer r.s.lock(ctx)()
	delete(r.s.st.userRoles[userID], roleID)
	return nil
}

func (r *AuthzRepo) ReplaceGrants(ctx context.Context, roleID int64, grants []authz.GrantRef) error {
	defer r.s.lock(ctx)()
	if row, ok := r.s.st.roles[roleID]; !ok || row.deleted {
		return auth.ErrNotFound
	}
	for i := range r.s.st.links {
		if r.s.st.links[i].roleID == roleID {
			r.s.st.links[i].active = false
			r.s.st.links[i].deleted = true
		}
	}
	for _, g := range grants {
		found := false
		for i := range r.s.st.links {
			l := &r.s.st.links[i]
			if l.roleID == roleID && l.formID == g.FormID && l.permID == g.PermissionID {
				l.active, l.deleted = true, false
				found = true
				break
			}
		}
		if !found {
			r.s.st.links = append(r.s.st.links, linkRow{
				roleID: roleID, formID: g.FormID, permID: g.PermissionID, active: true,
			})
		}
	}
	return nil
}

func (r *AuthzRepo) RoleMembers(ctx context.Context, roleID int64) ([]int64, error) {
	defer r.s.lock(ctx)()
	var out []int64
	for userID, set := range r.s.st.userRoles {
		if _, ok := set[roleID]; ok {
			out = append(out, userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
