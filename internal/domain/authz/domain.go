package authz

import (
	"errors"
	"sort"
	"strings"
)

var ErrInactivePrincipal = errors.New("principal is inactive")

// Context is the materialized authorization graph of a principal.
type Context struct {
	ID        int64    `json:"id"`
	PersonID  *int64   `json:"person_id,omitempty"`
	FullName  string   `json:"full_name"`
	Email     string   `json:"email"`
	RoleNames []string `json:"roles"`
	// Menu maps module name to form name to normalized permission names.
	Menu map[string]map[string][]string `json:"menu"`
}

// Can reports whether any of the principal's roles grants permission on form.
func (c *Context) Can(module, form, permission string) bool {
	forms, ok := c.Menu[module]
	if !ok {
		return false
	}
	want := NormalizePermission(permission)
	for _, p := range forms[form] {
		if p == want {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so cached snapshots are never shared mutably.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	if c.PersonID != nil {
		pid := *c.PersonID
		out.PersonID = &pid
	}
	out.RoleNames = append([]string(nil), c.RoleNames...)
	out.Menu = make(map[string]map[string][]string, len(c.Menu))
	for m, forms := range c.Menu {
		fc := make(map[string][]string, len(forms))
		for f, perms := range forms {
			fc[f] = append([]string(nil), perms...)
		}
		out.Menu[m] = fc
	}
	return &out
}

type Principal struct {
	ID       int64
	PersonID *int64
	FullName string
	Email    string
	Active   bool
}

type Role struct {
	ID   int64
	Name string
}

// Grant is one active role-form-permission link joined with its names.
type Grant struct {
	RoleID     int64
	Module     string
	Form       string
	Permission string
}

// GrantRef identifies a form/permission pair by id when replacing a role's grants.
type GrantRef struct {
	FormID       int64 `json:"form_id"`
	PermissionID int64 `json:"permission_id"`
}

func NormalizePermission(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// BuildMenu derives module -> form -> permissions from grants. Permission
// names are normalized, deduplicated and sorted.
func BuildMenu(grants []Grant) map[string]map[string][]string {
	sets := make(map[string]map[string]map[string]struct{})
	for _, g := range grants {
		perm := NormalizePermission(g.Permission)
		if g.Module == "" || g.Form == "" || perm == "" {
			continue
		}
		forms, ok := sets[g.Module]
		if !ok {
			forms = make(map[string]map[string]struct{})
			sets[g.Module] = forms
		}
		perms, ok := forms[g.Form]
		if !ok {
			perms = make(map[string]struct{})
			forms[g.Form] = perms
		}
		perms[perm] = struct{}{}
	}

	menu := make(map[string]map[string][]string, len(sets))
	for module, forms := range sets {
		out := make(map[string][]string, len(forms))
		for form, perms := range forms {
			list := make([]string, 0, len(perms))
			for p := range perms {
				list = append(list, p)
			}
			sort.Strings(list)
			out[form] = list
		}
		menu[module] = out
	}
	return menu
}
