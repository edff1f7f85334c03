package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Turnstile/internal/domain/authz"
)

var (
	_ authz.Source = (*AuthzRepo)(nil)
	_ authz.Admin  = (*AuthzRepo)(nil)
)

type AuthzRepo struct{ db *DB }

func NewAuthzRepo(db *DB) *AuthzRepo { return &AuthzRepo{db: db} }

const (
	qAuthzPrincipal = `
SELECT id, person_id, COALESCE(full_name, ''), email, is_active
FROM users
WHERE id = $1;`

	qAuthzActiveRoles = `
SELECT r.id, r.name
FROM roles r
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
  AND r.is_active = TRUE
  AND r.is_deleted = FALSE
ORDER BY r.name;`

	qAuthzGrants = `
SELECT rfp.role_id, m.name, f.name, p.name
FROM role_form_permissions rfp
JOIN forms f       ON f.id = rfp.form_id
JOIN modules m     ON m.id = f.module_id
JOIN permissions p ON p.id = rfp.permission_id
WHERE rfp.role_id = ANY($1)
  AND rfp.is_active = TRUE
  AND rfp.is_deleted = FALSE;`

	qAuthzAssign = `
INSERT INTO user_roles (user_id, role_id)
VALUES ($1, $2)
ON CONFLICT (user_id, role_id) DO NOTHING;`

	qAuthzUnassign = `
DELETE FROM user_roles
WHERE user_id = $1 AND role_id = $2;`

	qAuthzRoleExists = `
SELECT 1 FROM roles WHERE id = $1 AND is_deleted = FALSE FOR UPDATE;`

	qAuthzRetireGrants = `
UPDATE role_form_permissions
SET is_active = FALSE, is_deleted = TRUE, updated_at = NOW()
WHERE role_id = $1 AND is_deleted = FALSE;`

	qAuthzUpsertGrant = `
INSERT INTO role_form_permissions (role_id, form_id, permission_id, is_active, is_deleted)
VALUES ($1, $2, $3, TRUE, FALSE)
ON CONFLICT (role_id, form_id, permission_id)
DO UPDATE SET is_active = TRUE, is_deleted = FALSE, updated_at = NOW();`

	qAuthzRoleMembers = `
SELECT user_id
FROM user_roles
WHERE role_id = $1
ORDER BY user_id;`
)

func (r *AuthzRepo) LoadPrincipal(ctx context.Context, id int64) (*authz.Principal, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var p authz.Principal
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qAuthzPrincipal, id).
		Scan(&p.ID, &p.PersonID, &p.FullName, &p.Email, &p.Active); err != nil {
		return nil, mapErr("load principal", err)
	}
	return &p, nil
}

func (r *AuthzRepo) ActiveRoles(ctx context.Context, principalID int64) ([]authz.Role, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qAuthzActiveRoles, principalID)
	if err != nil {
		return nil, mapErr("active roles", err)
	}
	defer rows.Close()

	var out []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *AuthzRepo) Grants(ctx context.Context, roleIDs []int64) ([]authz.Grant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qAuthzGrants, roleIDs)
	if err != nil {
		return nil, mapErr("grants", err)
	}
	defer rows.Close()

	var out []authz.Grant
	for rows.Next() {
		var g authz.Grant
		if err := rows.Scan(&g.RoleID, &g.Module, &g.Form, &g.Permission); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *AuthzRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qAuthzAssign, userID, roleID); err != nil {
		return mapErr("assign role", err)
	}
	return nil
}

func (r *AuthzRepo) UnassignRole(ctx context.Context, userID, roleID int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qAuthzUnassign, userID, roleID); err != nil {
		return mapErr("unassign role", err)
	}
	return nil
}

// ReplaceGrants soft-deletes the role's current links and upserts the given
// ones. Callers run it inside a transaction.
func (r *AuthzRepo) ReplaceGrants(ctx context.Context, roleID int64, grants []authz.GrantRef) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	var one int
	if err := eq.QueryRow(ctx, qAuthzRoleExists, roleID).Scan(&one); err != nil {
		return mapErr("lock role", err)
	}
	if _, err := eq.Exec(ctx, qAuthzRetireGrants, roleID); err != nil {
		return mapErr("retire grants", err)
	}
	for _, g := range grants {
		if _, err := eq.Exec(ctx, qAuthzUpsertGrant, roleID, g.FormID, g.PermissionID); err != nil {
			return mapErr("upsert grant", err)
		}
	}
	return nil
}

func (r *AuthzRepo) RoleMembers(ctx context.Context, roleID int64) ([]int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qAuthzRoleMembers, roleID)
	if err != nil {
		return nil, mapErr("role members", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
