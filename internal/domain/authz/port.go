package authz

import "context"

// Source is the source of truth the cache is built from.
type Source interface {
	LoadPrincipal(ctx context.Context, id int64) (*Principal, error)
	ActiveRoles(ctx context.Context, principalID int64) ([]Role, error)
	Grants(ctx context.Context, roleIDs []int64) ([]Grant, error)
}

type Admin interface {
	AssignRole(ctx context.Context, userID, roleID int64) error
	UnassignRole(ctx context.Context, userID, roleID int64) error
	ReplaceGrants(ctx context.Context, roleID int64, grants []GrantRef) error
	RoleMembers(ctx context.Context, roleID int64) ([]int64, error)
}
