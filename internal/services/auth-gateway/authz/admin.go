package authz

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
	"github.com/NordCoder/Turnstile/internal/obs"
)

// Invalidator drops cached authorization snapshots.
type Invalidator interface {
	Invalidate(principalID int64)
}

// AdminUsecase mutates role membership and grants. Every mutation invalidates
// the affected principals before it returns.
type AdminUsecase struct {
	admin authz.Admin
	tx    domainauth.Transactor
	cache Invalidator
	log   *zap.Logger
}

func NewAdminUsecase(admin authz.Admin, tx domainauth.Transactor, cache Invalidator, log *zap.Logger) *AdminUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminUsecase{
		admin: admin,
		tx:    tx,
		cache: cache,
		log:   log.With(zap.String("component", "authz.admin")),
	}
}

func (a *AdminUsecase) AssignRole(ctx context.Context, userID, roleID int64) error {
	err := a.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := a.admin.AssignRole(ctx, userID, roleID); err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		a.invalidate(ctx, userID)
		return nil
	})
	if err != nil {
		return err
	}
	obs.WithTrace(ctx, a.log).Info("role assigned", zap.Int64("user_id", userID), zap.Int64("role_id", roleID))
	return nil
}

func (a *AdminUsecase) UnassignRole(ctx context.Context, userID, roleID int64) error {
	err := a.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := a.admin.UnassignRole(ctx, userID, roleID); err != nil {
			return fmt.Errorf("unassign role: %w", err)
		}
		a.invalidate(ctx, userID)
		return nil
	})
	if err != nil {
		return err
	}
	obs.WithTrace(ctx, a.log).Info("role unassigned", zap.Int64("user_id", userID), zap.Int64("role_id", roleID))
	return nil
}

// ReplaceGrants swaps the role's grants and invalidates every member.
func (a *AdminUsecase) ReplaceGrants(ctx context.Context, roleID int64, grants []authz.GrantRef) error {
	var members []int64
	err := a.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := a.admin.ReplaceGrants(ctx, roleID, grants); err != nil {
			return fmt.Errorf("replace grants: %w", err)
		}
		var err error
		members, err = a.admin.RoleMembers(ctx, roleID)
		if err != nil {
			return fmt.Errorf("role members: %w", err)
		}
		for _, id := range members {
			a.invalidate(ctx, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	obs.WithTrace(ctx, a.log).Info("role grants replaced",
		zap.Int64("role_id", roleID), zap.Int("grants", len(grants)), zap.Int("members", len(members)))
	return nil
}

func (a *AdminUsecase) invalidate(ctx context.Context, principalID int64) {
	a.tx.AfterCommit(ctx, "authz.invalidate", func(context.Context) error {
		a.cache.Invalidate(principalID)
		return nil
	})
}
