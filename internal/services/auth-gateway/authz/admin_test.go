package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
	"github.com/NordCoder/Turnstile/internal/domain/user"
)

func TestAssignRoleInvalidatesMember(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	admin := NewAdminUsecase(e.src, e.store, e.cache, nil)

	_, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)

	auditor := e.src.AddRole("auditor")
	require.NoError(t, admin.AssignRole(ctx, e.uid, auditor))

	got, err := e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Equal(t, []string{"auditor", "clerk"}, got.RoleNames)

	require.NoError(t, admin.UnassignRole(ctx, e.uid, e.role))
	got, err = e.cache.Build(ctx, e.uid)
	require.NoError(t, err)
	assert.Equal(t, []string{"auditor"}, got.RoleNames)
	assert.Equal(t, int64(3), e.src.Loads())
}

func TestAssignUnknownRole(t *testing.T) {
	e := newEnv(t)
	admin := NewAdminUsecase(e.src, e.store, e.cache, nil)

	err := admin.AssignRole(context.Background(), e.uid, 999)
	require.ErrorIs(t, err, domainauth.ErrNotFound)
}

func TestReplaceGrantsInvalidatesEveryMember(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	admin := NewAdminUsecase(e.src, e.store, e.cache, nil)

	other := e.users.Add(user.User{Email: "carol@example.com", Active: true})
	require.NoError(t, e.src.AssignRole(ctx, other, e.role))
	for _, id := range []int64{e.uid, other} {
		got, err := e.cache.Build(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.Can("billing", "invoices", "edit"))
	}

	require.NoError(t, admin.ReplaceGrants(ctx, e.role, []authz.GrantRef{{FormID: e.form, PermissionID: e.edit}}))

	for _, id := range []int64{e.uid, other} {
		got, err := e.cache.Build(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Can("billing", "invoices", "edit"))
		assert.False(t, got.Can("billing", "invoices", "view"))
	}
}

type countingInvalidator struct{ ids []int64 }

func (c *countingInvalidator) Invalidate(id int64) { c.ids = append(c.ids, id) }

func TestFailedMutationDoesNotInvalidate(t *testing.T) {
	e := newEnv(t)
	inv := &countingInvalidator{}
	admin := NewAdminUsecase(e.src, e.store, inv, nil)

	require.Error(t, admin.ReplaceGrants(context.Background(), 999, nil))
	assert.Empty(t, inv.ids)

	require.NoError(t, admin.AssignRole(context.Background(), e.uid, e.role))
	assert.Equal(t, []int64{e.uid}, inv.ids)
}
