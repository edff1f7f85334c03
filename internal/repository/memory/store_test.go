package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Turnstile/internal/domain/auth"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestWithTxRollsBackOnError(t *testing.T) {
	s := NewStore(nil)
	repo := NewRefreshTokenRepo(s)
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, repo.Create(ctx, auth.NewRefreshToken(1, "h1", t0, time.Hour)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := repo.Token("h1")
	assert.False(t, ok)
}

func TestWithTxJoinsOuterTransaction(t *testing.T) {
	s := NewStore(nil)
	repo := NewRefreshTokenRepo(s)

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			return repo.Create(ctx, auth.NewRefreshToken(1, "h1", t0, time.Hour))
		})
	})
	require.NoError(t, err)

	_, ok := repo.Token("h1")
	assert.True(t, ok)
}

func TestAfterCommitRunsInOrderAndSurvivesFailures(t *testing.T) {
	s := NewStore(nil)
	var got []string

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		s.AfterCommit(ctx, "first", func(context.Context) error {
			got = append(got, "first")
			return errors.New("hook failed")
		})
		s.AfterCommit(ctx, "second", func(context.Context) error {
			got = append(got, "second")
			return nil
		})
		assert.Empty(t, got)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestAfterCommitSkippedOnRollback(t *testing.T) {
	s := NewStore(nil)
	ran := false

	_ = s.WithTx(context.Background(), func(ctx context.Context) error {
		s.AfterCommit(ctx, "never", func(context.Context) error {
			ran = true
			return nil
		})
		return errors.New("abort")
	})
	assert.False(t, ran)
}

func TestRevokeOldestActiveKeepsNewest(t *testing.T) {
	s := NewStore(nil)
	repo := NewRefreshTokenRepo(s)
	ctx := context.Background()

	for i, h := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, auth.NewRefreshToken(7, h, t0.Add(time.Duration(i)*time.Minute), time.Hour)))
	}
	n, err := repo.RevokeOldestActive(ctx, 7, t0.Add(5*time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, _ := repo.Token("a")
	assert.True(t, a.Revoked)
	assert.Equal(t, auth.ReasonCapExceeded, a.RevokedReason)
	c, _ := repo.Token("c")
	assert.False(t, c.Revoked)
}

func TestListByUserFiltersAndSorts(t *testing.T) {
	s := NewStore(nil)
	repo := NewRefreshTokenRepo(s)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, auth.NewRefreshToken(1, "old", t0, time.Hour)))
	require.NoError(t, repo.Create(ctx, auth.NewRefreshToken(1, "new", t0.Add(time.Minute), time.Hour)))
	require.NoError(t, repo.Create(ctx, auth.NewRefreshToken(2, "other", t0, time.Hour)))
	_, err := repo.RevokeByHash(ctx, "old", t0.Add(2*time.Minute), auth.ReasonLogout)
	require.NoError(t, err)

	now := t0.Add(3 * time.Minute)
	active, err := repo.ListByUser(ctx, 1, auth.SessionQuery{Filter: auth.FilterActive, Sort: auth.SortCreatedDesc}, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "new", active[0].TokenHash)

	all, err := repo.ListByUser(ctx, 1, auth.SessionQuery{Filter: auth.FilterAll, Sort: auth.SortCreatedAsc}, now)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "old", all[0].TokenHash)
}
