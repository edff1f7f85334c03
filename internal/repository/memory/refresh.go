package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Turnstile/internal/domain/auth"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct {
	s *Store

	mu     sync.Mutex
	locked []int64
}

func NewRefreshTokenRepo(s *Store) *RefreshTokenRepo { return &RefreshTokenRepo{s: s} }

// LockOwner only records the call: a memory transaction already excludes
// every other one.
func (r *RefreshTokenRepo) LockOwner(_ context.Context, userID int64) error {
	r.mu.Lock()
	r.locked = append(r.locked, userID)
	r.mu.Unlock()
	return nil
}

// LockedOwners lists the owners passed to LockOwner, in call order.
func (r *RefreshTokenRepo) LockedOwners() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.locked...)
}

func (r *RefreshTokenRepo) OwnerOf(ctx context.Context, tokenHash string) (int64, error) {
	r.s.ops.Add(1)
	defer r.s.lock(ctx)()

	id, ok := r.s.st.byHash[tokenHash]
	if !ok {
		return 0, auth.ErrNotFound
	}
	return r.s.st.tokens[id].UserID, nil
}

func (r *RefreshTokenRepo) Create(ctx context.Context, t *auth.RefreshToken) error {
	r.s.ops.Add(1)
	defer r.s.lock(ctx)()

	if _, dup := r.s.st.byHash[t.TokenHash]; dup {
		return fmt.Errorf("create refresh: %w", ErrConflict)
	}
	t.ID = r.s.id()
	r.s.st.tokens[t.ID] = *t
	r.s.st.byHash[t.TokenHash] = t.ID
	return nil
}

func (r *RefreshTokenRepo) GetByHashForUpdate(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	r.s.ops.Add(1)
	defer r.s.lock(ctx)()

	id, ok := r.s.st.byHash[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	t := r.s.st.tokens[id]
	return &t, nil
}

func (r *RefreshTokenRepo) MarkRotated(ctx context.Context, id int64, successorHash string, at time.Time) (bool, error) {
	r.s.ops.Add(1)
	defer r.s.lock(ctx)()

	t, ok := r.s.st.tokens[id]
	if !ok {
		return false, auth.ErrNotFound
	}
	if !t.MarkRotated(successorHash, at) {
		return false, nil
	}
	r.s.st.tokens[id] = t
	return true, nil
}

func (r *RefreshTokenRepo) RevokeByHash(ctx context.Context, tokenHash string, at time.Time, reason auth.RevokeReason) (bool, error) {
	r.s.ops.Add(1)
	defer r.s.lock(ctx)()

	id, ok := r.s.st.byHash[tokenHash]
	if !ok {
		return false, nil
	}
	t := r.s.st.tokens[id]
	if !t.Revoke(at, reason) {
		return false, nil
	}
	r.s.st.tokens[id] = t
	return true, nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID int64, at time.Time, reason auth.RevokeReason) (int, error) {
	r.s.ops.Add(1)
	defer r.s.lock(ctx)()

	n := 0
	for id, t := range r.s.st.tokens {
		if t.UserID != userID || !t.Active(at) {
			continue
		}
		t.Revoke(at, reason)
		r.s.st.tokens[id] = t
		n++
	}
	return n, nil
}

func (r *RefreshTokenRepo) RevokeOldestActive(ctx context.Context, userID int64, now time.Time, keep int) (int, error) {
	r.s.ops.Add(1)
	defer r.s.lock(ctx)()

	active := r.s.collect(func(t auth.RefreshToken) bool {
		return t.UserID == userID && t.Active(now)
	})
	sortTokens(active, auth.SortCreatedDesc)
	if keep < 0 {
		keep = 0
	}
	n := 0
	for i := keep; i < len(active); i++ {
		t := r.s.st.tokens[active[i].ID]
		t.Revoke(now, auth.ReasonCapExceeded)
		r.s.st.tokens[t.ID] = t
		n++
	}
	return n, nil
}

func (r *RefreshTokenRepo) ListByUser(ctx context.Context, userID int64, q auth.SessionQuery, now time.Time) ([]*auth.RefreshToken, error) {
	r.s.ops.Add(1)
	defer r.s.lock(ctx)()

	var keep func(auth.RefreshToken) bool
	switch q.Filter {
	case auth.FilterActive:
		keep = func(t auth.RefreshToken) bool { return t.Active(now) }
	case auth.FilterRevoked:
		keep = func(t auth.RefreshToken) bool { return t.Revoked }
	case auth.FilterAll:
		keep = func(auth.RefreshToken) bool { return true }
	default:
		return nil, fmt.Errorf("unsupported session filter %d", q.Filter)
	}

	rows := r.s.collect(func(t auth.RefreshToken) bool { return t.UserID == userID && keep(t) })
	if err := sortTokens(rows, q.Sort); err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]*auth.RefreshToken, len(rows))
	for i := range rows {
		t := rows[i]
		out[i] = &t
	}
	return out, nil
}

// Token returns a copy of the stored record for assertions.
func (r *RefreshTokenRepo) Token(hash string) (auth.RefreshToken, bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.st.byHash[hash]
	if !ok {
		return auth.RefreshToken{}, false
	}
	return r.s.st.tokens[id], true
}

func (s *Store) collect(pred func(auth.RefreshToken) bool) []auth.RefreshToken {
	var out []auth.RefreshToken
	for _, t := range s.st.tokens {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}

func sortTokens(rows []auth.RefreshToken, by auth.SessionSort) error {
	var less func(a, b auth.RefreshToken) bool
	switch by {
	case auth.SortCreatedDesc:
		less = func(a, b auth.RefreshToken) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
	case auth.SortCreatedAsc:
		less = func(a, b auth.RefreshToken) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		}
	case auth.SortExpiresAsc:
		less = func(a, b auth.RefreshToken) bool {
			if !a.ExpiresAt.Equal(b.ExpiresAt) {
				return a.ExpiresAt.Before(b.ExpiresAt)
			}
			return a.ID < b.ID
		}
	default:
		return fmt.Errorf("unsupported session sort %d", by)
	}
	sort.Slice(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	return nil
}
