package memory

import (
	"context"
	"time"

	"github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/user"
)

var _ user.Repo = (*UserRepo)(nil)

type UserRepo struct{ s *Store }

func NewUserRepo(s *Store) *UserRepo { return &UserRepo{s: s} }

// Add stores u with a fresh id and returns it.
func (r *UserRepo) Add(u user.User) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u.ID = r.s.id()
	u.Email = user.NormalizeEmail(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Unix(0, 0).UTC()
		u.UpdatedAt = u.CreatedAt
	}
	r.s.st.users[u.ID] = u
	return u.ID
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*user.User, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	defer r.s.lock(ctx)()
	want := user.NormalizeEmail(email)
	for _, u := range r.s.st.users {
		if u.Email == want {
			cp := u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Password = passwordHash
	r.s.st.users[id] = u
	return nil
}

// SetActive flips the account state. It is not part of user.Repo.
func (r *UserRepo) SetActive(ctx context.Context, id int64, active bool) error {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Active = active
	r.s.st.users[id] = u
	return nil
}
