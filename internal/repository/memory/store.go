// Package memory is an in-process implementation of the storage ports used by
// tests and local runs. A transaction holds the store lock for its whole
// duration and restores a snapshot on failure.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/outbox"
	"github.com/NordCoder/Turnstile/internal/domain/user"
)

var ErrConflict = errors.New("conflict")

type roleRow struct {
	name    string
	active  bool
	deleted bool
}

type formRow struct {
	module string
	name   string
}

type linkRow struct {
	roleID  int64
	formID  int64
	permID  int64
	active  bool
	deleted bool
}

type state struct {
	nextID    int64
	tokens    map[int64]domainauth.RefreshToken
	byHash    map[string]int64
	users     map[int64]user.User
	roles     map[int64]roleRow
	userRoles map[int64]map[int64]struct{}
	forms     map[int64]formRow
	perms     map[int64]string
	links     []linkRow
	outbox    []outbox.Message
}

func (s *state) clone() *state {
	cp := &state{
		nextID:    s.nextID,
		tokens:    make(map[int64]domainauth.RefreshToken, len(s.tokens)),
		byHash:    make(map[string]int64, len(s.byHash)),
		users:     make(map[int64]user.User, len(s.users)),
		roles:     make(map[int64]roleRow, len(s.roles)),
		userRoles: make(map[int64]map[int64]struct{}, len(s.userRoles)),
		forms:     make(map[int64]formRow, len(s.forms)),
		perms:     make(map[int64]string, len(s.perms)),
		links:     append([]linkRow(nil), s.links...),
		outbox:    append([]outbox.Message(nil), s.outbox...),
	}
	for k, v := range s.tokens {
		cp.tokens[k] = v
	}
	for k, v := range s.byHash {
		cp.byHash[k] = v
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.roles {
		cp.roles[k] = v
	}
	for k, set := range s.userRoles {
		inner := make(map[int64]struct{}, len(set))
		for r := range set {
			inner[r] = struct{}{}
		}
		cp.userRoles[k] = inner
	}
	for k, v := range s.forms {
		cp.forms[k] = v
	}
	for k, v := range s.perms {
		cp.perms[k] = v
	}
	return cp
}

type Store struct {
	mu  sync.Mutex
	st  *state
	ops atomic.Int64
	log *zap.Logger
}

func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		st: &state{
			tokens:    make(map[int64]domainauth.RefreshToken),
			byHash:    make(map[string]int64),
			users:     make(map[int64]user.User),
			roles:     make(map[int64]roleRow),
			userRoles: make(map[int64]map[int64]struct{}),
			forms:     make(map[int64]formRow),
			perms:     make(map[int64]string),
		},
		log: log.With(zap.String("component", "memory.store")),
	}
}

// Ops reports how many refresh token operations reached the store.
func (s *Store) Ops() int64 { return s.ops.Load() }

type txKey struct{}

type txState struct {
	store *Store
	hooks []hook
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

func (s *Store) txFrom(ctx context.Context) *txState {
	ts, ok := ctx.Value(txKey{}).(*txState)
	if !ok || ts.store != s {
		return nil
	}
	return ts
}

// lock acquires the store unless ctx already carries one of its transactions.
func (s *Store) lock(ctx context.Context) func() {
	if s.txFrom(ctx) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

var _ domainauth.Transactor = (*Store)(nil)

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.st.clone()
	ts := &txState{store: s}
	txCtx := context.WithValue(ctx, txKey{}, ts)

	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
			s.mu.Unlock()
		}
	}()

	if err := fn(txCtx); err != nil {
		return fmt.Errorf("function execution error: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.mu.Unlock()

	s.runHooks(context.WithoutCancel(ctx), ts.hooks)
	return nil
}

func (s *Store) AfterCommit(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if ts := s.txFrom(ctx); ts != nil {
		ts.hooks = append(ts.hooks, hook{name: name, fn: fn})
		return
	}
	s.runHooks(ctx, []hook{{name: name, fn: fn}})
}

func (s *Store) runHooks(ctx context.Context, hooks []hook) {
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			s.log.Error("post-commit hook failed", zap.String("hook", h.name), zap.Error(err))
		}
	}
}

func (s *Store) id() int64 {
	s.st.nextID++
	return s.st.nextID
}
