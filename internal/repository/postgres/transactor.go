package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
)

var _ domainauth.Transactor = (*transactorImpl)(nil)

type transactorImpl struct {
	db     *DB
	logger *zap.Logger
}

func NewTransactor(db *DB, logger *zap.Logger) *transactorImpl {
	return &transactorImpl{
		db:     db,
		logger: logger.With(zap.String("component", "pg.transactor")),
	}
}

// WithTx runs fn inside a transaction. A transaction already carried by ctx
// is joined; only the outermost call commits and runs the post-commit hooks.
func (t *transactorImpl) WithTx(ctx context.Context, function func(ctx context.Context) error) (txErr error) {
	if _, err := extractTx(ctx); err == nil {
		return function(ctx)
	}

	tx, err := t.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("can not begin transaction: %w", err)
	}
	state := &txState{tx: tx}
	ctxWithTx := context.WithValue(ctx, txInjector{}, state)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := function(ctxWithTx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			t.logger.Error("rollback", zap.Error(rbErr))
		}
		return fmt.Errorf("function execution error: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.logger.Error("commit", zap.Error(err))
		return fmt.Errorf("commit: %w", err)
	}

	runHooks(context.WithoutCancel(ctx), state.hooks, t.logger)
	return nil
}

func (t *transactorImpl) AfterCommit(ctx context.Context, name string, fn func(ctx context.Context) error) {
	state, ok := ctx.Value(txInjector{}).(*txState)
	if !ok {
		runHooks(ctx, []hook{{name: name, fn: fn}}, t.logger)
		return
	}
	state.hooks = append(state.hooks, hook{name: name, fn: fn})
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// runHooks executes hooks in registration order. A failing hook is logged
// and does not stop the ones after it.
func runHooks(ctx context.Context, hooks []hook, log *zap.Logger) {
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			log.Error("post-commit hook failed", zap.String("hook", h.name), zap.Error(err))
		}
	}
}

type txInjector struct{}

type txState struct {
	tx    pgx.Tx
	hooks []hook
}

var ErrTxNotFound = errors.New("tx not found in context")

func extractTx(ctx context.Context) (pgx.Tx, error) {
	state, ok := ctx.Value(txInjector{}).(*txState)
	if !ok || state.tx == nil {
		return nil, ErrTxNotFound
	}
	return state.tx, nil
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx, err := extractTx(ctx); err == nil {
		return tx
	}
	return db.Pool
}
