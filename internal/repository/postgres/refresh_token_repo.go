package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Turnstile/internal/domain/auth"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct{ db *DB }

func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const rtColumns = `id, user_id, token_hash, created_at, expires_at, revoked, revoked_at, revoked_reason, successor_hash`

const (
	// Transaction-scoped, keyed by owner id; released on commit or rollback.
	qRTLockOwner = `SELECT pg_advisory_xact_lock($1);`
	qRTOwner     = `SELECT user_id FROM refresh_tokens WHERE token_hash = $1;`
	qRTCreate    = `
INSERT INTO refresh_tokens(user_id, token_hash, created_at, expires_at, revoked)
VALUES ($1, $2, $3, $4, FALSE)
RETURNING id;
`
	qRTGetForUpdate = `
SELECT ` + rtColumns + `
FROM refresh_tokens
WHERE token_hash = $1
FOR UPDATE;
`
	qRTMarkRotated = `
UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $3, revoked_reason = 'rotation', successor_hash = $2
WHERE id = $1 AND revoked = FALSE;
`
	qRTRevokeByHash = `
UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
WHERE token_hash = $1 AND revoked = FALSE;
`
	qRTRevokeAll = `
UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2;
`
	qRTRevokeOldest = `
UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $2, revoked_reason = 'cap_exceeded'
WHERE id IN (
    SELECT id
    FROM refresh_tokens
    WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
    ORDER BY created_at DESC, id DESC
    OFFSET $3
    FOR UPDATE
);
`
	qRTList = `
SELECT ` + rtColumns + `
FROM refresh_tokens
WHERE user_id = $1 `
)

var sessionFilterSQL = map[auth.SessionFilter]string{
	auth.FilterActive:  `AND revoked = FALSE AND expires_at > $2 `,
	auth.FilterRevoked: `AND revoked = TRUE `,
	auth.FilterAll:     ``,
}

var sessionSortSQL = map[auth.SessionSort]string{
	auth.SortCreatedDesc: `ORDER BY created_at DESC, id DESC`,
	auth.SortCreatedAsc:  `ORDER BY created_at ASC, id ASC`,
	auth.SortExpiresAsc:  `ORDER BY expires_at ASC, id ASC`,
}

func (r *RefreshTokenRepo) LockOwner(ctx context.Context, userID int64) error {
	if _, err := extractTx(ctx); err != nil {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qRTLockOwner, userID); err != nil {
		return mapErr("lock owner", err)
	}
	return nil
}

func (r *RefreshTokenRepo) OwnerOf(ctx context.Context, tokenHash string) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var userID int64
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qRTOwner, tokenHash).Scan(&userID); err != nil {
		return 0, mapErr("refresh owner", err)
	}
	return userID, nil
}

func (r *RefreshTokenRepo) Create(ctx context.Context, t *auth.RefreshToken) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qRTCreate, t.UserID, t.TokenHash, t.CreatedAt, t.ExpiresAt).Scan(&t.ID); err != nil {
		return mapErr("create refresh", err)
	}
	return nil
}

func (r *RefreshTokenRepo) GetByHashForUpdate(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	t, err := scanRefreshToken(eq.QueryRow(ctx, qRTGetForUpdate, tokenHash))
	if err != nil {
		return nil, mapErr("get refresh", err)
	}
	return t, nil
}

func (r *RefreshTokenRepo) MarkRotated(ctx context.Context, id int64, successorHash string, at time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qRTMarkRotated, id, successorHash, at)
	if err != nil {
		return false, mapErr("mark rotated", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *RefreshTokenRepo) RevokeByHash(ctx context.Context, tokenHash string, at time.Time, reason auth.RevokeReason) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeByHash, tokenHash, at, string(reason))
	if err != nil {
		return false, mapErr("revoke refresh", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID int64, at time.Time, reason auth.RevokeReason) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeAll, userID, at, string(reason))
	if err != nil {
		return 0, mapErr("revoke all refresh", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *RefreshTokenRepo) RevokeOldestActive(ctx context.Context, userID int64, now time.Time, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeOldest, userID, now, keep)
	if err != nil {
		return 0, mapErr("revoke oldest refresh", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *RefreshTokenRepo) ListByUser(ctx context.Context, userID int64, q auth.SessionQuery, now time.Time) ([]*auth.RefreshToken, error) {
	filter, ok := sessionFilterSQL[q.Filter]
	if !ok {
		return nil, fmt.Errorf("unsupported session filter %d", q.Filter)
	}
	order, ok := sessionSortSQL[q.Sort]
	if !ok {
		return nil, fmt.Errorf("unsupported session sort %d", q.Sort)
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	args := []any{userID}
	if q.Filter == auth.FilterActive {
		args = append(args, now)
	}
	sql := qRTList + filter + order + fmt.Sprintf(" LIMIT %d;", limit)

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr("list refresh", err)
	}
	defer rows.Close()

	var out []*auth.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, mapErr("scan refresh", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanRefreshToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		t      auth.RefreshToken
		reason *string
	)
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.Revoked,
		&t.RevokedAt,
		&reason,
		&t.SuccessorHash,
	); err != nil {
		return nil, err
	}
	if reason != nil {
		t.RevokedReason = auth.RevokeReason(*reason)
	}
	return &t, nil
}
