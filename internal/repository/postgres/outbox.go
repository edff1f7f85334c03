package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/NordCoder/Turnstile/internal/domain/outbox"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

const (
	qOutboxEnqueue = `
INSERT INTO outbox (idempotency_key, kind, data, status, traceparent, tracestate, baggage)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (idempotency_key) DO NOTHING;`

	// Stale IN_PROGRESS rows belong to a worker that died mid-dispatch and
	// are handed out again.
	qOutboxClaim = `
WITH claimed AS (
    SELECT idempotency_key
    FROM outbox
    WHERE status = $2
       OR (status = $3 AND updated_at < now() - make_interval(secs => $4))
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE outbox o
SET status = $3, updated_at = now(), attempts = o.attempts + 1
FROM claimed
WHERE o.idempotency_key = claimed.idempotency_key
RETURNING o.idempotency_key, o.kind, o.data, o.status, o.created_at, o.updated_at,
          o.tracestate, o.traceparent, o.baggage, o.attempts;`

	qOutboxDone = `
UPDATE outbox
SET status = $2, updated_at = now()
WHERE idempotency_key = ANY($1);`
)

// Enqueue stores the message in the transaction carried by ctx, if any,
// together with the caller's trace context.
func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tc := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, tc)

	_, err := r.db.execQueryer(ctx).Exec(ctx, qOutboxEnqueue,
		key, int(kind), data, string(outbox.StatusCreated),
		tc.Get("traceparent"), tc.Get("tracestate"), tc.Get("baggage"))
	return mapErr("outbox enqueue", err)
}

// PickBatch claims up to batch pending messages, oldest first. Rows locked
// by a concurrent picker are skipped.
func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("batch must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qOutboxClaim, batch,
		string(outbox.StatusCreated), string(outbox.StatusInProgress), inProgressTTL.Seconds())
	if err != nil {
		return nil, mapErr("outbox claim", err)
	}
	msgs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[outbox.Message])
	if err != nil {
		return nil, mapErr("outbox scan", err)
	}
	return msgs, nil
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Pool.Exec(ctx, qOutboxDone, keys, string(outbox.StatusSuccess))
	return mapErr("outbox mark success", err)
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Pool.Exec(ctx, qOutboxDone, keys, string(outbox.StatusFailed))
	return mapErr("outbox mark failed", err)
}
