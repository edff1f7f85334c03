package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Turnstile/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const (
	qNotifInsert = `
INSERT INTO notifications (event_id, user_id, type, sent_at, payload)
VALUES ($1, $2, $3, COALESCE($4, now()), $5)
RETURNING id, sent_at;
`
	qNotifDelivered = `
SELECT EXISTS (SELECT 1 FROM notifications WHERE event_id = $1);
`
	qNotifByUser = `
SELECT id, event_id, user_id, type, sent_at, payload
FROM notifications
WHERE user_id = $1
ORDER BY sent_at DESC
LIMIT $2;
`
)

func (r *NotificationRepoImpl) Create(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.execQueryer(ctx).QueryRow(ctx, qNotifInsert, n.EventID, n.UserID, n.Type, sentAt(n.SentAt), n.Payload)
	return mapErr("insert notification", row.Scan(&n.ID, &n.SentAt))
}

func (r *NotificationRepoImpl) Delivered(ctx context.Context, eventID string) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var seen bool
	err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifDelivered, eventID).Scan(&seen)
	return seen, mapErr("notification delivered", err)
}

func (r *NotificationRepoImpl) ListByUser(ctx context.Context, userID int64, limit int) ([]*notification.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qNotifByUser, userID, limit)
	if err != nil {
		return nil, mapErr("list notifications", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[notification.Notification])
	if err != nil {
		return nil, mapErr("scan notifications", err)
	}
	return out, nil
}

// sentAt lets the database stamp rows the caller left undated.
func sentAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
