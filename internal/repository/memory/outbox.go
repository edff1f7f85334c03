package memory

import (
	"context"
	"errors"
	"time"

	"github.com/NordCoder/Turnstile/internal/domain/outbox"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

type OutboxRepo struct{ s *Store }

func NewOutboxRepo(s *Store) *OutboxRepo { return &OutboxRepo{s: s} }

func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	defer r.s.lock(ctx)()
	for _, m := range r.s.st.outbox {
		if m.IdempotencyKey == key {
			return nil
		}
	}
	now := time.Now().UTC()
	r.s.st.outbox = append(r.s.st.outbox, outbox.Message{
		IdempotencyKey: key,
		Kind:           kind,
		Data:           append([]byte(nil), data...),
		Status:         outbox.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	return nil
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("batch must be > 0")
	}
	defer r.s.lock(ctx)()
	now := time.Now().UTC()
	var out []outbox.Message
	for i := range r.s.st.outbox {
		if len(out) == batch {
			break
		}
		m := &r.s.st.outbox[i]
		stale := m.Status == outbox.StatusInProgress && now.Sub(m.UpdatedAt) > inProgressTTL
		if m.Status != outbox.StatusCreated && !stale {
			continue
		}
		m.Status = outbox.StatusInProgress
		m.UpdatedAt = now
		m.Attempts++
		out = append(out, *m)
	}
	return out, nil
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	return r.mark(ctx, keys, outbox.StatusSuccess)
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, keys []string) error {
	return r.mark(ctx, keys, outbox.StatusFailed)
}

func (r *OutboxRepo) mark(ctx context.Context, keys []string, status outbox.Status) error {
	defer r.s.lock(ctx)()
	done := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		done[k] = struct{}{}
	}
	now := time.Now().UTC()
	for i := range r.s.st.outbox {
		if _, ok := done[r.s.st.outbox[i].IdempotencyKey]; ok {
			r.s.st.outbox[i].Status = status
			r.s.st.outbox[i].UpdatedAt = now
		}
	}
	return nil
}

// Messages returns a copy of every stored message.
func (r *OutboxRepo) Messages() []outbox.Message {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]outbox.Message(nil), r.s.st.outbox...)
}
