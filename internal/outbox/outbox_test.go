package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	domainoutbox "github.com/NordCoder/Turnstile/internal/domain/outbox"
	"github.com/NordCoder/Turnstile/internal/obs/retry"
	"github.com/NordCoder/Turnstile/internal/outbox"
	"github.com/NordCoder/Turnstile/internal/repository/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domainoutbox.SecurityEvent
	fail   int
}

func (p *recordingPublisher) PublishSecurityEvent(_ context.Context, ev domainoutbox.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, ev)
	return nil
}

func noRetry() retry.Policy { return retry.Policy{Name: "test", Attempts: 1} }

func TestEventSinkEnqueuesTypedEvents(t *testing.T) {
	repo := memory.NewOutboxRepo(memory.NewStore(zap.NewNop()))
	sink := outbox.NewEventSink(repo)
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, sink.ReuseDetected(ctx, 7, 3, at))
	require.NoError(t, sink.SessionsRevoked(ctx, 7, domainauth.ReasonLogoutAll, 2, at))
	require.NoError(t, sink.PasswordChanged(ctx, 7, 2, at))

	msgs := repo.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domainoutbox.KindReuseDetected, msgs[0].Kind)
	assert.Equal(t, domainoutbox.KindSessionsRevoked, msgs[1].Kind)
	assert.Equal(t, domainoutbox.KindPasswordChanged, msgs[2].Kind)

	var ev domainoutbox.SecurityEvent
	require.NoError(t, json.Unmarshal(msgs[1].Data, &ev))
	assert.Equal(t, msgs[1].IdempotencyKey, ev.ID)
	assert.Equal(t, "sessions_revoked", ev.Type)
	assert.Equal(t, "logout_all", ev.Reason)
	assert.Equal(t, 2, ev.Revoked)
	assert.True(t, at.Equal(ev.At))

	assert.Less(t, msgs[0].IdempotencyKey, msgs[1].IdempotencyKey, "keys are monotonic")
	assert.Less(t, msgs[1].IdempotencyKey, msgs[2].IdempotencyKey)
}

func TestRunnerTickPublishesAndMarks(t *testing.T) {
	repo := memory.NewOutboxRepo(memory.NewStore(zap.NewNop()))
	sink := outbox.NewEventSink(repo)
	ctx := context.Background()
	require.NoError(t, sink.ReuseDetected(ctx, 1, 2, time.Now()))
	require.NoError(t, sink.PasswordChanged(ctx, 1, 1, time.Now()))

	pub := &recordingPublisher{}
	r := outbox.NewOutboxRunner(zap.NewNop(), repo, outbox.MakeGlobalOutboxHandler(pub, noRetry()), 1, 10, time.Second, time.Minute)

	assert.Equal(t, 2, r.Tick(ctx))
	require.Len(t, pub.events, 2)
	assert.Equal(t, "reuse_detected", pub.events[0].Type)
	assert.Equal(t, "password_changed", pub.events[1].Type)
	for _, m := range repo.Messages() {
		assert.Equal(t, domainoutbox.StatusSuccess, m.Status)
	}

	assert.Zero(t, r.Tick(ctx), "delivered messages are not picked again")
}

func TestRunnerLeavesFailedMessagesInProgress(t *testing.T) {
	repo := memory.NewOutboxRepo(memory.NewStore(zap.NewNop()))
	sink := outbox.NewEventSink(repo)
	ctx := context.Background()
	require.NoError(t, sink.PasswordChanged(ctx, 1, 1, time.Now()))

	pub := &recordingPublisher{fail: 1}
	r := outbox.NewOutboxRunner(zap.NewNop(), repo, outbox.MakeGlobalOutboxHandler(pub, noRetry()), 1, 10, time.Second, 0)

	assert.Zero(t, r.Tick(ctx))
	assert.Equal(t, domainoutbox.StatusInProgress, repo.Messages()[0].Status)

	// a zero in-progress ttl makes the message immediately eligible again
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, r.Tick(ctx))
	assert.Len(t, pub.events, 1)
}

func TestHandlerRetriesWithinPolicy(t *testing.T) {
	pub := &recordingPublisher{fail: 2}
	h, err := outbox.MakeGlobalOutboxHandler(pub, retry.Policy{Name: "test", Attempts: 3})(domainoutbox.KindSessionsRevoked)
	require.NoError(t, err)

	data, _ := json.Marshal(domainoutbox.SecurityEvent{ID: "x", Type: "sessions_revoked", UserID: 1})
	require.NoError(t, h(context.Background(), data))
	assert.Len(t, pub.events, 1)
}

func TestHandlerRejectsUnknownKind(t *testing.T) {
	_, err := outbox.MakeGlobalOutboxHandler(&recordingPublisher{}, noRetry())(domainoutbox.Kind(99))
	require.Error(t, err)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	repo := memory.NewOutboxRepo(memory.NewStore(zap.NewNop()))
	r := outbox.NewOutboxRunner(zap.NewNop(), repo, outbox.MakeGlobalOutboxHandler(&recordingPublisher{}, noRetry()), 2, 10, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestHandlerDoesNotRetryMalformedPayload(t *testing.T) {
	pub := &recordingPublisher{}
	h, err := outbox.MakeGlobalOutboxHandler(pub, retry.Policy{Attempts: 5})(domainoutbox.KindReuseDetected)
	require.NoError(t, err)

	err = h(context.Background(), []byte("{not json"))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.Empty(t, pub.events)
}

func TestRunnerMarksExhaustedMessagesFailed(t *testing.T) {
	repo := memory.NewOutboxRepo(memory.NewStore(zap.NewNop()))
	sink := outbox.NewEventSink(repo)
	ctx := context.Background()
	require.NoError(t, sink.ReuseDetected(ctx, 1, 2, time.Now()))

	pub := &recordingPublisher{fail: 100}
	r := outbox.NewOutboxRunner(zap.NewNop(), repo, outbox.MakeGlobalOutboxHandler(pub, noRetry()), 1, 10, time.Second, 0).
		WithMaxAttempts(2)

	assert.Zero(t, r.Tick(ctx))
	assert.Equal(t, domainoutbox.StatusInProgress, repo.Messages()[0].Status)

	time.Sleep(time.Millisecond)
	assert.Zero(t, r.Tick(ctx))
	msg := repo.Messages()[0]
	assert.Equal(t, domainoutbox.StatusFailed, msg.Status)
	assert.Equal(t, 2, msg.Attempts)

	time.Sleep(time.Millisecond)
	assert.Zero(t, r.Tick(ctx))
	assert.Equal(t, 2, repo.Messages()[0].Attempts, "failed messages are never claimed again")
}

func TestRunnerFailsUnroutableAndMalformedAtOnce(t *testing.T) {
	repo := memory.NewOutboxRepo(memory.NewStore(zap.NewNop()))
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, "unknown-kind", domainoutbox.Kind(99), []byte(`{}`)))
	require.NoError(t, repo.Enqueue(ctx, "garbage", domainoutbox.KindReuseDetected, []byte(`{not json`)))

	r := outbox.NewOutboxRunner(zap.NewNop(), repo, outbox.MakeGlobalOutboxHandler(&recordingPublisher{}, noRetry()), 1, 10, time.Second, time.Hour)
	assert.Zero(t, r.Tick(ctx))

	for _, m := range repo.Messages() {
		assert.Equal(t, domainoutbox.StatusFailed, m.Status, m.IdempotencyKey)
		assert.Equal(t, 1, m.Attempts)
	}
}
