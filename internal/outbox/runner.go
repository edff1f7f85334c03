package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Turnstile/internal/domain/outbox"
	"github.com/NordCoder/Turnstile/internal/obs"
	"github.com/NordCoder/Turnstile/internal/obs/retry"
)

var (
	mClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_outbox_claimed_total",
		Help: "Outbox messages claimed by a worker.",
	})
	mDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_outbox_delivered_total",
		Help: "Outbox messages handed to the broker, by kind.",
	}, []string{"kind"})
	mFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_outbox_failed_total",
		Help: "Outbox dispatch failures by stage.",
	}, []string{"stage"})
	mDead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_outbox_dead_total",
		Help: "Outbox messages given up on and marked FAILED, by kind.",
	}, []string{"kind"})
	mTick = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turnstile_outbox_tick_seconds",
		Help:    "Duration of one claim and dispatch cycle.",
		Buckets: prometheus.DefBuckets,
	})
)

// DefaultMaxAttempts bounds how often one message is claimed.
const DefaultMaxAttempts = 10

// Runner drains the outbox with a fixed set of polling workers. Messages
// that fail stay IN_PROGRESS and are reclaimed after inProgressTTL, until
// they run out of attempts or fail permanently; then they are marked FAILED.
type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	tracer   trace.Tracer

	workers       int
	batchSize     int
	waitTime      time.Duration
	inProgressTTL time.Duration
	maxAttempts   int
}

func NewOutboxRunner(
	log *zap.Logger,
	repo outbox.Repository,
	dispatch outbox.GlobalHandler,
	workers int,
	batchSize int,
	waitTime time.Duration,
	inProgressTTL time.Duration,
) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		log:           log.With(zap.String("component", "outbox.runner")),
		repo:          repo,
		dispatch:      dispatch,
		tracer:        otel.Tracer("outbox.runner"),
		workers:       max(workers, 1),
		batchSize:     max(batchSize, 1),
		waitTime:      waitTime,
		inProgressTTL: inProgressTTL,
		maxAttempts:   DefaultMaxAttempts,
	}
}

func (r *Runner) WithMaxAttempts(n int) *Runner {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

type result int

const (
	delivered result = iota
	retryLater
	dead
)

// Run polls the outbox until ctx is done and returns once every worker stopped.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for id := range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.poll(ctx, id)
		}()
	}
	wg.Wait()
}

func (r *Runner) poll(ctx context.Context, id int) {
	log := r.log.With(zap.Int("worker", id))
	log.Debug("outbox worker started", zap.Duration("wait", r.waitTime))
	defer log.Debug("outbox worker stopped")

	ticker := time.NewTicker(r.waitTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a full batch suggests a backlog, keep draining without waiting
			for r.Tick(ctx) == r.batchSize && ctx.Err() == nil {
			}
		}
	}
}

// Tick claims one batch, dispatches it and marks what was delivered. It
// returns the number of delivered messages.
func (r *Runner) Tick(ctx context.Context) int {
	defer func(start time.Time) { mTick.Observe(time.Since(start).Seconds()) }(time.Now())

	ctx, span := r.tracer.Start(ctx, "outbox.tick", trace.WithAttributes(attribute.Int("batch.limit", r.batchSize)))
	defer span.End()

	batch, err := r.repo.PickBatch(ctx, r.batchSize, r.inProgressTTL)
	if err != nil {
		span.RecordError(err)
		mFailed.WithLabelValues("claim").Inc()
		obs.WithTrace(ctx, r.log).Error("outbox claim failed", zap.Error(err))
		return 0
	}
	mClaimed.Add(float64(len(batch)))

	var done, failed []string
	for _, m := range batch {
		switch r.deliver(ctx, m) {
		case delivered:
			done = append(done, m.IdempotencyKey)
		case dead:
			failed = append(failed, m.IdempotencyKey)
		}
	}
	if err := r.repo.MarkFailed(ctx, failed); err != nil {
		span.RecordError(err)
		mFailed.WithLabelValues("mark").Inc()
		obs.WithTrace(ctx, r.log).Error("outbox mark failed", zap.Error(err))
	}
	if err := r.repo.MarkSuccess(ctx, done); err != nil {
		span.RecordError(err)
		mFailed.WithLabelValues("mark").Inc()
		obs.WithTrace(ctx, r.log).Error("outbox mark failed", zap.Error(err))
		return 0
	}
	return len(done)
}

// deliver runs the kind handler under a span linked to the trace that
// enqueued the message.
func (r *Runner) deliver(ctx context.Context, m outbox.Message) result {
	origin := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": m.Traceparent,
		"tracestate":  m.Tracestate,
		"baggage":     m.Baggage,
	})
	ctx, span := r.tracer.Start(ctx, "outbox.deliver",
		trace.WithLinks(trace.LinkFromContext(origin)),
		trace.WithAttributes(
			attribute.String("outbox.key", m.IdempotencyKey),
			attribute.String("outbox.kind", m.Kind.String()),
		),
	)
	defer span.End()
	log := obs.WithTrace(ctx, r.log).With(
		zap.String("key", m.IdempotencyKey),
		zap.Stringer("kind", m.Kind),
		zap.Int("attempt", m.Attempts),
	)

	handle, err := r.dispatch(m.Kind)
	if err != nil {
		span.RecordError(err)
		mFailed.WithLabelValues("route").Inc()
		return r.giveUp(log, m, err)
	}
	if err := handle(trace.ContextWithSpan(origin, span), m.Data); err != nil {
		span.RecordError(err)
		mFailed.WithLabelValues("handle").Inc()
		if retry.IsPermanent(err) || m.Attempts >= r.maxAttempts {
			return r.giveUp(log, m, err)
		}
		log.Warn("outbox delivery failed, will retry", zap.Error(err))
		return retryLater
	}
	mDelivered.WithLabelValues(m.Kind.String()).Inc()
	return delivered
}

func (r *Runner) giveUp(log *zap.Logger, m outbox.Message, err error) result {
	mDead.WithLabelValues(m.Kind.String()).Inc()
	log.Error("outbox message dropped", zap.Error(err), zap.Int("max_attempts", r.maxAttempts))
	return dead
}
