package authz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/NordCoder/Turnstile/internal/clock"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
)

var (
	mCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_authz_cache_hits_total",
		Help: "Authorization context lookups served from cache.",
	})
	mCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_authz_cache_misses_total",
		Help: "Authorization context lookups that read the source.",
	})
	mCacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_authz_cache_invalidations_total",
		Help: "Explicit authorization context invalidations.",
	})
)

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int64
}

type entry struct {
	ctx       *authz.Context
	expiresAt time.Time
}

// Cache keeps one authorization snapshot per principal. Invalidate removes the
// snapshot and bumps the principal's generation; a load stores its result
// only if the generation it started with is still current, so nothing loaded
// before an invalidation is visible after it. Generations are tracked only
// while a load for the principal is in flight.
type Cache struct {
	src authz.Source
	clk clock.Clock
	ttl time.Duration
	log *zap.Logger

	rc *ristretto.Cache[int64, *entry]
	sf singleflight.Group

	mu       sync.Mutex
	gens     map[int64]uint64
	inflight map[int64]int
}

func NewCache(src authz.Source, clk clock.Clock, cfg CacheConfig, log *zap.Logger) (*Cache, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("authz cache ttl must be positive")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	rc, err := ristretto.NewCache(&ristretto.Config[int64, *entry]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init authz cache: %w", err)
	}
	return &Cache{
		src:  src,
		clk:  clk,
		ttl:  cfg.TTL,
		log:  log.With(zap.String("component", "authz.cache")),
		rc:       rc,
		gens:     make(map[int64]uint64),
		inflight: make(map[int64]int),
	}, nil
}

// Build returns the principal's authorization context, reading the source of
// truth on a miss. Callers own the returned value.
func (c *Cache) Build(ctx context.Context, principalID int64) (*authz.Context, error) {
	if e, ok := c.rc.Get(principalID); ok && c.clk.Now().Before(e.expiresAt) {
		mCacheHits.Inc()
		return e.ctx.Clone(), nil
	}
	mCacheMisses.Inc()

	gen := c.acquire(principalID)
	defer c.release(principalID)
	key := strconv.FormatInt(principalID, 10) + ":" + strconv.FormatUint(gen, 10)
	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), principalID, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*authz.Context).Clone(), nil
}

// Invalidate drops the principal's snapshot. It is visible to every Build
// that starts after it returns.
func (c *Cache) Invalidate(principalID int64) {
	c.mu.Lock()
	if c.inflight[principalID] > 0 {
		c.gens[principalID]++
	}
	c.rc.Del(principalID)
	c.mu.Unlock()
	mCacheInvalidations.Inc()
	c.log.Debug("authz context invalidated", zap.Int64("principal_id", principalID))
}

func (c *Cache) Close() { c.rc.Close() }

func (c *Cache) acquire(id int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[id]++
	return c.gens[id]
}

func (c *Cache) release(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[id]--; c.inflight[id] <= 0 {
		delete(c.inflight, id)
		delete(c.gens, id)
	}
}

// tracked reports how many principals currently hold bookkeeping state.
func (c *Cache) tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.gens) + len(c.inflight)
}

func (c *Cache) load(ctx context.Context, id int64, gen uint64) (*authz.Context, error) {
	ctx, span := otel.Tracer("authz.cache").Start(ctx, "authz.build")
	defer span.End()
	span.SetAttributes(attribute.Int64("principal.id", id))

	built, err := c.fromSource(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	c.mu.Lock()
	if c.gens[id] == gen {
		c.rc.SetWithTTL(id, &entry{ctx: built, expiresAt: c.clk.Now().Add(c.ttl)}, 1, c.ttl)
		c.rc.Wait()
	}
	c.mu.Unlock()
	return built, nil
}

func (c *Cache) fromSource(ctx context.Context, id int64) (*authz.Context, error) {
	p, err := c.src.LoadPrincipal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load principal: %w", err)
	}
	if !p.Active {
		return nil, authz.ErrInactivePrincipal
	}
	roles, err := c.src.ActiveRoles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	roleIDs := make([]int64, 0, len(roles))
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
		names = append(names, r.Name)
	}
	grants, err := c.src.Grants(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return &authz.Context{
		ID:        p.ID,
		PersonID:  p.PersonID,
		FullName:  p.FullName,
		Email:     p.Email,
		RoleNames: names,
		Menu:      authz.BuildMenu(grants),
	}, nil
}
