package idempotency

import (
	"context"
	"log/slog"
	"time"

	"coinledger/pkg/platform/circuit"
)

// Cache is the replay cache contract shared by every implementation.
type Cache interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Remember(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// GuardedCache puts a circuit breaker in front of a remote primary. While the
// breaker is open, answers come from the local fallback; the primary keeps
// being probed so the breaker can close again.
type GuardedCache struct {
	primary  Cache
	fallback Cache
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type GuardOption func(*GuardedCache)

func WithBreaker(b *circuit.Breaker) GuardOption {
	return func(g *GuardedCache) {
		g.breaker = b
	}
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *GuardedCache) {
		g.logger = logger
	}
}

func NewGuardedCache(primary, fallback Cache, opts ...GuardOption) *GuardedCache {
	g := &GuardedCache{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("replay-cache"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State exposes the breaker state for health reporting.
func (g *GuardedCache) State() circuit.State {
	return g.breaker.State()
}

func (g *GuardedCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.primary.Claim(ctx, key, ttl)
	if g.usePrimary(ctx, "claim", err) {
		return ok, err
	}
	return g.fallback.Claim(ctx, key, ttl)
}

func (g *GuardedCache) Release(ctx context.Context, key string) error {
	err := g.primary.Release(ctx, key)
	fallbackErr := g.fallback.Release(ctx, key)
	if g.usePrimary(ctx, "release", err) {
		return err
	}
	return fallbackErr
}

func (g *GuardedCache) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	value, found, err := g.primary.Lookup(ctx, key)
	if g.usePrimary(ctx, "lookup", err) {
		return value, found, err
	}
	return g.fallback.Lookup(ctx, key)
}

// Remember writes to both caches so the fallback is warm when the breaker
// opens.
func (g *GuardedCache) Remember(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := g.primary.Remember(ctx, key, value, ttl)
	fallbackErr := g.fallback.Remember(ctx, key, value, ttl)
	if g.usePrimary(ctx, "remember", err) {
		return err
	}
	return fallbackErr
}

// usePrimary records the primary's outcome and reports whether its answer
// should be returned. A primary error below the threshold is returned as is.
func (g *GuardedCache) usePrimary(ctx context.Context, op string, err error) bool {
	if err != nil {
		useFallback, change := g.breaker.RecordFailure()
		if change.Opened {
			g.logger.WarnContext(ctx, "replay cache circuit opened",
				"breaker", g.breaker.Name(), "op", op, "error", err)
		}
		return !useFallback
	}
	usePrimary, change := g.breaker.RecordSuccess()
	if change.Closed {
		g.logger.InfoContext(ctx, "replay cache circuit closed", "breaker", g.breaker.Name())
	}
	return usePrimary
}
