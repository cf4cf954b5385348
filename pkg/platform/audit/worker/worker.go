package worker

import (
	"context"
	"log/slog"
	"time"

	audit "coinledger/pkg/platform/audit"
)

// Relay moves committed outbox entries to the sink. It keeps draining while
// full batches come back and otherwise waits for the next tick.
type Relay struct {
	outbox   audit.Outbox
	sink     audit.Sink
	interval time.Duration
	batch    int
	logger   *slog.Logger
	onRelay  func(n int, err error)
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithObserver is called after every drain attempt, for metrics.
func WithObserver(fn func(n int, err error)) Option {
	return func(r *Relay) { r.onRelay = fn }
}

func NewRelay(outbox audit.Outbox, sink audit.Sink, opts ...Option) *Relay {
	r := &Relay{
		outbox:   outbox,
		sink:     sink,
		interval: time.Second,
		batch:    100,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until ctx is cancelled. Sink failures are logged and retried on
// the next tick; they never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.drainAll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains a single batch.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	n, err := r.outbox.Drain(ctx, r.batch, r.sink.Publish)
	if r.onRelay != nil {
		r.onRelay(n, err)
	}
	return n, err
}

func (r *Relay) drainAll(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "outbox relay failed", "error", err)
			return
		}
		if n < r.batch {
			return
		}
	}
}
