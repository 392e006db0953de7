package collector

import (
	"context"
	"time"

	"github.com/hindsight-sh/hindsight/pkg/log"
	"github.com/hindsight-sh/hindsight/pkg/metrics"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

// Sink receives every event a collector emits. The daemon wires all
// collectors to a single sink; collectors never talk to storage directly.
type Sink func(*types.Event)

// Collector is the capability contract every observer implements. The
// supervisor calls Start once, then Run on its own goroutine; Run blocks
// until the context is cancelled. Stop releases resources and is safe to
// call more than once.
type Collector interface {
	Name() string
	SetSink(Sink)
	Start(ctx context.Context) error
	Run(ctx context.Context)
	Stop() error
}

// pollLoop drives a polling collector: fn runs once per interval until the
// context is cancelled. A failed pass logs, counts, and skips the next tick
// so a persistently failing source backs off instead of spinning.
func pollLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	logger := log.WithCollector(name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	backoff := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if backoff {
				backoff = false
				continue
			}
			if err := fn(ctx); err != nil {
				metrics.CollectorErrors.WithLabelValues(name).Inc()
				logger.Warn().Err(err).Msg("Collection pass failed")
				backoff = true
			}
		}
	}
}
