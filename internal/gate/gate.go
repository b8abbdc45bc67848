// Package gate provides the process-wide critical section that compound
// stock and reservation operations run under. It serializes every such
// operation, which caps their throughput at one at a time.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/matheusmosca/bookstore-reservations/internal/telemetry"
)

var ErrAcquireTimeout = errors.New("gate.acquireTimeout")

// Gate is a mutex whose acquisition can be abandoned. Holders run one at a
// time.
type Gate struct {
	sem     chan struct{}
	timeout time.Duration
	waits   metric.Float64Histogram
}

type Option func(*Gate)

// WithAcquireTimeout bounds how long Do waits for the gate. Zero waits forever.
func WithAcquireTimeout(d time.Duration) Option {
	return func(g *Gate) {
		g.timeout = d
	}
}

func New(opts ...Option) *Gate {
	g := &Gate{
		sem:   make(chan struct{}, 1),
		waits: telemetry.Float64Histogram(telemetry.Meter("bookstore/gate"), "gate.wait.duration", "Time spent waiting for the coarse gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs fn while holding the gate. op names the operation in logs and
// metrics.
func (g *Gate) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.acquire(ctx, op); err != nil {
		return err
	}
	defer g.release()
	return fn(ctx)
}

func (g *Gate) acquire(ctx context.Context, op string) error {
	start := time.Now()
	defer func() {
		g.waits.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("operation", op)))
	}()

	var timeout <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case g.sem <- struct{}{}:
		return nil
	case <-timeout:
		log.Warn().Str("operation", op).Dur("timeout", g.timeout).Msg("gate acquire timed out")
		return ErrAcquireTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) release() {
	<-g.sem
}
