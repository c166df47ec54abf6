// Package gate admits inbound messages exactly once.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/metrics"
	"github.com/hrygo/intentgate/store"
)

// Decision is the outcome of Admit.
type Decision int

const (
	Admitted Decision = iota
	RejectedDuplicate
	RejectedStaleOnStartup
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case RejectedDuplicate:
		return "duplicate"
	case RejectedStaleOnStartup:
		return "stale_on_startup"
	default:
		return "unknown"
	}
}

// Gate deduplicates deliveries and drops the backlog a transport replays after a restart.
type Gate struct {
	store   *store.Store
	cfg     ai.GateConfig
	started time.Time
	now     func() time.Time
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock; the process start time is read from it at construction.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithMetrics(recorder metrics.Recorder) Option {
	return func(g *Gate) { g.metrics = recorder }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// New creates a gate whose startup grace period begins now.
func New(s *store.Store, cfg ai.GateConfig, opts ...Option) *Gate {
	g := &Gate{
		store:   s,
		cfg:     cfg,
		now:     time.Now,
		metrics: metrics.Nop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.started = g.now()
	return g
}

// Admit records msg.ID as processed and reports whether the message may proceed.
// Store failures are returned; callers must not treat them as admission.
func (g *Gate) Admit(ctx context.Context, msg *ai.IncomingMessage) (Decision, error) {
	now := g.now()

	created, err := g.store.MarkProcessed(ctx, msg.ID, now, g.cfg.DedupTTL)
	if err != nil {
		g.metrics.RecordGate("error")
		return RejectedDuplicate, fmt.Errorf("gate: mark %s processed: %w", msg.ID, err)
	}
	if !created {
		g.logger.Debug("duplicate message rejected", "message_id", msg.ID)
		g.metrics.RecordGate(RejectedDuplicate.String())
		return RejectedDuplicate, nil
	}

	// Age is only checked while the startup backlog drains.
	if now.Sub(g.started) < g.cfg.StartupGrace && now.Sub(msg.Timestamp) > g.cfg.StaleThreshold {
		g.logger.Info("stale message rejected during startup grace",
			"message_id", msg.ID,
			"age", now.Sub(msg.Timestamp).Round(time.Second))
		g.metrics.RecordGate(RejectedStaleOnStartup.String())
		return RejectedStaleOnStartup, nil
	}

	g.metrics.RecordGate(Admitted.String())
	return Admitted, nil
}
