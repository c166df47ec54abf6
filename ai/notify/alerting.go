// Package notify delivers admin alerts at most once per (kind, window).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/intentgate/ai/metrics"
	"github.com/hrygo/intentgate/store"
)

// defaultDispatchTimeout bounds one alert dispatch across all targets.
const defaultDispatchTimeout = 5 * time.Second

// Kind identifies an alert condition.
type Kind string

const (
	KindDailyWarning Kind = "daily_warning"
	KindDailyLimit   Kind = "daily_limit"
	KindHourlySpike  Kind = "hourly_spike"
	KindCallerLimit  Kind = "caller_limit"
	KindBackendsDown Kind = "backends_down"
)

// Outcome is the result of SendOnce.
type Outcome int

const (
	Suppressed Outcome = iota
	Sent
)

func (o Outcome) String() string {
	if o == Sent {
		return "sent"
	}
	return "suppressed"
}

// Channel is a concrete notification transport.
type Channel interface {
	Name() string
	Notify(ctx context.Context, recipient, text string) error
}

// Target pairs a channel with one recipient on it.
type Target struct {
	Channel   Channel
	Recipient string
}

// Alert is the payload of one admin alert.
type Alert struct {
	Kind      Kind
	WindowID  string
	Count     int64
	Limit     int64
	Detail    string
	Timestamp time.Time
}

// String renders the alert for chat delivery.
func (a *Alert) String() string {
	switch a.Kind {
	case KindDailyWarning:
		return fmt.Sprintf("⚠️ Daily classification usage %d reached the warning threshold %d (window %s)", a.Count, a.Limit, a.WindowID)
	case KindDailyLimit:
		return fmt.Sprintf("🛑 Daily classification limit %d reached; calls are blocked until the window %s ends", a.Limit, a.WindowID)
	case KindHourlySpike:
		return fmt.Sprintf("🚨 Hourly spike: %d calls in window %s exceed the hourly limit %d; check for a crash loop", a.Count, a.WindowID, a.Limit)
	case KindCallerLimit:
		return fmt.Sprintf("🛑 Caller limit %d reached (%s)", a.Limit, a.WindowID)
	case KindBackendsDown:
		return fmt.Sprintf("🚨 All classification backends failed (window %s): %s", a.WindowID, a.Detail)
	default:
		return fmt.Sprintf("Unknown alert type: %s", a.Kind)
	}
}

// Notifier sends alerts through its targets, guarded by atomic alert flags.
type Notifier struct {
	store   *store.Store
	targets []Target
	timeout time.Duration
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewNotifier creates a notifier. With no targets alerts are only logged.
func NewNotifier(store *store.Store, targets []Target, recorder metrics.Recorder, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Notifier{
		store:   store,
		targets: targets,
		timeout: defaultDispatchTimeout,
		metrics: recorder,
		logger:  logger,
	}
}

// SendOnce creates the (kind, windowID) flag with TTL window and dispatches payload
// only if this call created it. Flag store errors suppress the alert; channel
// errors are logged. Neither is returned.
func (n *Notifier) SendOnce(ctx context.Context, kind Kind, windowID string, window time.Duration, payload string) Outcome {
	created, err := n.store.CreateAlertFlag(ctx, string(kind), windowID, window)
	if err != nil {
		n.logger.Error("Notifier: failed to create alert flag",
			"kind", kind,
			"window_id", windowID,
			"error", err)
		n.metrics.RecordAlert(string(kind), "error")
		return Suppressed
	}
	if !created {
		n.logger.Debug("Notifier: alert suppressed", "kind", kind, "window_id", windowID)
		n.metrics.RecordAlert(string(kind), Suppressed.String())
		return Suppressed
	}

	n.dispatch(ctx, kind, payload)
	n.metrics.RecordAlert(string(kind), Sent.String())
	return Sent
}

// dispatch delivers payload to every target. It survives cancellation of the
// classify request so a sent flag is never left without a delivery attempt.
func (n *Notifier) dispatch(ctx context.Context, kind Kind, payload string) {
	n.logger.Warn("admin alert", "kind", kind, "payload", payload)
	if len(n.targets) == 0 {
		return
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	for _, t := range n.targets {
		if err := t.Channel.Notify(dctx, t.Recipient, payload); err != nil {
			n.logger.Error("Notifier: failed to deliver alert",
				"kind", kind,
				"channel", t.Channel.Name(),
				"recipient", t.Recipient,
				"error", err)
		}
	}
}

// LogChannel delivers alerts to a structured logger.
type LogChannel struct {
	Logger *slog.Logger
}

func (LogChannel) Name() string { return "log" }

func (c LogChannel) Notify(_ context.Context, recipient, text string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("alert delivered", "recipient", recipient, "text", text)
	return nil
}
