// Package limiter bounds backend spend with global and per-caller usage windows.
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/metrics"
	"github.com/hrygo/intentgate/ai/notify"
	"github.com/hrygo/intentgate/store"
)

// Reason explains a blocked call.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonDailyLimitExceeded  Reason = "daily_limit_exceeded"
	ReasonHourlySpike         Reason = "hourly_spike"
	ReasonCallerLimitExceeded Reason = "caller_limit_exceeded"
)

// Alerter sends an alert at most once per (kind, window).
type Alerter interface {
	SendOnce(ctx context.Context, kind notify.Kind, windowID string, window time.Duration, payload string) notify.Outcome
}

// Decision is the outcome of TryConsume. Counts are the values after this call.
type Decision struct {
	Allowed bool
	Reason  Reason
	Daily   int64
	Hourly  int64
	Caller  int64
}

// Usage is a read-only view of the current windows.
type Usage struct {
	CallerID         string `json:"caller_id,omitempty"`
	DayWindow        string `json:"day_window"`
	HourWindow       string `json:"hour_window"`
	Daily            int64  `json:"daily"`
	DailyLimit       int64  `json:"daily_limit"`
	Hourly           int64  `json:"hourly"`
	HourlyLimit      int64  `json:"hourly_limit"`
	Caller           int64  `json:"caller"`
	CallerDailyLimit int64  `json:"caller_daily_limit"`
}

// Limiter counts every consumed call in three windows: global day, global hour
// and caller day. All state lives in the store.
type Limiter struct {
	store   *store.Store
	cfg     ai.LimiterConfig
	loc     *time.Location
	alerter Alerter
	now     func() time.Time
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithMetrics(recorder metrics.Recorder) Option {
	return func(l *Limiter) { l.metrics = recorder }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a limiter. Window boundaries follow cfg.Timezone (UTC when empty).
func New(s *store.Store, cfg ai.LimiterConfig, alerter Alerter, opts ...Option) (*Limiter, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("limiter: load timezone %q: %w", tz, err)
	}
	if cfg.DailyWarn <= 0 || cfg.DailyWarn > cfg.DailyLimit {
		cfg.DailyWarn = cfg.DailyLimit
	}

	l := &Limiter{
		store:   s,
		cfg:     cfg,
		loc:     loc,
		alerter: alerter,
		now:     time.Now,
		metrics: metrics.Nop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TryConsume counts one call for callerID and decides whether it may reach a backend.
//
// A window blocks once its count before this call had already reached the
// limit, so a counter at limit-1 allows exactly one more call. Scopes are
// checked in order: global day, global hour, caller day. Store errors are
// returned and must be treated as blocked.
func (l *Limiter) TryConsume(ctx context.Context, callerID string) (*Decision, error) {
	now := l.now().In(l.loc)

	daily, err := l.store.IncrementUsage(ctx, store.DailyCounter(now), store.Day)
	if err != nil {
		return nil, fmt.Errorf("limiter: increment daily counter: %w", err)
	}
	hourly, err := l.store.IncrementUsage(ctx, store.HourlyCounter(now), store.Hour)
	if err != nil {
		return nil, fmt.Errorf("limiter: increment hourly counter: %w", err)
	}
	caller, err := l.store.IncrementUsage(ctx, store.CallerDailyCounter(now, callerID), store.Day)
	if err != nil {
		return nil, fmt.Errorf("limiter: increment caller counter: %w", err)
	}

	d := &Decision{Allowed: true, Daily: daily, Hourly: hourly, Caller: caller}

	if daily >= l.cfg.DailyWarn {
		l.alert(ctx, &notify.Alert{
			Kind:     notify.KindDailyWarning,
			WindowID: store.DayWindow(now),
			Count:    daily,
			Limit:    l.cfg.DailyWarn,
		}, store.Day)
	}

	switch {
	case daily > l.cfg.DailyLimit:
		d.Allowed, d.Reason = false, ReasonDailyLimitExceeded
		l.alert(ctx, &notify.Alert{
			Kind:     notify.KindDailyLimit,
			WindowID: store.DayWindow(now),
			Count:    daily,
			Limit:    l.cfg.DailyLimit,
		}, store.Day)
	case hourly > l.cfg.HourlyLimit:
		d.Allowed, d.Reason = false, ReasonHourlySpike
		l.alert(ctx, &notify.Alert{
			Kind:     notify.KindHourlySpike,
			WindowID: store.HourWindow(now),
			Count:    hourly,
			Limit:    l.cfg.HourlyLimit,
		}, store.Hour)
	case caller > l.cfg.CallerDailyLimit:
		d.Allowed, d.Reason = false, ReasonCallerLimitExceeded
		l.alert(ctx, &notify.Alert{
			Kind:     notify.KindCallerLimit,
			WindowID: store.CallerDayWindow(now, callerID),
			Count:    caller,
			Limit:    l.cfg.CallerDailyLimit,
		}, store.Day)
	}

	if d.Allowed {
		l.metrics.RecordLimiter("allowed")
	} else {
		l.metrics.RecordLimiter(string(d.Reason))
		l.logger.Warn("usage limit reached",
			"caller_id", callerID,
			"reason", d.Reason,
			"daily", daily,
			"hourly", hourly,
			"caller", caller)
	}
	return d, nil
}

// Snapshot reads the current window counts without consuming.
func (l *Limiter) Snapshot(ctx context.Context, callerID string) (*Usage, error) {
	now := l.now().In(l.loc)

	u := &Usage{
		CallerID:         callerID,
		DayWindow:        store.DayWindow(now),
		HourWindow:       store.HourWindow(now),
		DailyLimit:       l.cfg.DailyLimit,
		HourlyLimit:      l.cfg.HourlyLimit,
		CallerDailyLimit: l.cfg.CallerDailyLimit,
	}

	var err error
	if u.Daily, err = l.store.GetUsage(ctx, store.DailyCounter(now)); err != nil {
		return nil, fmt.Errorf("limiter: read daily counter: %w", err)
	}
	if u.Hourly, err = l.store.GetUsage(ctx, store.HourlyCounter(now)); err != nil {
		return nil, fmt.Errorf("limiter: read hourly counter: %w", err)
	}
	if callerID != "" {
		if u.Caller, err = l.store.GetUsage(ctx, store.CallerDailyCounter(now, callerID)); err != nil {
			return nil, fmt.Errorf("limiter: read caller counter: %w", err)
		}
	}
	return u, nil
}

func (l *Limiter) alert(ctx context.Context, a *notify.Alert, window time.Duration) {
	if l.alerter == nil {
		return
	}
	a.Timestamp = l.now()
	l.alerter.SendOnce(ctx, a.Kind, a.WindowID, window, a.String())
}
