package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/gate"
	"github.com/hrygo/intentgate/ai/limiter"
	"github.com/hrygo/intentgate/ai/metrics"
	"github.com/hrygo/intentgate/ai/notify"
	"github.com/hrygo/intentgate/ai/observability/logging"
	"github.com/hrygo/intentgate/store"
)

var errEmptyPrediction = errors.New("backend returned no prediction")

// Admitter decides whether a delivery is processed at all.
type Admitter interface {
	Admit(ctx context.Context, msg *ai.IncomingMessage) (gate.Decision, error)
}

// Consumer accounts one backend-bound request against usage limits.
type Consumer interface {
	TryConsume(ctx context.Context, callerID string) (*limiter.Decision, error)
}

// Components are the collaborators of an Ensemble. Backends are in priority order.
type Components struct {
	Gate     Admitter
	Cache    *ResponseCache
	Limiter  Consumer
	Alerter  limiter.Alerter
	Backends []ai.Backend
}

// Ensemble is the classification entry point:
// gate -> cache -> limiter -> parallel backends -> merge -> cache.
type Ensemble struct {
	gate     Admitter
	cache    *ResponseCache
	limiter  Consumer
	alerter  limiter.Alerter
	backends []ai.Backend

	cfg        ai.EnsembleConfig
	policy     MergePolicy
	defaultLoc *time.Location
	inFlight   *semaphore.Weighted

	now     func() time.Time
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Option configures an Ensemble.
type Option func(*Ensemble)

func WithClock(now func() time.Time) Option {
	return func(e *Ensemble) { e.now = now }
}

func WithMetrics(recorder metrics.Recorder) Option {
	return func(e *Ensemble) { e.metrics = recorder }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Ensemble) { e.logger = logger }
}

// NewEnsemble creates an ensemble classifier.
func NewEnsemble(c Components, cfg ai.EnsembleConfig, opts ...Option) (*Ensemble, error) {
	if c.Gate == nil || c.Cache == nil || c.Limiter == nil {
		return nil, errors.New("ensemble: gate, cache and limiter are required")
	}
	if len(c.Backends) == 0 {
		return nil, errors.New("ensemble: at least one backend is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if seen[b.Name()] {
			return nil, fmt.Errorf("ensemble: duplicate backend name %q", b.Name())
		}
		seen[b.Name()] = true
	}

	tz := cfg.DefaultTimezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("ensemble: load default timezone %q: %w", tz, err)
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 8 * time.Second
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = 12 * time.Second
	}

	e := &Ensemble{
		gate:     c.Gate,
		cache:    c.Cache,
		limiter:  c.Limiter,
		alerter:  c.Alerter,
		backends: c.Backends,
		cfg:      cfg,
		policy: MergePolicy{
			FullConfidence:   cfg.FullConfidence,
			SplitConfidence:  cfg.SplitConfidence,
			SingleConfidence: cfg.SingleConfidence,
		},
		defaultLoc: loc,
		inFlight:   semaphore.NewWeighted(cfg.MaxInFlight),
		now:        time.Now,
		metrics:    metrics.Nop{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Backends returns the backend names in priority order.
func (e *Ensemble) Backends() []string {
	names := make([]string, len(e.backends))
	for i, b := range e.backends {
		names[i] = b.Name()
	}
	return names
}

// Classify runs msg through the gateway. tz is the caller's IANA timezone; an
// empty or unknown name uses the default timezone.
//
// The returned Result is never nil. The error is ai.ErrAllBackendsFailed when
// every backend failed, or a wrapped store error when the gate or limiter could
// not decide; no backend is called in the latter case.
func (e *Ensemble) Classify(ctx context.Context, msg *ai.IncomingMessage, tz string) (*ai.Result, error) {
	start := time.Now()
	ctx, logger := logging.WithRequest(ctx, e.logger, "message_id", msg.ID, "caller_id", msg.CallerID)

	res, err := e.classify(ctx, logger, msg, tz)

	latency := time.Since(start)
	e.metrics.RecordClassification(string(res.Status), string(res.Agreement), latency)
	logger.Info("classification finished",
		"status", res.Status,
		"intent", res.Intent,
		"agreement", res.Agreement,
		"confidence", res.Confidence,
		"latency_ms", latency.Milliseconds())
	return res, err
}

func (e *Ensemble) classify(ctx context.Context, logger *slog.Logger, msg *ai.IncomingMessage, tz string) (*ai.Result, error) {
	decision, err := e.gate.Admit(ctx, msg)
	if err != nil {
		logger.Error("message gate unavailable", "error", err)
		return ai.Fallback(ai.StatusFailed, "store_unavailable"), fmt.Errorf("ensemble: %w", err)
	}
	switch decision {
	case gate.RejectedDuplicate:
		return ai.Fallback(ai.StatusDuplicate, decision.String()), nil
	case gate.RejectedStaleOnStartup:
		return ai.Fallback(ai.StatusStale, decision.String()), nil
	}

	loc := e.location(logger, tz)
	fingerprint := e.cache.Fingerprint(msg.Text, loc)
	if cached, ok := e.cache.Lookup(ctx, fingerprint); ok {
		return cached, nil
	}

	usage, err := e.limiter.TryConsume(ctx, msg.CallerID)
	if err != nil {
		logger.Error("usage limiter unavailable, blocking", "error", err)
		return ai.Fallback(ai.StatusLimited, "limiter_unavailable"), fmt.Errorf("ensemble: %w", err)
	}
	if !usage.Allowed {
		return ai.Fallback(ai.StatusLimited, string(usage.Reason)), nil
	}

	sent := msg.Timestamp
	if sent.IsZero() {
		sent = e.now()
	}
	votes := e.fanOut(ctx, logger, &ai.ClassifyRequest{Text: msg.Text, Local: sent.In(loc)})

	res := e.policy.Merge(votes)
	if res.Failed {
		e.alertBackendsDown(ctx, votes)
		return res, ai.ErrAllBackendsFailed
	}

	e.cache.Store(ctx, fingerprint, res)
	return res, nil
}

func (e *Ensemble) location(logger *slog.Logger, tz string) *time.Location {
	if tz == "" {
		return e.defaultLoc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logger.Warn("unknown caller timezone, using default", "timezone", tz, "default", e.defaultLoc.String())
		return e.defaultLoc
	}
	return loc
}

type indexedVote struct {
	index int
	vote  ai.Vote
}

// fanOut calls every backend concurrently and returns one vote per backend in
// priority order. It stops waiting at the overall timeout; backends still
// running are recorded as failed and left to finish under their own timeout.
func (e *Ensemble) fanOut(ctx context.Context, logger *slog.Logger, req *ai.ClassifyRequest) []ai.Vote {
	start := time.Now()
	results := make(chan indexedVote, len(e.backends))

	for i, b := range e.backends {
		i, b := i, b
		go func() {
			results <- indexedVote{index: i, vote: e.callBackend(ctx, logger, b, req)}
		}()
	}

	votes := make([]ai.Vote, len(e.backends))
	received := make([]bool, len(e.backends))
	timer := time.NewTimer(e.cfg.OverallTimeout)
	defer timer.Stop()

	reason := ""
collect:
	for pending := len(e.backends); pending > 0; pending-- {
		select {
		case r := <-results:
			votes[r.index] = r.vote
			received[r.index] = true
		case <-timer.C:
			reason = "overall timeout"
			break collect
		case <-ctx.Done():
			reason = ctx.Err().Error()
			break collect
		}
	}

	for i, ok := range received {
		if ok {
			continue
		}
		logger.Warn("backend ignored after overall timeout", "backend", e.backends[i].Name())
		votes[i] = ai.Vote{
			Backend:   e.backends[i].Name(),
			Intent:    ai.IntentUnknown,
			LatencyMs: time.Since(start).Milliseconds(),
			Failed:    true,
			Error:     reason,
		}
	}
	return votes
}

// callBackend makes at most two attempts, the second only after a retryable
// failure. Both share one per-backend timeout that outlives the caller's context.
func (e *Ensemble) callBackend(ctx context.Context, logger *slog.Logger, b ai.Backend, req *ai.ClassifyRequest) (vote ai.Vote) {
	start := time.Now()
	vote = ai.Vote{Backend: b.Name(), Intent: ai.IntentUnknown}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("backend panicked", "backend", b.Name(), "panic", r)
			vote = ai.Vote{Backend: b.Name(), Intent: ai.IntentUnknown, Failed: true, Error: fmt.Sprintf("panic: %v", r)}
		}
		vote.LatencyMs = time.Since(start).Milliseconds()
	}()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.BackendTimeout)
	defer cancel()

	pred, err := e.attempt(callCtx, b, req)
	if err != nil {
		if classified := ClassifyError(err); classified.Retryable() {
			logger.Debug("retrying backend", "backend", b.Name(), "class", classified.Class, "error", err)
			e.metrics.RecordBackendRetry(b.Name())
			if waitErr := sleepCtx(callCtx, classified.RetryAfter); waitErr != nil {
				err = waitErr
			} else {
				pred, err = e.attempt(callCtx, b, req)
			}
		}
	}
	if err != nil {
		logger.Warn("backend failed", "backend", b.Name(), "class", ClassifyError(err).Class, "error", err)
		vote.Failed = true
		vote.Error = err.Error()
		return vote
	}

	vote.Intent = ai.ParseIntent(string(pred.Intent))
	vote.Confidence = clampConfidence(pred.Confidence)
	logger.Debug("backend voted", "backend", b.Name(), "intent", vote.Intent, "confidence", vote.Confidence)
	return vote
}

func (e *Ensemble) attempt(ctx context.Context, b ai.Backend, req *ai.ClassifyRequest) (*ai.Prediction, error) {
	if err := e.inFlight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for in-flight slot: %w", err)
	}
	defer e.inFlight.Release(1)
	e.metrics.AddBackendsInFlight(1)
	defer e.metrics.AddBackendsInFlight(-1)

	start := time.Now()
	pred, err := b.Classify(ctx, req)
	if err == nil && pred == nil {
		err = errEmptyPrediction
	}

	errorType := ""
	if err != nil {
		errorType = ClassifyError(err).Class.String()
	}
	e.metrics.RecordBackendCall(b.Name(), time.Since(start), err == nil, errorType)
	return pred, err
}

func (e *Ensemble) alertBackendsDown(ctx context.Context, votes []ai.Vote) {
	if e.alerter == nil {
		return
	}
	details := make([]string, 0, len(votes))
	for _, v := range votes {
		details = append(details, v.Backend+": "+v.Error)
	}

	now := e.now().UTC()
	alert := &notify.Alert{
		Kind:      notify.KindBackendsDown,
		WindowID:  store.HourWindow(now),
		Detail:    strings.Join(details, "; "),
		Timestamp: now,
	}
	e.alerter.SendOnce(ctx, alert.Kind, alert.WindowID, store.Hour, alert.String())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clampConfidence(c float32) float32 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
