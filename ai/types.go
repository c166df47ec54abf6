// Package ai holds the shared types of the classification gateway.
package ai

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrAllBackendsFailed is returned by Classify when no backend produced a vote.
// The fallback Result is still returned alongside it.
var ErrAllBackendsFailed = errors.New("all classification backends failed")

// ErrThrottled is returned by a backend whose client-side request budget
// cannot admit another call before the context ends. It is not retried.
var ErrThrottled = errors.New("backend request budget exhausted")

// Intent represents a classified user intent.
type Intent string

const (
	IntentMemoSearch     Intent = "memo_search"
	IntentMemoCreate     Intent = "memo_create"
	IntentScheduleQuery  Intent = "schedule_query"
	IntentScheduleCreate Intent = "schedule_create"
	IntentScheduleUpdate Intent = "schedule_update"
	IntentBatchSchedule  Intent = "batch_schedule"

	IntentUnknown Intent = "unknown"
)

// AllowedIntents lists every intent a backend may return.
var AllowedIntents = []Intent{
	IntentScheduleQuery,
	IntentScheduleCreate,
	IntentScheduleUpdate,
	IntentBatchSchedule,
	IntentMemoSearch,
	IntentMemoCreate,
	IntentUnknown,
}

// ParseIntent normalizes a backend label. Labels outside AllowedIntents map to IntentUnknown.
func ParseIntent(label string) Intent {
	candidate := Intent(strings.ToLower(strings.TrimSpace(label)))
	for _, intent := range AllowedIntents {
		if candidate == intent {
			return intent
		}
	}
	return IntentUnknown
}

// IncomingMessage is one delivery from the transport.
// ID is unique per delivery and is the unit of deduplication.
type IncomingMessage struct {
	ID        string    `json:"id"`
	CallerID  string    `json:"caller_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AgreementLevel describes how many backends concurred on the winning intent.
type AgreementLevel string

const (
	AgreementFull   AgreementLevel = "full"
	AgreementSplit  AgreementLevel = "split"
	AgreementSingle AgreementLevel = "single"
	AgreementNone   AgreementLevel = "none"
)

// Status tells the caller which path produced a Result.
type Status string

const (
	StatusClassified Status = "classified"
	StatusCached     Status = "cached"
	StatusDuplicate  Status = "duplicate"
	StatusStale      Status = "stale"
	StatusLimited    Status = "limited"
	StatusFailed     Status = "failed"
)

// Vote is the outcome of one backend attempt.
type Vote struct {
	Backend    string  `json:"backend"`
	Intent     Intent  `json:"intent"`
	Confidence float32 `json:"confidence"`
	LatencyMs  int64   `json:"latency_ms"`
	Failed     bool    `json:"failed"`
	Error      string  `json:"error,omitempty"`
}

// Result is the merged classification returned to the caller.
type Result struct {
	Intent             Intent         `json:"intent"`
	Confidence         float32        `json:"confidence"`
	Agreement          AgreementLevel `json:"agreement"`
	NeedsClarification bool           `json:"needs_clarification"`
	Votes              []Vote         `json:"votes"`

	// Status and the fields below are request-scoped; they are not cached.
	Status Status `json:"status"`
	// Failed distinguishes "every backend failed" from backends agreeing on unknown.
	Failed bool `json:"failed,omitempty"`
	// Reason names the block reason or gate outcome for non-classified results.
	Reason string `json:"reason,omitempty"`
}

// Fallback returns the zero-confidence unknown result.
func Fallback(status Status, reason string) *Result {
	return &Result{
		Intent:     IntentUnknown,
		Confidence: 0,
		Agreement:  AgreementNone,
		Votes:      []Vote{},
		Status:     status,
		Failed:     status == StatusFailed,
		Reason:     reason,
	}
}

// ClassifyRequest is what a backend sees of a message.
type ClassifyRequest struct {
	Text string
	// Local is the message timestamp in the caller's timezone.
	Local time.Time
}

// Prediction is one backend's answer.
type Prediction struct {
	Intent     Intent
	Confidence float32
}

// Backend is a single text-classification backend.
type Backend interface {
	Name() string
	Classify(ctx context.Context, req *ClassifyRequest) (*Prediction, error)
}
