package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/metrics"
	"github.com/hrygo/intentgate/store"
)

const cacheType = "response"

// CacheEntry represents a cached classification.
type CacheEntry struct {
	Intent             ai.Intent         `json:"intent"`
	Confidence         float32           `json:"confidence"`
	Agreement          ai.AgreementLevel `json:"agreement"`
	NeedsClarification bool              `json:"needs_clarification"`
	Votes              []ai.Vote         `json:"votes"`
	Timestamp          int64             `json:"timestamp"`
}

// ResponseCache maps a message fingerprint to a merged classification.
// Entries are written once and only expire; store failures read as misses.
type ResponseCache struct {
	store   *store.Store
	ttl     time.Duration
	now     func() time.Time
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewResponseCache creates a response cache.
func NewResponseCache(s *store.Store, cfg ai.CacheConfig, recorder metrics.Recorder, logger *slog.Logger) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 6 * time.Hour
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{
		store:   s,
		ttl:     cfg.TTL,
		now:     time.Now,
		metrics: recorder,
		logger:  logger,
	}
}

// Fingerprint keys text by its normalized form, the caller's current local date
// and the timezone name, so date-relative queries roll over at local midnight.
func (c *ResponseCache) Fingerprint(text string, loc *time.Location) string {
	date := c.now().In(loc).Format("2006-01-02")

	h := sha256.New()
	h.Write([]byte(c.normalize(text)))
	h.Write([]byte{0})
	h.Write([]byte(date))
	h.Write([]byte{0})
	h.Write([]byte(loc.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// normalize applies NFKC, case folding and whitespace folding.
// A cases.Caser is stateful and cannot be shared between goroutines.
func (c *ResponseCache) normalize(text string) string {
	folded := cases.Fold().String(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

// Lookup returns the cached result for fingerprint.
func (c *ResponseCache) Lookup(ctx context.Context, fingerprint string) (*ai.Result, bool) {
	data, found, err := c.store.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		c.logger.Warn("response cache unavailable, forcing miss", "fingerprint", fingerprint, "error", err)
		c.metrics.RecordCacheMiss(cacheType)
		return nil, false
	}
	if !found {
		c.metrics.RecordCacheMiss(cacheType)
		return nil, false
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Debug("failed to unmarshal cache entry", "fingerprint", fingerprint, "error", err)
		c.metrics.RecordCacheMiss(cacheType)
		return nil, false
	}

	c.metrics.RecordCacheHit(cacheType)
	c.logger.Debug("response cache hit", "fingerprint", fingerprint, "intent", entry.Intent)
	return &ai.Result{
		Intent:             entry.Intent,
		Confidence:         entry.Confidence,
		Agreement:          entry.Agreement,
		NeedsClarification: entry.NeedsClarification,
		Votes:              entry.Votes,
		Status:             ai.StatusCached,
	}, true
}

// Store writes result under fingerprint unless a live entry already exists.
func (c *ResponseCache) Store(ctx context.Context, fingerprint string, result *ai.Result) {
	entry := CacheEntry{
		Intent:             result.Intent,
		Confidence:         result.Confidence,
		Agreement:          result.Agreement,
		NeedsClarification: result.NeedsClarification,
		Votes:              result.Votes,
		Timestamp:          c.now().Unix(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("failed to marshal cache entry", "error", err)
		return
	}

	created, err := c.store.PutCacheEntry(ctx, fingerprint, data, c.ttl)
	if err != nil {
		c.logger.Warn("failed to store cache entry", "fingerprint", fingerprint, "error", err)
		return
	}
	c.logger.Debug("response cache set", "fingerprint", fingerprint, "intent", result.Intent, "created", created, "ttl", c.ttl)
}
