// Package cache holds the interpretation response cache.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"go.uber.org/zap"
)

const (
	DefaultMaxSize = 256
	DefaultTTL     = time.Hour
	maxErrorTTL    = time.Minute
	fingerprintSep = "\x00"
)

// DefaultContextKeys is the context allow-list used for fingerprints.
var DefaultContextKeys = []string{"os_family", "shell_family"}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size      int           `json:"size"`
	MaxSize   int           `json:"max_size"`
	TTL       time.Duration `json:"ttl"`
	ErrorTTL  time.Duration `json:"error_ttl"`
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	Evictions uint64        `json:"evictions"`
}

// Entry is one stored interpretation.
type Entry struct {
	Key            string                       `json:"key"`
	Value          dragonscale.ExtractionResult `json:"value"`
	CreatedAt      time.Time                    `json:"created_at"`
	LastAccessedAt time.Time                    `json:"last_accessed_at"`
}

// ResponseCache is an LRU cache with TTL expiry. A single mutex covers
// every operation, so expiry checks, eviction and reads are atomic with
// respect to concurrent writers.
type ResponseCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	recency  *list.List // front = most recently accessed
	maxSize  int
	ttl      time.Duration
	errorTTL time.Duration
	ctxKeys  []string
	now      func() time.Time
	logger   *zap.Logger

	hits, misses, evictions uint64
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithMaxSize caps the number of entries.
func WithMaxSize(n int) Option {
	return func(c *ResponseCache) {
		c.maxSize = n
	}
}

// WithTTL sets how long successful results live.
func WithTTL(ttl time.Duration) Option {
	return func(c *ResponseCache) {
		c.ttl = ttl
	}
}

// WithErrorTTL sets how long Error results live. It is capped at the TTL.
func WithErrorTTL(ttl time.Duration) Option {
	return func(c *ResponseCache) {
		c.errorTTL = ttl
	}
}

// WithContextKeys replaces the context allow-list used in fingerprints.
func WithContextKeys(keys ...string) Option {
	return func(c *ResponseCache) {
		c.ctxKeys = append([]string(nil), keys...)
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *ResponseCache) {
		c.logger = logger
	}
}

// New creates a ResponseCache. The error TTL defaults to the smaller of the
// TTL and one minute.
func New(opts ...Option) *ResponseCache {
	c := &ResponseCache{
		entries: make(map[string]*list.Element),
		recency: list.New(),
		maxSize: DefaultMaxSize,
		ttl:     DefaultTTL,
		ctxKeys: DefaultContextKeys,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxSize < 1 {
		c.maxSize = 1
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.errorTTL <= 0 {
		c.errorTTL = min(c.ttl, maxErrorTTL)
	}
	c.errorTTL = min(c.errorTTL, c.ttl)
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Fingerprint hashes the normalized query with the allow-listed context
// fields. encoding/json sorts map keys, so the serialization is stable.
func (c *ResponseCache) Fingerprint(query string, ci dragonscale.ContextInfo) string {
	return fingerprint(query, ci, c.ctxKeys)
}

func fingerprint(query string, ci dragonscale.ContextInfo, keys []string) string {
	fields := ci.Fields()
	subset := make(map[string]string, len(keys))
	for _, k := range keys {
		subset[k] = strings.ToLower(strings.TrimSpace(fields[k]))
	}
	ctxBytes, _ := json.Marshal(subset)

	h := sha256.New()
	h.Write([]byte(Normalize(query)))
	h.Write([]byte(fingerprintSep))
	h.Write(ctxBytes)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ResponseCache) lifetime(e *Entry) time.Duration {
	if e.Value.IsError() {
		return c.errorTTL
	}
	return c.ttl
}

func (c *ResponseCache) expiredLocked(e *Entry, now time.Time) bool {
	return now.Sub(e.CreatedAt) >= c.lifetime(e)
}

func (c *ResponseCache) removeLocked(el *list.Element) {
	e := c.recency.Remove(el).(*Entry)
	delete(c.entries, e.Key)
}

// Get returns the stored result. A hit refreshes recency; an expired entry
// is removed and reported as a miss.
func (c *ResponseCache) Get(query string, ci dragonscale.ContextInfo) (dragonscale.ExtractionResult, bool) {
	key := c.Fingerprint(query, ci)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return dragonscale.ExtractionResult{}, false
	}

	now := c.now()
	e := el.Value.(*Entry)
	if c.expiredLocked(e, now) {
		c.removeLocked(el)
		c.misses++
		c.logger.Debug("Cache entry expired", zap.String("key", key))
		return dragonscale.ExtractionResult{}, false
	}

	e.LastAccessedAt = now
	c.recency.MoveToFront(el)
	c.hits++
	return e.Value.Clone(), true
}

// Put stores result. Inserting a new key at capacity evicts the least
// recently accessed entry first.
func (c *ResponseCache) Put(query string, ci dragonscale.ContextInfo, result dragonscale.ExtractionResult) {
	key := c.Fingerprint(query, ci)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*Entry)
		e.Value = result.Clone()
		e.CreatedAt = now
		e.LastAccessedAt = now
		c.recency.MoveToFront(el)
		return
	}

	c.insertLocked(&Entry{Key: key, Value: result.Clone(), CreatedAt: now, LastAccessedAt: now})
}

func (c *ResponseCache) insertLocked(e *Entry) {
	for c.recency.Len() >= c.maxSize {
		oldest := c.recency.Back()
		if oldest == nil {
			break
		}
		c.logger.Debug("Evicting least recently used entry", zap.String("key", oldest.Value.(*Entry).Key))
		c.removeLocked(oldest)
		c.evictions++
	}
	c.entries[e.Key] = c.recency.PushFront(e)
}

// Invalidate removes a specific entry and reports whether it existed.
func (c *ResponseCache) Invalidate(query string, ci dragonscale.ContextInfo) bool {
	key := c.Fingerprint(query, ci)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Clear empties the cache. Counters are kept.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency.Init()
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.recency.Len(),
		MaxSize:   c.maxSize,
		TTL:       c.ttl,
		ErrorTTL:  c.errorTTL,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// GetContext is Get for callers that carry a context: it fails when ctx is
// done and reports a miss as a not-found error.
func (c *ResponseCache) GetContext(ctx context.Context, query string, ci dragonscale.ContextInfo) (dragonscale.ExtractionResult, error) {
	if err := contextDone(ctx); err != nil {
		return dragonscale.ExtractionResult{}, err
	}
	result, ok := c.Get(query, ci)
	if !ok {
		return dragonscale.ExtractionResult{}, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	return result, nil
}

// PutContext is Put for callers that carry a context.
func (c *ResponseCache) PutContext(ctx context.Context, query string, ci dragonscale.ContextInfo, result dragonscale.ExtractionResult) error {
	if err := contextDone(ctx); err != nil {
		return err
	}
	c.Put(query, ci, result)
	return nil
}

// contextDone reports ctx's error, classified by errbuilder, once ctx ends.
func contextDone(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if wrapped := errbuilder.WrapIfContextDone(ctx, err); wrapped != nil {
		return wrapped
	}
	return err
}

// snapshot returns live entries from least to most recently used.
func (c *ResponseCache) snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]Entry, 0, c.recency.Len())
	for el := c.recency.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*Entry)
		if !c.expiredLocked(e, now) {
			out = append(out, *e)
		}
	}
	return out
}

// restore inserts entries (least recently used first), skipping expired ones.
func (c *ResponseCache) restore(entries []Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	loaded := 0
	for i := range entries {
		e := entries[i]
		if e.Key == "" || c.expiredLocked(&e, now) {
			continue
		}
		if el, ok := c.entries[e.Key]; ok {
			c.removeLocked(el)
		}
		c.insertLocked(&e)
		loaded++
	}
	return loaded
}
