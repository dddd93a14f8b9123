// Package ratelimit provides the global sliding-window limiter shared by
// the pipeline and the HTTP layer. Keys are opaque principals, typically
// hashed API keys. The limiter never fails a caller: every check returns a
// structured verdict and backend errors degrade to not-exceeded.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recognized windows and defaults.
const (
	RequestsPerMinute = "requests_per_minute"
	RequestsPerHour   = "requests_per_hour"
	RequestsPerDay    = "requests_per_day"
)

var windowDurations = map[string]time.Duration{
	RequestsPerMinute: time.Minute,
	RequestsPerHour:   time.Hour,
	RequestsPerDay:    24 * time.Hour,
}

// DefaultLimits returns the stock per-key limits.
func DefaultLimits() map[string]int {
	return map[string]int{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
	}
}

// Verdict is the structured result of a rate limit check.
type Verdict struct {
	Exceeded       bool           `json:"exceeded"`
	ExceededLimits []string       `json:"exceeded_limits,omitempty"`
	Remaining      map[string]int `json:"remaining"`
	Limit          map[string]int `json:"limit"`
	Reason         string         `json:"reason,omitempty"`
}

// WindowStatus describes one window for a key.
type WindowStatus struct {
	Current   int       `json:"current"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// KeyStatus is the full per-key view.
type KeyStatus struct {
	Key     string                  `json:"key"`
	Details map[string]WindowStatus `json:"details"`
}

// Limiter is the contract shared by the in-memory and redis backends.
type Limiter interface {
	Check(ctx context.Context, key string, overrides map[string]int) Verdict
	Record(ctx context.Context, key string)
	GetStatus(ctx context.Context, key string) KeyStatus
	Reset(ctx context.Context, key string)
	SetDefaultLimits(limits map[string]int)
	Keys(ctx context.Context) []string
}

var (
	defaultOnce    sync.Once
	defaultLimiter Limiter
)

// Default returns the process-wide limiter, lazily initialized with stock
// limits. Libraries and tests that need isolation construct their own via
// NewMemoryLimiter.
func Default() Limiter {
	defaultOnce.Do(func() {
		defaultLimiter = NewMemoryLimiter(nil, zap.NewNop())
	})
	return defaultLimiter
}

type entry struct {
	limits map[string]int
	events []time.Time
}

// MemoryLimiter keeps per-key sliding windows under a single mutex.
// Operations are O(events in the longest window); eviction is opportunistic
// on each check or record.
type MemoryLimiter struct {
	mu       sync.Mutex
	defaults map[string]int
	entries  map[string]*entry
	logger   *zap.Logger
}

func NewMemoryLimiter(defaults map[string]int, logger *zap.Logger) *MemoryLimiter {
	if defaults == nil {
		defaults = DefaultLimits()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLimiter{
		defaults: defaults,
		entries:  make(map[string]*entry),
		logger:   logger.Named("ratelimit"),
	}
}

func (l *MemoryLimiter) entryLocked(key string) *entry {
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limits: copyLimits(l.defaults)}
		l.entries[key] = e
	}
	return e
}

// Check evaluates every configured window without consuming quota. A limit
// of zero or less is always exceeded.
func (l *MemoryLimiter) Check(_ context.Context, key string, overrides map[string]int) Verdict {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entryLocked(key)
	l.evictLocked(e, now)

	limits := copyLimits(e.limits)
	for w, v := range overrides {
		limits[w] = v
	}

	verdict := Verdict{
		Remaining: make(map[string]int, len(limits)),
		Limit:     make(map[string]int, len(limits)),
	}
	for window, limit := range limits {
		d, ok := windowDurations[window]
		if !ok {
			continue
		}
		current := countSince(e.events, now.Add(-d))
		verdict.Limit[window] = limit
		verdict.Remaining[window] = maxInt(limit-current, 0)
		if limit <= 0 || current >= limit {
			verdict.Exceeded = true
			verdict.ExceededLimits = append(verdict.ExceededLimits, window)
		}
	}
	sort.Strings(verdict.ExceededLimits)
	if verdict.Exceeded {
		verdict.Reason = "rate limit exceeded: " + joinComma(verdict.ExceededLimits)
	}
	return verdict
}

// Record appends the current instant for the key. Callers invoke it after a
// check that came back not-exceeded.
func (l *MemoryLimiter) Record(_ context.Context, key string) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryLocked(key)
	e.events = append(e.events, now)
	l.evictLocked(e, now)
}

// GetStatus reports current/limit/remaining/reset_time per window.
func (l *MemoryLimiter) GetStatus(_ context.Context, key string) KeyStatus {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entryLocked(key)
	l.evictLocked(e, now)

	status := KeyStatus{Key: key, Details: make(map[string]WindowStatus, len(e.limits))}
	for window, limit := range e.limits {
		d, ok := windowDurations[window]
		if !ok {
			continue
		}
		cutoff := now.Add(-d)
		current := countSince(e.events, cutoff)
		ws := WindowStatus{
			Current:   current,
			Limit:     limit,
			Remaining: maxInt(limit-current, 0),
		}
		if oldest, ok := oldestSince(e.events, cutoff); ok {
			ws.ResetTime = oldest.Add(d)
		} else {
			ws.ResetTime = now
		}
		status.Details[window] = ws
	}
	return status
}

// Reset clears all state for one key.
func (l *MemoryLimiter) Reset(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// SetDefaultLimits replaces the defaults used for keys seen afterwards.
func (l *MemoryLimiter) SetDefaultLimits(limits map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaults = copyLimits(limits)
}

// Keys lists every tracked principal.
func (l *MemoryLimiter) Keys(_ context.Context) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// evictLocked drops events older than the longest window.
func (l *MemoryLimiter) evictLocked(e *entry, now time.Time) {
	longest := time.Minute
	for window := range e.limits {
		if d, ok := windowDurations[window]; ok && d > longest {
			longest = d
		}
	}
	cutoff := now.Add(-longest)
	i := 0
	for ; i < len(e.events); i++ {
		if e.events[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		e.events = append([]time.Time(nil), e.events[i:]...)
	}
}

func countSince(events []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range events {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func oldestSince(events []time.Time, cutoff time.Time) (time.Time, bool) {
	for _, ts := range events {
		if ts.After(cutoff) {
			return ts, true
		}
	}
	return time.Time{}, false
}

func copyLimits(limits map[string]int) map[string]int {
	out := make(map[string]int, len(limits))
	for k, v := range limits {
		out[k] = v
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
