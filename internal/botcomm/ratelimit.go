package botcomm

import (
	"sync"
	"time"
)

// Rate limit defaults: per ordered sender→target pair.
const (
	RateWindow = time.Minute
	RateLimit  = 5
)

// RateLimiter decides whether one more message from sender to target
// is allowed right now. Implementations are safe for concurrent use.
type RateLimiter interface {
	Allow(fromBotID, toBotID string) bool
}

// memoryLimiter keeps a sliding window of send timestamps per ordered
// pair. State is process-local and resets on restart.
type memoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	history map[string][]time.Time
	now     func() time.Time
}

// NewMemoryLimiter returns the default in-memory sliding-window limiter.
func NewMemoryLimiter() RateLimiter {
	return &memoryLimiter{
		window:  RateWindow,
		limit:   RateLimit,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *memoryLimiter) Allow(fromBotID, toBotID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := fromBotID + "\x00" + toBotID
	cutoff := l.now().Add(-l.window)

	recent := l.history[key][:0]
	for _, t := range l.history[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		l.history[key] = recent
		return false
	}
	l.history[key] = append(recent, l.now())
	return true
}
