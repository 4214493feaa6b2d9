package ingress

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// senderLimiter enforces a per-sender request budget so one noisy
// user cannot starve the queue for everyone else.
type senderLimiter struct {
	mu       sync.Mutex
	limiters map[string]*senderEntry
	rpm      int
	burst    int
}

type senderEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSenderLimiter(rpm, burst int) *senderLimiter {
	if rpm <= 0 {
		rpm = 20
	}
	if burst <= 0 {
		burst = 5
	}
	return &senderLimiter{
		limiters: make(map[string]*senderEntry),
		rpm:      rpm,
		burst:    burst,
	}
}

// Allow reports whether the sender has budget for one more request.
func (l *senderLimiter) Allow(sender string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[sender]
	if !ok {
		entry = &senderEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.burst),
		}
		l.limiters[sender] = entry
		l.pruneLocked()
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// pruneLocked drops limiters idle for more than an hour. Called on
// insert so the map cannot grow without bound.
func (l *senderLimiter) pruneLocked() {
	if len(l.limiters) < 1024 {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for sender, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, sender)
		}
	}
}
