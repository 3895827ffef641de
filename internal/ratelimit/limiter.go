// Package ratelimit provides per-subject token buckets grouped into named
// classes, so search traffic and broadcast delivery are throttled
// independently with their own rates.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mediaindex/internal/metrics"
)

const (
	// Buckets untouched for this long are dropped on the next sweep.
	idleTimeout   = 10 * time.Minute
	sweepInterval = time.Minute
)

// ClassConfig is the bucket shape applied to every subject of a class.
type ClassConfig struct {
	RPS   float64
	Burst int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keys token buckets by (class, subject). Unknown classes are
// unlimited; misconfiguration should not lock traffic out.
type Limiter struct {
	mu        sync.Mutex
	classes   map[string]ClassConfig
	buckets   map[string]map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func New(classes map[string]ClassConfig) *Limiter {
	l := &Limiter{
		classes: make(map[string]ClassConfig, len(classes)),
		buckets: make(map[string]map[string]*bucket),
		now:     time.Now,
	}
	for name, cfg := range classes {
		if cfg.RPS <= 0 {
			continue
		}
		if cfg.Burst <= 0 {
			cfg.Burst = 1
		}
		l.classes[name] = cfg
		l.buckets[name] = make(map[string]*bucket)
	}
	l.lastSweep = l.now()
	return l
}

// Allow reports whether one event for the subject fits the class budget.
func (l *Limiter) Allow(class, subject string) bool {
	l.mu.Lock()
	cfg, ok := l.classes[class]
	if !ok {
		l.mu.Unlock()
		return true
	}

	now := l.now()
	l.sweepLocked(now)

	b, ok := l.buckets[class][subject]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)}
		l.buckets[class][subject] = b
	}
	b.lastSeen = now
	limiter := b.limiter
	l.mu.Unlock()

	if limiter.AllowN(now, 1) {
		return true
	}
	metrics.RateLimitedTotal.WithLabelValues(class).Inc()
	return false
}

// Reserve returns how long the subject must wait before the next event is
// admitted. Zero means go now.
func (l *Limiter) Reserve(class, subject string) time.Duration {
	l.mu.Lock()
	cfg, ok := l.classes[class]
	if !ok {
		l.mu.Unlock()
		return 0
	}
	now := l.now()
	b, ok := l.buckets[class][subject]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)}
		l.buckets[class][subject] = b
	}
	b.lastSeen = now
	limiter := b.limiter
	l.mu.Unlock()

	return limiter.ReserveN(now, 1).DelayFrom(now)
}

// sweepLocked drops buckets idle past the timeout. Caller holds l.mu.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for _, subjects := range l.buckets {
		for subject, b := range subjects {
			if now.Sub(b.lastSeen) >= idleTimeout {
				delete(subjects, subject)
			}
		}
	}
}

// Subjects reports the live bucket count for a class, exposed for tests and
// the stats endpoint.
func (l *Limiter) Subjects(class string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets[class])
}
