package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter controls how frequently a key may perform an action.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Local keeps one token bucket per key in process memory. Idle buckets are
// dropped after ttl.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewLocal allows up to requests events per window for each key. The bucket
// starts full, so a fresh key may spend its whole allowance at once.
func NewLocal(requests int, window time.Duration) *Local {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}

	ttl := 2 * window
	if ttl < 5*time.Minute {
		ttl = 5 * time.Minute
	}

	return &Local{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow consumes one token for key.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucketLocked(key, now)
	l.gcLocked(now)

	return b.limiter.AllowN(now, 1), nil
}

func (l *Local) bucketLocked(key string, now time.Time) *bucket {
	if b, ok := l.buckets[key]; ok {
		b.lastSeen = now
		return b
	}

	b := &bucket{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.buckets[key] = b
	return b
}

func (l *Local) gcLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

// WithNowFunc allows tests to override the time source.
func (l *Local) WithNowFunc(now func() time.Time) *Local {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}
