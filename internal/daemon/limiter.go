package daemon

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterTTL         = 10 * time.Minute
	limiterPrunePeriod = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one token bucket per dispatching agent. A pool with a
// non-positive rate allows everything.
type limiterPool struct {
	mu    sync.Mutex
	rps   float64
	burst int
	ttl   time.Duration
	now   func() time.Time
	m     map[string]*limiterEntry
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{
		rps:   rps,
		burst: burst,
		ttl:   limiterTTL,
		now:   time.Now,
		m:     make(map[string]*limiterEntry),
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

// Allow reports whether key may dispatch now.
func (p *limiterPool) Allow(key string) bool {
	if p == nil || p.rps <= 0 {
		return true
	}
	return p.get(key).Allow()
}

// prune drops limiters idle longer than the TTL and returns how many remain.
func (p *limiterPool) prune() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.ttl)
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
	return len(p.m)
}
