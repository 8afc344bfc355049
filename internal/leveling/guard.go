package leveling

import (
	"sync"
	"time"
)

// awardGuard holds a (guild, user, role) key while a grant is in flight and,
// after a success, for a settling window so duplicate deliveries that race
// the provider's cache do not grant twice.
type awardGuard struct {
	mu     sync.Mutex
	clock  Clock
	settle time.Duration
	held   map[string]time.Time
}

func newAwardGuard(clock Clock, settle time.Duration) *awardGuard {
	return &awardGuard{clock: clock, settle: settle, held: make(map[string]time.Time)}
}

func (g *awardGuard) acquire(key string) bool {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	if until, ok := g.held[key]; ok {
		// zero means in flight
		if until.IsZero() || now.Before(until) {
			return false
		}
	}
	g.held[key] = time.Time{}
	return true
}

func (g *awardGuard) release(key string, settled bool) {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	if settled && g.settle > 0 {
		g.held[key] = now.Add(g.settle)
	} else {
		delete(g.held, key)
	}
	for k, until := range g.held {
		if !until.IsZero() && !now.Before(until) {
			delete(g.held, k)
		}
	}
}
