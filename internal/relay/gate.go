package relay

import (
	"sync"
	"time"
)

// Gate tracks the last delivery attempt and the cooldown that must pass
// before the next one. The zero lastSent means "never".
type Gate struct {
	mu       sync.RWMutex
	cooldown time.Duration
	lastSent time.Time
}

func NewGate(cooldown time.Duration) *Gate {
	return &Gate{cooldown: cooldown}
}

// Remaining returns max(0, cooldown - (now - lastSent)).
func (g *Gate) Remaining(now time.Time) time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.lastSent.IsZero() {
		return 0
	}
	left := g.cooldown - now.Sub(g.lastSent)
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed reports now - lastSent >= cooldown.
func (g *Gate) Elapsed(now time.Time) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastSent.IsZero() || now.Sub(g.lastSent) >= g.cooldown
}

// Mark records a delivery attempt at t. lastSent never moves backwards.
func (g *Gate) Mark(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.After(g.lastSent) {
		g.lastSent = t
	}
}

func (g *Gate) LastSent() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastSent
}

func (g *Gate) Cooldown() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cooldown
}

func (g *Gate) SetCooldown(d time.Duration) {
	if d < 0 {
		d = 0
	}
	g.mu.Lock()
	g.cooldown = d
	g.mu.Unlock()
}
