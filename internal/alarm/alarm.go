package alarm

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"drowsyguard/internal/model"
)

// Actuator is an alert output. Play and Stop must be idempotent and return
// without waiting for the output to finish.
type Actuator interface {
	Play() error
	Stop() error
}

// Nop is used when the alarm is disabled.
type Nop struct{}

func (Nop) Play() error { return nil }
func (Nop) Stop() error { return nil }

// Guard drives an actuator from state machine transitions: one Play per
// BecameActive, one Stop per BecameInactive, nothing for Unchanged.
// Failures are logged and counted, never returned.
type Guard struct {
	act      Actuator
	logger   *slog.Logger
	mu       sync.Mutex
	active   bool
	failures atomic.Uint64
	calls    atomic.Uint64
}

func NewGuard(act Actuator, logger *slog.Logger) *Guard {
	if act == nil {
		act = Nop{}
	}
	return &Guard{act: act, logger: logger}
}

func (g *Guard) Apply(tr model.Transition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch tr {
	case model.BecameActive:
		if g.active {
			return
		}
		g.active = true
		g.call("play", g.act.Play)
	case model.BecameInactive:
		if !g.active {
			return
		}
		g.active = false
		g.call("stop", g.act.Stop)
	}
}

// Silence stops the actuator regardless of the tracked state; used on
// shutdown and reset.
func (g *Guard) Silence() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.call("stop", g.act.Stop)
}

func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *Guard) Failures() uint64 {
	return g.failures.Load()
}

func (g *Guard) Calls() uint64 {
	return g.calls.Load()
}

func (g *Guard) call(op string, fn func() error) {
	g.calls.Add(1)
	if err := fn(); err != nil {
		g.failures.Add(1)
		if g.logger != nil {
			g.logger.Warn("alarm actuator failed", "op", op, "err", err)
		}
	}
}
