// Package timeout implements the per-session inactivity protocol: warn after
// one silent interval, close after a second one, restart on activity.
package timeout

import (
	"log/slog"
	"sync"
	"time"
)

// State is the controller's position in the inactivity protocol.
type State int

const (
	// StateActive means no warning is pending.
	StateActive State = iota
	// StateWarned means the warning was sent and the grace period is running.
	StateWarned
	// StateClosed is terminal; no timer is ever scheduled again.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWarned:
		return "warned"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers are invoked when a stage elapses. They run without the
// controller's lock held, so they may call back into the controller.
type Handlers struct {
	// OnWarn fires on ACTIVE -> WARNED.
	OnWarn func()
	// OnExpire fires on WARNED -> CLOSED.
	OnExpire func()
}

// Controller drives the two-stage inactivity state machine for one session.
//
// Every scheduled timer carries the generation it was armed with. Cancelling
// bumps the generation before stopping the timer, so a callback that lost the
// race with a cancellation finds a stale generation and does nothing.
type Controller struct {
	clock    Clock
	interval time.Duration
	handlers Handlers
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	pending Timer
	holds   int
}

// NewController creates a controller in StateActive with no timer armed.
// Both stages use the same interval.
func NewController(clock Clock, interval time.Duration, handlers Handlers, logger *slog.Logger) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		clock:    clock,
		interval: interval,
		handlers: handlers,
		logger:   logger,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start arms the ACTIVE-stage timer. It is equivalent to Reset.
func (c *Controller) Start() {
	c.Reset()
}

// Reset cancels any pending timer and arms a fresh ACTIVE-stage timer.
// While a turn holds the controller, only the cancellation happens.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.cancelLocked()
	c.state = StateActive
	if c.holds == 0 {
		c.armLocked()
	}
}

// Pause cancels every pending timer and keeps the controller quiet until the
// matching Resume. Pauses nest.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.cancelLocked()
	c.holds++
}

// Resume releases one Pause. When the last hold is released the controller
// returns to StateActive and arms a fresh timer.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holds > 0 {
		c.holds--
	}
	if c.state == StateClosed || c.holds > 0 {
		return
	}
	c.state = StateActive
	c.cancelLocked()
	c.armLocked()
}

// Stop cancels every pending timer and moves to StateClosed. It is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.state = StateClosed
}

func (c *Controller) cancelLocked() {
	c.gen++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Controller) armLocked() {
	c.gen++
	gen := c.gen
	c.pending = c.clock.AfterFunc(c.interval, func() { c.fire(gen) })
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.holds > 0 || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.pending = nil

	var handler func()
	switch c.state {
	case StateActive:
		c.state = StateWarned
		c.armLocked()
		handler = c.handlers.OnWarn
	case StateWarned:
		c.state = StateClosed
		c.gen++
		handler = c.handlers.OnExpire
	}
	state := c.state
	c.mu.Unlock()

	c.logger.Debug("Inactivity stage elapsed", "state", state.String())
	if handler != nil {
		handler()
	}
}
