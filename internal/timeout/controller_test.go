package timeout

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const interval = 30 * time.Second

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func newTestController(clock Clock, rec *recorder) *Controller {
	return NewController(clock, interval, Handlers{
		OnWarn:   func() { rec.add("warn") },
		OnExpire: func() { rec.add("expire") },
	}, nil)
}

func TestControllerEscalatesExactlyOnce(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	c := newTestController(clock, rec)

	c.Start()
	clock.Advance(interval)
	if got := c.State(); got != StateWarned {
		t.Fatalf("expected warned after T, got %s", got)
	}

	clock.Advance(interval)
	if got := c.State(); got != StateClosed {
		t.Fatalf("expected closed after 2T, got %s", got)
	}

	clock.Advance(10 * interval)
	events := rec.snapshot()
	if len(events) != 2 || events[0] != "warn" || events[1] != "expire" {
		t.Fatalf("expected [warn expire], got %v", events)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers after close, got %d", clock.Pending())
	}
}

func TestControllerResetBeforeDeadlineSuppressesWarning(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	c := newTestController(clock, rec)

	c.Start()
	clock.Advance(interval - time.Millisecond)
	c.Reset()
	clock.Advance(time.Millisecond)

	if events := rec.snapshot(); len(events) != 0 {
		t.Fatalf("expected no events after reset, got %v", events)
	}

	clock.Advance(interval)
	if events := rec.snapshot(); len(events) != 1 || events[0] != "warn" {
		t.Fatalf("expected one warning a full interval after reset, got %v", events)
	}
}

func TestControllerResetFromWarnedCancelsClose(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	c := newTestController(clock, rec)

	c.Start()
	clock.Advance(interval)
	c.Reset()
	if got := c.State(); got != StateActive {
		t.Fatalf("expected active after reset, got %s", got)
	}

	clock.Advance(interval - time.Millisecond)
	if events := rec.snapshot(); len(events) != 1 {
		t.Fatalf("close timer should have been cancelled, got %v", events)
	}
	if clock.Pending() != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", clock.Pending())
	}
}

func TestControllerStopCancelsEverything(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	c := newTestController(clock, rec)

	c.Start()
	c.Stop()
	c.Stop()
	clock.Advance(5 * interval)

	if events := rec.snapshot(); len(events) != 0 {
		t.Fatalf("expected no events after stop, got %v", events)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clock.Pending())
	}

	c.Reset()
	c.Resume()
	if clock.Pending() != 0 {
		t.Fatal("closed controller must never arm again")
	}
}

func TestControllerPauseHoldsUntilLastResume(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	c := newTestController(clock, rec)

	c.Start()
	c.Pause()
	c.Pause()
	clock.Advance(3 * interval)
	if events := rec.snapshot(); len(events) != 0 {
		t.Fatalf("paused controller fired: %v", events)
	}

	c.Resume()
	if clock.Pending() != 0 {
		t.Fatal("controller armed while a hold remained")
	}

	c.Resume()
	if clock.Pending() != 1 {
		t.Fatalf("expected a fresh timer after last resume, got %d", clock.Pending())
	}
	clock.Advance(interval)
	if events := rec.snapshot(); len(events) != 1 || events[0] != "warn" {
		t.Fatalf("expected warning after resume, got %v", events)
	}
}

func TestControllerStaleFireIsNoop(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	c := newTestController(clock, rec)

	c.Start()
	c.mu.Lock()
	staleGen := c.gen
	c.mu.Unlock()

	c.Reset()
	c.fire(staleGen)

	if events := rec.snapshot(); len(events) != 0 {
		t.Fatalf("stale timer fired handler: %v", events)
	}
	if got := c.State(); got != StateActive {
		t.Fatalf("stale fire changed state to %s", got)
	}
}

func TestControllerHandlersMayReenter(t *testing.T) {
	clock := NewFakeClock()
	var c *Controller
	c = NewController(clock, interval, Handlers{
		OnWarn:   func() {},
		OnExpire: func() { c.Stop() },
	}, nil)

	c.Start()
	clock.Advance(2 * interval)
	if got := c.State(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestControllerRealClockConcurrentResets(t *testing.T) {
	var warnings atomic.Int32
	c := NewController(RealClock{}, 5*time.Millisecond, Handlers{
		OnWarn:   func() { warnings.Add(1) },
		OnExpire: func() {},
	}, nil)

	c.Start()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Reset()
			}
		}()
	}
	wg.Wait()
	c.Stop()

	time.Sleep(20 * time.Millisecond)
	if got := c.State(); got != StateClosed {
		t.Fatalf("expected closed after stop, got %s", got)
	}
}
