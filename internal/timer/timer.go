// Package timer provides the in-process timer adapter: one armed timer per
// occurrence, firing a callback at an absolute wall-clock time.
//
// The adapter is a latency optimization, not the source of correctness.
// Timers die with the process; the reconciliation sweep owns recovery. A
// fire that arrives later than the misfire grace window is abandoned and
// left to the sweep as well.
package timer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const DefaultMisfireGrace = 5 * time.Minute

type Adapter struct {
	grace time.Duration
	log   zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	seq    atomic.Uint64
}

func New(grace time.Duration, log zerolog.Logger) *Adapter {
	if grace <= 0 {
		grace = DefaultMisfireGrace
	}
	return &Adapter{
		grace:  grace,
		log:    log.With().Str("component", "timer").Logger(),
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules fire(id) at fireAt and returns an opaque handle. A fireAt
// in the past is honored immediately when it is within the misfire grace
// window; beyond it the occurrence is not armed at all and stays with the
// sweep.
func (a *Adapter) Arm(id string, fireAt time.Time, fire func(id string)) (string, error) {
	delay := time.Until(fireAt)
	if delay < -a.grace {
		return "", fmt.Errorf("fire time %s is past the misfire grace window", fireAt.UTC().Format(time.RFC3339))
	}
	if delay < 0 {
		delay = 0
	}

	handle := fmt.Sprintf("%s#%d", id, a.seq.Add(1))

	a.mu.Lock()
	a.timers[handle] = time.AfterFunc(delay, func() {
		a.mu.Lock()
		delete(a.timers, handle)
		a.mu.Unlock()

		// A late wakeup (host suspend, heavy load) past the grace window is
		// abandoned; the sweep re-discovers the occurrence.
		if late := time.Since(fireAt); late > a.grace {
			a.log.Warn().
				Str("reminder_id", id).
				Dur("late", late).
				Msg("timer fired past misfire grace window, leaving to sweep")
			return
		}
		fire(id)
	})
	a.mu.Unlock()

	return handle, nil
}

// Cancel stops the timer behind handle. Cancelling an unknown, already
// fired, or already cancelled handle is a no-op: cancellation races are
// expected and absorbed here.
func (a *Adapter) Cancel(handle string) {
	a.mu.Lock()
	t, ok := a.timers[handle]
	if ok {
		delete(a.timers, handle)
	}
	a.mu.Unlock()

	if ok {
		t.Stop()
	}
}

// Stop cancels every armed timer. Used on shutdown.
func (a *Adapter) Stop() {
	a.mu.Lock()
	for handle, t := range a.timers {
		t.Stop()
		delete(a.timers, handle)
	}
	a.mu.Unlock()
}

// Armed reports how many timers are currently armed.
func (a *Adapter) Armed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}
