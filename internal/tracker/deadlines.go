package tracker

import (
	"sync"
	"time"

	"github.com/opencli/opencli/internal/clock"
)

// deadlines manages one expiry timer per task. Re-arming a task replaces
// its timer; a stale timer that fires after being replaced or disarmed
// is ignored by comparing timer ids.
type deadlines struct {
	clock   clock.Clock
	timeout time.Duration
	expired func(clientTaskID string)

	mu          sync.Mutex
	timers      map[string]*clock.Timer
	timerIDs    map[string]uint64
	nextTimerID uint64
}

func newDeadlines(c clock.Clock, timeout time.Duration, expired func(string)) *deadlines {
	return &deadlines{
		clock:    c,
		timeout:  timeout,
		expired:  expired,
		timers:   make(map[string]*clock.Timer),
		timerIDs: make(map[string]uint64),
	}
}

// Arm starts (or restarts) the timer for a task.
func (d *deadlines) Arm(clientTaskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disarmLocked(clientTaskID)
	d.nextTimerID++
	timerID := d.nextTimerID
	d.timers[clientTaskID] = d.clock.AfterFunc(d.timeout, func() {
		d.expire(clientTaskID, timerID)
	})
	d.timerIDs[clientTaskID] = timerID
}

// Disarm cancels the timer for a task.
func (d *deadlines) Disarm(clientTaskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmLocked(clientTaskID)
}

func (d *deadlines) disarmLocked(clientTaskID string) {
	if t, ok := d.timers[clientTaskID]; ok {
		t.Stop()
		delete(d.timers, clientTaskID)
		delete(d.timerIDs, clientTaskID)
	}
}

func (d *deadlines) expire(clientTaskID string, timerID uint64) {
	d.mu.Lock()
	currentID, ok := d.timerIDs[clientTaskID]
	if !ok || currentID != timerID {
		d.mu.Unlock()
		return
	}
	delete(d.timers, clientTaskID)
	delete(d.timerIDs, clientTaskID)
	d.mu.Unlock()

	d.expired(clientTaskID)
}

// Stop cancels every timer.
func (d *deadlines) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*clock.Timer)
	d.timerIDs = make(map[string]uint64)
}
