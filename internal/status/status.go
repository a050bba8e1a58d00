// Package status provides a thread-safe status tracker for the scheduler
// daemon. It is read by the HTTP status handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/climate-scheduler/internal/scheduler"
)

// Config contains daemon configuration for display. Secrets never go here.
type Config struct {
	Interval time.Duration
	Timezone string
	Backend  string
	Sensor   string
	Actuator string
	HTTPAddr string
}

// Counts tallies tick results since start.
type Counts struct {
	Ineligible     int
	AlreadyDone    int
	NoActiveRules  int
	BelowThreshold int
	Actuated       int
	Failed         int
}

func (c *Counts) add(r scheduler.Result) {
	switch r {
	case scheduler.ResultIneligible:
		c.Ineligible++
	case scheduler.ResultAlreadyDone:
		c.AlreadyDone++
	case scheduler.ResultNoActiveRules:
		c.NoActiveRules++
	case scheduler.ResultBelowThreshold:
		c.BelowThreshold++
	case scheduler.ResultActuated:
		c.Actuated++
	case scheduler.ResultFailed:
		c.Failed++
	}
}

// Total returns the number of ticks counted.
func (c Counts) Total() int {
	return c.Ineligible + c.AlreadyDone + c.NoActiveRules + c.BelowThreshold + c.Actuated + c.Failed
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime time.Time
	Now       time.Time
	Counts    Counts

	// Last is the most recent tick; nil before the first one.
	Last *scheduler.Outcome

	// LastActuation is the most recent tick that actuated.
	LastActuation *scheduler.Outcome

	// MQTTConnected is nil when no MQTT transport is configured.
	MQTTConnected *bool

	Config Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Healthy reports whether the tick loop is alive: a tick happened within
// two intervals, or the daemon is younger than that. A failing tick still
// counts as alive.
func (s Snapshot) Healthy() bool {
	window := 2 * s.Config.Interval
	if window <= 0 {
		return true
	}
	if s.Last == nil {
		return s.Uptime() < window
	}
	return s.Now.Sub(s.Last.Time) < window
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{StartTime: startTime, Config: cfg},
		now:  time.Now,
	}
}

// Record stores the outcome of one tick. Called from the run loop after
// every tick.
func (t *Tracker) Record(out scheduler.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Counts.add(out.Result)
	last := out
	t.snap.Last = &last
	if out.Result == scheduler.ResultActuated {
		t.snap.LastActuation = &last
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = &connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
