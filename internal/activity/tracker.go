package activity

import (
	"math"
	"sync/atomic"
	"time"
)

// Tracker records the time of the most recent meaningful activity, so that
// the health endpoint can report how long the service has been idle.
type Tracker struct {
	last atomic.Int64
	now  func() time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}

	tracker := &Tracker{now: now}
	tracker.Touch()
	return tracker
}

func (tracker *Tracker) Touch() {
	tracker.last.Store(tracker.now().UnixNano())
}

func (tracker *Tracker) Idle() time.Duration {
	return tracker.now().Sub(time.Unix(0, tracker.last.Load()))
}

// IdleMinutes returns the idle duration in minutes, rounded to 2 decimal places.
func (tracker *Tracker) IdleMinutes() float64 {
	return math.Round(tracker.Idle().Minutes()*100) / 100
}
