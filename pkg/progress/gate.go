// Package progress limits how often progress percentages are reported.
package progress

import (
	"sync"
	"time"
)

const (
	MinStep     = 1.0
	MinInterval = time.Second
)

// Gate decides whether a progress percentage should be reported. A report is
// allowed when the percentage has advanced by at least MinStep points, or when
// MinInterval has passed since the previous report. The first observation is
// always allowed, as is a final one that moved past the last report.
//
// A percentage lower than the last report starts a new sequence (for example,
// the next stream of a multi-stream download) and is always allowed.
type Gate struct {
	sync.Mutex
	started  bool
	last     float64
	lastEmit time.Time
	now      func() time.Time
}

func NewGate(now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}

	return &Gate{now: now}
}

// Allow reports whether the percentage provided should be reported, recording
// it as the latest report if so.
func (gate *Gate) Allow(percent float64, final bool) bool {
	gate.Lock()
	defer gate.Unlock()

	current := gate.now()
	switch {
	case !gate.started, percent < gate.last:
	case final && percent > gate.last:
	case percent-gate.last >= MinStep, percent > gate.last && current.Sub(gate.lastEmit) >= MinInterval:
	default:
		return false
	}

	gate.started = true
	gate.last = percent
	gate.lastEmit = current
	return true
}
