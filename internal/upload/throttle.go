package upload

import (
	"sync"
	"time"

	"github.com/priyankadasarigt/ytdown/pkg/progress"
)

// Progress is a snapshot of an in-flight upload.
type Progress struct {
	Percent     float64
	Transferred int64
	Total       int64
}

// Throttle limits how often upload progress is reported, using a progress.Gate.
// Completion is always reported exactly once. Observations which move backwards
// are ignored, so reported progress never decreases even when parts complete
// out of order.
type Throttle struct {
	sync.Mutex
	gate        *progress.Gate
	total       int64
	transferred int64
	completed   bool
}

func NewThrottle(total int64, now func() time.Time) *Throttle {
	return &Throttle{total: total, gate: progress.NewGate(now)}
}

// Observe records the total number of bytes transferred so far, returning the
// progress snapshot and true if this observation should be reported.
func (t *Throttle) Observe(transferred int64) (Progress, bool) {
	t.Lock()
	defer t.Unlock()

	if transferred > t.total {
		transferred = t.total
	}
	if transferred < t.transferred || t.completed {
		return Progress{}, false
	}
	t.transferred = transferred

	percent := 100.0
	if t.total > 0 {
		percent = float64(transferred) / float64(t.total) * 100
	}

	done := transferred == t.total
	if !t.gate.Allow(percent, done) {
		return Progress{}, false
	}

	t.completed = done
	return Progress{Percent: percent, Transferred: transferred, Total: t.total}, true
}
