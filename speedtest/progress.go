package speedtest

import (
	"time"

	"github.com/VividCortex/ewma"
)

// ProgressStep is the minimum number of bytes between two progress events.
const ProgressStep = MiB

// Progress is an informational snapshot of a running transfer.
type Progress struct {
	Direction Direction
	Bytes     int64
	// Total is the expected size, 0 when unknown.
	Total int64
	// Rate is a moving average of the recent transfer rate.
	Rate ByteRate
}

// Percent returns the completed share when the total size is known.
func (p Progress) Percent() (float64, bool) {
	if p.Total <= 0 {
		return 0, false
	}
	return float64(p.Bytes) * 100 / float64(p.Total), true
}

// ProgressFunc receives progress events. It runs on the transfer path and
// must return quickly.
type ProgressFunc func(Progress)

// progressTracker is the per-call accumulator behind progress events. It
// only observes byte counts and never alters them.
type progressTracker struct {
	direction Direction
	total     int64
	callback  ProgressFunc

	lastShown int64
	lastTime  time.Time
	avg       ewma.MovingAverage
}

func newProgressTracker(direction Direction, total int64, callback ProgressFunc) *progressTracker {
	if total < 0 {
		total = 0
	}
	return &progressTracker{
		direction: direction,
		total:     total,
		callback:  callback,
		lastTime:  time.Now(),
		avg:       ewma.NewMovingAverage(),
	}
}

func (t *progressTracker) update(current int64) {
	if t == nil || t.callback == nil || current < t.lastShown+ProgressStep {
		return
	}
	now := time.Now()
	if dt := now.Sub(t.lastTime).Seconds(); dt > 0 {
		t.avg.Add(float64(current-t.lastShown) / dt)
	}
	t.lastShown = current
	t.lastTime = now
	t.callback(Progress{
		Direction: t.direction,
		Bytes:     current,
		Total:     t.total,
		Rate:      ByteRate(t.avg.Value()),
	})
}
