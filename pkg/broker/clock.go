package broker

import (
	"fmt"
	"sync"
	"time"
)

// Clock computes session-relative WebVTT timestamps. It is constructed at
// session start with now() as the zero point, and tracks one pending start
// mark per in-flight utterance.
type Clock struct {
	mu    sync.Mutex
	zero  time.Time
	marks map[string]time.Time
	now   func() time.Time // overridable for tests
}

// NewClock returns a Clock whose zero point is the moment of construction.
func NewClock() *Clock {
	return newClockWithNow(time.Now)
}

func newClockWithNow(now func() time.Time) *Clock {
	return &Clock{
		zero:  now(),
		marks: make(map[string]time.Time),
		now:   now,
	}
}

// MarkStart records the wall clock of the first observed partial for an
// utterance. Idempotent: the first call wins.
func (c *Clock) MarkStart(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.marks[messageID]; !ok {
		c.marks[messageID] = c.now()
	}
}

// Complete computes the VTT interval "HH:MM:SS.mmm --> HH:MM:SS.mmm" for the
// utterance, relative to the session zero point, and forgets the start mark.
// If Complete is called without a prior MarkStart, start is set equal to
// end. Negative offsets are clamped to zero and end is never before start
// (a finalize racing a clock that hasn't ticked must not yield end < start).
func (c *Clock) Complete(messageID string) string {
	end := c.now()

	c.mu.Lock()
	start, ok := c.marks[messageID]
	delete(c.marks, messageID)
	c.mu.Unlock()

	if !ok {
		start = end
	}

	startDelta := start.Sub(c.zero)
	endDelta := end.Sub(c.zero)
	if endDelta < startDelta {
		endDelta = startDelta
	}

	return fmt.Sprintf("%s --> %s", formatVTTDuration(startDelta), formatVTTDuration(endDelta))
}

// formatVTTDuration renders d as HH:MM:SS.mmm, clamped to zero, with
// unbounded hours (sessions over 100h still format correctly).
func formatVTTDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalMs := d.Milliseconds()
	hours := totalMs / 3_600_000
	totalMs -= hours * 3_600_000
	minutes := totalMs / 60_000
	totalMs -= minutes * 60_000
	seconds := totalMs / 1_000
	millis := totalMs - seconds*1_000

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
