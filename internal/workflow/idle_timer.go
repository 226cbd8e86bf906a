package workflow

import "time"

// idleTimer debounces idle reclamation. It is not safe for concurrent use;
// the Manager reads and mutates it under the same lock as queue membership.
type idleTimer struct {
	delay      time.Duration
	start      time.Time
	armed      bool
	suppressed bool
}

// observe is called on every poll while nothing is pending or active. It
// reports true exactly once per idle period, after which the timer stays
// suppressed until rearm.
func (t *idleTimer) observe(now time.Time) bool {
	if t.delay <= 0 {
		return false
	}
	if !t.armed {
		if !t.suppressed {
			t.start = now
			t.armed = true
		}
		return false
	}
	if now.Sub(t.start) >= t.delay {
		t.armed = false
		t.suppressed = true
		return true
	}
	return false
}

// rearm clears the countdown and lifts suppression after new work arrives.
func (t *idleTimer) rearm() {
	t.armed = false
	t.suppressed = false
	t.start = time.Time{}
}

// suppress stops the countdown until the next rearm.
func (t *idleTimer) suppress() {
	t.armed = false
	t.suppressed = true
	t.start = time.Time{}
}

// remaining returns the time left before reclamation and whether a countdown is running.
func (t *idleTimer) remaining(now time.Time) (time.Duration, bool) {
	if !t.armed {
		return 0, false
	}
	left := t.delay - now.Sub(t.start)
	if left < 0 {
		left = 0
	}
	return left, true
}
