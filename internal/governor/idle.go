package governor

import "time"

// IdleTracker enters idle after a continuous run of qualifying samples and
// leaves on the first sample that does not qualify.
type IdleTracker struct {
	Enter  time.Duration
	accum  time.Duration
	active bool
}

// Update feeds one sample. entered and exited report transitions.
func (t *IdleTracker) Update(qualifies bool, dt time.Duration) (entered, exited bool) {
	if !qualifies {
		t.accum = 0
		if t.active {
			t.active = false
			return false, true
		}
		return false, false
	}

	t.accum += dt
	if !t.active && t.accum >= t.Enter {
		t.active = true
		return true, false
	}

	return false, false
}

func (t *IdleTracker) Active() bool {
	return t.active
}

// Accumulated returns the current qualifying run length.
func (t *IdleTracker) Accumulated() time.Duration {
	return t.accum
}
