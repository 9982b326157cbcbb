package governor

import (
	"time"

	"codeberg.org/mutker/socgovd/internal/thermal"
)

const (
	sleepHot     = 450 * time.Millisecond
	sleepIdle    = 6500 * time.Millisecond
	sleepChanged = 750 * time.Millisecond
	sleepStable  = 3 * time.Second
	sleepDefault = 1500 * time.Millisecond

	stableAfter = 30 * time.Second
)

// SleepFor picks the delay before the next tick.
func SleepFor(zone thermal.Zone, idle, charging, changed bool, stableFor time.Duration) time.Duration {
	switch {
	case zone.Hot():
		return sleepHot
	case idle && !charging:
		return sleepIdle
	case changed:
		return sleepChanged
	case stableFor >= stableAfter:
		return sleepStable
	default:
		return sleepDefault
	}
}

// every fires at most once per interval.
type every struct {
	last time.Time
}

// Due reports whether interval has elapsed since the last firing and, if
// so, restarts the interval at now. A zero last time fires immediately.
func (e *every) Due(now time.Time, interval time.Duration) bool {
	if !e.last.IsZero() && now.Sub(e.last) < interval {
		return false
	}
	e.last = now

	return true
}
