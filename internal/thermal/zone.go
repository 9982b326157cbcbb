// Package thermal classifies the SoC temperature into discrete throttling zones.
package thermal

// Zone is a temperature band that maps to a fixed frequency reduction.
type Zone int

const (
	Cool Zone = iota
	Z100
	Z110
	Z120
	Z130
)

// Hysteresis is how far below a zone's lower threshold the temperature must
// fall, in millidegrees, before the zone is left.
const Hysteresis = 2_000

var thresholds = [...]int{
	Z100: 100_000,
	Z110: 110_000,
	Z120: 120_000,
	Z130: 130_000,
}

var reductions = [...]int{
	Cool: 0,
	Z100: 10,
	Z110: 15,
	Z120: 25,
	Z130: 40,
}

var names = [...]string{
	Cool: "Cool",
	Z100: "Z100",
	Z110: "Z110",
	Z120: "Z120",
	Z130: "Z130",
}

// Reduction returns the percentage taken off a domain's maximum frequency.
func (z Zone) Reduction() int {
	if z < Cool || z > Z130 {
		return 0
	}

	return reductions[z]
}

// Threshold returns the lower bound of the zone in millidegrees. Cool has none.
func (z Zone) Threshold() int {
	if z <= Cool || z > Z130 {
		return 0
	}

	return thresholds[z]
}

func (z Zone) String() string {
	if z < Cool || z > Z130 {
		return "Unknown"
	}

	return names[z]
}

// Hot reports whether z is one of the two hottest zones.
func (z Zone) Hot() bool {
	return z >= Z120
}

// raw returns the zone for tempMilliC with no memory of the previous state.
func raw(tempMilliC int) Zone {
	for z := Z130; z > Cool; z-- {
		if tempMilliC >= thresholds[z] {
			return z
		}
	}

	return Cool
}

// Classify returns the zone for tempMilliC given the previous zone. Upward
// moves may skip levels; downward moves are one level at a time and only once
// the temperature is below the previous zone's threshold minus Hysteresis.
func Classify(tempMilliC int, prev Zone) Zone {
	if up := raw(tempMilliC); up > prev {
		return up
	}

	if prev > Cool && tempMilliC < prev.Threshold()-Hysteresis {
		return prev - 1
	}

	return prev
}
