// Package freq implements the per-domain frequency controller: a desired
// operating point driven by utilization, and a slew- and thermally-limited
// applied operating point written to the min/max scaling nodes.
package freq

import (
	"fmt"
	"math"

	"codeberg.org/mutker/socgovd/internal/device"
)

// ClampToTable returns the greatest index whose frequency is <= limit, or 0
// when limit is below the first entry.
func ClampToTable(table device.Table, limit uint64) int {
	lo, hi := 0, len(table)
	for lo+1 < hi {
		mid := (lo + hi) / 2
		if table[mid] <= limit {
			lo = mid
		} else {
			hi = mid
		}
	}

	return lo
}

// BaseIndexFromRatio maps a ratio in [0,1] onto the table's index range.
func BaseIndexFromRatio(table device.Table, ratio float64) int {
	if len(table) == 0 {
		return 0
	}
	last := len(table) - 1
	idx := int(math.Round(ratio * float64(last)))

	return max(0, min(idx, last))
}

// MidFreq returns the frequency in the middle of the table.
func MidFreq(table device.Table) uint64 {
	if len(table) == 0 {
		return 0
	}

	return table[len(table)/2]
}

// FormatKHz renders a CPU frequency.
func FormatKHz(khz uint64) string {
	if khz >= 1_000_000 {
		return fmt.Sprintf("%.2fGHz", float64(khz)/1_000_000)
	}

	return fmt.Sprintf("%.0fMHz", float64(khz)/1_000)
}

// FormatHz renders a GPU frequency.
func FormatHz(hz uint64) string {
	if hz >= 1_000_000_000 {
		return fmt.Sprintf("%.2fGHz", float64(hz)/1_000_000_000)
	}

	return fmt.Sprintf("%.0fMHz", float64(hz)/1_000_000)
}
