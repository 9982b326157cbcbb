package sensors

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/socgovd/internal/sysfs"
)

// GPUUtil reads GPU load from the busy-percentage node, cross-checked with
// the busy/total ratio node.
type GPUUtil struct {
	PercentPath string // may be empty when the node is absent
	RatioPath   string
}

// Read returns GPU utilization in percent. It never fails; 0 means unknown.
func (g GPUUtil) Read() uint8 {
	if g.PercentPath != "" {
		if v, ok := readPercent(g.PercentPath); ok {
			if v > 0 {
				return v
			}
			// some firmware reports a stuck 0 here
			if r, ok := readRatio(g.RatioPath); ok {
				return r
			}
			return v
		}
	}

	r, _ := readRatio(g.RatioPath)
	return r
}

func readPercent(path string) (uint8, bool) {
	s, err := sysfs.ReadString(path)
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSuffix(fields[0], "%"), 10, 8)
	if err != nil {
		return 0, false
	}

	return uint8(min(v, 100)), true
}

func readRatio(path string) (uint8, bool) {
	if path == "" {
		return 0, false
	}
	s, err := sysfs.ReadString(path)
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return 0, false
	}
	busy, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	total, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	if total == 0 {
		return 0, true
	}

	return uint8(min(busy*100/total, 100)), true
}
