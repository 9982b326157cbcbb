// Package sensors samples utilization, temperature and power/screen state
// from procfs and sysfs. Every reader fails soft: a missing or malformed
// source reports "no data" and the caller keeps its previous decision.
package sensors

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/common"
	"github.com/shirou/gopsutil/v4/cpu"
)

// coreTimes holds clock ticks, recovered from gopsutil's seconds.
type coreTimes struct {
	idle  uint64 // idle + iowait
	total uint64
}

// CPUSampler turns consecutive per-core time snapshots into utilization.
type CPUSampler struct {
	procRoot string
	prev     map[int]coreTimes
}

// NewCPUSampler reads stat from procRoot, normally "/proc".
func NewCPUSampler(procRoot string) *CPUSampler {
	return &CPUSampler{procRoot: procRoot}
}

func (s *CPUSampler) hostCtx(ctx context.Context) context.Context {
	if s.procRoot == "" || s.procRoot == "/proc" {
		return ctx
	}

	return context.WithValue(ctx, common.EnvKey, common.EnvMap{common.HostProcEnvKey: s.procRoot})
}

// Sample returns per-core utilization in percent since the previous call,
// indexed by core number. The first successful call returns zeros. ok is
// false when stat is unreadable or has no per-core lines.
func (s *CPUSampler) Sample(ctx context.Context) (utils []uint8, ok bool) {
	times, err := cpu.TimesWithContext(s.hostCtx(ctx), true)
	if err != nil {
		return nil, false
	}

	cur := make(map[int]coreTimes, len(times))
	n := 0
	for _, t := range times {
		idx, err := strconv.Atoi(strings.TrimPrefix(t.CPU, "cpu"))
		if err != nil || idx < 0 {
			continue
		}
		cur[idx] = ticksOf(t)
		n = max(n, idx+1)
	}
	if len(cur) == 0 {
		return nil, false
	}

	// offline cores leave gaps at zero
	utils = make([]uint8, n)
	if s.prev != nil {
		for idx, c := range cur {
			utils[idx] = busyPercent(c, s.prev[idx])
		}
	}
	s.prev = cur

	return utils, true
}

func ticksOf(t cpu.TimesStat) coreTimes {
	tick := func(sec float64) uint64 {
		return uint64(math.Round(sec * cpu.ClocksPerSec))
	}

	idle := tick(t.Idle) + tick(t.Iowait)
	busy := tick(t.User) + tick(t.Nice) + tick(t.System) + tick(t.Irq) + tick(t.Softirq) + tick(t.Steal)

	return coreTimes{idle: idle, total: idle + busy}
}

func busyPercent(cur, prev coreTimes) uint8 {
	dIdle := sub(cur.idle, prev.idle)
	dTotal := sub(cur.total, prev.total)
	if dTotal == 0 {
		return 0
	}

	return uint8(min(100, sub(dTotal, dIdle)*100/dTotal))
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}

	return a - b
}

// AvgUtil averages utils over cpus. Cores missing from utils are skipped.
func AvgUtil(utils []uint8, cpus []int) uint8 {
	var sum, n int
	for _, c := range cpus {
		if c >= 0 && c < len(utils) {
			sum += int(utils[c])
			n++
		}
	}
	if n == 0 {
		return 0
	}

	return uint8(sum / n)
}
