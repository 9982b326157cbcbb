// Package procwatch finds the process that used the most CPU time between
// two scans. The governor uses it to spot background hogs while the screen
// is off.
package procwatch

import (
	"context"
	"sort"

	"codeberg.org/mutker/socgovd/internal/errors"
	"github.com/shirou/gopsutil/v4/common"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// Top is the busiest process of a scan interval.
type Top struct {
	PID     int32
	Name    string
	Percent float64 // share of all CPU time since the previous scan
}

// Sample is the cumulative CPU time of one process, in seconds.
type Sample struct {
	Name string
	CPU  float64
}

// Source reports cumulative CPU times.
type Source interface {
	TotalCPU(ctx context.Context) (float64, error)
	Processes(ctx context.Context) (map[int32]Sample, error)
}

// Scanner keeps the previous sample to compute deltas. It is not safe for
// concurrent use.
type Scanner struct {
	src       Source
	lastTotal float64
	lastProc  map[int32]float64
}

func NewScanner(src Source) *Scanner {
	return &Scanner{src: src}
}

// ScanTop returns the process with the largest CPU time delta. The first
// call only primes the baseline and returns false, as do scans with no
// measurable activity. A process first seen in this scan has no baseline
// and counts as idle.
func (s *Scanner) ScanTop(ctx context.Context) (Top, bool) {
	total, err := s.src.TotalCPU(ctx)
	if err != nil {
		return Top{}, false
	}
	procs, err := s.src.Processes(ctx)
	if err != nil {
		return Top{}, false
	}

	primed := s.lastProc != nil
	dTotal := total - s.lastTotal
	prev := s.lastProc

	s.lastTotal = total
	s.lastProc = make(map[int32]float64, len(procs))
	for pid, p := range procs {
		s.lastProc[pid] = p.CPU
	}

	if !primed || dTotal <= 0 {
		return Top{}, false
	}

	var best Top
	var bestDelta float64
	for pid, p := range procs {
		before, ok := prev[pid]
		if !ok {
			continue
		}
		d := p.CPU - before
		if d <= 0 {
			continue
		}
		if d > bestDelta || (d == bestDelta && pid < best.PID) {
			bestDelta = d
			best = Top{PID: pid, Name: p.Name}
		}
	}
	if bestDelta == 0 {
		return Top{}, false
	}

	best.Percent = min(100, bestDelta*100/dTotal)

	return best, true
}

// Suspects collects processes seen above a threshold, keeping the peak
// percentage per name.
type Suspects struct {
	peaks map[string]float64
}

func (s *Suspects) Add(t Top) {
	if s.peaks == nil {
		s.peaks = make(map[string]float64)
	}
	if t.Percent > s.peaks[t.Name] {
		s.peaks[t.Name] = t.Percent
	}
}

func (s *Suspects) Reset() {
	s.peaks = nil
}

func (s *Suspects) Len() int {
	return len(s.peaks)
}

// Top returns up to n names ordered by peak usage.
func (s *Suspects) Top(n int) []Top {
	out := make([]Top, 0, len(s.peaks))
	for name, pct := range s.peaks {
		out = append(out, Top{Name: name, Percent: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percent != out[j].Percent {
			return out[i].Percent > out[j].Percent
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}

	return out
}

// HostSource reads the live process table through gopsutil.
type HostSource struct {
	procRoot string
}

// NewHostSource reads from procRoot; empty means the host default.
func NewHostSource(procRoot string) *HostSource {
	return &HostSource{procRoot: procRoot}
}

func (h *HostSource) ctx(ctx context.Context) context.Context {
	if h.procRoot == "" || h.procRoot == "/proc" {
		return ctx
	}

	return context.WithValue(ctx, common.EnvKey, common.EnvMap{common.HostProcEnvKey: h.procRoot})
}

func (h *HostSource) TotalCPU(ctx context.Context) (float64, error) {
	times, err := cpu.TimesWithContext(h.ctx(ctx), false)
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrSensorMissing, err)
	}
	if len(times) == 0 {
		return 0, errors.New().New(errors.ErrSensorMissing)
	}

	t := times[0]

	return t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal, nil
}

func (h *HostSource) Processes(ctx context.Context) (map[int32]Sample, error) {
	ctx = h.ctx(ctx)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrSensorMissing, err)
	}

	out := make(map[int32]Sample, len(procs))
	for _, p := range procs {
		// processes may exit between listing and reading
		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		out[p.Pid] = Sample{Name: name, CPU: times.User + times.System}
	}

	return out, nil
}
