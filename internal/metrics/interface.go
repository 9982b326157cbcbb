package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/socgovd/internal/state"
)

// Collector records governor snapshots.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for metrics data storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot is one telemetry row. Temperatures are millidegrees Celsius;
// nil is stored as NULL.
type Snapshot struct {
	Timestamp time.Time
	Zone      string
	Reduction int

	SocTemp  *int
	CPUTemp  *int
	GPUTemp  *int
	BattTemp *int

	Freqs    map[string]uint64
	Utils    map[string]uint8
	FanLevel int

	Idle     bool
	Game     bool
	Charging bool
}

// FromInfo converts a published state to a telemetry row.
func FromInfo(info state.Info) *Snapshot {
	info = info.Clone()

	s := &Snapshot{
		Timestamp: info.UpdatedAt,
		Zone:      info.Zone,
		Reduction: info.Reduction,
		SocTemp:   info.SocTemp,
		CPUTemp:   info.CPUTemp,
		GPUTemp:   info.GPUTemp,
		BattTemp:  info.BattTemp,
		Freqs:     make(map[string]uint64, len(info.Domains)),
		Utils:     make(map[string]uint8, len(info.Domains)),
		FanLevel:  info.FanLevel,
		Idle:      info.IdleMode,
		Game:      info.GameMode,
		Charging:  info.ChargingEffective,
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	for _, d := range info.Domains {
		s.Freqs[d.Label] = d.Freq
		s.Utils[d.Label] = d.Util
	}

	return s
}
