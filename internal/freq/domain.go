package freq

import (
	"time"

	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/logger"
	"codeberg.org/mutker/socgovd/internal/sysfs"
	"codeberg.org/mutker/socgovd/internal/thermal"
)

// Hold is how long after an upward jump relaxation is suspended.
const Hold = 800 * time.Millisecond

// Params tunes how a domain reacts to utilization.
type Params struct {
	UpUtil      uint8 // step up by 1 at or above this
	SpikeDelta2 uint8 // step up by 2 on a rise this large
	SpikeDelta4 uint8 // step up by 4 on a rise this large
	HighJump2   uint8 // step up by 2 at or above this
	HighJump4   uint8 // step up by 4 at or above this

	DownUtilFast  uint8
	DownUtilSlow  uint8
	DownAfterFast time.Duration
	DownAfterSlow time.Duration
}

// DefaultParams returns the stock tuning used for CPU clusters.
func DefaultParams() Params {
	return Params{
		UpUtil:        70,
		SpikeDelta2:   20,
		SpikeDelta4:   35,
		HighJump2:     85,
		HighJump4:     95,
		DownUtilFast:  50,
		DownUtilSlow:  60,
		DownAfterFast: 3 * time.Second,
		DownAfterSlow: 6 * time.Second,
	}
}

// Domain is one cluster's or the GPU's operating-point state machine. The
// desired index reacts to load; the applied index follows it under slew and
// thermal limits. Both live on the same record but are computed separately.
type Domain struct {
	Label   string
	Table   device.Table
	MinFreq uint64 // floor written to MinPath; raised in game mode
	MaxFreq uint64
	MinPath string
	MaxPath string
	IsGPU   bool

	BaseIndex int
	Index     int // desired

	Params Params

	lastUtil  uint8
	upStep    int
	holdUntil time.Time
	lowAccum  time.Duration

	lastAppliedIdx  int
	lastAppliedFreq uint64

	log logger.Logger
}

// NewDomain creates a domain resting at baseIndex.
func NewDomain(
	label string,
	table device.Table,
	minPath, maxPath string,
	baseIndex int,
	isGPU bool,
	params Params,
	now time.Time,
) *Domain {
	baseIndex = max(0, min(baseIndex, len(table)-1))

	return &Domain{
		Label:           label,
		Table:           table,
		MinFreq:         table[0],
		MaxFreq:         table[len(table)-1],
		MinPath:         minPath,
		MaxPath:         maxPath,
		IsGPU:           isGPU,
		BaseIndex:       baseIndex,
		Index:           baseIndex,
		Params:          params,
		upStep:          1,
		holdUntil:       now,
		lastAppliedIdx:  baseIndex,
		lastAppliedFreq: table[baseIndex],
		log:             logger.New("freq").With(label),
	}
}

// UpdateDesired moves the desired index in response to util (0-100). now is
// a monotonic reading and dt the time since the previous call. It returns
// whether the desired index changed.
func (d *Domain) UpdateDesired(util uint8, now time.Time, dt time.Duration) bool {
	old := d.Index
	p := d.Params

	var delta uint8
	if util > d.lastUtil {
		delta = util - d.lastUtil
	}
	d.lastUtil = util

	jump := 0
	switch {
	case util >= p.HighJump4 || delta >= p.SpikeDelta4:
		jump = 4
	case util >= p.HighJump2 || delta >= p.SpikeDelta2:
		jump = 2
	case util >= p.UpUtil:
		jump = 1
	}

	last := len(d.Table) - 1
	if jump > 0 && d.Index < last {
		next := min(last, d.Index+jump)
		if next != d.Index {
			d.Index = next
			d.upStep = jump
			d.holdUntil = now.Add(Hold)
		}
		d.lowAccum = 0
	} else if jump == 0 {
		d.upStep = 1
	}

	if !now.Before(d.holdUntil) {
		switch {
		case util <= p.DownUtilFast:
			d.relax(dt, p.DownAfterFast)
		case util <= p.DownUtilSlow:
			d.relax(dt, p.DownAfterSlow)
		default:
			d.lowAccum = 0
		}
	}

	return d.Index != old
}

func (d *Domain) relax(dt, after time.Duration) {
	d.lowAccum += dt
	if d.lowAccum < after {
		return
	}
	d.lowAccum = 0
	if d.Index > d.BaseIndex {
		d.Index--
	}
}

// ResetToBase drops the desired index back to its resting point.
func (d *Domain) ResetToBase() {
	d.Index = d.BaseIndex
	d.lowAccum = 0
}

// MaxDrop returns how many table steps a single apply may fall in zone.
func MaxDrop(zone thermal.Zone) int {
	switch zone {
	case thermal.Z130:
		return 3
	case thermal.Z120:
		return 2
	default:
		return 1
	}
}

// ThermalCap returns the highest frequency allowed in zone.
func (d *Domain) ThermalCap(zone thermal.Zone) uint64 {
	r := zone.Reduction()
	if r == 0 {
		return d.MaxFreq
	}

	return d.MaxFreq * uint64(100-r) / 100
}

// Target computes the index the next Apply will write, and consumes the
// permitted up-step.
func (d *Domain) target(zone thermal.Zone) int {
	limit := min(d.Table[d.Index], d.ThermalCap(zone))
	idx := ClampToTable(d.Table, limit)

	up := max(1, d.upStep)
	idx = min(idx, d.lastAppliedIdx+up)
	d.upStep = 1

	if floor := d.lastAppliedIdx - MaxDrop(zone); idx < floor {
		idx = floor
	}

	return idx
}

// Apply writes the slew-limited, thermally capped operating point through
// cache. force re-verifies the on-disk values. It returns whether either
// node was written.
func (d *Domain) Apply(zone thermal.Zone, cache *sysfs.Cache, force bool) (bool, error) {
	idx := d.target(zone)
	freq := d.Table[idx]

	// a raised floor must never exceed a throttled ceiling
	effMin := min(d.MinFreq, freq)

	wroteMin, err := cache.WriteUint(d.MinPath, effMin, force)
	if err != nil {
		return false, err
	}
	wroteMax, err := cache.WriteUint(d.MaxPath, freq, force)
	if err != nil {
		return false, err
	}

	if idx != d.lastAppliedIdx || freq != d.lastAppliedFreq {
		d.log.Info().
			Str("cap", d.Format(freq)).
			Str("zone", zone.String()).
			Int("index", idx).
			Msg("Frequency cap changed")
	}
	d.lastAppliedIdx = idx
	d.lastAppliedFreq = freq

	return wroteMin || wroteMax, nil
}

// Applied returns the last applied index and frequency.
func (d *Domain) Applied() (int, uint64) {
	return d.lastAppliedIdx, d.lastAppliedFreq
}

// UpStep returns the up-step the next Apply is permitted to take.
func (d *Domain) UpStep() int {
	return max(1, d.upStep)
}

// Format renders a frequency from this domain's table.
func (d *Domain) Format(f uint64) string {
	if d.IsGPU {
		return FormatHz(f)
	}

	return FormatKHz(f)
}
