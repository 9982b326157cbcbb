package governor

import (
	"time"

	"codeberg.org/mutker/socgovd/internal/config"
	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/freq"
)

// controlled pairs a domain with the cores whose load drives it.
type controlled struct {
	*freq.Domain
	cpus []int
}

// ParamsFor merges the global thresholds with a domain's overrides.
func ParamsFor(cfg config.Config, label string) freq.Params {
	p := freq.DefaultParams()
	p.UpUtil = cfg.UpUtil
	p.SpikeDelta2 = cfg.SpikeDelta2
	p.SpikeDelta4 = cfg.SpikeDelta4
	p.HighJump2 = cfg.HighJump2
	p.HighJump4 = cfg.HighJump4

	d := cfg.Domain(label)
	if d.DownUtilFast > 0 {
		p.DownUtilFast = d.DownUtilFast
	}
	if d.DownUtilSlow > 0 {
		p.DownUtilSlow = d.DownUtilSlow
	}
	if d.DownAfterFast > 0 {
		p.DownAfterFast = d.DownAfterFast
	}
	if d.DownAfterSlow > 0 {
		p.DownAfterSlow = d.DownAfterSlow
	}

	return p
}

func baseRatio(cfg config.Config, spec device.DomainSpec) float64 {
	if r := cfg.Domain(spec.Label).BaseRatio; r > 0 {
		return r
	}

	return spec.BaseRatio
}

// NewDomains builds the controlled domains from the device description.
func NewDomains(cfg config.Config, specs []device.DomainSpec, now time.Time) []controlled {
	out := make([]controlled, 0, len(specs))
	for _, s := range specs {
		d := freq.NewDomain(
			s.Label,
			s.Freqs,
			device.Path(cfg.SysfsRoot, s.MinNode),
			device.Path(cfg.SysfsRoot, s.MaxNode),
			freq.BaseIndexFromRatio(s.Freqs, baseRatio(cfg, s)),
			s.IsGPU,
			ParamsFor(cfg, s.Label),
			now,
		)
		out = append(out, controlled{Domain: d, cpus: s.CPUs})
	}

	return out
}
