// Package state holds the snapshot shared between the control loop and its
// read-only consumers, plus the live configuration and its revision.
package state

import (
	"sync"
	"time"

	"codeberg.org/mutker/socgovd/internal/config"
)

// DomainInfo is the published view of one frequency domain.
type DomainInfo struct {
	Label   string `json:"label"`
	Freq    uint64 `json:"freq"`
	Index   int    `json:"index"`
	MinFreq uint64 `json:"min_freq"`
	Util    uint8  `json:"util"`
	IsGPU   bool   `json:"is_gpu"`
}

// Info is what the control loop publishes each tick. Temperatures are in
// millidegrees Celsius; nil means unknown.
type Info struct {
	CPUTemp  *int `json:"cpu_temp,omitempty"`
	GPUTemp  *int `json:"gpu_temp,omitempty"`
	SocTemp  *int `json:"soc_temp,omitempty"`
	BattTemp *int `json:"batt_temp,omitempty"`

	Zone      string `json:"zone"`
	Reduction int    `json:"reduction"`

	ScreenOn          bool   `json:"screen_on"`
	Charging          bool   `json:"charging"`
	ChargingEnabled   bool   `json:"charging_enabled"`
	ChargingEffective bool   `json:"charging_effective"`
	GameMode          bool   `json:"game_mode"`
	IdleMode          bool   `json:"idle_mode"`
	Foreground        string `json:"foreground,omitempty"`
	FanLevel          int    `json:"fan_level"`

	Domains []DomainInfo `json:"domains"`

	Ticks     uint64    `json:"ticks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (i Info) Clone() Info {
	out := i
	out.CPUTemp = cloneInt(i.CPUTemp)
	out.GPUTemp = cloneInt(i.GPUTemp)
	out.SocTemp = cloneInt(i.SocTemp)
	out.BattTemp = cloneInt(i.BattTemp)
	if i.Domains != nil {
		out.Domains = append([]DomainInfo(nil), i.Domains...)
	}

	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Snapshot is a consistent copy of the shared state.
type Snapshot struct {
	Info            Info   `json:"info"`
	ConfigRev       uint64 `json:"config_rev"`
	LastConfigError string `json:"last_config_error,omitempty"`
}

// Shared is safe for concurrent use. Writers hold the lock only for
// in-memory copies, never across I/O.
type Shared struct {
	mu        sync.RWMutex
	cfg       config.Config
	rev       uint64
	lastError string
	info      Info
}

func New(cfg config.Config) *Shared {
	return &Shared{cfg: cfg.Clone(), rev: 1}
}

// Config returns a private copy of the configuration and its revision.
func (s *Shared) Config() (config.Config, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg.Clone(), s.rev
}

// Revision returns the current configuration revision. It never decreases.
func (s *Shared) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rev
}

// ReplaceConfig installs cfg and bumps the revision. errMsg records the
// error that produced cfg, if any, and clears it otherwise.
func (s *Shared) ReplaceConfig(cfg config.Config, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg.Clone()
	s.lastError = errMsg
	s.rev++
}

// Publish mutates the published info under the write lock.
func (s *Shared) Publish(fn func(*Info)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.info)
}

func (s *Shared) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Info:            s.info.Clone(),
		ConfigRev:       s.rev,
		LastConfigError: s.lastError,
	}
}
