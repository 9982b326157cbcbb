// Package governor runs the control loop: it samples sensors, classifies
// the thermal zone, steps every frequency domain and writes the results,
// then sleeps for a load and temperature dependent interval.
package governor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/socgovd/internal/config"
	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/fan"
	"codeberg.org/mutker/socgovd/internal/freq"
	"codeberg.org/mutker/socgovd/internal/game"
	"codeberg.org/mutker/socgovd/internal/logger"
	"codeberg.org/mutker/socgovd/internal/metrics"
	"codeberg.org/mutker/socgovd/internal/procwatch"
	"codeberg.org/mutker/socgovd/internal/sensors"
	"codeberg.org/mutker/socgovd/internal/state"
	"codeberg.org/mutker/socgovd/internal/sysfs"
	"codeberg.org/mutker/socgovd/internal/thermal"
)

const (
	chargeEvery   = 2 * time.Second
	gameEvery     = 2 * time.Second
	bgEveryActive = 3 * time.Second
	bgEveryIdle   = 6 * time.Second

	// consecutive off readings before the screen counts as off
	screenOffSamples = 2
	suspectReport    = 3
)

// Option customizes a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock and the sleep function.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(l *Loop) {
		l.now = now
		l.sleep = sleep
	}
}

// WithDomainSpecs controls a different set of domains than the device default.
func WithDomainSpecs(specs []device.DomainSpec) Option {
	return func(l *Loop) {
		l.specs = specs
	}
}

// WithMetrics records telemetry rows through c.
func WithMetrics(c metrics.Collector) Option {
	return func(l *Loop) {
		l.metrics = c
	}
}

// WithFan drives the cooling fan from the loop.
func WithFan(f *fan.Controller) Option {
	return func(l *Loop) {
		l.fan = f
	}
}

type listSetter interface {
	SetList(game.List)
}

// Loop owns every domain and the actuator cache. It is not safe for
// concurrent use; other goroutines observe it through state.Shared.
type Loop struct {
	src          Sources
	shared       *state.Shared
	cache        *sysfs.Cache
	fan          *fan.Controller
	metrics      metrics.Collector
	specs        []device.DomainSpec
	domains      []controlled
	governorPath string

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	log   logger.Logger

	cfg    config.Config
	cfgRev uint64

	lastTick    time.Time
	zone        thermal.Zone
	charging    bool
	chargeCheck every
	gameCheck   every
	bgCheck     every
	enforce     every

	offStreak  int
	screenOn   bool
	offSince   time.Time
	game       bool
	foreground string

	idle      IdleTracker
	suspects  procwatch.Suspects
	stableFor time.Duration
	ticks     uint64
}

// New builds a loop reading its configuration from shared.
func New(shared *state.Shared, src Sources, cache *sysfs.Cache, opts ...Option) *Loop {
	l := &Loop{
		src:      src,
		shared:   shared,
		cache:    cache,
		specs:    device.Domains,
		now:      time.Now,
		sleep:    sleepCtx,
		log:      logger.New("governor"),
		screenOn: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics, _ = metrics.NewService(metrics.DefaultConfig())
	}

	l.cfg, l.cfgRev = shared.Config()
	l.governorPath = device.Path(l.cfg.SysfsRoot, device.BigGovernorNode)
	l.domains = NewDomains(l.cfg, l.specs, l.now())
	l.idle.Enter = l.cfg.IdleEnter
	l.fan.SetGameBase(l.cfg.GameFanBase)

	for _, d := range l.domains {
		l.log.Info().
			Str("domain", d.Label).
			Str("base", d.Format(d.Table[d.BaseIndex])).
			Str("max", d.Format(d.MaxFreq)).
			Msg("Domain ready")
	}

	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run ticks until ctx is cancelled, then restores the normal governor and
// the table minimum floors.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Int("domains", len(l.domains)).Msg("Control loop started")
	defer l.restore()

	for ctx.Err() == nil {
		d := l.Tick(ctx)
		if err := l.sleep(ctx, d); err != nil {
			break
		}
	}

	return nil
}

// Tick runs one control iteration and returns how long to sleep.
func (l *Loop) Tick(ctx context.Context) time.Duration {
	now := l.now()
	var dt time.Duration
	if !l.lastTick.IsZero() {
		dt = max(0, now.Sub(l.lastTick))
	}
	l.lastTick = now
	l.ticks++

	l.pollCharge(now)
	screenOn := l.sampleScreen()
	l.pollGame(ctx, now, screenOn)
	l.screenTransition(now, screenOn)

	cpuT, cpuOK := l.src.CPUTemps.AvgMilliC()
	gpuT, gpuOK := l.src.GPUTemps.AvgMilliC()
	soc, socOK := sensors.SocTemp(cpuT, cpuOK, gpuT, gpuOK)
	var batt *int
	if l.src.Battery != nil {
		if b, ok := l.src.Battery.AvgMilliC(); ok {
			batt = &b
		}
	}

	zone := l.zone
	if socOK {
		zone = thermal.Classify(soc, l.zone)
	}
	if zone != l.zone {
		l.log.Info().
			Str("from", l.zone.String()).
			Str("to", zone.String()).
			Str("soc", formatTemp(soc, socOK)).
			Int("reduction", zone.Reduction()).
			Msg("Thermal zone changed")
		l.zone = zone
	}

	gpuUtil := l.src.GPU.Read()
	cpuUtils, _ := l.src.CPU.Sample(ctx)

	utils := make([]uint8, len(l.domains))
	var maxCluster uint8
	for i, d := range l.domains {
		if d.IsGPU {
			utils[i] = gpuUtil
			continue
		}
		utils[i] = sensors.AvgUtil(cpuUtils, d.cpus)
		maxCluster = max(maxCluster, utils[i])
	}

	bgOver := l.scanBackground(ctx, now, screenOn)

	l.refreshConfig()
	chargingEff := l.charging && l.cfg.ChargingEnabled

	fanSoc := -1
	if socOK {
		fanSoc = soc
	}
	l.fan.Apply(fanSoc, batt, screenOn, chargingEff, l.game)

	qualifies := !screenOn && !bgOver && maxCluster < l.cfg.IdleCPUMax && gpuUtil < l.cfg.IdleGPUMax
	entered, exited := l.idle.Update(qualifies, dt)
	if entered {
		reset := !chargingEff && !l.game
		l.log.Info().Bool("reset_to_base", reset).Msg("Entering idle")
		if reset {
			for _, d := range l.domains {
				d.ResetToBase()
			}
		}
	}
	if exited {
		l.log.Info().Msg("Leaving idle")
	}

	interval := l.cfg.EnforceActive
	if l.idle.Active() {
		interval = l.cfg.EnforceIdle
	}
	force := l.enforce.Due(now, interval)

	anyStep := false
	for i, d := range l.domains {
		if d.UpdateDesired(utils[i], now, dt) {
			anyStep = true
		}
	}

	anyWrite := false
	for _, d := range l.domains {
		wrote, err := d.Apply(zone, l.cache, force)
		if err != nil {
			l.logApplyError(d.Label, err)
			continue
		}
		if wrote {
			anyWrite = true
		}
	}

	info := l.buildInfo(now, zone, cpuT, cpuOK, gpuT, gpuOK, soc, socOK, batt, screenOn, chargingEff, utils)
	l.shared.Publish(func(i *state.Info) { *i = info })

	if force || anyWrite {
		if err := l.metrics.Record(ctx, metrics.FromInfo(info)); err != nil {
			l.log.Debug().Err(err).Msg("Failed to record metrics")
		}
	}
	if force {
		l.logStat(info, gpuUtil)
	}

	changed := anyStep || anyWrite
	if changed {
		l.stableFor = 0
	} else {
		l.stableFor += dt
	}

	return SleepFor(zone, l.idle.Active(), chargingEff, changed, l.stableFor)
}

func (l *Loop) pollCharge(now time.Time) {
	if l.src.Charge == nil || !l.chargeCheck.Due(now, chargeEvery) {
		return
	}

	c := l.src.Charge.Charging()
	if c == l.charging {
		return
	}
	l.charging = c
	if c {
		l.log.Info().Msg("Charger connected")
	} else {
		l.log.Info().Msg("Charger disconnected")
	}
}

func (l *Loop) sampleScreen() bool {
	if l.src.Screen == nil {
		return true
	}
	if l.src.Screen.On() {
		l.offStreak = 0
		return true
	}
	l.offStreak = min(l.offStreak+1, screenOffSamples)

	return l.offStreak < screenOffSamples
}

func (l *Loop) pollGame(ctx context.Context, now time.Time, screenOn bool) {
	if !screenOn || l.src.Game == nil || !l.gameCheck.Due(now, gameEvery) {
		return
	}

	pkg, isGame := l.src.Game.Poll(ctx)
	l.foreground = pkg
	if isGame != l.game {
		l.setGame(isGame, pkg)
	}
}

func (l *Loop) setGame(on bool, pkg string) {
	l.game = on

	gov := l.cfg.GovernorNormal
	for _, d := range l.domains {
		if on {
			d.MinFreq = freq.MidFreq(d.Table)
		} else {
			d.MinFreq = d.Table[0]
		}
	}
	if on {
		gov = l.cfg.GovernorGame
		l.log.Info().Str("package", pkg).Msg("Game mode on")
		l.fan.ForceLevel(l.cfg.GameFanBase)
	} else {
		l.log.Info().Msg("Game mode off")
	}

	if _, err := l.cache.WriteString(l.governorPath, gov, true); err != nil {
		l.log.Warn().Err(err).Str("governor", gov).Msg("Failed to set big cluster governor")
	}
}

func (l *Loop) screenTransition(now time.Time, screenOn bool) {
	if screenOn == l.screenOn {
		return
	}
	l.screenOn = screenOn

	if !screenOn {
		l.offSince = now
		l.suspects.Reset()
		l.log.Debug().Msg("Screen off")
		return
	}

	off := now.Sub(l.offSince)
	l.log.Debug().Dur("off_for", off).Msg("Screen on")
	if off < l.cfg.LongOffNotify || l.suspects.Len() == 0 {
		return
	}

	parts := make([]string, 0, suspectReport)
	for _, s := range l.suspects.Top(suspectReport) {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", s.Name, s.Percent))
	}
	l.log.Warn().
		Dur("off_for", off).
		Str("processes", strings.Join(parts, ", ")).
		Msg("Suspicious background processes")
}

func (l *Loop) scanBackground(ctx context.Context, now time.Time, screenOn bool) bool {
	if screenOn || l.src.Procs == nil {
		return false
	}

	interval := bgEveryActive
	if l.idle.Active() {
		interval = bgEveryIdle
	}
	if !l.bgCheck.Due(now, interval) {
		return false
	}

	top, ok := l.src.Procs.ScanTop(ctx)
	if !ok || top.Percent < l.cfg.BgThreshold {
		return false
	}

	l.suspects.Add(top)
	l.log.Debug().
		Int32("pid", top.PID).
		Str("name", top.Name).
		Float64("percent", top.Percent).
		Msg("Busy background process")

	return true
}

// refreshConfig picks up a new configuration when the revision moved.
func (l *Loop) refreshConfig() {
	if l.shared.Revision() == l.cfgRev {
		return
	}

	prev := l.cfg
	l.cfg, l.cfgRev = l.shared.Config()

	l.idle.Enter = l.cfg.IdleEnter
	l.fan.SetGameBase(l.cfg.GameFanBase)

	for i, d := range l.domains {
		d.Params = ParamsFor(l.cfg, d.Label)
		d.BaseIndex = freq.BaseIndexFromRatio(d.Table, baseRatio(l.cfg, l.specs[i]))
	}

	if l.cfg.GameList != prev.GameList {
		if ls, ok := l.src.Game.(listSetter); ok {
			list, err := game.LoadList(l.cfg.GameList)
			if err != nil {
				l.log.Warn().Err(err).Msg("Failed to load game list, using default")
				list = game.DefaultList()
			}
			ls.SetList(list)
		}
	}

	l.log.Info().Uint64("revision", l.cfgRev).Msg("Configuration applied")
}

func (l *Loop) logApplyError(label string, err error) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		l.log.ErrorWithCode(errors.New().Wrap(errors.ErrApplyDomain, appErr)).
			Str("domain", label).
			Msg("Failed to apply frequency cap")
		return
	}
	l.log.Error().Err(err).Str("domain", label).Msg("Failed to apply frequency cap")
}

func (l *Loop) buildInfo(
	now time.Time,
	zone thermal.Zone,
	cpuT int, cpuOK bool,
	gpuT int, gpuOK bool,
	soc int, socOK bool,
	batt *int,
	screenOn, chargingEff bool,
	utils []uint8,
) state.Info {
	opt := func(v int, ok bool) *int {
		if !ok {
			return nil
		}
		return &v
	}

	domains := make([]state.DomainInfo, len(l.domains))
	for i, d := range l.domains {
		idx, f := d.Applied()
		domains[i] = state.DomainInfo{
			Label:   d.Label,
			Freq:    f,
			Index:   idx,
			MinFreq: d.MinFreq,
			Util:    utils[i],
			IsGPU:   d.IsGPU,
		}
	}

	return state.Info{
		CPUTemp:           opt(cpuT, cpuOK),
		GPUTemp:           opt(gpuT, gpuOK),
		SocTemp:           opt(soc, socOK),
		BattTemp:          batt,
		Zone:              zone.String(),
		Reduction:         zone.Reduction(),
		ScreenOn:          screenOn,
		Charging:          l.charging,
		ChargingEnabled:   l.cfg.ChargingEnabled,
		ChargingEffective: chargingEff,
		GameMode:          l.game,
		IdleMode:          l.idle.Active(),
		Foreground:        l.foreground,
		FanLevel:          l.fan.Level(),
		Domains:           domains,
		Ticks:             l.ticks,
		UpdatedAt:         now,
	}
}

func (l *Loop) logStat(info state.Info, gpuUtil uint8) {
	ev := l.log.Info().
		Str("cpu", formatTempPtr(info.CPUTemp)).
		Str("gpu", formatTempPtr(info.GPUTemp)).
		Str("soc", formatTempPtr(info.SocTemp)).
		Str("battery", formatTempPtr(info.BattTemp)).
		Str("zone", info.Zone).
		Uint8("gpu_util", gpuUtil).
		Bool("screen", info.ScreenOn).
		Bool("charging", info.Charging).
		Bool("idle", info.IdleMode).
		Bool("game", info.GameMode)
	for _, d := range info.Domains {
		ev = ev.Uint8(strings.ToLower(d.Label)+"_util", d.Util)
	}
	ev.Msg("STAT")
}

func formatTemp(milliC int, ok bool) string {
	if !ok {
		return "?"
	}

	return fmt.Sprintf("%.1fC", float64(milliC)/1000)
}

func formatTempPtr(p *int) string {
	if p == nil {
		return "?"
	}

	return formatTemp(*p, true)
}

// restore drops game floors and hands the big cluster back to the normal
// governor. Caps are left at their last applied values.
func (l *Loop) restore() {
	errFactory := errors.New()

	for _, d := range l.domains {
		d.MinFreq = d.Table[0]
		if _, err := l.cache.WriteUint(d.MinPath, d.Table[0], true); err != nil {
			l.log.ErrorWithCode(errFactory.Wrap(errors.ErrRestoreState, err)).
				Str("domain", d.Label).
				Msg("Failed to restore frequency floor")
		}
	}
	if _, err := l.cache.WriteString(l.governorPath, l.cfg.GovernorNormal, true); err != nil {
		l.log.ErrorWithCode(errFactory.Wrap(errors.ErrRestoreState, err)).
			Str("governor", l.cfg.GovernorNormal).
			Msg("Failed to restore big cluster governor")
	}
	if err := l.metrics.Close(); err != nil {
		l.log.Warn().Err(err).Msg("Failed to close metrics")
	}

	l.log.Info().Msg("Control loop stopped")
}
