package governor

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/socgovd/internal/config"
	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/freq"
	"codeberg.org/mutker/socgovd/internal/logger"
	"codeberg.org/mutker/socgovd/internal/procwatch"
	"codeberg.org/mutker/socgovd/internal/state"
	"codeberg.org/mutker/socgovd/internal/sysfs"
	"codeberg.org/mutker/socgovd/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCPU struct {
	utils []uint8
}

func (f *fakeCPU) Sample(context.Context) ([]uint8, bool) { return f.utils, f.utils != nil }

type fakeTemp struct {
	v  int
	ok bool
}

func (f *fakeTemp) AvgMilliC() (int, bool) { return f.v, f.ok }

type fakeGPU struct{ v uint8 }

func (f *fakeGPU) Read() uint8 { return f.v }

type fakeScreen struct{ on bool }

func (f *fakeScreen) On() bool { return f.on }

type fakeCharge struct{ on bool }

func (f *fakeCharge) Charging() bool { return f.on }

type fakeGame struct {
	pkg    string
	isGame bool
}

func (f *fakeGame) Poll(context.Context) (string, bool) { return f.pkg, f.isGame }

type fakeProcs struct {
	top procwatch.Top
	ok  bool
}

func (f *fakeProcs) ScanTop(context.Context) (procwatch.Top, bool) { return f.top, f.ok }

var testSpecs = []device.DomainSpec{
	{
		Label: "CPU0", Freqs: device.Table{100, 200, 300, 400, 500}, CPUs: []int{0, 1},
		MinNode: "cpu0/min", MaxNode: "cpu0/max",
	},
	{
		Label: "GPU", Freqs: device.Table{10, 20, 30, 40, 50}, IsGPU: true,
		MinNode: "gpu/min", MaxNode: "gpu/max",
	},
}

type harness struct {
	loop   *Loop
	root   string
	shared *state.Shared
	clock  time.Time

	cpu    *fakeCPU
	temp   *fakeTemp
	gpu    *fakeGPU
	screen *fakeScreen
	charge *fakeCharge
	game   *fakeGame
	procs  *fakeProcs
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	root := t.TempDir()
	for _, node := range []string{"cpu0/min", "cpu0/max", "gpu/min", "gpu/max", device.BigGovernorNode} {
		p := filepath.Join(root, node)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("0\n"), 0o644))
	}

	cfg := config.Default()
	cfg.SysfsRoot = root
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		root:   root,
		shared: state.New(cfg),
		clock:  time.Unix(10_000, 0),
		cpu:    &fakeCPU{utils: []uint8{0, 0}},
		temp:   &fakeTemp{v: 45_000, ok: true},
		gpu:    &fakeGPU{},
		screen: &fakeScreen{on: true},
		charge: &fakeCharge{},
		game:   &fakeGame{},
		procs:  &fakeProcs{},
	}

	src := Sources{
		CPU:      h.cpu,
		CPUTemps: h.temp,
		GPUTemps: &fakeTemp{},
		Battery:  &fakeTemp{v: 30_000, ok: true},
		GPU:      h.gpu,
		Charge:   h.charge,
		Screen:   h.screen,
		Game:     h.game,
		Procs:    h.procs,
	}

	h.loop = New(h.shared, src, sysfs.NewCache(),
		WithDomainSpecs(testSpecs),
		WithClock(func() time.Time { return h.clock }, func(context.Context, time.Duration) error { return nil }),
	)

	return h
}

// tick advances the clock by step and runs one iteration.
func (h *harness) tick(step time.Duration) time.Duration {
	h.clock = h.clock.Add(step)
	return h.loop.Tick(context.Background())
}

func (h *harness) read(t *testing.T, node string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(h.root, node))
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

func (h *harness) domain(label string) *freq.Domain {
	for _, d := range h.loop.domains {
		if d.Label == label {
			return d.Domain
		}
	}
	return nil
}

func TestIdleTracker(t *testing.T) {
	tr := IdleTracker{Enter: 10 * time.Second}

	for i := 0; i < 9; i++ {
		entered, _ := tr.Update(true, time.Second)
		assert.False(t, entered)
	}
	assert.Equal(t, 9*time.Second, tr.Accumulated())

	_, exited := tr.Update(false, time.Second)
	assert.False(t, exited, "never entered")
	assert.Zero(t, tr.Accumulated(), "one bad sample resets the run")

	for i := 0; i < 9; i++ {
		tr.Update(true, time.Second)
	}
	assert.False(t, tr.Active())
	entered, _ := tr.Update(true, time.Second)
	assert.True(t, entered)
	assert.True(t, tr.Active())

	entered, _ = tr.Update(true, time.Second)
	assert.False(t, entered, "entry is reported once")

	_, exited = tr.Update(false, 100*time.Millisecond)
	assert.True(t, exited)
	assert.False(t, tr.Active())
}

func TestSleepFor(t *testing.T) {
	tests := []struct {
		name      string
		zone      thermal.Zone
		idle      bool
		charging  bool
		changed   bool
		stableFor time.Duration
		want      time.Duration
	}{
		{"hot zone wins over idle", thermal.Z120, true, false, false, time.Hour, 450 * time.Millisecond},
		{"hottest zone", thermal.Z130, false, false, true, 0, 450 * time.Millisecond},
		{"idle", thermal.Z110, true, false, true, 0, 6500 * time.Millisecond},
		{"idle while charging", thermal.Cool, true, true, false, 0, 1500 * time.Millisecond},
		{"after a change", thermal.Cool, false, false, true, time.Minute, 750 * time.Millisecond},
		{"stable", thermal.Z100, false, false, false, 30 * time.Second, 3 * time.Second},
		{"default", thermal.Cool, false, false, false, 29 * time.Second, 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SleepFor(tt.zone, tt.idle, tt.charging, tt.changed, tt.stableFor))
		})
	}
}

func TestEvery(t *testing.T) {
	var e every
	t0 := time.Unix(100, 0)

	assert.True(t, e.Due(t0, 6*time.Second), "first call fires")
	assert.False(t, e.Due(t0.Add(5999*time.Millisecond), 6*time.Second))
	assert.True(t, e.Due(t0.Add(6*time.Second), 6*time.Second))
	assert.False(t, e.Due(t0.Add(7*time.Second), 6*time.Second))
}

func TestParamsFor(t *testing.T) {
	cfg := config.Default()
	cfg.UpUtil = 66

	p := ParamsFor(cfg, "CPU7")
	assert.EqualValues(t, 66, p.UpUtil)
	assert.Equal(t, 7*time.Second, p.DownAfterSlow)
	assert.Equal(t, 4*time.Second, p.DownAfterFast)

	p = ParamsFor(cfg, "GPU")
	assert.Equal(t, 5*time.Second, p.DownAfterSlow)
}

func TestNewDomainsUseDeviceLayout(t *testing.T) {
	domains := NewDomains(config.Default(), device.Domains, time.Unix(0, 0))
	require.Len(t, domains, 5)

	assert.Equal(t, []int{0, 1}, domains[0].cpus)
	assert.Equal(t, []int{2, 3, 4}, domains[1].cpus)
	assert.Equal(t, []int{5, 6}, domains[2].cpus)
	assert.Equal(t, []int{7}, domains[3].cpus)
	assert.True(t, domains[4].IsGPU)

	for _, d := range domains {
		assert.Equal(t, d.BaseIndex, d.Index)
		assert.Equal(t, d.Table[0], d.MinFreq)
	}
}

func slowRelax(c *config.Config) {
	for _, label := range []string{"cpu0", "gpu"} {
		d := c.Domains[label]
		d.DownAfterFast = time.Minute
		d.DownAfterSlow = time.Minute
		c.Domains[label] = d
	}
}

func TestIdleEntryAfterTenSecondsResetsToBase(t *testing.T) {
	h := newHarness(t, slowRelax)
	cpu0 := h.domain("CPU0")
	cpu0.Index = 4

	h.screen.on = false
	h.tick(0) // first off sample is debounced
	assert.True(t, h.shared.Snapshot().Info.ScreenOn)

	// the run starts on the second off sample
	for i := 0; i < 9; i++ {
		h.tick(time.Second)
	}
	assert.False(t, h.loop.idle.Active(), "nine qualifying seconds are not enough")
	assert.Equal(t, 4, cpu0.Index)

	h.tick(time.Second)
	require.True(t, h.loop.idle.Active())
	assert.Equal(t, cpu0.BaseIndex, cpu0.Index)
	assert.True(t, h.shared.Snapshot().Info.IdleMode)

	h.gpu.v = 40
	sleep := h.tick(time.Second)
	assert.False(t, h.loop.idle.Active(), "one busy sample leaves idle")
	assert.Zero(t, h.loop.idle.Accumulated())
	assert.NotEqual(t, 6500*time.Millisecond, sleep)
}

func TestIdleAccumulatorResetsOnDisqualifyingSample(t *testing.T) {
	h := newHarness(t, slowRelax)
	h.screen.on = false
	h.tick(0)

	for i := 0; i < 8; i++ {
		h.tick(time.Second)
	}
	h.cpu.utils = []uint8{30, 30}
	h.tick(time.Second)
	h.cpu.utils = []uint8{0, 0}

	for i := 0; i < 9; i++ {
		h.tick(time.Second)
	}
	assert.False(t, h.loop.idle.Active())
	h.tick(time.Second)
	assert.True(t, h.loop.idle.Active())
}

func TestIdleEntryKeepsIndexWhileCharging(t *testing.T) {
	h := newHarness(t, slowRelax)
	h.charge.on = true
	cpu0 := h.domain("CPU0")
	cpu0.Index = 4

	h.screen.on = false
	h.tick(0)
	for i := 0; i < 11; i++ {
		h.tick(time.Second)
	}
	require.True(t, h.loop.idle.Active())
	assert.Equal(t, 4, cpu0.Index)

	sleep := h.tick(time.Second)
	assert.NotEqual(t, 6500*time.Millisecond, sleep, "idle while charging does not take the long sleep")
}

func TestBackgroundHogBlocksIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.procs.top = procwatch.Top{PID: 42, Name: "miner", Percent: 30}
	h.procs.ok = true

	h.screen.on = false
	h.tick(0)
	for i := 0; i < 30; i++ {
		h.tick(3 * time.Second)
	}
	assert.False(t, h.loop.idle.Active())
	assert.Equal(t, 1, h.loop.suspects.Len())
}

func TestForcedCadenceRepairsDrift(t *testing.T) {
	h := newHarness(t, nil)

	h.tick(0)
	want := h.read(t, "cpu0/max")
	require.NotEqual(t, "0", want, "first tick writes every node")

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "cpu0/max"), []byte("999\n"), 0o644))
	for i := 0; i < 5; i++ {
		h.tick(time.Second)
		assert.Equal(t, "999", h.read(t, "cpu0/max"), "unforced ticks trust the cache")
	}

	h.tick(time.Second)
	assert.Equal(t, want, h.read(t, "cpu0/max"), "forced tick after 6s repairs the node")
}

func TestForcedCadenceIdle(t *testing.T) {
	h := newHarness(t, slowRelax)
	h.screen.on = false
	h.tick(0)
	for i := 0; i < 11; i++ {
		h.tick(time.Second)
	}
	require.True(t, h.loop.idle.Active())

	// align with a forced tick, then drift
	for !h.loop.enforce.last.Equal(h.clock) {
		h.tick(time.Second)
	}
	want := h.read(t, "gpu/max")
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "gpu/max"), []byte("1\n"), 0o644))

	for i := 0; i < 17; i++ {
		h.tick(time.Second)
	}
	assert.Equal(t, "1", h.read(t, "gpu/max"))
	h.tick(time.Second)
	assert.Equal(t, want, h.read(t, "gpu/max"))
}

func TestHotZoneThrottlesAndShortensSleep(t *testing.T) {
	h := newHarness(t, nil)
	cpu0 := h.domain("CPU0")

	h.temp.v = 131_000
	sleep := h.tick(0)
	assert.Equal(t, 450*time.Millisecond, sleep)
	assert.Equal(t, "Z130", h.shared.Snapshot().Info.Zone)

	for i := 0; i < 5; i++ {
		h.tick(450 * time.Millisecond)
	}
	_, f := cpu0.Applied()
	assert.LessOrEqual(t, f, cpu0.ThermalCap(thermal.Z130))

	h.temp.ok = false
	h.tick(450 * time.Millisecond)
	assert.Equal(t, "Z130", h.shared.Snapshot().Info.Zone, "unknown temperature keeps the zone")
}

func TestSleepAfterChangeThenStable(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, 750*time.Millisecond, h.tick(0), "first tick writes")

	var last time.Duration
	for i := 0; i < 25; i++ {
		last = h.tick(1500 * time.Millisecond)
	}
	assert.Equal(t, 3*time.Second, last)
}

func TestGameModeTransitions(t *testing.T) {
	h := newHarness(t, nil)
	h.game.pkg = "com.example.game"
	h.game.isGame = true

	h.tick(0)
	info := h.shared.Snapshot().Info
	assert.True(t, info.GameMode)
	assert.Equal(t, "com.example.game", info.Foreground)
	assert.Equal(t, "performance", h.read(t, device.BigGovernorNode))
	for _, d := range h.loop.domains {
		assert.Equal(t, freq.MidFreq(d.Table), d.MinFreq)
	}
	assert.EqualValues(t, 300, freq.MidFreq(testSpecs[0].Freqs))

	h.game.isGame = false
	h.tick(time.Second)
	assert.True(t, h.shared.Snapshot().Info.GameMode, "game poll runs every 2s")

	h.tick(time.Second)
	assert.False(t, h.shared.Snapshot().Info.GameMode)
	assert.Equal(t, "walt", h.read(t, device.BigGovernorNode))
	for _, d := range h.loop.domains {
		assert.Equal(t, d.Table[0], d.MinFreq)
	}
}

func TestGameFloorCountsAsActuation(t *testing.T) {
	h := newHarness(t, nil)
	h.cpu.utils = []uint8{96, 96}
	h.tick(0)

	var last time.Duration
	for i := 0; i < 25; i++ {
		last = h.tick(1500 * time.Millisecond)
	}
	require.Equal(t, 3*time.Second, last)

	h.game.pkg = "com.example.game"
	h.game.isGame = true
	assert.Equal(t, 750*time.Millisecond, h.tick(2*time.Second))
	assert.Equal(t, "300", h.read(t, "cpu0/min"))
	assert.Equal(t, "500", h.read(t, "cpu0/max"))
}

func TestGameNotPolledWithScreenOff(t *testing.T) {
	h := newHarness(t, nil)
	h.game.isGame = true
	h.screen.on = false

	h.tick(0) // debounced, screen still on: polls
	assert.True(t, h.loop.game)

	h.game.isGame = false
	for i := 0; i < 5; i++ {
		h.tick(2 * time.Second)
	}
	assert.True(t, h.loop.game, "mode sticks while the screen is off")
}

func TestConfigRevisionPickup(t *testing.T) {
	h := newHarness(t, nil)
	h.tick(0)

	cfg, _ := h.shared.Config()
	cfg.UpUtil = 55
	d := cfg.Domains["cpu0"]
	d.DownAfterSlow = 9 * time.Second
	cfg.Domains["cpu0"] = d
	h.shared.ReplaceConfig(cfg, "")

	h.tick(time.Second)
	cpu0 := h.domain("CPU0")
	assert.EqualValues(t, 55, cpu0.Params.UpUtil)
	assert.Equal(t, 9*time.Second, cpu0.Params.DownAfterSlow)
	assert.Equal(t, h.shared.Revision(), h.loop.cfgRev)
}

func TestChargingRespectsConfigSwitch(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.ChargingEnabled = false })
	h.charge.on = true

	h.tick(0)
	info := h.shared.Snapshot().Info
	assert.True(t, info.Charging)
	assert.False(t, info.ChargingEnabled)
	assert.False(t, info.ChargingEffective)
}

func TestPublishedSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.cpu.utils = []uint8{40, 60}
	h.gpu.v = 12

	h.tick(0)
	snap := h.shared.Snapshot()
	info := snap.Info

	require.NotNil(t, info.SocTemp)
	assert.Equal(t, 45_000, *info.SocTemp)
	assert.Nil(t, info.GPUTemp)
	require.NotNil(t, info.BattTemp)
	assert.Equal(t, "Cool", info.Zone)
	assert.EqualValues(t, 1, info.Ticks)
	require.Len(t, info.Domains, 2)
	assert.Equal(t, "CPU0", info.Domains[0].Label)
	assert.EqualValues(t, 50, info.Domains[0].Util)
	assert.EqualValues(t, 12, info.Domains[1].Util)
	assert.Equal(t, h.clock, info.UpdatedAt)
}

func TestRunRestoresOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.game.pkg = "com.example.game"
	h.game.isGame = true

	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	h.loop.sleep = func(ctx context.Context, d time.Duration) error {
		h.clock = h.clock.Add(d)
		ticks++
		if ticks == 3 {
			cancel()
		}
		return ctx.Err()
	}

	require.NoError(t, h.loop.Run(ctx))
	assert.Equal(t, 3, ticks)
	assert.Equal(t, "walt", h.read(t, device.BigGovernorNode))
	assert.Equal(t, "100", h.read(t, "cpu0/min"))
	assert.Equal(t, "10", h.read(t, "gpu/min"))
}

func TestRestoreFailureIsLoggedWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "info", false, false, true)
	t.Cleanup(func() { logger.InitWithWriter(io.Discard, "info", false, false, true) })

	h := newHarness(t, nil)
	// a directory where the governor node should be makes the write fail
	gov := filepath.Join(h.root, device.BigGovernorNode)
	require.NoError(t, os.Remove(gov))
	require.NoError(t, os.MkdirAll(gov, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.loop.Run(ctx))

	out := buf.String()
	assert.Contains(t, out, "error_code=restore_state_failed")
	assert.Contains(t, out, "Failed to restore big cluster governor")
	assert.NotContains(t, out, "Failed to restore frequency floor")
	assert.Equal(t, "100", h.read(t, "cpu0/min"))
}
