package fan

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/sysfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFan(t *testing.T) (*Controller, string) {
	t.Helper()
	root := t.TempDir()
	for _, node := range []string{device.FanEnableNode, device.FanLevelNode} {
		p := filepath.Join(root, node)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("0\n"), 0o644))
	}
	c := New(root, sysfs.NewCache(), 2)
	require.NotNil(t, c)

	return c, root
}

func readNode(t *testing.T, root, node string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, node))
	require.NoError(t, err)
	return string(b)
}

func TestCurves(t *testing.T) {
	socCases := map[int]int{-1: 0, 0: 0, 49_999: 0, 50_000: 1, 65_000: 2, 79_999: 3, 85_000: 4, 90_000: 5, 120_000: 5}
	for temp, want := range socCases {
		assert.Equal(t, want, SocLevel(temp), "soc %d", temp)
	}

	battCases := map[int]int{10_000: 0, 15_000: 1, 26_000: 2, 30_000: 3, 41_999: 4, 42_000: 5}
	for temp, want := range battCases {
		assert.Equal(t, want, BatteryLevel(temp), "battery %d", temp)
	}
}

func TestTarget(t *testing.T) {
	c, _ := newFan(t)
	hotBatt := 36_000

	tests := []struct {
		name     string
		soc      int
		batt     *int
		screenOn bool
		charging bool
		game     bool
		want     int
	}{
		{"screen on follows soc", 72_000, nil, true, false, false, 3},
		{"screen off and discharging stops", 95_000, nil, false, false, false, 0},
		{"charging takes the hotter curve", 55_000, &hotBatt, false, true, false, 4},
		{"charging without battery reading", 55_000, nil, false, true, false, 1},
		{"game holds the baseline", 40_000, nil, true, false, true, 2},
		{"game does not cap", 91_000, nil, true, false, true, 5},
		{"game ignored with screen off", 40_000, nil, false, false, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Target(tt.soc, tt.batt, tt.screenOn, tt.charging, tt.game))
		})
	}
}

func TestApplySmoothsOneStep(t *testing.T) {
	c, root := newFan(t)

	assert.True(t, c.Apply(95_000, nil, true, false, false))
	assert.Equal(t, 1, c.Level())
	assert.Equal(t, "1\n", readNode(t, root, device.FanEnableNode))
	assert.Equal(t, "1\n", readNode(t, root, device.FanLevelNode))

	for i := 0; i < 10; i++ {
		c.Apply(95_000, nil, true, false, false)
	}
	assert.Equal(t, MaxLevel, c.Level())
	assert.False(t, c.Apply(95_000, nil, true, false, false), "steady at target")

	assert.True(t, c.Apply(20_000, nil, true, false, false))
	assert.Equal(t, MaxLevel-1, c.Level())
}

func TestForceLevel(t *testing.T) {
	c, root := newFan(t)

	c.ForceLevel(9)
	assert.Equal(t, MaxLevel, c.Level())
	assert.Equal(t, "5\n", readNode(t, root, device.FanLevelNode))

	c.ForceLevel(0)
	assert.Equal(t, 0, c.Level())
	assert.Equal(t, "0\n", readNode(t, root, device.FanEnableNode))
}

func TestMissingFan(t *testing.T) {
	c := New(t.TempDir(), sysfs.NewCache(), 2)
	assert.Nil(t, c)
	assert.False(t, c.Apply(90_000, nil, true, false, false))
	assert.Equal(t, 0, c.Level())
	c.ForceLevel(3)
}
