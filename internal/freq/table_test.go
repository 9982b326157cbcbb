package freq

import (
	"testing"

	"codeberg.org/mutker/socgovd/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestClampToTable(t *testing.T) {
	table := device.Table{100, 200, 300, 400, 500}

	tests := []struct {
		name  string
		limit uint64
		want  int
	}{
		{"below first", 50, 0},
		{"exact first", 100, 0},
		{"between", 350, 2},
		{"exact middle", 300, 2},
		{"exact last", 500, 4},
		{"above last", 10_000, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampToTable(table, tt.limit))
		})
	}
}

func TestClampToTableGreatestNotAbove(t *testing.T) {
	for _, d := range device.Domains {
		for i, f := range d.Freqs {
			assert.Equal(t, i, ClampToTable(d.Freqs, f), "%s[%d]", d.Label, i)
			if i+1 < len(d.Freqs) {
				assert.Equal(t, i, ClampToTable(d.Freqs, d.Freqs[i+1]-1), "%s[%d]+", d.Label, i)
			}
		}
	}
}

func TestBaseIndexFromRatio(t *testing.T) {
	table := device.Table{1, 2, 3, 4, 5}

	assert.Equal(t, 0, BaseIndexFromRatio(table, 0))
	assert.Equal(t, 2, BaseIndexFromRatio(table, 0.5))
	assert.Equal(t, 4, BaseIndexFromRatio(table, 1))
	assert.Equal(t, 4, BaseIndexFromRatio(table, 3))
	assert.Equal(t, 0, BaseIndexFromRatio(table, -1))
	assert.Equal(t, 0, BaseIndexFromRatio(nil, 0.5))

	// CPU0 has 18 entries: round(0.62 * 17) = 11
	assert.Equal(t, 11, BaseIndexFromRatio(device.CPU0Freqs, 0.62))
}

func TestMidFreq(t *testing.T) {
	assert.EqualValues(t, 300, MidFreq(device.Table{100, 200, 300, 400, 500}))
	assert.EqualValues(t, 300, MidFreq(device.Table{100, 200, 300, 400}))
	assert.EqualValues(t, 0, MidFreq(nil))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2.27GHz", FormatKHz(2265600))
	assert.Equal(t, "365MHz", FormatKHz(364800))
	assert.Equal(t, "916MHz", FormatHz(916000000))
	assert.Equal(t, "1.00GHz", FormatHz(1_000_000_000))
}
