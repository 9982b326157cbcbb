package thermal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReduction(t *testing.T) {
	want := map[Zone]int{Cool: 0, Z100: 10, Z110: 15, Z120: 25, Z130: 40}
	for z, r := range want {
		assert.Equal(t, r, z.Reduction(), z.String())
	}
}

func TestClassifyFromCool(t *testing.T) {
	tests := []struct {
		temp int
		want Zone
	}{
		{45_000, Cool},
		{99_999, Cool},
		{100_000, Z100},
		{110_000, Z110},
		{121_000, Z120},
		{135_000, Z130},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.temp, Cool), "temp %d", tt.temp)
	}
}

func TestClassifyJumpsUpMultipleLevels(t *testing.T) {
	assert.Equal(t, Z130, Classify(131_000, Z100))
	assert.Equal(t, Z120, Classify(125_000, Z100))
}

func TestClassifyHysteresisBand(t *testing.T) {
	t.Run("inside band holds zone", func(t *testing.T) {
		assert.Equal(t, Z100, Classify(100_000-1999, Z100))
		assert.Equal(t, Z100, Classify(100_000-2000, Z100))
	})

	t.Run("below band falls one level", func(t *testing.T) {
		assert.Equal(t, Cool, Classify(100_000-2001, Z100))
	})

	t.Run("every zone", func(t *testing.T) {
		for z := Z100; z <= Z130; z++ {
			assert.Equal(t, z, Classify(z.Threshold()-1999, z), z.String())
			assert.Equal(t, z-1, Classify(z.Threshold()-2001, z), z.String())
		}
	})
}

func TestClassifyFallsOneLevelPerCall(t *testing.T) {
	zone := Z130
	var path []Zone
	for i := 0; i < 6; i++ {
		zone = Classify(30_000, zone)
		path = append(path, zone)
	}

	assert.Equal(t, []Zone{Z120, Z110, Z100, Cool, Cool, Cool}, path)
}

func TestClassifyStaysWhenBetweenZones(t *testing.T) {
	// 115C is above Z110 and below Z120: coming down from Z120 needs < 118C
	assert.Equal(t, Z110, Classify(115_000, Z120))
	assert.Equal(t, Z120, Classify(119_000, Z120))
	assert.Equal(t, Z110, Classify(115_000, Z110))
}

func TestHot(t *testing.T) {
	assert.False(t, Z110.Hot())
	assert.True(t, Z120.Hot())
	assert.True(t, Z130.Hot())
}
