package sysfs

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/socgovd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNode(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readNode(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestWriteUintMissingPath(t *testing.T) {
	c := NewCache()

	changed, err := c.WriteUint(filepath.Join(t.TempDir(), "absent"), 42, true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, c.Writes())
}

func TestWriteUintDebounce(t *testing.T) {
	p := writeNode(t, t.TempDir(), "scaling_max_freq", "0\n")
	c := NewCache()

	changed, err := c.WriteUint(p, 1804800, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "1804800\n", readNode(t, p))

	for i := 0; i < 10; i++ {
		changed, err = c.WriteUint(p, 1804800, false)
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.Equal(t, 1, c.Writes())
}

func TestWriteUintForcedRepairsCacheWithoutWrite(t *testing.T) {
	p := writeNode(t, t.TempDir(), "scaling_max_freq", "1000\n")
	c := NewCache()

	_, err := c.WriteUint(p, 2000, false)
	require.NoError(t, err)

	// something else restores the node to the target behind our back
	require.NoError(t, os.WriteFile(p, []byte("2000\n"), 0o644))

	changed, err := c.WriteUint(p, 2000, true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, c.Writes())

	last, ok := c.Last(p)
	assert.True(t, ok)
	assert.EqualValues(t, 2000, last)
}

func TestWriteUintForcedCorrectsDrift(t *testing.T) {
	p := writeNode(t, t.TempDir(), "scaling_max_freq", "0\n")
	c := NewCache()

	_, err := c.WriteUint(p, 2000, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("999\n"), 0o644))

	// unforced writes trust the cache
	changed, err := c.WriteUint(p, 2000, false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "999\n", readNode(t, p))

	changed, err = c.WriteUint(p, 2000, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "2000\n", readNode(t, p))
}

func TestWriteUintFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	p := writeNode(t, t.TempDir(), "ro", "1\n")
	require.NoError(t, os.Chmod(p, 0o444))

	c := NewCache()
	changed, err := c.WriteUint(p, 2, false)
	require.Error(t, err)
	assert.False(t, changed)
	assert.True(t, errors.HasCode(err, errors.ErrActuatorWrite))
	_, cached := c.Last(p)
	assert.False(t, cached)
}

func TestWriteString(t *testing.T) {
	p := writeNode(t, t.TempDir(), "scaling_governor", "walt\n")
	c := NewCache()

	changed, err := c.WriteString(p, "walt", true)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = c.WriteString(p, "performance", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "performance\n", readNode(t, p))

	changed, err = c.WriteString(p, "performance", false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReadHelpers(t *testing.T) {
	dir := t.TempDir()
	p := writeNode(t, dir, "temp", " 45123\n")

	v, err := ReadInt(p)
	require.NoError(t, err)
	assert.Equal(t, 45123, v)

	bad := writeNode(t, dir, "bad", "abc\n")
	_, err = ReadUint(bad)
	assert.True(t, errors.HasCode(err, errors.ErrSensorParse))

	_, err = ReadUint(filepath.Join(dir, "none"))
	assert.True(t, errors.HasCode(err, errors.ErrSensorMissing))
}
