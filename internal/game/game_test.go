package game

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codeberg.org/mutker/socgovd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outputs map[string]string
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	out, ok := f.outputs[key]
	if !ok {
		return nil, errors.New().New(errors.ErrUnavailable)
	}
	return []byte(out), nil
}

func TestPackageFromLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"  topResumedActivity=ActivityRecord{1a2b u0 com.tencent.ig/.MainActivity t12}", "com.tencent.ig"},
		{"mCurrentFocus=Window{9f u0 com.miHoYo.GenshinImpact/com.miHoYo.GetMobileInfo.MainActivity}", "com.miHoYo.GenshinImpact"},
		{"ACTIVITY org.mozilla.firefox/.App 1234", "org.mozilla.firefox"},
		{"focused: com.example.app", "com.example.app"},
		{"nothing here", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PackageFromLine(tt.line), tt.line)
	}
}

func TestDefaultList(t *testing.T) {
	l := DefaultList()
	assert.NotEmpty(t, l)
	assert.True(t, l.Contains("com.tencent.ig"))
	assert.False(t, l.Contains("com.android.settings"))
}

func TestLoadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.yaml")
	require.NoError(t, os.WriteFile(path, []byte("games:\n  - com.example.game\n  - \"  \"\n"), 0o644))

	l, err := LoadList(path)
	require.NoError(t, err)
	assert.Len(t, l, 1)
	assert.True(t, l.Contains("com.example.game"))

	_, err = LoadList(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))

	require.NoError(t, os.WriteFile(path, []byte("games: [unterminated"), 0o644))
	_, err = LoadList(path)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	l, err = LoadList("")
	require.NoError(t, err)
	assert.Equal(t, DefaultList(), l)
}

func TestPollPrimaryQuery(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"cmd activity get-top-activity": "ACTIVITY com.example.game/.Main 55\n",
	}}
	d := NewDetector(r, List{"com.example.game": {}})

	pkg, isGame := d.Poll(context.Background())
	assert.Equal(t, "com.example.game", pkg)
	assert.True(t, isGame)
	assert.Len(t, r.calls, 1)
}

func TestPollFallsBack(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"dumpsys activity activities": "Display #0\n  mLastPausedActivity: ActivityRecord{x u0 com.old.app/.A t1}\n" +
			"  topResumedActivity=ActivityRecord{y u0 com.android.settings/.Settings t2}\n",
	}}
	d := NewDetector(r, DefaultList())

	pkg, isGame := d.Poll(context.Background())
	assert.Equal(t, "com.android.settings", pkg, "only resumed lines are considered")
	assert.False(t, isGame)
	assert.Equal(t, []string{"cmd activity get-top-activity", "dumpsys activity activities"}, r.calls)
}

func TestPollUnknown(t *testing.T) {
	d := NewDetector(&fakeRunner{outputs: map[string]string{}}, DefaultList())

	pkg, isGame := d.Poll(context.Background())
	assert.Empty(t, pkg)
	assert.False(t, isGame)
}
