package sensors

import (
	"os"
	"path/filepath"

	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/sysfs"
)

type screenKind int

const (
	fbBlank screenKind = iota
	backlightBrightness
	backlightPower
)

// ScreenProbe reads the panel state from a framebuffer or backlight node.
type ScreenProbe struct {
	kind screenKind
	path string
}

// DetectScreenProbe returns nil when no known node exists; the screen is
// then assumed on.
func DetectScreenProbe(root string) *ScreenProbe {
	if p := device.Path(root, device.FbBlankNode); sysfs.Exists(p) {
		return &ScreenProbe{kind: fbBlank, path: p}
	}

	dir := device.Path(root, device.BacklightDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if p := filepath.Join(dir, e.Name(), "brightness"); sysfs.Exists(p) {
			return &ScreenProbe{kind: backlightBrightness, path: p}
		}
		if p := filepath.Join(dir, e.Name(), "bl_power"); sysfs.Exists(p) {
			return &ScreenProbe{kind: backlightPower, path: p}
		}
	}

	return nil
}

// On reports the raw panel state. Unreadable nodes count as on.
func (s *ScreenProbe) On() bool {
	if s == nil {
		return true
	}
	v, err := sysfs.ReadInt(s.path)
	if err != nil {
		return true
	}
	if s.kind == backlightBrightness {
		return v > 0
	}

	return v == 0
}

func (s *ScreenProbe) String() string {
	if s == nil {
		return "none"
	}

	return s.path
}
