package sensors

import (
	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/sysfs"
)

// TempGroup averages a fixed set of thermal zones.
type TempGroup struct {
	Name  string
	paths []string
}

// NewTempGroup keeps only the zones present under root.
func NewTempGroup(name, root string, ids []int) *TempGroup {
	g := &TempGroup{Name: name}
	for _, id := range ids {
		p := device.Path(root, device.ZoneTempNode(id))
		if sysfs.Exists(p) {
			g.paths = append(g.paths, p)
		}
	}

	return g
}

// Len returns how many zones the group found.
func (g *TempGroup) Len() int {
	return len(g.paths)
}

// AvgMilliC returns the mean of all readable zones, or false when none are.
func (g *TempGroup) AvgMilliC() (int, bool) {
	var sum int64
	var n int64
	for _, p := range g.paths {
		v, err := sysfs.ReadInt(p)
		if err != nil {
			continue
		}
		sum += int64(v)
		n++
	}
	if n == 0 {
		return 0, false
	}

	return int(sum / n), true
}

// ReadMilliC reads a single zone.
func ReadMilliC(root string, id int) (int, bool) {
	v, err := sysfs.ReadInt(device.Path(root, device.ZoneTempNode(id)))
	if err != nil {
		return 0, false
	}

	return v, true
}

// SocTemp picks the hotter of the CPU and GPU averages, or whichever is known.
func SocTemp(cpu int, cpuOK bool, gpu int, gpuOK bool) (int, bool) {
	switch {
	case cpuOK && gpuOK:
		return max(cpu, gpu), true
	case cpuOK:
		return cpu, true
	case gpuOK:
		return gpu, true
	default:
		return 0, false
	}
}
