package sensors

import (
	"path/filepath"
	"sort"
	"strings"

	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/sysfs"
	procsysfs "github.com/prometheus/procfs/sysfs"
)

// ChargeProbe detects an attached charger from the power_supply class.
type ChargeProbe struct {
	onlinePaths   []string
	batteryStatus string
}

// DetectChargeProbe scans the power supplies under root once. It returns
// nil when nothing usable is found; callers then assume not charging.
func DetectChargeProbe(root string) *ChargeProbe {
	fs, err := procsysfs.NewFS(device.Path(root, "sys"))
	if err != nil {
		return nil
	}
	class, err := fs.PowerSupplyClass()
	if err != nil || len(class) == 0 {
		return nil
	}

	names := make([]string, 0, len(class))
	for name := range class {
		names = append(names, name)
	}
	sort.Strings(names)

	base := device.Path(root, device.PowerSupplyDir)
	p := &ChargeProbe{}
	for _, name := range names {
		ps := class[name]
		dir := filepath.Join(base, name)

		if strings.EqualFold(ps.Type, "Battery") {
			if p.batteryStatus == "" && ps.Status != "" {
				p.batteryStatus = filepath.Join(dir, "status")
			}
			continue
		}
		if ps.Online != nil {
			p.onlinePaths = append(p.onlinePaths, filepath.Join(dir, "online"))
		}
	}

	if len(p.onlinePaths) == 0 && p.batteryStatus == "" {
		return nil
	}

	return p
}

// Charging reports whether any supply is online or the battery says it is
// charging or full. Only the nodes found at detection are polled.
func (p *ChargeProbe) Charging() bool {
	if p == nil {
		return false
	}
	for _, path := range p.onlinePaths {
		if v, err := sysfs.ReadUint(path); err == nil && v == 1 {
			return true
		}
	}
	if p.batteryStatus != "" {
		s, err := sysfs.ReadString(p.batteryStatus)
		if err == nil && (strings.EqualFold(s, "Charging") || strings.EqualFold(s, "Full")) {
			return true
		}
	}

	return false
}
