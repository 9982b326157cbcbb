// Package device holds the compiled-in hardware description of the supported
// handset: frequency tables, thermal zone IDs and sysfs node locations.
package device

import (
	"fmt"
	"path/filepath"
)

// Table is an ascending list of the frequencies a domain supports.
// CPU tables are in kHz, the GPU table is in Hz.
type Table []uint64

// Thermal zone IDs averaged per group.
var (
	CPUZoneIDs = []int{
		10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 25, 26, 27, 28, 29,
	}
	GPUZoneIDs = []int{41, 42, 43, 44, 45, 46, 47, 48}
)

const BatteryZoneID = 74

var (
	CPU0Freqs = Table{
		364800, 460800, 556800, 672000, 787200, 902400, 1017600, 1132800, 1248000,
		1344000, 1459200, 1574400, 1689600, 1804800, 1920000, 2035200, 2150400, 2265600,
	}
	CPU2Freqs = Table{
		499200, 614400, 729600, 844800, 960000, 1075200, 1190400, 1286400, 1401600,
		1497600, 1612800, 1708800, 1824000, 1920000, 2035200, 2131200, 2188800, 2246400,
		2323200, 2380800, 2438400, 2515200, 2572800, 2630400, 2707200, 2764800, 2841600,
		2899200, 2956800, 3014400, 3072000, 3148800,
	}
	CPU5Freqs = Table{
		499200, 614400, 729600, 844800, 960000, 1075200, 1190400, 1286400, 1401600,
		1497600, 1612800, 1708800, 1824000, 1920000, 2035200, 2131200, 2188800, 2246400,
		2323200, 2380800, 2438400, 2515200, 2572800, 2630400, 2707200, 2764800, 2841600,
		2899200, 2956800,
	}
	CPU7Freqs = Table{
		480000, 576000, 672000, 787200, 902400, 1017600, 1132800, 1248000, 1363200,
		1478400, 1593600, 1708800, 1824000, 1939200, 2035200, 2112000, 2169600, 2246400,
		2304000, 2380800, 2438400, 2496000, 2553600, 2630400, 2688000, 2745600, 2803200,
		2880000, 2937600, 2995200, 3052800, 3110400, 3187200, 3244800, 3302400,
	}
	GPUFreqs = Table{
		231000000, 310000000, 366000000, 422000000, 500000000, 578000000, 629000000,
		680000000, 720000000, 770000000, 834000000, 903000000, 916000000,
	}
)

// DomainSpec describes one independently controlled frequency domain.
type DomainSpec struct {
	Label     string
	Freqs     Table
	MinNode   string
	MaxNode   string
	CPUs      []int // cores averaged for utilization; empty for the GPU
	BaseRatio float64
	IsGPU     bool
}

// Domains lists the CPU clusters followed by the GPU, in control order.
var Domains = []DomainSpec{
	{
		Label: "CPU0", Freqs: CPU0Freqs, CPUs: []int{0, 1}, BaseRatio: 0.62,
		MinNode: policyNode(0, "scaling_min_freq"), MaxNode: policyNode(0, "scaling_max_freq"),
	},
	{
		Label: "CPU2", Freqs: CPU2Freqs, CPUs: []int{2, 3, 4}, BaseRatio: 0.48,
		MinNode: policyNode(2, "scaling_min_freq"), MaxNode: policyNode(2, "scaling_max_freq"),
	},
	{
		Label: "CPU5", Freqs: CPU5Freqs, CPUs: []int{5, 6}, BaseRatio: 0.48,
		MinNode: policyNode(5, "scaling_min_freq"), MaxNode: policyNode(5, "scaling_max_freq"),
	},
	{
		Label: "CPU7", Freqs: CPU7Freqs, CPUs: []int{7}, BaseRatio: 0.35,
		MinNode: policyNode(7, "scaling_min_freq"), MaxNode: policyNode(7, "scaling_max_freq"),
	},
	{
		Label: "GPU", Freqs: GPUFreqs, BaseRatio: 0.50, IsGPU: true,
		MinNode: GPUMinNode, MaxNode: GPUMaxNode,
	},
}

// Sysfs nodes, relative to the sysfs root.
const (
	GPUMinNode         = "sys/class/kgsl/kgsl-3d0/devfreq/min_freq"
	GPUMaxNode         = "sys/class/kgsl/kgsl-3d0/devfreq/max_freq"
	GPUBusyPercentNode = "sys/class/kgsl/kgsl-3d0/gpu_busy_percentage"
	GPUBusyRatioNode   = "sys/class/kgsl/kgsl-3d0/gpubusy"

	BigGovernorNode = "sys/devices/system/cpu/cpufreq/policy7/scaling_governor"

	FanEnableNode = "sys/kernel/fan/fan_enable"
	FanLevelNode  = "sys/kernel/fan/fan_speed_level"

	PowerSupplyDir = "sys/class/power_supply"
	FbBlankNode    = "sys/class/graphics/fb0/blank"
	BacklightDir   = "sys/class/backlight"
)

func policyNode(policy int, node string) string {
	return fmt.Sprintf("sys/devices/system/cpu/cpufreq/policy%d/%s", policy, node)
}

// ZoneTempNode returns the temperature node of a thermal zone.
func ZoneTempNode(id int) string {
	return fmt.Sprintf("sys/class/thermal/thermal_zone%d/temp", id)
}

// Path joins a node below root. Root "/" yields the live system path.
func Path(root, node string) string {
	if root == "" {
		root = "/"
	}

	return filepath.Join(root, node)
}

// FindDomain returns the domain with the given label.
func FindDomain(label string) (DomainSpec, bool) {
	for _, d := range Domains {
		if d.Label == label {
			return d, true
		}
	}

	return DomainSpec{}, false
}
