package governor

import (
	"context"

	"codeberg.org/mutker/socgovd/internal/config"
	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/game"
	"codeberg.org/mutker/socgovd/internal/procwatch"
	"codeberg.org/mutker/socgovd/internal/sensors"
)

type CPUSampler interface {
	Sample(ctx context.Context) ([]uint8, bool)
}

type TempReader interface {
	AvgMilliC() (int, bool)
}

type GPULoad interface {
	Read() uint8
}

type ChargeSensor interface {
	Charging() bool
}

type ScreenSensor interface {
	On() bool
}

type GameDetector interface {
	Poll(ctx context.Context) (string, bool)
}

type ProcScanner interface {
	ScanTop(ctx context.Context) (procwatch.Top, bool)
}

// Sources bundles every input the loop samples. Nil Charge, Screen, Game
// and Procs mean "not available": not charging, screen on, no game, no
// background scan.
type Sources struct {
	CPU      CPUSampler
	CPUTemps TempReader
	GPUTemps TempReader
	Battery  TempReader
	GPU      GPULoad
	Charge   ChargeSensor
	Screen   ScreenSensor
	Game     GameDetector
	Procs    ProcScanner
}

type zoneReader struct {
	root string
	id   int
}

func (z zoneReader) AvgMilliC() (int, bool) {
	return sensors.ReadMilliC(z.root, z.id)
}

// HostSources probes the live device below cfg.SysfsRoot and cfg.ProcRoot.
func HostSources(cfg config.Config, games game.List) Sources {
	root := cfg.SysfsRoot

	src := Sources{
		CPU:      sensors.NewCPUSampler(cfg.ProcRoot),
		CPUTemps: sensors.NewTempGroup("cpu", root, device.CPUZoneIDs),
		GPUTemps: sensors.NewTempGroup("gpu", root, device.GPUZoneIDs),
		Battery:  zoneReader{root: root, id: device.BatteryZoneID},
		GPU: sensors.GPUUtil{
			PercentPath: device.Path(root, device.GPUBusyPercentNode),
			RatioPath:   device.Path(root, device.GPUBusyRatioNode),
		},
		Game:  game.NewDetector(game.ExecRunner{}, games),
		Procs: procwatch.NewScanner(procwatch.NewHostSource(cfg.ProcRoot)),
	}

	// typed nils would hide absence behind a non-nil interface
	if p := sensors.DetectChargeProbe(root); p != nil {
		src.Charge = p
	}
	if p := sensors.DetectScreenProbe(root); p != nil {
		src.Screen = p
	}

	return src
}
