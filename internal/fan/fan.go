// Package fan drives the accessory cooling fan through its sysfs level
// node, following the SoC temperature and, while charging, the battery.
package fan

import (
	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/logger"
	"codeberg.org/mutker/socgovd/internal/sysfs"
)

const MaxLevel = 5

var (
	socSteps     = []int{50_000, 60_000, 70_000, 80_000, 90_000}
	batterySteps = []int{15_000, 25_000, 30_000, 35_000, 42_000}
)

func levelFrom(steps []int, milliC int) int {
	for i, limit := range steps {
		if milliC < limit {
			return i
		}
	}

	return len(steps)
}

// SocLevel maps a SoC temperature to a fan level.
func SocLevel(milliC int) int {
	if milliC < 0 {
		return 0
	}

	return levelFrom(socSteps, milliC)
}

// BatteryLevel maps a battery temperature to a fan level.
func BatteryLevel(milliC int) int {
	return levelFrom(batterySteps, milliC)
}

// Controller smooths the fan level by at most one step per Apply.
type Controller struct {
	enablePath string
	levelPath  string
	cache      *sysfs.Cache
	gameBase   int
	level      int
	log        logger.Logger
}

// New returns nil when the fan nodes are absent.
func New(root string, cache *sysfs.Cache, gameBase int) *Controller {
	enable := device.Path(root, device.FanEnableNode)
	level := device.Path(root, device.FanLevelNode)
	if !sysfs.Exists(enable) || !sysfs.Exists(level) {
		return nil
	}

	return &Controller{
		enablePath: enable,
		levelPath:  level,
		cache:      cache,
		gameBase:   gameBase,
		log:        logger.New("fan"),
	}
}

// Level returns the last level written. Nil-safe.
func (c *Controller) Level() int {
	if c == nil {
		return 0
	}

	return c.level
}

// SetGameBase changes the minimum level held in game mode.
func (c *Controller) SetGameBase(base int) {
	if c == nil {
		return
	}
	c.gameBase = min(max(base, 0), MaxLevel)
}

// Target computes the level the fan should converge to.
func (c *Controller) Target(socMilliC int, batt *int, screenOn, charging, game bool) int {
	soc := SocLevel(socMilliC)

	var target int
	switch {
	case charging:
		b := 0
		if batt != nil {
			b = BatteryLevel(*batt)
		}
		target = max(soc, b)
	case screenOn:
		target = soc
	}

	if game && (screenOn || charging) {
		target = max(target, c.gameBase)
	}

	return target
}

// Apply moves the fan one step toward the target. It reports whether the
// level changed.
func (c *Controller) Apply(socMilliC int, batt *int, screenOn, charging, game bool) bool {
	if c == nil {
		return false
	}

	target := c.Target(socMilliC, batt, screenOn, charging, game)

	next := c.level
	switch {
	case target > c.level:
		next++
	case target < c.level:
		next--
	}
	if next == c.level {
		return false
	}

	c.write(next)

	return true
}

// ForceLevel writes level immediately, bypassing smoothing.
func (c *Controller) ForceLevel(level int) {
	if c == nil {
		return
	}
	c.write(min(max(level, 0), MaxLevel))
}

func (c *Controller) write(level int) {
	c.level = level

	if level == 0 {
		if _, err := c.cache.WriteUint(c.enablePath, 0, true); err != nil {
			c.log.Warn().Err(err).Msg("Failed to disable fan")
			return
		}
		c.log.Info().Msg("Fan off")
		return
	}

	// enable is rewritten after the level: some firmware drops it on level change
	for _, w := range []struct {
		path string
		v    uint64
	}{
		{c.enablePath, 1},
		{c.levelPath, uint64(level)},
		{c.enablePath, 1},
	} {
		if _, err := c.cache.WriteUint(w.path, w.v, true); err != nil {
			c.log.Warn().Err(err).Str("path", w.path).Msg("Failed to set fan level")
			return
		}
	}

	c.log.Info().Int("level", level).Msg("Fan level changed")
}
