package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/socgovd/internal/device"
	"codeberg.org/mutker/socgovd/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigPath = "/data/adb/socgovd/socgovd.toml"
	DefaultEnvFile    = "/data/adb/socgovd/socgovd.env"
	DefaultEnvPrefix  = "SOCGOVD"
	DefaultLogLevel   = "info"

	// ConfigPathEnv overrides the config file location when --config is unset.
	ConfigPathEnv = "SOCGOVD_CONFIG"
)

// DomainConfig holds the per-domain tunables. Zero fields inherit the
// global defaults when Params are built.
type DomainConfig struct {
	BaseRatio     float64       `mapstructure:"base_ratio"`
	DownUtilFast  uint8         `mapstructure:"down_util_fast"`
	DownUtilSlow  uint8         `mapstructure:"down_util_slow"`
	DownAfterFast time.Duration `mapstructure:"down_after_fast"`
	DownAfterSlow time.Duration `mapstructure:"down_after_slow"`
}

type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type StatusConfig struct {
	Listen string `mapstructure:"listen"`
}

type MQTTConfig struct {
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	Interval    time.Duration `mapstructure:"interval"`
}

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
	Verbose  bool   `mapstructure:"verbose"`

	SysfsRoot string `mapstructure:"sysfs_root"`
	ProcRoot  string `mapstructure:"proc_root"`
	RunDir    string `mapstructure:"run_dir"`

	ChargingEnabled bool `mapstructure:"charging_enabled"`

	EnforceActive time.Duration `mapstructure:"enforce_active"`
	EnforceIdle   time.Duration `mapstructure:"enforce_idle"`
	IdleEnter     time.Duration `mapstructure:"idle_enter"`
	IdleCPUMax    uint8         `mapstructure:"idle_cpu_max"`
	IdleGPUMax    uint8         `mapstructure:"idle_gpu_max"`

	UpUtil      uint8 `mapstructure:"up_util"`
	SpikeDelta2 uint8 `mapstructure:"spike_delta2"`
	SpikeDelta4 uint8 `mapstructure:"spike_delta4"`
	HighJump2   uint8 `mapstructure:"high_jump2"`
	HighJump4   uint8 `mapstructure:"high_jump4"`

	BgThreshold   float64       `mapstructure:"bg_threshold"`
	LongOffNotify time.Duration `mapstructure:"long_off_notify"`

	GameList       string `mapstructure:"game_list"`
	GovernorGame   string `mapstructure:"governor_game"`
	GovernorNormal string `mapstructure:"governor_normal"`
	GameFanBase    int    `mapstructure:"game_fan_base"`

	Metrics MetricsConfig           `mapstructure:"metrics"`
	Status  StatusConfig            `mapstructure:"status"`
	MQTT    MQTTConfig              `mapstructure:"mqtt"`
	Domains map[string]DomainConfig `mapstructure:"domains"`

	// Path is the file this configuration was read from, if any.
	Path string `mapstructure:"-"`
}

// domainDefaults follow the stock device profile.
var domainDefaults = map[string]DomainConfig{
	"cpu0": {BaseRatio: 0.62, DownUtilFast: 50, DownUtilSlow: 60, DownAfterFast: 3 * time.Second, DownAfterSlow: 6 * time.Second},
	"cpu2": {BaseRatio: 0.48, DownUtilFast: 50, DownUtilSlow: 60, DownAfterFast: 3 * time.Second, DownAfterSlow: 6 * time.Second},
	"cpu5": {BaseRatio: 0.48, DownUtilFast: 50, DownUtilSlow: 60, DownAfterFast: 3 * time.Second, DownAfterSlow: 6 * time.Second},
	"cpu7": {BaseRatio: 0.35, DownUtilFast: 50, DownUtilSlow: 60, DownAfterFast: 4 * time.Second, DownAfterSlow: 7 * time.Second},
	"gpu":  {BaseRatio: 0.50, DownUtilFast: 50, DownUtilSlow: 60, DownAfterFast: 3 * time.Second, DownAfterSlow: 5 * time.Second},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("sysfs_root", "/")
	v.SetDefault("proc_root", "/proc")
	v.SetDefault("run_dir", "/data/adb/socgovd")
	v.SetDefault("charging_enabled", true)

	v.SetDefault("enforce_active", "6s")
	v.SetDefault("enforce_idle", "18s")
	v.SetDefault("idle_enter", "10s")
	v.SetDefault("idle_cpu_max", 15)
	v.SetDefault("idle_gpu_max", 10)

	v.SetDefault("up_util", 70)
	v.SetDefault("spike_delta2", 20)
	v.SetDefault("spike_delta4", 35)
	v.SetDefault("high_jump2", 85)
	v.SetDefault("high_jump4", 95)

	v.SetDefault("bg_threshold", 15.0)
	v.SetDefault("long_off_notify", "30s")

	v.SetDefault("game_list", "")
	v.SetDefault("governor_game", "performance")
	v.SetDefault("governor_normal", "walt")
	v.SetDefault("game_fan_base", 2)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.db_path", "/data/adb/socgovd/metrics.db")
	v.SetDefault("metrics.batch_size", 30)
	v.SetDefault("metrics.batch_timeout", "60s")

	v.SetDefault("status.listen", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "socgovd")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "socgovd")
	v.SetDefault("mqtt.interval", "10s")

	for label, d := range domainDefaults {
		prefix := "domains." + label + "."
		v.SetDefault(prefix+"base_ratio", d.BaseRatio)
		v.SetDefault(prefix+"down_util_fast", d.DownUtilFast)
		v.SetDefault(prefix+"down_util_slow", d.DownUtilSlow)
		v.SetDefault(prefix+"down_after_fast", d.DownAfterFast.String())
		v.SetDefault(prefix+"down_after_slow", d.DownAfterSlow.String())
	}
}

// NewFlagSet declares the command line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML configuration file")
	fs.String("env-file", DefaultEnvFile, "Optional KEY=value file loaded into the environment")
	fs.String("log-level", "", "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("run-dir", "", "Directory for the PID file")
	fs.String("sysfs-root", "", "Root below which sysfs nodes are resolved")
	fs.Bool("write-default", false, "Write the default configuration file and exit")

	return fs
}

var flagKeys = map[string]string{
	"log-level":  "log_level",
	"debug":      "debug",
	"verbose":    "verbose",
	"run-dir":    "run_dir",
	"sysfs-root": "sysfs_root",
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return v
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)

	return cfg
}

// Load reads configuration from defaults, the config file, the environment
// and flags, in increasing precedence. A missing config file is not an error.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err).WithData(o.envFile)
		}
	}

	v, err := o.viper()
	if err != nil {
		return nil, err
	}

	v.SetConfigFile(o.configPath)
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) && !isNotFound(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err).WithMessage("Failed to read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.Path = o.configPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func resolve(opts []Option) (*options, error) {
	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.New().Wrap(errors.ErrInvalidArgument, err)
		}
	}

	if o.flags != nil {
		if f := o.flags.Lookup("config"); f != nil && f.Changed && o.configPath == "" {
			o.configPath = f.Value.String()
		}
		if f := o.flags.Lookup("env-file"); f != nil && o.envFile == "" {
			o.envFile = f.Value.String()
		}
	}

	if o.configPath == "" {
		o.configPath = os.Getenv(ConfigPathEnv)
	}
	if o.configPath == "" {
		o.configPath = DefaultConfigPath
	}

	return o, nil
}

// viper returns defaults, environment and changed flags, without the file.
func (o *options) viper() (*viper.Viper, error) {
	v := newViper(o.envPrefix)
	if o.flags == nil {
		return v, nil
	}

	for flagName, key := range flagKeys {
		f := o.flags.Lookup(flagName)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, errors.New().Wrap(errors.ErrBindFlags, err)
		}
	}

	return v, nil
}

// LoadOrDefault behaves like Load but never fails: on any error it returns
// the defaults together with that error, so the caller can record it.
// Environment and flag overrides still apply over those defaults.
func LoadOrDefault(opts ...Option) (*Config, error) {
	cfg, err := Load(opts...)
	if err == nil {
		return cfg, nil
	}

	def := defaultsFor(opts)

	return &def, err
}

// defaultsFor is the configuration with an empty file. Overrides that do
// not validate are dropped as well.
func defaultsFor(opts []Option) Config {
	def := Default()
	def.Path = DefaultConfigPath

	o, err := resolve(opts)
	if err != nil {
		return def
	}
	def.Path = o.configPath

	v, err := o.viper()
	if err != nil {
		return def
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return def
	}
	cfg.Path = o.configPath
	if err := cfg.Validate(); err != nil {
		return def
	}

	return cfg
}

// LoadFile reads a single file over the defaults, without flags or env file.
func LoadFile(path string) (*Config, error) {
	return Load(WithConfigFile(path))
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf)
}

// WriteDefault writes the built-in configuration to path as TOML.
func WriteDefault(path string) error {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrWriteConfig, err).WithData(path)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	if err := v.WriteConfigAs(path); err != nil {
		return errFactory.Wrap(errors.ErrWriteConfig, err).WithData(path)
	}

	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	if c.Domains != nil {
		out.Domains = make(map[string]DomainConfig, len(c.Domains))
		for k, d := range c.Domains {
			out.Domains[k] = d
		}
	}

	return out
}

// Domain returns the tunables for a domain label, e.g. "CPU7".
func (c Config) Domain(label string) DomainConfig {
	key := strings.ToLower(label)
	if d, ok := c.Domains[key]; ok {
		return d
	}

	return domainDefaults[key]
}

type validationError struct {
	field  string
	value  any
	reason string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s=%v: %s", e.field, e.value, e.reason)
}

func (e *validationError) Field() string  { return e.field }
func (e *validationError) Value() any     { return e.value }
func (e *validationError) Reason() string { return e.reason }

// Validate checks value ranges. It returns the first problem found.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.Wrap(errors.ErrInvalidLogLevel,
			&validationError{"log_level", c.LogLevel, "must be debug, info, warning or error"})
	}

	invalid := func(field string, value any, reason string) error {
		return errFactory.Wrap(errors.ErrInvalidConfig, &validationError{field, value, reason})
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"enforce_active", c.EnforceActive},
		{"enforce_idle", c.EnforceIdle},
		{"idle_enter", c.IdleEnter},
		{"long_off_notify", c.LongOffNotify},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return invalid(d.name, d.d, "must be positive")
		}
	}

	percents := []struct {
		name string
		v    uint8
	}{
		{"idle_cpu_max", c.IdleCPUMax},
		{"idle_gpu_max", c.IdleGPUMax},
		{"up_util", c.UpUtil},
		{"spike_delta2", c.SpikeDelta2},
		{"spike_delta4", c.SpikeDelta4},
		{"high_jump2", c.HighJump2},
		{"high_jump4", c.HighJump4},
	}
	for _, p := range percents {
		if p.v > 100 {
			return invalid(p.name, p.v, "must be between 0 and 100")
		}
	}
	if c.SpikeDelta2 > c.SpikeDelta4 {
		return invalid("spike_delta2", c.SpikeDelta2, "must not exceed spike_delta4")
	}
	if c.HighJump2 > c.HighJump4 {
		return invalid("high_jump2", c.HighJump2, "must not exceed high_jump4")
	}

	if c.BgThreshold < 0 || c.BgThreshold > 100 {
		return invalid("bg_threshold", c.BgThreshold, "must be between 0 and 100")
	}
	if c.GameFanBase < 0 || c.GameFanBase > 5 {
		return invalid("game_fan_base", c.GameFanBase, "must be between 0 and 5")
	}
	if c.GovernorGame == "" || c.GovernorNormal == "" {
		return invalid("governor_normal", c.GovernorNormal, "governor names must not be empty")
	}

	if c.Metrics.Enabled {
		if c.Metrics.DBPath == "" {
			return invalid("metrics.db_path", c.Metrics.DBPath, "required when metrics are enabled")
		}
		if c.Metrics.BatchSize <= 0 {
			return invalid("metrics.batch_size", c.Metrics.BatchSize, "must be positive")
		}
		if c.Metrics.BatchTimeout <= 0 {
			return invalid("metrics.batch_timeout", c.Metrics.BatchTimeout, "must be positive")
		}
	}
	if c.MQTT.Broker != "" && c.MQTT.Interval <= 0 {
		return invalid("mqtt.interval", c.MQTT.Interval, "must be positive")
	}

	for label, d := range c.Domains {
		if _, ok := device.FindDomain(strings.ToUpper(label)); !ok {
			return invalid("domains."+label, label, "unknown frequency domain")
		}
		if d.BaseRatio < 0 || d.BaseRatio > 1 {
			return invalid("domains."+label+".base_ratio", d.BaseRatio, "must be between 0 and 1")
		}
		if d.DownUtilFast > 100 || d.DownUtilSlow > 100 {
			return invalid("domains."+label+".down_util_slow", d.DownUtilSlow, "must be between 0 and 100")
		}
		if d.DownUtilFast > d.DownUtilSlow {
			return invalid("domains."+label+".down_util_fast", d.DownUtilFast, "must not exceed down_util_slow")
		}
		if d.DownAfterFast <= 0 || d.DownAfterSlow <= 0 {
			return invalid("domains."+label+".down_after_fast", d.DownAfterFast, "must be positive")
		}
	}

	return nil
}
