// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is loaded once at
// startup and treated as immutable for the rest of the process; components
// receive it (or a sub-section) explicitly instead of reading viper state.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Device     DeviceConfig     `mapstructure:"device" yaml:"device"`
	Assets     AssetsConfig     `mapstructure:"assets" yaml:"assets"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DeviceConfig holds the ADB connection details for the target emulator.
type DeviceConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	AdbPath         string        `mapstructure:"adb_path" yaml:"adb_path"`
	ConnectAttempts int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff" yaml:"connect_backoff"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	TapRate         float64       `mapstructure:"tap_rate" yaml:"tap_rate"`
	Screen          ScreenConfig  `mapstructure:"screen" yaml:"screen"`
}

// ScreenConfig is the resolution every template asset was captured at. A live
// screenshot with different geometry makes all matches invalid by construction.
type ScreenConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// AssetsConfig locates the template images on disk.
type AssetsConfig struct {
	TemplateDir string   `mapstructure:"template_dir" yaml:"template_dir"`
	ExtraDirs   []string `mapstructure:"extra_dirs" yaml:"extra_dirs"`
}

// AutomationConfig tunes the farming loop itself.
type AutomationConfig struct {
	MatchThreshold float64           `mapstructure:"match_threshold" yaml:"match_threshold"`
	ManualChoose   bool              `mapstructure:"manual_choose" yaml:"manual_choose"`
	WaitTime       WaitTimeConfig    `mapstructure:"wait_time" yaml:"wait_time"`
	Attempts       AttemptsConfig    `mapstructure:"attempts" yaml:"attempts"`
	Coordinates    CoordinatesConfig `mapstructure:"coordinates" yaml:"coordinates"`
	Filter         FilterConfig      `mapstructure:"filter" yaml:"filter"`
	Charge         ChargeConfig      `mapstructure:"charge" yaml:"charge"`
}

// WaitTimeConfig holds the per-step settle waits of the loop.
type WaitTimeConfig struct {
	Career      time.Duration `mapstructure:"career" yaml:"career"`
	Next        time.Duration `mapstructure:"next" yaml:"next"`
	StartCareer time.Duration `mapstructure:"start_career" yaml:"start_career"`
	Skip        time.Duration `mapstructure:"skip" yaml:"skip"`
	Confirm     time.Duration `mapstructure:"confirm" yaml:"confirm"`
	Loop        time.Duration `mapstructure:"loop" yaml:"loop"`
	Retry       time.Duration `mapstructure:"retry" yaml:"retry"`
}

// AttemptsConfig bounds the retry counts per step. The same NotFound signal
// means "legitimate absence" below the bound and "desync" at the bound; the
// distinction is deliberately a configurable heuristic, not a hard-coded one.
type AttemptsConfig struct {
	Default   int `mapstructure:"default" yaml:"default"`
	Next      int `mapstructure:"next" yaml:"next"`
	NextCheck int `mapstructure:"next_check" yaml:"next_check"`
	GiveUp    int `mapstructure:"give_up" yaml:"give_up"`
}

// CoordinatesConfig holds the fixed tap coordinates for steps that have no
// template to match against.
type CoordinatesConfig struct {
	TapAfterSkip []int `mapstructure:"tap_after_skip" yaml:"tap_after_skip"`
}

// FilterConfig selects the support-card filter choices used by the manual
// friend selection sequence.
type FilterConfig struct {
	Rarity     string `mapstructure:"rarity" yaml:"rarity"`
	Speciality string `mapstructure:"speciality" yaml:"speciality"`
}

// ChargeConfig tunes the detection of tappable "use" buttons during the TP
// charge sequence.
type ChargeConfig struct {
	BrightnessThreshold int `mapstructure:"brightness_threshold" yaml:"brightness_threshold"`
	DedupDistance       int `mapstructure:"dedup_distance" yaml:"dedup_distance"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "umafarm")
	v.SetDefault("logger.log_file", "umafarm.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.connect_attempts", 3)
	v.SetDefault("device.connect_backoff", "2s")
	v.SetDefault("device.command_timeout", "10s")
	v.SetDefault("device.tap_rate", 5.0)
	v.SetDefault("device.screen.width", 1080)
	v.SetDefault("device.screen.height", 1920)

	// -- Assets --
	v.SetDefault("assets.template_dir", "buttons")
	v.SetDefault("assets.extra_dirs", []string{"assets/image"})

	// -- Automation --
	v.SetDefault("automation.match_threshold", 0.8)
	v.SetDefault("automation.manual_choose", false)
	v.SetDefault("automation.wait_time.career", "10s")
	v.SetDefault("automation.wait_time.next", "1s")
	v.SetDefault("automation.wait_time.start_career", "2s")
	v.SetDefault("automation.wait_time.skip", "1s")
	v.SetDefault("automation.wait_time.confirm", "5s")
	v.SetDefault("automation.wait_time.loop", "5s")
	v.SetDefault("automation.wait_time.retry", "1s")
	v.SetDefault("automation.attempts.default", 10)
	v.SetDefault("automation.attempts.next", 10)
	v.SetDefault("automation.attempts.next_check", 1)
	v.SetDefault("automation.attempts.give_up", 5)
	v.SetDefault("automation.coordinates.tap_after_skip", []int{249, 948})
	v.SetDefault("automation.filter.rarity", "SSR")
	v.SetDefault("automation.filter.speciality", "POWER")
	v.SetDefault("automation.charge.brightness_threshold", 170)
	v.SetDefault("automation.charge.dedup_distance", 50)
}

// NewConfigFromViper creates a validated configuration instance from a viper
// object that already has defaults, file and env values applied.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Any error here is startup-fatal; the loop never runs on a bad config.
func (c *Config) Validate() error {
	if c.Device.Address == "" {
		return fmt.Errorf("device.address is a required configuration field")
	}
	if c.Device.ConnectAttempts <= 0 {
		return fmt.Errorf("device.connect_attempts must be a positive integer")
	}
	if c.Device.CommandTimeout <= 0 {
		return fmt.Errorf("device.command_timeout must be a positive duration")
	}
	if c.Device.TapRate <= 0 {
		return fmt.Errorf("device.tap_rate must be positive")
	}
	if c.Device.Screen.Width <= 0 || c.Device.Screen.Height <= 0 {
		return fmt.Errorf("device.screen dimensions must be positive")
	}
	if c.Assets.TemplateDir == "" {
		return fmt.Errorf("assets.template_dir is a required configuration field")
	}
	if t := c.Automation.MatchThreshold; t <= 0.0 || t > 1.0 {
		return fmt.Errorf("automation.match_threshold must be in (0.0, 1.0], got %v", t)
	}
	if err := c.Automation.Attempts.validate(); err != nil {
		return err
	}
	if len(c.Automation.Coordinates.TapAfterSkip) != 2 {
		return fmt.Errorf("automation.coordinates.tap_after_skip must be an [x, y] pair")
	}
	if c.Automation.Charge.BrightnessThreshold < 0 || c.Automation.Charge.BrightnessThreshold > 255 {
		return fmt.Errorf("automation.charge.brightness_threshold must be in [0, 255]")
	}
	return nil
}

func (a *AttemptsConfig) validate() error {
	if a.Default <= 0 {
		return fmt.Errorf("automation.attempts.default must be a positive integer")
	}
	if a.Next <= 0 {
		return fmt.Errorf("automation.attempts.next must be a positive integer")
	}
	if a.NextCheck <= 0 {
		return fmt.Errorf("automation.attempts.next_check must be a positive integer")
	}
	if a.GiveUp <= 0 {
		return fmt.Errorf("automation.attempts.give_up must be a positive integer")
	}
	return nil
}

// NewDefaultConfig returns a configuration populated with default values
// only. Validation is skipped because defaults leave device.address unset.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}
