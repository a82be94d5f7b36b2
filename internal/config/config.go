// Package config loads the appguard TOML configuration, applies
// APPGUARD_* environment overrides and converts it into component settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_guard/internal/daemon"
	"github.com/eliteGoblin/focusd/app_guard/internal/debounce"
	"github.com/eliteGoblin/focusd/app_guard/internal/policy"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "appguard"

// Duration is a time.Duration written as a string in TOML ("500ms", "2s").
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type MonitorConfig struct {
	Mode          string   `toml:"mode"` // poll, push or both
	PollInterval  Duration `toml:"poll_interval"`
	PollWindow    Duration `toml:"poll_window"`
	PolicyRefresh Duration `toml:"policy_refresh"`
}

type DebounceConfig struct {
	Default    Duration            `toml:"default"`
	Categories map[string]Duration `toml:"categories"`
}

type EnforcementConfig struct {
	RecheckDelay    Duration `toml:"recheck_delay"`
	WarningDuration Duration `toml:"warning_duration"`
	WarningText     string   `toml:"warning_text"`
	FailClosed      bool     `toml:"fail_closed"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"` // Empty logs to stderr
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"` // e.g. "127.0.0.1:9310"; empty disables
}

// Config is the full appguard configuration file.
type Config struct {
	SelfPackage string            `toml:"self_package"`
	Blocked     []string          `toml:"blocked"`
	Ignored     []string          `toml:"ignored"`
	Timezone    string            `toml:"timezone"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Debounce    DebounceConfig    `toml:"debounce"`
	Enforcement EnforcementConfig `toml:"enforcement"`
	Enrichment  []policy.Rule     `toml:"enrichment"`
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// envOverrides are read from APPGUARD_* variables and win over the file.
type envOverrides struct {
	LogLevel      string `envconfig:"LOG_LEVEL"`
	LogFile       string `envconfig:"LOG_FILE"`
	DataDir       string `envconfig:"DATA_DIR"`
	MetricsListen string `envconfig:"METRICS_LISTEN"`
	Mode          string `envconfig:"MODE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills every zero value with its default.
func (c *Config) SetDefaults() {
	enf := usecase.DefaultEnforcerConfig()
	mon := daemon.DefaultMonitorConfig()
	deb := debounce.DefaultConfig()

	if c.SelfPackage == "" {
		c.SelfPackage = enf.SelfPackageID
	}
	if c.Ignored == nil {
		c.Ignored = policy.DefaultIgnoredPackages()
	}
	if c.Monitor.Mode == "" {
		c.Monitor.Mode = string(mon.Mode)
	}
	if c.Monitor.PollInterval == 0 {
		c.Monitor.PollInterval = Duration(mon.PollInterval)
	}
	if c.Monitor.PollWindow == 0 {
		c.Monitor.PollWindow = Duration(mon.PollWindow)
	}
	if c.Monitor.PolicyRefresh == 0 {
		c.Monitor.PolicyRefresh = Duration(mon.PolicyRefreshInterval)
	}
	if c.Debounce.Default == 0 {
		c.Debounce.Default = Duration(deb.DefaultInterval)
	}
	if c.Debounce.Categories == nil {
		c.Debounce.Categories = make(map[string]Duration, len(deb.Categories))
		for k, v := range deb.Categories {
			c.Debounce.Categories[k] = Duration(v)
		}
	}
	if c.Enforcement.RecheckDelay == 0 {
		c.Enforcement.RecheckDelay = Duration(enf.RecheckDelay)
	}
	if c.Enforcement.WarningDuration == 0 {
		c.Enforcement.WarningDuration = Duration(enf.WarningDuration)
	}
	if c.Enforcement.WarningText == "" {
		c.Enforcement.WarningText = enf.WarningText
	}
	if c.Enrichment == nil {
		c.Enrichment = policy.DefaultRules()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error

	switch daemon.Mode(c.Monitor.Mode) {
	case daemon.ModePoll, daemon.ModePush, daemon.ModeBoth:
	default:
		errs = append(errs, fmt.Errorf("monitor.mode %q: want poll, push or both", c.Monitor.Mode))
	}
	if c.Monitor.PollInterval < 0 || c.Monitor.PollWindow < 0 {
		errs = append(errs, errors.New("monitor: durations must not be negative"))
	}
	if c.Enforcement.RecheckDelay < 0 || c.Enforcement.WarningDuration < 0 {
		errs = append(errs, errors.New("enforcement: durations must not be negative"))
	}
	for name, d := range c.Debounce.Categories {
		if d < 0 {
			errs = append(errs, fmt.Errorf("debounce.categories.%s must not be negative", name))
		}
	}
	for _, r := range c.Enrichment {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Load reads the file at path. A missing file yields the defaults so a fresh
// install runs without one. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	c := &Config{}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		decoder := toml.NewDecoder(f)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	return finish(c)
}

// LoadBytes parses TOML content, then applies env overrides and defaults.
func LoadBytes(data []byte) (*Config, error) {
	c := &Config{}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return finish(c)
}

func finish(c *Config) (*Config, error) {
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to load env overrides: %w", err)
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogFile != "" {
		c.Logging.File = env.LogFile
	}
	if env.DataDir != "" {
		c.Storage.DataDir = env.DataDir
	}
	if env.MetricsListen != "" {
		c.Metrics.Listen = env.MetricsListen
	}
	if env.Mode != "" {
		c.Monitor.Mode = env.Mode
	}
	return nil
}

// Location returns the zone for formatted times. Empty means local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// TrackerConfig converts the session settings.
func (c *Config) TrackerConfig() usecase.TrackerConfig {
	cfg := usecase.DefaultTrackerConfig()
	cfg.IgnoredPackages = c.Ignored
	if loc, err := c.Location(); err == nil {
		cfg.Location = loc
	}
	return cfg
}

// DebounceConfig converts the debounce settings.
func (c *Config) DebounceConfig() debounce.Config {
	cats := make(map[string]time.Duration, len(c.Debounce.Categories))
	for k, v := range c.Debounce.Categories {
		cats[k] = v.Std()
	}
	return debounce.Config{
		DefaultInterval: c.Debounce.Default.Std(),
		Categories:      cats,
	}
}

// EnforcerConfig converts the enforcement settings.
func (c *Config) EnforcerConfig() usecase.EnforcerConfig {
	return usecase.EnforcerConfig{
		SelfPackageID:   c.SelfPackage,
		RecheckDelay:    c.Enforcement.RecheckDelay.Std(),
		WarningDuration: c.Enforcement.WarningDuration.Std(),
		WarningText:     c.Enforcement.WarningText,
		FailClosed:      c.Enforcement.FailClosed,
	}
}

// MonitorConfig converts the monitor settings, clamped to supported bounds.
func (c *Config) MonitorConfig() daemon.MonitorConfig {
	return daemon.MonitorConfig{
		Mode:                  daemon.Mode(c.Monitor.Mode),
		PollInterval:          c.Monitor.PollInterval.Std(),
		PollWindow:            c.Monitor.PollWindow.Std(),
		PolicyRefreshInterval: c.Monitor.PolicyRefresh.Std(),
	}.Normalize()
}

// RuleSet builds the enrichment table.
func (c *Config) RuleSet() (*policy.RuleSet, error) {
	return policy.NewRuleSet(c.Enrichment...)
}
