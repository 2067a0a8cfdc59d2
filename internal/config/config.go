// Package config loads the engine's recognized configuration keys
// (spec §6) from a YAML file with FX_-prefixed environment overrides.
// Grounded on the polymarket-mm config loader's viper.New +
// SetEnvPrefix/AutomaticEnv idiom — this gives spf13/viper a real
// home; it ships in the teacher's go.mod but the teacher's own source
// never imports it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level engine configuration, mapping directly onto
// spec §6's recognized keys.
type Config struct {
	Symbol    string        `mapstructure:"symbol"`
	BaseLot   float64       `mapstructure:"base_lot"`
	PipScale  int32         `mapstructure:"pip_scale"`

	Layer1PeriodMillis int `mapstructure:"layer1_period_ms"`
	Layer2APeriodSecs  int `mapstructure:"layer2a_period_s"`
	Layer2BPeriodSecs  int `mapstructure:"layer2b_period_s"`
	Layer3APeriodSecs  int `mapstructure:"layer3a_period_s"`

	DailyCloseHHMM string `mapstructure:"daily_close_hhmm"`

	// Timezone is the IANA zone HH:MM fields (DailyCloseHHMM,
	// WeekendStart/End) are interpreted in; all Instants remain UTC.
	Timezone string `mapstructure:"timezone"`

	TickStalenessThresholdMillis int64 `mapstructure:"tick_staleness_threshold_ms"`
	AdvisoryTimeoutPeriodicMillis  int64 `mapstructure:"advisory_timeout_periodic_ms"`
	AdvisoryTimeoutEmergencyMillis int64 `mapstructure:"advisory_timeout_emergency_ms"`

	WeekendStart string `mapstructure:"weekend_start"`
	WeekendEnd   string `mapstructure:"weekend_end"`

	SinkBufferSize int    `mapstructure:"sink_buffer_size"`
	SinkFilePath   string `mapstructure:"sink_file_path"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	APIAddr     string `mapstructure:"api_addr"`

	// AdvisoryURL is the out-of-process advisory oracle endpoint (spec
	// §4.9's "advisory oracle" external interface). Empty disables real
	// calls: the HTTP client still runs but every call fails fast into
	// the Layer-3 safe-default path.
	AdvisoryURL    string `mapstructure:"advisory_url"`
	AdvisoryAPIKey string `mapstructure:"advisory_api_key"`
}

// Defaults mirrors spec §6's stated defaults exactly.
func Defaults() Config {
	return Config{
		PipScale:                       100,
		Layer1PeriodMillis:             100,
		Layer2APeriodSecs:              60,
		Layer2BPeriodSecs:              300,
		Layer3APeriodSecs:              900,
		DailyCloseHHMM:                 "23:00",
		Timezone:                       "Asia/Tokyo",
		TickStalenessThresholdMillis:   10000,
		AdvisoryTimeoutPeriodicMillis:  3000,
		AdvisoryTimeoutEmergencyMillis: 10000,
		WeekendStart:                   "FRI 23:00",
		WeekendEnd:                     "MON 07:00",
		SinkBufferSize:                 4096,
		SinkFilePath:                   "events.jsonl",
	}
}

// Load reads path (YAML) over the documented defaults, with FX_-prefixed
// environment variables taking precedence over both (e.g. FX_BASE_LOT
// overrides base_lot).
func Load(path string) (*Config, error) {
	v := viper.New()
	d := Defaults()
	setDefaults(v, d)

	v.SetConfigFile(path)
	v.SetEnvPrefix("FX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("pip_scale", d.PipScale)
	v.SetDefault("layer1_period_ms", d.Layer1PeriodMillis)
	v.SetDefault("layer2a_period_s", d.Layer2APeriodSecs)
	v.SetDefault("layer2b_period_s", d.Layer2BPeriodSecs)
	v.SetDefault("layer3a_period_s", d.Layer3APeriodSecs)
	v.SetDefault("daily_close_hhmm", d.DailyCloseHHMM)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("tick_staleness_threshold_ms", d.TickStalenessThresholdMillis)
	v.SetDefault("advisory_timeout_periodic_ms", d.AdvisoryTimeoutPeriodicMillis)
	v.SetDefault("advisory_timeout_emergency_ms", d.AdvisoryTimeoutEmergencyMillis)
	v.SetDefault("weekend_start", d.WeekendStart)
	v.SetDefault("weekend_end", d.WeekendEnd)
	v.SetDefault("sink_buffer_size", d.SinkBufferSize)
	v.SetDefault("sink_file_path", d.SinkFilePath)
}

// Validate checks the invariants the engine depends on at startup.
// A non-nil error here maps to exit code 1 (spec §6).
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.BaseLot <= 0 {
		return fmt.Errorf("base_lot must be > 0")
	}
	if c.PipScale != 100 && c.PipScale != 10000 {
		return fmt.Errorf("pip_scale must be 100 (JPY crosses) or 10000")
	}
	if c.Layer1PeriodMillis <= 0 {
		return fmt.Errorf("layer1_period_ms must be > 0")
	}
	if _, err := parseHHMM(c.DailyCloseHHMM); err != nil {
		return fmt.Errorf("daily_close_hhmm invalid: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone invalid: %w", err)
	}
	if c.TickStalenessThresholdMillis <= 0 {
		return fmt.Errorf("tick_staleness_threshold_ms must be > 0")
	}
	if c.AdvisoryTimeoutPeriodicMillis <= 0 || c.AdvisoryTimeoutEmergencyMillis <= 0 {
		return fmt.Errorf("advisory_timeout_* values must be > 0")
	}
	return nil
}

// parseHHMM validates an "HH:MM" broker-local time string.
func parseHHMM(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
