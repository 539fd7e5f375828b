// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultIntervalMinutes is the evaluation candle interval when
	// schedule.interval_minutes is unset.
	defaultIntervalMinutes = 3
	// defaultMaxLookbackDays is the historical locator's retry budget when
	// levels.max_lookback_days is unset.
	defaultMaxLookbackDays = 10
	// defaultTimezone is the exchange's civil time zone.
	defaultTimezone = "Asia/Kolkata"
)

// istOffsetSeconds is UTC+5:30, used when the tzdata lookup fails.
const istOffsetSeconds = 5*3600 + 30*60

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Levels      LevelsConfig      `yaml:"levels"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Storage     StorageConfig     `yaml:"storage"`
	Journal     JournalConfig     `yaml:"journal"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"` // overridden by the stored credential when present
	APIEndpoint string `yaml:"api_endpoint"`
	Product     string `yaml:"product"`  // MIS | NRML
	Quantity    int    `yaml:"quantity"` // lots per order
}

// ScheduleConfig defines the polling cadence and trading windows.
type ScheduleConfig struct {
	Timezone        string `yaml:"timezone"`        // e.g. "Asia/Kolkata"
	PreMarketStart  string `yaml:"premarket_start"` // "HH:MM" daily state resolution opens
	TradingStart    string `yaml:"trading_start"`   // "HH:MM"
	TradingEnd      string `yaml:"trading_end"`     // "HH:MM"
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// LevelsConfig tunes the daily level resolution.
type LevelsConfig struct {
	MaxLookbackDays int `yaml:"max_lookback_days"`
}

// Instrument describes one tradable index and how its option symbols are built.
type Instrument struct {
	Symbol       string  `yaml:"symbol"`        // index name, e.g. NIFTY
	Token        int64   `yaml:"token"`         // instrument token for data fetches
	OptionPrefix string  `yaml:"option_prefix"` // tradingsymbol prefix, e.g. NIFTY
	ExpiryCode   string  `yaml:"expiry_code"`   // current expiry segment, e.g. 25O07
	StrikeWidth  float64 `yaml:"strike_width"`  // strike grid spacing, e.g. 100
}

// InstrumentsConfig maps weekdays to instruments. Default covers every
// trading weekday; Overrides swaps in a different index on specific days
// (the exchange trades a different weekly expiry on Monday/Friday).
type InstrumentsConfig struct {
	Default   Instrument            `yaml:"default"`
	Overrides map[string]Instrument `yaml:"overrides"` // lowercase weekday name
}

// StorageConfig defines storage settings for position and level data.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// JournalConfig defines the sqlite trade audit trail settings.
type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

// DashboardConfig defines the embedded dashboard server settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.Quantity <= 0 {
		return fmt.Errorf("broker.quantity must be > 0")
	}

	c.normalize()

	if c.Schedule.IntervalMinutes <= 0 || c.Schedule.IntervalMinutes > 60 {
		return fmt.Errorf("schedule.interval_minutes must be in (0,60]")
	}
	if c.Levels.MaxLookbackDays <= 0 {
		return fmt.Errorf("levels.max_lookback_days must be > 0")
	}

	if err := validateInstrument("instruments.default", c.Instruments.Default); err != nil {
		return err
	}
	for day, inst := range c.Instruments.Overrides {
		if _, ok := weekdayNames[day]; !ok {
			return fmt.Errorf("instruments.overrides: unknown weekday %q", day)
		}
		if err := validateInstrument("instruments.overrides."+day, inst); err != nil {
			return err
		}
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	loc := c.Location()
	pre, err0 := time.ParseInLocation("15:04", c.Schedule.PreMarketStart, loc)
	s, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err0 != nil || err1 != nil || err2 != nil {
		return fmt.Errorf("schedule windows must be HH:MM")
	}
	if !pre.Before(s) && !pre.Equal(s) {
		return fmt.Errorf("schedule.premarket_start must not be after trading_start")
	}
	if !s.Before(e) {
		return fmt.Errorf("schedule.trading_start must be before trading_end")
	}

	return nil
}

func validateInstrument(field string, inst Instrument) error {
	if inst.Symbol == "" {
		return fmt.Errorf("%s.symbol is required", field)
	}
	if inst.Token <= 0 {
		return fmt.Errorf("%s.token must be > 0", field)
	}
	if inst.OptionPrefix == "" {
		return fmt.Errorf("%s.option_prefix is required", field)
	}
	if inst.StrikeWidth <= 0 {
		return fmt.Errorf("%s.strike_width must be > 0", field)
	}
	return nil
}

func (c *Config) normalize() {
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.PreMarketStart == "" {
		c.Schedule.PreMarketStart = "07:30"
	}
	if c.Schedule.TradingStart == "" {
		c.Schedule.TradingStart = "09:30"
	}
	if c.Schedule.TradingEnd == "" {
		c.Schedule.TradingEnd = "15:30"
	}
	if c.Schedule.IntervalMinutes == 0 {
		c.Schedule.IntervalMinutes = defaultIntervalMinutes
	}
	if c.Levels.MaxLookbackDays == 0 {
		c.Levels.MaxLookbackDays = defaultMaxLookbackDays
	}
	if c.Broker.Product == "" {
		c.Broker.Product = "MIS"
	}
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the exchange time zone, falling back to a fixed IST
// offset when the tz database is unavailable (minimal containers).
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.FixedZone("IST", istOffsetSeconds)
	}
	return loc
}

var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
}

// InstrumentFor resolves the tradable instrument for a weekday, applying any
// configured override.
func (c *Config) InstrumentFor(day time.Weekday) Instrument {
	for name, wd := range weekdayNames {
		if wd == day {
			if inst, ok := c.Instruments.Overrides[name]; ok {
				return inst
			}
		}
	}
	return c.Instruments.Default
}

// IsWorkingDay reports whether the given time falls on a trading weekday in
// the exchange zone.
func (c *Config) IsWorkingDay(now time.Time) bool {
	wd := now.In(c.Location()).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsWithinTradingHours checks if the given time falls within the market
// window on a trading weekday.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	return c.withinWindow(now, c.Schedule.TradingStart, c.Schedule.TradingEnd)
}

// IsWithinPreMarket checks if the given time falls within the extended
// pre-market window used for daily state resolution.
func (c *Config) IsWithinPreMarket(now time.Time) bool {
	return c.withinWindow(now, c.Schedule.PreMarketStart, c.Schedule.TradingEnd)
}

func (c *Config) withinWindow(now time.Time, startHM, endHM string) bool {
	loc := c.Location()
	today := now.In(loc)

	if !c.IsWorkingDay(now) {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", startHM, loc)
	endClock, err2 := time.ParseInLocation("15:04", endHM, loc)
	if err1 != nil || err2 != nil {
		return false
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive on both ends: the 15:30 boundary candle still evaluates.
	return !today.Before(start) && !today.After(end)
}

// MidnightFor returns midnight of the given time's calendar day in the
// exchange zone. Level sets are keyed on this value.
func (c *Config) MidnightFor(now time.Time) time.Time {
	t := now.In(c.Location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.Location())
}
