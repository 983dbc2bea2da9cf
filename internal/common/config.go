// Package common provides shared utilities for Tiller
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for Tiller
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Calendar    CalendarConfig  `toml:"calendar"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Risk        RiskConfig      `toml:"risk"`
	Outcomes    OutcomeConfig   `toml:"outcomes"`
	Clients     ClientsConfig   `toml:"clients"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the BadgerHold data directory
type StorageConfig struct {
	Path string `toml:"path"`
}

// CalendarConfig defines the trading calendar and agent windows.
// All times are "HH:MM" in Timezone. Holidays are "YYYY-MM-DD" dates on
// which the market is treated as closed regardless of weekday.
type CalendarConfig struct {
	Timezone             string   `toml:"timezone"`
	MarketOpen           string   `toml:"market_open"`
	MarketClose          string   `toml:"market_close"`
	SummarizerStart      string   `toml:"summarizer_start"`
	SummarizerEnd        string   `toml:"summarizer_end"`
	SummarizerOffsetMin  int      `toml:"summarizer_offset_minute"`
	WeekendSummarizerAt  string   `toml:"weekend_summarizer_at"`
	DeciderIntervalMin   int      `toml:"decider_interval_minutes"`
	FeedbackAt           string   `toml:"feedback_at"`
	Holidays             []string `toml:"holidays"`
}

// SchedulerConfig holds orchestrator loop settings
type SchedulerConfig struct {
	TickInterval string `toml:"tick_interval"`
	RunGrace     string `toml:"run_grace"` // running runs older than this are reconciled to failed on startup
}

// GetTickInterval parses and returns the scheduler tick interval
func (c *SchedulerConfig) GetTickInterval() time.Duration {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetRunGrace parses and returns the stale-run grace period
func (c *SchedulerConfig) GetRunGrace() time.Duration {
	d, err := time.ParseDuration(c.RunGrace)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// RiskConfig holds the hard trading limits. Monetary values are decimal
// strings so cost-basis arithmetic never passes through binary floats.
type RiskConfig struct {
	MaxTrades     int    `toml:"max_trades"`
	MaxFunds      string `toml:"max_funds"`
	MinBuffer     string `toml:"min_buffer"`
	TakeProfitPct string `toml:"take_profit_pct"`
	StopLossPct   string `toml:"stop_loss_pct"`
}

// GetMaxFunds returns the starting cash balance
func (c *RiskConfig) GetMaxFunds() decimal.Decimal {
	return parseDecimal(c.MaxFunds, "10000")
}

// GetMinBuffer returns the cash floor that buys may never breach
func (c *RiskConfig) GetMinBuffer() decimal.Decimal {
	return parseDecimal(c.MinBuffer, "100")
}

// GetTakeProfitPct returns the forced-exit gain threshold in percent
func (c *RiskConfig) GetTakeProfitPct() decimal.Decimal {
	return parseDecimal(c.TakeProfitPct, "3")
}

// GetStopLossPct returns the forced-exit loss threshold in percent (positive value)
func (c *RiskConfig) GetStopLossPct() decimal.Decimal {
	return parseDecimal(c.StopLossPct, "5")
}

// OutcomeConfig holds the gain/loss thresholds used to categorize
// completed sells, in percent.
type OutcomeConfig struct {
	SignificantProfitPct string `toml:"significant_profit_pct"`
	BreakEvenBandPct     string `toml:"break_even_band_pct"`
	SignificantLossPct   string `toml:"significant_loss_pct"`
	LookbackDays         int    `toml:"lookback_days"`
}

// GetSignificantProfitPct returns the significant-profit threshold
func (c *OutcomeConfig) GetSignificantProfitPct() decimal.Decimal {
	return parseDecimal(c.SignificantProfitPct, "5")
}

// GetBreakEvenBandPct returns the break-even band half-width
func (c *OutcomeConfig) GetBreakEvenBandPct() decimal.Decimal {
	return parseDecimal(c.BreakEvenBandPct, "2")
}

// GetSignificantLossPct returns the significant-loss threshold (positive value)
func (c *OutcomeConfig) GetSignificantLossPct() decimal.Decimal {
	return parseDecimal(c.SignificantLossPct, "10")
}

// GetLookbackDays returns the feedback analysis window
func (c *OutcomeConfig) GetLookbackDays() int {
	if c.LookbackDays <= 0 {
		return 30
	}
	return c.LookbackDays
}

// ClientsConfig holds collaborator client configurations
type ClientsConfig struct {
	Newswire NewswireConfig `toml:"newswire"`
	Advisor  AdvisorConfig  `toml:"advisor"`
}

// NewswireConfig holds the news summarization service configuration
type NewswireConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *NewswireConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// AdvisorConfig holds the reasoning service (Gemini) configuration
type AdvisorConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *AdvisorConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults. Window times
// and risk limits default to the live system's values.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Path: "data/tiller",
		},
		Calendar: CalendarConfig{
			Timezone:            "America/New_York",
			MarketOpen:          "09:30",
			MarketClose:         "16:00",
			SummarizerStart:     "08:25",
			SummarizerEnd:       "17:25",
			SummarizerOffsetMin: 25,
			WeekendSummarizerAt: "15:00",
			DeciderIntervalMin:  30,
			FeedbackAt:          "16:30",
		},
		Scheduler: SchedulerConfig{
			TickInterval: "30s",
			RunGrace:     "30m",
		},
		Risk: RiskConfig{
			MaxTrades:     5,
			MaxFunds:      "10000",
			MinBuffer:     "100",
			TakeProfitPct: "3",
			StopLossPct:   "5",
		},
		Outcomes: OutcomeConfig{
			SignificantProfitPct: "5",
			BreakEvenBandPct:     "2",
			SignificantLossPct:   "10",
			LookbackDays:         30,
		},
		Clients: ClientsConfig{
			Newswire: NewswireConfig{
				BaseURL:   "http://localhost:9090",
				RateLimit: 5,
				Timeout:   "30s",
			},
			Advisor: AdvisorConfig{
				Model:   "gemini-2.0-flash",
				Timeout: "60s",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TILLER_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("TILLER_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("TILLER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("TILLER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("TILLER_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if tz := os.Getenv("TILLER_TIMEZONE"); tz != "" {
		config.Calendar.Timezone = tz
	}

	if v := os.Getenv("TILLER_NEWSWIRE_URL"); v != "" {
		config.Clients.Newswire.BaseURL = v
	}
	if v := os.Getenv("TILLER_NEWSWIRE_API_KEY"); v != "" {
		config.Clients.Newswire.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Clients.Advisor.APIKey = v
	}
	if v := os.Getenv("TILLER_ADVISOR_API_KEY"); v != "" {
		config.Clients.Advisor.APIKey = v
	}
	if v := os.Getenv("TILLER_ADVISOR_MODEL"); v != "" {
		config.Clients.Advisor.Model = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func validate(config *Config) error {
	if config.Risk.MaxTrades <= 0 {
		return fmt.Errorf("risk.max_trades must be positive, got %d", config.Risk.MaxTrades)
	}
	if config.Calendar.DeciderIntervalMin <= 0 {
		return fmt.Errorf("calendar.decider_interval_minutes must be positive, got %d", config.Calendar.DeciderIntervalMin)
	}
	for _, field := range []string{
		config.Risk.MaxFunds, config.Risk.MinBuffer,
		config.Risk.TakeProfitPct, config.Risk.StopLossPct,
	} {
		if field == "" {
			continue
		}
		if _, err := decimal.NewFromString(field); err != nil {
			return fmt.Errorf("invalid decimal value %q in risk config: %w", field, err)
		}
	}
	return nil
}

// parseDecimal parses a decimal string, falling back to the default on
// empty or malformed input. Defaults are compile-time constants and must
// parse.
func parseDecimal(s, fallback string) decimal.Decimal {
	if s == "" {
		s = fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		d = decimal.RequireFromString(fallback)
	}
	return d
}
