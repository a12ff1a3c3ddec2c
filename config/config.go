// Package config loads service configuration: an optional .env file, a
// YAML file, then environment overrides, then defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"signal-engine/internal/alert"
	"signal-engine/internal/indicator"
	"signal-engine/internal/model"
	"signal-engine/internal/scoring"
	"signal-engine/internal/signals"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Symbols    []string `yaml:"symbols"`
	LogLevel   string   `yaml:"log_level"`
	SeriesSize int      `yaml:"series_capacity"`

	TimeframeWeights map[model.Timeframe]float64 `yaml:"timeframe_weights"`
	Indicators       indicator.Params            `yaml:"indicators"`
	Signals          signals.Thresholds          `yaml:"signals"`
	Scoring          scoring.Params              `yaml:"scoring"`

	Alerts struct {
		CooldownMinutes float64 `yaml:"cooldown_minutes"`
		MaxPerDay       int     `yaml:"max_per_day"`
		MinConfidence   float64 `yaml:"min_confidence"`
		Timezone        string  `yaml:"timezone"`
	} `yaml:"alerts"`

	Schedule struct {
		EvaluateCron string        `yaml:"evaluate_cron"`
		Concurrency  int           `yaml:"concurrency"`
		CycleTimeout time.Duration `yaml:"cycle_timeout"`
		RunOnStart   bool          `yaml:"run_on_start"`
	} `yaml:"schedule"`

	Binance struct {
		APIKey     string  `yaml:"api_key"`
		SecretKey  string  `yaml:"secret_key"`
		BaseURL    string  `yaml:"base_url"`
		Lookback   int     `yaml:"lookback"`
		RateLimit  float64 `yaml:"rate_limit"`
		MaxRetries int     `yaml:"max_retries"`
	} `yaml:"binance"`

	Stream struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"stream"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	SQLite struct {
		Path     string `yaml:"path"`
		Lookback int    `yaml:"lookback"`
	} `yaml:"sqlite"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Discord struct {
		WebhookURL string `yaml:"webhook_url"`
		Username   string `yaml:"username"`
	} `yaml:"discord"`
	Webhook struct {
		URL string `yaml:"url"`
	} `yaml:"webhook"`

	MetricsAddr string `yaml:"metrics_addr"`
	APIAddr     string `yaml:"api_addr"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := prefilled()
	cfg.applyDefaults()
	return cfg
}

// prefilled returns a Config whose fields with a meaningful zero value
// already hold their defaults, so a file may override single fields or set
// them to zero explicitly.
func prefilled() *Config {
	cfg := &Config{
		Indicators: indicator.DefaultParams(),
		Signals:    signals.DefaultThresholds(),
		Scoring:    scoring.DefaultParams(),
	}
	cfg.Alerts.CooldownMinutes = 5
	cfg.Alerts.MaxPerDay = 50
	cfg.Alerts.MinConfidence = 70
	return cfg
}

// Load reads .env (if present), then the YAML file at path (a missing file
// is not an error), then environment overrides, then defaults. The result
// is validated.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := prefilled()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, &model.ConfigurationError{Field: path, Reason: err.Error()}
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.syncRSI()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"REDIS_ADDR":          &c.Redis.Addr,
		"REDIS_PASSWORD":      &c.Redis.Password,
		"SQLITE_PATH":         &c.SQLite.Path,
		"TELEGRAM_BOT_TOKEN":  &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":    &c.Telegram.ChatID,
		"DISCORD_WEBHOOK_URL": &c.Discord.WebhookURL,
		"WEBHOOK_URL":         &c.Webhook.URL,
		"BINANCE_API_KEY":     &c.Binance.APIKey,
		"BINANCE_SECRET_KEY":  &c.Binance.SecretKey,
		"BINANCE_BASE_URL":    &c.Binance.BaseURL,
		"EVALUATE_CRON":       &c.Schedule.EvaluateCron,
		"METRICS_ADDR":        &c.MetricsAddr,
		"API_ADDR":            &c.APIAddr,
		"LOG_LEVEL":           &c.LogLevel,
		"ALERT_TIMEZONE":      &c.Alerts.Timezone,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitSymbols(v)
	}
	if v := os.Getenv("ALERT_COOLDOWN_MINUTES"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &model.ConfigurationError{Field: "ALERT_COOLDOWN_MINUTES", Reason: err.Error()}
		}
		c.Alerts.CooldownMinutes = f
	}
	if v := os.Getenv("ALERT_MAX_PER_DAY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &model.ConfigurationError{Field: "ALERT_MAX_PER_DAY", Reason: err.Error()}
		}
		c.Alerts.MaxPerDay = n
	}
	if v := os.Getenv("STREAM_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &model.ConfigurationError{Field: "STREAM_ENABLED", Reason: err.Error()}
		}
		c.Stream.Enabled = b
	}
	return nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(s)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.TimeframeWeights) == 0 {
		c.TimeframeWeights = scoring.DefaultWeights()
	}
	if c.Indicators == (indicator.Params{}) {
		c.Indicators = indicator.DefaultParams()
	}
	if c.Signals == (signals.Thresholds{}) {
		c.Signals = signals.DefaultThresholds()
	}
	if c.Scoring == (scoring.Params{}) {
		c.Scoring = scoring.DefaultParams()
	}
	if c.Schedule.EvaluateCron == "" {
		c.Schedule.EvaluateCron = "0 */5 * * * *"
	}
	if c.Schedule.Concurrency == 0 {
		c.Schedule.Concurrency = 4
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "data/signals.db"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.APIAddr == "" {
		c.APIAddr = ":8080"
	}
}

// syncRSI lets either the signals or the scoring block set the RSI levels:
// when only one of them differs from the default pair and that pair is
// ordered, the other follows it.
func (c *Config) syncRSI() {
	def := signals.DefaultThresholds()
	sigDefault := c.Signals.RSIOversold == def.RSIOversold && c.Signals.RSIOverbought == def.RSIOverbought
	scDefault := c.Scoring.RSIOversold == def.RSIOversold && c.Scoring.RSIOverbought == def.RSIOverbought
	switch {
	case !sigDefault && scDefault && c.Signals.RSIOversold < c.Signals.RSIOverbought:
		c.Scoring.RSIOversold, c.Scoring.RSIOverbought = c.Signals.RSIOversold, c.Signals.RSIOverbought
	case sigDefault && !scDefault && c.Scoring.RSIOversold < c.Scoring.RSIOverbought:
		c.Signals.RSIOversold, c.Signals.RSIOverbought = c.Scoring.RSIOversold, c.Scoring.RSIOverbought
	}
}

// Validate checks the configuration and returns the first problem as a
// *model.ConfigurationError.
func (c *Config) Validate() error {
	if err := c.Indicators.Validate(); err != nil {
		return &model.ConfigurationError{Field: "indicators", Reason: err.Error()}
	}
	if err := c.Signals.Validate(); err != nil {
		return &model.ConfigurationError{Field: "signals", Reason: err.Error()}
	}
	if err := c.Scoring.Bands.Validate(); err != nil {
		return err
	}
	if c.Scoring.RSIOversold >= c.Scoring.RSIOverbought {
		return &model.ConfigurationError{Field: "scoring.rsi", Reason: "rsi_oversold must be below rsi_overbought"}
	}
	if c.Scoring.RSIOversold != c.Signals.RSIOversold || c.Scoring.RSIOverbought != c.Signals.RSIOverbought {
		return &model.ConfigurationError{
			Field:  "scoring.rsi",
			Reason: fmt.Sprintf("rsi levels %g/%g differ from signals %g/%g", c.Scoring.RSIOversold, c.Scoring.RSIOverbought, c.Signals.RSIOversold, c.Signals.RSIOverbought),
		}
	}
	if c.Scoring.HighVolatilityPct <= 0 {
		return &model.ConfigurationError{Field: "scoring.high_volatility_pct", Reason: "must be positive"}
	}
	if err := scoring.ValidateWeights(c.TimeframeWeights); err != nil {
		return err
	}
	if c.Alerts.CooldownMinutes < 0 {
		return &model.ConfigurationError{Field: "alerts.cooldown_minutes", Reason: "must not be negative"}
	}
	if c.Alerts.MaxPerDay < 0 {
		return &model.ConfigurationError{Field: "alerts.max_per_day", Reason: "must not be negative"}
	}
	if c.Alerts.MinConfidence < 0 || c.Alerts.MinConfidence > 100 {
		return &model.ConfigurationError{Field: "alerts.min_confidence", Reason: "must be within [0, 100]"}
	}
	if _, err := c.Location(); err != nil {
		return &model.ConfigurationError{Field: "alerts.timezone", Reason: err.Error()}
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return &model.ConfigurationError{Field: "telegram", Reason: "bot_token and chat_id must be set together"}
	}
	return nil
}

// Cooldown returns the alert cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownMinutes * float64(time.Minute))
}

// Location resolves the timezone used for the daily alert reset. Empty
// means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Alerts.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Alerts.Timezone)
}

// AlertConfig builds the admission controller configuration.
func (c *Config) AlertConfig() alert.Config {
	loc, _ := c.Location()
	return alert.Config{Cooldown: c.Cooldown(), MaxPerDay: c.Alerts.MaxPerDay, Location: loc}
}
