package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version int           `yaml:"version"`
	Global  GlobalConfig  `yaml:"global"`
	Watcher WatcherConfig `yaml:"watcher"`
	Alerts  AlertConfig   `yaml:"alerts"`
}

type GlobalConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
}

// WatcherConfig configures the transfer watcher core.
type WatcherConfig struct {
	Endpoints     []string `yaml:"endpoints"`
	WatchAddress  string   `yaml:"watch_address"`
	WebhookURL    string   `yaml:"webhook_url"`
	PollInterval  string   `yaml:"poll_interval"`
	ChunkSize     uint64   `yaml:"chunk_size"`
	CatchupCap    uint64   `yaml:"catchup_cap"`
	ReselectEvery string   `yaml:"reselect_every"`
	MaxRetries    int      `yaml:"max_retries"`
	DedupSize     int      `yaml:"dedup_size"`
	CallTimeout   string   `yaml:"call_timeout"`
}

// AlertConfig configures the price spike/dip monitor.
type AlertConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Mode             string   `yaml:"mode"`
	CheckInterval    string   `yaml:"check_interval"`
	Window           string   `yaml:"window"`
	SpikeThreshold   float64  `yaml:"spike_threshold"`
	DipThreshold     float64  `yaml:"dip_threshold"`
	SymbolSuffix     string   `yaml:"symbol_suffix"`
	MinQuoteVolume   float64  `yaml:"min_quote_volume"`
	Min5mQuoteVolume float64  `yaml:"min_5m_quote_volume"`
	Cooldown         string   `yaml:"cooldown"`
	APIBases         []string `yaml:"api_bases"`
	TelegramBotToken string   `yaml:"telegram_bot_token"`
	TelegramChatID   string   `yaml:"telegram_chat_id"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Global.DBPath == "" {
		c.Global.DBPath = "hyperwatch.db"
	}
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = "info"
	}

	w := &c.Watcher
	if w.PollInterval == "" {
		w.PollInterval = "300ms"
	}
	if w.ChunkSize == 0 {
		w.ChunkSize = 100
	}
	if w.CatchupCap == 0 {
		w.CatchupCap = 10
	}
	if w.ReselectEvery == "" {
		w.ReselectEvery = "30s"
	}
	if w.MaxRetries == 0 {
		w.MaxRetries = 3
	}
	if w.DedupSize == 0 {
		w.DedupSize = 1000
	}
	if w.CallTimeout == "" {
		w.CallTimeout = "5s"
	}

	a := &c.Alerts
	if a.Mode == "" {
		a.Mode = "both"
	}
	if a.CheckInterval == "" {
		a.CheckInterval = "60s"
	}
	if a.Window == "" {
		a.Window = "5m"
	}
	if a.SpikeThreshold == 0 {
		a.SpikeThreshold = 0.10
	}
	if a.DipThreshold == 0 {
		a.DipThreshold = 0.10
	}
	if a.SymbolSuffix == "" {
		a.SymbolSuffix = "USDT"
	}
	if a.MinQuoteVolume == 0 {
		a.MinQuoteVolume = 20_000_000
	}
	if a.Min5mQuoteVolume == 0 {
		a.Min5mQuoteVolume = 1_000_000
	}
	if a.Cooldown == "" {
		a.Cooldown = "15m"
	}
	if len(a.APIBases) == 0 {
		a.APIBases = []string{
			"https://fapi.binance.com",
			"https://fapi1.binance.com",
			"https://fapi2.binance.com",
			"https://fapi3.binance.com",
		}
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Watcher.Validate(); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	return nil
}

func (w *WatcherConfig) Validate() error {
	if len(w.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	if w.WatchAddress == "" {
		return errors.New("watch_address is required")
	}
	if !common.IsHexAddress(w.WatchAddress) {
		return fmt.Errorf("invalid watch_address: %s", w.WatchAddress)
	}
	if w.WebhookURL == "" {
		return errors.New("webhook_url is required")
	}
	for _, field := range []struct{ name, value string }{
		{"poll_interval", w.PollInterval},
		{"reselect_every", w.ReselectEvery},
		{"call_timeout", w.CallTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
	}
	return nil
}

func (a *AlertConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	switch strings.ToLower(a.Mode) {
	case "spike", "dip", "both":
	default:
		return fmt.Errorf("mode must be one of spike, dip, both; got %s", a.Mode)
	}
	for _, field := range []struct{ name, value string }{
		{"check_interval", a.CheckInterval},
		{"window", a.Window},
		{"cooldown", a.Cooldown},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
	}
	window := a.WindowDuration()
	if window <= a.CheckIntervalDuration() {
		return errors.New("window must be larger than check_interval")
	}
	return nil
}

// Address returns the watched address in canonical form.
func (w *WatcherConfig) Address() common.Address {
	return common.HexToAddress(w.WatchAddress)
}

// PollIntervalDuration returns the parsed poll interval.
func (w *WatcherConfig) PollIntervalDuration() time.Duration {
	return parseDuration(w.PollInterval, 300*time.Millisecond)
}

// ReselectEveryDuration returns the parsed re-selection interval.
func (w *WatcherConfig) ReselectEveryDuration() time.Duration {
	return parseDuration(w.ReselectEvery, 30*time.Second)
}

// CallTimeoutDuration returns the parsed per-call RPC timeout.
func (w *WatcherConfig) CallTimeoutDuration() time.Duration {
	return parseDuration(w.CallTimeout, 5*time.Second)
}

// CheckIntervalDuration returns the parsed alert check interval.
func (a *AlertConfig) CheckIntervalDuration() time.Duration {
	return parseDuration(a.CheckInterval, time.Minute)
}

// WindowDuration returns the parsed rolling window size.
func (a *AlertConfig) WindowDuration() time.Duration {
	return parseDuration(a.Window, 5*time.Minute)
}

// CooldownDuration returns the parsed per-symbol alert cooldown.
func (a *AlertConfig) CooldownDuration() time.Duration {
	return parseDuration(a.Cooldown, 15*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
