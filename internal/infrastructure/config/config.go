package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
	domainsvc "ltpbot/internal/domain/service"
)

type Config struct {
	App struct {
		InstrumentFile string `toml:"instrument_file"`
		Instrument     string `toml:"instrument"` // inline instrument line, wins over the file
	} `toml:"app"`

	Rules struct {
		ExchangeCode        string  `toml:"exchange_code"`
		Quantity            int     `toml:"quantity"`
		BuyDropPct          float64 `toml:"buy_drop_pct"`
		BuyDropAbs          float64 `toml:"buy_drop_abs"`
		TakeProfitPct       float64 `toml:"take_profit_pct"`
		TakeProfitAbs       float64 `toml:"take_profit_abs"`
		StopLossPct         float64 `toml:"stop_loss_pct"`
		PollIntervalSec     int     `toml:"poll_interval_sec"`
		MinWarmupSamples    int     `toml:"min_warmup_samples"`
		BuyImmediateOnStart bool    `toml:"buy_immediate_on_start"`
		BuyMode             string  `toml:"buy_mode"`
		SMAWindow           int     `toml:"sma_window"`
		SMADropPct          float64 `toml:"sma_drop_pct"`
		Debug               bool    `toml:"debug"`
	} `toml:"rules"`

	Market struct {
		TZ        string `toml:"market_tz"`
		Open      string `toml:"market_open"`
		Close     string `toml:"market_close"`
		BufferMin int    `toml:"market_buffer_min"`
	} `toml:"market"`

	Quote QuoteConfig `toml:"quote"`

	Broker BrokerConfig `toml:"broker"`

	State struct {
		Path           string `toml:"path"`
		LockTimeoutSec int    `toml:"lock_timeout_sec"`
	} `toml:"state"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Redis struct {
		Enabled       bool   `toml:"enabled"`
		Addr          string `toml:"addr"`
		Password      string `toml:"password"`
		DB            int    `toml:"db"`
		Prefix        string `toml:"prefix"`
		TTLSeconds    int    `toml:"ttl_seconds"`
		SignalStream  string `toml:"signal_stream"`
		SignalChannel string `toml:"signal_channel"`
	} `toml:"redis"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`

	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`
}

type QuoteConfig struct {
	Source       string `toml:"source"` // auto | yahoo | nse | stream | broker
	CooldownSec  int    `toml:"cooldown_sec"`
	CooldownDir  string `toml:"cooldown_dir"`
	CooldownFile string `toml:"cooldown_file"` // marker for the primary feed
	TimeoutSec   int    `toml:"http_timeout_sec"`
	Retries      int    `toml:"retries"`

	Yahoo struct {
		Enabled bool   `toml:"enabled"`
		BaseURL string `toml:"base_url"`
	} `toml:"yahoo"`

	NSE struct {
		Enabled bool   `toml:"enabled"`
		BaseURL string `toml:"base_url"`
	} `toml:"nse"`

	Stream struct {
		Enabled       bool   `toml:"enabled"`
		WsURL         string `toml:"ws_url"`
		StaleAfterSec int    `toml:"stale_after_sec"`
	} `toml:"stream"`
}

type BrokerConfig struct {
	Mode         string `toml:"mode"` // paper | rest
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	APISecret    string `toml:"api_secret"`
	SessionToken string `toml:"session_token"`
	Product      string `toml:"product"`
	Validity     string `toml:"validity"`
	// QuoteFallback serves broker quotes as the last feed in auto routing.
	QuoteFallback bool `toml:"quote_fallback"`
}

const (
	BrokerModePaper = "paper"
	BrokerModeREST  = "rest"
)

// Load decodes path, loads .env when present, then applies defaults,
// LTPBOT_* overrides and validation. Every failure wraps domain.ErrConfig.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConfig, path, err)
	}
	applyDefaults(&cfg, md)

	// .env is optional
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return &cfg, nil
}

// Default config with every default applied, for tests and tooling.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg, toml.MetaData{})
	return &cfg
}

func applyDefaults(cfg *Config, md toml.MetaData) {
	if cfg.App.InstrumentFile == "" {
		cfg.App.InstrumentFile = "stocksymbol.txt"
	}

	r := &cfg.Rules
	if r.ExchangeCode == "" {
		r.ExchangeCode = "NSE"
	}
	if r.Quantity == 0 {
		r.Quantity = 1
	}
	// zero is a meaningful threshold, so only fill keys that were not written
	if !md.IsDefined("rules", "buy_drop_pct") {
		r.BuyDropPct = 0.01
	}
	if !md.IsDefined("rules", "take_profit_pct") {
		r.TakeProfitPct = 0.02
	}
	if !md.IsDefined("rules", "stop_loss_pct") {
		r.StopLossPct = 0.01
	}
	if !md.IsDefined("rules", "sma_drop_pct") {
		r.SMADropPct = 0.003
	}
	if !md.IsDefined("rules", "min_warmup_samples") {
		r.MinWarmupSamples = 3
	}
	if r.PollIntervalSec == 0 {
		r.PollIntervalSec = 5
	}
	if r.BuyMode == "" {
		r.BuyMode = string(domainsvc.BuyModeDropFromHigh)
	}
	r.BuyMode = strings.ToLower(strings.TrimSpace(r.BuyMode))
	if r.SMAWindow == 0 {
		r.SMAWindow = 20
	}

	m := &cfg.Market
	if m.TZ == "" {
		m.TZ = "Asia/Kolkata"
	}
	if m.Open == "" {
		m.Open = "09:15"
	}
	if m.Close == "" {
		m.Close = "15:30"
	}
	if !md.IsDefined("market", "market_buffer_min") {
		m.BufferMin = 1
	}

	q := &cfg.Quote
	if q.Source == "" {
		q.Source = "auto"
	}
	q.Source = normalizeSource(q.Source)
	if q.CooldownSec <= 0 {
		q.CooldownSec = 600
	}
	if q.CooldownDir == "" {
		q.CooldownDir = "."
	}
	if q.CooldownFile == "" {
		q.CooldownFile = "yf.cooldown"
	}
	if q.TimeoutSec <= 0 {
		q.TimeoutSec = 10
	}
	if !md.IsDefined("quote", "retries") {
		q.Retries = 3
	}
	if !md.IsDefined("quote", "yahoo", "enabled") {
		q.Yahoo.Enabled = true
	}
	if q.Yahoo.BaseURL == "" {
		q.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	}
	if !md.IsDefined("quote", "nse", "enabled") {
		q.NSE.Enabled = true
	}
	if q.NSE.BaseURL == "" {
		q.NSE.BaseURL = "https://www.nseindia.com"
	}
	if q.Stream.StaleAfterSec <= 0 {
		q.Stream.StaleAfterSec = 30
	}

	b := &cfg.Broker
	if b.Mode == "" {
		b.Mode = BrokerModePaper
	}
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
	if b.BaseURL == "" {
		b.BaseURL = "https://api.icicidirect.com/breezeapi/api/v1"
	}
	if b.Product == "" {
		b.Product = "cash"
	}
	if b.Validity == "" {
		b.Validity = "day"
	}
	if !md.IsDefined("broker", "quote_fallback") {
		b.QuoteFallback = true
	}

	if cfg.State.Path == "" {
		cfg.State.Path = "state.json"
	}
	if cfg.State.LockTimeoutSec <= 0 {
		cfg.State.LockTimeoutSec = 10
	}

	if !md.IsDefined("sqlite", "enabled") {
		cfg.SQLite.Enabled = true
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/ltpbot.db"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "ltpbot"
	}
	if cfg.Redis.TTLSeconds <= 0 {
		cfg.Redis.TTLSeconds = 86400
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Rules.Debug {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 14
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9108"
	}
}

func normalizeSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "yf", "yfinance":
		return "yahoo"
	case "breeze":
		return "broker"
	}
	return s
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Broker.Mode, "LTPBOT_BROKER_MODE")
	setStr(&cfg.Broker.BaseURL, "LTPBOT_BROKER_BASE_URL")
	setStr(&cfg.Broker.APIKey, "LTPBOT_BROKER_API_KEY")
	setStr(&cfg.Broker.APISecret, "LTPBOT_BROKER_API_SECRET")
	setStr(&cfg.Broker.SessionToken, "LTPBOT_BROKER_SESSION_TOKEN")

	setStr(&cfg.Redis.Addr, "LTPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LTPBOT_REDIS_PASSWORD")
	setStr(&cfg.Postgres.DSN, "LTPBOT_POSTGRES_DSN")

	setStr(&cfg.App.Instrument, "LTPBOT_INSTRUMENT")
	setStr(&cfg.Log.Level, "LTPBOT_LOG_LEVEL")

	cfg.Broker.Mode = strings.ToLower(strings.TrimSpace(cfg.Broker.Mode))
	cfg.Broker.APIKey = strings.TrimSpace(cfg.Broker.APIKey)
	cfg.Broker.APISecret = strings.TrimSpace(cfg.Broker.APISecret)
	cfg.Broker.SessionToken = strings.TrimSpace(cfg.Broker.SessionToken)
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func validate(cfg *Config) error {
	r := cfg.Rules
	if r.Quantity <= 0 {
		return errors.New("rules.quantity must be > 0")
	}
	if r.PollIntervalSec <= 0 {
		return errors.New("rules.poll_interval_sec must be > 0")
	}
	for name, v := range map[string]float64{
		"buy_drop_pct":    r.BuyDropPct,
		"buy_drop_abs":    r.BuyDropAbs,
		"take_profit_pct": r.TakeProfitPct,
		"take_profit_abs": r.TakeProfitAbs,
		"stop_loss_pct":   r.StopLossPct,
		"sma_drop_pct":    r.SMADropPct,
	} {
		if v < 0 {
			return fmt.Errorf("rules.%s must be >= 0", name)
		}
	}
	if r.MinWarmupSamples < 0 {
		return errors.New("rules.min_warmup_samples must be >= 0")
	}
	if r.SMAWindow <= 0 {
		return errors.New("rules.sma_window must be > 0")
	}
	switch domainsvc.BuyMode(r.BuyMode) {
	case domainsvc.BuyModeDropFromHigh, domainsvc.BuyModeBelowSMA:
	default:
		return fmt.Errorf("rules.buy_mode %q unknown", r.BuyMode)
	}

	switch cfg.Quote.Source {
	case "auto", "yahoo", "nse", "broker":
	case "stream":
		if !cfg.Quote.Stream.Enabled {
			return errors.New("quote.source stream requires quote.stream.enabled")
		}
	default:
		return fmt.Errorf("quote.source %q unknown", cfg.Quote.Source)
	}
	if cfg.Quote.Stream.Enabled && strings.TrimSpace(cfg.Quote.Stream.WsURL) == "" {
		return errors.New("quote.stream.ws_url empty but enabled")
	}
	if cfg.Quote.Retries < 0 {
		return errors.New("quote.retries must be >= 0")
	}

	switch cfg.Broker.Mode {
	case BrokerModePaper:
	case BrokerModeREST:
		b := cfg.Broker
		if b.APIKey == "" || b.APISecret == "" || b.SessionToken == "" {
			return errors.New("broker.mode rest needs api_key, api_secret and session_token")
		}
	default:
		return fmt.Errorf("broker.mode %q unknown", cfg.Broker.Mode)
	}

	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	return nil
}

// LoadInstrument the configured instrument line, inline or from file.
func (c *Config) LoadInstrument() (model.Instrument, error) {
	line := c.App.Instrument
	if strings.TrimSpace(line) == "" {
		b, err := os.ReadFile(c.App.InstrumentFile)
		if err != nil {
			return model.Instrument{}, fmt.Errorf("%w: instrument file: %v", domain.ErrConfig, err)
		}
		line = string(b)
	}
	inst, err := model.ParseInstrument(line)
	if err != nil {
		return model.Instrument{}, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return inst, nil
}

// RuleConfig the rule engine's view of the configuration.
func (c *Config) RuleConfig() domainsvc.RuleConfig {
	r := c.Rules
	return domainsvc.RuleConfig{
		ExchangeCode:        strings.ToUpper(strings.TrimSpace(r.ExchangeCode)),
		Quantity:            r.Quantity,
		BuyDropAbs:          r.BuyDropAbs,
		BuyDropPct:          r.BuyDropPct,
		SMAWindow:           r.SMAWindow,
		SMADropPct:          r.SMADropPct,
		TakeProfitAbs:       r.TakeProfitAbs,
		TakeProfitPct:       r.TakeProfitPct,
		StopLossPct:         r.StopLossPct,
		PollInterval:        time.Duration(r.PollIntervalSec) * time.Second,
		MinWarmupSamples:    r.MinWarmupSamples,
		BuyImmediateOnStart: r.BuyImmediateOnStart,
		BuyMode:             domainsvc.BuyMode(r.BuyMode),
		Hours: domainsvc.TradingHours{
			TZ:        c.Market.TZ,
			Open:      c.Market.Open,
			Close:     c.Market.Close,
			BufferMin: c.Market.BufferMin,
		},
	}
}

// MarketLocation the market zone, or time.Local when it does not load.
func (c *Config) MarketLocation() *time.Location {
	loc, err := time.LoadLocation(c.Market.TZ)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Quote.CooldownSec) * time.Second
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Quote.TimeoutSec) * time.Second
}
