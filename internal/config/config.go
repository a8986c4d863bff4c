package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"gopkg.in/yaml.v3"

	"cryptodesk/internal/provider"
	"cryptodesk/internal/provider/symbols"
)

type Server struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

type Log struct {
	ServiceName string `yaml:"service_name"`
	Mode        string `yaml:"mode"`     // console | file | volume
	Encoding    string `yaml:"encoding"` // json | plain
	Level       string `yaml:"level"`
	Path        string `yaml:"path"`
}

// LogConf converts to the logx setup struct.
func (l Log) LogConf() logx.LogConf {
	return logx.LogConf{
		ServiceName: l.ServiceName,
		Mode:        l.Mode,
		Encoding:    l.Encoding,
		Level:       l.Level,
		Path:        l.Path,
		TimeFormat:  time.RFC3339,
	}
}

// Pacing is the optional per-source request pacing. MaxRequestsPerMinute wins
// over MinInterval when both are set.
type Pacing struct {
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute"`
	Burst                int           `yaml:"burst"`
	MinInterval          time.Duration `yaml:"-"`

	MinIntervalRaw string `yaml:"min_interval"`
}

type Binance struct {
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	MirrorURL     string        `yaml:"mirror_url"`
	DisableMirror bool          `yaml:"disable_mirror"`
	PageLimit     int           `yaml:"page_limit"`
	PageTimeout   time.Duration `yaml:"-"`
	Pacing        Pacing        `yaml:"pacing"`

	PageTimeoutRaw string `yaml:"page_timeout"`
}

type CoinGecko struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"-"`
	Backoff    time.Duration `yaml:"-"`
	Politeness time.Duration `yaml:"-"`
	Pacing     Pacing        `yaml:"pacing"`

	TimeoutRaw    string `yaml:"timeout"`
	BackoffRaw    string `yaml:"backoff"`
	PolitenessRaw string `yaml:"politeness"`
}

type Yahoo struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"-"`
	Pacing  Pacing        `yaml:"pacing"`

	TimeoutRaw string `yaml:"timeout"`
}

type Sources struct {
	// AutoOrder is the attempt order for source=auto.
	AutoOrder   []string `yaml:"auto_order"`
	// MinCoverage > 0 switches acceptance from "non-empty" to "covers at
	// least this fraction of requested tickers".
	MinCoverage float64   `yaml:"min_coverage"`
	Binance     Binance   `yaml:"binance"`
	CoinGecko   CoinGecko `yaml:"coingecko"`
	Yahoo       Yahoo     `yaml:"yahoo"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Cache struct {
	Backend string        `yaml:"backend"` // memory | redis | none
	TTL     time.Duration `yaml:"-"`
	Redis   Redis         `yaml:"redis"`

	TTLRaw string `yaml:"ttl"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
	Universe []string `yaml:"universe"`
	Sources  Sources  `yaml:"sources"`
	Cache    Cache    `yaml:"cache"`
	// HTTPTimeout is the outer bound on any single upstream call.
	HTTPTimeout time.Duration `yaml:"-"`
	// Symbols overrides the static tables, keyed by source then ticker. An
	// empty value removes a mapping.
	Symbols map[string]map[string]string `yaml:"symbols"`

	HTTPTimeoutRaw string `yaml:"http_timeout"`
}

func Default() Config {
	return Config{
		Server:   Server{Port: "8080", RequestTimeoutRaw: "60s"},
		Log:      Log{ServiceName: "cryptodesk", Mode: "console", Encoding: "plain", Level: "info"},
		Universe: append([]string(nil), symbols.DefaultUniverse...),
		Sources: Sources{
			AutoOrder: []string{"binance", "coingecko", "yahoo"},
			Binance: Binance{
				Enabled:        true,
				BaseURL:        "https://api.binance.com",
				MirrorURL:      "https://api.binance.us",
				PageLimit:      1000,
				PageTimeoutRaw: "10s",
			},
			CoinGecko: CoinGecko{
				Enabled:       true,
				BaseURL:       "https://api.coingecko.com",
				TimeoutRaw:    "20s",
				BackoffRaw:    "10s",
				PolitenessRaw: "1.2s",
			},
			Yahoo: Yahoo{
				Enabled:    true,
				BaseURL:    "https://query1.finance.yahoo.com",
				TimeoutRaw: "15s",
			},
		},
		Cache:          Cache{Backend: "memory", TTLRaw: "1h", Redis: Redis{Prefix: "cryptodesk:prices:"}},
		HTTPTimeoutRaw: "30s",
	}
}

// Load reads YAML config from path on top of Default. If path is empty,
// config.yaml in the working directory is used when present. A .env file is
// loaded once beforehand; environment variables override select fields.
func Load(path string) (Config, error) {
	LoadDotenvOnce()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.normalise(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// AutoOrder returns the parsed auto order.
func (c Config) AutoOrder() []provider.SourceID {
	out := make([]provider.SourceID, 0, len(c.Sources.AutoOrder))
	for _, s := range c.Sources.AutoOrder {
		id, err := provider.ParseSourceID(s)
		if err == nil && id != provider.Auto {
			out = append(out, id)
		}
	}
	return out
}

// SymbolMap returns the effective table for src.
func (c Config) SymbolMap(src provider.SourceID) map[string]string {
	return symbols.Merge(symbols.Table(src), c.Symbols[string(src)])
}

func (c *Config) normalise() error {
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.request_timeout", c.Server.RequestTimeoutRaw, &c.Server.RequestTimeout},
		{"http_timeout", c.HTTPTimeoutRaw, &c.HTTPTimeout},
		{"cache.ttl", c.Cache.TTLRaw, &c.Cache.TTL},
		{"sources.binance.page_timeout", c.Sources.Binance.PageTimeoutRaw, &c.Sources.Binance.PageTimeout},
		{"sources.binance.pacing.min_interval", c.Sources.Binance.Pacing.MinIntervalRaw, &c.Sources.Binance.Pacing.MinInterval},
		{"sources.coingecko.timeout", c.Sources.CoinGecko.TimeoutRaw, &c.Sources.CoinGecko.Timeout},
		{"sources.coingecko.backoff", c.Sources.CoinGecko.BackoffRaw, &c.Sources.CoinGecko.Backoff},
		{"sources.coingecko.politeness", c.Sources.CoinGecko.PolitenessRaw, &c.Sources.CoinGecko.Politeness},
		{"sources.coingecko.pacing.min_interval", c.Sources.CoinGecko.Pacing.MinIntervalRaw, &c.Sources.CoinGecko.Pacing.MinInterval},
		{"sources.yahoo.timeout", c.Sources.Yahoo.TimeoutRaw, &c.Sources.Yahoo.Timeout},
		{"sources.yahoo.pacing.min_interval", c.Sources.Yahoo.Pacing.MinIntervalRaw, &c.Sources.Yahoo.Pacing.MinInterval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("config: %s must not be negative", d.name)
		}
		*d.dst = v
	}

	for _, s := range c.Sources.AutoOrder {
		id, err := provider.ParseSourceID(s)
		if err != nil {
			return fmt.Errorf("config: sources.auto_order: %w", err)
		}
		if id == provider.Auto {
			return errors.New("config: sources.auto_order cannot contain auto")
		}
	}
	if len(c.Symbols) > 0 {
		lowered := make(map[string]map[string]string, len(c.Symbols))
		for src, m := range c.Symbols {
			key := strings.ToLower(strings.TrimSpace(src))
			if symbols.Table(provider.SourceID(key)) == nil {
				return fmt.Errorf("config: symbols: unknown source %q", src)
			}
			lowered[key] = m
		}
		c.Symbols = lowered
	}
	if c.Sources.MinCoverage < 0 || c.Sources.MinCoverage > 1 {
		return errors.New("config: sources.min_coverage must be within [0, 1]")
	}
	switch c.Cache.Backend {
	case "", "memory", "none":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			return errors.New("config: cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend %q is not one of memory|redis|none", c.Cache.Backend)
	}
	c.Universe = provider.NormalizeTickers(c.Universe)
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		cfg.Server.RequestTimeoutRaw = v
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		cfg.HTTPTimeoutRaw = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_ENCODING"); v != "" {
		cfg.Log.Encoding = v
	}
	if v := os.Getenv("UNIVERSE"); v != "" {
		cfg.Universe = splitCSV(v)
	}
	if v := os.Getenv("AUTO_ORDER"); v != "" {
		cfg.Sources.AutoOrder = splitCSV(v)
	}
	if v := os.Getenv("MIN_COVERAGE"); v != "" {
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sources.MinCoverage = x
		}
	}

	if v := os.Getenv("BINANCE_ENABLED"); v != "" {
		cfg.Sources.Binance.Enabled = parseBool(v, cfg.Sources.Binance.Enabled)
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Sources.Binance.BaseURL = v
	}
	if v := os.Getenv("BINANCE_MIRROR_URL"); v != "" {
		cfg.Sources.Binance.MirrorURL = v
	}
	if v := os.Getenv("BINANCE_DISABLE_MIRROR"); v != "" {
		cfg.Sources.Binance.DisableMirror = parseBool(v, cfg.Sources.Binance.DisableMirror)
	}
	if v := os.Getenv("BINANCE_MAX_RPM"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x >= 0 {
			cfg.Sources.Binance.Pacing.MaxRequestsPerMinute = x
		}
	}

	if v := os.Getenv("COINGECKO_ENABLED"); v != "" {
		cfg.Sources.CoinGecko.Enabled = parseBool(v, cfg.Sources.CoinGecko.Enabled)
	}
	if v := os.Getenv("COINGECKO_BASE_URL"); v != "" {
		cfg.Sources.CoinGecko.BaseURL = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.Sources.CoinGecko.APIKey = v
	}
	if v := os.Getenv("COINGECKO_MAX_RPM"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x >= 0 {
			cfg.Sources.CoinGecko.Pacing.MaxRequestsPerMinute = x
		}
	}

	if v := os.Getenv("YAHOO_ENABLED"); v != "" {
		cfg.Sources.Yahoo.Enabled = parseBool(v, cfg.Sources.Yahoo.Enabled)
	}
	if v := os.Getenv("YAHOO_BASE_URL"); v != "" {
		cfg.Sources.Yahoo.BaseURL = v
	}

	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		cfg.Cache.TTLRaw = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x >= 0 {
			cfg.Cache.Redis.DB = x
		}
	}
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
