package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/app.yaml"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Market     MarketConfig     `yaml:"market"`
	Store      StoreConfig      `yaml:"store"`
	BriefAgent BriefAgentConfig `yaml:"brief_agent"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr or a file path.
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MarketConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Proxies   []string `yaml:"proxies"`

	AttemptTimeoutMs  int     `yaml:"attempt_timeout_ms"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	UserAgent         string  `yaml:"user_agent"`

	MinRequestIntervalMs int `yaml:"min_request_interval_ms"`

	DefaultSymbols []string `yaml:"default_symbols"`
	InitialSymbols []string `yaml:"initial_symbols"`

	OfflineEnabled bool `yaml:"offline_enabled"`
	// OfflineDataset replaces the bundled dataset when set.
	OfflineDataset string `yaml:"offline_dataset"`
}

type StoreConfig struct {
	Sqlite SqliteConfig `yaml:"sqlite"`
}

type SqliteConfig struct {
	Path string `yaml:"path"`
}

type BriefAgentConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ByAzure    bool   `yaml:"by_azure"`
	APIVersion string `yaml:"api_version"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// Default returns a complete configuration; a config file only needs the
// fields it changes.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "json", Output: "stdout"},
		Market: MarketConfig{
			Endpoints: []string{
				"https://query2.finance.yahoo.com/v8/finance/chart/{symbol}?interval=1d&range=1d",
				"https://query1.finance.yahoo.com/v8/finance/chart/{symbol}?interval=1d&range=1d",
				"https://query1.finance.yahoo.com/v7/finance/quote?symbols={symbol}",
			},
			Proxies: []string{
				"https://corsproxy.io/?",
				"https://api.codetabs.com/v1/proxy?quest=",
				"https://api.allorigins.win/raw?url=",
			},
			AttemptTimeoutMs:     8000,
			Concurrency:          1,
			RequestsPerSecond:    0,
			Burst:                1,
			UserAgent:            "Mozilla/5.0 (compatible; quote-dashboard/1.0)",
			MinRequestIntervalMs: 1000,
			DefaultSymbols:       []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA", "NFLX"},
			InitialSymbols:       []string{"AAPL", "MSFT", "GOOGL", "TSLA"},
			OfflineEnabled:       true,
		},
		Store: StoreConfig{
			Sqlite: SqliteConfig{Path: "data/app.db"},
		},
		BriefAgent: BriefAgentConfig{
			Enabled:   false,
			Model:     "gpt-4.1-mini",
			TimeoutMs: 10000,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Market.Endpoints) == 0 {
		return errors.New("market.endpoints must not be empty")
	}
	if c.Market.Concurrency < 0 {
		return fmt.Errorf("invalid market.concurrency: %d", c.Market.Concurrency)
	}
	if c.Market.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid market.requests_per_second: %v", c.Market.RequestsPerSecond)
	}
	if c.Store.Sqlite.Path == "" {
		return errors.New("store.sqlite.path must not be empty")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("QUOTE_ENDPOINTS"); v != "" {
		cfg.Market.Endpoints = splitCSV(v)
	}
	if v, ok := os.LookupEnv("QUOTE_PROXIES"); ok {
		cfg.Market.Proxies = splitCSV(v)
	}
	if v := os.Getenv("QUOTE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid QUOTE_CONCURRENCY: %q", v)
		}
		cfg.Market.Concurrency = n
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Store.Sqlite.Path = v
	}
	if v := os.Getenv("BRIEF_AGENT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BRIEF_AGENT_ENABLED: %q", v)
		}
		cfg.BriefAgent.Enabled = b
	}
	return nil
}

// splitCSV drops blank items; an empty QUOTE_PROXIES therefore disables proxies.
func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
