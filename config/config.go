package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DebugMode enables verbose diagnostic logging across the bridge.
var DebugMode = os.Getenv("SB_DEBUG") == "1"

type Config struct {
	Providers []string        `yaml:"providers"`
	Transport TransportConfig `yaml:"transport"`
	Emulation EmulationConfig `yaml:"emulation"`
	Feed      FeedConfig      `yaml:"feed"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TransportConfig struct {
	RetryLimit    int           `yaml:"retry_limit"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	QueueOutbound bool          `yaml:"queue_outbound"`
	PingInterval  time.Duration `yaml:"ping_interval"`
}

type EmulationConfig struct {
	TickerPeriod time.Duration `yaml:"ticker_period"`
	TradesPeriod time.Duration `yaml:"trades_period"`
	KlinePeriod  time.Duration `yaml:"kline_period"`
	// Requests per second against a provider's REST api, shared between
	// emulation polls and snapshot fetches.
	RestRateLimit float64 `yaml:"rest_rate_limit"`
}

type FeedConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func Default() *Config {
	return &Config{
		Providers: []string{"binance", "kucoin"},
		Transport: TransportConfig{
			RetryLimit:    5,
			RetryDelay:    3 * time.Second,
			QueueOutbound: true,
			PingInterval:  15 * time.Second,
		},
		Emulation: EmulationConfig{
			TickerPeriod:  5 * time.Second,
			TradesPeriod:  10 * time.Second,
			KlinePeriod:   30 * time.Second,
			RestRateLimit: 5,
		},
		Feed: FeedConfig{
			BufferSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Load reads the optional yaml config file and the process environment.
// A missing file is not an error: the defaults already describe a working setup.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be enabled")
	}
	if c.Transport.RetryLimit < 1 {
		return fmt.Errorf("config: transport retry_limit must be positive")
	}
	if c.Feed.BufferSize < 1 {
		return fmt.Errorf("config: feed buffer_size must be positive")
	}
	return nil
}
