package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application settings. After LoadConfig, sensitive fields
// may be overridden via environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Samco struct {
			RestURL   string `yaml:"rest_url"`
			StreamURL string `yaml:"stream_url"`
			UserID    string `yaml:"user_id"`
			Password  string `yaml:"password"`
			YOB       string `yaml:"yob"` // year of birth, second auth factor
		} `yaml:"samco"`
	} `yaml:"api"`

	Broker struct {
		PollIntervalMS      int   `yaml:"poll_interval_ms"`
		ConnectTimeoutSec   int   `yaml:"connect_timeout_sec"`
		WatchdogIntervalSec int   `yaml:"watchdog_interval_sec"`
		OrderFeeINR         int64 `yaml:"order_fee_inr"` // flat fee per executed order
	} `yaml:"broker"`

	Symbols struct {
		MasterPath string `yaml:"master_path"` // instrument master CSV
	} `yaml:"symbols"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the /metrics listener
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies env overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.PollIntervalMS == 0 {
		c.Broker.PollIntervalMS = 500
	}
	if c.Broker.ConnectTimeoutSec == 0 {
		c.Broker.ConnectTimeoutSec = 30
	}
	if c.Broker.WatchdogIntervalSec == 0 {
		c.Broker.WatchdogIntervalSec = 60
	}
	if c.Broker.OrderFeeINR == 0 {
		c.Broker.OrderFeeINR = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// PollInterval returns the order poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Broker.PollIntervalMS) * time.Millisecond
}

// ConnectTimeout returns the session connect timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeoutSec) * time.Second
}

// WatchdogInterval returns the watchdog tick interval as a duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Broker.WatchdogIntervalSec) * time.Second
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if !hasPrefix(c.API.Samco.RestURL, "http://") && !hasPrefix(c.API.Samco.RestURL, "https://") {
		return fmt.Errorf("invalid Samco REST URL: %s", c.API.Samco.RestURL)
	}
	if !hasPrefix(c.API.Samco.StreamURL, "ws://") && !hasPrefix(c.API.Samco.StreamURL, "wss://") {
		return fmt.Errorf("invalid Samco stream URL: %s", c.API.Samco.StreamURL)
	}
	if c.Symbols.MasterPath == "" {
		return fmt.Errorf("symbol master path is required")
	}
	if c.Broker.PollIntervalMS <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv applies environment variables on top of file values so
// credentials never need to live in the config file.
func overrideWithEnv(cfg *Config) {
	if cfg.API.Samco.Password != "" {
		fmt.Println("⚠️  SECURITY WARNING: broker password found in config file.")
		fmt.Println("   Recommendation: use SAMCO_USER_ID / SAMCO_PASSWORD / SAMCO_YOB instead.")
	}

	if v := os.Getenv("SAMCO_USER_ID"); v != "" {
		cfg.API.Samco.UserID = v
	}
	if v := os.Getenv("SAMCO_PASSWORD"); v != "" {
		cfg.API.Samco.Password = v
	}
	if v := os.Getenv("SAMCO_YOB"); v != "" {
		cfg.API.Samco.YOB = v
	}
}
