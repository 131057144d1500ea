package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full set of recognized configuration keys. Every field
// can be overridden by an environment variable named after its key,
// upper-cased, with dots and camelCase word boundaries replaced by
// underscores (e.g. treasury.fee -> TREASURY_FEE, stratum.hostName ->
// STRATUM_HOST_NAME).
type Config struct {
	Node string `yaml:"node"`

	Treasury struct {
		PrivateKey string `yaml:"privateKey"`
		Fee        float64 `yaml:"fee"`
		Rewarding  struct {
			PaymentThreshold int64 `yaml:"paymentThreshold"`
		} `yaml:"rewarding"`
	} `yaml:"treasury"`

	Templates struct {
		Identity  string `yaml:"identity"`
		DAAWindow int    `yaml:"daaWindow"`
	} `yaml:"templates"`

	Stratum struct {
		HostName   string `yaml:"hostName"`
		Port       int    `yaml:"port"`
		Difficulty string `yaml:"difficulty"`
		Vardiff    struct {
			Enabled         bool    `yaml:"enabled"`
			MinDifficulty   float64 `yaml:"minDifficulty"`
			MaxDifficulty   float64 `yaml:"maxDifficulty"`
			TargetTime      float64 `yaml:"targetTime"`
			VariancePercent float64 `yaml:"variancePercent"`
			MaxChange       float64 `yaml:"maxChange"`
			ChangeInterval  float64 `yaml:"changeInterval"`
		} `yaml:"vardiff"`
	} `yaml:"stratum"`

	API struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"api"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
}

// Default returns a Config with the same defaults the pool has run with in
// production: 40-template window, starting difficulty 4096, vardiff
// parameters preset (60s change interval) but vardiff disabled until
// explicitly enabled.
func Default() *Config {
	c := &Config{}
	c.Node = "ws://127.0.0.1:17110"
	c.Templates.DAAWindow = 40
	c.Stratum.HostName = "0.0.0.0"
	c.Stratum.Port = 5555
	c.Stratum.Difficulty = "4096"
	c.Stratum.Vardiff.MinDifficulty = 64
	c.Stratum.Vardiff.MaxDifficulty = 1 << 20
	c.Stratum.Vardiff.TargetTime = 10
	c.Stratum.Vardiff.VariancePercent = 30
	c.Stratum.Vardiff.MaxChange = 2
	c.Stratum.Vardiff.ChangeInterval = 60
	c.Treasury.Rewarding.PaymentThreshold = 1_000_000_000
	return c
}

// Load reads a YAML file at path (if it exists) over the defaults, then
// applies environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Node = GetEnv("NODE", cfg.Node)
	cfg.Treasury.PrivateKey = GetEnv("TREASURY_PRIVATE_KEY", cfg.Treasury.PrivateKey)
	cfg.Treasury.Fee = GetEnvFloat64("TREASURY_FEE", cfg.Treasury.Fee)
	cfg.Treasury.Rewarding.PaymentThreshold = GetEnvInt64("TREASURY_REWARDING_PAYMENT_THRESHOLD", cfg.Treasury.Rewarding.PaymentThreshold)
	cfg.Templates.Identity = GetEnv("TEMPLATES_IDENTITY", cfg.Templates.Identity)
	cfg.Templates.DAAWindow = GetEnvInt("TEMPLATES_DAA_WINDOW", cfg.Templates.DAAWindow)
	cfg.Stratum.HostName = GetEnv("STRATUM_HOST_NAME", cfg.Stratum.HostName)
	cfg.Stratum.Port = GetEnvInt("STRATUM_PORT", cfg.Stratum.Port)
	cfg.Stratum.Difficulty = GetEnv("STRATUM_DIFFICULTY", cfg.Stratum.Difficulty)
	cfg.Stratum.Vardiff.Enabled = GetEnvBool("STRATUM_VARDIFF_ENABLED", cfg.Stratum.Vardiff.Enabled)
	cfg.Stratum.Vardiff.MinDifficulty = GetEnvFloat64("STRATUM_VARDIFF_MIN_DIFFICULTY", cfg.Stratum.Vardiff.MinDifficulty)
	cfg.Stratum.Vardiff.MaxDifficulty = GetEnvFloat64("STRATUM_VARDIFF_MAX_DIFFICULTY", cfg.Stratum.Vardiff.MaxDifficulty)
	cfg.Stratum.Vardiff.TargetTime = GetEnvFloat64("STRATUM_VARDIFF_TARGET_TIME", cfg.Stratum.Vardiff.TargetTime)
	cfg.Stratum.Vardiff.VariancePercent = GetEnvFloat64("STRATUM_VARDIFF_VARIANCE_PERCENT", cfg.Stratum.Vardiff.VariancePercent)
	cfg.Stratum.Vardiff.MaxChange = GetEnvFloat64("STRATUM_VARDIFF_MAX_CHANGE", cfg.Stratum.Vardiff.MaxChange)
	cfg.Stratum.Vardiff.ChangeInterval = GetEnvFloat64("STRATUM_VARDIFF_CHANGE_INTERVAL", cfg.Stratum.Vardiff.ChangeInterval)
	cfg.API.Enabled = GetEnvBool("API_ENABLED", cfg.API.Enabled)
	cfg.API.Port = GetEnvInt("API_PORT", cfg.API.Port)
	cfg.Redis.Addr = GetEnv("REDIS_ADDR", cfg.Redis.Addr)

	return cfg, nil
}

// FeeBps converts the configured percent fee to basis points, per §4.D.
func (c *Config) FeeBps() int64 {
	return int64(c.Treasury.Fee * 100)
}

// VardiffChangeInterval returns the configured change interval as a
// time.Duration for convenience at call sites.
func (c *Config) VardiffChangeInterval() time.Duration {
	return time.Duration(c.Stratum.Vardiff.ChangeInterval * float64(time.Second))
}
