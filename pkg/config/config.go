package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the ledger service.
type Config struct {
	Port string

	// Database
	DBDriver    string // "sqlite" (default) or "postgres"
	DBPath      string
	DatabaseURL string
	LockTimeout time.Duration

	// Ledger
	Owner            string
	OrderPrefix      string
	OrderDigits      int
	MatchPolicy      string
	CancelPolicy     string
	CompletionPolicy string
	Timezone         string

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Event forwarding; empty brokers disables Kafka.
	KafkaBrokers []string
	KafkaTopic   string

	// HTTP rate limit per client IP
	RateLimitRPS   float64
	RateLimitBurst int

	// Localization
	Language string // "en" or "zh"
}

// fileConfig is the YAML overlay named by LEDGER_CONFIG. Set keys win over the environment.
type fileConfig struct {
	Port     string `yaml:"port"`
	Database struct {
		Driver      string `yaml:"driver"`
		Path        string `yaml:"path"`
		URL         string `yaml:"url"`
		LockTimeout string `yaml:"lock_timeout"`
	} `yaml:"database"`
	Ledger struct {
		Owner            string `yaml:"owner"`
		OrderPrefix      string `yaml:"order_prefix"`
		OrderDigits      int    `yaml:"order_digits"`
		MatchPolicy      string `yaml:"match_policy"`
		CancelPolicy     string `yaml:"cancel_policy"`
		CompletionPolicy string `yaml:"completion_policy"`
		Timezone         string `yaml:"timezone"`
	} `yaml:"ledger"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Language string `yaml:"language"`
}

// Load reads environment variables (optionally via .env) into Config, then applies
// the YAML file named by LEDGER_CONFIG if set.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:           getEnv("DB_PATH", "./data/ledger.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LockTimeout:      getEnvDuration("LEDGER_LOCK_TIMEOUT", 5*time.Second),
		Owner:            getEnv("LEDGER_OWNER", "COMPANY"),
		OrderPrefix:      getEnv("ORDER_PREFIX", "YS"),
		OrderDigits:      getEnvInt("ORDER_DIGITS", 9),
		MatchPolicy:      strings.ToLower(getEnv("MATCH_POLICY", "most_recent")),
		CancelPolicy:     strings.ToLower(getEnv("CANCEL_POLICY", "creation_only")),
		CompletionPolicy: strings.ToLower(getEnv("COMPLETION_POLICY", "matched_leg")),
		Timezone:         getEnv("TIMEZONE", "Local"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "json")),
		KafkaBrokers:     splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "fx-ledger.events"),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 40),
		Language:         getEnv("LANGUAGE", "en"),
	}

	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Port, f.Port)
	set(&c.DBDriver, strings.ToLower(f.Database.Driver))
	set(&c.DBPath, f.Database.Path)
	set(&c.DatabaseURL, f.Database.URL)
	if f.Database.LockTimeout != "" {
		d, err := time.ParseDuration(f.Database.LockTimeout)
		if err != nil {
			return fmt.Errorf("database.lock_timeout: %w", err)
		}
		c.LockTimeout = d
	}
	set(&c.Owner, f.Ledger.Owner)
	set(&c.OrderPrefix, f.Ledger.OrderPrefix)
	if f.Ledger.OrderDigits > 0 {
		c.OrderDigits = f.Ledger.OrderDigits
	}
	set(&c.MatchPolicy, strings.ToLower(f.Ledger.MatchPolicy))
	set(&c.CancelPolicy, strings.ToLower(f.Ledger.CancelPolicy))
	set(&c.CompletionPolicy, strings.ToLower(f.Ledger.CompletionPolicy))
	set(&c.Timezone, f.Ledger.Timezone)
	set(&c.LogLevel, strings.ToLower(f.Log.Level))
	set(&c.LogFormat, strings.ToLower(f.Log.Format))
	if len(f.Kafka.Brokers) > 0 {
		c.KafkaBrokers = f.Kafka.Brokers
	}
	set(&c.KafkaTopic, f.Kafka.Topic)
	set(&c.Language, f.Language)
	return nil
}

// Validate rejects unknown drivers, policies and formats.
func (c *Config) Validate() error {
	oneOf := func(key, v string, allowed ...string) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("%s: %q is not one of %s", key, v, strings.Join(allowed, ", "))
	}
	checks := []error{
		oneOf("DB_DRIVER", c.DBDriver, "sqlite", "postgres"),
		oneOf("MATCH_POLICY", c.MatchPolicy, "most_recent", "oldest_first"),
		oneOf("CANCEL_POLICY", c.CancelPolicy, "creation_only", "net_settlements"),
		oneOf("COMPLETION_POLICY", c.CompletionPolicy, "matched_leg", "both_legs"),
		oneOf("LOG_FORMAT", c.LogFormat, "json", "console"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if c.DBDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
	}
	if c.OrderPrefix == "" || c.OrderDigits <= 0 {
		return fmt.Errorf("ORDER_PREFIX and ORDER_DIGITS must be set")
	}
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("LEDGER_OWNER must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

// DBTarget is the path or DSN handed to the selected driver.
func (c *Config) DBTarget() string {
	if c.DBDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
