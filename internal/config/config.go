package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inferpay/inferpay/internal/settle"
	"github.com/inferpay/inferpay/internal/subaccount"
	"github.com/inferpay/inferpay/internal/units"
)

const (
	defaultAppName        = "inferpay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultBrokerTimeout  = 30 * time.Second
	defaultServiceTTL     = 5 * time.Minute
	defaultStreamTimeout  = 5 * time.Minute
	defaultChatRateLimit  = 30
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	configFileEnvVar = "CONFIG_FILE"
)

// Config captures application runtime configuration. Values come from the
// environment, falling back to the YAML file named by CONFIG_FILE.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	BrokerURL      string
	BrokerTimeout  time.Duration
	SettleDelay    time.Duration
	Policy         subaccount.Policy
	ServiceTTL     time.Duration
	StreamTimeout  time.Duration
	ChatRateLimit  int
	IdempotencyTTL time.Duration
	ShutdownPeriod time.Duration
	APIKeyHash     string
}

// Development reports whether the app runs in development mode, where the
// database, Redis and a remote broker are optional.
func (c Config) Development() bool {
	return c.AppEnv == defaultAppEnv
}

// Load reads configuration from the environment and the optional file.
func Load() (Config, error) {
	src, err := newSource(os.Getenv(configFileEnvVar))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:     src.get("APP_NAME", defaultAppName),
		AppEnv:      strings.ToLower(src.get("APP_ENV", defaultAppEnv)),
		Port:        src.get("PORT", defaultPort),
		LogLevel:    strings.ToLower(src.get("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL: src.get("DATABASE_URL", ""),
		RedisURL:    src.get("REDIS_URL", ""),
		BrokerURL:   strings.TrimRight(src.get("BROKER_URL", ""), "/"),
		APIKeyHash:  src.get("API_KEY_HASH", ""),
		Policy:      subaccount.DefaultPolicy(),
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"BROKER_TIMEOUT", defaultBrokerTimeout, &cfg.BrokerTimeout},
		{"SETTLE_DELAY", settle.DefaultDelay, &cfg.SettleDelay},
		{"SERVICE_CACHE_TTL", defaultServiceTTL, &cfg.ServiceTTL},
		{"STREAM_TIMEOUT", defaultStreamTimeout, &cfg.StreamTimeout},
		{"IDEMPOTENCY_TTL", defaultIdempotencyTTL, &cfg.IdempotencyTTL},
		{"SHUTDOWN_TIMEOUT", defaultShutdownDelay, &cfg.ShutdownPeriod},
	}
	for _, d := range durations {
		v, err := src.duration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	if v := src.get("CHAT_RATE_LIMIT", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid CHAT_RATE_LIMIT %q", v)
		}
		cfg.ChatRateLimit = n
	} else {
		cfg.ChatRateLimit = defaultChatRateLimit
	}

	if v := src.get("SUBACCOUNT_SEED", ""); v != "" {
		seed, err := units.ParseAmount(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SUBACCOUNT_SEED: %w", err)
		}
		cfg.Policy.Seed = seed
	}
	if v := src.get("SUBACCOUNT_LOW_WATER", ""); v == "0" {
		cfg.Policy.LowWater = new(big.Int)
	} else if v != "" {
		low, err := units.ParseAmount(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SUBACCOUNT_LOW_WATER: %w", err)
		}
		cfg.Policy.LowWater = low
	}
	if err := cfg.Policy.Validate(); err != nil {
		return Config{}, err
	}

	if !cfg.Development() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.BrokerURL == "" {
			return Config{}, fmt.Errorf("BROKER_URL must be set outside development")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// source resolves keys from the environment first, then the config file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return source{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	// file keys may be written as broker_url or BROKER_URL
	for k, v := range values {
		src.file[strings.ToUpper(k)] = v
	}
	return src, nil
}

func (s source) get(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value := s.file[key]; value != "" {
		return value
	}
	return fallback
}

// duration accepts KEY_SECONDS as a plain integer or KEY as a Go duration.
func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	if v := s.get(key+"_SECONDS", ""); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := s.get(key, ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
