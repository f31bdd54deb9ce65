package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inferpay/inferpay/internal/settle"
	"github.com/inferpay/inferpay/internal/subaccount"
	"github.com/inferpay/inferpay/internal/units"
)

var allKeys = []string{
	"CONFIG_FILE", "APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "DATABASE_URL",
	"REDIS_URL", "BROKER_URL", "BROKER_TIMEOUT", "SETTLE_DELAY", "SETTLE_DELAY_SECONDS",
	"SUBACCOUNT_SEED", "SUBACCOUNT_LOW_WATER", "SERVICE_CACHE_TTL", "STREAM_TIMEOUT",
	"CHAT_RATE_LIMIT", "IDEMPOTENCY_TTL", "IDEMPOTENCY_TTL_SECONDS", "SHUTDOWN_TIMEOUT",
	"SHUTDOWN_TIMEOUT_SECONDS", "API_KEY_HASH",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Development() || cfg.Address() != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SettleDelay != settle.DefaultDelay {
		t.Fatalf("expected default settle delay, got %v", cfg.SettleDelay)
	}
	if cfg.Policy.Seed.Cmp(subaccount.DefaultSeed) != 0 || cfg.Policy.LowWater.Cmp(subaccount.DefaultLowWater) != 0 {
		t.Fatalf("unexpected policy %v/%v", cfg.Policy.Seed, cfg.Policy.LowWater)
	}
	if cfg.ChatRateLimit != defaultChatRateLimit || cfg.IdempotencyTTL != defaultIdempotencyTTL {
		t.Fatalf("unexpected limits %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", ":9000")
	t.Setenv("BROKER_URL", "http://bridge:7000/")
	t.Setenv("SETTLE_DELAY_SECONDS", "1")
	t.Setenv("SHUTDOWN_TIMEOUT", "250ms")
	t.Setenv("SUBACCOUNT_SEED", "1")
	t.Setenv("SUBACCOUNT_LOW_WATER", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9000" || cfg.BrokerURL != "http://bridge:7000" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.SettleDelay != time.Second || cfg.ShutdownPeriod != 250*time.Millisecond {
		t.Fatalf("unexpected durations %v %v", cfg.SettleDelay, cfg.ShutdownPeriod)
	}
	if cfg.Policy.Seed.Cmp(units.MustParse("1")) != 0 || cfg.Policy.LowWater.Sign() != 0 {
		t.Fatalf("unexpected policy %v/%v", cfg.Policy.Seed, cfg.Policy.LowWater)
	}
}

func TestLoadFileWithEnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "inferpay.yaml")
	content := "app_name: from-file\nport: 7070\nchat_rate_limit: 5\nstream_timeout: 90s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "from-file" || cfg.ChatRateLimit != 5 || cfg.StreamTimeout != 90*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Port != "6060" {
		t.Fatalf("expected env to win, got port %s", cfg.Port)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad duration":     {"STREAM_TIMEOUT", "soon"},
		"bad seconds":      {"SHUTDOWN_TIMEOUT_SECONDS", "ten"},
		"bad rate":         {"CHAT_RATE_LIMIT", "-1"},
		"bad seed":         {"SUBACCOUNT_SEED", "abc"},
		"threshold ≥ seed": {"SUBACCOUNT_LOW_WATER", "0.5"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}

func TestLoadProductionRequiresBackends(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/inferpay")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without BROKER_URL")
	}

	t.Setenv("BROKER_URL", "http://bridge:7000")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}
