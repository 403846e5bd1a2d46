package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "MAX_KEYS_PER_BATCH")
	unsetEnvWithCleanup(t, "MAX_USES_PER_KEY")
	unsetEnvWithCleanup(t, "MAX_DEPOSIT_PER_USE")
	unsetEnvWithCleanup(t, "ADMISSION_RATE_LIMIT_PER_MINUTE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.MaxKeysPerBatch != 100 {
		t.Fatalf("expected default batch ceiling 100, got %d", cfg.MaxKeysPerBatch)
	}
	if cfg.MaxUsesPerKey != 10_000 {
		t.Fatalf("expected default uses ceiling 10000, got %d", cfg.MaxUsesPerKey)
	}
	if cfg.MaxDepositPerUse != 1_000_000_000_000_000_000 {
		t.Fatalf("expected default per-use deposit ceiling 1e18, got %d", cfg.MaxDepositPerUse)
	}
	if cfg.AdmissionRateLimitPerMinute != 30 {
		t.Fatalf("expected default admission rate limit 30, got %d", cfg.AdmissionRateLimitPerMinute)
	}
	if cfg.AssetEventQueue != "drop_service.asset_funding" {
		t.Fatalf("unexpected default asset event queue %q", cfg.AssetEventQueue)
	}
}

func TestLoadConfig_UsesDropServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "DROP_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_CapsDefaultComputeBudgetAtCeiling(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DEFAULT_COMPUTE_BUDGET", "500")
	setEnvWithCleanup(t, "MAX_COMPUTE_BUDGET", "100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DefaultComputeBudget != 100 {
		t.Fatalf("expected default budget capped at 100, got %d", cfg.DefaultComputeBudget)
	}
}

func TestLoadConfig_CoercesNegativeRateLimitToDisabled(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "ADMISSION_RATE_LIMIT_PER_MINUTE", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AdmissionRateLimitPerMinute != 0 {
		t.Fatalf("expected negative rate limit coerced to 0, got %d", cfg.AdmissionRateLimitPerMinute)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
