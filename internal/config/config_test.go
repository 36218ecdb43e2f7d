package config

import (
	"os"
	"testing"
)

func clearRotationEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"MODEL_ROTATION_ENABLED", "MAX_CONCURRENT_MODELS", "ROTATION_TIMEOUT_MS",
		"ROTATION_RETRY_ATTEMPTS", "ROTATION_RETRY_DELAY_MS",
		"MEMORY_WARNING_THRESHOLD", "MEMORY_CRITICAL_THRESHOLD", "MEMORY_CLEANUP_THRESHOLD",
		"MAX_QUEUE_SIZE", "QUEUE_PROCESSING_INTERVAL_MS",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadDefaultsWithNoEnv(t *testing.T) {
	clearRotationEnv(t)
	cfg := Load()

	if !cfg.Rotation.Enabled {
		t.Errorf("expected rotation enabled by default")
	}
	if cfg.Rotation.MaxConcurrentModels != 1 {
		t.Errorf("maxConcurrentModels = %d, want 1", cfg.Rotation.MaxConcurrentModels)
	}
	if cfg.Thresholds.Warning != 70 || cfg.Thresholds.Critical != 85 || cfg.Thresholds.Cleanup != 95 {
		t.Errorf("unexpected default thresholds: %+v", cfg.Thresholds)
	}
}

func TestLoadHonorsValidEnvOverrides(t *testing.T) {
	clearRotationEnv(t)
	os.Setenv("MAX_CONCURRENT_MODELS", "3")
	os.Setenv("MEMORY_WARNING_THRESHOLD", "50")
	defer clearRotationEnv(t)

	cfg := Load()
	if cfg.Rotation.MaxConcurrentModels != 3 {
		t.Errorf("maxConcurrentModels = %d, want 3", cfg.Rotation.MaxConcurrentModels)
	}
	if cfg.Thresholds.Warning != 50 {
		t.Errorf("warning = %d, want 50", cfg.Thresholds.Warning)
	}
}

func TestLoadFallsBackPerFieldOnBadInteger(t *testing.T) {
	clearRotationEnv(t)
	os.Setenv("MAX_CONCURRENT_MODELS", "not-a-number")
	defer clearRotationEnv(t)

	cfg := Load()
	if cfg.Rotation.MaxConcurrentModels != 1 {
		t.Errorf("expected default 1 on parse failure, got %d", cfg.Rotation.MaxConcurrentModels)
	}
	if !cfg.Rotation.Enabled {
		t.Errorf("a single bad field should not disable rotation")
	}
}

func TestLoadFallsBackToSafeBaselineOnThresholdOrderViolation(t *testing.T) {
	clearRotationEnv(t)
	os.Setenv("MEMORY_WARNING_THRESHOLD", "90")
	os.Setenv("MEMORY_CRITICAL_THRESHOLD", "85")
	defer clearRotationEnv(t)

	cfg := Load()
	if cfg.Rotation.Enabled {
		t.Errorf("expected rotation disabled on composite invariant violation")
	}
	if cfg.Thresholds.Warning >= cfg.Thresholds.Critical {
		t.Errorf("safe baseline thresholds should themselves be valid: %+v", cfg.Thresholds)
	}
}

func TestLoadFallsBackToSafeBaselineOnNonPositiveQueueSize(t *testing.T) {
	clearRotationEnv(t)
	os.Setenv("MAX_QUEUE_SIZE", "0")
	defer clearRotationEnv(t)

	cfg := Load()
	if cfg.Rotation.Enabled {
		t.Errorf("expected rotation disabled when queue size is non-positive")
	}
	if cfg.Queue.MaxSize <= 0 {
		t.Errorf("safe baseline queue size should be positive, got %d", cfg.Queue.MaxSize)
	}
}

func TestLoadHonorsExplicitDisable(t *testing.T) {
	clearRotationEnv(t)
	os.Setenv("MODEL_ROTATION_ENABLED", "false")
	defer clearRotationEnv(t)

	cfg := Load()
	if cfg.Rotation.Enabled {
		t.Errorf("expected MODEL_ROTATION_ENABLED=false to disable rotation")
	}
}

func TestLoadHonorsZeroRetryAttempts(t *testing.T) {
	clearRotationEnv(t)
	os.Setenv("ROTATION_RETRY_ATTEMPTS", "0")
	defer clearRotationEnv(t)

	cfg := Load()
	if cfg.Rotation.RetryAttempts != 0 {
		t.Errorf("retryAttempts = %d, want 0", cfg.Rotation.RetryAttempts)
	}
	if !cfg.Rotation.Enabled {
		t.Errorf("a zero retry count alone should not disable rotation")
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	bad := Config{
		Rotation:   Rotation{MaxConcurrentModels: -1, RotationTimeoutMs: 0, RetryAttempts: -1, RetryDelayMs: -1},
		Thresholds: Thresholds{Warning: 90, Critical: 50, Cleanup: 10},
		Queue:      Queue{MaxSize: 0, ProcessingIntervalMs: 0},
	}
	errs := bad.Validate()
	if len(errs) == 0 {
		t.Fatalf("expected validation errors for a fully invalid config")
	}
}
