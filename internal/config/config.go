// Package config loads rotorcore's rotation policy from environment
// variables, validating it down to a safe baseline on any invariant
// violation rather than failing to start.
package config

import (
	"os"
	"strconv"

	"dario.cat/mergo"

	. "github.com/rotorcore/rotorcore/internal/logging"
)

// Rotation holds the rotation feature's policy knobs.
type Rotation struct {
	Enabled             bool
	MaxConcurrentModels int
	RotationTimeoutMs   int
	RetryAttempts       int
	RetryDelayMs        int
}

// Thresholds holds memory-pressure percentages. Invariant:
// 0 <= Warning < Critical < Cleanup <= 100.
type Thresholds struct {
	Warning  int
	Critical int
	Cleanup  int
}

// Queue holds the bounded-queue policy.
type Queue struct {
	MaxSize              int
	ProcessingIntervalMs int
}

// Config is the validated, immutable rotation policy for one process.
type Config struct {
	Rotation   Rotation
	Thresholds Thresholds
	Queue      Queue
}

// defaults returns the documented baseline configuration.
func defaults() Config {
	return Config{
		Rotation: Rotation{
			Enabled:             true,
			MaxConcurrentModels: 1,
			RotationTimeoutMs:   30_000,
			RetryAttempts:       3,
			RetryDelayMs:        1_000,
		},
		Thresholds: Thresholds{
			Warning:  70,
			Critical: 85,
			Cleanup:  95,
		},
		Queue: Queue{
			MaxSize:              100,
			ProcessingIntervalMs: 5_000,
		},
	}
}

// safeBaseline is the fallback used when a composite invariant fails:
// rotation is disabled but every other field stays at a valid default so
// the rest of the core can still be constructed.
func safeBaseline() Config {
	c := defaults()
	c.Rotation.Enabled = false
	return c
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		L_warn("config: invalid integer, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}

func getenvBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		L_warn("config: invalid boolean, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}

// fromEnv reads the recognized environment variables into a partial Config.
// Per-field parse failures fall back to the documented default for that
// field individually; they do not by themselves disable rotation.
func fromEnv() Config {
	d := defaults()

	return Config{
		Rotation: Rotation{
			Enabled:             getenvBool("MODEL_ROTATION_ENABLED", d.Rotation.Enabled),
			MaxConcurrentModels: getenvInt("MAX_CONCURRENT_MODELS", d.Rotation.MaxConcurrentModels),
			RotationTimeoutMs:   getenvInt("ROTATION_TIMEOUT_MS", d.Rotation.RotationTimeoutMs),
			RetryAttempts:       getenvInt("ROTATION_RETRY_ATTEMPTS", d.Rotation.RetryAttempts),
			RetryDelayMs:        getenvInt("ROTATION_RETRY_DELAY_MS", d.Rotation.RetryDelayMs),
		},
		Thresholds: Thresholds{
			Warning:  getenvInt("MEMORY_WARNING_THRESHOLD", d.Thresholds.Warning),
			Critical: getenvInt("MEMORY_CRITICAL_THRESHOLD", d.Thresholds.Critical),
			Cleanup:  getenvInt("MEMORY_CLEANUP_THRESHOLD", d.Thresholds.Cleanup),
		},
		Queue: Queue{
			MaxSize:              getenvInt("MAX_QUEUE_SIZE", d.Queue.MaxSize),
			ProcessingIntervalMs: getenvInt("QUEUE_PROCESSING_INTERVAL_MS", d.Queue.ProcessingIntervalMs),
		},
	}
}

// Load reads rotation policy from the environment, layering it over
// documented defaults with mergo, then validates the composite invariants.
// fromEnv already resolves each field against its own default, so the
// merge must overwrite with zero values too (mergo.WithOverride alone
// treats an env-set false/0 as "unset" and keeps the default) — otherwise
// MODEL_ROTATION_ENABLED=false or ROTATION_RETRY_ATTEMPTS=0 would be
// silently ignored. On invariant failure it logs a warning and returns the
// safe baseline (rotation disabled) rather than an error: config problems
// must never prevent the process from starting.
func Load() Config {
	cfg := defaults()
	parsed := fromEnv()

	if err := mergo.Merge(&cfg, parsed, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
		L_warn("config: merge failed, using defaults", "error", err)
		return defaults()
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		L_warn("config: invariant violation, falling back to safe baseline", "errors", errs)
		return safeBaseline()
	}

	return cfg
}

// Validate reports every composite invariant the config violates. An empty
// result means the config is safe to use as-is.
func (c Config) Validate() []string {
	var errs []string

	if c.Rotation.MaxConcurrentModels <= 0 {
		errs = append(errs, "rotation.maxConcurrentModels must be positive")
	}
	if c.Rotation.RotationTimeoutMs <= 0 {
		errs = append(errs, "rotation.rotationTimeoutMs must be positive")
	}
	if c.Rotation.RetryAttempts < 0 {
		errs = append(errs, "rotation.retryAttempts must not be negative")
	}
	if c.Rotation.RetryDelayMs < 0 {
		errs = append(errs, "rotation.retryDelayMs must not be negative")
	}

	if !(0 <= c.Thresholds.Warning && c.Thresholds.Warning < c.Thresholds.Critical &&
		c.Thresholds.Critical < c.Thresholds.Cleanup && c.Thresholds.Cleanup <= 100) {
		errs = append(errs, "thresholds must satisfy 0 <= warning < critical < cleanup <= 100")
	}

	if c.Queue.MaxSize <= 0 {
		errs = append(errs, "queue.maxSize must be positive")
	}
	if c.Queue.ProcessingIntervalMs <= 0 {
		errs = append(errs, "queue.processingIntervalMs must be positive")
	}

	return errs
}

// GetRotation returns the rotation policy.
func (c Config) GetRotation() Rotation { return c.Rotation }

// GetThresholds returns the memory-pressure thresholds.
func (c Config) GetThresholds() Thresholds { return c.Thresholds }

// GetQueue returns the queue policy.
func (c Config) GetQueue() Queue { return c.Queue }
