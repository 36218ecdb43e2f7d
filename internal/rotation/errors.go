package rotation

import (
	"fmt"
	"time"
)

// ErrorCode tags a RotationError for dispatch and retry decisions. Errors
// are tagged values, not parsed text.
type ErrorCode string

const (
	ErrInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrModelNotFound          ErrorCode = "MODEL_NOT_FOUND"
	ErrQueueFull              ErrorCode = "QUEUE_FULL"
	ErrModelLoadFailed        ErrorCode = "MODEL_LOAD_FAILED"
	ErrModelUnloadFailed      ErrorCode = "MODEL_UNLOAD_FAILED"
	ErrTimeout                ErrorCode = "TIMEOUT"
	ErrMemoryExhausted        ErrorCode = "MEMORY_EXHAUSTED"
	ErrConfigurationError     ErrorCode = "CONFIGURATION_ERROR"
	ErrEmergencyCleanupFailed ErrorCode = "EMERGENCY_CLEANUP_FAILED"
)

// RotationError is the tagged error value surfaced by Orchestrator/Queue/Router
// public operations.
type RotationError struct {
	Code      ErrorCode
	Message   string
	ModelName string
	Operation string
	Timestamp time.Time
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("%s: %s (model=%s, op=%s)", e.Code, e.Message, e.ModelName, e.Operation)
}

// NewRotationError builds a RotationError stamped with the current time.
func NewRotationError(code ErrorCode, message, modelName, operation string) *RotationError {
	return &RotationError{
		Code:      code,
		Message:   message,
		ModelName: modelName,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// IsRetryable reports whether the Orchestrator's retry loop should attempt
// this class of error again. Validation, resolution, and capacity errors
// are never retried within a single drain; transient back-end errors are.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case ErrTimeout, ErrModelLoadFailed:
		return true
	default:
		return false
	}
}

// ProviderError wraps a back-end failure with the provider that produced it.
type ProviderError struct {
	ProviderName string
	Cause        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.ProviderName, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps cause with the provider that produced it. Returns
// nil if cause is nil, so call sites can write
// `if err := p.load(name); err != nil { return NewProviderError(p.Name(), err) }`
// without an extra nil check.
func NewProviderError(providerName string, cause error) *ProviderError {
	if cause == nil {
		return nil
	}
	return &ProviderError{ProviderName: providerName, Cause: cause}
}
