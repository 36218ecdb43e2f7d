// Package router holds the Router, the Provider capability contract, and
// the two concrete providers shipped with rotorcore: a daemon (HTTP API)
// backend and an in-process (cgo-bound) backend.
package router

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional Provider capabilities a given
// backend doesn't implement.
var ErrNotSupported = errors.New("router: capability not supported by this provider")

// ModelInfo describes one model a provider reports via ListModels.
type ModelInfo struct {
	Name         string
	Capabilities Capabilities
	ContextBytes int64 // best-effort resident-size estimate, 0 if unknown
}

// Capabilities describes what a specific model supports.
type Capabilities struct {
	Vision    bool
	ToolUse   bool
	Streaming bool
}

// StreamOptions configures a Stream call.
type StreamOptions struct {
	MaxTokens   int
	Temperature float64
	Vision      bool
}

// Chunk is one piece of a streamed generation.
type Chunk struct {
	Text string
	Done bool
}

// Provider is the capability set the Router dispatches against. A provider
// is free to realize these however it wants (in-process inference, RPC,
// local HTTP daemon); the Router never inspects provider internals.
type Provider interface {
	// Name returns the provider's registered identifier.
	Name() string
	// Prefix returns the model-identifier prefix this provider claims
	// (e.g. "daemon:"), or "" if it claims none.
	Prefix() string

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// ListModels returns every model this provider currently knows about.
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// Exists reports whether name is a model this provider can load.
	Exists(ctx context.Context, name string) bool

	// Load and Unload are idempotent; a provider that loads on demand may
	// make either a no-op.
	Load(ctx context.Context, name string) error
	Unload(ctx context.Context, name string) error

	Generate(ctx context.Context, name, prompt string, history []Message, opts StreamOptions) (string, error)
	Stream(ctx context.Context, name, prompt string, history []Message, opts StreamOptions) (<-chan Chunk, error)

	// ResidentModels reports models currently held resident by this
	// provider, for StateTracker.SyncFromProviders after a restart.
	ResidentModels() []string
}

// Message is one turn of conversation history passed to Generate/Stream.
type Message struct {
	Role    string
	Content string
}
