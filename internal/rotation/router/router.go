package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	. "github.com/rotorcore/rotorcore/internal/logging"
	. "github.com/rotorcore/rotorcore/internal/metrics"
	"github.com/rotorcore/rotorcore/internal/rotation"
)

// Router translates model identifiers to providers and forwards
// generation/streaming calls, per spec.md §4.5.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider            // provider name -> provider
	models    map[string]map[string]struct{} // provider name -> last known model set
	explicit  map[string]string              // model name -> provider name
}

// New returns an empty Router.
func New() *Router {
	return &Router{
		providers: make(map[string]Provider),
		models:    make(map[string]map[string]struct{}),
		explicit:  make(map[string]string),
	}
}

// Register adds p and refreshes its model list. Go's interfaces already
// enforce every method is present at compile time, so the capability check
// only needs to guard against a nil provider.
func (r *Router) Register(ctx context.Context, p Provider) error {
	if p == nil {
		return fmt.Errorf("router: cannot register a nil provider")
	}

	r.mu.Lock()
	r.providers[p.Name()] = p
	r.mu.Unlock()

	r.refreshOne(ctx, p)
	L_info("router: provider registered", "provider", p.Name())
	return nil
}

// Unregister drops a provider and any explicit mappings pointing at it.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.providers, name)
	delete(r.models, name)
	for model, provider := range r.explicit {
		if provider == name {
			delete(r.explicit, model)
		}
	}
	L_info("router: provider unregistered", "provider", name)
}

// resolve implements spec.md §4.5's resolution algorithm.
func (r *Router) resolve(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if providerName, ok := r.explicit[name]; ok {
		if p, ok := r.providers[providerName]; ok {
			return p, true
		}
	}

	for providerName, p := range r.providers {
		prefix := p.Prefix()
		if prefix == "" || !strings.HasPrefix(name, prefix) {
			continue
		}
		unprefixed := strings.TrimPrefix(name, prefix)
		if _, known := r.models[providerName][unprefixed]; known {
			return p, true
		}
	}

	return nil, false
}

// SetExplicit pins name to always resolve to the named provider.
func (r *Router) SetExplicit(name, providerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.explicit[name] = providerName
}

// RemoveExplicit clears a pinned mapping, if present.
func (r *Router) RemoveExplicit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.explicit, name)
}

// Generate resolves model, then dispatches. Back-end errors are wrapped as
// a rotation.ProviderError carrying the provider's name.
func (r *Router) Generate(ctx context.Context, model, prompt string, history []Message, opts StreamOptions) (string, error) {
	p, ok := r.resolve(model)
	if !ok {
		return "", rotation.NewRotationError(rotation.ErrModelNotFound, "no provider for model", model, "generate")
	}

	handle := MetricTimingStart("router/generate")
	defer MetricTimingEnd(handle, "router/generate")

	out, err := p.Generate(ctx, model, prompt, history, opts)
	if err != nil {
		MetricIncr("router/generate_errors")
		return "", rotation.NewProviderError(p.Name(), err)
	}
	return out, nil
}

// Stream resolves model, then forwards chunks in order. If ctx is
// cancelled, the router stops forwarding further chunks; already-delivered
// output is not retracted.
func (r *Router) Stream(ctx context.Context, model, prompt string, history []Message, opts StreamOptions) (<-chan Chunk, error) {
	p, ok := r.resolve(model)
	if !ok {
		return nil, rotation.NewRotationError(rotation.ErrModelNotFound, "no provider for model", model, "stream")
	}

	upstream, err := p.Stream(ctx, model, prompt, history, opts)
	if err != nil {
		return nil, rotation.NewProviderError(p.Name(), err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-upstream:
				if !ok {
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
				if chunk.Done {
					return
				}
			}
		}
	}()
	return out, nil
}

// ListAll returns the union of every provider's ListModels, each annotated
// with its provider. A failing provider is logged and skipped, not fatal.
func (r *Router) ListAll(ctx context.Context) []AnnotatedModel {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	var out []AnnotatedModel
	for _, p := range providers {
		models, err := p.ListModels(ctx)
		if err != nil {
			L_warn("router: listModels failed", "provider", p.Name(), "error", err)
			continue
		}
		for _, m := range models {
			out = append(out, AnnotatedModel{ModelInfo: m, Provider: p.Name()})
		}
	}
	return out
}

// AnnotatedModel is one ListModels entry tagged with its owning provider.
type AnnotatedModel struct {
	ModelInfo
	Provider string
}

// RefreshMappings re-runs ListModels on every registered provider.
func (r *Router) RefreshMappings(ctx context.Context) {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	for _, p := range providers {
		r.refreshOne(ctx, p)
	}
}

func (r *Router) refreshOne(ctx context.Context, p Provider) {
	models, err := p.ListModels(ctx)
	if err != nil {
		L_warn("router: refresh failed", "provider", p.Name(), "error", err)
		return
	}

	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		set[m.Name] = struct{}{}
	}

	r.mu.Lock()
	r.models[p.Name()] = set
	r.mu.Unlock()
}

// Exists looks up providerName and asks it whether model exists.
func (r *Router) Exists(ctx context.Context, providerName, model string) bool {
	r.mu.RLock()
	p, ok := r.providers[providerName]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return p.Exists(ctx, model)
}

// Load resolves providerName and loads model on it.
func (r *Router) Load(ctx context.Context, providerName, model string) error {
	r.mu.RLock()
	p, ok := r.providers[providerName]
	r.mu.RUnlock()
	if !ok {
		return rotation.NewRotationError(rotation.ErrModelNotFound, "no such provider", model, "load")
	}
	return p.Load(ctx, model)
}

// Unload resolves providerName and unloads model on it. Idempotent.
func (r *Router) Unload(ctx context.Context, providerName, model string) error {
	r.mu.RLock()
	p, ok := r.providers[providerName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.Unload(ctx, model)
}

// ModelBytes returns providerName's best-effort resident-size estimate for
// model, from its ListModels report, or 0 if the provider, model, or
// estimate is unknown.
func (r *Router) ModelBytes(ctx context.Context, providerName, model string) int64 {
	r.mu.RLock()
	p, ok := r.providers[providerName]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	models, err := p.ListModels(ctx)
	if err != nil {
		return 0
	}
	for _, m := range models {
		if m.Name == model {
			return m.ContextBytes
		}
	}
	return 0
}

// Providers returns every registered provider, for callers (e.g.
// StateTracker.SyncFromProviders) that need to enumerate them.
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
