// Package state holds the StateTracker: the authoritative, in-process
// record of which model is active per provider, plus per-model metadata.
package state

import (
	"sync"
	"time"

	. "github.com/rotorcore/rotorcore/internal/logging"
	"github.com/rotorcore/rotorcore/internal/rotation"
)

// ResidentLister is implemented by anything the tracker can ask "which
// models do you currently have resident" of, for syncFromProviders.
type ResidentLister interface {
	Name() string
	ResidentModels() []string
}

// Tracker is the authoritative record of active models and model metadata,
// partitioned by provider. All mutation paths share a single mutex; the
// spec's concurrency model doesn't call for per-provider striping at this
// scale.
type Tracker struct {
	mu       sync.Mutex
	active   rotation.ActiveMap
	metadata map[string]map[string]*rotation.ModelMetadata // provider -> name -> metadata
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		active:   make(rotation.ActiveMap),
		metadata: make(map[string]map[string]*rotation.ModelMetadata),
	}
}

// SetActive upserts metadata for (provider, name), bumps LastUsedAt and
// RequestCount, and marks it the provider's active model. Any previously
// active model for that provider is deactivated but its metadata is kept.
func (t *Tracker) SetActive(provider, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	models, ok := t.metadata[provider]
	if !ok {
		models = make(map[string]*rotation.ModelMetadata)
		t.metadata[provider] = models
	}

	m, ok := models[name]
	if !ok {
		m = &rotation.ModelMetadata{
			Name:     name,
			Provider: provider,
			LoadedAt: now,
		}
		models[name] = m
	}
	m.LastUsedAt = now
	m.RequestCount++

	t.active[provider] = name
}

// GetActive returns the active model name for provider, or "", false if none.
func (t *Tracker) GetActive(provider string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name, ok := t.active[provider]
	return name, ok
}

// GetMetadata returns a copy of the metadata for (provider, name).
func (t *Tracker) GetMetadata(provider, name string) (rotation.ModelMetadata, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	models, ok := t.metadata[provider]
	if !ok {
		return rotation.ModelMetadata{}, false
	}
	m, ok := models[name]
	if !ok {
		return rotation.ModelMetadata{}, false
	}
	return *m, true
}

// GetAllMetadata returns a copy of every known metadata record for provider.
func (t *Tracker) GetAllMetadata(provider string) []rotation.ModelMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()

	models := t.metadata[provider]
	out := make([]rotation.ModelMetadata, 0, len(models))
	for _, m := range models {
		out = append(out, *m)
	}
	return out
}

// IsLoaded reports whether metadata exists for (provider, name).
func (t *Tracker) IsLoaded(provider, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.metadata[provider][name]
	return ok
}

// Remove drops metadata for (provider, name) and, if it was active, clears
// the active entry. Returns whether a record was present.
func (t *Tracker) Remove(provider, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	models, ok := t.metadata[provider]
	if !ok {
		return false
	}
	if _, ok := models[name]; !ok {
		return false
	}
	delete(models, name)

	if t.active[provider] == name {
		delete(t.active, provider)
	}
	return true
}

// LRU returns the name with the minimum LastUsedAt among known models,
// optionally filtered to a single provider. ok is false if no candidate exists.
func (t *Tracker) LRU(provider string) (foundProvider, name string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var oldest time.Time
	providers := []string{provider}
	if provider == "" {
		providers = providers[:0]
		for p := range t.metadata {
			providers = append(providers, p)
		}
	}

	for _, p := range providers {
		for n, m := range t.metadata[p] {
			if !ok || m.LastUsedAt.Before(oldest) {
				foundProvider, name, oldest, ok = p, n, m.LastUsedAt, true
			}
		}
	}
	return
}

// Reset wipes all tracker state. Any read after Reset must observe an
// empty tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = make(rotation.ActiveMap)
	t.metadata = make(map[string]map[string]*rotation.ModelMetadata)
}

// SyncFromProviders asks each provider for its resident models and
// creates/refreshes metadata accordingly. If a provider reports exactly
// one resident model, that provider's active entry is set to it — a
// heuristic recovery of "what was active" after a process restart.
func (t *Tracker) SyncFromProviders(providers []ResidentLister) {
	for _, p := range providers {
		resident := p.ResidentModels()

		t.mu.Lock()
		models, ok := t.metadata[p.Name()]
		if !ok {
			models = make(map[string]*rotation.ModelMetadata)
			t.metadata[p.Name()] = models
		}
		now := time.Now()
		for _, name := range resident {
			if m, ok := models[name]; ok {
				m.LastUsedAt = now
				continue
			}
			models[name] = &rotation.ModelMetadata{
				Name:       name,
				Provider:   p.Name(),
				LoadedAt:   now,
				LastUsedAt: now,
			}
		}
		if len(resident) == 1 {
			t.active[p.Name()] = resident[0]
		}
		t.mu.Unlock()

		L_info("state: synced provider", "provider", p.Name(), "resident", len(resident))
	}
}

// Providers returns every provider name with at least one known metadata record.
func (t *Tracker) Providers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.metadata))
	for p := range t.metadata {
		out = append(out, p)
	}
	return out
}

// RecordError increments the error count for (provider, name), creating a
// metadata record if this is the first time (provider, name) has been
// observed at all (e.g. a model that has never successfully loaded).
func (t *Tracker) RecordError(provider, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	models, ok := t.metadata[provider]
	if !ok {
		models = make(map[string]*rotation.ModelMetadata)
		t.metadata[provider] = models
	}

	m, ok := models[name]
	if !ok {
		m = &rotation.ModelMetadata{Name: name, Provider: provider}
		models[name] = m
	}
	m.ErrorCount++
}

// SetMemoryUsage records a best-effort resident-size estimate for (provider, name).
func (t *Tracker) SetMemoryUsage(provider, name string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m, ok := t.metadata[provider][name]; ok {
		m.MemoryUsage = bytes
	}
}
