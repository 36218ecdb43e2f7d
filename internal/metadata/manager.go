// Package metadata provides a small embedded catalog of known
// (provider, model) capability records, used to enrich ModelInfo entries
// the router doesn't get directly from a backend.
package metadata

import (
	_ "embed"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	. "github.com/rotorcore/rotorcore/internal/logging"
)

//go:embed catalog.json
var embeddedCatalog []byte

// Manager provides read access to the embedded model catalog.
type Manager struct {
	models ModelsData
	mu     sync.RWMutex
}

var (
	instance *Manager
	once     sync.Once
)

// Get returns the singleton catalog manager.
func Get() *Manager {
	once.Do(func() {
		instance = &Manager{}
		instance.load()
	})
	return instance
}

func (m *Manager) load() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := json.Unmarshal(embeddedCatalog, &m.models); err != nil {
		L_error("metadata: failed to parse embedded catalog.json", "error", err)
		m.models = ModelsData{Providers: make(map[string]*ModelProvider)}
		return
	}

	total := 0
	for _, p := range m.models.Providers {
		total += len(p.Models)
	}
	L_info("metadata: catalog loaded", "providers", len(m.models.Providers), "models", total)
}

// GetModel returns a single model's catalog record.
// Performs exact match first, then bidirectional prefix matching so that
// e.g. "llama3:8b" matches a catalog entry "llama3:8b-instruct" and vice versa.
// On multiple prefix matches, the longest (most specific) catalog ID wins.
func (m *Manager) GetModel(providerID, modelID string) (*Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.models.Providers[providerID]
	if !ok {
		return nil, false
	}
	if model, ok := p.Models[modelID]; ok {
		return model, true
	}
	_, model, ok := fuzzyMatchModel(p.Models, modelID)
	return model, ok
}

func fuzzyMatchModel(models map[string]*Model, modelID string) (string, *Model, bool) {
	var bestID string
	var bestModel *Model

	for id, model := range models {
		matched := strings.HasPrefix(id, modelID) || strings.HasPrefix(modelID, id)
		if matched && (bestModel == nil || len(id) > len(bestID)) {
			bestID = id
			bestModel = model
		}
	}
	if bestModel != nil {
		return bestID, bestModel, true
	}
	return "", nil, false
}

// ContextTokens returns the known context window for a model, or 0 if unknown.
func (m *Manager) ContextTokens(providerID, modelID string) int64 {
	if model, ok := m.GetModel(providerID, modelID); ok {
		return model.ContextTokens
	}
	return 0
}

// SupportsVision returns whether a catalog entry marks a model as accepting images.
func (m *Manager) SupportsVision(providerID, modelID string) bool {
	if model, ok := m.GetModel(providerID, modelID); ok {
		return model.Capabilities.Vision
	}
	return false
}

// SupportsStreaming returns whether a catalog entry marks a model as streamable.
func (m *Manager) SupportsStreaming(providerID, modelID string) bool {
	if model, ok := m.GetModel(providerID, modelID); ok {
		return model.Capabilities.Streaming
	}
	return false
}

// KnownModels returns sorted model IDs known for a provider.
func (m *Manager) KnownModels(providerID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.models.Providers[providerID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(p.Models))
	for id := range p.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
