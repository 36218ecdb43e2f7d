package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	. "github.com/rotorcore/rotorcore/internal/logging"
	"github.com/rotorcore/rotorcore/internal/metadata"
)

// DaemonProvider talks to a local model-serving daemon over its HTTP API
// (an Ollama-style local daemon: /api/tags, /api/chat). The
// daemon owns model residency itself; Load/Unload are the spec's required
// no-ops — the provider only updates its own "currently warm" bookkeeping
// so ResidentModels can answer StateTracker.syncFromProviders truthfully.
type DaemonProvider struct {
	name   string
	prefix string
	url    string
	client *http.Client

	mu    sync.RWMutex
	warm  map[string]struct{}
}

// NewDaemonProvider returns a DaemonProvider against baseURL. timeout <= 0
// uses a 300s default, matching local-inference daemons' slow cold starts.
func NewDaemonProvider(name, prefix, baseURL string, timeout time.Duration) *DaemonProvider {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &DaemonProvider{
		name:   name,
		prefix: prefix,
		url:    strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		warm:   make(map[string]struct{}),
	}
}

func (d *DaemonProvider) Name() string   { return d.name }
func (d *DaemonProvider) Prefix() string { return d.prefix }

func (d *DaemonProvider) Initialize(ctx context.Context) error {
	return d.HealthCheck(ctx)
}

func (d *DaemonProvider) Shutdown(ctx context.Context) error {
	return nil
}

func (d *DaemonProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon health check: status %d", resp.StatusCode)
	}
	return nil
}

type daemonTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (d *DaemonProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("daemon list models: status %d: %s", resp.StatusCode, string(body))
	}

	var tags daemonTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("daemon list models: decode: %w", err)
	}

	out := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		cat, _ := metadata.Get().GetModel(d.name, m.Name)
		caps := Capabilities{}
		if cat != nil {
			caps = Capabilities{Vision: cat.Capabilities.Vision, ToolUse: cat.Capabilities.ToolUse, Streaming: cat.Capabilities.Streaming}
		}
		out = append(out, ModelInfo{Name: m.Name, Capabilities: caps})
	}
	return out, nil
}

func (d *DaemonProvider) Exists(ctx context.Context, name string) bool {
	models, err := d.ListModels(ctx)
	if err != nil {
		L_warn("daemonprovider: exists check failed", "provider", d.name, "error", err)
		return false
	}
	for _, m := range models {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Load is a no-op: the daemon loads models on first use. Bookkeeping only.
func (d *DaemonProvider) Load(ctx context.Context, name string) error {
	d.mu.Lock()
	d.warm[name] = struct{}{}
	d.mu.Unlock()
	return nil
}

// Unload is an idempotent no-op: the daemon has no true unload verb.
// Bookkeeping only — StateTracker/ActiveMap are the real source of truth
// for "active".
func (d *DaemonProvider) Unload(ctx context.Context, name string) error {
	d.mu.Lock()
	delete(d.warm, name)
	d.mu.Unlock()
	return nil
}

func (d *DaemonProvider) ResidentModels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.warm))
	for name := range d.warm {
		out = append(out, name)
	}
	return out
}

type daemonChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type daemonChatRequest struct {
	Model    string              `json:"model"`
	Messages []daemonChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type daemonChatResponse struct {
	Message daemonChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func toDaemonMessages(prompt string, history []Message) []daemonChatMessage {
	msgs := make([]daemonChatMessage, 0, len(history)+1)
	for _, h := range history {
		msgs = append(msgs, daemonChatMessage{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, daemonChatMessage{Role: "user", Content: prompt})
	return msgs
}

func (d *DaemonProvider) Generate(ctx context.Context, name, prompt string, history []Message, opts StreamOptions) (string, error) {
	body := daemonChatRequest{Model: name, Messages: toDaemonMessages(prompt, history), Stream: false}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("daemon generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("daemon generate: status %d: %s", resp.StatusCode, string(b))
	}

	var out daemonChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("daemon generate: decode: %w", err)
	}

	d.mu.Lock()
	d.warm[name] = struct{}{}
	d.mu.Unlock()

	return out.Message.Content, nil
}

func (d *DaemonProvider) Stream(ctx context.Context, name, prompt string, history []Message, opts StreamOptions) (<-chan Chunk, error) {
	body := daemonChatRequest{Model: name, Messages: toDaemonMessages(prompt, history), Stream: true}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("daemon stream: status %d: %s", resp.StatusCode, string(b))
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var piece daemonChatResponse
			if err := json.Unmarshal(line, &piece); err != nil {
				L_warn("daemonprovider: stream decode failed", "provider", d.name, "error", err)
				return
			}

			select {
			case out <- Chunk{Text: piece.Message.Content, Done: piece.Done}:
			case <-ctx.Done():
				return
			}
			if piece.Done {
				return
			}
		}
	}()

	d.mu.Lock()
	d.warm[name] = struct{}{}
	d.mu.Unlock()

	return out, nil
}
