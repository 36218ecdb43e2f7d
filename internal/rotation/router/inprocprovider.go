package router

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	. "github.com/rotorcore/rotorcore/internal/logging"
	"github.com/rotorcore/rotorcore/internal/metadata"
)

// residentModel is the cgo-bound handle kept alive while a model is loaded.
type residentModel struct {
	model whisper.Model
}

// InprocProvider wraps a cgo-bound, in-process transformer runtime
// (modeled on whisper.cpp): load(name) constructs the model and keeps the
// handle resident; unload(name) calls its Close(). Unlike the daemon
// provider, residency is real here, so ResidentModels reflects actual
// process state rather than bookkeeping. Exists and the reported size
// (ModelInfo.ContextBytes) come from the model file on disk.
//
// Generate/Stream treat prompt as the path to a local audio sample to
// transcribe — this backend's "generation" is speech-to-text, the one
// capability the wrapped runtime actually performs in-process.
type InprocProvider struct {
	name      string
	prefix    string
	modelsDir string
	language  string
	threads   uint

	mu       sync.RWMutex
	resident map[string]*residentModel
}

// NewInprocProvider returns an InprocProvider that loads model files from modelsDir.
func NewInprocProvider(name, prefix, modelsDir, language string, threads uint) *InprocProvider {
	return &InprocProvider{
		name:      name,
		prefix:    prefix,
		modelsDir: modelsDir,
		language:  language,
		threads:   threads,
		resident:  make(map[string]*residentModel),
	}
}

func (p *InprocProvider) Name() string   { return p.name }
func (p *InprocProvider) Prefix() string { return p.prefix }

func (p *InprocProvider) Initialize(ctx context.Context) error { return nil }

func (p *InprocProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, r := range p.resident {
		if err := r.model.Close(); err != nil {
			L_warn("inprocprovider: close failed during shutdown", "model", name, "error", err)
		}
	}
	p.resident = make(map[string]*residentModel)
	return nil
}

func (p *InprocProvider) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(p.modelsDir); err != nil {
		return fmt.Errorf("inproc models dir unavailable: %w", err)
	}
	return nil
}

func (p *InprocProvider) modelPath(name string) string {
	return filepath.Join(p.modelsDir, name+".bin")
}

func (p *InprocProvider) Exists(ctx context.Context, name string) bool {
	_, err := os.Stat(p.modelPath(name))
	return err == nil
}

func (p *InprocProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	entries, err := os.ReadDir(p.modelsDir)
	if err != nil {
		return nil, fmt.Errorf("inproc list models: %w", err)
	}

	var out []ModelInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".bin")
		cat, _ := metadata.Get().GetModel(p.name, name)
		caps := Capabilities{}
		if cat != nil {
			caps = Capabilities{Vision: cat.Capabilities.Vision, ToolUse: cat.Capabilities.ToolUse, Streaming: cat.Capabilities.Streaming}
		}
		info, statErr := e.Info()
		var size int64
		if statErr == nil {
			size = info.Size()
		}
		out = append(out, ModelInfo{Name: name, Capabilities: caps, ContextBytes: size})
	}
	return out, nil
}

// Load constructs the model in-process and keeps it resident. Idempotent:
// loading an already-resident model is a no-op.
func (p *InprocProvider) Load(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.resident[name]; ok {
		return nil
	}

	path := p.modelPath(name)
	m, err := whisper.New(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}

	L_info("inprocprovider: model loaded", "model", name, "multilingual", m.IsMultilingual())
	p.resident[name] = &residentModel{model: m}
	return nil
}

// Unload releases the resident model's handle. Idempotent: unloading a
// model that isn't resident is a no-op.
func (p *InprocProvider) Unload(ctx context.Context, name string) error {
	p.mu.Lock()
	r, ok := p.resident[name]
	if ok {
		delete(p.resident, name)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	if err := r.model.Close(); err != nil {
		return fmt.Errorf("unload %s: %w", name, err)
	}
	return nil
}

func (p *InprocProvider) ResidentModels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.resident))
	for name := range p.resident {
		out = append(out, name)
	}
	return out
}

// transcribe runs samples through name's resident model and returns the
// concatenated segment text. The caller must hold no locks; transcribe
// acquires its own read lock to fetch the handle.
func (p *InprocProvider) transcribe(name string, samples []float32) (string, error) {
	p.mu.RLock()
	r, ok := p.resident[name]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("model %s not loaded", name)
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	if p.language != "" {
		if err := wctx.SetLanguage(p.language); err != nil {
			L_debug("inprocprovider: set language failed", "language", p.language, "error", err)
		}
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	var sb strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		sb.WriteString(seg.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Generate treats prompt as a path to a 16kHz mono float32 sample file and
// returns its transcription. history and opts are unused by this backend.
func (p *InprocProvider) Generate(ctx context.Context, name, prompt string, history []Message, opts StreamOptions) (string, error) {
	samples, err := loadFloat32Samples(prompt)
	if err != nil {
		return "", err
	}
	return p.transcribe(name, samples)
}

// Stream runs the same transcription as Generate but delivers the result
// as a single terminal chunk: the wrapped runtime produces a complete
// segment list per Process call, not an incremental token stream.
func (p *InprocProvider) Stream(ctx context.Context, name, prompt string, history []Message, opts StreamOptions) (<-chan Chunk, error) {
	out := make(chan Chunk, 1)
	go func() {
		defer close(out)
		text, err := p.Generate(ctx, name, prompt, history, opts)
		if err != nil {
			L_warn("inprocprovider: stream failed", "model", name, "error", err)
			out <- Chunk{Done: true}
			return
		}
		out <- Chunk{Text: text, Done: true}
	}()
	return out, nil
}

// loadFloat32Samples is a minimal stand-in for the teacher's audio decode
// pipeline (ConvertToFloat32): it reads a raw little-endian float32 PCM
// file directly, leaving container/codec decoding to the caller.
func loadFloat32Samples(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("sample file %s has non-multiple-of-4 length", path)
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}
