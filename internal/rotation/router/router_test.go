package router

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	name     string
	prefix   string
	models   []ModelInfo
	existsOK bool
	genOut   string
	genErr   error
}

func (f *fakeProvider) Name() string   { return f.name }
func (f *fakeProvider) Prefix() string { return f.prefix }

func (f *fakeProvider) Initialize(ctx context.Context) error  { return nil }
func (f *fakeProvider) Shutdown(ctx context.Context) error    { return nil }
func (f *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeProvider) ListModels(ctx context.Context) ([]ModelInfo, error) { return f.models, nil }
func (f *fakeProvider) Exists(ctx context.Context, name string) bool        { return f.existsOK }

func (f *fakeProvider) Load(ctx context.Context, name string) error   { return nil }
func (f *fakeProvider) Unload(ctx context.Context, name string) error { return nil }

func (f *fakeProvider) Generate(ctx context.Context, name, prompt string, history []Message, opts StreamOptions) (string, error) {
	return f.genOut, f.genErr
}

func (f *fakeProvider) Stream(ctx context.Context, name, prompt string, history []Message, opts StreamOptions) (<-chan Chunk, error) {
	out := make(chan Chunk, 1)
	out <- Chunk{Text: f.genOut, Done: true}
	close(out)
	return out, nil
}

func (f *fakeProvider) ResidentModels() []string { return nil }

func TestResolveByPrefixAfterRegister(t *testing.T) {
	r := New()
	p := &fakeProvider{name: "daemon", prefix: "daemon:", models: []ModelInfo{{Name: "llama3"}}}
	r.Register(context.Background(), p)

	out, err := r.Generate(context.Background(), "daemon:llama3", "hi", nil, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = out
}

func TestResolveUnknownModelReturnsNotFound(t *testing.T) {
	r := New()
	_, err := r.Generate(context.Background(), "nonexistent:model", "hi", nil, StreamOptions{})
	if err == nil {
		t.Fatalf("expected error for unresolvable model")
	}
}

func TestSetExplicitOverridesPrefixResolution(t *testing.T) {
	r := New()
	p1 := &fakeProvider{name: "daemon", prefix: "daemon:", models: []ModelInfo{{Name: "x"}}, genOut: "from-daemon"}
	p2 := &fakeProvider{name: "inproc", prefix: "inproc:", models: []ModelInfo{{Name: "y"}}, genOut: "from-inproc"}
	r.Register(context.Background(), p1)
	r.Register(context.Background(), p2)

	r.SetExplicit("special", "inproc")
	out, err := r.Generate(context.Background(), "special", "hi", nil, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "from-inproc" {
		t.Errorf("Generate = %q, want from-inproc", out)
	}
}

func TestUnregisterDropsProviderAndExplicitMappings(t *testing.T) {
	r := New()
	p := &fakeProvider{name: "daemon", prefix: "daemon:", models: []ModelInfo{{Name: "x"}}}
	r.Register(context.Background(), p)
	r.SetExplicit("alias", "daemon")

	r.Unregister("daemon")

	_, err := r.Generate(context.Background(), "alias", "hi", nil, StreamOptions{})
	if err == nil {
		t.Errorf("expected resolution to fail after unregister dropped the explicit mapping's target")
	}
}

func TestGenerateWrapsBackendErrorWithProviderName(t *testing.T) {
	r := New()
	p := &fakeProvider{name: "daemon", prefix: "daemon:", models: []ModelInfo{{Name: "x"}}, genErr: errors.New("boom")}
	r.Register(context.Background(), p)

	_, err := r.Generate(context.Background(), "daemon:x", "hi", nil, StreamOptions{})
	if err == nil {
		t.Fatalf("expected wrapped error")
	}
}

func TestListAllUnionsAcrossProviders(t *testing.T) {
	r := New()
	p1 := &fakeProvider{name: "daemon", models: []ModelInfo{{Name: "a"}}}
	p2 := &fakeProvider{name: "inproc", models: []ModelInfo{{Name: "b"}}}
	r.Register(context.Background(), p1)
	r.Register(context.Background(), p2)

	all := r.ListAll(context.Background())
	if len(all) != 2 {
		t.Fatalf("expected 2 models across providers, got %d", len(all))
	}
}
