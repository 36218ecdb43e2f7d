package rotation

import (
	"context"
	"testing"

	"github.com/rotorcore/rotorcore/internal/config"
	"github.com/rotorcore/rotorcore/internal/rotation/router"
)

type fakeCoreProvider struct {
	name     string
	prefix   string
	resident map[string]bool
}

func newFakeCoreProvider(name, prefix string) *fakeCoreProvider {
	return &fakeCoreProvider{name: name, prefix: prefix, resident: make(map[string]bool)}
}

func (f *fakeCoreProvider) Name() string   { return f.name }
func (f *fakeCoreProvider) Prefix() string { return f.prefix }

func (f *fakeCoreProvider) Initialize(ctx context.Context) error  { return nil }
func (f *fakeCoreProvider) Shutdown(ctx context.Context) error    { return nil }
func (f *fakeCoreProvider) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeCoreProvider) ListModels(ctx context.Context) ([]router.ModelInfo, error) {
	return []router.ModelInfo{{Name: "m1"}}, nil
}
func (f *fakeCoreProvider) Exists(ctx context.Context, name string) bool { return true }

func (f *fakeCoreProvider) Load(ctx context.Context, name string) error {
	f.resident[name] = true
	return nil
}
func (f *fakeCoreProvider) Unload(ctx context.Context, name string) error {
	delete(f.resident, name)
	return nil
}

func (f *fakeCoreProvider) Generate(ctx context.Context, name, prompt string, history []router.Message, opts router.StreamOptions) (string, error) {
	return "ok:" + prompt, nil
}

func (f *fakeCoreProvider) Stream(ctx context.Context, name, prompt string, history []router.Message, opts router.StreamOptions) (<-chan router.Chunk, error) {
	out := make(chan router.Chunk, 1)
	out <- router.Chunk{Text: "ok", Done: true}
	close(out)
	return out, nil
}

func (f *fakeCoreProvider) ResidentModels() []string {
	out := make([]string, 0, len(f.resident))
	for n := range f.resident {
		out = append(out, n)
	}
	return out
}

func testCore(t *testing.T) (*Core, *fakeCoreProvider) {
	t.Helper()
	cfg := config.Config{
		Rotation:   config.Rotation{Enabled: true, MaxConcurrentModels: 1, RotationTimeoutMs: 1000, RetryAttempts: 1, RetryDelayMs: 1},
		Thresholds: config.Thresholds{Warning: 70, Critical: 85, Cleanup: 95},
		Queue:      config.Queue{MaxSize: 10, ProcessingIntervalMs: 60_000},
	}
	core := NewCore(cfg)
	p := newFakeCoreProvider("daemon", "daemon:")
	if err := core.RegisterProvider(context.Background(), p); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	return core, p
}

func TestCoreForceRotationUpdatesStatus(t *testing.T) {
	core, _ := testCore(t)

	_, err := core.ForceRotation(context.Background(), "daemon", "m1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := core.Status()
	if status.Active["daemon"] != "m1" {
		t.Errorf("Active[daemon] = %q, want m1", status.Active["daemon"])
	}
}

func TestCoreGenerateRoutesThroughRegisteredProvider(t *testing.T) {
	core, _ := testCore(t)

	out, err := core.Generate(context.Background(), "daemon:m1", "hello", nil, router.StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok:hello" {
		t.Errorf("Generate = %q, want ok:hello", out)
	}
}

func TestCoreValidateConfigAcceptsValidConfig(t *testing.T) {
	core, _ := testCore(t)
	report := core.ValidateConfig()
	if !report.IsValid {
		t.Errorf("expected valid config, got errors: %v", report.Errors)
	}
}

func TestCoreListAllModelsUnionsProviders(t *testing.T) {
	core, _ := testCore(t)
	models := core.ListAllModels(context.Background())
	if len(models) != 1 || models[0].Provider != "daemon" {
		t.Errorf("unexpected models: %+v", models)
	}
}

func TestCoreEmergencyCleanupUnloadsActive(t *testing.T) {
	core, p := testCore(t)

	if _, err := core.ForceRotation(context.Background(), "daemon", "m1", "test"); err != nil {
		t.Fatalf("force rotation: %v", err)
	}

	out := core.EmergencyCleanup(context.Background())
	if !out.Success {
		t.Errorf("expected successful cleanup")
	}
	if p.resident["m1"] {
		t.Errorf("expected m1 unloaded after emergency cleanup")
	}
}
