package rotation

import (
	"context"

	"github.com/rotorcore/rotorcore/internal/bus"
	"github.com/rotorcore/rotorcore/internal/config"
	. "github.com/rotorcore/rotorcore/internal/logging"
	"github.com/rotorcore/rotorcore/internal/rotation/memmon"
	"github.com/rotorcore/rotorcore/internal/rotation/orchestrator"
	"github.com/rotorcore/rotorcore/internal/rotation/queue"
	"github.com/rotorcore/rotorcore/internal/rotation/router"
	"github.com/rotorcore/rotorcore/internal/rotation/state"
)

// Core is the single rotation aggregate an API layer (CLI, HTTP, RPC) talks
// to. It wires Config, StateTracker, MemoryMonitor, Queue, Router, and
// Orchestrator together and exposes exactly the consumer-facing operation
// set: requestRotation, forceRotation, status, history, failed,
// emergencyCleanup, validateConfig, generate, stream, listAllModels.
type Core struct {
	cfg     config.Config
	tracker *state.Tracker
	monitor *memmon.Monitor
	queue   *queue.Queue
	router  *router.Router
	orch    *orchestrator.Orchestrator
}

// NewCore assembles a Core from cfg, with an empty Router — providers are
// registered afterward via RegisterProvider. The monitor's cleanup
// callback is wired to unload-through-router + tracker.Remove, breaking
// the MemoryMonitor<->provider dependency cycle (the glue registrar role).
func NewCore(cfg config.Config) *Core {
	tracker := state.New()
	q := queue.New(cfg.Queue)
	r := router.New()
	mon := memmon.New(cfg.Thresholds, tracker)
	orch := orchestrator.New(cfg.Rotation, tracker, q, r, mon)

	mon.RegisterCleanupCallback(func(provider, name string) {
		if err := r.Unload(context.Background(), provider, name); err != nil {
			L_warn("core: cleanup-triggered unload failed", "provider", provider, "model", name, "error", err)
		}
	})

	// A default audit-log subscriber so the lifecycle events the
	// Orchestrator and MemoryMonitor publish always have at least one
	// consumer; a future admin surface or metrics exporter can subscribe
	// its own handlers to the same topics independently.
	bus.SubscribeLogger("rotation.loaded", "rotation.evicted", "rotation.failed", "rotation.emergency_cleanup")

	return &Core{cfg: cfg, tracker: tracker, monitor: mon, queue: q, router: r, orch: orch}
}

// RegisterProvider adds a backend to the router and syncs its resident
// models into the tracker, for restart recovery.
func (c *Core) RegisterProvider(ctx context.Context, p router.Provider) error {
	if err := c.router.Register(ctx, p); err != nil {
		return err
	}
	c.tracker.SyncFromProviders([]state.ResidentLister{p})
	return nil
}

// Start begins the queue's periodic draining and the monitor's periodic
// sampling, if rotation is enabled.
func (c *Core) Start() {
	if !c.cfg.Rotation.Enabled {
		L_warn("core: rotation disabled, not starting background processing")
		return
	}
	c.queue.StartAutoProcess(func(req RotationRequest) error {
		_, err := c.orch.Drain(context.Background(), req.Provider, req.ModelName)
		return err
	})
	c.monitor.StartPeriodicSampling(c.cfg.Queue.ProcessingIntervalMs)
}

// Stop cancels background processing.
func (c *Core) Stop() {
	c.queue.StopAutoProcess()
	c.monitor.StopPeriodicSampling()
}

// RequestRotation is spec's requestRotation consumer-facing operation.
func (c *Core) RequestRotation(ctx context.Context, provider, model, source string, priority Priority) (RotationOutcome, *RotationError) {
	return c.orch.RequestRotation(ctx, provider, model, source, priority)
}

// ForceRotation is spec's forceRotation consumer-facing operation.
func (c *Core) ForceRotation(ctx context.Context, provider, model, source string) (RotationOutcome, *RotationError) {
	return c.orch.ForceRotation(ctx, provider, model, source)
}

// Status is the consumer-facing status() result shape.
type Status struct {
	IsRotating       bool
	Active           ActiveMap
	Queue            QueueStatus
	Memory           MemoryStats
	LastHistoryEntry *HistoryEntry
	FailedCount      int
}

// Status is spec's status consumer-facing operation.
func (c *Core) Status() Status {
	s := c.orch.GetStatus()
	return Status{
		IsRotating:       s.IsRotating,
		Active:           s.Active,
		Queue:            s.Queue,
		Memory:           s.Memory,
		LastHistoryEntry: s.LastHistory,
		FailedCount:      s.FailedCount,
	}
}

// History is spec's history(limit) consumer-facing operation.
func (c *Core) History(limit int) []HistoryEntry {
	return c.orch.History(limit)
}

// Failed is spec's failed() consumer-facing operation.
func (c *Core) Failed() []HistoryEntry {
	return c.orch.Failed()
}

// EmergencyCleanup is spec's emergencyCleanup consumer-facing operation.
func (c *Core) EmergencyCleanup(ctx context.Context) RotationOutcome {
	return c.orch.EmergencyCleanup(ctx)
}

// ConfigReport is the shape validateConfig returns.
type ConfigReport struct {
	IsValid  bool
	Errors   []string
	Warnings []string
}

// ValidateConfig is spec's validateConfig consumer-facing operation. It
// re-validates the config Core was built with, plus a couple of soft
// warnings that don't constitute a hard invariant violation.
func (c *Core) ValidateConfig() ConfigReport {
	errs := c.cfg.Validate()

	var warnings []string
	if c.cfg.Rotation.RetryAttempts == 0 {
		warnings = append(warnings, "rotation.retryAttempts is 0: load failures will never retry")
	}
	if c.cfg.Queue.MaxSize < 10 {
		warnings = append(warnings, "queue.maxSize is small: bursts of requests may be rejected as QUEUE_FULL")
	}

	return ConfigReport{IsValid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// Generate is spec's generate consumer-facing operation.
func (c *Core) Generate(ctx context.Context, model, prompt string, history []router.Message, opts router.StreamOptions) (string, error) {
	return c.router.Generate(ctx, model, prompt, history, opts)
}

// Stream is spec's stream consumer-facing operation.
func (c *Core) Stream(ctx context.Context, model, prompt string, history []router.Message, opts router.StreamOptions) (<-chan router.Chunk, error) {
	return c.router.Stream(ctx, model, prompt, history, opts)
}

// ListAllModels is spec's listAllModels consumer-facing operation.
func (c *Core) ListAllModels(ctx context.Context) []router.AnnotatedModel {
	return c.router.ListAll(ctx)
}
