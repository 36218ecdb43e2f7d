// Package orchestrator holds the Orchestrator: the public face of the
// rotation core, coordinating Queue, StateTracker, the Router, and the
// MemoryMonitor to make "model M of provider P is active" true.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rotorcore/rotorcore/internal/bus"
	. "github.com/rotorcore/rotorcore/internal/logging"
	. "github.com/rotorcore/rotorcore/internal/metrics"
	"github.com/rotorcore/rotorcore/internal/ringbuffer"
	"github.com/rotorcore/rotorcore/internal/rotation"
	"github.com/rotorcore/rotorcore/internal/rotation/memmon"
	"github.com/rotorcore/rotorcore/internal/rotation/queue"
	"github.com/rotorcore/rotorcore/internal/rotation/router"
	"github.com/rotorcore/rotorcore/internal/rotation/state"

	"github.com/rotorcore/rotorcore/internal/config"
)

const (
	historyCap = 200
	failedCap  = 50
)

// Orchestrator is the entry point for "ensure model M of provider P is
// active, then serve", per spec.md §4.6.
type Orchestrator struct {
	cfg     config.Rotation
	tracker *state.Tracker
	queue   *queue.Queue
	router  *router.Router
	monitor *memmon.Monitor

	mu         sync.Mutex
	isRotating bool
	history    *ringbuffer.Buffer[rotation.HistoryEntry]
	failed     *ringbuffer.Buffer[rotation.HistoryEntry]
}

// New wires an Orchestrator from its collaborators.
func New(cfg config.Rotation, tracker *state.Tracker, q *queue.Queue, r *router.Router, monitor *memmon.Monitor) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		tracker: tracker,
		queue:   q,
		router:  r,
		monitor: monitor,
		history: ringbuffer.New[rotation.HistoryEntry](historyCap),
		failed:  ringbuffer.New[rotation.HistoryEntry](failedCap),
	}
}

func validateInputs(provider, name, source string) *rotation.RotationError {
	if provider == "" || name == "" || source == "" {
		return rotation.NewRotationError(rotation.ErrInvalidInput, "provider, model and source are required", name, "requestRotation")
	}
	return nil
}

// RequestRotation implements spec.md §4.6's requestRotation algorithm.
func (o *Orchestrator) RequestRotation(ctx context.Context, provider, name, source string, priority rotation.Priority) (rotation.RotationOutcome, *rotation.RotationError) {
	if err := validateInputs(provider, name, source); err != nil {
		return rotation.RotationOutcome{}, err
	}

	if active, ok := o.tracker.GetActive(provider); ok && active == name {
		o.tracker.SetActive(provider, name) // bump lastUsedAt/requestCount
		return rotation.RotationOutcome{Success: true, Provider: provider, Model: name, Action: rotation.ActionNoChange}, nil
	}

	if !o.router.Exists(ctx, provider, name) {
		return rotation.RotationOutcome{}, rotation.NewRotationError(rotation.ErrModelNotFound, "model does not exist", name, "requestRotation")
	}

	req := rotation.RotationRequest{Provider: provider, ModelName: name, Priority: priority, Source: source}
	ok, err := o.queue.Enqueue(req)
	if !ok {
		return rotation.RotationOutcome{}, err
	}

	o.maybeStartDraining(ctx)

	return rotation.RotationOutcome{Success: true, Provider: provider, Model: name, Action: rotation.ActionQueued}, nil
}

func (o *Orchestrator) maybeStartDraining(ctx context.Context) {
	go o.queue.Process(func(req rotation.RotationRequest) error {
		_, err := o.Drain(ctx, req.Provider, req.ModelName)
		return err
	})
}

// Drain performs one non-forced rotation for a request that has already
// been popped off the queue. Exposed so a periodic queue.StartAutoProcess
// handler (driven from outside this package) shares the same drain path
// as requestRotation's own on-demand draining.
func (o *Orchestrator) Drain(ctx context.Context, provider, name string) (rotation.RotationOutcome, error) {
	return o.performRotation(ctx, provider, name, false)
}

// performRotation drains one request: unload the provider's current active
// model (if different), load the target with retry/backoff, and on
// success update the tracker and history.
func (o *Orchestrator) performRotation(ctx context.Context, provider, name string, isForced bool) (rotation.RotationOutcome, error) {
	o.mu.Lock()
	for o.isRotating {
		// Another rotation is in flight; wait for it to finish so queued
		// drains and forced calls run one after another.
		o.mu.Unlock()
		select {
		case <-ctx.Done():
			return rotation.RotationOutcome{}, rotation.NewRotationError(rotation.ErrTimeout, "cancelled while waiting for in-flight rotation", name, "performRotation")
		case <-time.After(10 * time.Millisecond):
		}
		o.mu.Lock()
	}
	o.isRotating = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.isRotating = false
		o.mu.Unlock()
	}()

	start := time.Now()
	before := o.monitor.Snapshot()

	if current, ok := o.tracker.GetActive(provider); ok && current != name {
		if err := o.router.Unload(ctx, provider, current); err != nil {
			L_warn("orchestrator: unload of previous active model failed, continuing", "provider", provider, "model", current, "error", err)
		} else {
			o.tracker.Remove(provider, current)
		}
	}

	timeout := time.Duration(o.cfg.RotationTimeoutMs) * time.Millisecond
	var loadErr error
	attempts := o.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		loadErr = o.router.Load(attemptCtx, provider, name)
		cancel()

		if loadErr == nil {
			break
		}
		if attempt < attempts {
			backoff := time.Duration(o.cfg.RetryDelayMs*attempt) * time.Millisecond
			time.Sleep(backoff)
		}
	}

	after := o.monitor.Snapshot()
	durationMs := time.Since(start).Milliseconds()

	if loadErr != nil {
		o.tracker.RecordError(provider, name)

		entry := rotation.HistoryEntry{
			Provider: provider, Model: name, Start: start, End: time.Now(),
			DurationMs: durationMs, IsForced: isForced,
			MemoryBefore: before, MemoryAfter: after, Status: "failed",
		}
		o.mu.Lock()
		o.history.Push(entry)
		o.failed.Push(entry)
		o.mu.Unlock()

		MetricOutcome("orchestrator/rotation", false)
		MetricError("orchestrator/rotation", string(rotation.ErrModelLoadFailed))
		bus.PublishEventWithSource("rotation.failed", entry, "orchestrator")

		rErr := rotation.NewRotationError(rotation.ErrModelLoadFailed, loadErr.Error(), name, "performRotation")
		return rotation.RotationOutcome{
			Success: false, Provider: provider, Model: name,
			Action: rotation.ActionRotated, DurationMs: durationMs,
			MemoryBefore: before, MemoryAfter: after, Error: rErr,
		}, rErr
	}

	o.tracker.SetActive(provider, name)
	o.tracker.SetMemoryUsage(provider, name, o.router.ModelBytes(ctx, provider, name))

	entry := rotation.HistoryEntry{
		Provider: provider, Model: name, Start: start, End: time.Now(),
		DurationMs: durationMs, IsForced: isForced,
		MemoryBefore: before, MemoryAfter: after, Status: "success",
	}
	o.mu.Lock()
	o.history.Push(entry)
	o.mu.Unlock()

	MetricOutcome("orchestrator/rotation", true)
	MetricDuration("orchestrator/rotation_duration", time.Duration(durationMs)*time.Millisecond)
	bus.PublishEventWithSource("rotation.loaded", entry, "orchestrator")

	action := rotation.ActionRotated
	if isForced {
		action = rotation.ActionForced
	}
	return rotation.RotationOutcome{
		Success: true, Provider: provider, Model: name, Action: action,
		DurationMs: durationMs, MemoryBefore: before, MemoryAfter: after,
	}, nil
}

// ForceRotation runs a rotation immediately, bypassing the queue, even if
// the queue's processor is busy with something else. A rotation already in
// flight is allowed to finish first.
func (o *Orchestrator) ForceRotation(ctx context.Context, provider, name, source string) (rotation.RotationOutcome, *rotation.RotationError) {
	if err := validateInputs(provider, name, source); err != nil {
		return rotation.RotationOutcome{}, err
	}

	outcome, err := o.performRotation(ctx, provider, name, true)
	if err != nil {
		if rerr, ok := err.(*rotation.RotationError); ok {
			return outcome, rerr
		}
		return outcome, rotation.NewRotationError(rotation.ErrModelLoadFailed, err.Error(), name, "forceRotation")
	}
	return outcome, nil
}

// EmergencyCleanup clears the queue and unloads every active model.
func (o *Orchestrator) EmergencyCleanup(ctx context.Context) rotation.RotationOutcome {
	o.queue.StopAutoProcess()
	o.queue.Clear()

	var lastErr error
	for _, provider := range o.tracker.Providers() {
		active, ok := o.tracker.GetActive(provider)
		if !ok {
			continue
		}
		if err := o.router.Unload(ctx, provider, active); err != nil {
			L_warn("orchestrator: emergency unload failed", "provider", provider, "model", active, "error", err)
			lastErr = err
			continue
		}
		o.tracker.Remove(provider, active)
	}

	if lastErr != nil {
		bus.PublishEventWithSource("rotation.emergency_cleanup", map[string]any{"success": false}, "orchestrator")
		return rotation.RotationOutcome{
			Success: false, Action: rotation.ActionEmergencyCleanup,
			Error: rotation.NewRotationError(rotation.ErrEmergencyCleanupFailed, lastErr.Error(), "", "emergencyCleanup"),
		}
	}
	bus.PublishEventWithSource("rotation.emergency_cleanup", map[string]any{"success": true}, "orchestrator")
	return rotation.RotationOutcome{Success: true, Action: rotation.ActionEmergencyCleanup}
}

// Status is the consumer-facing summary of the orchestrator's current state.
type Status struct {
	IsRotating  bool
	Active      rotation.ActiveMap
	Queue       rotation.QueueStatus
	Memory      rotation.MemoryStats
	LastHistory *rotation.HistoryEntry
	FailedCount int
}

// GetStatus returns a consumer-facing status snapshot.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	rotating := o.isRotating
	hist := o.history.Items()
	failedCount := o.failed.Len()
	o.mu.Unlock()

	active := make(rotation.ActiveMap)
	for _, p := range o.tracker.Providers() {
		if name, ok := o.tracker.GetActive(p); ok {
			active[p] = name
		}
	}

	var last *rotation.HistoryEntry
	if len(hist) > 0 {
		e := hist[len(hist)-1]
		last = &e
	}

	return Status{
		IsRotating:  rotating,
		Active:      active,
		Queue:       o.queue.Status(),
		Memory:      o.monitor.Snapshot(),
		LastHistory: last,
		FailedCount: failedCount,
	}
}

// History returns the last limit rotation entries, most recent last. limit
// <= 0 returns everything buffered.
func (o *Orchestrator) History(limit int) []rotation.HistoryEntry {
	o.mu.Lock()
	items := o.history.Items()
	o.mu.Unlock()

	if limit <= 0 || limit >= len(items) {
		return items
	}
	return items[len(items)-limit:]
}

// Failed returns every buffered failed-rotation record.
func (o *Orchestrator) Failed() []rotation.HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed.Items()
}
