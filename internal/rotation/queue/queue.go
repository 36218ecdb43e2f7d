// Package queue holds the Queue: a bounded, priority-ordered, deduplicated
// staging area for rotation requests with cooperative draining.
package queue

import (
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/google/uuid"

	"github.com/rotorcore/rotorcore/internal/config"
	. "github.com/rotorcore/rotorcore/internal/logging"
	"github.com/rotorcore/rotorcore/internal/rotation"
)

// Handler processes one drained request. An error marks the drain attempt
// failed but never causes the request to be re-enqueued.
type Handler func(rotation.RotationRequest) error

// Queue is the bounded, priority-ordered, deduplicated rotation request
// staging area described in spec.md §4.4.
type Queue struct {
	mu      sync.Mutex
	cfg     config.Queue
	items   []rotation.RotationRequest
	byKey   map[string]int // dedup key -> index into items
	byID    map[string]int // request ID -> index into items

	processing      bool
	lastProcessedAt time.Time

	cron *cronlib.Cron
}

// New returns an empty Queue governed by cfg.
func New(cfg config.Queue) *Queue {
	return &Queue{
		cfg:   cfg,
		items: make([]rotation.RotationRequest, 0),
		byKey: make(map[string]int),
		byID:  make(map[string]int),
	}
}

// validate rejects requests with empty identity fields or an unrecognized priority.
func validate(req rotation.RotationRequest) *rotation.RotationError {
	if req.Provider == "" || req.ModelName == "" || req.Source == "" {
		return rotation.NewRotationError(rotation.ErrInvalidInput, "provider, modelName and source are required", req.ModelName, "enqueue")
	}
	if _, ok := rotation.ParsePriority(req.Priority.String()); !ok {
		return rotation.NewRotationError(rotation.ErrInvalidInput, "unknown priority", req.ModelName, "enqueue")
	}
	return nil
}

func (q *Queue) reindex() {
	q.byKey = make(map[string]int, len(q.items))
	q.byID = make(map[string]int, len(q.items))
	for i, it := range q.items {
		q.byKey[it.Key()] = i
		q.byID[it.ID] = i
	}
}

// Enqueue stages req. If an identical (provider, modelName, source) request
// is already queued, req is not added; if req's priority is higher, the
// queued entry's priority is upgraded in place. Returns false with
// QUEUE_FULL if the queue is at capacity and req is genuinely new.
func (q *Queue) Enqueue(req rotation.RotationRequest) (bool, *rotation.RotationError) {
	if err := validate(req); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if idx, ok := q.byKey[req.Key()]; ok {
		if req.Priority > q.items[idx].Priority {
			q.items[idx].Priority = req.Priority
		}
		return true, nil
	}

	if len(q.items) >= q.cfg.MaxSize {
		return false, rotation.NewRotationError(rotation.ErrQueueFull, "queue at capacity", req.ModelName, "enqueue")
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	q.items = append(q.items, req)
	q.reindex()
	return true, nil
}

// order returns the indices of items in drain order: strict priority, then
// FIFO by timestamp within a priority. The first index drains next.
func order(items []rotation.RotationRequest) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := items[idx[a]], items[idx[b]]
		if ia.Priority != ib.Priority {
			return ia.Priority > ib.Priority
		}
		return ia.Timestamp.Before(ib.Timestamp)
	})
	return idx
}

// Peek returns the next request to drain without removing it.
func (q *Queue) Peek() (rotation.RotationRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return rotation.RotationRequest{}, false
	}
	idx := order(q.items)
	return q.items[idx[0]], true
}

// Pop removes and returns the next request to drain. Atomic with respect to
// concurrent Enqueue calls.
func (q *Queue) Pop() (rotation.RotationRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return rotation.RotationRequest{}, false
	}
	idx := order(q.items)
	next := q.items[idx[0]]
	q.items = append(q.items[:idx[0]], q.items[idx[0]+1:]...)
	q.reindex()
	return next, true
}

// Remove drops the request with the given ID, if present.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, ok := q.byID[id]
	if !ok {
		return false
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	q.reindex()
	return true
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.byKey = make(map[string]int)
	q.byID = make(map[string]int)
}

// Contents returns a copy of every queued request, in drain order.
func (q *Queue) Contents() []rotation.RotationRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := order(q.items)
	out := make([]rotation.RotationRequest, len(idx))
	for i, j := range idx {
		out[i] = q.items[j]
	}
	return out
}

// Status summarizes the queue's current state.
func (q *Queue) Status() rotation.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return rotation.QueueStatus{
		Size:              len(q.items),
		MaxSize:           q.cfg.MaxSize,
		IsProcessing:      q.processing,
		LastProcessedAt:   q.lastProcessedAt,
		PriorityBreakdown: q.breakdownLocked(),
	}
}

// Stats is an alias for Status kept for symmetry with spec.md's
// `stats()`/`status()` pair; both report the same snapshot.
func (q *Queue) Stats() rotation.QueueStatus { return q.Status() }

func (q *Queue) breakdownLocked() rotation.PriorityBreakdown {
	var b rotation.PriorityBreakdown
	for _, it := range q.items {
		switch it.Priority {
		case rotation.PriorityHigh:
			b.High++
		case rotation.PriorityNormal:
			b.Normal++
		case rotation.PriorityLow:
			b.Low++
		}
	}
	return b
}

// Process drains the queue in priority order, invoking handler for each
// item. Guarantees at most one processor active at a time; a concurrent
// call to Process while one is already running is a no-op.
func (q *Queue) Process(handler Handler) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.lastProcessedAt = time.Now()
		q.mu.Unlock()
	}()

	for {
		req, ok := q.Pop()
		if !ok {
			return
		}
		if err := handler(req); err != nil {
			L_warn("queue: handler returned error", "provider", req.Provider, "model", req.ModelName, "error", err)
		}
	}
}

// StartAutoProcess begins periodic draining every intervalMs, invoking
// handler on each tick if anything is queued. Safe to call once; a second
// call replaces the previous schedule.
func (q *Queue) StartAutoProcess(handler Handler) {
	q.StopAutoProcess()

	c := cronlib.New(cronlib.WithSeconds())
	interval := time.Duration(q.cfg.ProcessingIntervalMs) * time.Millisecond
	spec := "@every " + interval.String()
	_, err := c.AddFunc(spec, func() { q.Process(handler) })
	if err != nil {
		L_error("queue: failed to schedule auto-process", "error", err)
		return
	}
	c.Start()

	q.mu.Lock()
	q.cron = c
	q.mu.Unlock()
}

// StopAutoProcess cancels periodic draining, if running.
func (q *Queue) StopAutoProcess() {
	q.mu.Lock()
	c := q.cron
	q.cron = nil
	q.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}
