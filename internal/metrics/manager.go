package metrics

import (
	"sync"
	"time"
)

// Manager owns the metrics tree. Access is synchronized with a single mutex;
// rotorcore's metric volume does not warrant per-node locking.
type Manager struct {
	mu    sync.Mutex
	nodes map[string]*MetricNode

	// inFlight tracks StartTiming handles awaiting a matching EndTiming.
	inFlight   map[string]time.Time
	inFlightMu sync.Mutex
}

var (
	instance *Manager
	once     sync.Once
)

// GetInstance returns the process-wide metrics manager, creating it on first use.
func GetInstance() *Manager {
	once.Do(func() {
		instance = &Manager{
			nodes:    make(map[string]*MetricNode),
			inFlight: make(map[string]time.Time),
		}
	})
	return instance
}

func (m *Manager) node(path string, typ MetricType) *MetricNode {
	n, ok := m.nodes[path]
	if !ok {
		n = &MetricNode{Path: path, Type: typ}
		if typ == TypeError {
			n.Error.Counts = make(map[string]int64)
		}
		m.nodes[path] = n
	}
	return n
}

// StartTiming begins a named timing span and returns a handle for EndTiming.
// The handle is process-unique for the lifetime of the span.
func (m *Manager) StartTiming(path string) string {
	handle := path + "#" + time.Now().Format("150405.000000000")
	m.inFlightMu.Lock()
	m.inFlight[handle] = time.Now()
	m.inFlightMu.Unlock()
	return handle
}

// EndTiming closes a span opened by StartTiming and records its duration
// under path.
func (m *Manager) EndTiming(handle, path string) {
	m.inFlightMu.Lock()
	start, ok := m.inFlight[handle]
	if ok {
		delete(m.inFlight, handle)
	}
	m.inFlightMu.Unlock()
	if !ok {
		return
	}
	m.RecordDuration(path, time.Since(start))
}

// RecordDuration records a single duration sample under path.
func (m *Manager) RecordDuration(path string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.node(path, TypeTiming)
	n.Timing.record(d)
}

// IncrementCounter adds 1 to the counter at path.
func (m *Manager) IncrementCounter(path string) {
	m.AddCounter(path, 1)
}

// AddCounter adds delta (which may be negative) to the counter at path.
func (m *Manager) AddCounter(path string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.node(path, TypeCounter)
	n.Counter.Value += delta
}

// SetGauge records the current value of an instantaneous quantity at path.
func (m *Manager) SetGauge(path string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.node(path, TypeGauge)
	n.Gauge.Value = value
	n.Gauge.UpdatedAt = time.Now()
}

// RecordSuccess records a successful outcome at path.
func (m *Manager) RecordSuccess(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.node(path, TypeOutcome)
	n.Outcome.Successes++
}

// RecordFailure records a failed outcome at path.
func (m *Manager) RecordFailure(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.node(path, TypeOutcome)
	n.Outcome.Failures++
}

// RecordOutcome records success or failure at path depending on ok.
func (m *Manager) RecordOutcome(path string, ok bool) {
	if ok {
		m.RecordSuccess(path)
	} else {
		m.RecordFailure(path)
	}
}

// RecordError increments the counter for errClass at path. errClass is
// typically a rotation.ErrorCode string.
func (m *Manager) RecordError(path, errClass string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.node(path, TypeError)
	if n.Error.Counts == nil {
		n.Error.Counts = make(map[string]int64)
	}
	n.Error.Counts[errClass]++
}

// GetSnapshot returns a deep copy of the current metrics tree.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]MetricNode, len(m.nodes))
	for path, n := range m.nodes {
		cp := *n
		if n.Error.Counts != nil {
			cp.Error.Counts = make(map[string]int64, len(n.Error.Counts))
			for k, v := range n.Error.Counts {
				cp.Error.Counts[k] = v
			}
		}
		out[path] = cp
	}
	return Snapshot{TakenAt: time.Now(), Nodes: out}
}

// Reset clears the entire metrics tree. Intended for tests.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string]*MetricNode)
	m.inFlightMu.Lock()
	m.inFlight = make(map[string]time.Time)
	m.inFlightMu.Unlock()
}

// --- package-level convenience wrappers, meant for dot-import callers ---

func MetricTimingStart(path string) string           { return GetInstance().StartTiming(path) }
func MetricTimingEnd(handle, path string)             { GetInstance().EndTiming(handle, path) }
func MetricDuration(path string, d time.Duration)     { GetInstance().RecordDuration(path, d) }
func MetricIncr(path string)                          { GetInstance().IncrementCounter(path) }
func MetricAdd(path string, delta int64)              { GetInstance().AddCounter(path, delta) }
func MetricGauge(path string, value float64)          { GetInstance().SetGauge(path, value) }
func MetricSuccess(path string)                       { GetInstance().RecordSuccess(path) }
func MetricFailure(path string)                       { GetInstance().RecordFailure(path) }
func MetricOutcome(path string, ok bool)              { GetInstance().RecordOutcome(path, ok) }
func MetricError(path, errClass string)               { GetInstance().RecordError(path, errClass) }
func MetricSnapshot() Snapshot                        { return GetInstance().GetSnapshot() }
