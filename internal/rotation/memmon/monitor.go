// Package memmon holds the MemoryMonitor: host memory sampling, threshold
// evaluation, and LRU-based cleanup decisions.
package memmon

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/rotorcore/rotorcore/internal/bus"
	"github.com/rotorcore/rotorcore/internal/config"
	. "github.com/rotorcore/rotorcore/internal/logging"
	. "github.com/rotorcore/rotorcore/internal/metrics"
	"github.com/rotorcore/rotorcore/internal/rotation"
	"github.com/rotorcore/rotorcore/internal/rotation/state"
)

// CheckResult is the outcome of comparing a snapshot against thresholds.
type CheckResult string

const (
	CheckOK            CheckResult = "ok"
	CheckWarn          CheckResult = "warn"
	CheckCleanupNeeded CheckResult = "cleanup-needed"
)

// Trend categorizes used-memory movement relative to the baseline.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// CleanupCallback is invoked with the (provider, name) of a model the
// monitor decided to evict. Registering this is how a caller (the glue
// registrar) performs the actual provider unload without the monitor
// needing to know about providers at all.
type CleanupCallback func(provider, name string)

// Monitor samples host memory, evaluates it against Thresholds, and
// selects an LRU eviction target from the tracker when under pressure.
type Monitor struct {
	thresholds config.Thresholds
	tracker    *state.Tracker

	mu        sync.Mutex
	baseline  rotation.MemoryStats
	callbacks []CleanupCallback

	cron *cronlib.Cron
}

// New returns a Monitor with its baseline set to the current snapshot.
func New(thresholds config.Thresholds, tracker *state.Tracker) *Monitor {
	m := &Monitor{thresholds: thresholds, tracker: tracker}
	m.baseline = m.Snapshot()
	return m
}

func readProcMeminfo() (totalKB, availableKB int64, ok bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var haveTotal, haveAvail bool
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				totalKB = v
				haveTotal = true
			}
		case "MemAvailable":
			if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				availableKB = v
				haveAvail = true
			}
		}
		if haveTotal && haveAvail {
			break
		}
	}
	return totalKB, availableKB, haveTotal && haveAvail
}

// Snapshot returns a fresh MemoryStats. Host totals come from /proc/meminfo
// where available (Linux); modelBytes sums the tracker's known
// per-model memory usage across every provider.
func (m *Monitor) Snapshot() rotation.MemoryStats {
	var total, available int64
	if totalKB, availKB, ok := readProcMeminfo(); ok {
		total = totalKB * 1024
		available = availKB * 1024
	}

	var modelBytes int64
	if m.tracker != nil {
		for _, provider := range m.tracker.Providers() {
			for _, md := range m.tracker.GetAllMetadata(provider) {
				modelBytes += md.MemoryUsage
			}
		}
	}

	used := total - available
	if total == 0 {
		// /proc/meminfo unavailable (non-Linux or restricted sandbox): fall
		// back to the tracker's modelBytes as "used", with a nominal 1 byte
		// available, so the rest of the pipeline still has a used/available
		// split to reason about.
		used = int64(modelBytes)
		available = 1
		total = used + available
	}

	stats := rotation.MemoryStats{
		TotalBytes:     total,
		UsedBytes:      used,
		AvailableBytes: available,
		ModelBytes:     modelBytes,
		Timestamp:      time.Now(),
	}

	MetricGauge("memory/used_bytes", float64(stats.UsedBytes))
	MetricGauge("memory/model_bytes", float64(stats.ModelBytes))
	return stats
}

func percentUsed(s rotation.MemoryStats) float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.TotalBytes) * 100
}

// Check compares a fresh snapshot against Thresholds.
func (m *Monitor) Check() CheckResult {
	pct := percentUsed(m.Snapshot())
	switch {
	case pct >= float64(m.thresholds.Cleanup):
		return CheckCleanupNeeded
	case pct >= float64(m.thresholds.Critical):
		return CheckCleanupNeeded
	case pct >= float64(m.thresholds.Warning):
		return CheckWarn
	default:
		return CheckOK
	}
}

// RegisterCleanupCallback adds fn to the set invoked on eviction. All
// registered callbacks are invoked best-effort: a panicking callback does
// not prevent the others from running.
func (m *Monitor) RegisterCleanupCallback(fn CleanupCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// TriggerCleanup evicts the globally LRU tracked model if Check reports
// cleanup-needed. Returns whether an eviction happened; no eviction occurs
// if nothing is tracked even under memory pressure.
func (m *Monitor) TriggerCleanup() bool {
	if m.Check() != CheckCleanupNeeded {
		return false
	}

	provider, name, ok := m.tracker.LRU("")
	if !ok {
		return false
	}

	m.mu.Lock()
	callbacks := make([]CleanupCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					L_error("memmon: cleanup callback panic", "provider", provider, "model", name, "panic", r)
				}
			}()
			cb(provider, name)
		}()
	}

	m.tracker.Remove(provider, name)
	MetricIncr("memmon/evictions")
	L_info("memmon: evicted LRU model", "provider", provider, "model", name)
	bus.PublishEventWithSource("rotation.evicted", map[string]string{"provider": provider, "model": name}, "memmon")
	return true
}

// Trend compares the current used-byte snapshot against the baseline.
func (m *Monitor) Trend() Trend {
	current := m.Snapshot()

	m.mu.Lock()
	baseline := m.baseline
	m.mu.Unlock()

	if baseline.UsedBytes == 0 {
		return TrendStable
	}

	delta := float64(current.UsedBytes-baseline.UsedBytes) / float64(baseline.UsedBytes)
	switch {
	case delta > 0.10:
		return TrendIncreasing
	case delta < -0.10:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// ResetBaseline replaces the trend baseline with the current snapshot.
func (m *Monitor) ResetBaseline() {
	snap := m.Snapshot()
	m.mu.Lock()
	m.baseline = snap
	m.mu.Unlock()
}

// StartPeriodicSampling samples Check on a cron-driven interval, logging
// the result. This is a convenience layered on top of the on-demand
// Snapshot/Check contract, not a requirement of it.
func (m *Monitor) StartPeriodicSampling(intervalMs int) {
	m.StopPeriodicSampling()

	c := cronlib.New(cronlib.WithSeconds())
	interval := time.Duration(intervalMs) * time.Millisecond
	_, err := c.AddFunc("@every "+interval.String(), func() {
		result := m.Check()
		if result != CheckOK {
			L_warn("memmon: periodic sample", "result", result)
		} else {
			L_debug("memmon: periodic sample", "result", result)
		}
	})
	if err != nil {
		L_error("memmon: failed to schedule periodic sampling", "error", err)
		return
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
}

// StopPeriodicSampling cancels periodic sampling, if running.
func (m *Monitor) StopPeriodicSampling() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}
