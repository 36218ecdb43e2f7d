package memmon

import (
	"testing"
	"time"

	"github.com/rotorcore/rotorcore/internal/config"
	"github.com/rotorcore/rotorcore/internal/rotation/state"
)

func thresholds() config.Thresholds {
	return config.Thresholds{Warning: 70, Critical: 85, Cleanup: 95}
}

func TestCheckReturnsOKWhenThresholdsAreUnreachable(t *testing.T) {
	tr := state.New()
	// Thresholds above 100% can never be hit regardless of actual host
	// memory pressure at test time, keeping this deterministic.
	m := New(config.Thresholds{Warning: 101, Critical: 102, Cleanup: 103}, tr)

	if result := m.Check(); result != CheckOK {
		t.Errorf("Check() = %v, want ok", result)
	}
}

func TestTriggerCleanupNoOpWhenNothingTracked(t *testing.T) {
	tr := state.New()
	m := New(thresholds(), tr)

	if m.TriggerCleanup() {
		t.Errorf("expected no eviction when nothing is tracked")
	}
}

func TestTriggerCleanupEvictsLRUAndInvokesCallbacks(t *testing.T) {
	tr := state.New()
	tr.SetActive("daemon", "old")
	tr.SetMemoryUsage("daemon", "old", 1)
	time.Sleep(time.Millisecond)
	tr.SetActive("daemon", "new")
	tr.SetMemoryUsage("daemon", "new", 1)

	// Force cleanup-needed regardless of host memory by using thresholds
	// that are always exceeded relative to the fallback snapshot.
	m := New(config.Thresholds{Warning: 0, Critical: 0, Cleanup: 0}, tr)

	var evicted []string
	m.RegisterCleanupCallback(func(provider, name string) {
		evicted = append(evicted, provider+"/"+name)
	})

	if !m.TriggerCleanup() {
		t.Fatalf("expected an eviction")
	}
	if len(evicted) != 1 || evicted[0] != "daemon/old" {
		t.Errorf("evicted = %v, want [daemon/old]", evicted)
	}
	if tr.IsLoaded("daemon", "old") {
		t.Errorf("expected old to be removed from tracker after eviction")
	}
	if !tr.IsLoaded("daemon", "new") {
		t.Errorf("expected new to remain tracked")
	}
}

func TestTriggerCleanupCallbackPanicDoesNotSkipOthers(t *testing.T) {
	tr := state.New()
	tr.SetActive("daemon", "only")
	m := New(config.Thresholds{Warning: 0, Critical: 0, Cleanup: 0}, tr)

	var secondRan bool
	m.RegisterCleanupCallback(func(provider, name string) { panic("boom") })
	m.RegisterCleanupCallback(func(provider, name string) { secondRan = true })

	if !m.TriggerCleanup() {
		t.Fatalf("expected an eviction despite the panicking callback")
	}
	if !secondRan {
		t.Errorf("expected second callback to still run after the first panicked")
	}
}

func TestResetBaselineMarksTrendStable(t *testing.T) {
	tr := state.New()
	m := New(thresholds(), tr)
	m.ResetBaseline()

	if trend := m.Trend(); trend != TrendStable {
		t.Errorf("Trend() right after ResetBaseline = %v, want stable", trend)
	}
}
