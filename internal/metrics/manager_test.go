package metrics

import (
	"testing"
	"time"
)

func freshManager() *Manager {
	m := GetInstance()
	m.Reset()
	return m
}

func TestCounterAccumulates(t *testing.T) {
	m := freshManager()
	m.IncrementCounter("queue/enqueued")
	m.AddCounter("queue/enqueued", 4)

	snap := m.GetSnapshot()
	n, ok := snap.Nodes["queue/enqueued"]
	if !ok {
		t.Fatalf("expected node for queue/enqueued")
	}
	if n.Counter.Value != 5 {
		t.Errorf("counter = %d, want 5", n.Counter.Value)
	}
}

func TestGaugeTracksLatestValue(t *testing.T) {
	m := freshManager()
	m.SetGauge("memory/heap_mb", 100)
	m.SetGauge("memory/heap_mb", 250)

	snap := m.GetSnapshot()
	n := snap.Nodes["memory/heap_mb"]
	if n.Gauge.Value != 250 {
		t.Errorf("gauge = %v, want 250", n.Gauge.Value)
	}
}

func TestOutcomeFailureRate(t *testing.T) {
	m := freshManager()
	m.RecordOutcome("rotation/daemon-7b", true)
	m.RecordOutcome("rotation/daemon-7b", true)
	m.RecordOutcome("rotation/daemon-7b", false)

	snap := m.GetSnapshot()
	n := snap.Nodes["rotation/daemon-7b"]
	if n.Outcome.Total() != 3 {
		t.Fatalf("total = %d, want 3", n.Outcome.Total())
	}
	if got, want := n.Outcome.FailureRate(), 1.0/3.0; got != want {
		t.Errorf("failure rate = %v, want %v", got, want)
	}
}

func TestTimingMinMaxAvg(t *testing.T) {
	m := freshManager()
	m.RecordDuration("rotation/latency", 10*time.Millisecond)
	m.RecordDuration("rotation/latency", 30*time.Millisecond)
	m.RecordDuration("rotation/latency", 20*time.Millisecond)

	snap := m.GetSnapshot()
	n := snap.Nodes["rotation/latency"]
	if n.Timing.Min != 10*time.Millisecond {
		t.Errorf("min = %v, want 10ms", n.Timing.Min)
	}
	if n.Timing.Max != 30*time.Millisecond {
		t.Errorf("max = %v, want 30ms", n.Timing.Max)
	}
	if n.Timing.Avg() != 20*time.Millisecond {
		t.Errorf("avg = %v, want 20ms", n.Timing.Avg())
	}
}

func TestStartEndTimingRoundTrip(t *testing.T) {
	m := freshManager()
	h := m.StartTiming("rotation/load")
	time.Sleep(time.Millisecond)
	m.EndTiming(h, "rotation/load")

	snap := m.GetSnapshot()
	n, ok := snap.Nodes["rotation/load"]
	if !ok || n.Timing.Count != 1 {
		t.Fatalf("expected one recorded timing sample, got %+v", n.Timing)
	}
}

func TestRecordErrorByClass(t *testing.T) {
	m := freshManager()
	m.RecordError("router/generate", "context_overflow")
	m.RecordError("router/generate", "context_overflow")
	m.RecordError("router/generate", "timeout")

	snap := m.GetSnapshot()
	n := snap.Nodes["router/generate"]
	if n.Error.Counts["context_overflow"] != 2 {
		t.Errorf("context_overflow count = %d, want 2", n.Error.Counts["context_overflow"])
	}
	if n.Error.Counts["timeout"] != 1 {
		t.Errorf("timeout count = %d, want 1", n.Error.Counts["timeout"])
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	m := freshManager()
	m.RecordError("router/generate", "timeout")

	snap := m.GetSnapshot()
	snap.Nodes["router/generate"].Error.Counts["timeout"] = 999

	fresh := m.GetSnapshot()
	if fresh.Nodes["router/generate"].Error.Counts["timeout"] != 1 {
		t.Errorf("snapshot mutation leaked into manager state")
	}
}
