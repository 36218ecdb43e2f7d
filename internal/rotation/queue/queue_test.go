package queue

import (
	"testing"

	"github.com/rotorcore/rotorcore/internal/config"
	"github.com/rotorcore/rotorcore/internal/rotation"
)

func testConfig(maxSize int) config.Queue {
	return config.Queue{MaxSize: maxSize, ProcessingIntervalMs: 50}
}

func req(provider, model, source string, pri rotation.Priority) rotation.RotationRequest {
	return rotation.RotationRequest{Provider: provider, ModelName: model, Source: source, Priority: pri}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	q := New(testConfig(10))
	_, err := q.Enqueue(rotation.RotationRequest{Priority: rotation.PriorityNormal})
	if err == nil || err.Code != rotation.ErrInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %+v", err)
	}
}

func TestEnqueueDeduplicatesAndUpgradesPriority(t *testing.T) {
	q := New(testConfig(10))
	q.Enqueue(req("daemon", "a", "src", rotation.PriorityLow))
	q.Enqueue(req("daemon", "a", "src", rotation.PriorityHigh))

	if q.Status().Size != 1 {
		t.Fatalf("expected dedup to keep queue size at 1, got %d", q.Status().Size)
	}
	next, _ := q.Peek()
	if next.Priority != rotation.PriorityHigh {
		t.Errorf("expected priority upgraded to high, got %v", next.Priority)
	}
}

func TestEnqueueFullReturnsQueueFull(t *testing.T) {
	q := New(testConfig(2))
	q.Enqueue(req("daemon", "a", "s1", rotation.PriorityNormal))
	q.Enqueue(req("daemon", "b", "s2", rotation.PriorityNormal))
	ok, err := q.Enqueue(req("daemon", "c", "s3", rotation.PriorityNormal))

	if ok || err == nil || err.Code != rotation.ErrQueueFull {
		t.Fatalf("expected QUEUE_FULL, got ok=%v err=%+v", ok, err)
	}
	if q.Status().Size != 2 {
		t.Errorf("queue size = %d, want 2 (unchanged)", q.Status().Size)
	}
}

func TestStrictPriorityDrainOrder(t *testing.T) {
	q := New(testConfig(10))
	q.Enqueue(req("daemon", "X", "src", rotation.PriorityLow))
	q.Enqueue(req("daemon", "Y", "src2", rotation.PriorityLow))
	q.Enqueue(req("daemon", "Z", "src", rotation.PriorityHigh))

	var order []string
	for {
		r, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, r.ModelName)
	}

	want := []string{"Z", "X", "Y"}
	for i, m := range want {
		if order[i] != m {
			t.Fatalf("drain order = %v, want %v", order, want)
		}
	}
}

func TestRemoveRestoresQueueSize(t *testing.T) {
	q := New(testConfig(10))
	q.Enqueue(req("daemon", "a", "src", rotation.PriorityNormal))
	before := q.Status().Size

	r, _ := q.Peek()
	if !q.Remove(r.ID) {
		t.Fatalf("expected Remove to find the request")
	}
	if q.Status().Size != before-1 {
		t.Errorf("size after remove = %d, want %d", q.Status().Size, before-1)
	}
}

func TestProcessInvokesHandlerForEachItem(t *testing.T) {
	q := New(testConfig(10))
	q.Enqueue(req("daemon", "a", "s1", rotation.PriorityNormal))
	q.Enqueue(req("daemon", "b", "s2", rotation.PriorityNormal))

	var seen []string
	q.Process(func(r rotation.RotationRequest) error {
		seen = append(seen, r.ModelName)
		return nil
	})

	if len(seen) != 2 {
		t.Fatalf("expected both items processed, got %v", seen)
	}
	if q.Status().Size != 0 {
		t.Errorf("expected queue drained, size = %d", q.Status().Size)
	}
}

func TestPriorityBreakdown(t *testing.T) {
	q := New(testConfig(10))
	q.Enqueue(req("daemon", "a", "s1", rotation.PriorityHigh))
	q.Enqueue(req("daemon", "b", "s2", rotation.PriorityLow))
	q.Enqueue(req("daemon", "c", "s3", rotation.PriorityLow))

	b := q.Status().PriorityBreakdown
	if b.High != 1 || b.Low != 2 || b.Normal != 0 {
		t.Errorf("breakdown = %+v, want {High:1 Normal:0 Low:2}", b)
	}
}
