package bus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishEventDeliversToSubscriber(t *testing.T) {
	topic := "test.publish.deliver"
	var wg sync.WaitGroup
	wg.Add(1)

	var got Event
	id := SubscribeEvent(topic, func(e Event) {
		got = e
		wg.Done()
	})
	defer UnsubscribeEvent(id)

	PublishEventWithSource(topic, "payload", "test")

	if waitTimeout(&wg, time.Second) {
		t.Fatalf("handler was not invoked within timeout")
	}
	if got.Topic != topic || got.Source != "test" || got.Data != "payload" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestUnsubscribeEventStopsDelivery(t *testing.T) {
	topic := "test.unsubscribe"
	calls := 0
	id := SubscribeEvent(topic, func(e Event) { calls++ })

	if !UnsubscribeEvent(id) {
		t.Fatalf("expected UnsubscribeEvent to report the subscription existed")
	}
	if UnsubscribeEvent(id) {
		t.Errorf("expected a second unsubscribe of the same ID to report false")
	}

	PublishEvent(topic, nil)
	time.Sleep(10 * time.Millisecond)
	if calls != 0 {
		t.Errorf("handler invoked %d times after unsubscribe, want 0", calls)
	}
}

func TestSubscribeLoggerCoversEveryTopic(t *testing.T) {
	topics := []string{"test.logger.a", "test.logger.b", "test.logger.c"}
	ids := SubscribeLogger(topics...)
	defer func() {
		for _, id := range ids {
			UnsubscribeEvent(id)
		}
	}()

	if len(ids) != len(topics) {
		t.Fatalf("got %d subscription IDs, want %d", len(ids), len(topics))
	}
	for _, topic := range topics {
		if CountEventSubscribers(topic) < 1 {
			t.Errorf("topic %s has no subscribers after SubscribeLogger", topic)
		}
	}
}

func TestPublishEventWithNoSubscribersDoesNotPanic(t *testing.T) {
	PublishEvent("test.no.subscribers", "anything")
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) (timedOut bool) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return false
	case <-time.After(timeout):
		return true
	}
}
