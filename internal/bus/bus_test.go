package bus

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestFanOut(t *testing.T) {
	b := New()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish(Event{Kind: EventConnected})

	if ev := recv(t, a); ev.Kind != EventConnected {
		t.Fatalf("subscriber a got %v", ev.Kind)
	}
	if ev := recv(t, c); ev.Kind != EventConnected {
		t.Fatalf("subscriber c got %v", ev.Kind)
	}
}

func TestCancelClosesChannelAndIsIdempotent(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(1)

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	b.Publish(Event{Kind: EventDisconnected})
}

func TestSlowConsumerLosesEventsWithoutBlocking(t *testing.T) {
	b := New()
	slow, cancelSlow := b.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := b.Subscribe(8)
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(Event{Kind: EventReconnecting, Attempt: i + 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}

	// The slow subscriber holds only the first event; the fast one has all.
	if ev := recv(t, slow); ev.Attempt != 1 {
		t.Fatalf("slow subscriber got attempt %d", ev.Attempt)
	}
	for i := 0; i < 5; i++ {
		if ev := recv(t, fast); ev.Attempt != i+1 {
			t.Fatalf("fast subscriber got attempt %d at position %d", ev.Attempt, i)
		}
	}
}
