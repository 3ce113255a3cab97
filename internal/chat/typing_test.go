package chat

import (
	"sync"
	"testing"
	"time"
)

type recordingEmitter struct {
	mu    sync.Mutex
	calls []bool
}

func (r *recordingEmitter) SendTyping(conversationID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, isTyping)
}

func (r *recordingEmitter) seq() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.calls))
	copy(out, r.calls)
	return out
}

func countFalse(seq []bool) int {
	n := 0
	for _, v := range seq {
		if !v {
			n++
		}
	}
	return n
}

func TestTypingAutoExpiryEmitsFalseExactlyOnce(t *testing.T) {
	emitter := &recordingEmitter{}
	ti := NewTypingIndicator(emitter, "u-1", "u-1", 20*time.Millisecond, 30*time.Millisecond)

	ti.OnLocalInput(true)
	waitUntil(t, "typing retraction", func() bool { return countFalse(emitter.seq()) >= 1 })

	// Well past another debounce interval: still exactly one false.
	time.Sleep(60 * time.Millisecond)
	if got := countFalse(emitter.seq()); got != 1 {
		t.Fatalf("expected exactly one typing=false, got %d", got)
	}
	if seq := emitter.seq(); !seq[0] {
		t.Fatalf("expected typing=true first, got %v", seq)
	}
}

func TestTypingDebounceResetsOnKeystroke(t *testing.T) {
	emitter := &recordingEmitter{}
	ti := NewTypingIndicator(emitter, "u-1", "u-1", 50*time.Millisecond, time.Second)

	ti.OnLocalInput(true)
	time.Sleep(30 * time.Millisecond)
	ti.OnLocalInput(true) // keystroke before expiry pushes retraction out

	time.Sleep(30 * time.Millisecond)
	if got := countFalse(emitter.seq()); got != 0 {
		t.Fatalf("retraction fired despite debounce reset: %v", emitter.seq())
	}

	waitUntil(t, "typing retraction", func() bool { return countFalse(emitter.seq()) == 1 })
}

func TestStopRetractsImmediatelyAndIsIdempotent(t *testing.T) {
	emitter := &recordingEmitter{}
	ti := NewTypingIndicator(emitter, "u-1", "u-1", time.Second, time.Second)

	ti.OnLocalInput(true)
	ti.Stop()
	ti.Stop()

	seq := emitter.seq()
	if len(seq) != 2 || seq[0] != true || seq[1] != false {
		t.Fatalf("expected [true false], got %v", seq)
	}

	// No pending timer may fire later.
	time.Sleep(50 * time.Millisecond)
	if got := len(emitter.seq()); got != 2 {
		t.Fatalf("timer fired after Stop: %v", emitter.seq())
	}
}

func TestRemoteTypingSuppressesOwnEcho(t *testing.T) {
	ti := NewTypingIndicator(&recordingEmitter{}, "u-1", "u-1", time.Second, time.Second)

	ti.OnRemoteTyping("u-1", true)
	if ti.CounterpartyTyping() {
		t.Fatal("own echo must not set the counterparty flag")
	}

	ti.OnRemoteTyping("admin-1", true)
	if !ti.CounterpartyTyping() {
		t.Fatal("counterparty typing flag not set")
	}

	ti.OnRemoteTyping("admin-1", false)
	if ti.CounterpartyTyping() {
		t.Fatal("counterparty typing flag not cleared")
	}
}

func TestRemoteTypingAutoClearsOnLostFalse(t *testing.T) {
	ti := NewTypingIndicator(&recordingEmitter{}, "u-1", "u-1", time.Second, 30*time.Millisecond)

	ti.OnRemoteTyping("admin-1", true)
	if !ti.CounterpartyTyping() {
		t.Fatal("counterparty typing flag not set")
	}

	// The typing=false event is lost; the expiry timer covers for it.
	waitUntil(t, "remote auto-clear", func() bool { return !ti.CounterpartyTyping() })
}

func TestRemoteTypingRefreshExtendsExpiry(t *testing.T) {
	ti := NewTypingIndicator(&recordingEmitter{}, "u-1", "u-1", time.Second, 50*time.Millisecond)

	ti.OnRemoteTyping("admin-1", true)
	time.Sleep(30 * time.Millisecond)
	ti.OnRemoteTyping("admin-1", true) // refresh before expiry

	time.Sleep(30 * time.Millisecond)
	if !ti.CounterpartyTyping() {
		t.Fatal("refresh should have extended the expiry")
	}

	waitUntil(t, "remote auto-clear", func() bool { return !ti.CounterpartyTyping() })
}
