package chat

import (
	"sync"
	"time"
)

// TypingEmitter sends typing transitions to the counterparty.
type TypingEmitter interface {
	SendTyping(conversationID string, isTyping bool)
}

// TypingIndicator debounces the local "I am typing" signal and tracks the
// counterparty's. Purely transient state; nothing here is persisted.
type TypingIndicator struct {
	emitter  TypingEmitter
	convID   string
	selfID   string
	debounce time.Duration
	expiry   time.Duration

	mu          sync.Mutex
	active      bool // we have announced typing=true and not yet retracted it
	stopTimer   *time.Timer
	remote      bool // counterparty is typing
	remoteTimer *time.Timer
}

// NewTypingIndicator builds an indicator for the given conversation.
// debounce is the silence interval after which typing=false is sent; expiry
// auto-clears the counterparty flag when its typing=false event is lost.
func NewTypingIndicator(emitter TypingEmitter, convID, selfID string, debounce, expiry time.Duration) *TypingIndicator {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if expiry <= 0 {
		expiry = 3 * time.Second
	}
	return &TypingIndicator{
		emitter:  emitter,
		convID:   convID,
		selfID:   selfID,
		debounce: debounce,
		expiry:   expiry,
	}
}

// OnLocalInput reacts to a keystroke in the compose box. A non-empty input
// announces typing=true; every call restarts the silence timer whose expiry
// announces typing=false. Debounce, not throttle: a keystroke just before
// expiry pushes the retraction out by the full interval.
func (t *TypingIndicator) OnLocalInput(hasText bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if hasText {
		t.emitter.SendTyping(t.convID, true)
		t.active = true
	}

	if t.stopTimer != nil {
		t.stopTimer.Stop()
	}
	t.stopTimer = time.AfterFunc(t.debounce, t.timerExpired)
}

func (t *TypingIndicator) timerExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return
	}
	t.active = false
	t.emitter.SendTyping(t.convID, false)
}

// Stop retracts the typing announcement immediately. Called on blur, send and
// view close. Idempotent.
func (t *TypingIndicator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
	if t.active {
		t.active = false
		t.emitter.SendTyping(t.convID, false)
	}
}

// OnRemoteTyping applies an inbound typing event. Events for the local user
// are echoes of our own signal and are ignored. A true transition arms an
// auto-clear timer so a lost typing=false event cannot leave the flag stuck.
func (t *TypingIndicator) OnRemoteTyping(userID string, isTyping bool) {
	if userID == t.selfID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.remoteTimer != nil {
		t.remoteTimer.Stop()
		t.remoteTimer = nil
	}
	t.remote = isTyping
	if isTyping {
		t.remoteTimer = time.AfterFunc(t.expiry, t.remoteExpired)
	}
}

func (t *TypingIndicator) remoteExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = false
}

// CounterpartyTyping reports whether the counterparty is currently typing.
func (t *TypingIndicator) CounterpartyTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// Close cancels all timers and retracts any outstanding announcement.
func (t *TypingIndicator) Close() {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remoteTimer != nil {
		t.remoteTimer.Stop()
		t.remoteTimer = nil
	}
	t.remote = false
}
