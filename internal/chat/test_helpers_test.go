package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/identity"
	"github.com/certline/messenger/internal/log"
	"github.com/certline/messenger/internal/proto"
	"github.com/certline/messenger/internal/rest"
)

func identityFor(id, name string) identity.Identity {
	return identity.Identity{ID: id, FullName: name}
}

// fakeChannel records outbound actions instead of touching a socket.
type fakeChannel struct {
	mu         sync.Mutex
	connected  bool
	joined     []string
	typing     []bool
	reconnects int
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) JoinConversation(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
}

func (f *fakeChannel) LeaveConversation(id string) {}

func (f *fakeChannel) SendTyping(id string, isTyping bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
}

func (f *fakeChannel) Reconnect(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeChannel) typingSeq() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.typing))
	copy(out, f.typing)
	return out
}

// fakeAPI is an in-memory portal API.
type fakeAPI struct {
	mu       sync.Mutex
	messages []proto.Message
	unread   int
	convErr  error
	markErr  map[string]error
	marked   []string
	sendErr  error
	nextID   int
}

func (f *fakeAPI) Conversation(ctx context.Context) ([]proto.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	out := make([]proto.Message, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markErr[messageID]; err != nil {
		return err
	}
	f.marked = append(f.marked, messageID)
	return nil
}

func (f *fakeAPI) Send(ctx context.Context, content string, files []rest.Upload) (*proto.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	msg := proto.Message{
		ID:         fmt.Sprintf("srv-%d", f.nextID),
		Content:    content,
		Sender:     proto.Sender{ID: "u-1", FullName: "Pat Doe"},
		SenderType: proto.SenderTypeUser,
		Receiver:   proto.ReceiverAdmin,
		CreatedAt:  time.Now().UTC(),
	}
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeAPI) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.marked))
	copy(out, f.marked)
	return out
}

func newTestController(t *testing.T, channel *fakeChannel, api *fakeAPI) (*Controller, *bus.Bus) {
	t.Helper()

	b := bus.New()
	ctl := NewController(
		identityFor("u-1", "Pat Doe"),
		channel, api, nil, b, log.Nop(),
		Options{TypingDebounce: 20 * time.Millisecond, TypingExpiry: 30 * time.Millisecond},
	)
	return ctl, b
}

func mustNotice(t *testing.T, ch <-chan bus.Event, level string) *bus.Notice {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == bus.EventNoticeRaised && ev.Notice != nil && ev.Notice.Level == level {
				return ev.Notice
			}
		case <-deadline:
			t.Fatalf("expected %s notice not received", level)
			return nil
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
