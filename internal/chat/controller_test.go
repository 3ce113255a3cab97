package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/log"
	"github.com/certline/messenger/internal/proto"
	"github.com/certline/messenger/internal/rest"
)

// fakeCache is an in-memory stand-in for the sqlite snapshot cache.
type fakeCache struct {
	mu       sync.Mutex
	messages []proto.Message
}

func (f *fakeCache) ReplaceSnapshot(ctx context.Context, msgs []proto.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append([]proto.Message(nil), msgs...)
	return nil
}

func (f *fakeCache) Snapshot(ctx context.Context) ([]proto.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proto.Message(nil), f.messages...), nil
}

func (f *fakeCache) MarkRead(ctx context.Context, messageID string, readAt time.Time) error {
	return nil
}

func TestOpenLoadsSnapshotAndMarksRead(t *testing.T) {
	channel := &fakeChannel{connected: true}
	api := &fakeAPI{messages: []proto.Message{adminMsg("m-1", "hi"), adminMsg("m-2", "still there?"), userMsg("m-3", "yes")}}
	ctl, _ := newTestController(t, channel, api)

	if err := ctl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if got := len(ctl.Entries()); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
	if got := api.markedIDs(); len(got) != 2 {
		t.Fatalf("expected both admin messages marked read, got %v", got)
	}
	if ctl.UnreadCount() != 0 {
		t.Fatalf("expected unread 0 after open, got %d", ctl.UnreadCount())
	}

	channel.mu.Lock()
	joined := append([]string(nil), channel.joined...)
	channel.mu.Unlock()
	if len(joined) != 1 || joined[0] != "u-1" {
		t.Fatalf("expected join on the user's room, got %v", joined)
	}
}

func TestOpenWithFreshConversation(t *testing.T) {
	channel := &fakeChannel{connected: true}
	api := &fakeAPI{}
	ctl, _ := newTestController(t, channel, api)

	if err := ctl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if got := len(ctl.Entries()); got != 0 {
		t.Fatalf("expected empty log, got %d entries", got)
	}
	if ctl.UnreadCount() != 0 {
		t.Fatalf("expected unread 0, got %d", ctl.UnreadCount())
	}
	if got := api.markedIDs(); len(got) != 0 {
		t.Fatalf("nothing to mark read, got %v", got)
	}

	conv := ctl.Conversation()
	if conv.LastMessage != nil || !conv.UpdatedAt.IsZero() {
		t.Fatalf("expected empty-state summary, got %+v", conv)
	}
}

func TestOpenFallsBackToCachedSnapshot(t *testing.T) {
	channel := &fakeChannel{connected: true}
	api := &fakeAPI{convErr: errors.New("portal down")}
	cache := &fakeCache{messages: []proto.Message{adminMsg("m-1", "cached hello")}}

	b := bus.New()
	ctl := NewController(identityFor("u-1", "Pat Doe"), channel, api, cache, b, log.Nop(), Options{})

	events, cancel := b.Subscribe(16)
	defer cancel()

	if err := ctl.Open(context.Background()); err == nil {
		t.Fatal("expected fetch error to propagate")
	}

	entries := ctl.Entries()
	if len(entries) != 1 || entries[0].Content != "cached hello" {
		t.Fatalf("expected cached snapshot to seed the view, got %v", entries)
	}
	if ctl.UnreadCount() != 1 {
		t.Fatalf("expected unread recomputed from cache, got %d", ctl.UnreadCount())
	}
	if notice := mustNotice(t, events, bus.NoticeError); !strings.Contains(notice.Text, "load conversation") {
		t.Fatalf("unexpected notice text %q", notice.Text)
	}
}

func TestOpenUnauthorizedStaysSilent(t *testing.T) {
	channel := &fakeChannel{connected: true}
	api := &fakeAPI{convErr: rest.ErrUnauthorized}
	ctl, b := newTestController(t, channel, api)

	events, cancel := b.Subscribe(16)
	defer cancel()

	if err := ctl.Open(context.Background()); !errors.Is(err, rest.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind == bus.EventNoticeRaised {
			t.Fatalf("auth failures must not surface as notices: %+v", ev.Notice)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	ctl, _ := newTestController(t, &fakeChannel{connected: true}, &fakeAPI{})

	_, err := ctl.Send(context.Background(), "   \n\t ", nil)
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Code != ErrCodeEmptyMessage {
		t.Fatalf("expected empty-message error, got %v", err)
	}
	if got := len(ctl.Entries()); got != 0 {
		t.Fatalf("nothing should be appended on validation failure, got %d entries", got)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	ctl, _ := newTestController(t, &fakeChannel{connected: false}, &fakeAPI{})

	_, err := ctl.Send(context.Background(), "hello?", nil)
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Code != ErrCodeNotConnected {
		t.Fatalf("expected not-connected error, got %v", err)
	}
}

func TestSendAppendsOptimisticallyAndEchoConfirms(t *testing.T) {
	channel := &fakeChannel{connected: true}
	api := &fakeAPI{}
	ctl, _ := newTestController(t, channel, api)

	msg, err := ctl.Send(context.Background(), "can you check my application?", nil)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	entries := ctl.Entries()
	if len(entries) != 1 || !entries[0].Provisional || !entries[0].IsMine {
		t.Fatalf("expected one provisional own entry, got %+v", entries)
	}

	echo := *msg
	ctl.handle(context.Background(), bus.Event{Kind: bus.EventMessageReceived, Message: &echo})

	entries = ctl.Entries()
	if len(entries) != 1 {
		t.Fatalf("echo must not duplicate the message, got %d entries", len(entries))
	}
	if entries[0].Provisional {
		t.Fatal("echo should confirm the provisional entry")
	}
	if ctl.UnreadCount() != 0 {
		t.Fatalf("own message must not count as unread, got %d", ctl.UnreadCount())
	}
}

func TestSendFailureKeepsComposeState(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("502 bad gateway")}
	ctl, _ := newTestController(t, &fakeChannel{connected: true}, api)

	if _, err := ctl.Send(context.Background(), "hello", nil); err == nil {
		t.Fatal("expected send error")
	}
	if got := len(ctl.Entries()); got != 0 {
		t.Fatalf("failed send must not append, got %d entries", got)
	}
}

func TestInboundWhileOpenMarksReadImmediately(t *testing.T) {
	channel := &fakeChannel{connected: true}
	api := &fakeAPI{}
	ctl, _ := newTestController(t, channel, api)

	if err := ctl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	msg := adminMsg("m-1", "your certificate is ready")
	ctl.handle(context.Background(), bus.Event{Kind: bus.EventMessageReceived, Message: &msg})

	waitUntil(t, "server mark-read call", func() bool {
		ids := api.markedIDs()
		return len(ids) == 1 && ids[0] == "m-1"
	})
	waitUntil(t, "unread counter reset", func() bool { return ctl.UnreadCount() == 0 })
}

func TestDuplicateInboundDeliveryCountsOnce(t *testing.T) {
	ctl, _ := newTestController(t, &fakeChannel{}, &fakeAPI{})

	msg := adminMsg("m-1", "hello")
	ctl.handle(context.Background(), bus.Event{Kind: bus.EventMessageReceived, Message: &msg})
	ctl.handle(context.Background(), bus.Event{Kind: bus.EventMessageReceived, Message: &msg})

	if got := len(ctl.Entries()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
	if ctl.UnreadCount() != 1 {
		t.Fatalf("duplicate delivery must not double-count, got %d", ctl.UnreadCount())
	}
}

func TestOversizedAttachmentIsRejectedPerFile(t *testing.T) {
	channel := &fakeChannel{connected: true}
	api := &fakeAPI{}
	b := bus.New()
	ctl := NewController(identityFor("u-1", "Pat Doe"), channel, api, nil, b, log.Nop(),
		Options{MaxAttachmentSize: 1 << 20})

	events, cancel := b.Subscribe(16)
	defer cancel()

	files := []rest.Upload{
		{Filename: "scan.pdf", Size: 512, Reader: strings.NewReader("ok")},
		{Filename: "video.mov", Size: 50 << 20, Reader: strings.NewReader("huge")},
	}
	if _, err := ctl.Send(context.Background(), "attached", files); err != nil {
		t.Fatalf("send with one valid file should proceed: %v", err)
	}

	if notice := mustNotice(t, events, bus.NoticeError); !strings.Contains(notice.Text, "video.mov") {
		t.Fatalf("rejection notice should name the file, got %q", notice.Text)
	}

	// Only rejected files and no content leaves nothing to send.
	_, err := ctl.Send(context.Background(), "", []rest.Upload{{Filename: "video.mov", Size: 50 << 20}})
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Code != ErrCodeEmptyMessage {
		t.Fatalf("expected empty-message error, got %v", err)
	}
}

func TestPresenceAndTypingFlags(t *testing.T) {
	ctl, _ := newTestController(t, &fakeChannel{}, &fakeAPI{})

	ctl.handle(context.Background(), bus.Event{Kind: bus.EventPresenceChanged, IsOnline: true})
	if !ctl.AdminOnline() {
		t.Fatal("presence flag not set")
	}

	ctl.handle(context.Background(), bus.Event{Kind: bus.EventTypingChanged, UserID: "admin-1", IsTyping: true})
	if !ctl.CounterpartyTyping() {
		t.Fatal("typing flag not set")
	}

	// The local user's echoed typing event must not flip the flag.
	ctl.handle(context.Background(), bus.Event{Kind: bus.EventTypingChanged, UserID: "u-1", IsTyping: false})
	if !ctl.CounterpartyTyping() {
		t.Fatal("own echo cleared the counterparty flag")
	}
}

func TestConversationSummary(t *testing.T) {
	ctl, _ := newTestController(t, &fakeChannel{}, &fakeAPI{})

	conv := ctl.Conversation()
	if conv.Subject != Subject || conv.LastMessage != nil {
		t.Fatalf("unexpected empty summary: %+v", conv)
	}

	msg := adminMsg("m-1", "hello")
	ctl.handle(context.Background(), bus.Event{Kind: bus.EventMessageReceived, Message: &msg})

	conv = ctl.Conversation()
	if conv.LastMessage == nil || conv.LastMessage.ID != "m-1" {
		t.Fatalf("expected last message m-1, got %+v", conv.LastMessage)
	}
	if conv.UnreadCount != 1 || !conv.UpdatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("unexpected summary: %+v", conv)
	}
}

func TestReconnectRequestPassesThrough(t *testing.T) {
	channel := &fakeChannel{}
	ctl, _ := newTestController(t, channel, &fakeAPI{})

	ctl.RequestReconnect(context.Background())

	channel.mu.Lock()
	defer channel.mu.Unlock()
	if channel.reconnects != 1 {
		t.Fatalf("expected one reconnect request, got %d", channel.reconnects)
	}
}
