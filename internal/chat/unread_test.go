package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/log"
	"github.com/certline/messenger/internal/proto"
)

func TestRecomputeOnSnapshot(t *testing.T) {
	l := NewMessageLog("u-1")
	b := bus.New()
	tracker := NewUnreadTracker(l, &fakeAPI{}, b, log.Nop())

	read := adminMsg("m-3", "older")
	read.Read = true
	l.LoadSnapshot([]proto.Message{adminMsg("m-1", "one"), adminMsg("m-2", "two"), read, userMsg("m-4", "mine")})
	tracker.Recompute()

	if tracker.Count() != 2 {
		t.Fatalf("expected unread 2, got %d", tracker.Count())
	}
	if tracker.Count() != l.UnreadFromCounterparty() {
		t.Fatal("counter out of sync with log")
	}
}

func TestBulkMarkReadWithOneFailure(t *testing.T) {
	l := NewMessageLog("u-1")
	b := bus.New()
	api := &fakeAPI{markErr: map[string]error{"m-2": errors.New("boom")}}
	tracker := NewUnreadTracker(l, api, b, log.Nop())

	l.LoadSnapshot([]proto.Message{adminMsg("m-1", "one"), adminMsg("m-2", "two"), adminMsg("m-3", "three")})
	tracker.Recompute()

	events, cancel := b.Subscribe(16)
	defer cancel()

	flipped := tracker.MarkConversationRead(context.Background())
	if flipped != 2 {
		t.Fatalf("expected 2 transitions, got %d", flipped)
	}
	if tracker.Count() != 1 {
		t.Fatalf("expected counter 1 after partial failure, got %d", tracker.Count())
	}

	entries := l.Entries()
	if !entries[0].Read || entries[1].Read || !entries[2].Read {
		t.Fatalf("unexpected read flags: %v %v %v", entries[0].Read, entries[1].Read, entries[2].Read)
	}

	// The failure is reported as a non-blocking notice, not an error.
	if notice := mustNotice(t, events, bus.NoticeError); notice.Action != "" {
		t.Fatalf("mark-read failure notice should carry no action, got %q", notice.Action)
	}
}

func TestInboundWhileViewClosedRaisesNotice(t *testing.T) {
	l := NewMessageLog("u-1")
	b := bus.New()
	tracker := NewUnreadTracker(l, &fakeAPI{}, b, log.Nop())

	events, cancel := b.Subscribe(16)
	defer cancel()

	msg := adminMsg("m-9", "your certificate is ready")
	l.ApplyInbound(msg)
	tracker.OnInbound(msg, false)

	if tracker.Count() != 1 {
		t.Fatalf("expected counter 1, got %d", tracker.Count())
	}
	notice := mustNotice(t, events, bus.NoticeInfo)
	if notice.Action != bus.ActionViewConversation {
		t.Fatalf("expected view action on notice, got %q", notice.Action)
	}
}

func TestInboundOwnMessageDoesNotCount(t *testing.T) {
	l := NewMessageLog("u-1")
	b := bus.New()
	tracker := NewUnreadTracker(l, &fakeAPI{}, b, log.Nop())

	msg := userMsg("m-5", "ping")
	l.ApplyInbound(msg)
	tracker.OnInbound(msg, false)

	if tracker.Count() != 0 {
		t.Fatalf("own messages must not count as unread, got %d", tracker.Count())
	}
}

func TestReadReceiptsNeverGoNegative(t *testing.T) {
	l := NewMessageLog("u-1")
	b := bus.New()
	tracker := NewUnreadTracker(l, &fakeAPI{}, b, log.Nop())

	msg := adminMsg("m-1", "hello")
	l.ApplyInbound(msg)
	tracker.OnInbound(msg, true)

	now := time.Now()
	tracker.OnReadReceipt("m-1", now)
	tracker.OnReadReceipt("m-1", now) // duplicate receipt
	tracker.OnReadReceipt("ghost", now)

	if tracker.Count() != 0 {
		t.Fatalf("expected counter 0, got %d", tracker.Count())
	}

	tracker.SetCount(-3)
	if tracker.Count() != 0 {
		t.Fatalf("counter must clamp at zero, got %d", tracker.Count())
	}
}
