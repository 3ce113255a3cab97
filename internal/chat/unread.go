package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/proto"
)

// MarkReader issues the per-message mark-read call against the server.
type MarkReader interface {
	MarkRead(ctx context.Context, messageID string) error
}

// UnreadTracker keeps the unread counter in sync with the message log and
// drives mark-as-read against the server. The counter never goes below zero
// and is always recomputable from the log.
type UnreadTracker struct {
	mlog *MessageLog
	api  MarkReader
	bus  *bus.Bus
	log  *zerolog.Logger

	mu    sync.Mutex
	count int
}

// NewUnreadTracker builds a tracker over the given log.
func NewUnreadTracker(mlog *MessageLog, api MarkReader, b *bus.Bus, logger *zerolog.Logger) *UnreadTracker {
	return &UnreadTracker{mlog: mlog, api: api, bus: b, log: logger}
}

// Count returns the current unread counter.
func (t *UnreadTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// SetCount seeds the counter from the server's unread endpoint.
func (t *UnreadTracker) SetCount(n int) {
	if n < 0 {
		n = 0
	}
	t.mu.Lock()
	t.count = n
	t.mu.Unlock()
}

// Recompute re-derives the counter from the message log. Called after every
// snapshot load.
func (t *UnreadTracker) Recompute() {
	n := t.mlog.UnreadFromCounterparty()
	t.mu.Lock()
	t.count = n
	t.mu.Unlock()
}

// OnInbound accounts for a freshly inserted counterparty message. When the
// conversation view is closed, a user-facing notice with a jump-to-view
// action is raised.
func (t *UnreadTracker) OnInbound(msg proto.Message, viewOpen bool) {
	if !msg.FromAdmin() || msg.Read {
		return
	}

	t.mu.Lock()
	t.count++
	t.mu.Unlock()

	if !viewOpen {
		from := msg.Sender.FullName
		if from == "" {
			from = "Admin"
		}
		t.bus.Publish(bus.Event{Kind: bus.EventNoticeRaised, Notice: &bus.Notice{
			Level:  bus.NoticeInfo,
			Text:   fmt.Sprintf("New message from %s", from),
			Action: bus.ActionViewConversation,
		}})
	}
}

// OnReadReceipt applies an inbound read event. The counter decrements only
// when the receipt actually transitioned an unread counterparty message, so
// duplicate receipts are harmless.
func (t *UnreadTracker) OnReadReceipt(messageID string, readAt time.Time) {
	transitioned, fromCounterparty := t.mlog.ApplyRead(messageID, readAt)
	if !transitioned || !fromCounterparty {
		return
	}

	t.mu.Lock()
	if t.count > 0 {
		t.count--
	}
	t.mu.Unlock()
}

// MarkConversationRead marks every unread counterparty message as read on
// the server. Each message is flipped independently: one failed call does not
// stop the rest, and already-flipped messages stay read. Returns the number
// of messages that transitioned.
func (t *UnreadTracker) MarkConversationRead(ctx context.Context) int {
	ids := t.mlog.UnreadCounterpartyIDs()
	flipped := 0
	failed := 0

	for _, id := range ids {
		if err := t.api.MarkRead(ctx, id); err != nil {
			failed++
			t.log.Warn().Err(err).Str("message_id", id).Msg("mark read failed")
			continue
		}

		transitioned, _ := t.mlog.ApplyRead(id, time.Now())
		if !transitioned {
			continue
		}
		flipped++
		t.mu.Lock()
		if t.count > 0 {
			t.count--
		}
		t.mu.Unlock()

		// Keep other widgets (badges, second windows) consistent.
		t.bus.Publish(bus.Event{Kind: bus.EventReadReceipt, MessageID: id})
	}

	if failed > 0 {
		t.bus.Publish(bus.Event{Kind: bus.EventNoticeRaised, Notice: &bus.Notice{
			Level: bus.NoticeError,
			Text:  fmt.Sprintf("%d message(s) could not be marked read", failed),
		}})
	}
	return flipped
}
