// Package chat holds the client-side state of the single admin-support
// conversation: the ordered message log, the unread counter, typing state and
// the controller that ties them to the connection and the REST API.
package chat

import (
	"sync"
	"time"

	"github.com/certline/messenger/internal/proto"
)

// Entry is one rendered message in the conversation log.
type Entry struct {
	proto.Message

	// IsMine is resolved from the sender id against the session's user id.
	IsMine bool
	// Provisional marks an optimistic local append that the server has not
	// echoed back yet.
	Provisional bool
}

// MessageLog is the append-only, de-duplicated log of the conversation.
// All mutations are idempotent by message id, so duplicate socket deliveries
// and REST/socket races never produce duplicate visible messages.
type MessageLog struct {
	mu     sync.Mutex
	selfID string

	entries []Entry
	index   map[string]int
}

// NewMessageLog builds an empty log for the given local user id.
func NewMessageLog(selfID string) *MessageLog {
	return &MessageLog{
		selfID: selfID,
		index:  make(map[string]int),
	}
}

// LoadSnapshot replaces or seeds the log from a REST snapshot. Server order
// is kept as-is (chronological).
func (l *MessageLog) LoadSnapshot(msgs []proto.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make([]Entry, 0, len(msgs))
	l.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		if _, dup := l.index[m.ID]; dup {
			continue
		}
		l.index[m.ID] = len(l.entries)
		l.entries = append(l.entries, Entry{Message: m, IsMine: m.Sender.ID == l.selfID})
	}
}

// ApplyInbound inserts a message delivered over the real-time channel.
// If the id is already present the call confirms a provisional entry (server
// echo of our own send) and is otherwise a no-op. Returns true only when a
// new entry was appended.
func (l *MessageLog) ApplyInbound(msg proto.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.index[msg.ID]; ok {
		entry := &l.entries[i]
		entry.Provisional = false
		// The echo is authoritative for everything except the read flag,
		// which never goes back from true to false.
		read, readAt := entry.Read, entry.ReadAt
		entry.Message = msg
		if read && !msg.Read {
			entry.Read, entry.ReadAt = read, readAt
		}
		entry.IsMine = msg.Sender.ID == l.selfID
		return false
	}

	l.index[msg.ID] = len(l.entries)
	l.entries = append(l.entries, Entry{Message: msg, IsMine: msg.Sender.ID == l.selfID})
	return true
}

// AppendLocal records an optimistic entry for a message we just sent, keyed
// by the server-assigned id from the send response. The later echo via the
// real-time channel confirms it instead of duplicating it.
func (l *MessageLog) AppendLocal(msg proto.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[msg.ID]; ok {
		return
	}
	l.index[msg.ID] = len(l.entries)
	l.entries = append(l.entries, Entry{Message: msg, IsMine: true, Provisional: true})
}

// ApplyRead flips the read flag on the matching message. The transition is
// monotonic: once read, a message never becomes unread again. A receipt for
// an unknown id is dropped. Returns whether a transition happened and whether
// the message was authored by the counterparty.
func (l *MessageLog) ApplyRead(messageID string, readAt time.Time) (transitioned, fromCounterparty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[messageID]
	if !ok {
		return false, false
	}
	entry := &l.entries[i]
	if entry.Read {
		return false, entry.FromAdmin()
	}
	entry.Read = true
	at := readAt
	entry.ReadAt = &at
	return true, entry.FromAdmin()
}

// Entries returns a copy of the log in order.
func (l *MessageLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of visible messages.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// UnreadFromCounterparty recounts unread counterparty messages from scratch.
// The tracker uses it to (re)seed its counter; it is also the sanity check
// the counter must always agree with.
func (l *MessageLog) UnreadFromCounterparty() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if !e.Read && e.FromAdmin() {
			n++
		}
	}
	return n
}

// UnreadCounterpartyIDs lists ids of unread counterparty messages in order.
func (l *MessageLog) UnreadCounterpartyIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	for _, e := range l.entries {
		if !e.Read && e.FromAdmin() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Last returns the most recent entry, if any.
func (l *MessageLog) Last() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}
