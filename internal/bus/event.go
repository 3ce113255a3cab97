package bus

import "github.com/certline/messenger/internal/proto"

// EventKind enumerates everything the subsystem can announce. The set is
// closed: consumers switch on the kind instead of registering string-keyed
// listeners.
type EventKind int

const (
	// EventConnected fires when the real-time channel completes its handshake.
	EventConnected EventKind = iota
	// EventDisconnected fires when the channel closes, carrying the reason.
	EventDisconnected
	// EventConnectFailed fires when a dial or handshake attempt fails.
	EventConnectFailed
	// EventReconnecting fires before each automatic reconnection attempt.
	EventReconnecting
	// EventMessageReceived delivers an inbound chat message.
	EventMessageReceived
	// EventReadReceipt reports that a message was read by its receiver.
	EventReadReceipt
	// EventTypingChanged reports a typing transition for some user.
	EventTypingChanged
	// EventPresenceChanged reports admin availability.
	EventPresenceChanged
	// EventNoticeRaised surfaces a user-facing notification.
	EventNoticeRaised
)

// Event describes what happened. Which fields are set depends on Kind.
type Event struct {
	Kind      EventKind
	Reason    string         // EventDisconnected
	Err       error          // EventConnectFailed
	Attempt   int            // EventReconnecting
	Message   *proto.Message // EventMessageReceived
	MessageID string         // EventReadReceipt
	UserID    string         // EventTypingChanged, EventPresenceChanged
	IsTyping  bool           // EventTypingChanged
	IsOnline  bool           // EventPresenceChanged
	Notice    *Notice        // EventNoticeRaised
}

// Notice levels.
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

// Notice actions a renderer may attach to the notification.
const (
	ActionViewConversation = "view-conversation"
)

// Notice is a user-facing notification with an optional follow-up action.
type Notice struct {
	Level  string
	Text   string
	Action string
}
