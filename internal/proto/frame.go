package proto

import "encoding/json"

// Frame is the envelope for everything crossing the real-time channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event names are the wire contract with the portal backend and must not change.
const (
	// Handshake
	EventHello = "hello"
	EventReady = "ready"

	// Server → client
	EventNewMessage  = "new-message"
	EventMessageRead = "message-read"
	EventUserTyping  = "user-typing"
	EventAdminOnline = "admin-online"

	// Client → server
	EventTyping            = "typing"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
)

// NewFrame marshals a payload into a frame for the given event.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// HelloData authenticates the channel right after dial.
type HelloData struct {
	Token string `json:"token"`
}

// ReadyData acknowledges the handshake and names the socket session.
type ReadyData struct {
	SessionID string `json:"sessionId"`
}

// ReadReceipt reports that a single message was read.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
}

// TypingState reports a typing transition for a user.
type TypingState struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// Presence reports admin availability.
type Presence struct {
	AdminID  string `json:"adminId"`
	IsOnline bool   `json:"isOnline"`
}

// TypingEmit is the outbound payload for the typing event.
type TypingEmit struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// JoinData names the conversation room to enter or leave.
type JoinData struct {
	ConversationID string `json:"conversationId"`
}
