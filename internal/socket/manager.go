// Package socket supervises the single real-time channel to the portal
// messaging server. Inbound frames are re-published on the process bus so
// independent consumers never touch the connection itself.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/identity"
	"github.com/certline/messenger/internal/proto"
)

const emitTimeout = 5 * time.Second

// Options configures the connection manager.
type Options struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
}

// Manager owns at most one live channel per session. Connection failures are
// never fatal: the rest of the client degrades to REST polling.
type Manager struct {
	opts  Options
	creds identity.Provider
	bus   *bus.Bus
	log   *zerolog.Logger

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	gen    uint64 // connection generation; guards against stale supervisors
}

// NewManager builds a manager. The channel is not opened until Initialize.
func NewManager(opts Options, creds identity.Provider, b *bus.Bus, logger *zerolog.Logger) *Manager {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 20 * time.Second
	}
	return &Manager{opts: opts, creds: creds, bus: b, log: logger}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the channel is live.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Initialize opens the channel for the current session credential. Without a
// credential it is a no-op. Any prior channel is torn down first, so at most
// one channel exists per session. Dialing and retries happen in the
// background; errors surface on the bus, not here.
func (m *Manager) Initialize(ctx context.Context) {
	cred, err := m.creds.Credential()
	if err != nil {
		m.log.Debug().Err(err).Msg("no credential, skipping socket connection")
		return
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.teardownLocked()
	}
	superCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.mu.Unlock()

	// Each generation of the channel gets its own id for log correlation.
	connLog := m.log.With().Str("conn_id", uuid.NewString()).Logger()
	go m.supervise(superCtx, gen, cred, &connLog)
}

// Reconnect is the manual path after automatic retries are exhausted. It is a
// no-op while a channel is live or being established.
func (m *Manager) Reconnect(ctx context.Context) {
	switch m.State() {
	case StateConnected, StateConnecting:
		m.log.Debug().Msg("reconnect requested while channel is live, ignoring")
		return
	}
	m.Initialize(ctx)
}

// Teardown closes the channel. Safe to call when no channel is open.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.state = StateDisconnected
}

func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.Close(websocket.StatusNormalClosure, "client teardown")
		m.conn = nil
	}
	m.gen++
}

// SendTyping emits a typing transition. Guarded no-op when not connected.
func (m *Manager) SendTyping(conversationID string, isTyping bool) {
	m.emit(proto.EventTyping, proto.TypingEmit{ConversationID: conversationID, IsTyping: isTyping})
}

// JoinConversation announces presence in a conversation room. Guarded no-op
// when not connected.
func (m *Manager) JoinConversation(conversationID string) {
	m.emit(proto.EventJoinConversation, proto.JoinData{ConversationID: conversationID})
}

// LeaveConversation leaves a conversation room. Guarded no-op when not connected.
func (m *Manager) LeaveConversation(conversationID string) {
	m.emit(proto.EventLeaveConversation, proto.JoinData{ConversationID: conversationID})
}

func (m *Manager) emit(event string, payload any) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.log.Debug().Str("event", event).Msg("channel not connected, dropping emit")
		return
	}

	frame, err := proto.NewFrame(event, payload)
	if err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("encode frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("write frame")
	}
}

// supervise runs the connect/read/reconnect loop for one generation of the
// channel. It exits when the context is cancelled or the retry budget is
// spent.
func (m *Manager) supervise(ctx context.Context, gen uint64, cred identity.Credential, logger *zerolog.Logger) {
	attempt := 0
	for {
		if attempt > 0 {
			m.bus.Publish(bus.Event{Kind: bus.EventReconnecting, Attempt: attempt})
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.opts.ReconnectDelay):
			}
		}

		m.setState(gen, StateConnecting)
		conn, err := m.dial(ctx, cred)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setState(gen, StateError)
			m.bus.Publish(bus.Event{Kind: bus.EventConnectFailed, Err: err})
			attempt++
			if attempt >= m.opts.ReconnectAttempts {
				logger.Warn().Err(err).Int("attempts", attempt).
					Msg("reconnect attempts exhausted, waiting for manual reconnect")
				return
			}
			logger.Debug().Err(err).Int("attempt", attempt).Msg("socket connect failed")
			continue
		}

		attempt = 0
		if !m.adoptConn(gen, conn) {
			// A newer generation took over while we were dialing.
			conn.Close(websocket.StatusNormalClosure, "superseded")
			return
		}
		m.bus.Publish(bus.Event{Kind: bus.EventConnected})
		logger.Info().Str("url", m.opts.URL).Msg("socket connected")

		// Announce presence in the session's own room.
		if cred.User.ID != "" {
			m.JoinConversation(cred.User.ID)
		}

		reason := m.readLoop(ctx, conn)
		m.dropConn(gen)
		m.setState(gen, StateDisconnected)
		m.bus.Publish(bus.Event{Kind: bus.EventDisconnected, Reason: reason})
		if ctx.Err() != nil {
			return
		}
		logger.Info().Str("reason", reason).Msg("socket disconnected, scheduling reconnect")
		attempt = 1
	}
}

// dial opens the websocket and completes the hello/ready handshake.
func (m *Manager) dial(ctx context.Context, cred identity.Credential) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, m.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	hello, err := proto.NewFrame(proto.EventHello, proto.HelloData{Token: cred.Token})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode hello")
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	if err := wsjson.Write(dialCtx, conn, hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "hello failed")
		return nil, fmt.Errorf("write hello: %w", err)
	}

	var ready proto.Frame
	if err := wsjson.Read(dialCtx, conn, &ready); err != nil {
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, fmt.Errorf("read ready: %w", err)
	}
	if ready.Event != proto.EventReady {
		conn.Close(websocket.StatusProtocolError, "unexpected handshake frame")
		return nil, fmt.Errorf("handshake: expected %q, got %q", proto.EventReady, ready.Event)
	}

	var ack proto.ReadyData
	if len(ready.Data) > 0 {
		if err := json.Unmarshal(ready.Data, &ack); err == nil && ack.SessionID != "" {
			m.log.Debug().Str("session_id", ack.SessionID).Msg("socket session established")
		}
	}

	return conn, nil
}

// readLoop decodes frames until the connection drops and returns the close
// reason. Inbound events are processed in arrival order.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) string {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() != nil {
				return "client teardown"
			}
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Sprintf("close status %d", status)
			}
			return err.Error()
		}
		m.dispatch(frame)
	}
}

func (m *Manager) dispatch(frame proto.Frame) {
	switch frame.Event {
	case proto.EventNewMessage:
		var msg proto.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			m.log.Warn().Err(err).Msg("decode new-message")
			return
		}
		m.bus.Publish(bus.Event{Kind: bus.EventMessageReceived, Message: &msg})
	case proto.EventMessageRead:
		var receipt proto.ReadReceipt
		if err := json.Unmarshal(frame.Data, &receipt); err != nil {
			m.log.Warn().Err(err).Msg("decode message-read")
			return
		}
		m.bus.Publish(bus.Event{Kind: bus.EventReadReceipt, MessageID: receipt.MessageID})
	case proto.EventUserTyping:
		var typing proto.TypingState
		if err := json.Unmarshal(frame.Data, &typing); err != nil {
			m.log.Warn().Err(err).Msg("decode user-typing")
			return
		}
		m.bus.Publish(bus.Event{Kind: bus.EventTypingChanged, UserID: typing.UserID, IsTyping: typing.IsTyping})
	case proto.EventAdminOnline:
		var presence proto.Presence
		if err := json.Unmarshal(frame.Data, &presence); err != nil {
			m.log.Warn().Err(err).Msg("decode admin-online")
			return
		}
		m.bus.Publish(bus.Event{Kind: bus.EventPresenceChanged, UserID: presence.AdminID, IsOnline: presence.IsOnline})
	default:
		m.log.Debug().Str("event", frame.Event).Msg("ignoring unknown event")
	}
}

func (m *Manager) setState(gen uint64, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.state = s
}

func (m *Manager) adoptConn(gen uint64, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.conn = conn
	m.state = StateConnected
	return true
}

func (m *Manager) dropConn(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.conn = nil
}
