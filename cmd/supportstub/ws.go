package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/certline/messenger/internal/proto"
)

// wsClient is one connected socket. Frames are queued on a buffered channel
// and written by a dedicated loop; slow clients lose frames instead of
// blocking the broadcaster.
type wsClient struct {
	userID string
	frames chan proto.Frame
}

func (s *stubServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The first frame must be the hello carrying the bearer token.
	var hello proto.Frame
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return
	}
	if hello.Event != proto.EventHello {
		conn.Close(websocket.StatusProtocolError, "expected hello")
		return
	}
	var auth proto.HelloData
	if err := json.Unmarshal(hello.Data, &auth); err != nil {
		conn.Close(websocket.StatusProtocolError, "bad hello")
		return
	}
	user, err := s.userFromToken("Bearer " + auth.Token)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}

	ready, err := proto.NewFrame(proto.EventReady, proto.ReadyData{SessionID: uuid.NewString()})
	if err != nil {
		return
	}
	if err := wsjson.Write(ctx, conn, ready); err != nil {
		return
	}

	client := &wsClient{userID: user.ID, frames: make(chan proto.Frame, 8)}
	s.joinRoom(user.ID, client)
	defer s.leaveRooms(client)

	s.log.Info().Str("user_id", user.ID).Msg("socket client connected")

	// Let the client know support is around.
	s.broadcast(user.ID, proto.EventAdminOnline, proto.Presence{AdminID: "admin-1", IsOnline: true})

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- s.writeLoop(ctx, conn, client)
	}()

	<-errCh
	cancel()
	<-errCh

	s.log.Info().Str("user_id", user.ID).Msg("socket client disconnected")
	conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *stubServer) readLoop(ctx context.Context, conn *websocket.Conn, client *wsClient) error {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}

		switch frame.Event {
		case proto.EventJoinConversation:
			var join proto.JoinData
			if err := json.Unmarshal(frame.Data, &join); err == nil && join.ConversationID != "" {
				s.joinRoom(join.ConversationID, client)
			}
		case proto.EventLeaveConversation:
			var leave proto.JoinData
			if err := json.Unmarshal(frame.Data, &leave); err == nil && leave.ConversationID != "" {
				s.leaveRoom(leave.ConversationID, client)
			}
		case proto.EventTyping:
			var typing proto.TypingEmit
			if err := json.Unmarshal(frame.Data, &typing); err != nil {
				continue
			}
			// Relay to everyone in the room; clients suppress their own echo.
			s.broadcast(typing.ConversationID, proto.EventUserTyping,
				proto.TypingState{UserID: client.userID, IsTyping: typing.IsTyping})
		default:
			s.log.Debug().Str("event", frame.Event).Msg("ignoring client frame")
		}
	}
}

func (s *stubServer) writeLoop(ctx context.Context, conn *websocket.Conn, client *wsClient) error {
	for {
		select {
		case frame := <-client.frames:
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *stubServer) joinRoom(room string, client *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[room] == nil {
		s.rooms[room] = make(map[*wsClient]struct{})
	}
	s.rooms[room][client] = struct{}{}
}

func (s *stubServer) leaveRoom(room string, client *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms[room], client)
	if len(s.rooms[room]) == 0 {
		delete(s.rooms, room)
	}
}

func (s *stubServer) leaveRooms(client *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for room, members := range s.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
}

// broadcast queues a frame for every client in the room.
func (s *stubServer) broadcast(room, event string, payload any) {
	frame, err := proto.NewFrame(event, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("encode frame")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.rooms[room] {
		select {
		case client.frames <- frame:
		default:
			// Drop if slow consumer.
		}
	}
}
