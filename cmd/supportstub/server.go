package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/certline/messenger/internal/identity"
	"github.com/certline/messenger/internal/proto"
)

const contextKeyUser = "user"

type stubServer struct {
	secret    []byte
	autoReply bool
	log       *zerolog.Logger

	mu       sync.Mutex
	messages []proto.Message
	rooms    map[string]map[*wsClient]struct{}
}

func newStubServer(secret []byte, autoReply bool, logger *zerolog.Logger) *stubServer {
	return &stubServer{
		secret:    secret,
		autoReply: autoReply,
		log:       logger,
		rooms:     make(map[string]map[*wsClient]struct{}),
	}
}

func (s *stubServer) run(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.loggerMiddleware())

	api := r.Group("/api", s.authMiddleware())
	api.GET("/messages/admin/conversation", s.handleConversation)
	api.GET("/messages/unread/count", s.handleUnreadCount)
	api.PUT("/messages/:id/read", s.handleMarkRead)
	api.POST("/messages/send", s.handleSend)

	r.GET("/socket", gin.WrapF(s.handleSocket))

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// authMiddleware validates the bearer token and stores the identity.
func (s *stubServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.userFromToken(c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": err.Error()})
			c.Abort()
			return
		}
		c.Set(contextKeyUser, user)
		c.Next()
	}
}

func (s *stubServer) userFromToken(authHeader string) (identity.Identity, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return identity.Identity{}, errors.New("missing bearer token")
	}

	var claims identity.Claims
	token, err := jwt.ParseWithClaims(parts[1], &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return identity.Identity{}, errors.New("invalid token")
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	return identity.Identity{ID: id, FullName: claims.FullName, Role: claims.Role}, nil
}

func (s *stubServer) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

func (s *stubServer) handleConversation(c *gin.Context) {
	user := c.MustGet(contextKeyUser).(identity.Identity)

	s.mu.Lock()
	var msgs []proto.Message
	for _, m := range s.messages {
		if m.Sender.ID == user.ID || m.Receiver == user.ID {
			msgs = append(msgs, m)
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "success", "messages": msgs})
}

func (s *stubServer) handleUnreadCount(c *gin.Context) {
	user := c.MustGet(contextKeyUser).(identity.Identity)

	s.mu.Lock()
	count := 0
	for _, m := range s.messages {
		if m.Receiver == user.ID && m.SenderType == proto.SenderTypeAdmin && !m.Read {
			count++
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "success", "count": count})
}

func (s *stubServer) handleMarkRead(c *gin.Context) {
	user := c.MustGet(contextKeyUser).(identity.Identity)
	id := c.Param("id")

	s.mu.Lock()
	found := false
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		found = true
		if !s.messages[i].Read {
			now := time.Now().UTC()
			s.messages[i].Read = true
			s.messages[i].ReadAt = &now
		}
		break
	}
	s.mu.Unlock()

	if !found {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "message not found"})
		return
	}

	s.broadcast(user.ID, proto.EventMessageRead, proto.ReadReceipt{MessageID: id})
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *stubServer) handleSend(c *gin.Context) {
	user := c.MustGet(contextKeyUser).(identity.Identity)

	content := c.PostForm("content")
	form, _ := c.MultipartForm()

	var attachments []proto.Attachment
	if form != nil {
		for _, fh := range form.File["files"] {
			attachments = append(attachments, proto.Attachment{
				Filename: fh.Filename,
				FileType: fh.Header.Get("Content-Type"),
				Size:     fh.Size,
				URL:      "/files/" + fh.Filename,
			})
		}
	}

	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "message cannot be empty"})
		return
	}

	msg := proto.Message{
		ID:          uuid.NewString(),
		Content:     content,
		Attachments: attachments,
		Sender:      proto.Sender{ID: user.ID, FullName: user.FullName, Role: user.Role},
		SenderType:  proto.SenderTypeUser,
		Receiver:    proto.ReceiverAdmin,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	// Echo over the real-time channel, like production does.
	s.broadcast(user.ID, proto.EventNewMessage, msg)

	if s.autoReply {
		go s.sendAutoReply(user)
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": msg})
}

func (s *stubServer) sendAutoReply(user identity.Identity) {
	time.Sleep(time.Second)

	reply := proto.Message{
		ID:         uuid.NewString(),
		Content:    "Thanks! A support agent will get back to you shortly.",
		Sender:     proto.Sender{ID: "admin-1", FullName: "Support", Role: "admin"},
		SenderType: proto.SenderTypeAdmin,
		Receiver:   user.ID,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, reply)
	s.mu.Unlock()

	s.broadcast(user.ID, proto.EventNewMessage, reply)
}
