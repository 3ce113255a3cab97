package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/identity"
	"github.com/certline/messenger/internal/proto"
	"github.com/certline/messenger/internal/rest"
	"github.com/certline/messenger/internal/store"
)

// Subject is the fixed label of the single support thread.
const Subject = "Admin Support"

// Channel is the slice of the connection manager the controller drives.
type Channel interface {
	Connected() bool
	JoinConversation(conversationID string)
	LeaveConversation(conversationID string)
	SendTyping(conversationID string, isTyping bool)
	Reconnect(ctx context.Context)
}

// API is the REST surface the controller consumes.
type API interface {
	MarkReader
	Conversation(ctx context.Context) ([]proto.Message, error)
	UnreadCount(ctx context.Context) (int, error)
	Send(ctx context.Context, content string, files []rest.Upload) (*proto.Message, error)
}

// Options tunes the controller.
type Options struct {
	// OpenPollInterval refreshes the snapshot while the view is open; the
	// channel may be degraded, so polling runs regardless of its state.
	OpenPollInterval time.Duration
	// IdlePollInterval keeps the unread badge fresh while the view is closed.
	IdlePollInterval time.Duration
	// MaxAttachmentSize is the per-file ceiling enforced before upload.
	MaxAttachmentSize int64
	// TypingDebounce and TypingExpiry tune the typing indicator; zero values
	// select its defaults.
	TypingDebounce time.Duration
	TypingExpiry   time.Duration
}

// Conversation is the summary derived from the message log.
type Conversation struct {
	Subject     string
	LastMessage *Entry
	UnreadCount int
	UpdatedAt   time.Time
}

// Controller composes log, tracker, typing indicator, channel and REST
// client into the conversation view lifecycle. All inbound events funnel
// through Run's single loop.
type Controller struct {
	self    identity.Identity
	channel Channel
	api     API
	cache   store.MessageCache // may be nil
	bus     *bus.Bus
	log     *zerolog.Logger
	opts    Options

	mlog   *MessageLog
	unread *UnreadTracker
	typing *TypingIndicator

	mu          sync.Mutex
	open        bool
	adminOnline bool
}

// NewController wires the conversation components for one session.
func NewController(self identity.Identity, channel Channel, api API, cache store.MessageCache, b *bus.Bus, logger *zerolog.Logger, opts Options) *Controller {
	if opts.OpenPollInterval <= 0 {
		opts.OpenPollInterval = 30 * time.Second
	}
	if opts.IdlePollInterval <= 0 {
		opts.IdlePollInterval = 2 * time.Minute
	}

	mlog := NewMessageLog(self.ID)
	return &Controller{
		self:    self,
		channel: channel,
		api:     api,
		cache:   cache,
		bus:     b,
		log:     logger,
		opts:    opts,
		mlog:    mlog,
		unread:  NewUnreadTracker(mlog, api, b, logger),
		typing:  NewTypingIndicator(channel, self.ID, self.ID, opts.TypingDebounce, opts.TypingExpiry),
	}
}

// Run consumes bus events and drives the polling fallback until the context
// is cancelled. It is the single place where inbound events mutate state, so
// arrival order is processing order.
func (c *Controller) Run(ctx context.Context) {
	events, cancel := c.bus.Subscribe(64)
	defer cancel()

	openPoll := time.NewTicker(c.opts.OpenPollInterval)
	defer openPoll.Stop()
	idlePoll := time.NewTicker(c.opts.IdlePollInterval)
	defer idlePoll.Stop()

	for {
		select {
		case <-ctx.Done():
			c.typing.Close()
			return
		case ev := <-events:
			c.handle(ctx, ev)
		case <-openPoll.C:
			if c.IsOpen() {
				if err := c.Refresh(ctx); err != nil {
					c.surfaceFetchError(err, "refresh messages")
				}
			}
		case <-idlePoll.C:
			if !c.IsOpen() {
				count, err := c.api.UnreadCount(ctx)
				if err != nil {
					c.log.Debug().Err(err).Msg("unread count poll failed")
					continue
				}
				c.unread.SetCount(count)
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev bus.Event) {
	switch ev.Kind {
	case bus.EventMessageReceived:
		if ev.Message == nil {
			return
		}
		inserted := c.mlog.ApplyInbound(*ev.Message)
		if !inserted {
			return
		}
		open := c.IsOpen()
		c.unread.OnInbound(*ev.Message, open)
		if open && ev.Message.FromAdmin() && !ev.Message.Read {
			// The user is looking at the conversation; mark it read right away.
			go c.unread.MarkConversationRead(ctx)
		}
	case bus.EventReadReceipt:
		c.unread.OnReadReceipt(ev.MessageID, time.Now())
		if c.cache != nil {
			if err := c.cache.MarkRead(ctx, ev.MessageID, time.Now()); err != nil {
				c.log.Debug().Err(err).Msg("cache mark read failed")
			}
		}
	case bus.EventTypingChanged:
		c.typing.OnRemoteTyping(ev.UserID, ev.IsTyping)
	case bus.EventPresenceChanged:
		c.mu.Lock()
		c.adminOnline = ev.IsOnline
		c.mu.Unlock()
	case bus.EventDisconnected, bus.EventConnectFailed:
		// Non-fatal: REST polling keeps the view correct. Rendering the
		// status indicator is the UI's concern.
	}
}

// Open fetches the latest snapshot, marks the conversation read and joins
// the real-time room. On fetch failure the cached snapshot, if any, seeds
// the view so the user is not left with a blank page.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		c.seedFromCache(ctx)
		c.surfaceFetchError(err, "load conversation")
		return err
	}

	c.unread.MarkConversationRead(ctx)
	c.channel.JoinConversation(c.self.ID)
	return nil
}

// Close marks the view closed and clears typing state. Idle polling keeps
// the unread badge fresh afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.typing.Close()
}

// Refresh re-fetches the snapshot and reseeds log, counter and cache.
func (c *Controller) Refresh(ctx context.Context) error {
	msgs, err := c.api.Conversation(ctx)
	if err != nil {
		return err
	}
	c.mlog.LoadSnapshot(msgs)
	c.unread.Recompute()
	if c.cache != nil {
		if err := c.cache.ReplaceSnapshot(ctx, msgs); err != nil {
			c.log.Debug().Err(err).Msg("snapshot cache update failed")
		}
	}
	return nil
}

// Send validates and sends a message. The compose state is the caller's: on
// error nothing was appended, so the caller keeps content and attachments
// for retry. On success the server-assigned message is appended optimistically
// and reconciled with the later echo by id.
func (c *Controller) Send(ctx context.Context, content string, files []rest.Upload) (*proto.Message, error) {
	content = strings.TrimSpace(content)

	valid, rejected := rest.ValidateUploads(files, c.opts.MaxAttachmentSize)
	for _, r := range rejected {
		c.bus.Publish(bus.Event{Kind: bus.EventNoticeRaised, Notice: &bus.Notice{
			Level: bus.NoticeError,
			Text:  fmt.Sprintf("%s: %s", r.Filename, r.Reason),
		}})
	}

	if content == "" && len(valid) == 0 {
		return nil, chatError(ErrCodeEmptyMessage, "message cannot be empty")
	}
	if !c.channel.Connected() {
		return nil, chatError(ErrCodeNotConnected, "not connected to the support channel")
	}

	msg, err := c.api.Send(ctx, content, valid)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	c.mlog.AppendLocal(*msg)
	c.typing.Stop()
	return msg, nil
}

// OnInput forwards compose-box keystrokes to the typing indicator.
func (c *Controller) OnInput(hasText bool) {
	c.typing.OnLocalInput(hasText)
}

// OnBlur retracts the typing announcement without closing the view.
func (c *Controller) OnBlur() {
	c.typing.Stop()
}

// RequestReconnect asks the connection manager for a manual reconnect. The
// manager ignores it while a channel is already live.
func (c *Controller) RequestReconnect(ctx context.Context) {
	c.channel.Reconnect(ctx)
}

// IsOpen reports whether the conversation view is open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// AdminOnline reports last known admin presence.
func (c *Controller) AdminOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adminOnline
}

// CounterpartyTyping reports whether the admin is currently typing.
func (c *Controller) CounterpartyTyping() bool {
	return c.typing.CounterpartyTyping()
}

// Entries returns the visible message log.
func (c *Controller) Entries() []Entry {
	return c.mlog.Entries()
}

// UnreadCount returns the current unread counter.
func (c *Controller) UnreadCount() int {
	return c.unread.Count()
}

// Conversation derives the thread summary from the log.
func (c *Controller) Conversation() Conversation {
	conv := Conversation{Subject: Subject, UnreadCount: c.unread.Count()}
	if last, ok := c.mlog.Last(); ok {
		conv.LastMessage = &last
		conv.UpdatedAt = last.CreatedAt
	}
	return conv
}

func (c *Controller) seedFromCache(ctx context.Context) {
	if c.cache == nil {
		return
	}
	msgs, err := c.cache.Snapshot(ctx)
	if err != nil || len(msgs) == 0 {
		return
	}
	c.mlog.LoadSnapshot(msgs)
	c.unread.Recompute()
	c.log.Debug().Int("messages", len(msgs)).Msg("seeded conversation from local cache")
}

// surfaceFetchError reports a fetch failure to the user unless it is an auth
// failure (owned by the login flow) or the view is not visible.
func (c *Controller) surfaceFetchError(err error, what string) {
	if errors.Is(err, rest.ErrUnauthorized) {
		c.log.Debug().Err(err).Msg("unauthorized, deferring to auth flow")
		return
	}
	if !c.IsOpen() {
		c.log.Debug().Err(err).Str("op", what).Msg("background fetch failed")
		return
	}
	c.bus.Publish(bus.Event{Kind: bus.EventNoticeRaised, Notice: &bus.Notice{
		Level: bus.NoticeError,
		Text:  fmt.Sprintf("Failed to %s", what),
	}})
}
