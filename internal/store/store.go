// Package store persists session state between runs of the client: the
// bearer token and profile written by the authentication flow, and a cached
// copy of the last conversation snapshot so the chat opens instantly while
// the fresh snapshot is still in flight.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/certline/messenger/internal/proto"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is the locally persisted credential and user profile. It is written
// by the login flow and read-only to the messaging subsystem.
type Session struct {
	Token    string
	UserID   string
	FullName string
	Role     string
	SavedAt  time.Time
}

// SessionStore handles credential/profile persistence.
type SessionStore interface {
	// SaveSession replaces the stored session.
	SaveSession(ctx context.Context, s Session) error

	// Session returns the stored session, or ErrNotFound when logged out.
	Session(ctx context.Context) (*Session, error)

	// ClearSession removes the stored session.
	ClearSession(ctx context.Context) error
}

// MessageCache holds the last known conversation snapshot.
type MessageCache interface {
	// ReplaceSnapshot atomically swaps the cached log for the given one.
	ReplaceSnapshot(ctx context.Context, msgs []proto.Message) error

	// Snapshot returns the cached log in chronological order.
	Snapshot(ctx context.Context) ([]proto.Message, error)

	// MarkRead flips the read flag on one cached message. No-op if absent.
	MarkRead(ctx context.Context, messageID string, readAt time.Time) error
}

// Store aggregates all local persistence.
type Store interface {
	SessionStore
	MessageCache

	// Close closes the underlying database.
	Close() error
}
