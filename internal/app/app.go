// Package app wires configuration, storage, identity, the real-time channel
// and the conversation controller into one runnable client.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/chat"
	"github.com/certline/messenger/internal/config"
	"github.com/certline/messenger/internal/identity"
	"github.com/certline/messenger/internal/rest"
	"github.com/certline/messenger/internal/socket"
	"github.com/certline/messenger/internal/store"
	"github.com/certline/messenger/internal/store/sqlite"
)

// ErrNotLoggedIn is returned when no session credential is stored.
var ErrNotLoggedIn = errors.New("not logged in")

// App owns every long-lived component of the client.
type App struct {
	cfg    config.Config
	log    *zerolog.Logger
	store  store.Store
	bus    *bus.Bus
	socket *socket.Manager
	rest   *rest.Client
	ctl    *chat.Controller
	self   identity.Identity
}

// New constructs the application from configuration. It fails when no
// credential has been stored yet; login is owned by the portal's auth flow
// (the login command just persists its token).
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init local store: %w", err)
	}
	logger.Debug().Str("db_path", cfg.DatabasePath).Msg("local store opened")

	provider := identity.ProviderFunc(func() (identity.Credential, error) {
		sess, err := st.Session(context.Background())
		if errors.Is(err, store.ErrNotFound) {
			return identity.Credential{}, identity.ErrNoCredential
		}
		if err != nil {
			return identity.Credential{}, fmt.Errorf("load session: %w", err)
		}
		return identity.FromToken(sess.Token)
	})

	cred, err := provider.Credential()
	if err != nil {
		st.Close()
		if errors.Is(err, identity.ErrNoCredential) {
			return nil, ErrNotLoggedIn
		}
		return nil, err
	}

	b := bus.New()
	restClient := rest.NewClient(cfg.ServerURL, provider, cfg.RequestTimeout, logger)
	sock := socket.NewManager(socket.Options{
		URL:               cfg.SocketURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		DialTimeout:       cfg.DialTimeout,
	}, provider, b, logger)

	ctl := chat.NewController(cred.User, sock, restClient, st, b, logger, chat.Options{
		OpenPollInterval:  cfg.OpenPollInterval,
		IdlePollInterval:  cfg.IdlePollInterval,
		MaxAttachmentSize: cfg.MaxAttachmentSize,
		TypingDebounce:    cfg.TypingDebounce,
		TypingExpiry:      cfg.TypingExpiry,
	})

	return &App{
		cfg:    cfg,
		log:    logger,
		store:  st,
		bus:    b,
		socket: sock,
		rest:   restClient,
		ctl:    ctl,
		self:   cred.User,
	}, nil
}

// Run opens the real-time channel and blocks in the controller loop until
// context cancellation.
func (a *App) Run(ctx context.Context) error {
	a.socket.Initialize(ctx)
	a.ctl.Run(ctx)
	a.cleanup()
	return nil
}

// Controller exposes the conversation view controller.
func (a *App) Controller() *chat.Controller { return a.ctl }

// Bus exposes the process-wide event bus for UI subscribers.
func (a *App) Bus() *bus.Bus { return a.bus }

// Socket exposes the connection manager.
func (a *App) Socket() *socket.Manager { return a.socket }

// REST exposes the REST client for one-shot commands.
func (a *App) REST() *rest.Client { return a.rest }

// User returns the session's decoded identity.
func (a *App) User() identity.Identity { return a.self }

// Close releases resources for one-shot commands that never call Run.
func (a *App) Close() {
	a.cleanup()
}

// cleanup closes the channel and the local store.
func (a *App) cleanup() {
	a.socket.Teardown()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close local store")
	}
}
