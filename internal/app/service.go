// Package app wires the authorization flow, the provider client, and the
// session manager into the surface the presentation layer consumes. The
// presentation layer itself (CLI commands, a desktop shell) stays thin:
// every operation here returns synchronously with a value or an error.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"ghdesk/internal/authflow"
	"ghdesk/internal/config"
	"ghdesk/internal/github"
	"ghdesk/internal/session"
	"ghdesk/internal/store"
)

// sessionSubdir is where session state lives under the configured data dir.
const sessionSubdir = "session"

// UserStatus is the login snapshot exposed to the presentation layer.
type UserStatus struct {
	IsLoggedIn bool         `json:"is_logged_in"`
	User       *github.User `json:"user,omitempty"`
}

// Service is the application facade over the OAuth components.
type Service struct {
	cfg     *config.Config
	flow    *authflow.Coordinator
	client  *github.Client
	manager *session.Manager

	fileStore *store.FileStore
	watcher   *store.Watcher
	changes   chan store.ChangeEvent
	watchStop chan struct{}
}

// Option customizes a Service.
type Option func(*options)

type options struct {
	flowOpts    []authflow.Option
	clientOpts  []github.Option
	managerOpts []session.ManagerOption
}

// WithFlowOptions passes options through to the authorization coordinator.
func WithFlowOptions(opts ...authflow.Option) Option {
	return func(o *options) { o.flowOpts = append(o.flowOpts, opts...) }
}

// WithClientOptions passes options through to the provider client.
func WithClientOptions(opts ...github.Option) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithManagerOptions passes options through to the session manager.
func WithManagerOptions(opts ...session.ManagerOption) Option {
	return func(o *options) { o.managerOpts = append(o.managerOpts, opts...) }
}

// New builds the service from a validated config. Session state persists
// under <DataDir>/session with owner-only permissions.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	fileStore, err := store.NewFileStore(filepath.Join(cfg.DataDir, sessionSubdir))
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	client := github.NewClient(cfg, o.clientOpts...)

	return &Service{
		cfg:       cfg,
		flow:      authflow.NewCoordinator(cfg, o.flowOpts...),
		client:    client,
		manager:   session.NewManager(fileStore, client, o.managerOpts...),
		fileStore: fileStore,
	}, nil
}

// Manager exposes the session manager for event subscription.
func (s *Service) Manager() *session.Manager {
	return s.manager
}

// Init restores any persisted session and begins watching the storage
// directory for external changes. A corrupt persisted record is cleared and
// reported as logged out, not as a startup failure.
func (s *Service) Init() (*session.Session, error) {
	sess, err := s.manager.LoadSession()
	if err != nil && !errors.Is(err, session.ErrSessionCorrupt) {
		return nil, err
	}

	s.changes = make(chan store.ChangeEvent, 8)
	s.watchStop = make(chan struct{})
	s.watcher = store.NewWatcher(s.fileStore, 0)
	if werr := s.watcher.Start(s.changes); werr != nil {
		// Watching is a nicety; a session still works without it.
		slog.Warn("Failed to watch session store", "error", werr.Error())
		s.watcher = nil
	} else {
		go s.consumeChanges()
	}

	return sess, nil
}

func (s *Service) consumeChanges() {
	for {
		select {
		case <-s.watchStop:
			return
		case change, ok := <-s.changes:
			if !ok {
				return
			}
			if change.Key == session.KeyToken {
				s.manager.SyncWithStore()
			}
		}
	}
}

// Login runs the full login sequence: authorization flow, code exchange,
// profile fetch, session persistence. Any failure surfaces immediately and
// no session is created.
func (s *Service) Login(ctx context.Context) (*session.Session, error) {
	result, err := s.flow.Login(ctx)
	if err != nil {
		return nil, err
	}

	token, err := s.client.ExchangeCode(ctx, result.Code)
	if err != nil {
		return nil, err
	}

	user, err := s.client.GetCompleteUser(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	sess := session.NewSession(user, token)
	if err := s.manager.SaveSession(sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// CancelLogin aborts a pending authorization attempt. No-op when none is
// pending.
func (s *Service) CancelLogin() {
	s.flow.Cancel()
}

// Logout clears the session. It always succeeds from the caller's
// perspective; store deletion failures are logged inside the manager.
func (s *Service) Logout() {
	s.manager.Logout()
}

// Status returns the login snapshot for rendering.
func (s *Service) Status() UserStatus {
	return UserStatus{
		IsLoggedIn: s.manager.IsLoggedIn(),
		User:       s.manager.CurrentUser(),
	}
}

// SessionStatus returns the diagnostic session snapshot.
func (s *Service) SessionStatus() session.Status {
	return s.manager.Status()
}

// ManualRefresh refreshes the profile snapshot on user request. While a
// background refresh is running the current session is returned unchanged.
func (s *Service) ManualRefresh(ctx context.Context) (*session.Session, error) {
	return s.manager.ManualRefresh(ctx)
}

// Token validates the current session, then returns the access token.
// Returns session.ErrNoSession when logged out or when validation failed,
// so callers never receive a dead token.
func (s *Service) Token(ctx context.Context) (session.RedactedToken, error) {
	if !s.manager.IsLoggedIn() {
		return session.RedactedToken{}, session.ErrNoSession
	}
	if !s.manager.ValidateSession(ctx) {
		return session.RedactedToken{}, session.ErrNoSession
	}
	return s.manager.CurrentToken(), nil
}

// Close shuts the service down for process exit: timers stop, subscribers
// are released, persisted state stays for the next start.
func (s *Service) Close() {
	if s.watcher != nil {
		close(s.watchStop)
		s.watcher.Stop()
		s.watcher = nil
	}
	s.flow.Cancel()
	s.manager.Destroy()
}
