// Package authflow drives one OAuth authorization-code attempt: it builds
// the authorization URL with an anti-forgery state parameter, opens it in
// the user's external browser, intercepts the redirect on a short-lived
// local HTTP listener, and validates the returned code. The user's
// credentials are only ever typed into the provider's own pages; this
// process sees nothing but the one-time authorization code.
package authflow

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"ghdesk/internal/config"
)

// CallbackTimeout is how long one attempt waits for the OAuth callback
// before failing with ErrAuthTimeout.
const CallbackTimeout = 5 * time.Minute

// AuthResult is the outcome of a successful authorization attempt.
type AuthResult struct {
	// Code is the single-use authorization code to exchange for a token.
	Code string

	// State is the verified state parameter, echoed for diagnostics.
	State string
}

// attempt tracks one in-flight authorization attempt.
type attempt struct {
	state  string
	server *CallbackServer

	// failCh lets Cancel and supersession settle the waiting login from
	// outside. Buffered so the sender never blocks.
	failCh chan error
}

// Coordinator owns the local callback listener and runs at most one
// authorization attempt at a time. Starting a new attempt immediately fails
// a pending one with ErrLoginSuperseded before proceeding, so the callback
// port is never double-bound.
type Coordinator struct {
	cfg *config.Config

	// openBrowser is swappable for tests.
	openBrowser func(url string) error

	// callbackTimeout is CallbackTimeout unless overridden in tests.
	callbackTimeout time.Duration

	mu      sync.Mutex
	pending *attempt
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithBrowserOpener replaces the external browser launcher, typically with
// a no-op in tests.
func WithBrowserOpener(open func(url string) error) Option {
	return func(c *Coordinator) {
		c.openBrowser = open
	}
}

// WithCallbackTimeout overrides the callback wait window, for tests.
func WithCallbackTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.callbackTimeout = d
	}
}

// NewCoordinator creates a Coordinator for the configured provider.
func NewCoordinator(cfg *config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:             cfg,
		openBrowser:     OpenBrowser,
		callbackTimeout: CallbackTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login runs one authorization attempt to completion. It returns the
// authorization code after the user consents in the browser, or an error
// when the provider denies, the state check fails, the attempt times out,
// is cancelled, or is superseded by a newer attempt.
//
// The local listener is closed before Login returns on every path.
func (c *Coordinator) Login(ctx context.Context) (*AuthResult, error) {
	att, authURL, err := c.startAttempt(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.openBrowser(authURL); err != nil {
		c.finishAttempt(att)
		return nil, err
	}

	slog.Debug("Authorization flow started, waiting for callback",
		"redirect_uri", c.cfg.RedirectURI,
	)

	timer := time.NewTimer(c.callbackTimeout)
	defer timer.Stop()

	var result *CallbackResult
	select {
	case result = <-att.server.Result():
	case err := <-att.server.ServeError():
		c.finishAttempt(att)
		return nil, err
	case err := <-att.failCh:
		// Listener already torn down by whoever settled us.
		c.clearPending(att)
		return nil, err
	case <-timer.C:
		c.finishAttempt(att)
		return nil, ErrAuthTimeout
	case <-ctx.Done():
		c.finishAttempt(att)
		return nil, ctx.Err()
	}

	// Tear the listener down before settling so a follow-up attempt can
	// bind the port immediately.
	c.finishAttempt(att)

	switch {
	case result.IsError():
		slog.Warn("Authorization rejected by provider",
			"error", result.Error,
			"error_description", result.ErrorDescription,
		)
		return nil, &ProviderError{Code: result.Error, Description: result.ErrorDescription}
	case result.State != att.state:
		slog.Warn("Authorization state mismatch detected",
			"expected_state_len", len(att.state),
			"received_state_len", len(result.State),
		)
		return nil, ErrStateMismatch
	case result.Code == "":
		return nil, ErrMissingCode
	}

	return &AuthResult{Code: result.Code, State: result.State}, nil
}

// Cancel fails the pending attempt with ErrAuthCancelled and tears down its
// listener. No-op when nothing is pending.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settlePendingLocked(ErrAuthCancelled)
}

// AuthURL builds the provider authorization URL for the given state.
func (c *Coordinator) AuthURL(state string) (string, error) {
	u, err := url.Parse(c.cfg.AuthEndpoint)
	if err != nil {
		return "", err
	}

	params := url.Values{
		"client_id":     {c.cfg.ClientID},
		"redirect_uri":  {c.cfg.RedirectURI},
		"scope":         {strings.Join(c.cfg.Scopes, " ")},
		"state":         {state},
		"response_type": {"code"},
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// startAttempt supersedes any pending attempt, generates the state, binds
// the listener, and registers the new attempt.
func (c *Coordinator) startAttempt(ctx context.Context) (*attempt, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Fail a pending attempt first; its listener must be down before we
	// bind the same port.
	c.settlePendingLocked(ErrLoginSuperseded)

	state, err := GenerateState()
	if err != nil {
		return nil, "", err
	}

	server, err := NewCallbackServer(c.cfg.RedirectURI, state)
	if err != nil {
		return nil, "", err
	}
	if err := server.Start(ctx); err != nil {
		return nil, "", err
	}

	authURL, err := c.AuthURL(state)
	if err != nil {
		server.Stop()
		return nil, "", err
	}

	att := &attempt{
		state:  state,
		server: server,
		failCh: make(chan error, 1),
	}
	c.pending = att

	return att, authURL, nil
}

// settlePendingLocked fails the pending attempt with err and stops its
// listener. Must be called with c.mu held.
func (c *Coordinator) settlePendingLocked(err error) {
	if c.pending == nil {
		return
	}
	c.pending.server.Stop()
	select {
	case c.pending.failCh <- err:
	default:
	}
	c.pending = nil
}

// finishAttempt stops the attempt's listener and unregisters it.
func (c *Coordinator) finishAttempt(att *attempt) {
	att.server.Stop()
	c.clearPending(att)
}

// clearPending unregisters att if it is still the pending attempt.
func (c *Coordinator) clearPending(att *attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == att {
		c.pending = nil
	}
}
