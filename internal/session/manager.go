package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ghdesk/internal/github"
	"ghdesk/internal/store"
)

const (
	// MaxRetryAttempts is how many consecutive validation or refresh
	// failures are tolerated before the session is evicted. Transient
	// network loss must not log the user out on the first failure.
	MaxRetryAttempts = 3

	// ValidationInterval is how often the background validation timer
	// fires, and the minimum age of LastValidatedAt before a tick performs
	// a live probe.
	ValidationInterval = 60 * time.Minute

	// RefreshInterval is how often the background refresh timer fires.
	RefreshInterval = 30 * time.Minute

	// maintenanceCallTimeout bounds the network calls made from timer ticks.
	maintenanceCallTimeout = 30 * time.Second
)

// ErrNoSession is returned by operations that require a current session.
var ErrNoSession = errors.New("no active session")

// ErrRefreshInProgress signals that a refresh is already running.
// Informational, not a failure: the caller holds a still-valid session.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// ErrSessionCorrupt is returned by LoadSession when the persisted record is
// unusable (token present but metadata missing or unparsable). The corrupt
// record is cleared before this is returned.
var ErrSessionCorrupt = errors.New("persisted session corrupt, cleared")

// PersistError wraps a store write failure during SaveSession.
type PersistError struct {
	Err error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist session: %v", e.Err)
}

// Unwrap returns the underlying store error.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// ProfileClient is the slice of the provider API the manager needs:
// a liveness probe and a full profile fetch.
type ProfileClient interface {
	GetUser(ctx context.Context, accessToken string) (*github.User, error)
	GetCompleteUser(ctx context.Context, accessToken string) (*github.User, error)
}

// Status is a read-only snapshot for UI polling and diagnostics.
type Status struct {
	IsLoggedIn              bool          `json:"is_logged_in"`
	LastValidated           time.Time     `json:"last_validated,omitzero"`
	TimeSinceLastValidation time.Duration `json:"time_since_last_validation"`
	IsRefreshing            bool          `json:"is_refreshing"`
	RetryCount              int           `json:"retry_count"`
}

// Manager owns the current session and its whole lifecycle: load, save,
// clear, background validation and refresh, retry-before-evict, and event
// emission. All state is instance-owned so multiple managers (tests) never
// interfere and teardown is deterministic.
type Manager struct {
	mu sync.Mutex

	store  store.Store
	client ProfileClient

	current    *Session
	refreshing bool
	retryCount int

	// maintenanceStop is non-nil while the timer goroutine runs. The
	// validation and refresh timers live and die together.
	maintenanceStop chan struct{}

	subscribers map[chan Event]struct{}

	// validateGroup collapses concurrent validation probes (manual token
	// check racing a timer tick) into one network call.
	validateGroup singleflight.Group

	validationInterval time.Duration
	refreshInterval    time.Duration
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithIntervals overrides the maintenance timer intervals, for tests.
func WithIntervals(validation, refresh time.Duration) ManagerOption {
	return func(m *Manager) {
		m.validationInterval = validation
		m.refreshInterval = refresh
	}
}

// NewManager creates a Manager over the given store and profile client.
// No session is loaded; call LoadSession to restore persisted state.
func NewManager(st store.Store, client ProfileClient, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:              st,
		client:             client,
		subscribers:        make(map[chan Event]struct{}),
		validationInterval: ValidationInterval,
		refreshInterval:    RefreshInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SaveSession persists a new session and commits it as the current one.
// The store write happens first; the in-memory session is only replaced
// after persistence succeeds, so memory and store never diverge. Background
// maintenance is (re)started after the commit.
func (m *Manager) SaveSession(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persistLocked(s); err != nil {
		return err
	}

	m.current = s
	m.retryCount = 0
	m.startMaintenanceLocked()

	slog.Info("SECURITY_AUDIT: session persisted",
		"event", "session_saved",
		"session_id", s.ID,
		"login", s.User.Login,
	)
	m.emitLocked(Event{Type: EventLoggedIn, Session: s.clone()})
	return nil
}

// persistLocked writes both store slots: the secret slot first, then the
// metadata document. A metadata failure rolls the secret slot back to its
// previous contents: restored when a token was already persisted (a
// re-persist of an existing session must not destroy its record), deleted
// when the slot was empty before (a fresh save must not leave an orphaned
// token). Must be called with m.mu held.
func (m *Manager) persistLocked(s *Session) error {
	prevToken, prevErr := m.store.Get(KeyToken)
	hadToken := prevErr == nil

	if err := m.store.Set(KeyToken, s.Token.AccessToken.Value()); err != nil {
		return &PersistError{Err: err}
	}

	data, err := json.Marshal(s.toMetadata())
	if err != nil {
		return &PersistError{Err: err}
	}
	if err := m.store.Set(KeyMetadata, string(data)); err != nil {
		var rollbackErr error
		if hadToken {
			rollbackErr = m.store.Set(KeyToken, prevToken)
		} else {
			rollbackErr = m.store.Delete(KeyToken)
		}
		if rollbackErr != nil {
			slog.Warn("Failed to roll back token slot after metadata write failure",
				"error", rollbackErr.Error(),
			)
		}
		return &PersistError{Err: err}
	}

	return nil
}

// LoadSession restores the persisted session, typically at process start.
//
// Outcomes: both slots present reconstructs the session, starts maintenance,
// and returns it; a missing token returns (nil, nil); a token without
// usable metadata is corrupt, everything is cleared, and (nil,
// ErrSessionCorrupt) is returned. Loading never probes the network: a loaded
// session is trusted until the first background cycle confirms or refutes
// it, so transient offline starts don't look like logouts.
func (m *Manager) LoadSession() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accessToken, err := m.store.Get(KeyToken)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		// Read failures default to logged-out rather than blocking startup.
		slog.Warn("Failed to read token slot, treating as no session",
			"error", err.Error(),
		)
		return nil, nil
	}

	metadata, err := m.store.Get(KeyMetadata)
	if err != nil {
		slog.Warn("Session token present but metadata unreadable, clearing",
			"error", err.Error(),
		)
		m.clearLocked()
		return nil, ErrSessionCorrupt
	}

	var rec metadataRecord
	if err := json.Unmarshal([]byte(metadata), &rec); err != nil {
		slog.Warn("Session metadata unparsable, clearing",
			"error", err.Error(),
		)
		m.clearLocked()
		return nil, ErrSessionCorrupt
	}

	s := sessionFromRecord(rec, accessToken)
	m.current = s
	m.retryCount = 0
	m.startMaintenanceLocked()

	slog.Debug("Session restored from store",
		"session_id", s.ID,
		"login", s.User.Login,
		"last_validated", s.LastValidatedAt.Format(time.RFC3339),
	)
	return s.clone(), nil
}

// ValidateSession probes the provider with the current token; the profile
// result is discarded, only liveness matters. Success bumps LastValidatedAt
// and resets the retry counter. Failure increments it; the session survives
// until MaxRetryAttempts consecutive failures, then is evicted with exactly
// one EventExpired.
//
// Concurrent validations collapse into one probe.
func (m *Manager) ValidateSession(ctx context.Context) bool {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return false
	}
	// Snapshot the token under the lock; SyncWithStore may replace it.
	accessToken := m.current.Token.AccessToken.Value()
	m.mu.Unlock()

	v, _, _ := m.validateGroup.Do("validate", func() (interface{}, error) {
		return m.validateOnce(ctx, accessToken), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (m *Manager) validateOnce(ctx context.Context, accessToken string) bool {
	_, err := m.client.GetUser(ctx, accessToken)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		// Session was cleared while the probe was in flight.
		return false
	}

	if err != nil {
		m.handleProbeFailureLocked("validation", err)
		return false
	}

	m.current.LastValidatedAt = time.Now()
	m.retryCount = 0
	if perr := m.persistLocked(m.current); perr != nil {
		// The validation itself succeeded; a persistence hiccup here only
		// costs a redundant probe after the next restart.
		slog.Warn("Failed to persist validation timestamp",
			"error", perr.Error(),
		)
	}

	slog.Debug("Session validated", "session_id", m.current.ID)
	return true
}

// handleProbeFailureLocked applies the shared retry-before-evict policy for
// validation and refresh failures. Must be called with m.mu held.
func (m *Manager) handleProbeFailureLocked(kind string, err error) {
	m.retryCount++
	if m.retryCount >= MaxRetryAttempts {
		slog.Warn("Session evicted after repeated failures",
			"kind", kind,
			"retry_count", m.retryCount,
			"error", err.Error(),
		)
		m.clearLocked()
		m.emitLocked(Event{Type: EventExpired})
		return
	}

	slog.Debug("Session probe failed, keeping session",
		"kind", kind,
		"retry_count", m.retryCount,
		"max_retries", MaxRetryAttempts,
		"error", err.Error(),
	)
	m.emitLocked(Event{Type: EventError, Err: err})
}

// RefreshUserInfo fetches a fresh profile snapshot, replaces the session's
// user in place, bumps LastValidatedAt, persists, and emits EventRefreshed.
// Failures follow the same retry-before-evict policy as validation; a single
// network blip never logs the user out. Refreshes are serialized: a second
// call while one is running returns ErrRefreshInProgress.
func (m *Manager) RefreshUserInfo(ctx context.Context) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.refreshing {
		m.mu.Unlock()
		return ErrRefreshInProgress
	}
	m.refreshing = true
	accessToken := m.current.Token.AccessToken.Value()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	user, err := m.client.GetCompleteUser(ctx, accessToken)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoSession
	}

	if err != nil {
		m.handleProbeFailureLocked("refresh", err)
		return fmt.Errorf("profile refresh failed: %w", err)
	}

	m.current.User = *user
	m.current.LastValidatedAt = time.Now()
	m.retryCount = 0
	if perr := m.persistLocked(m.current); perr != nil {
		slog.Warn("Failed to persist refreshed session",
			"error", perr.Error(),
		)
	}

	// Store write happens before the event so a subscriber reading the
	// store on receipt sees the refreshed record.
	m.emitLocked(Event{Type: EventRefreshed, Session: m.current.clone()})
	slog.Debug("Session refreshed", "session_id", m.current.ID, "login", user.Login)
	return nil
}

// ManualRefresh is the user-invoked refresh. When a refresh is already
// running it returns the current (stale) session without starting another
// network call; refreshes are never parallel and never queued.
func (m *Manager) ManualRefresh(ctx context.Context) (*Session, error) {
	err := m.RefreshUserInfo(ctx)
	if errors.Is(err, ErrRefreshInProgress) {
		return m.CurrentSession(), nil
	}
	if err != nil {
		return nil, err
	}
	return m.CurrentSession(), nil
}

// ClearSession stops maintenance, deletes both store slots, and resets the
// in-memory state. Each deletion is attempted independently and failures are
// logged, not propagated: logout must never be blockable by store errors.
// The manager always ends in a consistent no-session state.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// clearLocked implements ClearSession. Must be called with m.mu held.
func (m *Manager) clearLocked() {
	m.stopMaintenanceLocked()

	if err := m.store.Delete(KeyToken); err != nil {
		slog.Warn("Failed to delete token slot", "error", err.Error())
	}
	if err := m.store.Delete(KeyMetadata); err != nil {
		slog.Warn("Failed to delete metadata slot", "error", err.Error())
	}

	if m.current != nil {
		slog.Info("SECURITY_AUDIT: session cleared",
			"event", "session_cleared",
			"session_id", m.current.ID,
		)
	}
	m.current = nil
	m.retryCount = 0
}

// Logout clears the session and announces the transition.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.emitLocked(Event{Type: EventLoggedOut})
}

// Destroy stops maintenance and releases all subscribers. Unlike
// ClearSession it leaves persisted data untouched, so the next process
// start can LoadSession successfully. Used at application shutdown.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopMaintenanceLocked()
	for sub := range m.subscribers {
		close(sub)
		delete(m.subscribers, sub)
	}
}

// SyncWithStore reconciles in-memory state after an external change to the
// storage directory (another process logging out). When the token slot is
// gone but a session is held in memory, the session is dropped and
// EventLoggedOut emitted. Writes by this process are no-ops here because
// the store contents match memory.
func (m *Manager) SyncWithStore() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}

	stored, err := m.store.Get(KeyToken)
	if store.IsNotFound(err) {
		slog.Info("Session removed externally, logging out",
			"session_id", m.current.ID,
		)
		m.stopMaintenanceLocked()
		m.current = nil
		m.retryCount = 0
		m.emitLocked(Event{Type: EventLoggedOut})
		return
	}
	if err != nil {
		slog.Warn("Failed to re-read token slot after external change",
			"error", err.Error(),
		)
		return
	}

	if stored != m.current.Token.AccessToken.Value() {
		slog.Warn("Token slot changed externally, keeping store as source of truth")
		m.current.Token.AccessToken = NewRedactedToken(stored)
	}
}

// CurrentSession returns a snapshot of the current session, or nil.
// Never touches the network or the store.
func (m *Manager) CurrentSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.clone()
}

// CurrentUser returns the current user snapshot, or nil when logged out.
func (m *Manager) CurrentUser() *github.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	u := m.current.User
	return &u
}

// CurrentToken returns the current access token, or an empty RedactedToken.
func (m *Manager) CurrentToken() RedactedToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return RedactedToken{}
	}
	return m.current.Token.AccessToken
}

// IsLoggedIn reports whether a session is held in memory.
func (m *Manager) IsLoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Status returns a read-only snapshot for UI polling.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		IsLoggedIn:   m.current != nil,
		IsRefreshing: m.refreshing,
		RetryCount:   m.retryCount,
	}
	if m.current != nil {
		st.LastValidated = m.current.LastValidatedAt
		st.TimeSinceLastValidation = time.Since(m.current.LastValidatedAt)
	}
	return st
}

// startMaintenanceLocked (re)starts the validation and refresh timers as a
// pair. Idempotent: an already-running loop is stopped first so timers are
// never duplicated. Must be called with m.mu held.
func (m *Manager) startMaintenanceLocked() {
	m.stopMaintenanceLocked()

	stop := make(chan struct{})
	m.maintenanceStop = stop

	go m.maintenanceLoop(stop)
}

// stopMaintenanceLocked stops both timers together. Must be called with
// m.mu held. Ticks already in flight bail out when they observe the
// cleared session.
func (m *Manager) stopMaintenanceLocked() {
	if m.maintenanceStop == nil {
		return
	}
	close(m.maintenanceStop)
	m.maintenanceStop = nil
}

// maintenanceLoop runs both background timers until stopped.
func (m *Manager) maintenanceLoop(stop chan struct{}) {
	validationTicker := time.NewTicker(m.validationInterval)
	refreshTicker := time.NewTicker(m.refreshInterval)
	defer validationTicker.Stop()
	defer refreshTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-validationTicker.C:
			m.validationTick()
		case <-refreshTicker.C:
			m.refreshTick()
		}
	}
}

// validationTick performs a live probe only when the session has not been
// validated within the interval; a recent manual action already proved
// liveness.
func (m *Manager) validationTick() {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	// LastValidatedAt is written under the lock by validation and refresh;
	// the staleness check must read it there too.
	fresh := time.Since(m.current.LastValidatedAt) < m.validationInterval
	sessionID := m.current.ID
	m.mu.Unlock()

	if fresh {
		slog.Debug("Skipping validation, session recently validated",
			"session_id", sessionID,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), maintenanceCallTimeout)
	defer cancel()
	m.ValidateSession(ctx)
}

// refreshTick attempts a profile refresh when a session exists and no
// refresh is already running.
func (m *Manager) refreshTick() {
	m.mu.Lock()
	skip := m.current == nil || m.refreshing
	m.mu.Unlock()
	if skip {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), maintenanceCallTimeout)
	defer cancel()
	if err := m.RefreshUserInfo(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
		slog.Debug("Background refresh failed", "error", err.Error())
	}
}
