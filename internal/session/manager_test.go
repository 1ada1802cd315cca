package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"ghdesk/internal/github"
	"ghdesk/internal/store"
)

// fakeProfileClient implements ProfileClient with scriptable behavior.
type fakeProfileClient struct {
	mu sync.Mutex

	user        github.User
	userErr     error
	completeErr error

	getUserCalls     int
	getCompleteCalls int

	// blockComplete, when non-nil, makes GetCompleteUser wait until the
	// channel is closed. Used to hold a refresh open.
	blockComplete chan struct{}
}

func (f *fakeProfileClient) GetUser(ctx context.Context, accessToken string) (*github.User, error) {
	f.mu.Lock()
	f.getUserCalls++
	err := f.userErr
	user := f.user
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (f *fakeProfileClient) GetCompleteUser(ctx context.Context, accessToken string) (*github.User, error) {
	f.mu.Lock()
	f.getCompleteCalls++
	err := f.completeErr
	user := f.user
	block := f.blockComplete
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (f *fakeProfileClient) setUserErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userErr = err
}

func (f *fakeProfileClient) userCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getUserCalls
}

func (f *fakeProfileClient) completeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCompleteCalls
}

func octocat() github.User {
	return github.User{
		ID:          583231,
		Login:       "octocat",
		Name:        "The Octocat",
		AvatarURL:   "https://avatars.example/583231",
		PublicRepos: 8,
		Followers:   3938,
		Following:   9,
		CreatedAt:   time.Date(2011, 1, 25, 18, 44, 36, 0, time.UTC),
	}
}

func testToken() *oauth2.Token {
	tok := &oauth2.Token{AccessToken: "tok_1", TokenType: "bearer"}
	return tok.WithExtra(map[string]interface{}{"scope": "user:email read:user"})
}

func newTestManager(t *testing.T, st store.Store) (*Manager, *fakeProfileClient) {
	t.Helper()
	client := &fakeProfileClient{user: octocat()}
	m := NewManager(st, client)
	t.Cleanup(m.Destroy)
	return m, client
}

func drainEvents(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		default:
			return events
		}
	}
}

func waitForEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestManager_SaveAndLoadRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestManager(t, st)

	sess := NewSession(&github.User{}, testToken())
	user := octocat()
	sess.User = user
	require.NoError(t, m.SaveSession(sess))

	t.Run("metadata slot never contains the raw token", func(t *testing.T) {
		metadata, err := st.Get(KeyMetadata)
		require.NoError(t, err)
		assert.NotContains(t, metadata, "tok_1")
		assert.Contains(t, metadata, "octocat")
	})

	t.Run("fresh manager reconstructs the session", func(t *testing.T) {
		m2, _ := newTestManager(t, st)
		loaded, err := m2.LoadSession()
		require.NoError(t, err)
		require.NotNil(t, loaded)

		assert.Equal(t, sess.ID, loaded.ID)
		assert.Equal(t, user, loaded.User)
		assert.Equal(t, "tok_1", loaded.Token.AccessToken.Value())
		assert.Equal(t, "bearer", loaded.Token.TokenType)
		assert.Equal(t, "user:email read:user", loaded.Token.Scope)
		assert.True(t, sess.CreatedAt.Equal(loaded.CreatedAt))
		assert.False(t, loaded.LastValidatedAt.Before(loaded.CreatedAt))
		assert.True(t, m2.IsLoggedIn())
	})
}

func TestManager_LoadSession_NoSession(t *testing.T) {
	m, _ := newTestManager(t, store.NewMemoryStore())
	loaded, err := m.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.False(t, m.IsLoggedIn())
}

func TestManager_LoadSession_CorruptRecords(t *testing.T) {
	t.Run("token without metadata clears the orphan", func(t *testing.T) {
		st := store.NewMemoryStore()
		require.NoError(t, st.Set(KeyToken, "orphan-token"))

		m, _ := newTestManager(t, st)
		loaded, err := m.LoadSession()
		require.ErrorIs(t, err, ErrSessionCorrupt)
		assert.Nil(t, loaded)

		_, err = st.Get(KeyToken)
		assert.True(t, store.IsNotFound(err), "orphaned token must be deleted")
	})

	t.Run("unparsable metadata clears everything", func(t *testing.T) {
		st := store.NewMemoryStore()
		require.NoError(t, st.Set(KeyToken, "tok"))
		require.NoError(t, st.Set(KeyMetadata, "{not json"))

		m, _ := newTestManager(t, st)
		loaded, err := m.LoadSession()
		require.ErrorIs(t, err, ErrSessionCorrupt)
		assert.Nil(t, loaded)
		assert.Equal(t, 0, st.Len())
	})
}

// flakyStore fails Set for a single key, leaving every other operation
// working. Models a transient write failure on one slot.
type flakyStore struct {
	store.Store
	mu      sync.Mutex
	failKey string
	failErr error
}

func (s *flakyStore) Set(key, value string) error {
	s.mu.Lock()
	failKey, failErr := s.failKey, s.failErr
	s.mu.Unlock()
	if key == failKey && failErr != nil {
		return failErr
	}
	return s.Store.Set(key, value)
}

func (s *flakyStore) failMetadata(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKey = KeyMetadata
	s.failErr = err
}

func TestManager_MetadataWriteFailureRollback(t *testing.T) {
	t.Run("fresh save leaves no orphaned token", func(t *testing.T) {
		flaky := &flakyStore{Store: store.NewMemoryStore()}
		flaky.failMetadata(errors.New("disk full"))
		m, _ := newTestManager(t, flaky)

		err := m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken()))
		require.Error(t, err)
		assert.False(t, m.IsLoggedIn())

		_, err = flaky.Get(KeyToken)
		assert.True(t, store.IsNotFound(err), "failed fresh save must not leave a token behind")
	})

	t.Run("re-persist during validation keeps the existing token", func(t *testing.T) {
		flaky := &flakyStore{Store: store.NewMemoryStore()}
		m, _ := newTestManager(t, flaky)

		require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))
		flaky.failMetadata(errors.New("disk full"))

		// The probe itself succeeds; only the timestamp persist hiccups.
		assert.True(t, m.ValidateSession(context.Background()))
		assert.True(t, m.IsLoggedIn())

		tok, err := flaky.Get(KeyToken)
		require.NoError(t, err, "token slot must survive a transient metadata write failure")
		assert.Equal(t, "tok_1", tok)
	})

	t.Run("re-persist during refresh keeps the existing token", func(t *testing.T) {
		flaky := &flakyStore{Store: store.NewMemoryStore()}
		m, _ := newTestManager(t, flaky)

		require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))
		flaky.failMetadata(errors.New("disk full"))

		require.NoError(t, m.RefreshUserInfo(context.Background()))
		assert.True(t, m.IsLoggedIn())

		_, err := flaky.Get(KeyToken)
		require.NoError(t, err)
	})
}

func TestManager_ConcurrentMaintenanceAndForeground(t *testing.T) {
	st := store.NewMemoryStore()
	client := &fakeProfileClient{user: octocat()}
	m := NewManager(st, client, WithIntervals(time.Millisecond, 10*time.Hour))
	defer m.Destroy()

	require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))

	// Background validation ticks race foreground validation, store sync,
	// refreshes, and status reads for a while; the race detector flags any
	// unsynchronized access to the shared session.
	deadline := time.Now().Add(150 * time.Millisecond)
	var wg sync.WaitGroup
	for _, op := range []func(){
		func() { m.ValidateSession(context.Background()) },
		func() { m.SyncWithStore() },
		func() { _, _ = m.ManualRefresh(context.Background()) },
		func() { _ = m.Status() },
	} {
		wg.Add(1)
		go func(op func()) {
			defer wg.Done()
			for time.Now().Before(deadline) {
				op()
			}
		}(op)
	}
	wg.Wait()

	assert.True(t, m.IsLoggedIn())
}

func TestManager_SaveSession_PersistThenCommit(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestManager(t, st)

	boom := errors.New("disk full")
	st.FailSet = boom

	err := m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken()))
	require.Error(t, err)

	var persistErr *PersistError
	require.ErrorAs(t, err, &persistErr)
	assert.ErrorIs(t, err, boom)

	// The in-memory session is only committed after a successful write.
	assert.False(t, m.IsLoggedIn())
	assert.Nil(t, m.CurrentSession())
}

func TestManager_ValidateSession_RetryBeforeEvict(t *testing.T) {
	st := store.NewMemoryStore()
	m, client := newTestManager(t, st)
	events := m.Subscribe()

	require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))
	waitForEvent(t, events, EventLoggedIn)

	client.setUserErr(errors.New("connection refused"))
	ctx := context.Background()

	t.Run("first two failures keep the session", func(t *testing.T) {
		assert.False(t, m.ValidateSession(ctx))
		assert.True(t, m.IsLoggedIn())
		assert.Equal(t, 1, m.Status().RetryCount)

		assert.False(t, m.ValidateSession(ctx))
		assert.True(t, m.IsLoggedIn())
		assert.Equal(t, 2, m.Status().RetryCount)
	})

	t.Run("a success resets the retry counter", func(t *testing.T) {
		client.setUserErr(nil)
		assert.True(t, m.ValidateSession(ctx))
		assert.Equal(t, 0, m.Status().RetryCount)
	})

	t.Run("third consecutive failure evicts exactly once", func(t *testing.T) {
		client.setUserErr(errors.New("connection refused"))
		assert.False(t, m.ValidateSession(ctx))
		assert.False(t, m.ValidateSession(ctx))
		assert.False(t, m.ValidateSession(ctx))

		assert.False(t, m.IsLoggedIn())
		assert.Equal(t, 0, st.Len(), "store keys must be deleted on eviction")

		expired := 0
		for _, e := range drainEvents(events) {
			if e.Type == EventExpired {
				expired++
			}
		}
		assert.Equal(t, 1, expired)
	})
}

func TestManager_ValidateSession_BumpsLastValidated(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestManager(t, st)

	sess := NewSession(&github.User{Login: "octocat"}, testToken())
	require.NoError(t, m.SaveSession(sess))
	before := m.Status().LastValidated

	time.Sleep(10 * time.Millisecond)
	require.True(t, m.ValidateSession(context.Background()))

	after := m.Status().LastValidated
	assert.True(t, after.After(before))

	// The bump is persisted, not just in memory.
	metadata, err := st.Get(KeyMetadata)
	require.NoError(t, err)
	var rec struct {
		LastValidatedAt time.Time `json:"last_validated_at"`
	}
	require.NoError(t, json.Unmarshal([]byte(metadata), &rec))
	assert.True(t, rec.LastValidatedAt.Equal(after))
}

func TestManager_RefreshUserInfo(t *testing.T) {
	t.Run("replaces the user snapshot and emits refreshed", func(t *testing.T) {
		st := store.NewMemoryStore()
		m, client := newTestManager(t, st)
		events := m.Subscribe()

		require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat", Followers: 1}, testToken())))

		client.mu.Lock()
		client.user.Followers = 4000
		client.mu.Unlock()

		require.NoError(t, m.RefreshUserInfo(context.Background()))

		refreshed := waitForEvent(t, events, EventRefreshed)
		require.NotNil(t, refreshed.Session)
		assert.Equal(t, 4000, refreshed.Session.User.Followers)
		assert.Equal(t, 4000, m.CurrentUser().Followers)
	})

	t.Run("failure follows the retry-before-evict policy", func(t *testing.T) {
		st := store.NewMemoryStore()
		m, client := newTestManager(t, st)

		require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))

		client.mu.Lock()
		client.completeErr = errors.New("connection refused")
		client.mu.Unlock()

		err := m.RefreshUserInfo(context.Background())
		require.Error(t, err)
		assert.True(t, m.IsLoggedIn(), "one refresh failure must not log the user out")
		assert.Equal(t, 1, m.Status().RetryCount)
	})

	t.Run("without a session returns ErrNoSession", func(t *testing.T) {
		m, _ := newTestManager(t, store.NewMemoryStore())
		assert.ErrorIs(t, m.RefreshUserInfo(context.Background()), ErrNoSession)
	})
}

func TestManager_ManualRefresh_SerializesWithBackgroundRefresh(t *testing.T) {
	st := store.NewMemoryStore()
	m, client := newTestManager(t, st)

	sess := NewSession(&github.User{Login: "octocat"}, testToken())
	require.NoError(t, m.SaveSession(sess))

	block := make(chan struct{})
	client.mu.Lock()
	client.blockComplete = block
	client.mu.Unlock()

	refreshDone := make(chan error, 1)
	go func() {
		refreshDone <- m.RefreshUserInfo(context.Background())
	}()

	// Wait until the background refresh holds the isRefreshing guard.
	require.Eventually(t, func() bool {
		return m.Status().IsRefreshing
	}, 5*time.Second, 5*time.Millisecond)

	callsBefore := client.completeCalls()
	stale, err := m.ManualRefresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stale)
	assert.Equal(t, sess.ID, stale.ID, "manual refresh during a refresh returns the current session")
	assert.Equal(t, callsBefore, client.completeCalls(), "no additional network call")

	close(block)
	require.NoError(t, <-refreshDone)
	assert.False(t, m.Status().IsRefreshing)
}

func TestManager_ClearSession_AlwaysEndsLoggedOut(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestManager(t, st)

	require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))

	// Store deletions fail, logout must still win.
	st.FailDelete = errors.New("permission denied")
	m.ClearSession()

	assert.False(t, m.IsLoggedIn())
	assert.Nil(t, m.CurrentSession())
	assert.Equal(t, 0, m.Status().RetryCount)
}

func TestManager_Logout_EmitsLoggedOut(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestManager(t, st)
	events := m.Subscribe()

	require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))
	m.Logout()

	waitForEvent(t, events, EventLoggedOut)
	assert.False(t, m.IsLoggedIn())
	assert.Equal(t, 0, st.Len())
}

func TestManager_Destroy_KeepsPersistedState(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestManager(t, st)

	require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))
	m.Destroy()

	// Unlike ClearSession, persisted state survives for the next start.
	assert.Equal(t, 2, st.Len())

	m2, _ := newTestManager(t, st)
	loaded, err := m2.LoadSession()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "octocat", loaded.User.Login)
}

func TestManager_BackgroundEvictionAfterRepeatedFailures(t *testing.T) {
	st := store.NewMemoryStore()
	client := &fakeProfileClient{user: octocat()}
	m := NewManager(st, client, WithIntervals(15*time.Millisecond, 10*time.Hour))
	defer m.Destroy()

	events := m.Subscribe()
	require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))

	client.setUserErr(errors.New("token revoked"))

	waitForEvent(t, events, EventExpired)
	assert.False(t, m.IsLoggedIn())
	assert.Equal(t, 0, st.Len())

	// Exactly one eviction: no further expiry events trickle in.
	time.Sleep(100 * time.Millisecond)
	for _, e := range drainEvents(events) {
		assert.NotEqual(t, EventExpired, e.Type, "expiry must fire exactly once")
	}
}

func TestManager_BackgroundRefreshRuns(t *testing.T) {
	st := store.NewMemoryStore()
	client := &fakeProfileClient{user: octocat()}
	m := NewManager(st, client, WithIntervals(10*time.Hour, 15*time.Millisecond))
	defer m.Destroy()

	events := m.Subscribe()
	require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))

	waitForEvent(t, events, EventRefreshed)

	m.Destroy()
	calls := client.completeCalls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, client.completeCalls(), "timers must stop on destroy")
}

func TestManager_SaveSessionRestartsMaintenanceCleanly(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestManager(t, st)

	// Saving repeatedly must not stack timers or panic on restart.
	for i := 0; i < 3; i++ {
		sess := NewSession(&github.User{Login: fmt.Sprintf("user%d", i)}, testToken())
		require.NoError(t, m.SaveSession(sess))
	}
	assert.Equal(t, "user2", m.CurrentUser().Login)
}

func TestManager_SyncWithStore_ExternalLogout(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestManager(t, st)
	events := m.Subscribe()

	require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))

	// Another process deleted the token slot.
	require.NoError(t, st.Delete(KeyToken))
	m.SyncWithStore()

	waitForEvent(t, events, EventLoggedOut)
	assert.False(t, m.IsLoggedIn())
}

func TestManager_Accessors(t *testing.T) {
	m, _ := newTestManager(t, store.NewMemoryStore())

	t.Run("logged out", func(t *testing.T) {
		assert.Nil(t, m.CurrentSession())
		assert.Nil(t, m.CurrentUser())
		assert.True(t, m.CurrentToken().IsEmpty())
		assert.False(t, m.IsLoggedIn())

		status := m.Status()
		assert.False(t, status.IsLoggedIn)
		assert.True(t, status.LastValidated.IsZero())
	})

	t.Run("logged in", func(t *testing.T) {
		require.NoError(t, m.SaveSession(NewSession(&github.User{Login: "octocat"}, testToken())))

		assert.Equal(t, "octocat", m.CurrentUser().Login)
		assert.Equal(t, "tok_1", m.CurrentToken().Value())

		status := m.Status()
		assert.True(t, status.IsLoggedIn)
		assert.False(t, status.LastValidated.IsZero())
		assert.GreaterOrEqual(t, status.TimeSinceLastValidation, time.Duration(0))
	})

	t.Run("session snapshots are copies", func(t *testing.T) {
		snap := m.CurrentSession()
		snap.User.Login = "mutated"
		assert.Equal(t, "octocat", m.CurrentUser().Login)
	})
}

func TestRedactedToken_NeverLeaks(t *testing.T) {
	tok := NewRedactedToken("super-secret")

	assert.Equal(t, "[REDACTED]", tok.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", tok))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", tok))
	assert.NotContains(t, fmt.Sprintf("%#v", tok), "super-secret")

	data, err := json.Marshal(struct {
		Token RedactedToken `json:"token"`
	}{tok})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")

	assert.Equal(t, "super-secret", tok.Value())
	assert.False(t, tok.IsEmpty())
	assert.True(t, RedactedToken{}.IsEmpty())
}
