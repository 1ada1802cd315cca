package session

import "log/slog"

// EventType identifies a session lifecycle transition. The set is closed;
// subscribers switch on it rather than registering per-transition callbacks.
type EventType int

const (
	// EventLoggedIn fires after a new session is persisted and committed.
	EventLoggedIn EventType = iota

	// EventLoggedOut fires after an explicit logout clears the session.
	EventLoggedOut

	// EventExpired fires exactly once when the session is evicted after
	// retry exhaustion. The user must log in again.
	EventExpired

	// EventRefreshed fires after a successful profile refresh, with the
	// updated session attached.
	EventRefreshed

	// EventError reports a recoverable background failure that did not
	// evict the session.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventLoggedIn:
		return "logged_in"
	case EventLoggedOut:
		return "logged_out"
	case EventExpired:
		return "expired"
	case EventRefreshed:
		return "refreshed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification. Session is a snapshot (nil for
// logout/expiry), Err is set only for EventError.
type Event struct {
	Type    EventType
	Session *Session
	Err     error
}

// eventBufferSize is the per-subscriber channel buffer. Delivery is
// fire-and-forget: a subscriber that falls this far behind loses events,
// logged but not retried, because the UI re-renders from a status snapshot
// anyway.
const eventBufferSize = 16

// Subscribe registers a new event subscriber and returns its channel.
// The channel is closed by Unsubscribe or Destroy.
func (m *Manager) Subscribe() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, eventBufferSize)
	m.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
// No-op for unknown channels.
func (m *Manager) Unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subscribers {
		if sub == ch {
			delete(m.subscribers, sub)
			close(sub)
			return
		}
	}
}

// emitLocked delivers an event to all subscribers without blocking.
// Must be called with m.mu held.
func (m *Manager) emitLocked(event Event) {
	for sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			slog.Warn("Session event dropped, subscriber channel full",
				"event", event.Type.String(),
			)
		}
	}
}
