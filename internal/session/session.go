// Package session owns the application's single authentication session: the
// in-memory current session, its durable persistence, the background
// validation and refresh timers, the retry-before-evict policy, and the
// lifecycle events consumed by the presentation layer.
package session

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"ghdesk/internal/github"
)

// Store keys owned exclusively by the session manager. The token key is the
// secret-bearing slot; the metadata key holds everything that is safe to
// read in plaintext.
const (
	KeyToken    = "session.token"
	KeyMetadata = "session.metadata"
)

// Token is the credential portion of a session. The provider's access
// tokens do not expire, so no expiry is tracked.
type Token struct {
	// AccessToken is the bearer secret. Redacted in all default formatting;
	// it is persisted only to the store's secret slot.
	AccessToken RedactedToken

	// TokenType is typically "bearer".
	TokenType string

	// Scope is the space-joined granted scope.
	Scope string
}

// Session is the sole unit of authentication state, in memory and on disk.
// At most one exists at a time.
type Session struct {
	// ID identifies this session across log lines and diagnostics.
	ID string

	// User is the provider profile snapshot. Fully replaced, never
	// partially mutated, on refresh.
	User github.User

	// Token is the credential used for provider API calls.
	Token Token

	// CreatedAt is the authentication time. Immutable.
	CreatedAt time.Time

	// LastValidatedAt is the time of the last successful validation or
	// refresh. Always >= CreatedAt.
	LastValidatedAt time.Time
}

// NewSession builds a Session from a fresh login's token and profile.
func NewSession(user *github.User, token *oauth2.Token) *Session {
	now := time.Now()
	return &Session{
		ID:   uuid.NewString(),
		User: *user,
		Token: Token{
			AccessToken: NewRedactedToken(token.AccessToken),
			TokenType:   token.TokenType,
			Scope:       github.TokenScope(token),
		},
		CreatedAt:       now,
		LastValidatedAt: now,
	}
}

// clone returns a copy so callers can hold a snapshot without racing
// against in-place refresh mutations.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// metadataRecord is the JSON document persisted to the metadata slot.
// It carries the non-secret token fields; the access token itself lives
// only in the secret slot.
type metadataRecord struct {
	ID              string      `json:"id"`
	User            github.User `json:"user"`
	TokenType       string      `json:"token_type"`
	Scope           string      `json:"scope"`
	CreatedAt       time.Time   `json:"created_at"`
	LastValidatedAt time.Time   `json:"last_validated_at"`
}

func (s *Session) toMetadata() metadataRecord {
	return metadataRecord{
		ID:              s.ID,
		User:            s.User,
		TokenType:       s.Token.TokenType,
		Scope:           s.Token.Scope,
		CreatedAt:       s.CreatedAt,
		LastValidatedAt: s.LastValidatedAt,
	}
}

func sessionFromRecord(rec metadataRecord, accessToken string) *Session {
	return &Session{
		ID:   rec.ID,
		User: rec.User,
		Token: Token{
			AccessToken: NewRedactedToken(accessToken),
			TokenType:   rec.TokenType,
			Scope:       rec.Scope,
		},
		CreatedAt:       rec.CreatedAt,
		LastValidatedAt: rec.LastValidatedAt,
	}
}
