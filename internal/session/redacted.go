package session

// RedactedToken wraps the access token secret to prevent accidental leakage.
//
// It implements fmt.Stringer, fmt.GoStringer, and the text/JSON marshalers
// to return "[REDACTED]" instead of the secret, so the token can never reach
// a log line or the metadata record through default formatting. The session
// manager writes the real value to the store's secret slot explicitly via
// Value().
type RedactedToken struct {
	value string
}

// NewRedactedToken creates a RedactedToken wrapping the given secret.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the actual token value. Use only when the token must be sent
// in an Authorization header or written to the secret slot. Never log it.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty returns true if the token value is empty.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

// String implements fmt.Stringer.
func (t RedactedToken) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (t RedactedToken) GoString() string {
	return "session.RedactedToken{[REDACTED]}"
}

// MarshalText implements encoding.TextMarshaler.
func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// MarshalJSON implements json.Marshaler.
func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
