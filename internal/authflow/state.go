package authflow

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// stateBytes is the number of random bytes for the OAuth state parameter.
// 32 bytes encodes to 43 base64url characters, satisfying providers that
// require a minimum of 32 characters.
const stateBytes = 32

// GenerateState generates a random state parameter for one authorization
// attempt. The state binds the callback to the attempt and is used to detect
// cross-site request forgery.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
