// Package config loads and validates the OAuth application configuration
// from environment variables.
//
// ghdesk authenticates against a single OAuth provider (GitHub). The client
// credentials come from an OAuth App registered with the provider; the
// redirect URI must match the "Authorization callback URL" configured there
// exactly, because the local callback listener binds to the host, port, and
// path encoded in it.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2/github"
)

// Environment variable names for the OAuth application credentials.
const (
	EnvClientID      = "GHDESK_CLIENT_ID"
	EnvClientSecret  = "GHDESK_CLIENT_SECRET"
	EnvRedirectURI   = "GHDESK_REDIRECT_URI"
	EnvScopes        = "GHDESK_SCOPES"
	EnvAuthEndpoint  = "GHDESK_AUTH_ENDPOINT"
	EnvTokenEndpoint = "GHDESK_TOKEN_ENDPOINT"
	EnvAPIBaseURL    = "GHDESK_API_BASE_URL"
	EnvDataDir       = "GHDESK_DATA_DIR"
)

// DefaultRedirectURI is the callback URL used when none is configured.
// The port is fixed rather than random because the provider validates the
// redirect URI against the registered OAuth App settings.
const DefaultRedirectURI = "http://localhost:8914/auth/callback"

// DefaultAPIBaseURL is the base URL for the provider's REST API.
const DefaultAPIBaseURL = "https://api.github.com"

// DefaultScopes are the OAuth scopes requested during authorization.
// read:user grants profile access, user:email grants email list access
// for the primary-email fallback.
var DefaultScopes = []string{"read:user", "user:email"}

// placeholderValues are credential values from setup documentation that
// indicate the user has not configured real credentials yet.
var placeholderValues = map[string]bool{
	"your-client-id":     true,
	"your-client-secret": true,
	"changeme":           true,
	"xxx":                true,
}

// Config holds everything the OAuth components need. It is validated once at
// startup; components receive it by value and never re-read the environment.
type Config struct {
	// ClientID is the OAuth App client ID.
	ClientID string

	// ClientSecret is the OAuth App client secret. Used only for the
	// server-to-server code exchange, never sent to the browser.
	ClientSecret string

	// AuthEndpoint is the provider's authorization endpoint.
	AuthEndpoint string

	// TokenEndpoint is the provider's token endpoint.
	TokenEndpoint string

	// APIBaseURL is the base URL for the provider's REST API
	// (user profile and email endpoints).
	APIBaseURL string

	// RedirectURI is the exact callback URL registered with the provider.
	RedirectURI string

	// Scopes are the OAuth scopes to request, joined with spaces in the
	// authorization URL.
	Scopes []string

	// DataDir is the directory for persisted session state.
	// Defaults to ~/.config/ghdesk.
	DataDir string
}

// SetupError indicates missing or placeholder OAuth credentials. The host
// application should print Instructions and continue running with OAuth
// features disabled rather than exiting.
type SetupError struct {
	Missing []string
}

// Error implements the error interface.
func (e *SetupError) Error() string {
	return fmt.Sprintf("OAuth credentials not configured: %s", strings.Join(e.Missing, ", "))
}

// Instructions returns a human-readable setup guide for the missing values.
func (e *SetupError) Instructions() string {
	var b strings.Builder
	b.WriteString("OAuth login is not configured.\n\n")
	b.WriteString("Register an OAuth App at https://github.com/settings/developers\n")
	b.WriteString("with the authorization callback URL set to:\n\n")
	b.WriteString("    " + DefaultRedirectURI + "\n\n")
	b.WriteString("then export:\n\n")
	for _, name := range e.Missing {
		b.WriteString("    export " + name + "=...\n")
	}
	return b.String()
}

// FromEnv builds a Config from environment variables, applying defaults for
// everything except the client credentials. Returns a *SetupError when the
// client ID or secret is missing or still a documentation placeholder.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ClientID:      os.Getenv(EnvClientID),
		ClientSecret:  os.Getenv(EnvClientSecret),
		AuthEndpoint:  getEnv(EnvAuthEndpoint, github.Endpoint.AuthURL),
		TokenEndpoint: getEnv(EnvTokenEndpoint, github.Endpoint.TokenURL),
		APIBaseURL:    getEnv(EnvAPIBaseURL, DefaultAPIBaseURL),
		RedirectURI:   getEnv(EnvRedirectURI, DefaultRedirectURI),
		DataDir:       os.Getenv(EnvDataDir),
	}

	if scopes := os.Getenv(EnvScopes); scopes != "" {
		cfg.Scopes = strings.Fields(scopes)
	} else {
		cfg.Scopes = append([]string(nil), DefaultScopes...)
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		cfg.DataDir = homeDir + "/.config/ghdesk"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that credentials are present and the redirect URI is a
// well-formed local URL.
func (c *Config) Validate() error {
	var missing []string
	if c.ClientID == "" || placeholderValues[strings.ToLower(c.ClientID)] {
		missing = append(missing, EnvClientID)
	}
	if c.ClientSecret == "" || placeholderValues[strings.ToLower(c.ClientSecret)] {
		missing = append(missing, EnvClientSecret)
	}
	if len(missing) > 0 {
		return &SetupError{Missing: missing}
	}

	u, err := url.Parse(c.RedirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect URI %q: %w", c.RedirectURI, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("redirect URI %q must be an http(s) URL", c.RedirectURI)
	}
	if u.Path == "" {
		return fmt.Errorf("redirect URI %q must include a callback path", c.RedirectURI)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
