package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv(EnvClientID, "Iv1.testclient")
	t.Setenv(EnvClientSecret, "testsecret")
}

func TestFromEnv_Defaults(t *testing.T) {
	setCredentials(t)
	t.Setenv(EnvDataDir, t.TempDir())
	for _, name := range []string{EnvRedirectURI, EnvScopes, EnvAuthEndpoint, EnvTokenEndpoint, EnvAPIBaseURL} {
		t.Setenv(name, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "Iv1.testclient", cfg.ClientID)
	assert.Equal(t, "https://github.com/login/oauth/authorize", cfg.AuthEndpoint)
	assert.Equal(t, "https://github.com/login/oauth/access_token", cfg.TokenEndpoint)
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, DefaultRedirectURI, cfg.RedirectURI)
	assert.Equal(t, DefaultScopes, cfg.Scopes)
}

func TestFromEnv_Overrides(t *testing.T) {
	setCredentials(t)
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvRedirectURI, "http://localhost:9999/cb")
	t.Setenv(EnvScopes, "repo  read:org")
	t.Setenv(EnvAuthEndpoint, "https://ghe.example.com/login/oauth/authorize")
	t.Setenv(EnvTokenEndpoint, "https://ghe.example.com/login/oauth/access_token")
	t.Setenv(EnvAPIBaseURL, "https://ghe.example.com/api/v3")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999/cb", cfg.RedirectURI)
	assert.Equal(t, []string{"repo", "read:org"}, cfg.Scopes)
	assert.Equal(t, "https://ghe.example.com/login/oauth/authorize", cfg.AuthEndpoint)
	assert.Equal(t, "https://ghe.example.com/api/v3", cfg.APIBaseURL)
}

func TestFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv(EnvClientID, "")
	t.Setenv(EnvClientSecret, "")
	t.Setenv(EnvDataDir, t.TempDir())

	_, err := FromEnv()
	require.Error(t, err)

	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.ElementsMatch(t, []string{EnvClientID, EnvClientSecret}, setupErr.Missing)
	assert.Contains(t, setupErr.Instructions(), EnvClientID)
	assert.Contains(t, setupErr.Instructions(), DefaultRedirectURI)
}

func TestValidate_PlaceholderCredentials(t *testing.T) {
	for _, placeholder := range []string{"your-client-id", "CHANGEME", "xxx"} {
		t.Run(placeholder, func(t *testing.T) {
			cfg := &Config{
				ClientID:     placeholder,
				ClientSecret: "real-secret",
				RedirectURI:  DefaultRedirectURI,
			}
			var setupErr *SetupError
			require.ErrorAs(t, cfg.Validate(), &setupErr)
			assert.Equal(t, []string{EnvClientID}, setupErr.Missing)
		})
	}
}

func TestValidate_RedirectURI(t *testing.T) {
	base := func() *Config {
		return &Config{ClientID: "id", ClientSecret: "secret"}
	}

	t.Run("non-http scheme rejected", func(t *testing.T) {
		cfg := base()
		cfg.RedirectURI = "myapp://callback"
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing path rejected", func(t *testing.T) {
		cfg := base()
		cfg.RedirectURI = "http://localhost:8914"
		assert.Error(t, cfg.Validate())
	})

	t.Run("default accepted", func(t *testing.T) {
		cfg := base()
		cfg.RedirectURI = DefaultRedirectURI
		assert.NoError(t, cfg.Validate())
	})
}
