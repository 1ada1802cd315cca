package github

import "time"

// User is the portion of the provider's /user response the application
// keeps. The API returns a much larger object; only these fields are
// unmarshalled and persisted as the session's profile snapshot.
type User struct {
	// ID is the provider's numeric user ID. Stable, never changes.
	ID int64 `json:"id"`

	// Login is the username, e.g. "octocat".
	Login string `json:"login"`

	// Name is the display name. May be empty.
	Name string `json:"name"`

	// Email is the public profile email. Empty when the user hides it;
	// the primary-email fallback fills it in when possible.
	Email string `json:"email"`

	// AvatarURL is the profile picture URL.
	AvatarURL string `json:"avatar_url"`

	// PublicRepos is the count of public repositories.
	PublicRepos int `json:"public_repos"`

	// Followers and Following are the social counts.
	Followers int `json:"followers"`
	Following int `json:"following"`

	// CreatedAt is when the provider account was created.
	CreatedAt time.Time `json:"created_at"`
}

// Email is one entry of the provider's /user/emails response.
type Email struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// tokenResponse is the provider's token endpoint response. On failure the
// endpoint returns 200 with an error field rather than a non-2xx status.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
