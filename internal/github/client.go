// Package github is the token-exchange and profile client for the OAuth
// provider's REST API. Only the two endpoints needed for login and session
// validation are implemented; repository data and everything else the API
// offers is out of scope.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"ghdesk/internal/config"
)

// DefaultHTTPTimeout is the default timeout for provider API requests.
const DefaultHTTPTimeout = 30 * time.Second

// TokenExchangeError indicates the code-for-token exchange failed: the HTTP
// call errored, the provider returned an error field, or the response
// carried no access token.
type TokenExchangeError struct {
	Code        string // provider error code, if any
	Description string // provider error description, if any
	Err         error  // underlying transport/decode error, if any
}

// Error implements the error interface.
func (e *TokenExchangeError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("token exchange failed: %s - %s", e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("token exchange failed: %s", e.Code)
	case e.Err != nil:
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	default:
		return "token exchange failed: no access token in response"
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// APIError indicates a non-2xx response from the provider's REST API.
type APIError struct {
	Endpoint   string
	StatusCode int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
}

// Client calls the provider's token endpoint and REST API.
type Client struct {
	clientID      string
	clientSecret  string
	tokenEndpoint string
	apiBaseURL    string
	httpClient    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client, typically for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a provider API client from the application config.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		tokenEndpoint: cfg.TokenEndpoint,
		apiBaseURL:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeCode exchanges an authorization code for an access token.
//
// The provider's tokens do not expire, so the returned token has a zero
// Expiry. The granted scope is attached as the "scope" extra.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	data := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// Without this the provider answers with a form-encoded body.
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TokenExchangeError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &TokenExchangeError{Err: err}
	}

	if tr.Error != "" {
		return nil, &TokenExchangeError{Code: tr.Error, Description: tr.ErrorDescription}
	}
	if tr.AccessToken == "" {
		return nil, &TokenExchangeError{}
	}

	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.Scope != "" {
		token = token.WithExtra(map[string]interface{}{"scope": tr.Scope})
	}

	return token, nil
}

// GetUser fetches the authenticated user's profile.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/user", accessToken, &user); err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}
	return &user, nil
}

// GetUserEmails fetches the authenticated user's email addresses.
// Requires the user:email scope.
func (c *Client) GetUserEmails(ctx context.Context, accessToken string) ([]Email, error) {
	var emails []Email
	if err := c.getJSON(ctx, "/user/emails", accessToken, &emails); err != nil {
		return nil, fmt.Errorf("failed to fetch user emails: %w", err)
	}
	return emails, nil
}

// GetPrimaryEmail returns the user's primary verified email address.
// Email is a non-critical enrichment: any failure of the underlying call
// degrades to an empty string rather than propagating.
func (c *Client) GetPrimaryEmail(ctx context.Context, accessToken string) string {
	emails, err := c.GetUserEmails(ctx, accessToken)
	if err != nil {
		slog.Debug("Primary email lookup failed, continuing without email",
			"error", err.Error(),
		)
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

// GetCompleteUser fetches the profile and, when the profile email is hidden,
// merges in the primary verified email. Never fails solely because no email
// could be determined.
func (c *Client) GetCompleteUser(ctx context.Context, accessToken string) (*User, error) {
	user, err := c.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if user.Email == "" {
		user.Email = c.GetPrimaryEmail(ctx, accessToken)
	}
	return user, nil
}

func (c *Client) getJSON(ctx context.Context, path, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return &APIError{Endpoint: path, StatusCode: resp.StatusCode}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// TokenScope returns the granted scope attached to a token by ExchangeCode.
func TokenScope(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	if scope, ok := token.Extra("scope").(string); ok {
		return scope
	}
	return ""
}
