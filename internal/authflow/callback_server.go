package authflow

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// CallbackResult represents one OAuth callback request.
type CallbackResult struct {
	// Code is the authorization code from the provider.
	Code string

	// State is the state parameter to verify against the original request.
	State string

	// Error is the provider's error code if authorization failed.
	Error string

	// ErrorDescription is a human-readable error description.
	ErrorDescription string
}

// IsError returns true if the callback result carries a provider error.
func (r *CallbackResult) IsError() bool {
	return r.Error != ""
}

// CallbackServer is a short-lived local HTTP server that intercepts the
// OAuth redirect for exactly one authorization attempt. It binds the exact
// host, port, and path of the configured redirect URI, answers the first
// matching request, then shuts down. Requests to any other path get 404.
type CallbackServer struct {
	host string
	port string
	path string

	// expectedState is the state generated for this attempt. The handler
	// needs it to pick the right response page before the result is
	// delivered to the waiting login.
	expectedState string

	server   *http.Server
	listener net.Listener
	resultCh chan *CallbackResult
	errorCh  chan error

	// done is closed by Stop so goroutines tied to this attempt exit even
	// when the caller's context lives on.
	done     chan struct{}
	once     sync.Once
	stopOnce sync.Once
}

// NewCallbackServer creates a callback server for the given redirect URI and
// the state parameter bound to this attempt.
func NewCallbackServer(redirectURI, expectedState string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI %q: %w", redirectURI, err)
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	return &CallbackServer{
		host:          host,
		port:          port,
		path:          path,
		expectedState: expectedState,
		resultCh:      make(chan *CallbackResult, 1),
		errorCh:       make(chan error, 1),
		done:          make(chan struct{}),
	}, nil
}

// Start binds the listener and begins serving. The server stops when the
// context is cancelled or Stop is called.
func (s *CallbackServer) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, func(w http.ResponseWriter, r *http.Request) {
		// ServeMux treats a registered path as a prefix when it ends in a
		// slash; require the exact path either way.
		if r.URL.Path != s.path {
			http.NotFound(w, r)
			return
		}
		s.handleCallback(w, r)
	})
	if s.path != "/" {
		mux.HandleFunc("/", http.NotFound)
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	return nil
}

// Result returns the channel delivering the single callback result.
func (s *CallbackServer) Result() <-chan *CallbackResult {
	return s.resultCh
}

// ServeError returns the channel delivering a fatal serve error.
func (s *CallbackServer) ServeError() <-chan error {
	return s.errorCh
}

// handleCallback answers the callback request. Only the first matching
// request is processed; repeats get 400.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	result := &CallbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	s.renderResponse(w, result)

	select {
	case s.resultCh <- result:
	default:
	}
}

// renderResponse picks the success or failure page. The browser sees a
// failure page for provider errors, state mismatches, and missing codes,
// even though the detailed error is surfaced through the login call.
func (s *CallbackServer) renderResponse(w http.ResponseWriter, result *CallbackResult) {
	var tmpl *template.Template
	var data interface{}

	switch {
	case result.IsError():
		tmpl = template.Must(template.New("error").Parse(errorPageHTML))
		data = map[string]string{
			"Error":       result.Error,
			"Description": result.ErrorDescription,
		}
	case result.State != s.expectedState:
		tmpl = template.Must(template.New("error").Parse(errorPageHTML))
		data = map[string]string{
			"Error":       "state_mismatch",
			"Description": "The response did not match this login attempt. Please try again.",
		}
	case result.Code == "":
		tmpl = template.Must(template.New("error").Parse(errorPageHTML))
		data = map[string]string{
			"Error":       "missing_code",
			"Description": "The provider did not return an authorization code.",
		}
	default:
		tmpl = template.Must(template.New("success").Parse(successPageHTML))
		data = map[string]string{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// Stop shuts down the callback server and closes its listener. Idempotent;
// returns only once the port is released.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// Addr returns the address the listener is bound to.
func (s *CallbackServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
