package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/google"
	"github.com/cogwheel/mcp-colab/internal/instrumentation"
	"github.com/cogwheel/mcp-colab/internal/mcp/oauth"
)

// OAuthConfig holds the settings for the OAuth-enabled HTTP transport.
type OAuthConfig struct {
	// BaseURL is the externally visible URL of this server. Required.
	// Must be HTTPS except for loopback addresses.
	BaseURL string

	// SupportedScopes lists the OAuth scopes advertised in the protected
	// resource metadata. Empty means the default Google scopes.
	SupportedScopes []string

	// TrustProxy enables X-Forwarded-For handling for rate limiting when
	// the server runs behind a trusted reverse proxy.
	TrustProxy bool

	// DisableStreaming disables HTTP streaming for clients that cannot
	// handle chunked responses.
	DisableStreaming bool

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// OAuthHTTPServer wraps an MCP server with OAuth 2.1 authentication.
// It implements RFC 9728 Protected Resource Metadata so MCP clients can
// discover Google as the authorization server, validates Bearer tokens on
// every MCP request, and maps each token to a per-user Colab session.
type OAuthHTTPServer struct {
	mcpServer        *mcpserver.MCPServer
	oauthHandler     *oauth.Handler
	httpServer       *http.Server
	serverType       string // "sse" or "streamable-http"
	disableStreaming bool
	tlsCertFile      string
	tlsKeyFile       string
	sessionManager   *SessionIDManager
	healthChecker    *HealthChecker
	metrics          *instrumentation.Metrics
}

// CreateOAuthHandler creates an OAuth handler for use with HTTP transport.
// This allows creating the handler before the server, so its token store
// can feed the server context's token provider.
func CreateOAuthHandler(config OAuthConfig) (*oauth.Handler, error) {
	scopes := config.SupportedScopes
	if len(scopes) == 0 {
		scopes = google.DefaultOAuthScopes
	}

	return oauth.NewHandler(&oauth.Config{
		Resource:        config.BaseURL,
		SupportedScopes: scopes,
		RateLimitRate:   10, // 10 requests per second per IP
		RateLimitBurst:  20, // Allow burst of 20 requests
		TrustProxy:      config.TrustProxy,
		CleanupInterval: 1 * time.Minute,
	})
}

// NewOAuthHTTPServer creates a new OAuth-enabled HTTP server for MCP.
func NewOAuthHTTPServer(mcpServer *mcpserver.MCPServer, serverType string, baseURL string) (*OAuthHTTPServer, error) {
	oauthHandler, err := CreateOAuthHandler(OAuthConfig{BaseURL: baseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth handler: %w", err)
	}

	return NewOAuthHTTPServerWithHandler(mcpServer, serverType, oauthHandler, false)
}

// NewOAuthHTTPServerWithHandler creates a new OAuth-enabled HTTP server
// with an existing handler.
func NewOAuthHTTPServerWithHandler(mcpServer *mcpserver.MCPServer, serverType string, oauthHandler *oauth.Handler, disableStreaming bool) (*OAuthHTTPServer, error) {
	return NewOAuthHTTPServerWithHandlerAndTLS(mcpServer, serverType, oauthHandler, disableStreaming, "", "")
}

// NewOAuthHTTPServerWithHandlerAndTLS creates a new OAuth-enabled HTTP
// server with an existing handler and optional TLS certificate paths.
func NewOAuthHTTPServerWithHandlerAndTLS(mcpServer *mcpserver.MCPServer, serverType string, oauthHandler *oauth.Handler, disableStreaming bool, tlsCertFile, tlsKeyFile string) (*OAuthHTTPServer, error) {
	return &OAuthHTTPServer{
		mcpServer:        mcpServer,
		oauthHandler:     oauthHandler,
		serverType:       serverType,
		disableStreaming: disableStreaming,
		tlsCertFile:      tlsCertFile,
		tlsKeyFile:       tlsKeyFile,
		sessionManager:   NewSessionIDManager(),
	}, nil
}

// SetHealthChecker registers a health checker whose endpoints are served
// alongside the MCP endpoints.
func (s *OAuthHTTPServer) SetHealthChecker(h *HealthChecker) {
	s.healthChecker = h
}

// SetMetrics enables HTTP request instrumentation.
func (s *OAuthHTTPServer) SetMetrics(m *instrumentation.Metrics) {
	s.metrics = m
}

// SessionManager returns the manager that maps Bearer tokens to accounts.
func (s *OAuthHTTPServer) SessionManager() *SessionIDManager {
	return s.sessionManager
}

// GetOAuthHandler returns the OAuth handler for testing or direct access.
func (s *OAuthHTTPServer) GetOAuthHandler() *oauth.Handler {
	return s.oauthHandler
}

// Start starts the OAuth-enabled HTTP server.
func (s *OAuthHTTPServer) Start(addr string) error {
	// Validate HTTPS requirement for OAuth 2.1
	// Exception: localhost is allowed to use HTTP for development
	baseURL := s.oauthHandler.GetConfig().Resource
	if err := validateHTTPSRequirement(baseURL); err != nil {
		return err
	}

	mux := http.NewServeMux()

	// Protected Resource Metadata endpoint (RFC 9728)
	// This tells MCP clients where to find the authorization server (Google)
	metadataHandler := http.HandlerFunc(s.oauthHandler.ServeProtectedResourceMetadata)
	mux.Handle("/.well-known/oauth-protected-resource", s.instrumentationMiddleware(
		s.oauthHandler.RateLimitMiddleware(metadataHandler)))

	// Health check endpoints for Kubernetes probes
	if s.healthChecker != nil {
		s.healthChecker.RegisterHealthEndpoints(mux)
	}

	// Register MCP endpoints based on server type
	switch s.serverType {
	case "sse":
		sseServer := mcpserver.NewSSEServer(s.mcpServer,
			mcpserver.WithSSEEndpoint("/sse"),
			mcpserver.WithMessageEndpoint("/message"),
		)

		mux.Handle("/sse", s.protectedHandler(sseServer))
		mux.Handle("/message", s.protectedHandler(sseServer))

	case "streamable-http":
		var httpServer http.Handler
		if s.disableStreaming {
			httpServer = mcpserver.NewStreamableHTTPServer(s.mcpServer,
				mcpserver.WithEndpointPath("/mcp"),
				mcpserver.WithDisableStreaming(true),
			)
		} else {
			httpServer = mcpserver.NewStreamableHTTPServer(s.mcpServer,
				mcpserver.WithEndpointPath("/mcp"),
			)
		}

		mux.Handle("/mcp", s.protectedHandler(httpServer))

	default:
		return fmt.Errorf("unsupported server type: %s", s.serverType)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// protectedHandler builds the middleware chain for authenticated MCP
// endpoints: rate limiting, Google token validation, session tracking,
// and OAuth instrumentation.
func (s *OAuthHTTPServer) protectedHandler(endpoint http.Handler) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint.ServeHTTP(w, r)
	})

	return s.oauthInstrumentationWrapper(
		s.oauthHandler.RateLimitMiddleware(
			s.oauthHandler.ValidateGoogleToken(
				s.sessionTrackingMiddleware(handler))))
}

// sessionTrackingMiddleware binds the authenticated Google account to the
// caller's session ID, so Colab sessions stay separated per user. Runs
// after token validation, which put the user info into the context.
func (s *OAuthHTTPServer) sessionTrackingMiddleware(next http.Handler) http.Handler {
	if s.sessionManager == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := oauth.GetUserFromContext(r.Context()); ok && user.Email != "" {
			if sessionID, err := s.sessionManager.ResolveSessionID(r); err == nil {
				s.sessionManager.SetAccountForSession(sessionID, user.Email)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and its background services.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	if s.sessionManager != nil {
		s.sessionManager.Stop()
	}
	if s.oauthHandler != nil {
		s.oauthHandler.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// responseWriter captures the status code written to the underlying
// http.ResponseWriter so middleware can record it after the fact.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code and passes it through.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// instrumentationMiddleware records HTTP request metrics for an endpoint.
// A no-op when no metrics are configured.
func (s *OAuthHTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// oauthInstrumentationWrapper records HTTP metrics plus the OAuth
// authentication outcome for protected endpoints. Auth rejections surface
// as 401/403 from the token validation middleware.
func (s *OAuthHTTPServer) oauthInstrumentationWrapper(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		result := instrumentation.OAuthResultSuccess
		if rw.statusCode == http.StatusUnauthorized || rw.statusCode == http.StatusForbidden {
			result = instrumentation.OAuthResultFailure
		}
		s.metrics.RecordOAuthAuth(r.Context(), result)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// validateHTTPSRequirement ensures OAuth 2.1 HTTPS compliance
// Allows HTTP only for loopback addresses (localhost, 127.0.0.1, ::1)
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	// Parse URL to properly validate scheme and host
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	// Allow HTTP only for loopback addresses
	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("OAuth 2.1 requires HTTPS for production (got: %s). Use HTTPS or localhost for development", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}
