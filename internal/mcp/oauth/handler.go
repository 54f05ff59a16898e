package oauth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/giantswarm/mcp-oauth/storage"
	"github.com/giantswarm/mcp-oauth/storage/memory"

	"github.com/cogwheel/mcp-colab/internal/google"
)

// Handler implements the resource-server half of OAuth 2.1 for the MCP
// HTTP transport: protected resource metadata discovery, Bearer token
// validation, and the token cache consumed by per-user Google clients.
type Handler struct {
	config      *Config
	store       storage.TokenStore
	stopStore   func() // set when the handler owns the store
	rateLimiter *RateLimiter
	httpClient  *http.Client
	userinfoURL string
	logger      *slog.Logger
}

// NewHandler creates a new OAuth handler.
func NewHandler(config *Config) (*Handler, error) {
	if config.Resource == "" {
		return nil, fmt.Errorf("resource is required")
	}

	parsedURL, err := url.Parse(config.Resource)
	if err != nil {
		return nil, fmt.Errorf("invalid resource URL: %w", err)
	}

	// Allow HTTP only for loopback addresses (development).
	if parsedURL.Scheme != "https" {
		hostname := parsedURL.Hostname()
		if hostname != "localhost" &&
			hostname != "127.0.0.1" &&
			hostname != "::1" {
			return nil, fmt.Errorf("resource must use HTTPS in production (got %s://)", parsedURL.Scheme)
		}
	}

	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = google.DefaultOAuthScopes
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		config: config,
		logger: logger,
	}

	h.store = config.Store
	if h.store == nil {
		memStore := memory.New()
		h.store = memStore
		h.stopStore = memStore.Stop
	}

	if config.RateLimitRate > 0 {
		burst := config.RateLimitBurst
		if burst == 0 {
			burst = config.RateLimitRate * 2
		}
		cleanup := config.CleanupInterval
		if cleanup == 0 {
			cleanup = DefaultRateLimitCleanupInterval
		}
		h.rateLimiter = NewRateLimiter(config.RateLimitRate, burst, config.TrustProxy, cleanup, logger)
		logger.Info("IP-based rate limiting enabled",
			"rate", config.RateLimitRate,
			"burst", burst)
	}

	h.userinfoURL = config.UserInfoURL
	if h.userinfoURL == "" {
		h.userinfoURL = GoogleUserInfoURL
	}

	h.httpClient = config.HTTPClient
	if h.httpClient == nil {
		h.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return h, nil
}

// GetStore returns the token store holding validated Google tokens.
func (h *Handler) GetStore() storage.TokenStore {
	return h.store
}

// GetConfig returns the OAuth configuration.
func (h *Handler) GetConfig() *Config {
	return h.config
}

// Stop releases background resources: the rate limiter's cleanup loop and
// the token store when the handler owns it.
func (h *Handler) Stop() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
	if h.stopStore != nil {
		h.stopStore()
	}
}

// ServeProtectedResourceMetadata serves OAuth 2.0 Protected Resource
// Metadata (RFC 9728). It tells MCP clients that Google is the
// authorization server for this resource.
//
// The MCP client will:
//  1. Make an unauthenticated request to the MCP server
//  2. Receive a 401 with a WWW-Authenticate header pointing here
//  3. Fetch this metadata to discover the authorization server
//  4. Run the Google OAuth flow and obtain an access token
//  5. Include the token as a Bearer token in subsequent requests
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metadata := ProtectedResourceMetadata{
		Resource: h.config.Resource,
		AuthorizationServers: []string{
			GoogleAuthorizationServer,
		},
		BearerMethodsSupported: []string{
			"header", // Authorization: Bearer <token>
		},
		ScopesSupported: h.config.SupportedScopes,
	}

	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		h.logger.Error("Failed to encode metadata", "error", err)
	}
}

// setSecurityHeaders sets security headers on HTTP responses
func (h *Handler) setSecurityHeaders(w http.ResponseWriter) {
	// Prevent clickjacking attacks
	w.Header().Set("X-Frame-Options", "DENY")

	// Prevent MIME type sniffing
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// Content Security Policy - restrict resource loading
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	// Referrer policy - don't leak referrer information
	w.Header().Set("Referrer-Policy", "no-referrer")

	// For HTTPS resources, enforce HTTPS for 1 year
	if h.config.Resource != "" {
		parsedURL, err := url.Parse(h.config.Resource)
		if err == nil && parsedURL.Scheme == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
	}
}

// writeError is a helper to write OAuth error responses
func (h *Handler) writeError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	h.logger.Debug("OAuth error", "code", errorCode, "description", description, "status", statusCode)
	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            errorCode,
		ErrorDescription: description,
	})
}
