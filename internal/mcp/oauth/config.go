package oauth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-oauth/storage"
)

const (
	// GoogleAuthorizationServer is advertised in the protected resource
	// metadata. Clients run their OAuth flow directly against Google and
	// present the resulting access token to this server.
	GoogleAuthorizationServer = "https://accounts.google.com"

	// GoogleUserInfoURL is the endpoint used to validate access tokens.
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	// DefaultRateLimitCleanupInterval is how often stale per-IP buckets
	// are removed from the rate limiter.
	DefaultRateLimitCleanupInterval = 5 * time.Minute

	// defaultHTTPTimeout bounds userinfo validation requests.
	defaultHTTPTimeout = 30 * time.Second
)

// Config holds the OAuth resource-server configuration.
type Config struct {
	// Resource is the externally visible base URL of this server (RFC 9728).
	// Required. Must be HTTPS except for loopback addresses.
	Resource string

	// SupportedScopes lists the Google scopes this server expects tokens to
	// carry. Defaults to google.DefaultOAuthScopes.
	SupportedScopes []string

	// Store receives validated Google tokens keyed by user email. When nil,
	// an in-memory store is created and owned by the handler.
	Store storage.TokenStore

	// RateLimitRate is the allowed requests per second per client IP.
	// Zero disables rate limiting.
	RateLimitRate int

	// RateLimitBurst is the maximum burst size. Defaults to 2x the rate.
	RateLimitBurst int

	// TrustProxy enables X-Forwarded-For / X-Real-IP handling when the
	// server sits behind a trusted reverse proxy.
	TrustProxy bool

	// CleanupInterval is how often the rate limiter prunes idle buckets.
	CleanupInterval time.Duration

	// UserInfoURL overrides the Google userinfo endpoint. Tests point this
	// at a local server; production leaves it empty.
	UserInfoURL string

	// HTTPClient is used for userinfo validation requests. Defaults to a
	// client with a 30 second timeout.
	HTTPClient *http.Client

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}
