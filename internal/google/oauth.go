package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/cogwheel/mcp-colab/internal/config"
)

const (
	// DefaultAccount is the account name used when none is specified
	DefaultAccount = "default"

	// OOBRedirectURL is the out-of-band redirect for manual code entry
	OOBRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

	// credentialsFileName is the OAuth client credentials file inside the
	// config directory, in Google's standard client-secret JSON format
	credentialsFileName = "credentials.json"

	// legacyTokenFileName is the single-account token file older versions
	// of this tool kept; MigrateDefaultToken moves it into the per-account
	// layout
	legacyTokenFileName = "token.json"
)

var accountNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateAccountName rejects account names that could escape the config
// directory or collide with other token files.
func validateAccountName(account string) error {
	if account == "" {
		return fmt.Errorf("account name must not be empty")
	}
	if !accountNameRe.MatchString(account) {
		return fmt.Errorf("account name %q may only contain letters, digits, hyphens and underscores", account)
	}
	return nil
}

func configDir() string {
	dir, err := config.Dir()
	if err != nil {
		// Without a resolvable home directory token files land in the
		// working directory; callers get errors on the actual file ops.
		return "."
	}
	return dir
}

func credentialsFilePath() string {
	return filepath.Join(configDir(), credentialsFileName)
}

// getTokenFilePath returns the token file for an account.
func getTokenFilePath(account string) string {
	return filepath.Join(configDir(), fmt.Sprintf("google-%s.token", account))
}

// HasCredentials reports whether OAuth client credentials are configured.
func HasCredentials() bool {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return false
	}
	_, err = googleoauth.ConfigFromJSON(data, DefaultOAuthScopes...)
	return err == nil
}

// SaveCredentials writes OAuth client credentials in Google's standard
// "installed app" JSON format.
func SaveCredentials(clientID, clientSecret string) error {
	if clientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if clientSecret == "" {
		return fmt.Errorf("client secret is required")
	}

	payload := map[string]any{
		"installed": map[string]any{
			"client_id":     clientID,
			"client_secret": clientSecret,
			"auth_uri":      "https://accounts.google.com/o/oauth2/auth",
			"token_uri":     "https://oauth2.googleapis.com/token",
			"redirect_uris": []string{OOBRedirectURL, "http://localhost"},
		},
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir(), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(credentialsFilePath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// getOAuthConfig returns the OAuth2 configuration for all Google services
func getOAuthConfig() (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, fmt.Errorf("no Google API credentials found at %s; run 'mcp-colab setup' or the setup_google_credentials tool first: %w",
			credentialsFilePath(), err)
	}

	conf, err := googleoauth.ConfigFromJSON(data, DefaultOAuthScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Google API credentials: %w", err)
	}
	if conf.RedirectURL == "" {
		conf.RedirectURL = OOBRedirectURL
	}
	return conf, nil
}

// HasTokenForAccount checks if a stored OAuth token exists for the specified account
func HasTokenForAccount(account string) bool {
	if validateAccountName(account) != nil {
		return false
	}
	_, err := os.Stat(getTokenFilePath(account))
	return err == nil
}

// HasToken checks if a valid OAuth token exists for the default account
func HasToken() bool {
	return HasTokenForAccount(DefaultAccount)
}

// GetAuthURLForAccount returns the OAuth URL for user authorization for a
// specific account. Returns an empty string when client credentials are
// not configured; check HasCredentials first for a better error.
func GetAuthURLForAccount(account string) string {
	conf, err := getOAuthConfig()
	if err != nil {
		return ""
	}
	return conf.AuthCodeURL("state-"+account, oauth2.AccessTypeOffline)
}

// GetAuthURL returns the OAuth URL for user authorization for the default account
func GetAuthURL() string {
	return GetAuthURLForAccount(DefaultAccount)
}

// GetAuthURLWithRedirect returns the OAuth URL for user authorization using
// a caller-provided redirect URL, such as the setup command's ephemeral
// localhost callback server.
func GetAuthURLWithRedirect(account, redirectURL string) (string, error) {
	conf, err := getOAuthConfig()
	if err != nil {
		return "", err
	}
	conf.RedirectURL = redirectURL
	return conf.AuthCodeURL("state-"+account, oauth2.AccessTypeOffline), nil
}

// ExchangeWithRedirect exchanges an authorization code that was delivered to
// a caller-provided redirect URL and saves the resulting token. The redirect
// URL must match the one used to build the auth URL.
func ExchangeWithRedirect(ctx context.Context, account, authCode, redirectURL string) error {
	conf, err := getOAuthConfig()
	if err != nil {
		return err
	}
	conf.RedirectURL = redirectURL

	t, err := conf.Exchange(ctx, authCode)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}

	return StoreTokenForAccount(account, t)
}

// SaveTokenForAccount exchanges an authorization code for tokens and saves them
// for a specific account
func SaveTokenForAccount(ctx context.Context, account string, authCode string) error {
	conf, err := getOAuthConfig()
	if err != nil {
		return err
	}

	t, err := conf.Exchange(ctx, authCode)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}

	return StoreTokenForAccount(account, t)
}

// SaveToken exchanges an authorization code for tokens and saves them for the
// default account
func SaveToken(ctx context.Context, authCode string) error {
	return SaveTokenForAccount(ctx, DefaultAccount, authCode)
}

// StoreTokenForAccount persists an externally acquired token, such as one
// obtained through the setup command's local callback flow or refreshed
// during API use.
func StoreTokenForAccount(account string, token *oauth2.Token) error {
	if err := validateAccountName(account); err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("token is required")
	}

	if err := os.MkdirAll(configDir(), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(getTokenFilePath(account), data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// loadTokenFromFile reads a stored token for an account.
func loadTokenFromFile(account string) (*oauth2.Token, error) {
	if err := validateAccountName(account); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(getTokenFilePath(account))
	if err != nil {
		return nil, fmt.Errorf("no valid Google OAuth token found for account %s", account)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("invalid token format: %w", err)
	}
	return &tok, nil
}

// GetTokenSourceForAccount returns an OAuth2 token source for the stored token
// of a specific account. Refreshed tokens are written back to disk so the next
// process start does not need another refresh round-trip.
func GetTokenSourceForAccount(ctx context.Context, account string) (oauth2.TokenSource, error) {
	conf, err := getOAuthConfig()
	if err != nil {
		return nil, err
	}

	stored, err := loadTokenFromFile(account)
	if err != nil {
		return nil, err
	}

	ts := conf.TokenSource(ctx, stored)

	// Validate the token, refreshing it if expired
	fresh, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("cached token is invalid: %w", err)
	}
	if fresh.AccessToken != stored.AccessToken {
		if err := StoreTokenForAccount(account, fresh); err != nil {
			slog.Warn("failed to persist refreshed token", "account", account, "error", err)
		}
	}

	return oauth2.ReuseTokenSource(fresh, ts), nil
}

// GetTokenSource returns an OAuth2 token source for the default account
func GetTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	return GetTokenSourceForAccount(ctx, DefaultAccount)
}

// GetHTTPClientForAccount returns an HTTP client configured with OAuth2
// authentication for a specific account.
// The client is configured to use HTTP/1.1 to avoid HTTP/2 protocol errors
func GetHTTPClientForAccount(ctx context.Context, account string) (*http.Client, error) {
	ts, err := GetTokenSourceForAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	client := oauth2.NewClient(ctx, ts)

	// Force HTTP/1.1 by disabling HTTP/2
	transport := client.Transport.(*oauth2.Transport)
	baseTransport := &http.Transport{
		ForceAttemptHTTP2: false,
	}
	transport.Base = baseTransport

	return client, nil
}

// GetHTTPClient returns an authenticated HTTP client for the default account
func GetHTTPClient(ctx context.Context) (*http.Client, error) {
	return GetHTTPClientForAccount(ctx, DefaultAccount)
}

// MigrateDefaultToken moves the single-account token.json older versions
// wrote into the per-account layout. Safe to call on every start; it does
// nothing when there is nothing to migrate.
func MigrateDefaultToken() error {
	oldFile := filepath.Join(configDir(), legacyTokenFileName)
	newFile := getTokenFilePath(DefaultAccount)

	if _, err := os.Stat(oldFile); os.IsNotExist(err) {
		return nil
	}
	if _, err := os.Stat(newFile); err == nil {
		// Already migrated; never clobber the newer file.
		return nil
	}

	data, err := os.ReadFile(oldFile)
	if err != nil {
		return fmt.Errorf("failed to read legacy token file: %w", err)
	}
	if err := os.WriteFile(newFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write migrated token file: %w", err)
	}
	if err := os.Remove(oldFile); err != nil {
		return fmt.Errorf("failed to remove legacy token file: %w", err)
	}
	return nil
}

// GetAuthenticationErrorMessage returns an actionable message for a missing
// or invalid token.
func GetAuthenticationErrorMessage(account string) string {
	return fmt.Sprintf(`No valid Google OAuth token found for account %q.

To authorize Google Drive access:
1. Run "mcp-colab setup --account %s" and follow the browser prompts, or
2. call the setup_google_credentials tool with your OAuth client ID and
   secret, then open the printed URL and paste the code back.

The completed OAuth flow stores a token at %s.`, account, account, getTokenFilePath(account))
}
