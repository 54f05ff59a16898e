package google

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/cogwheel/mcp-colab/internal/config"
)

func TestValidateAccountName(t *testing.T) {
	tests := []struct {
		name    string
		account string
		wantErr bool
	}{
		{"valid default", "default", false},
		{"valid work", "work", false},
		{"valid with hyphen", "work-email", false},
		{"valid with underscore", "personal_email", false},
		{"valid alphanumeric", "account123", false},
		{"empty", "", true},
		{"with spaces", "my account", true},
		{"with special chars", "account@work", true},
		{"with slash", "work/personal", true},
		{"with dot", "work.email", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAccountName(tt.account)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAccountName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetTokenFilePath(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	tests := []struct {
		name    string
		account string
		want    string
	}{
		{"default account", "default", "google-default.token"},
		{"work account", "work", "google-work.token"},
		{"personal account", "personal", "google-personal.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := getTokenFilePath(tt.account)
			if filepath.Base(got) != tt.want {
				t.Errorf("getTokenFilePath() = %v, want base %v", got, tt.want)
			}
		})
	}
}

func TestHasTokenForAccount(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	// Test with invalid account name
	if HasTokenForAccount("invalid account") {
		t.Error("HasTokenForAccount() should return false for invalid account name")
	}

	// Test with empty account name
	if HasTokenForAccount("") {
		t.Error("HasTokenForAccount() should return false for empty account name")
	}

	// No token stored yet
	if HasTokenForAccount("default") {
		t.Error("HasTokenForAccount() should return false before a token is stored")
	}

	// Store a token and check again
	tok := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer"}
	if err := StoreTokenForAccount("default", tok); err != nil {
		t.Fatalf("StoreTokenForAccount() error = %v", err)
	}
	if !HasTokenForAccount("default") {
		t.Error("HasTokenForAccount() should return true after a token is stored")
	}
}

func TestStoreAndLoadToken(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := &oauth2.Token{
		AccessToken:  "access-token-value",
		RefreshToken: "refresh-token-value",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}

	if err := StoreTokenForAccount("work", tok); err != nil {
		t.Fatalf("StoreTokenForAccount() error = %v", err)
	}

	loaded, err := loadTokenFromFile("work")
	if err != nil {
		t.Fatalf("loadTokenFromFile() error = %v", err)
	}
	if loaded.AccessToken != tok.AccessToken {
		t.Errorf("AccessToken = %q, want %q", loaded.AccessToken, tok.AccessToken)
	}
	if loaded.RefreshToken != tok.RefreshToken {
		t.Errorf("RefreshToken = %q, want %q", loaded.RefreshToken, tok.RefreshToken)
	}
	if !loaded.Expiry.Equal(expiry) {
		t.Errorf("Expiry = %v, want %v", loaded.Expiry, expiry)
	}

	// Token files must not be world readable.
	info, err := os.Stat(getTokenFilePath("work"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token file permissions = %o, want 0600", perm)
	}
}

func TestSaveCredentials(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	if HasCredentials() {
		t.Error("HasCredentials() should be false before SaveCredentials")
	}
	if url := GetAuthURLForAccount("default"); url != "" {
		t.Errorf("GetAuthURLForAccount() should be empty without credentials, got %q", url)
	}

	if err := SaveCredentials("client-id-123.apps.googleusercontent.com", "secret-456"); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}

	if !HasCredentials() {
		t.Error("HasCredentials() should be true after SaveCredentials")
	}

	url := GetAuthURLForAccount("work")
	if url == "" {
		t.Fatal("GetAuthURLForAccount() should return a URL once credentials exist")
	}
	if !strings.Contains(url, "client-id-123.apps.googleusercontent.com") {
		t.Errorf("auth URL should carry the client ID: %q", url)
	}
	if !strings.Contains(url, "state-work") {
		t.Errorf("auth URL should carry the per-account state: %q", url)
	}
}

func TestSaveCredentialsRejectsEmpty(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	if err := SaveCredentials("", "secret"); err == nil {
		t.Error("SaveCredentials() should reject an empty client ID")
	}
	if err := SaveCredentials("id", ""); err == nil {
		t.Error("SaveCredentials() should reject an empty client secret")
	}
}

func TestGetTokenSourceForAccount_ValidStoredToken(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	if err := SaveCredentials("client-id", "client-secret"); err != nil {
		t.Fatal(err)
	}

	// A token that is still valid is served without any refresh round-trip.
	tok := &oauth2.Token{
		AccessToken:  "still-valid",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	if err := StoreTokenForAccount("default", tok); err != nil {
		t.Fatal(err)
	}

	ts, err := GetTokenSourceForAccount(context.Background(), "default")
	if err != nil {
		t.Fatalf("GetTokenSourceForAccount() error = %v", err)
	}
	got, err := ts.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got.AccessToken != "still-valid" {
		t.Errorf("AccessToken = %q, want still-valid", got.AccessToken)
	}
}

func TestGetTokenSourceForAccount_MissingToken(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	if err := SaveCredentials("client-id", "client-secret"); err != nil {
		t.Fatal(err)
	}

	if _, err := GetTokenSourceForAccount(context.Background(), "default"); err == nil {
		t.Error("GetTokenSourceForAccount() should fail without a stored token")
	}
}

func TestMigrateDefaultToken(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvDirOverride, dir)

	oldTokenFile := filepath.Join(dir, "token.json")
	newTokenFile := filepath.Join(dir, "google-default.token")

	// Nothing to migrate is not an error.
	if err := MigrateDefaultToken(); err != nil {
		t.Fatalf("MigrateDefaultToken() with nothing to migrate: %v", err)
	}

	// Create old token file for testing
	tokenData := []byte(`{"access_token": "legacy", "refresh_token": "legacy-refresh"}`)
	if err := os.WriteFile(oldTokenFile, tokenData, 0600); err != nil {
		t.Fatal(err)
	}

	// Run migration
	if err := MigrateDefaultToken(); err != nil {
		t.Fatalf("MigrateDefaultToken() error = %v", err)
	}

	// Check that new token file exists
	if _, err := os.Stat(newTokenFile); os.IsNotExist(err) {
		t.Error("New token file should exist after migration")
	}

	// Check that old token file was removed
	if _, err := os.Stat(oldTokenFile); !os.IsNotExist(err) {
		t.Error("Old token file should be removed after migration")
	}

	// Verify token data was preserved
	newData, err := os.ReadFile(newTokenFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(newData) != string(tokenData) {
		t.Errorf("Token data should be preserved during migration, got %s, want %s", string(newData), string(tokenData))
	}

	// Run migration again (should be idempotent)
	if err := MigrateDefaultToken(); err != nil {
		t.Fatalf("Second MigrateDefaultToken() error = %v", err)
	}
}

func TestGetAuthenticationErrorMessage(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	tests := []struct {
		name    string
		account string
	}{
		{"default account", "default"},
		{"work account", "work"},
		{"personal account", "personal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := GetAuthenticationErrorMessage(tt.account)
			if msg == "" {
				t.Error("GetAuthenticationErrorMessage() should return non-empty message")
			}
			// Check that message mentions the account
			if !strings.Contains(msg, tt.account) {
				t.Errorf("GetAuthenticationErrorMessage() should mention account %s", tt.account)
			}
			// Check that message mentions OAuth
			if !strings.Contains(msg, "OAuth") {
				t.Error("GetAuthenticationErrorMessage() should mention OAuth")
			}
		})
	}
}

func TestDefaultAccountFunctions(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	// Test that legacy functions use default account
	defaultResult := HasTokenForAccount("default")
	legacyResult := HasToken()
	if defaultResult != legacyResult {
		t.Error("HasToken() should return same result as HasTokenForAccount('default')")
	}
}

func TestFileTokenProvider(t *testing.T) {
	t.Setenv(config.EnvDirOverride, t.TempDir())

	p := NewFileTokenProvider()
	if p.HasTokenForAccount("default") {
		t.Error("HasTokenForAccount() should be false before a token is stored")
	}

	if err := SaveCredentials("client-id", "client-secret"); err != nil {
		t.Fatal(err)
	}
	tok := &oauth2.Token{
		AccessToken:  "provider-token",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	if err := StoreTokenForAccount("default", tok); err != nil {
		t.Fatal(err)
	}

	if !p.HasTokenForAccount("default") {
		t.Error("HasTokenForAccount() should be true after a token is stored")
	}
	got, err := p.GetTokenForAccount(context.Background(), "default")
	if err != nil {
		t.Fatalf("GetTokenForAccount() error = %v", err)
	}
	if got.AccessToken != "provider-token" {
		t.Errorf("AccessToken = %q, want provider-token", got.AccessToken)
	}
}
