package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-oauth/storage/memory"

	"github.com/cogwheel/mcp-colab/internal/instrumentation"
)

// fakeAuthMetrics records RecordOAuthAuth calls for assertions.
type fakeAuthMetrics struct {
	results []string
}

func (f *fakeAuthMetrics) RecordOAuthAuth(_ context.Context, result string) {
	f.results = append(f.results, result)
}

func TestTokenProvider(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	provider := NewTokenProvider(store)
	require.NotNil(t, provider)

	ctx := context.Background()
	userID := "test-user@example.com"

	token := &oauth2.Token{
		AccessToken:  "test-access-token",
		RefreshToken: "test-refresh-token",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}

	err := provider.SaveToken(ctx, userID, token)
	require.NoError(t, err)

	retrievedToken, err := provider.GetToken(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, retrievedToken.AccessToken)
	assert.Equal(t, token.RefreshToken, retrievedToken.RefreshToken)
	assert.Equal(t, token.TokenType, retrievedToken.TokenType)
}

func TestTokenProvider_NonExistentUser(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	provider := NewTokenProvider(store)

	ctx := context.Background()

	_, err := provider.GetToken(ctx, "nonexistent@example.com")
	assert.Error(t, err)
}

func TestTokenProvider_HasTokenForAccount(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	provider := NewTokenProvider(store)

	ctx := context.Background()
	userID := "test-user@example.com"

	assert.False(t, provider.HasTokenForAccount(userID))

	token := &oauth2.Token{
		AccessToken: "test-access-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}
	err := provider.SaveToken(ctx, userID, token)
	require.NoError(t, err)

	assert.True(t, provider.HasTokenForAccount(userID))
}

func TestTokenProvider_GetTokenForAccount_ContextUser(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	provider := NewTokenProvider(store)

	ctx := context.Background()
	token := &oauth2.Token{
		AccessToken: "context-user-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}
	require.NoError(t, provider.SaveToken(ctx, "user@example.com", token))

	// The authenticated user from the request context wins over the
	// account argument.
	ctx = ContextWithUser(ctx, &GoogleUserInfo{Email: "user@example.com"})
	retrieved, err := provider.GetTokenForAccount(ctx, "some-other-account")
	require.NoError(t, err)
	assert.Equal(t, "context-user-token", retrieved.AccessToken)
}

func TestTokenProvider_GetTokenForAccount_AccountFallback(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	provider := NewTokenProvider(store)

	ctx := context.Background()
	token := &oauth2.Token{
		AccessToken: "account-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}
	require.NoError(t, provider.SaveToken(ctx, "work", token))

	// No user in context, so the account name is used directly.
	retrieved, err := provider.GetTokenForAccount(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "account-token", retrieved.AccessToken)
}

func TestTokenProvider_GetTokenForAccount_NotFound(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	provider := NewTokenProvider(store)

	_, err := provider.GetTokenForAccount(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Google OAuth token found")
}

func TestTokenProvider_RecordsMetrics(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	metrics := &fakeAuthMetrics{}
	provider := NewTokenProviderWithMetrics(store, metrics)

	ctx := context.Background()

	_, err := provider.GetToken(ctx, "nonexistent@example.com")
	require.Error(t, err)
	require.Len(t, metrics.results, 1)
	assert.Equal(t, instrumentation.OAuthResultFailure, metrics.results[0])

	token := &oauth2.Token{
		AccessToken: "test-access-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}
	require.NoError(t, provider.SaveToken(ctx, "user@example.com", token))

	_, err = provider.GetToken(ctx, "user@example.com")
	require.NoError(t, err)
	require.Len(t, metrics.results, 2)
	assert.Equal(t, instrumentation.OAuthResultSuccess, metrics.results[1])
}
