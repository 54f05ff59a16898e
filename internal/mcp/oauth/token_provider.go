package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-oauth/storage"

	"github.com/cogwheel/mcp-colab/internal/instrumentation"
)

// AuthMetricsRecorder records token lookup outcomes. A narrow interface so
// the provider does not depend on the full Metrics type.
type AuthMetricsRecorder interface {
	RecordOAuthAuth(ctx context.Context, result string)
}

// TokenProvider implements google.TokenProvider on top of the mcp-oauth
// token store. Tokens arrive in the store when the Bearer middleware
// validates a request, so HTTP-mode Drive clients transparently pick up
// the caller's Google credentials.
type TokenProvider struct {
	store   storage.TokenStore
	metrics AuthMetricsRecorder
}

// NewTokenProvider creates a token provider backed by the given store.
func NewTokenProvider(store storage.TokenStore) *TokenProvider {
	return &TokenProvider{
		store: store,
	}
}

// NewTokenProviderWithMetrics creates a token provider that records lookup
// outcomes for observability.
func NewTokenProviderWithMetrics(store storage.TokenStore, metrics AuthMetricsRecorder) *TokenProvider {
	return &TokenProvider{
		store:   store,
		metrics: metrics,
	}
}

// GetToken retrieves the Google token for the given user ID (email).
func (p *TokenProvider) GetToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	token, err := p.store.GetToken(ctx, userID)
	p.record(ctx, err)
	return token, err
}

// GetTokenForAccount retrieves a Google token from the store.
// First checks for an authenticated user in the context (set by the OAuth
// middleware), then falls back to the account name.
func (p *TokenProvider) GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error) {
	if userInfo, ok := GetUserFromContext(ctx); ok && userInfo != nil && userInfo.Email != "" {
		if token, err := p.store.GetToken(ctx, userInfo.Email); err == nil {
			p.record(ctx, nil)
			return token, nil
		}
		// Token not found by email, try the account name as fallback
	}

	token, err := p.store.GetToken(ctx, account)
	if err != nil {
		p.record(ctx, err)
		return nil, fmt.Errorf("no Google OAuth token found for account %s. Please authenticate with Google through your MCP client", account)
	}
	p.record(ctx, nil)
	return token, nil
}

// HasTokenForAccount checks if a token exists for the specified account.
// This method has no context, so it only checks by account name; it is
// used during server initialization.
func (p *TokenProvider) HasTokenForAccount(account string) bool {
	_, err := p.store.GetToken(context.Background(), account)
	return err == nil
}

// SaveToken stores a Google token for the given user ID. Used when tokens
// are refreshed or initially acquired.
func (p *TokenProvider) SaveToken(ctx context.Context, userID string, token *oauth2.Token) error {
	return p.store.SaveToken(ctx, userID, token)
}

func (p *TokenProvider) record(ctx context.Context, err error) {
	if p.metrics == nil {
		return
	}
	result := instrumentation.OAuthResultSuccess
	if err != nil {
		result = instrumentation.OAuthResultFailure
	}
	p.metrics.RecordOAuthAuth(ctx, result)
}
