package common

import (
	"context"

	"github.com/cogwheel/mcp-colab/internal/mcp/oauth"
)

// GetAccountFromArgs extracts the acting user from request arguments and
// context. For OAuth-authenticated requests, uses the authenticated user's
// email. Otherwise defaults to "default" or the explicitly provided name.
// The same identity selects both the Google API account and the Chrome
// profile, so "account" and "user_id" are interchangeable argument names.
//
// Priority order:
//  1. OAuth user email from context (set by OAuth middleware)
//  2. Explicit "account" argument in request
//  3. Explicit "user_id" argument in request
//  4. "default"
func GetAccountFromArgs(ctx context.Context, args map[string]interface{}) string {
	// First, check if there's an authenticated user in the OAuth context
	// This is set by the OAuth middleware after validating the Bearer token
	if userInfo, ok := oauth.GetUserFromContext(ctx); ok && userInfo != nil && userInfo.Email != "" {
		return userInfo.Email
	}

	// Fall back to explicit arguments or "default"
	if accountVal, ok := args["account"].(string); ok && accountVal != "" {
		return accountVal
	}
	if userVal, ok := args["user_id"].(string); ok && userVal != "" {
		return userVal
	}
	return "default"
}
