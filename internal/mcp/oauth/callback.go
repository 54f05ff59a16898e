package oauth

import (
	mcpoauth "github.com/giantswarm/mcp-oauth"
)

// OAuth callback handling is delegated to the mcp-oauth library. The
// aliases below keep callers (the credential setup flow in cmd/) on this
// package's import path.

// CallbackResult holds the outcome of parsing an OAuth authorization
// callback, either an authorization code or a structured OAuth error.
type CallbackResult = mcpoauth.CallbackResult

// SilentAuthError indicates the authorization server requires user
// interaction (login, consent) and a silent flow cannot proceed.
type SilentAuthError = mcpoauth.SilentAuthError

// OAuth error codes that signal interaction is required.
const (
	ErrorCodeLoginRequired            = mcpoauth.ErrorCodeLoginRequired
	ErrorCodeConsentRequired          = mcpoauth.ErrorCodeConsentRequired
	ErrorCodeInteractionRequired      = mcpoauth.ErrorCodeInteractionRequired
	ErrorCodeAccountSelectionRequired = mcpoauth.ErrorCodeAccountSelectionRequired
)

// ParseCallbackQuery parses the query parameters of an OAuth authorization
// callback into a CallbackResult.
func ParseCallbackQuery(code, state, errorCode, errorDescription, errorURI string) *CallbackResult {
	return mcpoauth.ParseCallbackQuery(code, state, errorCode, errorDescription, errorURI)
}

// ParseOAuthError converts OAuth error parameters into a typed error.
// Returns nil when errorCode is empty.
func ParseOAuthError(errorCode, errorDescription string) error {
	return mcpoauth.ParseOAuthError(errorCode, errorDescription)
}

// IsSilentAuthError reports whether err indicates that silent
// authentication failed and user interaction is needed.
func IsSilentAuthError(err error) bool {
	return mcpoauth.IsSilentAuthError(err)
}
