// Package oauth secures the streamable-http transport with Google Bearer
// tokens and bridges the github.com/giantswarm/mcp-oauth token storage
// into the rest of the server.
//
// The server runs as an OAuth 2.1 resource server: MCP clients obtain
// Google access tokens themselves and present them as Bearer tokens.
// Each request is validated against Google's userinfo endpoint, the
// resolved identity is placed on the request context, and the validated
// token is cached in the token store so per-user Drive clients and the
// execution layer can act on the caller's behalf.
//
// Dependency Security Note:
// This package depends on github.com/giantswarm/mcp-oauth for token
// storage and OAuth callback parsing. The library provides refresh token
// handling, atomic storage operations, and Valkey-backed persistence.
// Action required: Monitor https://github.com/giantswarm/mcp-oauth for
// security updates.
package oauth
