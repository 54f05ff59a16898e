// Package server provides the MCP server context, session management,
// and OAuth-enabled HTTP server for the mcp-colab application.
//
// # Key Components
//
// ServerContext owns the shared state behind every tool handler: the
// loaded configuration, the Colab session manager and runtime registry,
// per-account notebook clients with lazy initialization and caching, and
// per-session execution gateways. It supports multiple accounts and can
// use different token providers:
//   - FileTokenProvider: For STDIO transport, reads tokens from disk
//   - OAuth TokenProvider: For HTTP transport, serves tokens validated
//     by the OAuth middleware
//
// OAuthHTTPServer wraps an MCP server with OAuth 2.1 authentication:
//   - Protected Resource Metadata (RFC 9728) pointing clients at Google
//   - Bearer token validation against Google's userinfo endpoint
//   - Per-IP rate limiting on all endpoints
//   - Session tracking that binds tokens to Google accounts
//
// SessionIDManager handles multi-account session tracking for HTTP
// transport. It maps Bearer tokens to Google accounts, enabling multiple
// users to share a single MCP server instance while their notebook and
// execution state stays separate.
//
// HealthChecker and MetricsServer expose Kubernetes-style liveness and
// readiness probes and a Prometheus metrics endpoint on a dedicated port.
//
// # Security Features
//
// The OAuth server includes security-focused defaults:
//   - HTTPS required for production (localhost exempt for development)
//   - Rate limiting per client IP
//   - Security headers on all HTTP responses
//   - Audit logging for authentication events
package server
