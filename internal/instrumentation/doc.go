// Package instrumentation provides comprehensive OpenTelemetry instrumentation
// for the mcp-colab server.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for HTTP requests, OAuth operations, Drive API calls,
//     and Colab cell executions
//   - Distributed tracing for request flows, browser driver calls, and API calls
//   - Prometheus metrics export via /metrics endpoint on dedicated port
//   - OTLP export support for modern observability platforms
//
// # Metrics
//
// The package exposes the following metric categories:
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of active user sessions
//
// Google API Metrics:
//   - google_api_operations_total: Counter of Drive operations by service, operation, status
//   - google_api_operation_duration_seconds: Histogram of Drive operation durations
//
// OAuth Authentication Metrics:
//   - oauth_auth_total: Counter of OAuth authentication events by result
//   - oauth_token_refresh_total: Counter of token refresh attempts by result
//
// MCP Tool Metrics:
//   - mcp_tool_invocations_total: Counter of MCP tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of MCP tool execution durations
//
// Colab Execution Metrics:
//   - colab_executions_total: Counter of cell executions by status (success, timeout, error)
//   - colab_execution_duration_seconds: Histogram of cell execution durations,
//     with buckets sized for long-running cells
//   - colab_execution_retries_total: Counter of browser driver retries
//   - colab_active_runtimes: Gauge of connected runtimes by runtime type
//   - chrome_profile_operations_total: Counter of profile clear/optimize operations
//
// # Tracing
//
// Distributed tracing spans are created for:
//   - HTTP request handling
//   - MCP tool invocations (tool.<name>)
//   - Drive API calls (google.drive.<operation>)
//   - Colab cell executions (colab.execute), carrying notebook and execution IDs
//   - OAuth token operations
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: mcp-colab)
//
// # Example Usage
//
//	// Initialize instrumentation
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
//		ServiceName:    "mcp-colab",
//		ServiceVersion: "0.1.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	// Get metrics recorder
//	recorder := provider.Metrics()
//
//	// Record an HTTP request
//	recorder.RecordHTTPRequest(ctx, "POST", "/mcp", 200, time.Since(start))
//
//	// Record a Drive operation
//	recorder.RecordGoogleAPIOperation(ctx, "drive", "list", "success", time.Since(start))
//
//	// Record a cell execution
//	recorder.RecordExecution(ctx, "success", result.Duration)
//
//	// Record an MCP tool invocation
//	recorder.RecordToolInvocation(ctx, "run_code_cell", "success", time.Since(start))
package instrumentation
