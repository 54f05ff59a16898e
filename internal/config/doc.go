// Package config loads and watches the server configuration at
// ~/.mcp-colab/server_config.json.
//
// The loader is deliberately forgiving: a missing or unparsable file
// yields the built-in defaults (with a warning) instead of an error, so
// a broken config never takes the server down. Validation of the
// effective values is a separate, strict step.
//
// Values can be overridden through MCP_COLAB_* environment variables
// (dots become underscores, e.g. MCP_COLAB_COLAB_EXECUTION_TIMEOUT),
// and the Watcher reloads the file on change so long-running servers
// pick up edits without a restart.
package config
