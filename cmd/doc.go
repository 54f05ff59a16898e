// Package cmd implements the command-line interface for mcp-colab.
//
// This package provides the following commands:
//   - serve: Start the MCP server to provide Google Colab tools for AI assistants
//   - setup: Configure Google API credentials and authorize accounts
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// The serve command is the default command when no subcommand is specified.
package cmd
