package colab_tools

import (
	"context"
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/google"
	"github.com/cogwheel/mcp-colab/internal/notebooks"
	"github.com/cogwheel/mcp-colab/internal/server"
)

// getNotebookClient retrieves or creates the notebook store for the
// account. The caller gets an actionable error message when the account
// has never authorized Drive access.
func getNotebookClient(ctx context.Context, account string, sc *server.ServerContext) (notebooks.Store, error) {
	if client := sc.NotebookClientForAccount(account); client != nil {
		return client, nil
	}
	if !sc.HasTokenForAccount(account) {
		errorMsg := google.GetAuthenticationErrorMessage(account)
		return nil, fmt.Errorf("%s", errorMsg)
	}

	client, err := notebooks.NewClientForAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to create notebook client for account %s: %w", account, err)
	}
	sc.SetNotebookClientForAccount(account, client)
	return client, nil
}

// RegisterColabTools registers the full Colab tool surface with the MCP
// server. In read-only mode the tools that mutate state (notebook
// creation, code execution, uploads, profile clearing) are left out.
func RegisterColabTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	// Configuration and credential bootstrap tools
	if err := registerConfigTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register config tools: %w", err)
	}

	// Authentication and session lifecycle tools
	if err := registerAuthTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register auth tools: %w", err)
	}

	// Chrome profile tools
	if err := registerProfileTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register profile tools: %w", err)
	}

	// Notebook store tools
	if err := registerNotebookTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register notebook tools: %w", err)
	}

	// Code execution tools
	if err := registerExecutionTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register execution tools: %w", err)
	}

	// Diagnostics
	if err := registerDiagnosticTools(s, sc); err != nil {
		return fmt.Errorf("failed to register diagnostic tools: %w", err)
	}

	return nil
}
