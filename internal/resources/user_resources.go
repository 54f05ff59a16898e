package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/server"
	"github.com/cogwheel/mcp-colab/internal/tools/common"
)

// RegisterUserResources registers session-specific resources
// These expose the effective configuration and the acting user's Colab
// session state to MCP clients that read resources instead of calling tools
func RegisterUserResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// Register server configuration resource
	configResource := mcp.NewResource(
		"colab://config",
		"Server Configuration",
		mcp.WithResourceDescription("Effective mcp-colab configuration with filesystem locations redacted"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(configResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleConfigResource(ctx, request, sc)
	})

	// Register session snapshot resource
	sessionResource := mcp.NewResource(
		"colab://session",
		"Colab Session",
		mcp.WithResourceDescription("Authentication state and registered runtimes for the current user"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(sessionResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleSessionResource(ctx, request, sc)
	})

	return nil
}

// handleConfigResource returns the redacted effective configuration
func handleConfigResource(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(sc.Config().Redacted(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

// handleSessionResource returns the acting user's session and runtimes
func handleSessionResource(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	// Extract account (email) from OAuth context; STDIO callers map to "default"
	account := common.GetAccountFromArgs(ctx, nil)

	session, err := sc.Sessions().Status(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to read session status: %w", err)
	}

	sessionData := map[string]interface{}{
		"account":         account,
		"session":         session,
		"runtimes":        sc.Runtimes().List(),
		"active_runtimes": sc.Runtimes().ActiveCount(),
	}

	jsonData, err := json.MarshalIndent(sessionData, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session data: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
