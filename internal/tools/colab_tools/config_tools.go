package colab_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/config"
	"github.com/cogwheel/mcp-colab/internal/google"
	"github.com/cogwheel/mcp-colab/internal/notebooks"
	"github.com/cogwheel/mcp-colab/internal/server"
	"github.com/cogwheel/mcp-colab/internal/tools/common"
)

// registerConfigTools registers configuration bootstrap tools
func registerConfigTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if readOnly {
		return nil
	}

	// Write the default server configuration
	initConfigTool := mcp.NewTool("init_user_config",
		mcp.WithDescription("Write the default server configuration file (~/.mcp-colab/server_config.json). An existing file is kept unless force is set."),
		mcp.WithBoolean("force",
			mcp.Description("Overwrite an existing configuration file (default: false)"),
		),
	)

	s.AddTool(initConfigTool, common.InstrumentedToolHandlerWithService(
		"init_user_config", "config", "write", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleInitUserConfig(ctx, request)
		}))

	// Save Google OAuth client credentials
	setupCredentialsTool := mcp.NewTool("setup_google_credentials",
		mcp.WithDescription("Save Google OAuth client credentials for Drive API access, and complete authorization with an auth code. Call once with client_id and client_secret, visit the returned URL, then call again with auth_code."),
		mcp.WithString("account",
			mcp.Description("Account name (default: 'default'). Used to manage multiple Google accounts."),
		),
		mcp.WithString("client_id",
			mcp.Description("Google OAuth client ID (from the Google Cloud console)"),
		),
		mcp.WithString("client_secret",
			mcp.Description("Google OAuth client secret"),
		),
		mcp.WithString("auth_code",
			mcp.Description("Authorization code from the Google consent page, to complete the flow"),
		),
	)

	s.AddTool(setupCredentialsTool, common.InstrumentedToolHandlerWithService(
		"setup_google_credentials", "auth", "setup", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSetupGoogleCredentials(ctx, request)
		}))

	return nil
}

func handleInitUserConfig(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	force := false
	if f, ok := args["force"].(bool); ok {
		force = f
	}

	existed := false
	if path, err := config.Path(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			existed = true
		}
	}

	path, err := config.WriteDefault(force)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to write configuration: %v", err)), nil
	}

	action := "created"
	switch {
	case existed && !force:
		action = "kept existing"
	case existed && force:
		action = "overwritten"
	}

	defaults, _ := json.MarshalIndent(config.Default(), "", "  ")
	return mcp.NewToolResultText(fmt.Sprintf("Configuration file %s at %s\n\nDefaults:\n%s", action, path, string(defaults))), nil
}

func handleSetupGoogleCredentials(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(ctx, args)

	clientID, _ := args["client_id"].(string)
	clientSecret, _ := args["client_secret"].(string)
	authCode, _ := args["auth_code"].(string)

	if clientID != "" || clientSecret != "" {
		if clientID == "" || clientSecret == "" {
			return mcp.NewToolResultError("client_id and client_secret must be provided together"), nil
		}
		if err := google.SaveCredentials(clientID, clientSecret); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to save credentials: %v", err)), nil
		}
	}

	if !google.HasCredentials() {
		return mcp.NewToolResultError("No OAuth client credentials saved yet. Provide client_id and client_secret from the Google Cloud console."), nil
	}

	// With an auth code the flow completes; without one the user gets the
	// consent URL and instructions.
	if authCode != "" {
		if err := notebooks.SaveTokenForAccount(ctx, account, authCode); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to exchange authorization code for account %s: %v", account, err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Authorization successful for account %q. Drive API token saved; notebook tools are ready.", account)), nil
	}

	authURL := notebooks.GetAuthURLForAccount(account)
	result := fmt.Sprintf(`Credentials saved. To authorize Drive access for account %q:

1. Visit this URL in your browser:
   %s

2. Sign in with your Google account and grant access
3. Copy the authorization code

4. Call setup_google_credentials again with the auth_code argument to complete authentication`, account, authURL)

	return mcp.NewToolResultText(result), nil
}
