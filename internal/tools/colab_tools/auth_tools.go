package colab_tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/colab"
	"github.com/cogwheel/mcp-colab/internal/google"
	"github.com/cogwheel/mcp-colab/internal/server"
	"github.com/cogwheel/mcp-colab/internal/tools/common"
)

// authStatus is the check_auth_status payload.
type authStatus struct {
	UserID            string              `json:"user_id"`
	CredentialsSaved  bool                `json:"credentials_saved"`
	DriveTokenPresent bool                `json:"drive_token_present"`
	SessionStatus     colab.SessionStatus `json:"session_status"`
	ProfileDir        string              `json:"profile_dir,omitempty"`
	Authenticated     bool                `json:"authenticated"`
	Remediation       string              `json:"remediation,omitempty"`
}

// registerAuthTools registers authentication lifecycle tools
func registerAuthTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	// Check authentication status (read-only, always available)
	checkAuthTool := mcp.NewTool("check_auth_status",
		mcp.WithDescription("Check Google authentication status: OAuth client credentials, Drive API token, and the browser session state"),
		mcp.WithString("user_id",
			mcp.Description("User whose session to check (default: 'default')"),
		),
	)

	s.AddTool(checkAuthTool, common.InstrumentedToolHandlerWithService(
		"check_auth_status", "auth", "status", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCheckAuthStatus(ctx, request, sc)
		}))

	// Interactive Google sign-in through the profile-backed browser
	if !readOnly {
		authenticateTool := mcp.NewTool("authenticate_google",
			mcp.WithDescription("Sign in to Google through the persistent browser profile. Idempotent: an already-active session returns immediately without re-running the login flow."),
			mcp.WithString("user_id",
				mcp.Description("User to authenticate (default: 'default')"),
			),
		)

		s.AddTool(authenticateTool, common.InstrumentedToolHandlerWithService(
			"authenticate_google", "auth", "login", sc,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleAuthenticateGoogle(ctx, request, sc)
			}))
	}

	// Session snapshot (read-only, always available)
	sessionInfoTool := mcp.NewTool("get_session_info",
		mcp.WithDescription("Get the user's session snapshot: state, profile directory, timestamps, and the runtimes the server is driving"),
		mcp.WithString("user_id",
			mcp.Description("User whose session to inspect (default: 'default')"),
		),
	)

	s.AddTool(sessionInfoTool, common.InstrumentedToolHandlerWithService(
		"get_session_info", "session", "get", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetSessionInfo(ctx, request, sc)
		}))

	return nil
}

func handleCheckAuthStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID := common.GetAccountFromArgs(ctx, args)

	session, err := sc.Sessions().Status(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read session status: %v", err)), nil
	}

	status := authStatus{
		UserID:            userID,
		CredentialsSaved:  google.HasCredentials(),
		DriveTokenPresent: sc.HasTokenForAccount(userID),
		SessionStatus:     session.Status,
		ProfileDir:        session.ProfileDir,
		Authenticated:     session.Status == colab.StatusActive,
	}
	switch {
	case !status.CredentialsSaved:
		status.Remediation = "run setup_google_credentials with your OAuth client ID and secret"
	case !status.DriveTokenPresent:
		status.Remediation = "run setup_google_credentials to authorize Drive access"
	case !status.Authenticated:
		status.Remediation = "run authenticate_google to sign in"
	}

	result, _ := json.MarshalIndent(status, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func handleAuthenticateGoogle(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID := common.GetAccountFromArgs(ctx, args)

	session, err := sc.Sessions().Authenticate(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Authentication failed: %v", err)), nil
	}

	result, _ := json.MarshalIndent(session, "", "  ")
	return mcp.NewToolResultText(fmt.Sprintf("Authentication successful for user %q:\n%s", userID, string(result))), nil
}

// sessionInfo is the get_session_info payload.
type sessionInfo struct {
	Session        *colab.Session       `json:"session"`
	Runtimes       []*colab.RuntimeInfo `json:"runtimes"`
	ActiveRuntimes int                  `json:"active_runtimes"`
}

func handleGetSessionInfo(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID := common.GetAccountFromArgs(ctx, args)

	session, err := sc.Sessions().Status(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read session status: %v", err)), nil
	}

	info := sessionInfo{
		Session:        session,
		Runtimes:       sc.Runtimes().List(),
		ActiveRuntimes: sc.Runtimes().ActiveCount(),
	}

	result, _ := json.MarshalIndent(info, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}
