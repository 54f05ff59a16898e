package colab_tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/server"
	"github.com/cogwheel/mcp-colab/internal/tools/common"
)

// registerProfileTools registers Chrome profile management tools
func registerProfileTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	// Profile inspection (read-only, always available)
	profileInfoTool := mcp.NewTool("get_chrome_profile_info",
		mcp.WithDescription("Inspect the user's persistent Chrome profile: location, size, and whether a session token is stored"),
		mcp.WithString("user_id",
			mcp.Description("User whose profile to inspect (default: 'default')"),
		),
	)

	s.AddTool(profileInfoTool, common.InstrumentedToolHandlerWithService(
		"get_chrome_profile_info", "profile", "get", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetChromeProfileInfo(ctx, request, sc)
		}))

	if readOnly {
		return nil
	}

	// Delete the profile and its persisted token
	clearProfileTool := mcp.NewTool("clear_chrome_profile",
		mcp.WithDescription("Delete the user's Chrome profile and persisted session token. Safe when nothing exists; the next authentication starts from scratch."),
		mcp.WithString("user_id",
			mcp.Description("User whose profile to clear (default: 'default')"),
		),
	)

	s.AddTool(clearProfileTool, common.InstrumentedToolHandlerWithService(
		"clear_chrome_profile", "profile", "clear", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleClearChromeProfile(ctx, request, sc)
		}))

	// Remove cache artifacts, keep login state
	optimizeProfileTool := mcp.NewTool("optimize_chrome_profile",
		mcp.WithDescription("Remove caches, crash dumps and temporary files from the user's Chrome profile while preserving cookies and login state"),
		mcp.WithString("user_id",
			mcp.Description("User whose profile to optimize (default: 'default')"),
		),
	)

	s.AddTool(optimizeProfileTool, common.InstrumentedToolHandlerWithService(
		"optimize_chrome_profile", "profile", "optimize", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleOptimizeChromeProfile(ctx, request, sc)
		}))

	return nil
}

func handleGetChromeProfileInfo(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID := common.GetAccountFromArgs(ctx, args)

	info, err := sc.Sessions().Profiles().Info(userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to inspect profile: %v", err)), nil
	}

	result, _ := json.MarshalIndent(info, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func handleClearChromeProfile(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID := common.GetAccountFromArgs(ctx, args)

	// The user's browser must not keep running against a deleted profile.
	if err := sc.CloseStackFor(userID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to shut down the user's browser: %v", err)), nil
	}
	if err := sc.Sessions().ClearProfile(ctx, userID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to clear profile: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Chrome profile cleared for user %q. The next authenticate_google run starts a fresh sign-in.", userID)), nil
}

func handleOptimizeChromeProfile(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID := common.GetAccountFromArgs(ctx, args)

	report, err := sc.Sessions().OptimizeProfile(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to optimize profile: %v", err)), nil
	}

	result, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(fmt.Sprintf("Profile optimized, %d bytes reclaimed:\n%s", report.BytesReclaimed, string(result))), nil
}
