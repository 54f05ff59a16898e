package colab_tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/diagnostics"
	"github.com/cogwheel/mcp-colab/internal/server"
	"github.com/cogwheel/mcp-colab/internal/tools/common"
)

// registerDiagnosticTools registers environment diagnostic tools
func registerDiagnosticTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	diagnosticsTool := mcp.NewTool("run_diagnostics",
		mcp.WithDescription("Check the server environment: configuration, credentials, tokens, Chrome profile, Colab reachability and browser startup"),
		mcp.WithString("account",
			mcp.Description("Account name (default: 'default'). Used to manage multiple Google accounts."),
		),
	)

	s.AddTool(diagnosticsTool, common.InstrumentedToolHandlerWithService(
		"run_diagnostics", "colab", "diagnostics", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleRunDiagnostics(ctx, request, sc)
		}))

	return nil
}

func handleRunDiagnostics(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(ctx, args)

	runner := diagnostics.NewRunner(sc.Config(), sc.Sessions().Profiles(), nil)
	report := runner.Run(ctx, account)

	result, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}
