package colab_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/executor"
	"github.com/cogwheel/mcp-colab/internal/notebooks"
	"github.com/cogwheel/mcp-colab/internal/server"
	"github.com/cogwheel/mcp-colab/internal/tools/batch"
	"github.com/cogwheel/mcp-colab/internal/tools/common"
)

// registerExecutionTools registers code execution tools
func registerExecutionTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if !readOnly {
		// Run code cell tool
		runCodeTool := mcp.NewTool("run_code_cell",
			mcp.WithDescription("Execute Python code in a Colab notebook and return stdout/stderr"),
			mcp.WithString("account",
				mcp.Description("Account name (default: 'default'). Used to manage multiple Google accounts."),
			),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("The ID of the notebook to execute the code in"),
			),
			mcp.WithString("code",
				mcp.Required(),
				mcp.Description("Python source to execute as one cell"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Execution deadline in seconds (default: 300). The call returns a TIMEOUT result instead of hanging."),
			),
		)

		s.AddTool(runCodeTool, common.InstrumentedToolHandlerWithService(
			"run_code_cell", "colab", "execute", sc,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleRunCodeCell(ctx, request, sc)
			}))

		// Install package tool
		installPackageTool := mcp.NewTool("install_package",
			mcp.WithDescription("Install one or more Python packages into a notebook's runtime via pip"),
			mcp.WithString("account",
				mcp.Description("Account name (default: 'default'). Used to manage multiple Google accounts."),
			),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("The ID of the notebook whose runtime receives the packages"),
			),
			mcp.WithString("package",
				mcp.Required(),
				mcp.Description("Package spec (string) or array of specs, e.g. 'numpy' or 'pandas==2.1.0'"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Deadline in seconds per package install (default: 300)"),
			),
		)

		s.AddTool(installPackageTool, common.InstrumentedToolHandlerWithService(
			"install_package", "colab", "install", sc,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleInstallPackage(ctx, request, sc)
			}))

		// Upload file tool
		uploadFileTool := mcp.NewTool("upload_file_to_colab",
			mcp.WithDescription("Upload a local file into a Colab notebook's runtime filesystem"),
			mcp.WithString("account",
				mcp.Description("Account name (default: 'default'). Used to manage multiple Google accounts."),
			),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("The ID of the notebook whose runtime receives the file"),
			),
			mcp.WithString("local_path",
				mcp.Required(),
				mcp.Description("Path of the file on the server host"),
			),
			mcp.WithString("remote_name",
				mcp.Description("Filename inside the runtime (default: the local base name)"),
			),
		)

		s.AddTool(uploadFileTool, common.InstrumentedToolHandlerWithService(
			"upload_file_to_colab", "colab", "upload", sc,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleUploadFile(ctx, request, sc)
			}))
	}

	// Runtime info tool (read-only, always available)
	runtimeInfoTool := mcp.NewTool("get_runtime_info",
		mcp.WithDescription("Get runtime and hardware information for a notebook, or list all tracked runtimes"),
		mcp.WithString("notebook_id",
			mcp.Description("Notebook ID to inspect; omit to list all tracked runtimes"),
		),
	)

	s.AddTool(runtimeInfoTool, common.InstrumentedToolHandlerWithService(
		"get_runtime_info", "colab", "runtime", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetRuntimeInfo(ctx, request, sc)
		}))

	return nil
}

func handleRunCodeCell(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(ctx, args)

	notebookID, ok := args["notebook_id"].(string)
	if !ok || notebookID == "" {
		return mcp.NewToolResultError("notebook_id is required"), nil
	}
	code, ok := args["code"].(string)
	if !ok || strings.TrimSpace(code) == "" {
		return mcp.NewToolResultError("code is required"), nil
	}

	req := &executor.Request{
		NotebookID: notebookID,
		Code:       code,
	}
	if timeoutSeconds, ok := args["timeout_seconds"].(float64); ok && timeoutSeconds > 0 {
		req.TimeoutSeconds = int(timeoutSeconds)
	}

	session, err := sc.Sessions().EnsureSession(ctx, account)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := sc.GatewayFor(session).RunCode(ctx, session, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	jsonBytes, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func handleInstallPackage(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(ctx, args)

	notebookID, ok := args["notebook_id"].(string)
	if !ok || notebookID == "" {
		return mcp.NewToolResultError("notebook_id is required"), nil
	}

	// Reject every spec up front so a bad entry cannot abort a batch
	// halfway through.
	packages, err := batch.ParseValidated(args["package"], "package", executor.ValidatePackageSpec)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var timeout time.Duration
	if timeoutSeconds, ok := args["timeout_seconds"].(float64); ok && timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	session, err := sc.Sessions().EnsureSession(ctx, account)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	gateway := sc.GatewayFor(session)

	results := batch.ProcessBatch(packages, func(pkg string) (string, error) {
		res, err := gateway.InstallPackage(ctx, session, notebookID, pkg, timeout)
		if err != nil {
			return "", err
		}
		if res.Status != executor.StatusSuccess {
			detail := strings.TrimSpace(res.Stderr)
			if detail == "" {
				detail = strings.TrimSpace(res.Stdout)
			}
			return "", fmt.Errorf("install ended with status %s: %s", res.Status, detail)
		}
		return fmt.Sprintf("installed in %.1fs", float64(res.DurationMillis)/1000.0), nil
	})

	return mcp.NewToolResultText(batch.FormatResults(results)), nil
}

func handleUploadFile(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(ctx, args)

	notebookID, ok := args["notebook_id"].(string)
	if !ok || notebookID == "" {
		return mcp.NewToolResultError("notebook_id is required"), nil
	}
	localPath, ok := args["local_path"].(string)
	if !ok || localPath == "" {
		return mcp.NewToolResultError("local_path is required"), nil
	}
	remoteName, _ := args["remote_name"].(string)

	session, err := sc.Sessions().EnsureSession(ctx, account)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := sc.GatewayFor(session).UploadFile(ctx, session, notebookID, localPath, remoteName, 0); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to upload file: %v", err)), nil
	}

	name := remoteName
	if name == "" {
		name = filepath.Base(localPath)
	} else {
		name = notebooks.SanitizeFilename(name)
	}
	return mcp.NewToolResultText(fmt.Sprintf("File %s uploaded to notebook %s as %s", localPath, notebookID, name)), nil
}

func handleGetRuntimeInfo(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	if notebookID, ok := args["notebook_id"].(string); ok && notebookID != "" {
		info := sc.Runtimes().Info(notebookID)
		if info == nil {
			return mcp.NewToolResultText(fmt.Sprintf(
				"No runtime session is registered for notebook %s. Run run_code_cell to connect one.", notebookID)), nil
		}
		response := map[string]interface{}{
			"runtime":          info,
			"hardware":         sc.Runtimes().Hardware(notebookID),
			"should_reconnect": sc.Runtimes().ShouldReconnect(notebookID),
		}
		result, _ := json.MarshalIndent(response, "", "  ")
		return mcp.NewToolResultText(string(result)), nil
	}

	response := map[string]interface{}{
		"runtimes":     sc.Runtimes().List(),
		"active_count": sc.Runtimes().ActiveCount(),
	}
	result, _ := json.MarshalIndent(response, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}
