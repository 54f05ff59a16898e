package colab_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/notebooks"
	"github.com/cogwheel/mcp-colab/internal/server"
	"github.com/cogwheel/mcp-colab/internal/tools/batch"
	"github.com/cogwheel/mcp-colab/internal/tools/common"
)

// registerNotebookTools registers notebook store tools
func registerNotebookTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if !readOnly {
		// Create notebook tool
		createNotebookTool := mcp.NewTool("create_colab_notebook",
			mcp.WithDescription("Create a new Colab notebook in Google Drive"),
			mcp.WithString("account",
				mcp.Description("Account name (default: 'default'). Used to manage multiple Google accounts."),
			),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("The notebook name; '.ipynb' is appended when missing"),
			),
			mcp.WithString("description",
				mcp.Description("A short description of the notebook file"),
			),
			mcp.WithString("parent_folders",
				mcp.Description("Comma-separated list of Drive folder IDs the notebook should be placed in"),
			),
			mcp.WithString("initial_code",
				mcp.Description("Python source for the notebook's first code cell"),
			),
		)

		s.AddTool(createNotebookTool, common.InstrumentedToolHandlerWithService(
			"create_colab_notebook", "drive", "create", sc,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleCreateNotebook(ctx, request, sc)
			}))
	}

	// List notebooks tool (read-only, always available)
	listNotebooksTool := mcp.NewTool("list_notebooks",
		mcp.WithDescription("List Colab notebooks in Google Drive with optional filtering"),
		mcp.WithString("account",
			mcp.Description("Account name (default: 'default'). Used to manage multiple Google accounts."),
		),
		mcp.WithString("query",
			mcp.Description("Additional filter in Drive's query language (e.g., \"name contains 'analysis'\")"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of notebooks to return (default: 100, max: 1000)"),
		),
		mcp.WithString("order_by",
			mcp.Description("Sort order (default: 'modifiedTime desc')"),
		),
		mcp.WithBoolean("include_trashed",
			mcp.Description("Include trashed notebooks in results (default: false)"),
		),
		mcp.WithString("page_token",
			mcp.Description("Page token for retrieving the next page of results"),
		),
	)

	s.AddTool(listNotebooksTool, common.InstrumentedToolHandlerWithService(
		"list_notebooks", "drive", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListNotebooks(ctx, request, sc)
		}))

	// Read notebook content tool (read-only, always available)
	getContentTool := mcp.NewTool("get_notebook_content",
		mcp.WithDescription("Read the full content of one or more Colab notebooks (cells, metadata, outputs)"),
		mcp.WithString("account",
			mcp.Description("Account name (default: 'default'). Used to manage multiple Google accounts."),
		),
		mcp.WithString("notebook_id",
			mcp.Required(),
			mcp.Description("Notebook ID (string) or array of notebook IDs to read"),
		),
	)

	s.AddTool(getContentTool, common.InstrumentedToolHandlerWithService(
		"get_notebook_content", "drive", "read", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetNotebookContent(ctx, request, sc)
		}))

	return nil
}

func handleCreateNotebook(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(ctx, args)

	name, ok := args["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	client, err := getNotebookClient(ctx, account, sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	options := &notebooks.CreateOptions{}
	if description, ok := args["description"].(string); ok && description != "" {
		options.Description = description
	}
	if parents, ok := args["parent_folders"].(string); ok && parents != "" {
		options.ParentFolders = parseCommaList(parents)
	}
	if code, ok := args["initial_code"].(string); ok && strings.TrimSpace(code) != "" {
		options.Cells = []notebooks.Cell{notebooks.NewCodeCell(code)}
	}

	info, err := client.CreateNotebook(ctx, name, options)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create notebook: %v", err)), nil
	}

	result, _ := json.MarshalIndent(info, "", "  ")
	return mcp.NewToolResultText(fmt.Sprintf("Notebook created successfully:\n%s", string(result))), nil
}

func handleListNotebooks(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(ctx, args)

	client, err := getNotebookClient(ctx, account, sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	options := &notebooks.ListOptions{
		MaxResults: 100, // default
	}
	if query, ok := args["query"].(string); ok && query != "" {
		options.Query = query
	}
	if maxResults, ok := args["max_results"].(float64); ok && maxResults > 0 {
		options.MaxResults = int(maxResults)
	}
	if orderBy, ok := args["order_by"].(string); ok && orderBy != "" {
		options.OrderBy = orderBy
	}
	if includeTrashed, ok := args["include_trashed"].(bool); ok {
		options.IncludeTrashed = includeTrashed
	}
	if pageToken, ok := args["page_token"].(string); ok && pageToken != "" {
		options.PageToken = pageToken
	}

	infos, nextPageToken, err := client.ListNotebooks(ctx, options)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list notebooks: %v", err)), nil
	}

	response := map[string]interface{}{
		"notebooks":     infos,
		"nextPageToken": nextPageToken,
	}
	result, _ := json.MarshalIndent(response, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func handleGetNotebookContent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	account := common.GetAccountFromArgs(ctx, args)

	notebookIDs, err := batch.ParseValidated(args["notebook_id"], "notebook_id", func(id string) error {
		if !notebooks.ValidateNotebookID(id) {
			return fmt.Errorf("not a valid Drive file ID")
		}
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	client, err := getNotebookClient(ctx, account, sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := batch.ProcessBatch(notebookIDs, func(notebookID string) (string, error) {
		nb, err := client.ReadNotebook(ctx, notebookID)
		if err != nil {
			return "", err
		}
		jsonBytes, _ := json.Marshal(nb)
		return string(jsonBytes), nil
	})

	return mcp.NewToolResultText(batch.FormatResults(results)), nil
}

// parseCommaList parses a comma-separated list of strings
func parseCommaList(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
