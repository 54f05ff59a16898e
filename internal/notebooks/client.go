package notebooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/cogwheel/mcp-colab/internal/google"
)

// notebookFields are the Drive file fields every call requests.
const notebookFields = "id, name, mimeType, size, createdTime, modifiedTime, webViewLink, owners, shared, trashed"

// Client wraps the Google Drive API service for notebook operations
type Client struct {
	service *drive.Service
	account string // The account this client is associated with
}

// Account returns the account name this client is associated with
func (c *Client) Account() string {
	return c.account
}

// HasTokenForAccount checks if a valid OAuth token exists for the specified account
func HasTokenForAccount(account string) bool {
	return google.HasTokenForAccount(account)
}

// HasToken checks if a valid OAuth token exists for the default account
func HasToken() bool {
	return google.HasToken()
}

// GetAuthURLForAccount returns the OAuth URL for user authorization for a specific account
func GetAuthURLForAccount(account string) string {
	return google.GetAuthURLForAccount(account)
}

// SaveTokenForAccount exchanges an authorization code for tokens and saves them for a specific account
func SaveTokenForAccount(ctx context.Context, account string, authCode string) error {
	return google.SaveTokenForAccount(ctx, account, authCode)
}

// NewClientForAccount creates a new notebook store client with OAuth2 authentication
// for a specific account. Returns an error if no valid token exists - use
// HasTokenForAccount() to check first
func NewClientForAccount(ctx context.Context, account string) (*Client, error) {
	client, err := google.GetHTTPClientForAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("no valid Google OAuth token found for account %s. Please authorize access first: %w", account, err)
	}

	driveService, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	return &Client{
		service: driveService,
		account: account,
	}, nil
}

// NewClient creates a new notebook store client for the default account
func NewClient(ctx context.Context) (*Client, error) {
	return NewClientForAccount(ctx, "default")
}

// NewClientWithTokenSource creates a notebook store client from an
// explicit token source. The HTTP transport uses this to build per-user
// clients from tokens the OAuth middleware validated.
func NewClientWithTokenSource(ctx context.Context, account string, ts oauth2.TokenSource) (*Client, error) {
	driveService, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	return &Client{
		service: driveService,
		account: account,
	}, nil
}

// CreateNotebook creates a new, optionally seeded notebook in Drive and
// returns its metadata. The name is sanitized and given an .ipynb
// extension when missing.
func (c *Client) CreateNotebook(ctx context.Context, name string, opts *CreateOptions) (*NotebookInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("notebook name is required")
	}
	name = EnsureNotebookExtension(SanitizeFilename(name))

	var cells []Cell
	if opts != nil {
		cells = opts.Cells
	}
	document := NewNotebook(name, cells...)
	content, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notebook document: %w", err)
	}

	file := &drive.File{
		Name:     name,
		MimeType: NotebookMimeType,
	}
	if opts != nil {
		if len(opts.ParentFolders) > 0 {
			file.Parents = opts.ParentFolders
		}
		if opts.Description != "" {
			file.Description = opts.Description
		}
	}

	driveFile, err := c.service.Files.Create(file).
		Context(ctx).
		Media(bytes.NewReader(content), googleapi.ContentType(NotebookMimeType)).
		Fields(googleapi.Field(notebookFields)).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create notebook: %w", err)
	}

	return convertToNotebookInfo(driveFile), nil
}

// ListNotebooks lists the account's Colab notebooks, most recently
// modified first unless opts orders otherwise.
func (c *Client) ListNotebooks(ctx context.Context, opts *ListOptions) ([]*NotebookInfo, string, error) {
	var userQuery string
	includeTrashed := false
	if opts != nil {
		userQuery = opts.Query
		includeTrashed = opts.IncludeTrashed
	}

	call := c.service.Files.List().
		Context(ctx).
		Q(buildListQuery(userQuery, includeTrashed)).
		Fields(googleapi.Field("nextPageToken, files(" + notebookFields + ")"))

	orderBy := "modifiedTime desc"
	if opts != nil {
		if opts.MaxResults > 0 {
			call = call.PageSize(int64(opts.MaxResults))
		}
		if opts.OrderBy != "" {
			orderBy = opts.OrderBy
		}
		if opts.PageToken != "" {
			call = call.PageToken(opts.PageToken)
		}
	}
	call = call.OrderBy(orderBy)

	fileList, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("failed to list notebooks: %w", err)
	}

	infos := make([]*NotebookInfo, len(fileList.Files))
	for i, f := range fileList.Files {
		infos[i] = convertToNotebookInfo(f)
	}

	return infos, fileList.NextPageToken, nil
}

// GetNotebook retrieves metadata for a specific notebook
func (c *Client) GetNotebook(ctx context.Context, notebookID string) (*NotebookInfo, error) {
	if notebookID == "" {
		return nil, fmt.Errorf("notebookID is required")
	}

	file, err := c.service.Files.Get(notebookID).
		Context(ctx).
		Fields(googleapi.Field(notebookFields)).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get notebook %s: %w", notebookID, err)
	}

	return convertToNotebookInfo(file), nil
}

// ReadNotebook downloads a notebook and decodes its nbformat document.
func (c *Client) ReadNotebook(ctx context.Context, notebookID string) (*Notebook, error) {
	body, err := c.DownloadNotebook(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var document Notebook
	if err := json.NewDecoder(body).Decode(&document); err != nil {
		return nil, fmt.Errorf("failed to decode notebook %s: %w", notebookID, err)
	}
	return &document, nil
}

// DownloadNotebook downloads the raw notebook document. The caller must
// close the returned reader.
func (c *Client) DownloadNotebook(ctx context.Context, notebookID string) (io.ReadCloser, error) {
	if notebookID == "" {
		return nil, fmt.Errorf("notebookID is required")
	}

	resp, err := c.service.Files.Get(notebookID).
		Context(ctx).
		Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download notebook %s: %w", notebookID, err)
	}

	return resp.Body, nil
}

// buildListQuery combines the notebook MIME filter, the caller's extra
// query and trash handling into one Drive query string.
func buildListQuery(userQuery string, includeTrashed bool) string {
	query := fmt.Sprintf("mimeType='%s'", NotebookMimeType)
	if userQuery != "" {
		query += fmt.Sprintf(" and (%s)", userQuery)
	}
	if !includeTrashed {
		query += " and trashed=false"
	}
	return query
}

// convertToNotebookInfo converts a Drive API File to our NotebookInfo type
func convertToNotebookInfo(f *drive.File) *NotebookInfo {
	info := &NotebookInfo{
		ID:          f.Id,
		Name:        f.Name,
		Size:        f.Size,
		WebViewLink: f.WebViewLink,
		ColabURL:    ColabURL(f.Id),
		Shared:      f.Shared,
		Trashed:     f.Trashed,
	}

	// Parse timestamps
	if f.CreatedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
			info.CreatedTime = t
		}
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			info.ModifiedTime = t
		}
	}

	// Convert owners
	for _, owner := range f.Owners {
		info.Owners = append(info.Owners, User{
			DisplayName:  owner.DisplayName,
			EmailAddress: owner.EmailAddress,
		})
	}

	return info
}
