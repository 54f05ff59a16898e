package notebooks

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the notebook storage contract tools and the server context
// depend on. *Client implements it; tests substitute fakes.
type Store interface {
	CreateNotebook(ctx context.Context, name string, opts *CreateOptions) (*NotebookInfo, error)
	ListNotebooks(ctx context.Context, opts *ListOptions) ([]*NotebookInfo, string, error)
	GetNotebook(ctx context.Context, notebookID string) (*NotebookInfo, error)
	ReadNotebook(ctx context.Context, notebookID string) (*Notebook, error)
}

// NotebookInfo represents metadata about a notebook file in Google Drive
type NotebookInfo struct {
	// ID is the Drive file ID, which is also the Colab notebook ID
	ID string `json:"id"`

	// Name is the file name, normally ending in .ipynb
	Name string `json:"name"`

	// Size is the size of the notebook document in bytes
	Size int64 `json:"size,omitempty"`

	// CreatedTime is when the notebook was created
	CreatedTime time.Time `json:"createdTime"`

	// ModifiedTime is when the notebook was last modified
	ModifiedTime time.Time `json:"modifiedTime"`

	// WebViewLink is the Drive viewer link
	WebViewLink string `json:"webViewLink,omitempty"`

	// ColabURL is the notebook's address in the Colab editor
	ColabURL string `json:"colabUrl,omitempty"`

	// Owners are the owners of the notebook
	Owners []User `json:"owners,omitempty"`

	// Shared indicates whether the notebook is shared
	Shared bool `json:"shared"`

	// Trashed indicates whether the notebook is in the trash
	Trashed bool `json:"trashed"`
}

// User represents a Google Drive user (owner of a notebook)
type User struct {
	// DisplayName is the display name of the user
	DisplayName string `json:"displayName"`

	// EmailAddress is the email address of the user
	EmailAddress string `json:"emailAddress"`
}

// ListOptions contains options for listing notebooks
type ListOptions struct {
	// Query is an additional filter in Drive's query language, combined
	// with the notebook MIME type filter.
	// Examples:
	//   "name contains 'analysis'"
	//   "'me' in owners"
	Query string

	// MaxResults is the maximum number of notebooks to return (max: 1000)
	MaxResults int

	// OrderBy specifies the sort order; defaults to "modifiedTime desc"
	OrderBy string

	// PageToken is a token for retrieving the next page of results
	PageToken string

	// IncludeTrashed includes trashed notebooks in results
	IncludeTrashed bool
}

// CreateOptions contains options for creating a notebook
type CreateOptions struct {
	// ParentFolders are Drive folder IDs the notebook should be placed in
	ParentFolders []string

	// Description is a short description of the notebook file
	Description string

	// Cells seed the new notebook; empty means an empty notebook
	Cells []Cell
}

// Notebook is an nbformat 4 document the way Colab stores it.
type Notebook struct {
	Cells         []Cell           `json:"cells"`
	Metadata      NotebookMetadata `json:"metadata"`
	NBFormat      int              `json:"nbformat"`
	NBFormatMinor int              `json:"nbformat_minor"`
}

// NotebookMetadata is the document-level metadata block.
type NotebookMetadata struct {
	Colab        ColabMetadata `json:"colab"`
	KernelSpec   KernelSpec    `json:"kernelspec"`
	LanguageInfo LanguageInfo  `json:"language_info"`
}

// ColabMetadata is Colab's own metadata section.
type ColabMetadata struct {
	Name       string `json:"name,omitempty"`
	Provenance []any  `json:"provenance"`
}

// KernelSpec names the kernel the notebook runs on.
type KernelSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// LanguageInfo names the notebook language.
type LanguageInfo struct {
	Name string `json:"name"`
}

// Cell is a single notebook cell. Source holds one entry per line.
type Cell struct {
	CellType       string         `json:"cell_type"`
	Source         []string       `json:"source"`
	Metadata       map[string]any `json:"metadata"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	Outputs        []CellOutput   `json:"outputs,omitempty"`
}

// MarshalJSON keeps the document nbformat-conformant: code cells always
// carry execution_count (null until executed) and outputs ([]), text
// cells never carry either key.
func (c Cell) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"cell_type": c.CellType,
		"source":    c.Source,
		"metadata":  c.Metadata,
	}
	if c.Source == nil {
		m["source"] = []string{}
	}
	if c.Metadata == nil {
		m["metadata"] = map[string]any{}
	}
	if c.CellType == CellTypeCode {
		m["execution_count"] = c.ExecutionCount
		if c.Outputs == nil {
			m["outputs"] = []CellOutput{}
		} else {
			m["outputs"] = c.Outputs
		}
	}
	return json.Marshal(m)
}

// CellOutput is a single execution output. Shapes vary by output type;
// the fields cover stream, execute_result/display_data and error
// outputs.
type CellOutput struct {
	OutputType string         `json:"output_type"`
	Name       string         `json:"name,omitempty"`
	Text       []string       `json:"text,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	EName      string         `json:"ename,omitempty"`
	EValue     string         `json:"evalue,omitempty"`
	Traceback  []string       `json:"traceback,omitempty"`
}
