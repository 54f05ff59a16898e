package notebooks

import (
	"strings"
)

const (
	// NotebookMimeType is the Drive MIME type of Colab notebooks
	NotebookMimeType = "application/vnd.google.colaboratory"

	// DefaultColabBaseURL is where the Colab editor lives
	DefaultColabBaseURL = "https://colab.research.google.com"
)

// Cell types in an nbformat document.
const (
	CellTypeCode     = "code"
	CellTypeMarkdown = "markdown"
	CellTypeRaw      = "raw"
)

// Notebook ID length bounds. Drive file IDs are 28-44 characters today;
// the bounds leave headroom without accepting junk.
const (
	minNotebookIDLen = 10
	maxNotebookIDLen = 80
)

// invalidFilenameChars are replaced by underscores in notebook names.
const invalidFilenameChars = `<>:"/\|?*`

// NewNotebook builds an empty nbformat 4 document named name.
func NewNotebook(name string, cells ...Cell) *Notebook {
	if cells == nil {
		cells = []Cell{}
	}
	return &Notebook{
		Cells: cells,
		Metadata: NotebookMetadata{
			Colab: ColabMetadata{
				Name:       name,
				Provenance: []any{},
			},
			KernelSpec: KernelSpec{
				Name:        "python3",
				DisplayName: "Python 3",
			},
			LanguageInfo: LanguageInfo{
				Name: "python",
			},
		},
		NBFormat:      4,
		NBFormatMinor: 0,
	}
}

// NewCodeCell builds a code cell from a source string. The source is
// split into lines; execution_count stays null and outputs empty until
// the cell actually runs.
func NewCodeCell(source string) Cell {
	return NewCodeCellLines(SplitSource(source))
}

// NewCodeCellLines is NewCodeCell for a pre-split source.
func NewCodeCellLines(lines []string) Cell {
	if lines == nil {
		lines = []string{}
	}
	return Cell{
		CellType:       CellTypeCode,
		Source:         lines,
		Metadata:       map[string]any{},
		ExecutionCount: nil,
		Outputs:        []CellOutput{},
	}
}

// NewTextCell builds a markdown or raw cell. An empty cellType means
// markdown.
func NewTextCell(source, cellType string) Cell {
	if cellType == "" {
		cellType = CellTypeMarkdown
	}
	return Cell{
		CellType: cellType,
		Source:   SplitSource(source),
		Metadata: map[string]any{},
	}
}

// SplitSource splits source text into nbformat source lines.
func SplitSource(source string) []string {
	return strings.Split(source, "\n")
}

// JoinSource is the inverse of SplitSource.
func JoinSource(lines []string) string {
	return strings.Join(lines, "\n")
}

// ValidateNotebookID reports whether id looks like a Drive file ID:
// letters, digits, hyphens and underscores within the length bounds.
func ValidateNotebookID(id string) bool {
	if len(id) < minNotebookIDLen || len(id) > maxNotebookIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// SanitizeFilename makes name safe for Drive and local filesystems:
// reserved characters become underscores, leading/trailing dots and
// spaces are stripped, and an empty result becomes "untitled".
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(invalidFilenameChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "untitled"
	}
	return out
}

// EnsureNotebookExtension appends .ipynb when name lacks it.
func EnsureNotebookExtension(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".ipynb") {
		return name
	}
	return name + ".ipynb"
}

// ColabURL returns the Colab editor address of a notebook.
func ColabURL(notebookID string) string {
	return DefaultColabBaseURL + "/drive/" + notebookID
}
