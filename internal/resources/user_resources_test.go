package resources

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cogwheel/mcp-colab/internal/colab"
	"github.com/cogwheel/mcp-colab/internal/config"
	"github.com/cogwheel/mcp-colab/internal/server"
)

// newTestContext builds a server context whose config directory and
// profile root live in temp dirs, so tests never touch the real home.
func newTestContext(t *testing.T) *server.ServerContext {
	t.Helper()
	t.Setenv(config.EnvDirOverride, t.TempDir())

	cfg := config.Default()
	cfg.Selenium.Profile.RootDir = t.TempDir()

	sc, err := server.NewServerContext(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create server context: %v", err)
	}
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

// resourceText extracts the text payload of a resource read.
func resourceText(t *testing.T, contents []mcp.ResourceContents) string {
	t.Helper()
	if len(contents) == 0 {
		t.Fatal("resource returned no contents")
	}
	text, ok := contents[0].(*mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents are %T, not *mcp.TextResourceContents", contents[0])
	}
	return text.Text
}

func TestRegisterUserResources(t *testing.T) {
	sc := newTestContext(t)
	s := mcpserver.NewMCPServer("test-server", "1.0.0",
		mcpserver.WithResourceCapabilities(false, false),
	)

	if err := RegisterUserResources(s, sc); err != nil {
		t.Fatalf("RegisterUserResources() error = %v", err)
	}
}

func TestHandleConfigResource(t *testing.T) {
	sc := newTestContext(t)
	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "colab://config"},
	}

	contents, err := handleConfigResource(context.Background(), req, sc)
	if err != nil {
		t.Fatalf("handleConfigResource() error = %v", err)
	}

	text := resourceText(t, contents)
	if !strings.Contains(text, `"root_dir": "<configured>"`) {
		t.Errorf("expected redacted profile root, got:\n%s", text)
	}
	if !strings.Contains(text, `"base_url": "https://colab.research.google.com"`) {
		t.Errorf("expected Colab base URL, got:\n%s", text)
	}
}

func TestHandleSessionResource(t *testing.T) {
	sc := newTestContext(t)
	sc.Runtimes().Create("notebook-abc-123", colab.RuntimeCPU)

	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "colab://session"},
	}

	contents, err := handleSessionResource(context.Background(), req, sc)
	if err != nil {
		t.Fatalf("handleSessionResource() error = %v", err)
	}

	text := resourceText(t, contents)
	if !strings.Contains(text, `"account": "default"`) {
		t.Errorf("expected default account, got:\n%s", text)
	}
	if !strings.Contains(text, `"status": "unauthenticated"`) {
		t.Errorf("expected unauthenticated session, got:\n%s", text)
	}
	if !strings.Contains(text, "notebook-abc-123") {
		t.Errorf("expected registered runtime in snapshot, got:\n%s", text)
	}
	if !strings.Contains(text, `"active_runtimes": 1`) {
		t.Errorf("expected one active runtime, got:\n%s", text)
	}
}
