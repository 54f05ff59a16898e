package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cogwheel/mcp-colab/internal/config"
)

// CellResult is the outcome of executing one code cell.
type CellResult struct {
	// Stdout holds the cell's output area content on success.
	Stdout string `json:"stdout"`

	// Stderr holds the error output when the cell raised.
	Stderr string `json:"stderr"`

	// OK reports whether the cell completed without raising.
	OK bool `json:"ok"`
}

// Handle is a live notebook page. Handles stay valid until they or
// their driver are closed.
type Handle interface {
	// NotebookID returns the notebook this handle is bound to.
	NotebookID() string

	// ExecuteCell runs code in a fresh cell and returns its collected
	// output. timeout bounds the in-page execution; cancellation of ctx
	// aborts the wait but not the kernel, which keeps running.
	ExecuteCell(ctx context.Context, code string, timeout time.Duration) (*CellResult, error)

	// UploadFile places a local file into the runtime's filesystem.
	// remoteName overrides the stored file name; empty keeps the local
	// base name.
	UploadFile(ctx context.Context, localPath, remoteName string) error

	// Close releases the page. The handle is unusable afterwards.
	Close() error
}

// ExecutionDriver opens notebook pages in an authenticated browser
// session.
type ExecutionDriver interface {
	// OpenNotebook navigates to the notebook and returns a reusable
	// handle. Opening an already-open notebook returns the existing
	// handle.
	OpenNotebook(ctx context.Context, notebookID string) (Handle, error)

	// Close shuts the browser down and invalidates all handles.
	Close() error
}

// Options configures a ChromeDriver.
type Options struct {
	// Headless runs the browser without a window. Interactive login
	// needs a visible browser, so login flows force this off.
	Headless bool

	// UserDataDir is the persistent Chrome profile directory backing the
	// session. Empty launches with a throwaway profile.
	UserDataDir string

	// BaseURL is the Colab frontend, normally
	// https://colab.research.google.com.
	BaseURL string

	// UserAgent overrides the browser's user agent when non-empty.
	UserAgent string

	// WindowSize is "WIDTH,HEIGHT". Empty keeps Chrome's default.
	WindowSize string

	// DisableAutomationFlags removes the switches that let sites detect
	// an automated browser.
	DisableAutomationFlags bool

	// UseStealth additionally masks navigator.webdriver on every page.
	UseStealth bool

	// PageLoadTimeout bounds navigation and page-ready waits.
	PageLoadTimeout time.Duration

	// ConnectionTimeout bounds connecting the notebook to a runtime.
	ConnectionTimeout time.Duration

	// Logger receives driver logs. Nil uses slog.Default.
	Logger *slog.Logger
}

// withDefaults fills unset fields with working values.
func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = "https://colab.research.google.com"
	}
	if o.PageLoadTimeout <= 0 {
		o.PageLoadTimeout = 30 * time.Second
	}
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// FromConfig derives driver options from the server configuration and
// the profile directory the session manager allocated.
func FromConfig(cfg *config.Config, profileDir string) Options {
	return Options{
		Headless:               cfg.Selenium.Headless,
		UserDataDir:            profileDir,
		BaseURL:                cfg.Colab.BaseURL,
		UserAgent:              cfg.Selenium.AntiDetection.CustomUserAgent,
		WindowSize:             cfg.Selenium.AntiDetection.WindowSize,
		DisableAutomationFlags: cfg.Selenium.AntiDetection.DisableAutomationFlags,
		UseStealth:             cfg.Selenium.UseStealth,
		PageLoadTimeout:        cfg.PageLoadTimeout(),
		ConnectionTimeout:      cfg.ConnectionTimeout(),
	}
}

// parseWindowSize splits a "WIDTH,HEIGHT" string. It returns an error
// for anything that is not two positive integers.
func parseWindowSize(s string) (width, height int, err error) {
	if _, err := fmt.Sscanf(s, "%d,%d", &width, &height); err != nil {
		return 0, 0, fmt.Errorf("invalid window size %q: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid window size %q: dimensions must be positive", s)
	}
	return width, height, nil
}
