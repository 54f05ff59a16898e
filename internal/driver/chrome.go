package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/cogwheel/mcp-colab/internal/logging"
)

const (
	// connectPollInterval is how often the runtime connection state is
	// re-read while waiting for a kernel.
	connectPollInterval = time.Second

	// outputPollInterval is how often a running cell's output area is
	// re-read.
	outputPollInterval = 500 * time.Millisecond

	// executionStartGrace covers the gap between pressing Ctrl+Enter and
	// the cell visibly entering the running state. Very fast cells can
	// finish inside it.
	executionStartGrace = 3 * time.Second
)

// ChromeDriver drives Colab through a Chrome instance bound to one
// profile directory. It implements ExecutionDriver.
type ChromeDriver struct {
	opts    Options
	logger  *slog.Logger
	adapter *logging.SlogAdapter

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu      sync.Mutex
	handles map[string]*chromeHandle
	closed  bool
}

// NewChromeDriver builds a driver for the given options. The browser
// process starts lazily with the first opened notebook.
func NewChromeDriver(opts Options) *ChromeDriver {
	opts = opts.withDefaults()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	return &ChromeDriver{
		opts:        opts,
		logger:      opts.Logger,
		adapter:     logging.NewSlogAdapter(opts.Logger),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		handles:     make(map[string]*chromeHandle),
	}
}

// allocatorOptions translates Options into Chrome launch flags.
func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if o.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(o.UserDataDir))
	}
	if o.DisableAutomationFlags {
		allocOpts = append(allocOpts,
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("exclude-switches", "enable-automation"),
		)
	}
	if o.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(o.UserAgent))
	}
	if o.WindowSize != "" {
		if w, h, err := parseWindowSize(o.WindowSize); err == nil {
			allocOpts = append(allocOpts, chromedp.WindowSize(w, h))
		}
	}
	return allocOpts
}

// OpenNotebook navigates a tab to the notebook and verifies the session
// is signed in. The returned handle is cached per notebook.
func (d *ChromeDriver) OpenNotebook(ctx context.Context, notebookID string) (Handle, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("driver is closed")
	}
	if h, ok := d.handles[notebookID]; ok {
		d.mu.Unlock()
		return h, nil
	}
	d.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(d.allocCtx,
		chromedp.WithLogf(d.adapter.Logf),
		chromedp.WithErrorf(d.adapter.Errorf))

	opCtx, opCancel := context.WithTimeout(tabCtx, d.opts.PageLoadTimeout)
	defer opCancel()
	stop := context.AfterFunc(ctx, opCancel)
	defer stop()

	url := d.opts.BaseURL + "/drive/" + notebookID
	d.logger.Debug("opening notebook", logging.Notebook(notebookID))

	actions := make([]chromedp.Action, 0, 4)
	if d.opts.UseStealth {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}))
	}
	var location string
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err := chromedp.Run(opCtx, actions...); err != nil {
		tabCancel()
		return nil, classifyError("openNotebook", err)
	}
	if isLoginRedirect(location) {
		tabCancel()
		return nil, fmt.Errorf("open notebook %s: %w", notebookID, ErrLoginRequired)
	}

	h := &chromeHandle{
		driver:     d,
		notebookID: notebookID,
		tabCtx:     tabCtx,
		tabCancel:  tabCancel,
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		tabCancel()
		return nil, errors.New("driver is closed")
	}
	if existing, ok := d.handles[notebookID]; ok {
		// Lost the race against a concurrent open; keep the first tab.
		tabCancel()
		return existing, nil
	}
	d.handles[notebookID] = h
	return h, nil
}

// Close shuts down every tab and the browser process.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	handles := d.handles
	d.handles = make(map[string]*chromeHandle)
	d.mu.Unlock()

	for _, h := range handles {
		h.tabCancel()
	}
	d.allocCancel()
	return nil
}

// chromeHandle is one notebook tab. Page operations are serialized per
// tab; Colab's editor state does not tolerate interleaved input.
type chromeHandle struct {
	driver     *ChromeDriver
	notebookID string
	tabCtx     context.Context
	tabCancel  context.CancelFunc

	mu        sync.Mutex
	connected bool
}

func (h *chromeHandle) NotebookID() string { return h.notebookID }

// Close releases the tab and drops it from the driver's cache.
func (h *chromeHandle) Close() error {
	h.driver.mu.Lock()
	if h.driver.handles[h.notebookID] == h {
		delete(h.driver.handles, h.notebookID)
	}
	h.driver.mu.Unlock()
	h.tabCancel()
	return nil
}

type connectState struct {
	Connected bool   `json:"connected"`
	Text      string `json:"text"`
}

type cellState struct {
	Running   bool   `json:"running"`
	Output    string `json:"output"`
	HasError  bool   `json:"hasError"`
	ErrorText string `json:"errorText"`
}

// ensureConnected connects the notebook to a runtime if it is not
// already connected. Callers hold h.mu.
func (h *chromeHandle) ensureConnected(ctx context.Context) error {
	var st connectState
	if h.connected {
		// The runtime can drop between calls; re-check before trusting it.
		if err := chromedp.Run(ctx, chromedp.Evaluate(connectStateScript, &st)); err == nil && st.Connected {
			return nil
		}
		h.connected = false
	}

	connCtx, cancel := context.WithTimeout(ctx, h.driver.opts.ConnectionTimeout)
	defer cancel()

	var clicked bool
	if err := chromedp.Run(connCtx, chromedp.Evaluate(clickConnectScript, &clicked)); err != nil {
		return classifyError("connectRuntime", err)
	}
	if clicked {
		h.driver.logger.Debug("requested runtime connection", logging.Notebook(h.notebookID))
	}

	ticker := time.NewTicker(connectPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-connCtx.Done():
			return classifyError("connectRuntime",
				fmt.Errorf("runtime disconnected, no kernel after %s (last state: %q)",
					h.driver.opts.ConnectionTimeout, st.Text))
		case <-ticker.C:
		}
		if err := chromedp.Run(connCtx, chromedp.Evaluate(connectStateScript, &st)); err != nil {
			return classifyError("connectRuntime", err)
		}
		if st.Connected {
			h.connected = true
			return nil
		}
	}
}

// ExecuteCell appends a fresh code cell, types code into it, runs it
// with Ctrl+Enter and polls the output area until the cell settles.
func (h *chromeHandle) ExecuteCell(ctx context.Context, code string, timeout time.Duration) (*CellResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("code is empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	opCtx, opCancel := context.WithTimeout(h.tabCtx, timeout)
	defer opCancel()
	stop := context.AfterFunc(ctx, opCancel)
	defer stop()

	if err := h.ensureConnected(opCtx); err != nil {
		return nil, err
	}

	err := chromedp.Run(opCtx,
		chromedp.Click(addCodeCellSelector, chromedp.ByQuery),
		chromedp.WaitReady(editorInputSelector, chromedp.ByQuery),
		chromedp.Focus(editorInputSelector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(code).Do(ctx)
		}),
		// Ctrl+Enter runs the focused cell in place.
		chromedp.KeyEvent("\r", chromedp.KeyModifiers(input.ModifierCtrl)),
	)
	if err != nil {
		return nil, classifyError("executeCell", err)
	}

	state, err := h.waitForCell(opCtx)
	if err != nil {
		return nil, err
	}

	res := &CellResult{OK: !state.HasError}
	if state.HasError {
		res.Stderr = state.ErrorText
		if res.Stderr == "" {
			res.Stderr = state.Output
		}
	} else {
		res.Stdout = state.Output
	}
	return res, nil
}

// waitForCell polls the last cell until it stops running. The initial
// grace period covers cells that finish before they ever show as
// running.
func (h *chromeHandle) waitForCell(ctx context.Context) (*cellState, error) {
	started := time.Now()
	sawRunning := false
	ticker := time.NewTicker(outputPollInterval)
	defer ticker.Stop()

	var state cellState
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("executeCell: %w", ctx.Err())
		case <-ticker.C:
		}
		if err := chromedp.Run(ctx, chromedp.Evaluate(readCellStateScript, &state)); err != nil {
			return nil, classifyError("readCellOutput", err)
		}
		if state.Running {
			sawRunning = true
			continue
		}
		if sawRunning || state.Output != "" || state.HasError || time.Since(started) > executionStartGrace {
			return &state, nil
		}
	}
}

// UploadFile injects a local file into the runtime via the file
// browser's upload input. remoteName is honored by staging a renamed
// copy, since the browser always uploads under the local file name.
func (h *chromeHandle) UploadFile(ctx context.Context, localPath, remoteName string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("local file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("local file %s is not a regular file", localPath)
	}

	uploadName := filepath.Base(localPath)
	if remoteName != "" && remoteName != uploadName {
		staged, cleanup, err := stageAs(localPath, remoteName)
		if err != nil {
			return err
		}
		defer cleanup()
		localPath = staged
		uploadName = remoteName
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	opCtx, opCancel := context.WithTimeout(h.tabCtx, h.driver.opts.ConnectionTimeout)
	defer opCancel()
	stop := context.AfterFunc(ctx, opCancel)
	defer stop()

	if err := h.ensureConnected(opCtx); err != nil {
		return err
	}

	var paneOpen bool
	err = chromedp.Run(opCtx,
		chromedp.Evaluate(openFilePaneScript, &paneOpen),
		chromedp.WaitReady(uploadInputSelector, chromedp.ByQuery),
		chromedp.SetUploadFiles(uploadInputSelector, []string{localPath}, chromedp.ByQuery),
	)
	if err != nil {
		return classifyError("uploadFile", err)
	}

	// Wait until the file shows up in the tree; the upload itself is
	// asynchronous.
	ticker := time.NewTicker(outputPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-opCtx.Done():
			return classifyError("uploadFile",
				fmt.Errorf("file %q did not appear in the runtime", uploadName))
		case <-ticker.C:
		}
		var visible bool
		if err := chromedp.Run(opCtx, chromedp.Evaluate(fileVisibleScript(uploadName), &visible)); err != nil {
			return classifyError("uploadFile", err)
		}
		if visible {
			h.driver.logger.Debug("file uploaded",
				logging.Notebook(h.notebookID), slog.String("file", uploadName))
			return nil
		}
	}
}

// stageAs copies src into a temp directory under name so the browser
// uploads it with that name. The cleanup func removes the staging dir.
func stageAs(src, name string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "mcp-colab-upload-")
	if err != nil {
		return "", nil, fmt.Errorf("staging upload: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	dst := filepath.Join(dir, filepath.Base(name))
	in, err := os.Open(src)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("staging upload: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("staging upload: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		cleanup()
		return "", nil, fmt.Errorf("staging upload: %w", err)
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("staging upload: %w", err)
	}
	return dst, cleanup, nil
}
