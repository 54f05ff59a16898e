package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cogwheel/mcp-colab/internal/colab"
	"github.com/cogwheel/mcp-colab/internal/config"
	"github.com/cogwheel/mcp-colab/internal/driver"
	"github.com/cogwheel/mcp-colab/internal/logging"
	"github.com/cogwheel/mcp-colab/internal/notebooks"
)

// Status is the terminal state of one execution.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
)

// Request asks for one code execution.
type Request struct {
	NotebookID string `json:"notebook_id"`
	Code       string `json:"code"`

	// TimeoutSeconds bounds the execution. Zero uses the configured
	// default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Result is the outcome of one execution.
type Result struct {
	Status Status `json:"status"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	// DurationMillis covers the driver call only, not queue wait.
	DurationMillis int64 `json:"duration_ms"`

	// ExecutionID correlates log lines and metrics for this execution.
	ExecutionID string `json:"execution_id"`

	// Attempts counts driver attempts including the successful one.
	Attempts int `json:"attempts"`
}

const (
	// DefaultTimeout applies when a request does not carry its own.
	DefaultTimeout = 5 * time.Minute

	// DefaultMaxConcurrent bounds browser executions across all users.
	DefaultMaxConcurrent = 8

	// supervisionSlack is how long past the deadline the supervising
	// timer waits for the driver to honor its own deadline first.
	supervisionSlack = 100 * time.Millisecond
)

// Options tunes the gateway.
type Options struct {
	// DefaultTimeout applies to requests without a timeout.
	DefaultTimeout time.Duration

	// MaxRetries is how often a transient driver failure is retried.
	MaxRetries int

	// RetryDelay is the base backoff between retries; attempt n waits
	// n times this long.
	RetryDelay time.Duration

	// MaxConcurrent bounds in-flight driver executions globally.
	MaxConcurrent int64

	// Logger receives gateway logs. Nil uses slog.Default.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// FromConfig derives gateway options from the server configuration.
func FromConfig(cfg *config.Config) Options {
	return Options{
		DefaultTimeout: cfg.ExecutionTimeout(),
		MaxRetries:     cfg.Colab.MaxRetries,
		RetryDelay:     cfg.RetryDelay(),
	}
}

// Gateway runs code through the execution driver. Safe for concurrent
// use.
type Gateway struct {
	driver   driver.ExecutionDriver
	sessions *colab.SessionManager
	runtimes *colab.RuntimeRegistry
	opts     Options
	logger   *slog.Logger

	slots *semaphore.Weighted

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// New builds a gateway over the given driver. sessions and runtimes may
// not be nil; the gateway keeps both in sync with what it observes.
func New(drv driver.ExecutionDriver, sessions *colab.SessionManager, runtimes *colab.RuntimeRegistry, opts Options) *Gateway {
	opts = opts.withDefaults()
	return &Gateway{
		driver:   drv,
		sessions: sessions,
		runtimes: runtimes,
		opts:     opts,
		logger:   opts.Logger,
		slots:    semaphore.NewWeighted(opts.MaxConcurrent),
		users:    make(map[string]*sync.Mutex),
	}
}

// RunCode executes req.Code in the notebook. The session must be
// active; otherwise an AuthError returns without touching the driver.
// Executions of the same user queue in arrival order; different users
// run in parallel.
func (g *Gateway) RunCode(ctx context.Context, session *colab.Session, req *Request) (*Result, error) {
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if req == nil || strings.TrimSpace(req.Code) == "" {
		return nil, errors.New("code is empty")
	}
	if !notebooks.ValidateNotebookID(req.NotebookID) {
		return nil, fmt.Errorf("invalid notebook ID %q", req.NotebookID)
	}
	if session.Status != colab.StatusActive {
		return nil, colab.NewAuthError(session.UserID,
			fmt.Sprintf("session is %s, not active", session.Status))
	}

	timeout := g.opts.DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	userMu := g.userMutex(session.UserID)
	userMu.Lock()
	defer userMu.Unlock()

	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.slots.Release(1)

	execID := uuid.NewString()
	logger := g.logger.With(
		logging.Execution(execID),
		logging.Notebook(req.NotebookID),
		logging.UserHash(session.UserID))

	g.runtimes.GetOrCreate(req.NotebookID, colab.RuntimeCPU)
	g.runtimes.MarkExecutionStart(req.NotebookID)
	defer g.runtimes.MarkExecutionEnd(req.NotebookID)

	for attempt := 0; ; attempt++ {
		res, err := g.attempt(ctx, req.NotebookID, req.Code, timeout, execID, logger)
		if err == nil {
			res.Attempts = attempt + 1
			g.sessions.Touch(session.UserID)
			logger.Info("execution finished",
				logging.Status(statusLogValue(res.Status)),
				logging.Duration(time.Duration(res.DurationMillis)*time.Millisecond),
				slog.Int("attempts", res.Attempts))
			return res, nil
		}
		if errors.Is(err, driver.ErrLoginRequired) {
			return nil, colab.NewAuthError(session.UserID,
				"browser session is not signed in to Google")
		}
		if !colab.IsRecoverable(err) || attempt >= g.opts.MaxRetries {
			logger.Error("execution failed", logging.Err(err),
				slog.Int("attempts", attempt+1))
			return nil, err
		}

		delay := g.opts.RetryDelay * time.Duration(attempt+1)
		logger.Warn("transient driver failure, retrying",
			logging.Err(err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// attempt runs one driver call under the supervising timer. Timeouts
// and cell errors come back as results; only driver failures are
// errors.
func (g *Gateway) attempt(ctx context.Context, notebookID, code string, timeout time.Duration, execID string, logger *slog.Logger) (*Result, error) {
	g.runtimes.UpdateStatus(notebookID, colab.RuntimeConnecting, "")

	type outcome struct {
		res *driver.CellResult
		err error
	}
	// Buffered so an abandoned call can still complete and be discarded.
	done := make(chan outcome, 1)

	started := time.Now()
	go func() {
		// The driver gets the same deadline. ctx cancellation does not
		// propagate: once abandoned, the call finishes on its own and the
		// result is dropped.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		handle, err := g.driver.OpenNotebook(callCtx, notebookID)
		if err != nil {
			done <- outcome{nil, err}
			return
		}
		res, err := handle.ExecuteCell(callCtx, code, timeout)
		done <- outcome{res, err}
	}()

	timer := time.NewTimer(timeout + supervisionSlack)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timer.C:
		// The driver did not even honor its own deadline; abandon it.
		logger.Warn("execution timed out, abandoning driver call",
			logging.Status(logging.StatusTimeout),
			slog.Duration("timeout", timeout))
		return g.timeoutResult(started, timeout, execID), nil

	case out := <-done:
		duration := time.Since(started)
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return g.timeoutResult(started, timeout, execID), nil
			}
			g.runtimes.UpdateStatus(notebookID, colab.RuntimeError, out.err.Error())
			return nil, out.err
		}
		g.runtimes.UpdateStatus(notebookID, colab.RuntimeConnected, "")
		res := &Result{
			Stdout:         out.res.Stdout,
			Stderr:         out.res.Stderr,
			DurationMillis: duration.Milliseconds(),
			ExecutionID:    execID,
		}
		if out.res.OK {
			res.Status = StatusSuccess
		} else {
			res.Status = StatusError
		}
		return res, nil
	}
}

func (g *Gateway) timeoutResult(started time.Time, timeout time.Duration, execID string) *Result {
	return &Result{
		Status:         StatusTimeout,
		Stderr:         colab.NewTimeoutError("execution", timeout).Error(),
		DurationMillis: time.Since(started).Milliseconds(),
		ExecutionID:    execID,
	}
}

// packageSpecRe accepts plain package names with an optional pinned
// version. Anything fancier is rejected rather than interpolated into
// generated code.
var packageSpecRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(==[A-Za-z0-9._]+)?$`)

// ValidatePackageSpec rejects anything that is not a plain package name
// with an optional pinned version (numpy, pandas==2.1.0). Tools call it
// before queueing batch installs.
func ValidatePackageSpec(pkg string) error {
	if !packageSpecRe.MatchString(strings.TrimSpace(pkg)) {
		return fmt.Errorf("invalid package spec %q: only names like numpy or pandas==2.1.0 are accepted", pkg)
	}
	return nil
}

// installCell generates the pip install cell body for a validated
// package spec.
func installCell(pkg string) string {
	return fmt.Sprintf(`import subprocess, sys
result = subprocess.run([sys.executable, "-m", "pip", "install", %q], capture_output=True, text=True)
print(result.stdout)
if result.returncode != 0:
    print(result.stderr)
    raise RuntimeError("pip install failed: " + %q)
`, pkg, pkg)
}

// InstallPackage installs a package into the notebook's runtime by
// running a generated pip cell. The package spec is validated before it
// gets anywhere near generated code.
func (g *Gateway) InstallPackage(ctx context.Context, session *colab.Session, notebookID, pkg string, timeout time.Duration) (*Result, error) {
	pkg = strings.TrimSpace(pkg)
	if err := ValidatePackageSpec(pkg); err != nil {
		return nil, err
	}
	req := &Request{
		NotebookID:     notebookID,
		Code:           installCell(pkg),
		TimeoutSeconds: int(timeout / time.Second),
	}
	return g.RunCode(ctx, session, req)
}

// UploadFile pushes a local file into the notebook runtime through the
// driver's upload capability. remoteName is sanitized; empty keeps the
// local base name.
func (g *Gateway) UploadFile(ctx context.Context, session *colab.Session, notebookID, localPath, remoteName string, timeout time.Duration) error {
	if session == nil {
		return errors.New("session is nil")
	}
	if !notebooks.ValidateNotebookID(notebookID) {
		return fmt.Errorf("invalid notebook ID %q", notebookID)
	}
	if session.Status != colab.StatusActive {
		return colab.NewAuthError(session.UserID,
			fmt.Sprintf("session is %s, not active", session.Status))
	}
	if remoteName != "" {
		remoteName = notebooks.SanitizeFilename(remoteName)
	}
	if timeout <= 0 {
		timeout = g.opts.DefaultTimeout
	}

	userMu := g.userMutex(session.UserID)
	userMu.Lock()
	defer userMu.Unlock()

	if err := g.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.slots.Release(1)

	g.runtimes.GetOrCreate(notebookID, colab.RuntimeCPU)

	for attempt := 0; ; attempt++ {
		err := g.uploadOnce(ctx, notebookID, localPath, remoteName, timeout)
		if err == nil {
			g.runtimes.MarkActive(notebookID)
			g.sessions.Touch(session.UserID)
			return nil
		}
		if errors.Is(err, driver.ErrLoginRequired) {
			return colab.NewAuthError(session.UserID,
				"browser session is not signed in to Google")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return colab.NewTimeoutError("upload", timeout)
		}
		if !colab.IsRecoverable(err) || attempt >= g.opts.MaxRetries {
			return err
		}
		delay := g.opts.RetryDelay * time.Duration(attempt+1)
		g.logger.Warn("transient driver failure during upload, retrying",
			logging.Notebook(notebookID), logging.Err(err),
			slog.Int("attempt", attempt+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (g *Gateway) uploadOnce(ctx context.Context, notebookID, localPath, remoteName string, timeout time.Duration) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	handle, err := g.driver.OpenNotebook(callCtx, notebookID)
	if err != nil {
		return err
	}
	return handle.UploadFile(callCtx, localPath, remoteName)
}

// userMutex returns the per-user execution lock, creating it on first
// use.
func (g *Gateway) userMutex(userID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	mu, ok := g.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		g.users[userID] = mu
	}
	return mu
}

func statusLogValue(s Status) string {
	switch s {
	case StatusSuccess:
		return logging.StatusSuccess
	case StatusTimeout:
		return logging.StatusTimeout
	default:
		return logging.StatusError
	}
}
