package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cogwheel/mcp-colab/internal/colab"
	"github.com/cogwheel/mcp-colab/internal/driver"
)

// fakeDriver satisfies driver.ExecutionDriver without a browser. The
// exec hook receives the attempt number so tests can fail N times.
type fakeDriver struct {
	mu      sync.Mutex
	opens   int
	execs   int
	uploads [][2]string

	openErr   error
	uploadErr error
	exec      func(ctx context.Context, call int, code string, timeout time.Duration) (*driver.CellResult, error)
}

func (d *fakeDriver) OpenNotebook(ctx context.Context, id string) (driver.Handle, error) {
	d.mu.Lock()
	d.opens++
	err := d.openErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakeHandle{d: d, id: id}, nil
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDriver) execCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.execs
}

type fakeHandle struct {
	d  *fakeDriver
	id string
}

func (h *fakeHandle) NotebookID() string { return h.id }

func (h *fakeHandle) ExecuteCell(ctx context.Context, code string, timeout time.Duration) (*driver.CellResult, error) {
	h.d.mu.Lock()
	h.d.execs++
	call := h.d.execs
	fn := h.d.exec
	h.d.mu.Unlock()
	if fn == nil {
		return &driver.CellResult{Stdout: "ok", OK: true}, nil
	}
	return fn(ctx, call, code, timeout)
}

func (h *fakeHandle) UploadFile(ctx context.Context, localPath, remoteName string) error {
	h.d.mu.Lock()
	h.d.uploads = append(h.d.uploads, [2]string{localPath, remoteName})
	err := h.d.uploadErr
	h.d.mu.Unlock()
	return err
}

func (h *fakeHandle) Close() error { return nil }

const testNotebookID = "1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, d *fakeDriver, opts Options) (*Gateway, *colab.RuntimeRegistry) {
	t.Helper()
	opts.Logger = discardLogger()
	sessions := colab.NewSessionManager(colab.NewProfileManager(t.TempDir(), true), nil, opts.Logger)
	runtimes := colab.NewRuntimeRegistry(time.Hour, 0, opts.Logger)
	t.Cleanup(runtimes.Stop)
	return New(d, sessions, runtimes, opts), runtimes
}

func activeSession(userID string) *colab.Session {
	return &colab.Session{UserID: userID, Status: colab.StatusActive}
}

func TestRunCodeRequiresActiveSession(t *testing.T) {
	d := &fakeDriver{}
	g, _ := newTestGateway(t, d, Options{})

	for _, status := range []colab.SessionStatus{
		colab.StatusUnauthenticated,
		colab.StatusExpired,
		colab.StatusCleared,
	} {
		session := &colab.Session{UserID: "alice", Status: status}
		_, err := g.RunCode(t.Context(), session, &Request{NotebookID: testNotebookID, Code: "print(1)"})
		if !colab.IsAuthError(err) {
			t.Errorf("status %s: expected AuthError, got %v", status, err)
		}
	}
	if d.openCount() != 0 {
		t.Errorf("driver touched %d times for inactive sessions", d.openCount())
	}
}

func TestRunCodeRejectsInvalidInput(t *testing.T) {
	d := &fakeDriver{}
	g, _ := newTestGateway(t, d, Options{})

	if _, err := g.RunCode(t.Context(), nil, &Request{NotebookID: testNotebookID, Code: "x"}); err == nil {
		t.Error("nil session accepted")
	}
	if _, err := g.RunCode(t.Context(), activeSession("a"), &Request{NotebookID: testNotebookID, Code: "   "}); err == nil {
		t.Error("blank code accepted")
	}
	if _, err := g.RunCode(t.Context(), activeSession("a"), &Request{NotebookID: "too_short", Code: "x"}); err == nil {
		t.Error("invalid notebook ID accepted")
	}
	if d.openCount() != 0 {
		t.Errorf("driver touched %d times for invalid input", d.openCount())
	}
}

func TestRunCodeSuccess(t *testing.T) {
	d := &fakeDriver{
		exec: func(_ context.Context, _ int, code string, _ time.Duration) (*driver.CellResult, error) {
			if code != "print(2+2)" {
				return nil, fmt.Errorf("unexpected code %q", code)
			}
			return &driver.CellResult{Stdout: "4\n", OK: true}, nil
		},
	}
	g, runtimes := newTestGateway(t, d, Options{})

	res, err := g.RunCode(t.Context(), activeSession("alice"), &Request{
		NotebookID: testNotebookID,
		Code:       "print(2+2)",
	})
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("Status = %s", res.Status)
	}
	if res.Stdout != "4\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.ExecutionID == "" {
		t.Error("ExecutionID is empty")
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d", res.Attempts)
	}
	if res.DurationMillis < 0 {
		t.Errorf("DurationMillis = %d", res.DurationMillis)
	}
	if rt := runtimes.Get(testNotebookID); rt == nil || rt.Status != colab.RuntimeConnected {
		t.Errorf("runtime not marked connected: %+v", rt)
	}
}

func TestRunCodeCellErrorNotRetried(t *testing.T) {
	d := &fakeDriver{
		exec: func(context.Context, int, string, time.Duration) (*driver.CellResult, error) {
			return &driver.CellResult{Stderr: "NameError: name 'x' is not defined", OK: false}, nil
		},
	}
	g, _ := newTestGateway(t, d, Options{MaxRetries: 3, RetryDelay: time.Millisecond})

	res, err := g.RunCode(t.Context(), activeSession("alice"), &Request{NotebookID: testNotebookID, Code: "x"})
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if res.Status != StatusError {
		t.Errorf("Status = %s", res.Status)
	}
	if !strings.Contains(res.Stderr, "NameError") {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if d.execCount() != 1 {
		t.Errorf("cell error was retried: %d executions", d.execCount())
	}
}

func TestRunCodeTimeoutSupervisor(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	d := &fakeDriver{
		// A driver that never returns, not even for its context.
		exec: func(context.Context, int, string, time.Duration) (*driver.CellResult, error) {
			<-block
			return nil, errors.New("late failure after abandonment")
		},
	}
	g, _ := newTestGateway(t, d, Options{
		DefaultTimeout: 200 * time.Millisecond,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
	})

	start := time.Now()
	res, err := g.RunCode(t.Context(), activeSession("alice"), &Request{NotebookID: testNotebookID, Code: "while True: pass"})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if res.Status != StatusTimeout {
		t.Errorf("Status = %s", res.Status)
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if elapsed > time.Second {
		t.Errorf("timeout surfaced after %v, want well under a second past the 200ms deadline", elapsed)
	}
	if d.execCount() != 1 {
		t.Errorf("timeout was retried: %d executions", d.execCount())
	}
}

func TestRunCodeDriverDeadlineBecomesTimeout(t *testing.T) {
	d := &fakeDriver{
		exec: func(ctx context.Context, _ int, _ string, _ time.Duration) (*driver.CellResult, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("run actions: %w", ctx.Err())
		},
	}
	g, _ := newTestGateway(t, d, Options{DefaultTimeout: 100 * time.Millisecond, MaxRetries: 3})

	res, err := g.RunCode(t.Context(), activeSession("alice"), &Request{NotebookID: testNotebookID, Code: "x"})
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if res.Status != StatusTimeout {
		t.Errorf("Status = %s, want TIMEOUT", res.Status)
	}
	if d.execCount() != 1 {
		t.Errorf("driver deadline was retried: %d executions", d.execCount())
	}
}

func TestRunCodeRetriesTransientThenSucceeds(t *testing.T) {
	d := &fakeDriver{
		exec: func(_ context.Context, call int, _ string, _ time.Duration) (*driver.CellResult, error) {
			if call <= 2 {
				return nil, colab.NewDriverError("executeCell", true, errors.New("websocket: close 1006"))
			}
			return &driver.CellResult{Stdout: "recovered", OK: true}, nil
		},
	}
	g, _ := newTestGateway(t, d, Options{MaxRetries: 3, RetryDelay: time.Millisecond})

	res, err := g.RunCode(t.Context(), activeSession("alice"), &Request{NotebookID: testNotebookID, Code: "x"})
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if res.Status != StatusSuccess || res.Stdout != "recovered" {
		t.Errorf("result = %+v", res)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if d.execCount() != 3 {
		t.Errorf("executions = %d, want 3", d.execCount())
	}
}

func TestRunCodeRetriesExhausted(t *testing.T) {
	cause := colab.NewDriverError("executeCell", true, errors.New("target closed"))
	d := &fakeDriver{
		exec: func(context.Context, int, string, time.Duration) (*driver.CellResult, error) {
			return nil, cause
		},
	}
	g, _ := newTestGateway(t, d, Options{MaxRetries: 2, RetryDelay: time.Millisecond})

	_, err := g.RunCode(t.Context(), activeSession("alice"), &Request{NotebookID: testNotebookID, Code: "x"})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if d.execCount() != 3 {
		t.Errorf("executions = %d, want 3 (initial + 2 retries)", d.execCount())
	}
}

func TestRunCodeNonRecoverableNotRetried(t *testing.T) {
	d := &fakeDriver{
		exec: func(context.Context, int, string, time.Duration) (*driver.CellResult, error) {
			return nil, colab.NewDriverError("executeCell", false, errors.New("invalid selector"))
		},
	}
	g, _ := newTestGateway(t, d, Options{MaxRetries: 3, RetryDelay: time.Millisecond})

	_, err := g.RunCode(t.Context(), activeSession("alice"), &Request{NotebookID: testNotebookID, Code: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if d.execCount() != 1 {
		t.Errorf("non-recoverable error was retried: %d executions", d.execCount())
	}
}

func TestRunCodeLoginRedirectBecomesAuthError(t *testing.T) {
	d := &fakeDriver{
		openErr: fmt.Errorf("open notebook %s: %w", testNotebookID, driver.ErrLoginRequired),
	}
	g, _ := newTestGateway(t, d, Options{MaxRetries: 3, RetryDelay: time.Millisecond})

	_, err := g.RunCode(t.Context(), activeSession("alice"), &Request{NotebookID: testNotebookID, Code: "x"})
	if !colab.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if d.openCount() != 1 {
		t.Errorf("login redirect was retried: %d opens", d.openCount())
	}
}

func TestRunCodeSerializesSameUser(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0

	d := &fakeDriver{
		exec: func(context.Context, int, string, time.Duration) (*driver.CellResult, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return &driver.CellResult{OK: true}, nil
		},
	}
	g, _ := newTestGateway(t, d, Options{})

	session := activeSession("alice")
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.RunCode(context.Background(), session, &Request{NotebookID: testNotebookID, Code: "x"}); err != nil {
				t.Errorf("RunCode: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("same-user executions overlapped: max concurrency %d", maxActive)
	}
	if d.execCount() != 2 {
		t.Errorf("executions = %d, want 2", d.execCount())
	}
}

func TestRunCodeParallelAcrossUsers(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0

	d := &fakeDriver{
		exec: func(context.Context, int, string, time.Duration) (*driver.CellResult, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(100 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return &driver.CellResult{OK: true}, nil
		},
	}
	g, _ := newTestGateway(t, d, Options{})

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.RunCode(context.Background(), activeSession(user), &Request{NotebookID: testNotebookID, Code: "x"}); err != nil {
				t.Errorf("RunCode(%s): %v", user, err)
			}
		}()
	}
	wg.Wait()

	if maxActive < 2 {
		t.Errorf("different users did not overlap: max concurrency %d", maxActive)
	}
}

func TestRunCodeCancelDuringBackoffReleasesPromptly(t *testing.T) {
	d := &fakeDriver{
		exec: func(context.Context, int, string, time.Duration) (*driver.CellResult, error) {
			return nil, colab.NewDriverError("executeCell", true, errors.New("connection reset"))
		},
	}
	g, _ := newTestGateway(t, d, Options{MaxRetries: 5, RetryDelay: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := g.RunCode(ctx, activeSession("alice"), &Request{NotebookID: testNotebookID, Code: "x"})
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("cancellation took %v to release, backoff sleep was not interruptible", elapsed)
	}
}

func TestInstallPackageGeneratesPipCell(t *testing.T) {
	var gotCode string
	d := &fakeDriver{
		exec: func(_ context.Context, _ int, code string, _ time.Duration) (*driver.CellResult, error) {
			gotCode = code
			return &driver.CellResult{Stdout: "Successfully installed numpy", OK: true}, nil
		},
	}
	g, _ := newTestGateway(t, d, Options{})

	res, err := g.InstallPackage(t.Context(), activeSession("alice"), testNotebookID, "numpy", time.Minute)
	if err != nil {
		t.Fatalf("InstallPackage: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("Status = %s", res.Status)
	}
	for _, want := range []string{"subprocess.run", `"pip", "install", "numpy"`, "sys.executable"} {
		if !strings.Contains(gotCode, want) {
			t.Errorf("generated cell missing %q:\n%s", want, gotCode)
		}
	}
}

func TestInstallPackageAcceptsPinnedVersion(t *testing.T) {
	d := &fakeDriver{}
	g, _ := newTestGateway(t, d, Options{})

	if _, err := g.InstallPackage(t.Context(), activeSession("a"), testNotebookID, "pandas==2.1.0", 0); err != nil {
		t.Fatalf("pinned version rejected: %v", err)
	}
}

func TestInstallPackageRejectsBadSpecs(t *testing.T) {
	d := &fakeDriver{}
	g, _ := newTestGateway(t, d, Options{})

	for _, pkg := range []string{
		"",
		"numpy; rm -rf /",
		"pkg name",
		"--upgrade",
		`numpy"`,
		"a==b==c",
		".leading-dot",
	} {
		if _, err := g.InstallPackage(t.Context(), activeSession("a"), testNotebookID, pkg, 0); err == nil {
			t.Errorf("package spec %q accepted", pkg)
		}
	}
	if d.openCount() != 0 {
		t.Errorf("driver touched for rejected specs: %d opens", d.openCount())
	}
}

func TestUploadFileSanitizesRemoteName(t *testing.T) {
	d := &fakeDriver{}
	g, _ := newTestGateway(t, d, Options{})

	err := g.UploadFile(t.Context(), activeSession("alice"), testNotebookID, "/tmp/data.csv", `we<ird?.csv`, time.Minute)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.uploads) != 1 {
		t.Fatalf("uploads = %d", len(d.uploads))
	}
	if d.uploads[0][0] != "/tmp/data.csv" {
		t.Errorf("local path = %q", d.uploads[0][0])
	}
	if d.uploads[0][1] != "we_ird_.csv" {
		t.Errorf("remote name = %q, want sanitized", d.uploads[0][1])
	}
}

func TestUploadFileRequiresActiveSession(t *testing.T) {
	d := &fakeDriver{}
	g, _ := newTestGateway(t, d, Options{})

	session := &colab.Session{UserID: "alice", Status: colab.StatusExpired}
	err := g.UploadFile(t.Context(), session, testNotebookID, "/tmp/x", "", 0)
	if !colab.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if d.openCount() != 0 {
		t.Error("driver touched for inactive session")
	}
}

func TestUploadFileDeadlineBecomesTimeout(t *testing.T) {
	d := &fakeDriver{uploadErr: fmt.Errorf("upload: %w", context.DeadlineExceeded)}
	g, _ := newTestGateway(t, d, Options{MaxRetries: 3, RetryDelay: time.Millisecond})

	err := g.UploadFile(t.Context(), activeSession("alice"), testNotebookID, "/tmp/x", "", 50*time.Millisecond)
	if !colab.IsTimeout(err) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}
