package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cogwheel/mcp-colab/internal/colab"
	"github.com/cogwheel/mcp-colab/internal/config"
	"github.com/cogwheel/mcp-colab/internal/driver"
	"github.com/cogwheel/mcp-colab/internal/google"
	"github.com/cogwheel/mcp-colab/internal/logging"
	"github.com/cogwheel/mcp-colab/internal/notebooks"
)

// CheckStatus grades one diagnostic probe.
type CheckStatus string

const (
	StatusOK   CheckStatus = "ok"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// Check is the outcome of a single probe.
type Check struct {
	Name           string      `json:"name"`
	Status         CheckStatus `json:"status"`
	Detail         string      `json:"detail,omitempty"`
	DurationMillis int64       `json:"duration_ms"`
}

// Report is the full output of a diagnostic run.
type Report struct {
	GeneratedAt     time.Time   `json:"generated_at"`
	UserID          string      `json:"user_id"`
	Overall         CheckStatus `json:"overall"`
	Checks          []Check     `json:"checks"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// reachabilityTimeout bounds the Colab frontend probe on its own; a
// diagnostic run should not hang on a dead network.
const reachabilityTimeout = 10 * time.Second

// Runner executes the diagnostic probes: configuration validity, Google
// credentials and tokens, the Chrome profile, Colab reachability and a
// browser self-test. Probes are independent; one failing never stops
// the others.
type Runner struct {
	cfg      *config.Config
	profiles *colab.ProfileManager
	logger   *slog.Logger

	// Overridable seams for tests.
	httpClient     *http.Client
	colabURL       string
	browserProbe   func(ctx context.Context) error
	hasCredentials func() bool
	hasToken       func(account string) bool
}

// NewRunner builds a runner against the live configuration and profile
// manager.
func NewRunner(cfg *config.Config, profiles *colab.ProfileManager, logger *slog.Logger) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		profiles: profiles,
		logger:   logger,

		httpClient: &http.Client{Timeout: reachabilityTimeout},
		colabURL:   cfg.Colab.BaseURL,
		browserProbe: func(ctx context.Context) error {
			return driver.SelfTest(ctx, driver.FromConfig(cfg, ""))
		},
		hasCredentials: google.HasCredentials,
		hasToken:       notebooks.HasTokenForAccount,
	}
}

// Run executes every probe for the user and aggregates the report.
// userID defaults to "default".
func (r *Runner) Run(ctx context.Context, userID string) *Report {
	if userID == "" {
		userID = "default"
	}
	report := &Report{
		GeneratedAt: time.Now().UTC(),
		UserID:      userID,
		Overall:     StatusOK,
	}

	probes := []func(ctx context.Context, userID string) (Check, []string){
		r.checkConfig,
		r.checkCredentials,
		r.checkDriveToken,
		r.checkProfile,
		r.checkReachability,
		r.checkBrowser,
	}
	for _, probe := range probes {
		check, recs := probe(ctx, userID)
		report.Checks = append(report.Checks, check)
		report.Recommendations = append(report.Recommendations, recs...)
		report.Overall = worse(report.Overall, check.Status)
	}

	r.logger.Info("diagnostics complete",
		logging.UserHash(userID),
		slog.String("overall", string(report.Overall)),
		slog.Int("checks", len(report.Checks)))
	return report
}

func (r *Runner) checkConfig(_ context.Context, _ string) (Check, []string) {
	started := time.Now()
	check := Check{Name: "config", Status: StatusOK}
	if err := r.cfg.Validate(); err != nil {
		check.Status = StatusFail
		check.Detail = err.Error()
	}
	check.DurationMillis = time.Since(started).Milliseconds()
	if check.Status == StatusFail {
		return check, []string{"fix " + config.FileName + " or run init_user_config to regenerate defaults"}
	}
	return check, nil
}

func (r *Runner) checkCredentials(_ context.Context, _ string) (Check, []string) {
	started := time.Now()
	check := Check{Name: "google_credentials", Status: StatusOK}
	if !r.hasCredentials() {
		check.Status = StatusFail
		check.Detail = "no OAuth client credentials found"
	}
	check.DurationMillis = time.Since(started).Milliseconds()
	if check.Status == StatusFail {
		return check, []string{"run setup_google_credentials with your OAuth client ID and secret"}
	}
	return check, nil
}

func (r *Runner) checkDriveToken(_ context.Context, userID string) (Check, []string) {
	started := time.Now()
	check := Check{Name: "drive_token", Status: StatusOK}
	if !r.hasToken(userID) {
		check.Status = StatusWarn
		check.Detail = fmt.Sprintf("no Drive API token for account %q", userID)
	}
	check.DurationMillis = time.Since(started).Milliseconds()
	if check.Status == StatusWarn {
		return check, []string{"run authenticate_google to sign in"}
	}
	return check, nil
}

func (r *Runner) checkProfile(_ context.Context, userID string) (Check, []string) {
	started := time.Now()
	check := Check{Name: "chrome_profile", Status: StatusOK}

	if r.profiles == nil {
		check.Status = StatusWarn
		check.Detail = "no profile manager configured"
		check.DurationMillis = time.Since(started).Milliseconds()
		return check, nil
	}

	info, err := r.profiles.Info(userID)
	check.DurationMillis = time.Since(started).Milliseconds()
	switch {
	case err != nil:
		check.Status = StatusFail
		check.Detail = err.Error()
		return check, []string{"check selenium.profile.root_dir in the server configuration"}
	case !info.Exists:
		check.Status = StatusWarn
		check.Detail = fmt.Sprintf("no profile directory at %s", info.Dir)
		return check, []string{"the profile is created on the first authenticate_google run"}
	case info.HasToken && !info.TokenValid:
		check.Status = StatusWarn
		check.Detail = "persisted session token has expired"
		return check, []string{"run authenticate_google to sign in again"}
	case !info.HasToken:
		check.Status = StatusWarn
		check.Detail = "profile exists but holds no session token"
		return check, []string{"run authenticate_google to sign in"}
	}
	check.Detail = fmt.Sprintf("profile at %s, %d bytes", info.Dir, info.SizeBytes)
	return check, nil
}

func (r *Runner) checkReachability(ctx context.Context, _ string) (Check, []string) {
	started := time.Now()
	check := Check{Name: "colab_reachability", Status: StatusOK}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.colabURL, nil)
	if err != nil {
		check.Status = StatusFail
		check.Detail = err.Error()
		check.DurationMillis = time.Since(started).Milliseconds()
		return check, []string{"check colab.base_url in the server configuration"}
	}
	resp, err := r.httpClient.Do(req)
	check.DurationMillis = time.Since(started).Milliseconds()
	if err != nil {
		check.Status = StatusFail
		check.Detail = err.Error()
		return check, []string{"check network connectivity to " + r.colabURL}
	}
	defer resp.Body.Close()

	// A login redirect or 4xx still proves the frontend answers; only
	// server errors degrade the check.
	if resp.StatusCode >= 500 {
		check.Status = StatusWarn
		check.Detail = fmt.Sprintf("frontend answered %s", resp.Status)
		return check, nil
	}
	check.Detail = fmt.Sprintf("frontend answered %s", resp.Status)
	return check, nil
}

func (r *Runner) checkBrowser(ctx context.Context, _ string) (Check, []string) {
	started := time.Now()
	check := Check{Name: "browser", Status: StatusOK}
	if err := r.browserProbe(ctx); err != nil {
		check.Status = StatusFail
		check.Detail = err.Error()
	}
	check.DurationMillis = time.Since(started).Milliseconds()
	if check.Status == StatusFail {
		return check, []string{"install Google Chrome, or set selenium.headless when no display is available"}
	}
	return check, nil
}

// worse returns the more severe of two statuses.
func worse(a, b CheckStatus) CheckStatus {
	rank := func(s CheckStatus) int {
		switch s {
		case StatusFail:
			return 2
		case StatusWarn:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
