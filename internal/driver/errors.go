package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cogwheel/mcp-colab/internal/colab"
)

// ErrLoginRequired signals that the browser session lacks a valid
// Google sign-in. The execution gateway converts it into a user-scoped
// authentication error.
var ErrLoginRequired = errors.New("google sign-in required")

// errorHints maps low-level failure fragments to actionable hints. The
// raw chromedp and CDP errors are too cryptic to hand to assistants.
var errorHints = map[string]string{
	"executable file not found": "Chrome is not installed or not on PATH; install Google Chrome or Chromium",
	"cannot create user data":   "the profile directory is not writable; check permissions or run clear_chrome_profile",
	"websocket url timeout":     "Chrome started but DevTools did not come up; another process may be using the profile",
	"context canceled":          "the operation was canceled before the page responded",
	"net::err_internet":         "the browser has no network connectivity",
	"net::err_name_not_resolved": "the Colab host did not resolve; check network and colab.base_url",
	"net::err_connection":       "the browser could not reach Colab; check network connectivity",
}

// recoverablePatterns are failure fragments worth retrying: the browser
// or tab hiccuped but a fresh attempt can succeed.
var recoverablePatterns = []string{
	"websocket",
	"connection reset",
	"connection refused",
	"target closed",
	"session closed",
	"browser closed",
	"page load",
	"net::err_connection",
	"net::err_timed_out",
	"net::err_network_changed",
	"runtime disconnected",
}

// classifyError wraps a driver failure so the execution gateway can
// decide whether to retry. Context errors pass through untouched: the
// gateway maps deadlines to timeouts itself.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := strings.ToLower(err.Error())
	for pattern, hint := range errorHints {
		if strings.Contains(msg, pattern) {
			err = fmt.Errorf("%w (%s)", err, hint)
			break
		}
	}
	for _, pattern := range recoverablePatterns {
		if strings.Contains(msg, pattern) {
			return colab.NewDriverError(op, true, err)
		}
	}
	return colab.NewDriverError(op, false, err)
}

// isLoginRedirect reports whether the browser ended up on a Google
// sign-in page instead of the requested notebook.
func isLoginRedirect(location string) bool {
	return strings.Contains(location, "accounts.google.com") ||
		strings.Contains(location, "ServiceLogin") ||
		strings.Contains(location, "/signin")
}
