package colab

import (
	"errors"
	"fmt"
	"time"
)

// ConfigError reports invalid or missing configuration. It is never
// retried; the caller has to fix the configuration first.
type ConfigError struct {
	// Field names the offending configuration key, empty when the
	// problem is not tied to a single key.
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError for the given key.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// AuthError reports that authentication is required or failed. It
// carries a remediation hint naming the tool the caller should invoke
// next, so assistants can recover without guessing.
type AuthError struct {
	UserID      string
	Reason      string
	Remediation string
	Err         error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("authentication error for user %q: %s", e.UserID, e.Reason)
	if e.Remediation != "" {
		msg += " (" + e.Remediation + ")"
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError with the standard remediation hint.
func NewAuthError(userID, reason string) *AuthError {
	return &AuthError{
		UserID:      userID,
		Reason:      reason,
		Remediation: "run authenticate_google to sign in again",
	}
}

// DriverError reports a browser-driver failure. Recoverable failures
// (lost tab, stale handle, navigation hiccup) are retried by the
// execution gateway up to the configured limit; unrecoverable ones are
// surfaced immediately.
type DriverError struct {
	// Op names the driver operation that failed, e.g. "executeCell".
	Op          string
	Recoverable bool
	Err         error
}

func (e *DriverError) Error() string {
	kind := "driver error"
	if e.Recoverable {
		kind = "transient driver error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s in %s: %v", kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s in %s", kind, e.Op)
}

func (e *DriverError) Unwrap() error { return e.Err }

// NewDriverError wraps a driver failure.
func NewDriverError(op string, recoverable bool, err error) *DriverError {
	return &DriverError{Op: op, Recoverable: recoverable, Err: err}
}

// TimeoutError reports that an operation's deadline elapsed. Timeouts
// are always surfaced distinctly and never retried: the user's code may
// still be running in the abandoned runtime.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Limit)
}

// NewTimeoutError builds a TimeoutError for the given operation.
func NewTimeoutError(op string, limit time.Duration) *TimeoutError {
	return &TimeoutError{Op: op, Limit: limit}
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsRecoverable reports whether err is a DriverError marked
// recoverable. Timeouts and auth errors are never recoverable.
func IsRecoverable(err error) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Recoverable
	}
	return false
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
