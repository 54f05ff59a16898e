package colab

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		isAuth      bool
		isTimeout   bool
		isConfig    bool
		recoverable bool
	}{
		{
			name:   "auth error",
			err:    NewAuthError("alice", "token expired"),
			isAuth: true,
		},
		{
			name:      "timeout error",
			err:       NewTimeoutError("executeCell", 30*time.Second),
			isTimeout: true,
		},
		{
			name:     "config error",
			err:      NewConfigError("colab.max_retries", "must be >= 0"),
			isConfig: true,
		},
		{
			name:        "recoverable driver error",
			err:         NewDriverError("openNotebook", true, errors.New("tab crashed")),
			recoverable: true,
		},
		{
			name: "unrecoverable driver error",
			err:  NewDriverError("executeCell", false, errors.New("NameError: x")),
		},
		{
			name:   "wrapped auth error",
			err:    fmt.Errorf("tool failed: %w", NewAuthError("bob", "no token")),
			isAuth: true,
		},
		{
			name:        "wrapped recoverable driver error",
			err:         fmt.Errorf("attempt 1: %w", NewDriverError("executeCell", true, nil)),
			recoverable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.isAuth {
				t.Errorf("IsAuthError = %v, want %v", got, tt.isAuth)
			}
			if got := IsTimeout(tt.err); got != tt.isTimeout {
				t.Errorf("IsTimeout = %v, want %v", got, tt.isTimeout)
			}
			if got := IsConfigError(tt.err); got != tt.isConfig {
				t.Errorf("IsConfigError = %v, want %v", got, tt.isConfig)
			}
			if got := IsRecoverable(tt.err); got != tt.recoverable {
				t.Errorf("IsRecoverable = %v, want %v", got, tt.recoverable)
			}
		})
	}
}

func TestAuthErrorCarriesRemediation(t *testing.T) {
	err := NewAuthError("alice", "token expired")
	if !strings.Contains(err.Error(), "authenticate_google") {
		t.Errorf("AuthError message should name the remediation tool, got %q", err.Error())
	}
}

func TestDriverErrorUnwrap(t *testing.T) {
	cause := errors.New("element not found")
	err := NewDriverError("executeCell", true, cause)
	if !errors.Is(err, cause) {
		t.Error("DriverError should unwrap to its cause")
	}
}

func TestTimeoutNeverRecoverable(t *testing.T) {
	err := NewTimeoutError("executeCell", time.Second)
	if IsRecoverable(err) {
		t.Error("timeouts must never be classified recoverable")
	}
}
