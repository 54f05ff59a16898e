package colab

import (
	"time"
)

// SessionStatus represents the lifecycle state of a user session.
type SessionStatus string

const (
	// StatusUnauthenticated means a profile exists (or was just created)
	// but no valid token has been obtained yet.
	StatusUnauthenticated SessionStatus = "unauthenticated"

	// StatusAuthenticating is the transient state while the interactive
	// login flow runs. It is never returned to callers.
	StatusAuthenticating SessionStatus = "authenticating"

	// StatusActive means the session holds a non-expired token and its
	// profile directory exists on disk.
	StatusActive SessionStatus = "active"

	// StatusExpired means the token expired or the profile directory
	// disappeared; re-authentication is required.
	StatusExpired SessionStatus = "expired"

	// StatusCleared means the profile and token were deleted via
	// ClearProfile. The next EnsureSession starts over.
	StatusCleared SessionStatus = "cleared"
)

// Session is a snapshot of a user's automation session. Instances
// returned by SessionManager are copies; the manager owns the live
// record and all mutations go through it.
type Session struct {
	// UserID identifies the owner. "default" for single-user stdio use.
	UserID string `json:"user_id"`

	// ProfileDir is the absolute path of the Chrome profile directory
	// backing this session.
	ProfileDir string `json:"profile_dir"`

	// Token is the persisted authentication token, nil when none was
	// obtained yet or after the profile was cleared.
	Token *AuthToken `json:"-"`

	// CreatedAt is when the session record was first established. It is
	// stable across EnsureSession calls and serves as the session
	// identity together with UserID.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is bumped by every operation that touches the session.
	LastUsedAt time.Time `json:"last_used_at"`

	// Status is the session state at snapshot time.
	Status SessionStatus `json:"status"`
}

// AuthToken is the opaque token persisted inside the profile directory.
// The session layer never interprets Value; it only checks expiry.
type AuthToken struct {
	// Value is the opaque token material.
	Value string `json:"value"`

	// Expiry is when the token stops being valid. The zero value means
	// the token does not expire on its own.
	Expiry time.Time `json:"expiry,omitzero"`

	// ObtainedAt records when the token was acquired.
	ObtainedAt time.Time `json:"obtained_at,omitzero"`
}

// Valid reports whether the token exists and has not expired.
func (t *AuthToken) Valid() bool {
	if t == nil || t.Value == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return time.Now().Before(t.Expiry)
}

// RuntimeType identifies the Colab hardware accelerator of a notebook
// runtime.
type RuntimeType string

const (
	RuntimeCPU RuntimeType = "cpu"
	RuntimeGPU RuntimeType = "gpu"
	RuntimeTPU RuntimeType = "tpu"
)

// RuntimeTypes lists the runtime types Colab offers.
func RuntimeTypes() []RuntimeType {
	return []RuntimeType{RuntimeCPU, RuntimeGPU, RuntimeTPU}
}

// RuntimeStatus represents the connection state of a notebook runtime.
type RuntimeStatus string

const (
	RuntimeDisconnected RuntimeStatus = "disconnected"
	RuntimeConnecting   RuntimeStatus = "connecting"
	RuntimeConnected    RuntimeStatus = "connected"
	RuntimeError        RuntimeStatus = "error"
)
