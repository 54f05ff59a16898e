package colab

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// countingFlow is an AuthFlow fake that counts invocations.
type countingFlow struct {
	calls atomic.Int64
	token *AuthToken
	err   error
}

func (f *countingFlow) Login(_ context.Context, _, _ string) (*AuthToken, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func newTestManager(t *testing.T, flow AuthFlow) *SessionManager {
	t.Helper()
	pm := NewProfileManager(t.TempDir(), true)
	return NewSessionManager(pm, flow, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestEnsureSessionIdentityStable(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	s1, err := m.EnsureSession(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	s2, err := m.EnsureSession(ctx, "alice")
	if err != nil {
		t.Fatalf("second EnsureSession failed: %v", err)
	}

	if s1.UserID != s2.UserID || !s1.CreatedAt.Equal(s2.CreatedAt) || s1.ProfileDir != s2.ProfileDir {
		t.Errorf("session identity changed between calls: %+v vs %+v", s1, s2)
	}
	if s1.Status != StatusUnauthenticated {
		t.Errorf("fresh session should be unauthenticated, got %s", s1.Status)
	}
}

func TestEnsureSessionLoadsPersistedToken(t *testing.T) {
	pm := NewProfileManager(t.TempDir(), true)
	if _, err := pm.Ensure("alice"); err != nil {
		t.Fatal(err)
	}
	if err := pm.SaveToken("alice", &AuthToken{Value: "tok", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	m := NewSessionManager(pm, nil, nil)
	s, err := m.EnsureSession(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusActive {
		t.Errorf("session with valid persisted token should be active, got %s", s.Status)
	}
}

func TestEnsureSessionExpiredPersistedToken(t *testing.T) {
	pm := NewProfileManager(t.TempDir(), true)
	if _, err := pm.Ensure("alice"); err != nil {
		t.Fatal(err)
	}
	if err := pm.SaveToken("alice", &AuthToken{Value: "tok", Expiry: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	m := NewSessionManager(pm, nil, nil)
	s, err := m.EnsureSession(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusExpired {
		t.Errorf("session with expired persisted token should be expired, got %s", s.Status)
	}
}

func TestAuthenticateIdempotentOnActive(t *testing.T) {
	flow := &countingFlow{token: &AuthToken{Value: "fresh", Expiry: time.Now().Add(time.Hour)}}
	m := newTestManager(t, flow)
	ctx := context.Background()

	s, err := m.Authenticate(ctx, "alice")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if s.Status != StatusActive {
		t.Fatalf("expected active after authenticate, got %s", s.Status)
	}
	if got := flow.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one flow invocation, got %d", got)
	}

	// Re-authenticating an active session must not run the flow again.
	s, err = m.Authenticate(ctx, "alice")
	if err != nil {
		t.Fatalf("second Authenticate failed: %v", err)
	}
	if s.Status != StatusActive {
		t.Errorf("expected active, got %s", s.Status)
	}
	if got := flow.calls.Load(); got != 1 {
		t.Errorf("flow re-invoked on active session: %d calls", got)
	}
}

func TestAuthenticatePersistsToken(t *testing.T) {
	flow := &countingFlow{token: &AuthToken{Value: "fresh", Expiry: time.Now().Add(time.Hour)}}
	m := newTestManager(t, flow)

	if _, err := m.Authenticate(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	tok, err := m.Profiles().LoadToken("alice")
	if err != nil {
		t.Fatal(err)
	}
	if tok == nil || tok.Value != "fresh" {
		t.Errorf("token should be persisted to the profile, got %+v", tok)
	}
}

func TestAuthenticateFailureEndsExpired(t *testing.T) {
	flow := &countingFlow{err: errors.New("user closed the window")}
	m := newTestManager(t, flow)

	s, err := m.Authenticate(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected an error from failed authentication")
	}
	if !IsAuthError(err) {
		t.Errorf("expected AuthError, got %T: %v", err, err)
	}
	if s == nil || s.Status != StatusExpired {
		t.Errorf("failed authentication should end expired, got %+v", s)
	}
}

func TestStatusDowngradesWhenProfileRemoved(t *testing.T) {
	flow := &countingFlow{token: &AuthToken{Value: "tok", Expiry: time.Now().Add(time.Hour)}}
	m := newTestManager(t, flow)
	ctx := context.Background()

	s, err := m.Authenticate(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	// Remove the profile directory behind the manager's back.
	if err := os.RemoveAll(s.ProfileDir); err != nil {
		t.Fatal(err)
	}

	s, err = m.Status(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusExpired {
		t.Errorf("status should downgrade to expired when the profile is gone, got %s", s.Status)
	}
}

func TestStatusIsReadOnly(t *testing.T) {
	flow := &countingFlow{token: &AuthToken{Value: "tok"}}
	m := newTestManager(t, flow)

	if _, err := m.Status(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if got := flow.calls.Load(); got != 0 {
		t.Errorf("Status must never invoke the auth flow, got %d calls", got)
	}
	// Status for an unknown user does not create a profile either.
	if m.Profiles().Exists("alice") {
		t.Error("Status must not create profile directories")
	}
}

func TestClearProfileResetsLifecycle(t *testing.T) {
	flow := &countingFlow{token: &AuthToken{Value: "tok", Expiry: time.Now().Add(time.Hour)}}
	m := newTestManager(t, flow)
	ctx := context.Background()

	if _, err := m.Authenticate(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := m.ClearProfile(ctx, "alice"); err != nil {
		t.Fatalf("ClearProfile failed: %v", err)
	}

	s, err := m.Status(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusCleared {
		t.Errorf("expected cleared after ClearProfile, got %s", s.Status)
	}

	// The next EnsureSession starts over from unauthenticated.
	s, err = m.EnsureSession(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusUnauthenticated {
		t.Errorf("expected unauthenticated after clear+ensure, got %s", s.Status)
	}
}

func TestClearProfileWithoutProfile(t *testing.T) {
	m := newTestManager(t, nil)
	if err := m.ClearProfile(context.Background(), "nobody"); err != nil {
		t.Errorf("ClearProfile without a profile should be a no-op, got %v", err)
	}
}

func TestOptimizeKeepsStatus(t *testing.T) {
	flow := &countingFlow{token: &AuthToken{Value: "tok", Expiry: time.Now().Add(time.Hour)}}
	m := newTestManager(t, flow)
	ctx := context.Background()

	if _, err := m.Authenticate(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OptimizeProfile(ctx, "alice"); err != nil {
		t.Fatalf("OptimizeProfile failed: %v", err)
	}

	s, err := m.Status(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusActive {
		t.Errorf("optimization must not change session status, got %s", s.Status)
	}
}
