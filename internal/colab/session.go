package colab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AuthFlow runs the interactive browser login for a profile and returns
// the token it obtained. Implementations drive a real browser; tests
// substitute fakes.
type AuthFlow interface {
	Login(ctx context.Context, userID, profileDir string) (*AuthToken, error)
}

// SessionManager owns the user sessions. It guarantees one session
// record per user, keeps the state machine honest and persists tokens
// through the profile manager.
type SessionManager struct {
	profiles *ProfileManager
	flow     AuthFlow
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

// sessionRecord is the live, manager-owned state for one user. The
// manager's mutex guards the session fields; authMu additionally
// serializes interactive authentication so concurrent Authenticate
// calls run the flow at most once.
type sessionRecord struct {
	session Session
	authMu  sync.Mutex
}

// NewSessionManager creates a session manager. flow may be nil when the
// caller never authenticates (read-only inspection tooling).
func NewSessionManager(profiles *ProfileManager, flow AuthFlow, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		profiles: profiles,
		flow:     flow,
		logger:   logger,
		sessions: make(map[string]*sessionRecord),
	}
}

// Profiles exposes the profile manager backing this session manager.
func (m *SessionManager) Profiles() *ProfileManager { return m.profiles }

// EnsureSession returns the user's session, creating the record (and,
// when configured, the profile directory) on first use. Repeated calls
// return the same session identity. The persisted token is loaded and
// validated; the resulting status is one of unauthenticated, active or
// expired.
func (m *SessionManager) EnsureSession(ctx context.Context, userID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[userID]
	if ok && rec.session.Status != StatusCleared {
		rec.session.LastUsedAt = time.Now()
		m.revalidateLocked(rec)
		return rec.snapshot(), nil
	}

	dir, err := m.profiles.Ensure(userID)
	if err != nil {
		return nil, err
	}
	tok, err := m.profiles.LoadToken(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	status := StatusUnauthenticated
	switch {
	case tok.Valid():
		status = StatusActive
	case tok != nil:
		// A token was persisted once but no longer validates.
		status = StatusExpired
	}

	if rec == nil {
		rec = &sessionRecord{}
		m.sessions[userID] = rec
	}
	rec.session = Session{
		UserID:     userID,
		ProfileDir: dir,
		Token:      tok,
		CreatedAt:  now,
		LastUsedAt: now,
		Status:     status,
	}
	m.logger.Debug("session established",
		"user_id", userID,
		"status", string(status),
		"profile_dir", dir)
	return rec.snapshot(), nil
}

// Authenticate brings the user's session to the active state. When the
// session is already active with a valid token the call returns
// immediately without re-running the login flow. Otherwise the
// interactive flow runs (the session passes through the transient
// authenticating state), the obtained token is persisted into the
// profile, and the session ends active. On failure the session ends
// expired and an AuthError is returned. Callers only ever observe
// active or expired.
func (m *SessionManager) Authenticate(ctx context.Context, userID string) (*Session, error) {
	if _, err := m.EnsureSession(ctx, userID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	rec := m.sessions[userID]
	if rec.session.Status == StatusActive && rec.session.Token.Valid() {
		rec.session.LastUsedAt = time.Now()
		snap := rec.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	// Serialize the interactive flow per user. Whoever loses the race
	// re-checks and piggybacks on the winner's result.
	rec.authMu.Lock()
	defer rec.authMu.Unlock()

	m.mu.Lock()
	if rec.session.Status == StatusActive && rec.session.Token.Valid() {
		snap := rec.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	rec.session.Status = StatusAuthenticating
	profileDir := rec.session.ProfileDir
	m.mu.Unlock()

	if m.flow == nil {
		m.setStatus(rec, StatusExpired)
		return nil, NewAuthError(userID, "no authentication flow configured")
	}

	m.logger.Info("starting interactive authentication", "user_id", userID)
	tok, err := m.flow.Login(ctx, userID, profileDir)
	if err != nil || !tok.Valid() {
		m.setStatus(rec, StatusExpired)
		authErr := NewAuthError(userID, "interactive login did not produce a valid token")
		authErr.Err = err
		snap := m.snapshotFor(rec)
		m.logger.Warn("authentication failed", "user_id", userID, "error", err)
		return snap, authErr
	}

	if err := m.profiles.SaveToken(userID, tok); err != nil {
		m.setStatus(rec, StatusExpired)
		return m.snapshotFor(rec), NewAuthError(userID, fmt.Sprintf("failed to persist token: %v", err))
	}

	m.mu.Lock()
	rec.session.Token = tok
	rec.session.Status = StatusActive
	rec.session.LastUsedAt = time.Now()
	snap := rec.snapshot()
	m.mu.Unlock()
	m.logger.Info("authentication succeeded", "user_id", userID)
	return snap, nil
}

// Status revalidates and returns the user's session without ever
// triggering authentication. For a user with no in-memory record it
// reports what the disk says (profile present, token validity) without
// creating one.
func (m *SessionManager) Status(ctx context.Context, userID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.sessions[userID]; ok {
		m.revalidateLocked(rec)
		return rec.snapshot(), nil
	}

	// No record yet: derive a read-only view from disk state.
	dir, err := m.profiles.Dir(userID)
	if err != nil {
		return nil, err
	}
	snap := &Session{UserID: userID, ProfileDir: dir, Status: StatusUnauthenticated}
	if !m.profiles.Exists(userID) {
		return snap, nil
	}
	tok, err := m.profiles.LoadToken(userID)
	if err != nil {
		return nil, err
	}
	snap.Token = tok
	switch {
	case tok.Valid():
		snap.Status = StatusActive
	case tok != nil:
		snap.Status = StatusExpired
	}
	return snap, nil
}

// ClearProfile deletes the user's profile directory and persisted token
// and marks the session cleared. Clearing when nothing exists is a safe
// no-op that still ends in the cleared state.
func (m *SessionManager) ClearProfile(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.profiles.Clear(userID); err != nil {
		return err
	}
	rec, ok := m.sessions[userID]
	if !ok {
		rec = &sessionRecord{session: Session{UserID: userID, CreatedAt: time.Now()}}
		m.sessions[userID] = rec
	}
	rec.session.Token = nil
	rec.session.Status = StatusCleared
	rec.session.LastUsedAt = time.Now()
	m.logger.Info("profile cleared", "user_id", userID)
	return nil
}

// OptimizeProfile removes cache and temporary data from the user's
// profile. Login state is preserved and the session status does not
// change.
func (m *SessionManager) OptimizeProfile(ctx context.Context, userID string) (*OptimizeReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report, err := m.profiles.Optimize(userID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if rec, ok := m.sessions[userID]; ok {
		rec.session.LastUsedAt = time.Now()
	}
	m.mu.Unlock()
	m.logger.Info("profile optimized",
		"user_id", userID,
		"bytes_reclaimed", report.BytesReclaimed,
		"paths_removed", len(report.RemovedPaths))
	return report, nil
}

// Touch bumps the session's last-used time. The execution gateway calls
// it when an execution completes.
func (m *SessionManager) Touch(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[userID]; ok {
		rec.session.LastUsedAt = time.Now()
	}
}

// List returns snapshots of all known sessions, for diagnostics.
func (m *SessionManager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.snapshot())
	}
	return out
}

// revalidateLocked enforces the active-session invariant. Callers hold
// m.mu.
func (m *SessionManager) revalidateLocked(rec *sessionRecord) {
	if rec.session.Status != StatusActive {
		return
	}
	if !rec.session.Token.Valid() || !m.profiles.Exists(rec.session.UserID) {
		rec.session.Status = StatusExpired
		m.logger.Warn("session downgraded to expired",
			"user_id", rec.session.UserID,
			"token_valid", rec.session.Token.Valid(),
			"profile_exists", m.profiles.Exists(rec.session.UserID))
	}
}

func (m *SessionManager) setStatus(rec *sessionRecord, status SessionStatus) {
	m.mu.Lock()
	rec.session.Status = status
	rec.session.LastUsedAt = time.Now()
	m.mu.Unlock()
}

func (m *SessionManager) snapshotFor(rec *sessionRecord) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return rec.snapshot()
}

// snapshot copies the live session. The token is deep-copied so callers
// can never mutate manager state through the returned value.
func (r *sessionRecord) snapshot() *Session {
	snap := r.session
	if r.session.Token != nil {
		tok := *r.session.Token
		snap.Token = &tok
	}
	return &snap
}
