package colab

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxIdle is how long a notebook runtime may sit without
// activity before it counts as idle and becomes eligible for cleanup.
const DefaultMaxIdle = 30 * time.Minute

// RuntimeSession tracks the connection state of one notebook's Colab
// runtime. Values handed out by the registry are copies.
type RuntimeSession struct {
	NotebookID string        `json:"notebook_id"`
	SessionID  string        `json:"session_id,omitempty"`
	Type       RuntimeType   `json:"runtime_type"`
	Status     RuntimeStatus `json:"status"`

	// ConnectedAt is zero until the runtime first reaches connected.
	ConnectedAt  time.Time `json:"connected_at,omitzero"`
	LastActivity time.Time `json:"last_activity"`

	// ErrorMessage holds the last failure when Status is error.
	ErrorMessage string `json:"error_message,omitempty"`
}

// RuntimeInfo is the diagnostic snapshot returned for a runtime
// session.
type RuntimeInfo struct {
	NotebookID         string  `json:"notebook_id"`
	SessionID          string  `json:"session_id,omitempty"`
	Status             string  `json:"status"`
	RuntimeType        string  `json:"runtime_type"`
	IdleSeconds        float64 `json:"idle_time"`
	ConnectionDuration float64 `json:"connection_duration"`
	IsIdle             bool    `json:"is_idle"`
	IsConnected        bool    `json:"is_connected"`
}

// RuntimeRegistry tracks the notebook runtimes a server is driving. It
// prunes idle runtimes in the background and keeps per-notebook
// execution start times so leaked executions can be reaped.
type RuntimeRegistry struct {
	maxIdle time.Duration
	logger  *slog.Logger

	mu         sync.RWMutex
	sessions   map[string]*RuntimeSession
	executions map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewRuntimeRegistry creates a registry. maxIdle <= 0 falls back to
// DefaultMaxIdle. When cleanupInterval > 0 a background loop prunes
// idle runtimes until Stop is called.
func NewRuntimeRegistry(maxIdle, cleanupInterval time.Duration, logger *slog.Logger) *RuntimeRegistry {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &RuntimeRegistry{
		maxIdle:    maxIdle,
		logger:     logger,
		sessions:   make(map[string]*RuntimeSession),
		executions: make(map[string]time.Time),
		done:       make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go r.cleanupLoop(cleanupInterval)
	}
	return r
}

// Stop terminates the background cleanup loop. Safe to call more than
// once.
func (r *RuntimeRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *RuntimeRegistry) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.CleanupIdle(); n > 0 {
				r.logger.Info("cleaned up idle runtimes", "count", n)
			}
			// Anything still marked running past the idle limit leaked
			// its bookkeeping; the gateway bounds real executions far
			// below that.
			if n := r.CleanupTimedOutExecutions(r.maxIdle); n > 0 {
				r.logger.Warn("reaped leaked execution records", "count", n)
			}
		case <-r.done:
			return
		}
	}
}

// Create registers a new runtime session for the notebook in the
// disconnected state. An existing session for the same notebook is
// replaced.
func (r *RuntimeRegistry) Create(notebookID string, rt RuntimeType) *RuntimeSession {
	if rt == "" {
		rt = RuntimeCPU
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &RuntimeSession{
		NotebookID:   notebookID,
		Type:         rt,
		Status:       RuntimeDisconnected,
		LastActivity: time.Now(),
	}
	r.sessions[notebookID] = s
	return cloneRuntime(s)
}

// Get returns the runtime session for the notebook, or nil.
func (r *RuntimeRegistry) Get(notebookID string) *RuntimeSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneRuntime(r.sessions[notebookID])
}

// GetOrCreate returns the existing session or creates one. The runtime
// type of an existing session is preserved; rt only applies to newly
// created sessions.
func (r *RuntimeRegistry) GetOrCreate(notebookID string, rt RuntimeType) *RuntimeSession {
	r.mu.Lock()
	if s, ok := r.sessions[notebookID]; ok {
		out := cloneRuntime(s)
		r.mu.Unlock()
		return out
	}
	r.mu.Unlock()
	return r.Create(notebookID, rt)
}

// UpdateStatus transitions the notebook's runtime state. Reaching
// connected stamps ConnectedAt; an error status records errMsg. Unknown
// notebooks are ignored.
func (r *RuntimeRegistry) UpdateStatus(notebookID string, status RuntimeStatus, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[notebookID]
	if !ok {
		return
	}
	s.Status = status
	s.LastActivity = time.Now()
	switch status {
	case RuntimeConnected:
		if s.ConnectedAt.IsZero() {
			s.ConnectedAt = time.Now()
		}
		s.ErrorMessage = ""
	case RuntimeError:
		s.ErrorMessage = errMsg
	}
}

// SetSessionID records the Colab-side session identifier once the
// runtime is known.
func (r *RuntimeRegistry) SetSessionID(notebookID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[notebookID]; ok {
		s.SessionID = sessionID
	}
}

// MarkActive bumps the notebook's last-activity time.
func (r *RuntimeRegistry) MarkActive(notebookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[notebookID]; ok {
		s.LastActivity = time.Now()
	}
}

// IsIdle reports whether the notebook's runtime has been inactive
// longer than the idle limit. Unknown notebooks count as idle.
func (r *RuntimeRegistry) IsIdle(notebookID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[notebookID]
	if !ok {
		return true
	}
	return time.Since(s.LastActivity) > r.maxIdle
}

// IsConnected reports whether the runtime is connected and not idle.
func (r *RuntimeRegistry) IsConnected(notebookID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[notebookID]
	if !ok {
		return false
	}
	return s.Status == RuntimeConnected && time.Since(s.LastActivity) <= r.maxIdle
}

// ShouldReconnect decides whether an execution needs to (re)connect the
// runtime first. True for disconnected, errored or idle runtimes; false
// when healthily connected or when the notebook was never registered.
func (r *RuntimeRegistry) ShouldReconnect(notebookID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[notebookID]
	if !ok {
		return false
	}
	if s.Status == RuntimeConnected && time.Since(s.LastActivity) <= r.maxIdle {
		return false
	}
	return true
}

// CleanupIdle removes all idle runtime sessions and returns how many
// were removed.
func (r *RuntimeRegistry) CleanupIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if time.Since(s.LastActivity) > r.maxIdle {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Remove deletes the notebook's runtime session, reporting whether one
// existed.
func (r *RuntimeRegistry) Remove(notebookID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[notebookID]; !ok {
		return false
	}
	delete(r.sessions, notebookID)
	return true
}

// Info returns the diagnostic snapshot for the notebook, or nil when it
// is unknown.
func (r *RuntimeRegistry) Info(notebookID string) *RuntimeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[notebookID]
	if !ok {
		return nil
	}
	return r.infoLocked(s)
}

// List returns diagnostic snapshots for all runtime sessions.
func (r *RuntimeRegistry) List() []*RuntimeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RuntimeInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, r.infoLocked(s))
	}
	return out
}

// ActiveCount returns the number of connected, non-idle runtimes.
func (r *RuntimeRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.Status == RuntimeConnected && time.Since(s.LastActivity) <= r.maxIdle {
			n++
		}
	}
	return n
}

// HardwareInfo describes the notebook's runtime alongside what Colab
// offers, backing the get_runtime_info tool.
type HardwareInfo struct {
	NotebookID      string   `json:"notebook_id"`
	RuntimeType     string   `json:"runtime_type"`
	Status          string   `json:"status"`
	AvailableTypes  []string `json:"available_types"`
	RecommendedType string   `json:"recommended_type"`
}

// Hardware returns runtime hardware details for the notebook, or nil
// when the notebook has no registered runtime.
func (r *RuntimeRegistry) Hardware(notebookID string) *HardwareInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[notebookID]
	if !ok {
		return nil
	}
	available := make([]string, 0, 3)
	for _, t := range RuntimeTypes() {
		available = append(available, string(t))
	}
	recommended := string(s.Type)
	if recommended == "" {
		recommended = string(RuntimeCPU)
	}
	return &HardwareInfo{
		NotebookID:      notebookID,
		RuntimeType:     string(s.Type),
		Status:          string(s.Status),
		AvailableTypes:  available,
		RecommendedType: recommended,
	}
}

// MarkExecutionStart records that an execution began on the notebook.
func (r *RuntimeRegistry) MarkExecutionStart(notebookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[notebookID] = time.Now()
	if s, ok := r.sessions[notebookID]; ok {
		s.LastActivity = time.Now()
	}
}

// MarkExecutionEnd clears the execution bookkeeping for the notebook.
func (r *RuntimeRegistry) MarkExecutionEnd(notebookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executions, notebookID)
	if s, ok := r.sessions[notebookID]; ok {
		s.LastActivity = time.Now()
	}
}

// ExecutionRunningSince returns the start time of the notebook's
// in-flight execution, if any.
func (r *RuntimeRegistry) ExecutionRunningSince(notebookID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.executions[notebookID]
	return t, ok
}

// CleanupTimedOutExecutions drops execution bookkeeping older than
// limit. The supervising timer in the gateway normally clears entries;
// this reaps the ones a crashed call path leaked. Returns the count.
func (r *RuntimeRegistry) CleanupTimedOutExecutions(limit time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, started := range r.executions {
		if time.Since(started) > limit {
			delete(r.executions, id)
			removed++
		}
	}
	return removed
}

func (r *RuntimeRegistry) infoLocked(s *RuntimeSession) *RuntimeInfo {
	idle := time.Since(s.LastActivity)
	var connDur time.Duration
	if !s.ConnectedAt.IsZero() {
		connDur = time.Since(s.ConnectedAt)
	}
	return &RuntimeInfo{
		NotebookID:         s.NotebookID,
		SessionID:          s.SessionID,
		Status:             string(s.Status),
		RuntimeType:        string(s.Type),
		IdleSeconds:        idle.Seconds(),
		ConnectionDuration: connDur.Seconds(),
		IsIdle:             idle > r.maxIdle,
		IsConnected:        s.Status == RuntimeConnected && idle <= r.maxIdle,
	}
}

func cloneRuntime(s *RuntimeSession) *RuntimeSession {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
