package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/cogwheel/mcp-colab/internal/colab"
	"github.com/cogwheel/mcp-colab/internal/config"
	"github.com/cogwheel/mcp-colab/internal/driver"
	"github.com/cogwheel/mcp-colab/internal/executor"
	"github.com/cogwheel/mcp-colab/internal/google"
	"github.com/cogwheel/mcp-colab/internal/instrumentation"
	"github.com/cogwheel/mcp-colab/internal/notebooks"
)

// runtimeCleanupInterval is how often the runtime registry prunes idle
// runtimes.
const runtimeCleanupInterval = 5 * time.Minute

// executionStack is one user's browser pipeline: a Chrome instance bound
// to the user's profile plus the gateway that drives it.
type executionStack struct {
	driver  *driver.ChromeDriver
	gateway *executor.Gateway
}

// ServerContext holds the shared state for the MCP server: configuration,
// the Colab session and runtime managers, per-user execution stacks and
// per-account notebook store clients.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg      *config.Config
	sessions *colab.SessionManager
	runtimes *colab.RuntimeRegistry

	notebookClients map[string]notebooks.Store // Maps account name to notebook store
	stacks          map[string]*executionStack // Maps user ID to browser pipeline
	tokenProvider   google.TokenProvider       // Set in HTTP mode, nil for file-based tokens

	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger
	logger      *slog.Logger
	mu          sync.RWMutex
	shutdown    bool
}

// NewServerContext creates a new server context using file-based Google
// tokens (the stdio transport).
func NewServerContext(ctx context.Context, cfg *config.Config) (*ServerContext, error) {
	return NewServerContextWithProvider(ctx, cfg, nil)
}

// NewServerContextWithProvider creates a new server context with a custom
// token provider. The HTTP transport passes the OAuth token store here so
// notebook clients act with each caller's own Google credentials. A nil
// provider falls back to file-based tokens.
func NewServerContextWithProvider(ctx context.Context, cfg *config.Config, provider google.TokenProvider) (*ServerContext, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	shutdownCtx, cancel := context.WithCancel(ctx)
	logger := slog.Default()

	profileRoot, err := cfg.ProfileRoot()
	if err != nil {
		cancel()
		return nil, err
	}
	profiles := colab.NewProfileManager(profileRoot, cfg.Selenium.Profile.AutoCreate)
	flow := driver.NewGoogleLoginFlow(driver.FromConfig(cfg, ""), 0)
	sessions := colab.NewSessionManager(profiles, flow, logger)
	runtimes := colab.NewRuntimeRegistry(cfg.MaxIdle(), runtimeCleanupInterval, logger)

	// Try to create a default notebook client, but don't fail if the token
	// is missing. Clients are lazily initialized when first needed.
	notebookClients := make(map[string]notebooks.Store)
	if provider == nil && notebooks.HasToken() {
		client, err := notebooks.NewClient(shutdownCtx)
		if err != nil {
			logger.Warn("failed to create notebook client for default account", "error", err)
		} else {
			notebookClients["default"] = client
		}
	}

	return &ServerContext{
		ctx:             shutdownCtx,
		cancel:          cancel,
		cfg:             cfg,
		sessions:        sessions,
		runtimes:        runtimes,
		notebookClients: notebookClients,
		stacks:          make(map[string]*executionStack),
		tokenProvider:   provider,
		logger:          logger,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Config returns the server configuration
func (sc *ServerContext) Config() *config.Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg
}

// ReplaceConfig swaps in a hot-reloaded configuration. New browser
// pipelines and notebook clients pick up the fresh settings; running
// executions keep the options they started with.
func (sc *ServerContext) ReplaceConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cfg = cfg
}

// Sessions returns the Colab session manager
func (sc *ServerContext) Sessions() *colab.SessionManager {
	return sc.sessions
}

// Runtimes returns the runtime registry
func (sc *ServerContext) Runtimes() *colab.RuntimeRegistry {
	return sc.runtimes
}

// TokenProvider returns the Google token provider, or nil when the
// server uses file-based tokens.
func (sc *ServerContext) TokenProvider() google.TokenProvider {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.tokenProvider
}

// NotebookClientForAccount returns the notebook store for a specific
// account. Creates and caches the client if it doesn't exist yet.
// Returns nil if the account has no token.
func (sc *ServerContext) NotebookClientForAccount(account string) notebooks.Store {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if client, ok := sc.notebookClients[account]; ok {
		return client
	}

	var client *notebooks.Client
	var err error
	if sc.tokenProvider != nil {
		token, tokErr := sc.tokenProvider.GetTokenForAccount(sc.ctx, account)
		if tokErr != nil {
			return nil
		}
		client, err = notebooks.NewClientWithTokenSource(sc.ctx, account, oauth2.StaticTokenSource(token))
	} else {
		if !notebooks.HasTokenForAccount(account) {
			return nil
		}
		client, err = notebooks.NewClientForAccount(sc.ctx, account)
	}
	if err != nil {
		sc.logger.Warn("failed to create notebook client",
			"account", account,
			"error", err)
		return nil
	}

	sc.notebookClients[account] = client
	return client
}

// NotebookClient returns the notebook store for the default account
func (sc *ServerContext) NotebookClient() notebooks.Store {
	return sc.NotebookClientForAccount("default")
}

// SetNotebookClientForAccount sets the notebook store for a specific
// account. Tests inject fakes here.
func (sc *ServerContext) SetNotebookClientForAccount(account string, store notebooks.Store) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.notebookClients[account] = store
}

// SetNotebookClient sets the notebook store for the default account
func (sc *ServerContext) SetNotebookClient(store notebooks.Store) {
	sc.SetNotebookClientForAccount("default", store)
}

// HasTokenForAccount reports whether Google API credentials exist for the
// account, through the token provider when one is set.
func (sc *ServerContext) HasTokenForAccount(account string) bool {
	sc.mu.RLock()
	provider := sc.tokenProvider
	sc.mu.RUnlock()
	if provider != nil {
		return provider.HasTokenForAccount(account)
	}
	return notebooks.HasTokenForAccount(account)
}

// GatewayFor returns the execution gateway for the session's user,
// creating the user's browser pipeline on first use. The Chrome instance
// is bound to the session's profile directory so executions reuse the
// authenticated browser state.
func (sc *ServerContext) GatewayFor(session *colab.Session) *executor.Gateway {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if stack, ok := sc.stacks[session.UserID]; ok {
		return stack.gateway
	}

	drv := driver.NewChromeDriver(driver.FromConfig(sc.cfg, session.ProfileDir))
	opts := executor.FromConfig(sc.cfg)
	opts.Logger = sc.logger
	gateway := executor.New(drv, sc.sessions, sc.runtimes, opts)

	sc.stacks[session.UserID] = &executionStack{driver: drv, gateway: gateway}
	return gateway
}

// CloseStackFor tears down the user's browser pipeline, if one exists.
// Clearing a profile calls this so the next execution starts a fresh
// browser.
func (sc *ServerContext) CloseStackFor(userID string) error {
	sc.mu.Lock()
	stack, ok := sc.stacks[userID]
	if ok {
		delete(sc.stacks, userID)
	}
	sc.mu.Unlock()

	if !ok {
		return nil
	}
	return stack.driver.Close()
}

// SetMetrics sets the metrics recorder for instrumented tool handlers
func (sc *ServerContext) SetMetrics(metrics *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = metrics
}

// Metrics returns the metrics recorder, or nil when not configured
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// SetAuditLogger sets the audit logger for instrumented tool handlers
func (sc *ServerContext) SetAuditLogger(auditLogger *instrumentation.AuditLogger) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.auditLogger = auditLogger
}

// AuditLogger returns the audit logger, or nil when not configured
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.auditLogger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context: all browser pipelines are
// closed and the runtime registry's cleanup loop stops.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	stacks := sc.stacks
	sc.stacks = make(map[string]*executionStack)
	sc.mu.Unlock()

	var errs []error
	for userID, stack := range stacks {
		if err := stack.driver.Close(); err != nil {
			sc.logger.Warn("failed to close browser pipeline",
				"user_id", userID,
				"error", err)
			errs = append(errs, err)
		}
	}

	sc.runtimes.Stop()
	sc.cancel()
	return errors.Join(errs...)
}
