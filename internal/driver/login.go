package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/cogwheel/mcp-colab/internal/colab"
	"github.com/cogwheel/mcp-colab/internal/logging"
)

const (
	// DefaultLoginTimeout is how long the interactive sign-in may take
	// before the flow gives up.
	DefaultLoginTimeout = 5 * time.Minute

	// loginPollInterval is how often the page is checked for a completed
	// sign-in.
	loginPollInterval = 2 * time.Second

	// authTokenTTL forces a revalidation pass after a month. Google web
	// sessions normally outlive this; the expiry guards against silently
	// serving a profile whose cookies were revoked long ago.
	authTokenTTL = 30 * 24 * time.Hour
)

// GoogleLoginFlow implements colab.AuthFlow by opening a visible
// browser on the Colab frontend and waiting for the user to sign in.
// The resulting Google session lives in the profile's cookies; the
// returned token only records that the sign-in happened.
type GoogleLoginFlow struct {
	opts    Options
	timeout time.Duration
	logger  *slog.Logger
}

var _ colab.AuthFlow = (*GoogleLoginFlow)(nil)

// NewGoogleLoginFlow builds a login flow from driver options. timeout
// bounds the whole interactive sign-in; zero uses DefaultLoginTimeout.
func NewGoogleLoginFlow(opts Options, timeout time.Duration) *GoogleLoginFlow {
	opts = opts.withDefaults()
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}
	return &GoogleLoginFlow{opts: opts, timeout: timeout, logger: opts.Logger}
}

type loginState struct {
	SignedIn bool `json:"signedIn"`
}

// Login opens the Colab frontend in a visible browser bound to
// profileDir and polls until the page reports a signed-in session.
func (f *GoogleLoginFlow) Login(ctx context.Context, userID, profileDir string) (*colab.AuthToken, error) {
	opts := f.opts
	opts.UserDataDir = profileDir
	// The user has to see and drive the sign-in page.
	opts.Headless = false

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	defer allocCancel()

	adapter := logging.NewSlogAdapter(f.logger)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(adapter.Logf),
		chromedp.WithErrorf(adapter.Errorf))
	defer tabCancel()

	opCtx, opCancel := context.WithTimeout(tabCtx, f.timeout)
	defer opCancel()
	stop := context.AfterFunc(ctx, opCancel)
	defer stop()

	f.logger.Info("starting interactive Google login", logging.UserHash(userID))

	if err := chromedp.Run(opCtx,
		chromedp.Navigate(opts.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, classifyError("login", err)
	}

	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()
	for {
		var st loginState
		if err := chromedp.Run(opCtx, chromedp.Evaluate(loginStateScript, &st)); err != nil {
			return nil, classifyError("login", err)
		}
		if st.SignedIn {
			break
		}
		select {
		case <-opCtx.Done():
			return nil, fmt.Errorf("login: sign-in not completed within %s: %w", f.timeout, opCtx.Err())
		case <-ticker.C:
		}
	}

	now := time.Now()
	token := &colab.AuthToken{
		Value:      "chrome-profile/" + uuid.NewString(),
		ObtainedAt: now,
		Expiry:     now.Add(authTokenTTL),
	}
	f.logger.Info("Google login completed", logging.UserHash(userID))
	return token, nil
}
