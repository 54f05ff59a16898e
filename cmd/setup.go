package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cogwheel/mcp-colab/internal/config"
	"github.com/cogwheel/mcp-colab/internal/google"
	"github.com/cogwheel/mcp-colab/internal/mcp/oauth"
)

// callbackTimeout bounds how long setup waits for the browser redirect.
const callbackTimeout = 5 * time.Minute

func newSetupCmd() *cobra.Command {
	var (
		account   string
		initOnly  bool
		force     bool
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure Google API credentials and authorize an account",
		Long: `Set up mcp-colab for first use.

The command stores the Google OAuth client credentials, then authorizes
a Google account and saves its token. Create OAuth client credentials of
type "Desktop app" in the Google Cloud Console and enable the Drive API
for the project before running this command.

By default the authorization flow starts a temporary callback server on
localhost and waits for the browser redirect. Use --no-browser on
headless machines to paste the authorization code manually instead.

Use --init to only write a default server_config.json and exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(account, initOnly, force, noBrowser)
		},
	}

	cmd.Flags().StringVar(&account, "account", google.DefaultAccount, "Account name to authorize")
	cmd.Flags().BoolVar(&initOnly, "init", false, "Write a default configuration file and exit")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing credentials, tokens or configuration")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Read the authorization code from stdin instead of running a local callback server")

	return cmd
}

func runSetup(account string, initOnly, force, noBrowser bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if initOnly {
		path, err := config.WriteDefault(force)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return nil
	}

	if err := ensureClientCredentials(force); err != nil {
		return err
	}

	if google.HasTokenForAccount(account) && !force {
		fmt.Printf("Account %q is already authorized (use --force to re-authorize).\n", account)
		return nil
	}

	if noBrowser {
		return authorizeManually(ctx, account)
	}
	return authorizeWithCallback(ctx, account)
}

// ensureClientCredentials prompts for and stores the OAuth client ID and
// secret unless they are already configured.
func ensureClientCredentials(force bool) error {
	if google.HasCredentials() && !force {
		return nil
	}

	fmt.Println("Enter the OAuth client credentials from the Google Cloud Console.")
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Client ID: ")
	clientID, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read client ID: %w", err)
	}

	fmt.Print("Client secret: ")
	clientSecret, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read client secret: %w", err)
	}

	if err := google.SaveCredentials(strings.TrimSpace(clientID), strings.TrimSpace(clientSecret)); err != nil {
		return err
	}
	fmt.Println("Credentials saved.")
	return nil
}

// authorizeManually prints the auth URL and reads the authorization code
// from stdin, for machines where a browser cannot reach a local callback.
func authorizeManually(ctx context.Context, account string) error {
	authURL := google.GetAuthURLForAccount(account)
	if authURL == "" {
		return fmt.Errorf("no OAuth client credentials configured")
	}

	fmt.Printf("\nOpen this URL in a browser and authorize access:\n\n%s\n\n", authURL)
	fmt.Print("Paste the authorization code here: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	if err := google.SaveTokenForAccount(ctx, account, strings.TrimSpace(code)); err != nil {
		return err
	}
	fmt.Printf("Token saved for account %q.\n", account)
	return nil
}

// authorizeWithCallback runs an ephemeral HTTP server on a random localhost
// port, sends the user through the Google consent screen and receives the
// authorization code on the redirect.
func authorizeWithCallback(ctx context.Context, account string) error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start callback listener: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://localhost:%d/callback", port)

	authURL, err := google.GetAuthURLWithRedirect(account, redirectURL)
	if err != nil {
		listener.Close()
		return err
	}

	results := make(chan *oauth.CallbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result := oauth.ParseCallbackQuery(
			q.Get("code"),
			q.Get("state"),
			q.Get("error"),
			q.Get("error_description"),
			q.Get("error_uri"),
		)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if result.IsError() {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>%s</p>You can close this window.</body></html>", result.Error)
		} else {
			fmt.Fprint(w, "<html><body><h1>Authorization complete</h1>You can close this window and return to the terminal.</body></html>")
		}

		select {
		case results <- result:
		default:
			// A second redirect hit the callback; keep the first result.
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		_ = srv.Serve(listener)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("\nOpen this URL in a browser to authorize access:\n\n%s\n\n", authURL)
	fmt.Println("Waiting for the authorization redirect...")

	select {
	case result := <-results:
		if err := result.Err(); err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}
		if result.State != "state-"+account {
			return fmt.Errorf("authorization response carries an unexpected state value")
		}
		if err := google.ExchangeWithRedirect(ctx, account, result.Code, redirectURL); err != nil {
			return err
		}
		fmt.Printf("Token saved for account %q.\n", account)
		return nil
	case <-time.After(callbackTimeout):
		return fmt.Errorf("timed out waiting for the authorization redirect after %s", callbackTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
