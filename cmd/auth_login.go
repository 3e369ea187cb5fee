package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"timebill/config"
	"timebill/credentials"
	"timebill/internal/oauthcb"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

var (
	authLoginTokenFile  string
	authLoginProfileDir string
	authLoginBrowserBin string
	authLoginTimeout    time.Duration
	authLoginNoBrowser  bool
	authLoginSkipVerify bool
)

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize timebill at FreshBooks and save the OAuth token.",
	Long: `Run the FreshBooks OAuth2 authorization-code flow.

A local callback server listens on freshbooks.redirect_url (this URL must be registered
for the FreshBooks app). A browser window opens the FreshBooks authorize page; after you
approve, the code is exchanged for an access and refresh token, which are stored in the
token file. By default the token is verified with an identity lookup.

FRESHBOOKS_CLIENT_ID and FRESHBOOKS_CLIENT_SECRET must be set.`,
	Example: `
  # Open browser, authorize, save token, verify API access
  timebill auth login

  # Print the authorize URL instead of opening a browser
  timebill auth login --no-browser
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}
		if strings.TrimSpace(cfg.FreshBooks.ClientID) == "" || strings.TrimSpace(cfg.FreshBooks.ClientSecret) == "" {
			return errors.New("missing environment variables: FRESHBOOKS_CLIENT_ID, FRESHBOOKS_CLIENT_SECRET")
		}

		tokenFile := authLoginTokenFile
		if strings.TrimSpace(tokenFile) == "" {
			tokenFile = cfg.FreshBooks.TokenFile
		}
		tokenFile, err = credentials.ResolveTokenPath(tokenFile)
		if err != nil {
			return err
		}
		if err := ensureParentDir(tokenFile, 0o700); err != nil {
			return err
		}

		oauthConfig := credentials.OAuthConfig(cfg.FreshBooks)
		state := newOAuthState()
		authURL := oauthConfig.AuthCodeURL(state)
		out := cmd.OutOrStdout()

		ctx, cancel := context.WithTimeout(cmd.Context(), authLoginTimeout)
		defer cancel()

		var browser *loginBrowser
		defer func() {
			if browser != nil {
				browser.Close()
			}
		}()

		ready := func() {
			if authLoginNoBrowser {
				printAuthorizeURL(out, authURL)
				return
			}
			opened, openErr := openLoginBrowser(authURL, authLoginProfileDir, authLoginBrowserBin)
			if openErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to open browser: %v\n", openErr)
				printAuthorizeURL(out, authURL)
				return
			}
			browser = opened
			fmt.Fprintln(out, "Approve timebill in the opened browser window.")
		}

		fmt.Fprintf(out, "Waiting for FreshBooks authorization on %s (timeout: %s)...\n", oauthConfig.RedirectURL, authLoginTimeout)
		code, err := oauthcb.ListenAndAwait(ctx, oauthConfig.RedirectURL, state, ready)
		if err != nil {
			return fmt.Errorf("freshbooks authorization failed: %w", err)
		}

		token, err := exchangeCode(ctx, oauthConfig, code)
		if err != nil {
			return err
		}
		if err := credentials.SaveToken(tokenFile, token); err != nil {
			return err
		}

		if authLoginSkipVerify {
			fmt.Fprintf(out, "Token saved: %s\n", tokenFile)
			return nil
		}

		identity, err := verifyFreshBooksToken(cmd.Context(), cfg, token.AccessToken)
		if err != nil {
			return fmt.Errorf("token saved to %s but verification failed: %w", tokenFile, err)
		}
		fmt.Fprintf(out, "Token saved: %s\n", tokenFile)
		fmt.Fprintf(out, "Auth verification successful. FreshBooks identity: %s\n", identity)
		return nil
	},
}

func printAuthorizeURL(out io.Writer, authURL string) {
	fmt.Fprintln(out, "Open this URL in your browser and approve timebill:")
	fmt.Fprintln(out, authURL)
}

func exchangeCode(ctx context.Context, oauthConfig *oauth2.Config, code string) (*oauth2.Token, error) {
	exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	token, err := oauthConfig.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, errors.New("exchange authorization code: empty access token")
	}
	return token, nil
}

func verifyFreshBooksToken(ctx context.Context, cfg *config.Config, accessToken string) (string, error) {
	store := credentials.NewStore()
	store.Register(credentials.ServiceFreshBooks, credentials.StaticProvider{Token: accessToken})
	client, err := newFreshBooksClient(cfg, store, zerolog.Nop())
	if err != nil {
		return "", err
	}
	verifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return client.Identity(verifyCtx)
}

// loginBrowser is a visible browser window driven over the DevTools protocol.
type loginBrowser struct {
	cancel     func()
	profileDir string
	tempDir    bool
}

func openLoginBrowser(authURL, profileDir, browserBin string) (*loginBrowser, error) {
	dir, isTemp, err := resolveProfileDir(profileDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile directory %q: %w", dir, err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), browserAllocatorOptions(dir, browserBin)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	b := &loginBrowser{
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		profileDir: dir,
		tempDir:    isTemp,
	}

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(authURL),
	); err != nil {
		b.Close()
		return nil, fmt.Errorf("open browser and navigate failed: %w", err)
	}
	return b, nil
}

func (b *loginBrowser) Close() {
	b.cancel()
	if b.tempDir {
		_ = os.RemoveAll(b.profileDir)
	}
}

func init() {
	authCmd.AddCommand(authLoginCmd)

	authLoginCmd.Flags().StringVar(&authLoginTokenFile, "token-file", "", "Path to save the FreshBooks token (default: freshbooks.token_file or $HOME/.timebill/freshbooks-token.json)")
	authLoginCmd.Flags().StringVar(&authLoginProfileDir, "profile-dir", "", "Browser profile directory (optional; default is a fresh temporary profile per run)")
	authLoginCmd.Flags().StringVar(&authLoginBrowserBin, "browser-bin", "", "Optional browser binary path (Chrome/Chromium)")
	authLoginCmd.Flags().DurationVar(&authLoginTimeout, "timeout", 10*time.Minute, "Maximum wait time for the authorization")
	authLoginCmd.Flags().BoolVar(&authLoginNoBrowser, "no-browser", false, "Print the authorize URL instead of opening a browser")
	authLoginCmd.Flags().BoolVar(&authLoginSkipVerify, "skip-verify", false, "Skip the FreshBooks identity check after saving the token")
}
