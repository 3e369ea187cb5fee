package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"timebill/config"
	"timebill/credentials"
	"timebill/internal/syncerr"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var authStatusCheck bool

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the credential state of Timeular and FreshBooks.",
	Long: `Report which credentials are configured for both services.

With --check, timebill also signs in to Timeular and resolves the FreshBooks identity,
refreshing the FreshBooks token when it expired.`,
	Example: `
  # Show credential state
  timebill auth status

  # Also verify against both APIs
  timebill auth status --check
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		tokenFile, err := credentials.ResolveTokenPath(cfg.FreshBooks.TokenFile)
		if err != nil {
			return err
		}
		printAuthStatus(out, cfg, tokenFile, time.Now())

		if !authStatusCheck {
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		return checkCredentials(ctx, out, cfg)
	},
}

func printAuthStatus(out io.Writer, cfg *config.Config, tokenFile string, now time.Time) {
	fmt.Fprintln(out, "Timeular:")
	if err := cfg.RequireTimeular(); err != nil {
		fmt.Fprintf(out, "  api key:      not configured (%v)\n", err)
	} else {
		fmt.Fprintln(out, "  api key:      configured")
	}

	fmt.Fprintln(out, "FreshBooks:")
	if strings.TrimSpace(cfg.FreshBooks.BusinessID) == "" {
		fmt.Fprintln(out, "  business id:  missing (FRESHBOOKS_BUSINESS_ID)")
	} else {
		fmt.Fprintf(out, "  business id:  %s\n", cfg.FreshBooks.BusinessID)
	}
	if strings.TrimSpace(cfg.FreshBooks.AccessToken) != "" {
		fmt.Fprintln(out, "  token:        static (FRESHBOOKS_ACCESS_TOKEN)")
		return
	}
	fmt.Fprintf(out, "  token file:   %s\n", tokenFile)
	fmt.Fprintf(out, "  token:        %s\n", describeTokenFile(tokenFile, now))
}

func describeTokenFile(tokenFile string, now time.Time) string {
	token, err := credentials.LoadToken(tokenFile)
	if errors.Is(err, credentials.ErrNotLoggedIn) {
		return "missing; run `timebill auth login`"
	}
	if err != nil {
		return fmt.Sprintf("unreadable (%v)", err)
	}
	refresh := "no refresh token"
	if strings.TrimSpace(token.RefreshToken) != "" {
		refresh = "refreshable"
	}
	switch {
	case token.Expiry.IsZero():
		return "valid, no expiry, " + refresh
	case now.Before(token.Expiry):
		return fmt.Sprintf("valid until %s, %s", token.Expiry.Local().Format(time.RFC3339), refresh)
	default:
		return fmt.Sprintf("expired at %s, %s", token.Expiry.Local().Format(time.RFC3339), refresh)
	}
}

func checkCredentials(ctx context.Context, out io.Writer, cfg *config.Config) error {
	var failed []string

	if cfg.RequireTimeular() == nil {
		timeularClient, err := newTimeularClient(cfg)
		if err != nil {
			return err
		}
		store, err := newCredentialStore(cfg, timeularClient)
		if err != nil {
			return err
		}
		if _, err := store.Get(ctx, credentials.ServiceTimeular); err != nil {
			fmt.Fprintf(out, "Timeular sign-in failed: %v\n", err)
			failed = append(failed, credentials.ServiceTimeular)
		} else {
			fmt.Fprintln(out, "Timeular sign-in successful.")
		}
	}

	if err := cfg.RequireFreshBooks(); err != nil {
		fmt.Fprintf(out, "FreshBooks check skipped: %v\n", err)
		failed = append(failed, credentials.ServiceFreshBooks)
	} else {
		identity, err := freshBooksIdentity(ctx, cfg)
		if err != nil {
			fmt.Fprintf(out, "FreshBooks check failed: %v\n", err)
			failed = append(failed, credentials.ServiceFreshBooks)
		} else {
			fmt.Fprintf(out, "FreshBooks identity: %s\n", identity)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("credential check failed for: %s", strings.Join(failed, ", "))
	}
	return nil
}

// freshBooksIdentity resolves the identity, refreshing an expired token once.
func freshBooksIdentity(ctx context.Context, cfg *config.Config) (string, error) {
	store, err := newCredentialStore(cfg, nil)
	if err != nil {
		return "", err
	}
	client, err := newFreshBooksClient(cfg, store, zerolog.Nop())
	if err != nil {
		return "", err
	}
	identity, err := client.Identity(ctx)
	if err == nil || !syncerr.Is(err, syncerr.KindAuth) {
		return identity, err
	}
	if _, refreshErr := store.Refresh(ctx, credentials.ServiceFreshBooks); refreshErr != nil {
		return "", err
	}
	return client.Identity(ctx)
}

func init() {
	authCmd.AddCommand(authStatusCmd)

	authStatusCmd.Flags().BoolVar(&authStatusCheck, "check", false, "Verify the credentials against both APIs")
}
