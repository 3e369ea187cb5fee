package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"timebill/config"
	"timebill/credentials"
	"timebill/freshbooks"
	"timebill/internal/logging"
	"timebill/internal/retry"
	"timebill/internal/timeutil"
	"timebill/source"
	"timebill/timeular"
	"timebill/transform"
	"timebill/worklog"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	userAgent = "timebill/1.0"
	// FreshBooks allows bursts but throttles sustained traffic per token.
	freshbooksRPS   = 4
	freshbooksBurst = 4
)

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

func loadPricing(cfg *config.Config) (transform.RateTable, transform.Rounding, error) {
	rates, err := transform.NewRateTable(cfg.Rates)
	if err != nil {
		return transform.RateTable{}, transform.Rounding{}, fmt.Errorf("load rates: %w", err)
	}
	rounding, err := transform.NewRounding(cfg.Rounding)
	if err != nil {
		return transform.RateTable{}, transform.Rounding{}, fmt.Errorf("load rounding: %w", err)
	}
	return rates, rounding, nil
}

func newRetryPolicy(cfg config.SyncConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Initial:     cfg.InitialBackoff,
		Max:         cfg.MaxBackoff,
		Jitter:      0.2,
	}
}

func newTimeularClient(cfg *config.Config) (*timeular.Client, error) {
	rps := cfg.Source.Timeular.RPS
	if rps <= 0 {
		rps = 5
	}
	return timeular.NewClient(timeular.ClientConfig{
		BaseURL:   cfg.Timeular.BaseURL,
		UserAgent: userAgent,
		Limiter:   rate.NewLimiter(rate.Limit(rps), 1),
	})
}

// newCredentialStore registers one provider per service. A static
// FRESHBOOKS_ACCESS_TOKEN wins over the token file written by `auth login`.
func newCredentialStore(cfg *config.Config, timeularClient *timeular.Client) (*credentials.Store, error) {
	store := credentials.NewStore()
	if timeularClient != nil {
		store.Register(credentials.ServiceTimeular, credentials.TimeularProvider{
			Client:    timeularClient,
			APIKey:    cfg.Timeular.APIKey,
			APISecret: cfg.Timeular.APISecret,
		})
	}

	if token := strings.TrimSpace(cfg.FreshBooks.AccessToken); token != "" {
		store.Register(credentials.ServiceFreshBooks, credentials.StaticProvider{Token: token})
		return store, nil
	}
	tokenFile, err := credentials.ResolveTokenPath(cfg.FreshBooks.TokenFile)
	if err != nil {
		return nil, err
	}
	store.Register(credentials.ServiceFreshBooks, credentials.FreshBooksProvider{
		OAuth:     credentials.OAuthConfig(cfg.FreshBooks),
		TokenFile: tokenFile,
	})
	return store, nil
}

func newFreshBooksClient(cfg *config.Config, tokens freshbooks.TokenSource, logger zerolog.Logger) (*freshbooks.Client, error) {
	return freshbooks.NewClient(freshbooks.ClientConfig{
		BaseURL:    cfg.FreshBooks.BaseURL,
		BusinessID: cfg.FreshBooks.BusinessID,
		AccountID:  cfg.FreshBooks.AccountID,
		UserAgent:  userAgent,
		Limiter:    rate.NewLimiter(rate.Limit(freshbooksRPS), freshbooksBurst),
		Tokens:     tokens,
		Logger:     logger,
	})
}

// sourceSelection is the source part of the command line.
type sourceSelection struct {
	Kind     string
	Path     string
	From     string
	To       string
	DaysBack int
	// DurationUnit applies to the Duration column of file exports.
	DurationUnit string
	// RangeSet limits file sources to the date range. Without it a file
	// source yields every row.
	RangeSet bool
}

func (s sourceSelection) withConfig(cfg config.SourceConfig) sourceSelection {
	if strings.TrimSpace(s.Kind) == "" && strings.TrimSpace(s.Path) == "" {
		s.Kind = cfg.Kind
	}
	if strings.TrimSpace(s.Path) == "" {
		s.Path = cfg.Path
	}
	if s.DaysBack <= 0 {
		s.DaysBack = cfg.DaysBack
	}
	if strings.TrimSpace(s.DurationUnit) == "" {
		s.DurationUnit = cfg.CSV.DurationUnit
	}
	return s
}

// resolvedKind returns the explicit kind or the one implied by the input path.
func (s sourceSelection) resolvedKind() (string, error) {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind != "" {
		return kind, nil
	}
	if strings.TrimSpace(s.Path) == "" {
		return "", errors.New("no source selected; pass --source or --input")
	}
	return source.KindForPath(s.Path)
}

// newSourceDeps wires the Timeular client into the credential store when the
// source needs it. The store always serves FreshBooks.
func newSourceDeps(cfg *config.Config, kind string, logger zerolog.Logger) (sourceDeps, *credentials.Store, error) {
	deps := sourceDeps{
		Retry:      newRetryPolicy(cfg.Sync),
		WindowSize: cfg.Source.Timeular.Window,
		Logger:     logger,
	}
	if kind != worklog.SourceTimeular {
		store, err := newCredentialStore(cfg, nil)
		return deps, store, err
	}

	if err := cfg.RequireTimeular(); err != nil {
		return deps, nil, err
	}
	timeularClient, err := newTimeularClient(cfg)
	if err != nil {
		return deps, nil, err
	}
	store, err := newCredentialStore(cfg, timeularClient)
	if err != nil {
		return deps, nil, err
	}
	deps.Timeular = timeularClient
	deps.Credentials = store
	return deps, store, nil
}

type sourceDeps struct {
	Timeular    source.EntriesClient
	Credentials source.TokenSource
	Retry       retry.Policy
	WindowSize  time.Duration
	Logger      zerolog.Logger
}

func buildSource(sel sourceSelection, deps sourceDeps, now time.Time) (source.Connector, error) {
	kind, err := sel.resolvedKind()
	if err != nil {
		return nil, err
	}

	window := timeutil.Window{}
	if kind == worklog.SourceTimeular || sel.RangeSet {
		window, err = timeutil.ParseDayRange(sel.From, sel.To, sel.DaysBack, now)
		if err != nil {
			return nil, err
		}
	}

	return source.New(source.Options{
		Kind:         kind,
		Path:         sel.Path,
		DurationUnit: sel.DurationUnit,
		Window:       window,
		Timeular:     deps.Timeular,
		Credentials:  deps.Credentials,
		WindowSize:   deps.WindowSize,
		Retry:        deps.Retry,
		Logger:       deps.Logger,
	})
}
