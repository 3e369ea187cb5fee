package config

import (
	"bytes"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	KeyTimeularBaseURL       = "timeular.base_url"
	KeyTimeularAPIKey        = "timeular.api_key"
	KeyTimeularAPISecret     = "timeular.api_secret"
	KeyFreshBooksBaseURL     = "freshbooks.base_url"
	KeyFreshBooksAuthURL     = "freshbooks.auth_url"
	KeyFreshBooksTokenURL    = "freshbooks.token_url"
	KeyFreshBooksRedirectURL = "freshbooks.redirect_url"
	KeyFreshBooksClientID    = "freshbooks.client_id"
	KeyFreshBooksSecret      = "freshbooks.client_secret"
	KeyFreshBooksBusinessID  = "freshbooks.business_id"
	KeyFreshBooksAccountID   = "freshbooks.account_id"
	KeyFreshBooksAccessToken = "freshbooks.access_token"
	KeyFreshBooksTokenFile   = "freshbooks.token_file"
	KeySourceKind            = "source.kind"
	KeySourcePath            = "source.path"
	KeySourceDaysBack        = "source.days_back"
	KeySourceWindow          = "source.timeular.window"
	KeySourceRPS             = "source.timeular.rps"
	KeySourceDurationUnit    = "source.csv.duration_unit"
	KeyRatesDefault          = "rates.default"
	KeyRatesCurrency         = "rates.currency"
	KeyRatesRules            = "rates.rules"
	KeyRoundingIncrement     = "rounding.increment"
	KeyRoundingMode          = "rounding.mode"
	KeySyncWorkers           = "sync.workers"
	KeySyncMaxAttempts       = "sync.max_attempts"
	KeySyncInitialBackoff    = "sync.initial_backoff"
	KeySyncMaxBackoff        = "sync.max_backoff"
	KeySyncRequestTimeout    = "sync.request_timeout"
	KeySyncClaimLease        = "sync.claim_lease"
	KeySyncReconcile         = "sync.reconcile"
	KeySyncLedgerPath        = "sync.ledger_path"
	KeyLogLevel              = "log.level"
	KeyLogFormat             = "log.format"
	KeyMetricsTextfile       = "metrics.textfile"
)

// Environment variables holding secrets. They are bound to config keys and are
// expected to come from the scoped .env file, never from the YAML file.
var envBindings = map[string]string{
	KeyTimeularAPIKey:        "TIMEULAR_API_KEY",
	KeyTimeularAPISecret:     "TIMEULAR_API_SECRET",
	KeyFreshBooksClientID:    "FRESHBOOKS_CLIENT_ID",
	KeyFreshBooksSecret:      "FRESHBOOKS_CLIENT_SECRET",
	KeyFreshBooksBusinessID:  "FRESHBOOKS_BUSINESS_ID",
	KeyFreshBooksAccountID:   "FRESHBOOKS_ACCOUNT_ID",
	KeyFreshBooksAccessToken: "FRESHBOOKS_ACCESS_TOKEN",
}

type Config struct {
	Timeular   TimeularConfig   `mapstructure:"timeular"`
	FreshBooks FreshBooksConfig `mapstructure:"freshbooks"`
	Source     SourceConfig     `mapstructure:"source"`
	Rates      RatesConfig      `mapstructure:"rates"`
	Rounding   RoundingConfig   `mapstructure:"rounding"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type TimeularConfig struct {
	BaseURL   string `mapstructure:"base_url" validate:"required,url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

type FreshBooksConfig struct {
	BaseURL      string `mapstructure:"base_url" validate:"required,url"`
	AuthURL      string `mapstructure:"auth_url" validate:"required,url"`
	TokenURL     string `mapstructure:"token_url" validate:"required,url"`
	RedirectURL  string `mapstructure:"redirect_url" validate:"required,url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	BusinessID   string `mapstructure:"business_id"`
	AccountID    string `mapstructure:"account_id"`
	AccessToken  string `mapstructure:"access_token"`
	TokenFile    string `mapstructure:"token_file"`
}

type SourceConfig struct {
	Kind     string               `mapstructure:"kind" validate:"omitempty,oneof=csv excel timeular"`
	Path     string               `mapstructure:"path"`
	DaysBack int                  `mapstructure:"days_back" validate:"min=1,max=3660"`
	Timeular TimeularSourceConfig `mapstructure:"timeular"`
	CSV      CSVSourceConfig      `mapstructure:"csv"`
}

type TimeularSourceConfig struct {
	Window time.Duration `mapstructure:"window" validate:"min=1h"`
	RPS    float64       `mapstructure:"rps" validate:"gt=0"`
}

type CSVSourceConfig struct {
	DurationUnit string `mapstructure:"duration_unit" validate:"oneof=seconds minutes hours"`
}

type RatesConfig struct {
	Default  string     `mapstructure:"default"`
	Currency string     `mapstructure:"currency" validate:"required,len=3"`
	Rules    []RateRule `mapstructure:"rules"`
}

// RateRule maps a project label to an hourly rate and optional FreshBooks ids.
type RateRule struct {
	Name      string `mapstructure:"name"`
	Project   string `mapstructure:"project"`
	Match     string `mapstructure:"match"`
	Rate      string `mapstructure:"rate"`
	Currency  string `mapstructure:"currency"`
	Client    string `mapstructure:"client"`
	ClientID  string `mapstructure:"client_id"`
	ProjectID string `mapstructure:"project_id"`
	ServiceID string `mapstructure:"service_id"`
}

type RoundingConfig struct {
	Increment time.Duration `mapstructure:"increment" validate:"min=1m"`
	Mode      string        `mapstructure:"mode" validate:"oneof=nearest up down"`
}

type SyncConfig struct {
	Workers        int           `mapstructure:"workers" validate:"min=1,max=64"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1,max=20"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ClaimLease     time.Duration `mapstructure:"claim_lease" validate:"gt=0"`
	Reconcile      string        `mapstructure:"reconcile" validate:"oneof=auto always"`
	LedgerPath     string        `mapstructure:"ledger_path" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// SetDefaults sets default values if not provided
func SetDefaults() {
	setDefaults(viper.GetViper())
}

// LoadAndValidate loads config from Viper and validates it
func LoadAndValidate() (*Config, error) {
	return loadAndValidateFromViper(viper.GetViper())
}

// ValidateYAMLContent validates configuration from raw YAML content.
func ValidateYAMLContent(content []byte) (*Config, error) {
	local := viper.New()
	setDefaults(local)
	local.SetConfigType("yaml")
	if err := local.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("read config content: %w", err)
	}
	return loadAndValidateFromViper(local)
}

// ExampleYAML returns the default configuration template. Secrets are not part
// of it; they belong in the .env file next to the config.
func ExampleYAML() string {
	return `# timebill configuration
# Secrets are read from the environment (or a .env file next to this file):
#   TIMEULAR_API_KEY, TIMEULAR_API_SECRET,
#   FRESHBOOKS_CLIENT_ID, FRESHBOOKS_CLIENT_SECRET, FRESHBOOKS_BUSINESS_ID, FRESHBOOKS_ACCOUNT_ID
timeular:
  base_url: "https://api.timeular.com/api/v4"

freshbooks:
  base_url: "https://api.freshbooks.com"
  redirect_url: "http://localhost:8443/callback"

source:
  kind: "timeular"
  days_back: 30
  csv:
    duration_unit: "seconds"

rates:
  currency: "USD"
  default: ""
  rules: []

rounding:
  increment: 15m
  mode: "nearest"

sync:
  workers: 4
  max_attempts: 5
  initial_backoff: 500ms
  max_backoff: 30s
  request_timeout: 30s
  ledger_path: "./timebill-ledger.db"
`
}

// RequireTimeular checks the credentials needed for the Timeular API source.
func (c Config) RequireTimeular() error {
	return requireValues(map[string]string{
		"TIMEULAR_API_KEY":    c.Timeular.APIKey,
		"TIMEULAR_API_SECRET": c.Timeular.APISecret,
	})
}

// RequireFreshBooks checks the values needed to submit to FreshBooks.
func (c Config) RequireFreshBooks() error {
	values := map[string]string{
		"FRESHBOOKS_BUSINESS_ID": c.FreshBooks.BusinessID,
	}
	if strings.TrimSpace(c.FreshBooks.AccessToken) == "" {
		values["FRESHBOOKS_CLIENT_ID"] = c.FreshBooks.ClientID
		values["FRESHBOOKS_CLIENT_SECRET"] = c.FreshBooks.ClientSecret
	}
	return requireValues(values)
}

func requireValues(values map[string]string) error {
	missing := make([]string, 0, len(values))
	for name, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
}

func loadAndValidateFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := validateRates(cfg.Rates); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTimeularBaseURL, "https://api.timeular.com/api/v4")
	v.SetDefault(KeyFreshBooksBaseURL, "https://api.freshbooks.com")
	v.SetDefault(KeyFreshBooksAuthURL, "https://my.freshbooks.com/service/auth/oauth/authorize")
	v.SetDefault(KeyFreshBooksTokenURL, "https://api.freshbooks.com/auth/oauth/token")
	v.SetDefault(KeyFreshBooksRedirectURL, "http://localhost:8443/callback")
	v.SetDefault(KeyFreshBooksTokenFile, "")
	v.SetDefault(KeySourceKind, "")
	v.SetDefault(KeySourcePath, "")
	v.SetDefault(KeySourceDaysBack, 30)
	v.SetDefault(KeySourceWindow, "168h")
	v.SetDefault(KeySourceRPS, 5.0)
	v.SetDefault(KeySourceDurationUnit, "seconds")
	v.SetDefault(KeyRatesDefault, "")
	v.SetDefault(KeyRatesCurrency, "USD")
	v.SetDefault(KeyRatesRules, []map[string]any{})
	v.SetDefault(KeyRoundingIncrement, "15m")
	v.SetDefault(KeyRoundingMode, "nearest")
	v.SetDefault(KeySyncWorkers, 4)
	v.SetDefault(KeySyncMaxAttempts, 5)
	v.SetDefault(KeySyncInitialBackoff, "500ms")
	v.SetDefault(KeySyncMaxBackoff, "30s")
	v.SetDefault(KeySyncRequestTimeout, "30s")
	v.SetDefault(KeySyncClaimLease, "10m")
	v.SetDefault(KeySyncReconcile, "auto")
	v.SetDefault(KeySyncLedgerPath, "./timebill-ledger.db")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyMetricsTextfile, "")

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

func validateRates(rates RatesConfig) error {
	if strings.TrimSpace(rates.Default) != "" {
		if err := validateRateValue(rates.Default); err != nil {
			return fmt.Errorf("validation failed: rates.default: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(rates.Rules))
	for i, rule := range rates.Rules {
		project := strings.TrimSpace(rule.Project)
		if project == "" {
			return fmt.Errorf("validation failed: rates.rules[%d].project is required", i)
		}
		match := strings.ToLower(strings.TrimSpace(rule.Match))
		switch match {
		case "", "exact", "prefix":
		case "glob":
			if _, err := path.Match(project, ""); err != nil {
				return fmt.Errorf("validation failed: rates.rules[%d].project %q is not a valid glob: %w", i, rule.Project, err)
			}
		default:
			return fmt.Errorf(
				"validation failed: rates.rules[%d].match %q is not supported (valid: exact, prefix, glob)",
				i,
				rule.Match,
			)
		}
		key := match + "|" + strings.ToLower(project)
		if _, exists := seen[key]; exists {
			return fmt.Errorf("validation failed: duplicate rate rule for project %q", project)
		}
		seen[key] = struct{}{}
		if err := validateRateValue(rule.Rate); err != nil {
			return fmt.Errorf("validation failed: rates.rules[%d].rate: %w", i, err)
		}
		if currency := strings.TrimSpace(rule.Currency); currency != "" && len(currency) != 3 {
			return fmt.Errorf("validation failed: rates.rules[%d].currency %q must be a 3-letter code", i, rule.Currency)
		}
	}
	return nil
}

func validateRateValue(raw string) error {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid rate %q", raw)
	}
	if value.IsNegative() {
		return fmt.Errorf("rate %q must not be negative", raw)
	}
	return nil
}
