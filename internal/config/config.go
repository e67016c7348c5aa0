package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/spf13/viper"
)

const (
	envPrefix                    = "CONDOLEADS"
	defaultHTTPAddress           = "0.0.0.0:8080"
	defaultDatabaseDriver        = "sqlite"
	defaultDatabasePath          = "condoleads.db"
	defaultLogLevel              = "info"
	defaultAuthIssuer            = "condoleads-admin"
	defaultAuthRequiredRole      = "admin"
	defaultFeedTimeoutSeconds    = 20
	defaultFeedPageSize          = 100
	defaultCompletedLookbackDays = 365
	defaultSyncConcurrency       = 2
	defaultSyncMaxConcurrency    = 5
	defaultRecentWindowDays      = 90
)

var defaultExcludedStatuses = []string{"pending", "cancelled", "withdrawn", "terminated", "suspended", "expired"}

// AppConfig captures runtime configuration for the API server and the CLI.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	AuthSigningSecret string
	AuthIssuer        string
	AuthRequiredRole  string

	FeedBaseURL           string
	FeedToken             string
	FeedTimeout           time.Duration
	FeedPageSize          int
	FeedCompletedLookback time.Duration

	SyncDefaultConcurrency  int
	SyncMaxConcurrency      int
	SyncRecentWindow        time.Duration
	SyncAllowPartialAddress bool
	SyncExcludedStatuses    []listings.Status
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.required_role", defaultAuthRequiredRole)
	configViper.SetDefault("feed.timeout_seconds", defaultFeedTimeoutSeconds)
	configViper.SetDefault("feed.page_size", defaultFeedPageSize)
	configViper.SetDefault("feed.completed_lookback_days", defaultCompletedLookbackDays)
	configViper.SetDefault("sync.default_concurrency", defaultSyncConcurrency)
	configViper.SetDefault("sync.max_concurrency", defaultSyncMaxConcurrency)
	configViper.SetDefault("sync.recent_window_days", defaultRecentWindowDays)
	configViper.SetDefault("sync.allow_partial_address", true)
	configViper.SetDefault("sync.excluded_statuses", defaultExcludedStatuses)
}

// Load parses and validates the configuration shared by every command.
func Load(configViper *viper.Viper) (AppConfig, error) {
	excluded, err := listings.ParseStatusList(splitList(configViper.GetStringSlice("sync.excluded_statuses")))
	if err != nil {
		return AppConfig{}, fmt.Errorf("sync.excluded_statuses: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		LogLevel:                configViper.GetString("log.level"),
		DatabaseDriver:          strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:            configViper.GetString("database.path"),
		DatabaseDSN:             configViper.GetString("database.dsn"),
		AuthSigningSecret:       configViper.GetString("auth.signing_secret"),
		AuthIssuer:              configViper.GetString("auth.issuer"),
		AuthRequiredRole:        configViper.GetString("auth.required_role"),
		FeedBaseURL:             configViper.GetString("feed.base_url"),
		FeedToken:               configViper.GetString("feed.token"),
		FeedTimeout:             time.Duration(configViper.GetInt("feed.timeout_seconds")) * time.Second,
		FeedPageSize:            configViper.GetInt("feed.page_size"),
		FeedCompletedLookback:   days(configViper.GetInt("feed.completed_lookback_days")),
		SyncDefaultConcurrency:  configViper.GetInt("sync.default_concurrency"),
		SyncMaxConcurrency:      configViper.GetInt("sync.max_concurrency"),
		SyncRecentWindow:        days(configViper.GetInt("sync.recent_window_days")),
		SyncAllowPartialAddress: configViper.GetBool("sync.allow_partial_address"),
		SyncExcludedStatuses:    excluded,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadServer is Load plus the settings only the HTTP API needs.
func LoadServer(configViper *viper.Viper) (AppConfig, error) {
	cfg, err := Load(configViper)
	if err != nil {
		return AppConfig{}, err
	}
	if err := cfg.ValidateFeed(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.ValidateAuth(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// ValidateFeed checks the settings needed to reach the listing feed.
func (c AppConfig) ValidateFeed() error {
	if strings.TrimSpace(c.FeedBaseURL) == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	if c.FeedPageSize <= 0 {
		return fmt.Errorf("feed.page_size must be positive")
	}
	return nil
}

// ValidateAuth checks the settings needed to verify admin tokens.
func (c AppConfig) ValidateAuth() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.SyncMaxConcurrency <= 0 {
		return fmt.Errorf("sync.max_concurrency must be positive")
	}
	if c.SyncDefaultConcurrency <= 0 || c.SyncDefaultConcurrency > c.SyncMaxConcurrency {
		return fmt.Errorf("sync.default_concurrency must be between 1 and sync.max_concurrency")
	}
	return nil
}

func days(count int) time.Duration {
	return time.Duration(count) * 24 * time.Hour
}

// splitList accepts both repeated values and comma-separated env strings.
func splitList(values []string) []string {
	var parts []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	}
	return parts
}
