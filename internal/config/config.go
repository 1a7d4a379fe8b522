package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                     = "PORTAL"
	defaultHTTPAddress            = "0.0.0.0:8080"
	defaultDatabasePath           = "portal.db"
	defaultLogLevel               = "info"
	defaultCookieName             = "portal_session"
	defaultSessionIssuer          = "advocates-auth"
	defaultUpstreamTimeout        = 15 * time.Second
	defaultCompletionDelay        = time.Second
	defaultAllowedOrigin          = "*"
	defaultShutdownTimeoutSeconds = 10
	defaultSessionIdleTimeout     = 2 * time.Hour
	defaultSessionSweepInterval   = 5 * time.Minute
)

// AppConfig captures runtime configuration for the portal backend.
type AppConfig struct {
	HTTPAddress     string
	AllowedOrigins  []string
	UpstreamBaseURL string
	UpstreamTimeout time.Duration
	SigningSecret   string
	SessionIssuer   string
	CookieName      string
	DatabasePath    string
	LogLevel        string
	CompletionDelay time.Duration
	ShutdownTimeout time.Duration
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
}

// LoadDotEnv loads key=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing files
// are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
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
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigin)
	configViper.SetDefault("http.shutdown_timeout_seconds", defaultShutdownTimeoutSeconds)
	configViper.SetDefault("upstream.timeout", defaultUpstreamTimeout)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("interactions.completion_delay", defaultCompletionDelay)
	configViper.SetDefault("session.idle_timeout", defaultSessionIdleTimeout)
	configViper.SetDefault("session.sweep_interval", defaultSessionSweepInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		AllowedOrigins:  splitList(configViper.GetString("http.allowed_origins")),
		UpstreamBaseURL: strings.TrimRight(strings.TrimSpace(configViper.GetString("upstream.base_url")), "/"),
		UpstreamTimeout: configViper.GetDuration("upstream.timeout"),
		SigningSecret:   configViper.GetString("session.signing_secret"),
		SessionIssuer:   configViper.GetString("session.issuer"),
		CookieName:      configViper.GetString("session.cookie_name"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		CompletionDelay: configViper.GetDuration("interactions.completion_delay"),
		ShutdownTimeout: time.Duration(configViper.GetInt("http.shutdown_timeout_seconds")) * time.Second,
		IdleTimeout:     configViper.GetDuration("session.idle_timeout"),
		SweepInterval:   configViper.GetDuration("session.sweep_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if !strings.HasPrefix(c.UpstreamBaseURL, "http://") && !strings.HasPrefix(c.UpstreamBaseURL, "https://") {
		return fmt.Errorf("upstream.base_url must be an http(s) url")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.CompletionDelay < 0 {
		return fmt.Errorf("interactions.completion_delay must not be negative")
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must not be negative")
	}
	if c.IdleTimeout > 0 && c.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive when idle eviction is enabled")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
