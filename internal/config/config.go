package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. INVOICE_PORT
	EnvPrefix = "INVOICE"

	// Default values
	DefaultPort           = 8080
	DefaultHost           = "127.0.0.1"
	DefaultLogLevel       = "info"
	DefaultMaxFileSize    = 50 * 1024 * 1024 // 50MB
	DefaultTokenTTL       = 30 * 24 * time.Hour
	DefaultBackendTimeout = 60 * time.Second
	DefaultSessionSecret  = "insecure-dev-session-secret"
	DefaultJWTSecret      = "insecure-dev-jwt-secret"
)

// Config holds all configuration for the invoice extraction service
type Config struct {
	// Server configuration
	Host          string
	Port          int
	LogLevel      string
	SecureCookies bool

	// Extraction configuration
	MaxFileSize int64  // Maximum PDF file size in bytes
	RulesFile   string // Optional YAML file replacing the default field rules

	// Identity
	SessionSecret string
	JWTSecret     string
	TokenTTL      time.Duration

	// Remote backend; empty means extract in-process
	BackendURL     string
	BackendTimeout time.Duration

	// Free tier metering; zero values disable the limit
	FreeDailyLimit  int
	FreeMaxFileSize int64
	UpgradeURL      string
	DatabaseURL     string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		LogLevel:       DefaultLogLevel,
		MaxFileSize:    DefaultMaxFileSize,
		SessionSecret:  DefaultSessionSecret,
		JWTSecret:      DefaultJWTSecret,
		TokenTTL:       DefaultTokenTTL,
		BackendTimeout: DefaultBackendTimeout,
	}
}

// Load reads .env, environment variables and the given command line
// arguments, in increasing order of precedence
func Load(name string, args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	v := viper.New()
	setupViperEnvironment(v, cfg)

	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	defineCommandLineFlags(flags, cfg)
	setupUsageMessage(flags, name, os.Stderr)

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	populateConfigFromViper(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("loglevel", cfg.LogLevel)
	v.SetDefault("secure-cookies", cfg.SecureCookies)
	v.SetDefault("maxfilesize", cfg.MaxFileSize)
	v.SetDefault("rules", cfg.RulesFile)
	v.SetDefault("session-secret", cfg.SessionSecret)
	v.SetDefault("jwt-secret", cfg.JWTSecret)
	v.SetDefault("token-ttl", cfg.TokenTTL)
	v.SetDefault("backend-url", cfg.BackendURL)
	v.SetDefault("backend-timeout", cfg.BackendTimeout)
	v.SetDefault("free-daily-limit", cfg.FreeDailyLimit)
	v.SetDefault("free-max-file-size", cfg.FreeMaxFileSize)
	v.SetDefault("upgrade-url", cfg.UpgradeURL)
	v.SetDefault("database-url", cfg.DatabaseURL)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.String("host", cfg.Host, "Server host address")
	flags.Int("port", cfg.Port, "Server port")
	flags.String("loglevel", cfg.LogLevel, "Log level (debug or info)")
	flags.Bool("secure-cookies", cfg.SecureCookies, "Mark session cookies Secure (HTTPS only)")
	flags.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	flags.String("rules", cfg.RulesFile, "YAML file with field extraction rules")
	flags.String("session-secret", cfg.SessionSecret, "Secret signing visitor session cookies")
	flags.String("jwt-secret", cfg.JWTSecret, "Secret signing API tokens")
	flags.Duration("token-ttl", cfg.TokenTTL, "Lifetime of issued API tokens")
	flags.String("backend-url", cfg.BackendURL, "Forward extractions to this backend instead of extracting locally")
	flags.Duration("backend-timeout", cfg.BackendTimeout, "Timeout for backend requests")
	flags.Int("free-daily-limit", cfg.FreeDailyLimit, "Free extractions per caller per day (0 = unlimited)")
	flags.Int64("free-max-file-size", cfg.FreeMaxFileSize, "Largest upload in bytes on the free tier (0 = no limit)")
	flags.String("upgrade-url", cfg.UpgradeURL, "Payment link shown when a free tier limit is reached")
	flags.String("database-url", cfg.DatabaseURL, "PostgreSQL DSN for usage counters (in-memory when empty)")
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage(flags *pflag.FlagSet, name string, w io.Writer) {
	flags.Usage = func() {
		fmt.Fprintf(w, "Usage of %s:\n", name)
		fmt.Fprintf(w, "\nInvoice Extractor - extract invoice fields from PDF documents\n\n")
		fmt.Fprintf(w, "Options:\n")
		fmt.Fprint(w, flags.FlagUsages())
		fmt.Fprintf(w, "\nEvery option can also be set as %s_<OPTION> in the environment or a .env file,\n", EnvPrefix)
		fmt.Fprintf(w, "with dashes replaced by underscores, e.g. %s_BACKEND_URL.\n", EnvPrefix)
	}
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) {
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.LogLevel = strings.ToLower(v.GetString("loglevel"))
	cfg.SecureCookies = v.GetBool("secure-cookies")
	cfg.MaxFileSize = v.GetInt64("maxfilesize")
	cfg.RulesFile = v.GetString("rules")
	cfg.SessionSecret = v.GetString("session-secret")
	cfg.JWTSecret = v.GetString("jwt-secret")
	cfg.TokenTTL = v.GetDuration("token-ttl")
	cfg.BackendURL = strings.TrimSpace(v.GetString("backend-url"))
	cfg.BackendTimeout = v.GetDuration("backend-timeout")
	cfg.FreeDailyLimit = v.GetInt("free-daily-limit")
	cfg.FreeMaxFileSize = v.GetInt64("free-max-file-size")
	cfg.UpgradeURL = v.GetString("upgrade-url")
	cfg.DatabaseURL = v.GetString("database-url")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	// debug switches gin to debug mode and logs the configuration at startup
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info)", c.LogLevel)
	}

	if c.SessionSecret == "" || c.JWTSecret == "" {
		return errors.New("session and JWT secrets cannot be empty")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token TTL must be positive")
	}

	if c.BackendURL != "" {
		if err := validateHTTPURL(c.BackendURL); err != nil {
			return fmt.Errorf("invalid backend URL: %w", err)
		}
		if c.BackendTimeout <= 0 {
			return errors.New("backend timeout must be positive")
		}
	}

	if c.FreeDailyLimit < 0 || c.FreeMaxFileSize < 0 {
		return errors.New("free tier limits cannot be negative")
	}
	if c.UpgradeURL != "" {
		if err := validateHTTPURL(c.UpgradeURL); err != nil {
			return fmt.Errorf("invalid upgrade URL: %w", err)
		}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// IsRemote returns true if extraction is delegated to a backend
func (c *Config) IsRemote() bool {
	return c.BackendURL != ""
}

// IsMetered returns true if any free tier limit applies
func (c *Config) IsMetered() bool {
	return c.FreeDailyLimit > 0 || c.FreeMaxFileSize > 0
}

// String returns a string representation of the configuration. Secrets are omitted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Host: %s, Port: %d, LogLevel: %s, MaxFileSize: %d, Rules: %q, Backend: %q, FreeDailyLimit: %d, FreeMaxFileSize: %d}",
		c.Host, c.Port, c.LogLevel, c.MaxFileSize, c.RulesFile, c.BackendURL, c.FreeDailyLimit, c.FreeMaxFileSize)
}
