// Package config contains everything related to configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath   string
	AccountsPath   string
	OptionsPath    string
	Username       string
	Password       string
	MetricsAddr    string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	InvertInvoices bool
	PrivacyLogging bool
	Debug          bool
}

// Default values
const (
	defaultPollInterval   = time.Hour
	defaultRequestTimeout = 30 * time.Second
	appDirName            = "mosoblgaz-tui"
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	for _, path := range getEnvPaths() {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	cfg := &Config{
		Username:       getEnvString("MOSOBLGAZ_USERNAME", ""),
		Password:       getEnvString("MOSOBLGAZ_PASSWORD", ""),
		DatabasePath:   getEnvString("DATABASE_PATH", getDefaultPath("mosoblgaz.db")),
		AccountsPath:   getEnvString("ACCOUNTS_PATH", getDefaultPath("accounts.json")),
		OptionsPath:    getEnvString("OPTIONS_PATH", getDefaultPath("options.yaml")),
		MetricsAddr:    getEnvString("METRICS_ADDR", ""),
		PollInterval:   getEnvDuration("POLL_INTERVAL", defaultPollInterval),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", defaultRequestTimeout),
		InvertInvoices: getEnvBool("INVERT_INVOICES", false),
		PrivacyLogging: getEnvBool("PRIVACY_LOGGING", true),
		Debug:          getEnvBool("MOG_DEBUG", false),
	}

	// Ensure database directory exists
	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}

	// Ensure accounts directory exists
	if err := ensureDir(filepath.Dir(cfg.AccountsPath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory locations
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", appDirName, ".env"),
			filepath.Join(home, ".mosoblgaz", ".env"),
		)
	}

	// Parent directories (useful for development)
	if cwd, err := os.Getwd(); err == nil {
		parent := filepath.Dir(cwd)
		paths = append(paths, filepath.Join(parent, ".env"))
		grandparent := filepath.Dir(parent)
		paths = append(paths, filepath.Join(grandparent, ".env"))
	}

	return paths
}

// getDefaultPath returns name inside the application config directory.
func getDefaultPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".config", appDirName, name)
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default.
// Accepts strconv.ParseBool values plus "yes"/"no" and "on"/"off".
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return defaultValue
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
