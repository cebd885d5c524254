package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvString(t *testing.T) {
	key := "TEST_ENV_STRING"
	t.Setenv(key, "test_value")

	if got := getEnvString(key, "default"); got != "test_value" {
		t.Errorf("getEnvString() = %q, want %q", got, "test_value")
	}

	if got := getEnvString("NON_EXISTENT", "default"); got != "default" {
		t.Errorf("getEnvString() = %q, want %q", got, "default")
	}
}

func TestGetEnvDuration(t *testing.T) {
	key := "TEST_ENV_DURATION"

	tests := []struct {
		name       string
		envVal     string
		defaultVal time.Duration
		want       time.Duration
	}{
		{"ValidDuration", "1m", time.Second, time.Minute},
		{"ValidSeconds", "60", time.Second, 60 * time.Second},
		{"Invalid", "invalid", time.Second, time.Second},
		{"Empty", "", time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(key, tt.envVal)
			if got := getEnvDuration(key, tt.defaultVal); got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	key := "TEST_ENV_BOOL"

	tests := []struct {
		envVal     string
		defaultVal bool
		want       bool
	}{
		{"", true, true},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"off", true, false},
		{"false", true, false},
		{"maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.envVal, func(t *testing.T) {
			t.Setenv(key, tt.envVal)
			if got := getEnvBool(key, tt.defaultVal); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.envVal, got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "dir")

	if err := ensureDir(path); err != nil {
		t.Fatalf("ensureDir() failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("directory was not created")
	}

	if err := ensureDir(""); err != nil {
		t.Error("ensureDir(\"\") should not error")
	}
}

func TestGetDefaultPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Skipping test because user home dir cannot be found")
	}

	want := filepath.Join(home, ".config", "mosoblgaz-tui", "mosoblgaz.db")
	if got := getDefaultPath("mosoblgaz.db"); got != want {
		t.Errorf("getDefaultPath() = %q, want %q", got, want)
	}
}

func TestGetEnvPaths(t *testing.T) {
	paths := getEnvPaths()
	if len(paths) == 0 {
		t.Fatal("getEnvPaths() returned empty list")
	}

	cwd, _ := os.Getwd()
	if paths[0] != filepath.Join(cwd, ".env") {
		t.Errorf("getEnvPaths()[0] = %q, want current directory .env", paths[0])
	}
}

// isolate points HOME and the working directory at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	for _, key := range []string{
		"MOSOBLGAZ_USERNAME", "MOSOBLGAZ_PASSWORD", "DATABASE_PATH", "ACCOUNTS_PATH",
		"OPTIONS_PATH", "POLL_INTERVAL", "REQUEST_TIMEOUT", "INVERT_INVOICES",
		"PRIVACY_LOGGING", "METRICS_ADDR", "MOG_DEBUG",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func TestLoad(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("DATABASE_PATH", filepath.Join(tmpDir, "data", "db.sqlite"))
	t.Setenv("POLL_INTERVAL", "15m")
	t.Setenv("INVERT_INVOICES", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.PollInterval != 15*time.Minute {
		t.Errorf("PollInterval = %v, want 15m", cfg.PollInterval)
	}
	if cfg.RequestTimeout != defaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, defaultRequestTimeout)
	}
	if !cfg.InvertInvoices || !cfg.PrivacyLogging || cfg.Debug {
		t.Errorf("unexpected flags: %+v", cfg)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want disabled", cfg.MetricsAddr)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "data")); err != nil {
		t.Errorf("database directory was not created: %v", err)
	}
	if want := filepath.Join(tmpDir, ".config", "mosoblgaz-tui", "accounts.json"); cfg.AccountsPath != want {
		t.Errorf("AccountsPath = %q, want %q", cfg.AccountsPath, want)
	}
}

func TestLoad_WithEnvFile(t *testing.T) {
	tmpDir := isolate(t)
	content := "MOSOBLGAZ_USERNAME=env-user\nMOSOBLGAZ_PASSWORD=env-secret\nPRIVACY_LOGGING=false\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	// godotenv does not override set variables, so unset the isolated blanks
	for _, key := range []string{"MOSOBLGAZ_USERNAME", "MOSOBLGAZ_PASSWORD", "PRIVACY_LOGGING"} {
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for _, key := range []string{"MOSOBLGAZ_USERNAME", "MOSOBLGAZ_PASSWORD", "PRIVACY_LOGGING"} {
			os.Unsetenv(key)
		}
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Username != "env-user" || cfg.Password != "env-secret" {
		t.Errorf("credentials = %q/%q", cfg.Username, cfg.Password)
	}
	if cfg.PrivacyLogging {
		t.Error("PrivacyLogging should be disabled by .env")
	}
}
