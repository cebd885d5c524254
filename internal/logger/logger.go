// Package logger provides a simple wrapper around slog for structured logging.
package logger

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var level = new(slog.LevelVar)

var privacy atomic.Bool

func init() {
	privacy.Store(true)
}

// Logger is the global logger instance.
var Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

// SetLevel changes the minimum level of the global text handler.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetPrivacy toggles masking of secrets passed through Mask.
func SetPrivacy(enabled bool) {
	privacy.Store(enabled)
}

// Mask hides the middle of a secret, keeping the first 6 and last 4 characters.
// Short secrets are replaced entirely. With privacy disabled the value is returned as is.
func Mask(secret string) string {
	if !privacy.Load() {
		return secret
	}
	if secret == "" {
		return ""
	}
	if len(secret) <= 10 {
		return "***"
	}
	return secret[:6] + "..." + secret[len(secret)-4:]
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
