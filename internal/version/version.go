// Package version provides build version information and runtime metadata.
package version

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

const gitTimeout = 2 * time.Second

var (
	// These are set via ldflags at build time
	Version = ""
	Commit  = ""
	Date    = ""

	once sync.Once

	// execCommand is replaced in tests.
	execCommand = exec.CommandContext
)

func ensureInitialized() {
	once.Do(func() {
		if Date == "" {
			Date = time.Now().Format(time.DateOnly)
		}
		if Commit == "" {
			Commit = gitOutput("unknown", "describe", "--always", "--dirty")
		}
		if Version == "" {
			Version = strings.TrimPrefix(gitOutput("dev", "describe", "--tags", "--abbrev=0"), "v")
		}
	})
}

// gitOutput runs git and returns its trimmed output, or fallback on failure.
func gitOutput(fallback string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := execCommand(ctx, "git", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return fallback
	}
	if v := strings.TrimSpace(out.String()); v != "" {
		return v
	}
	return fallback
}

// Reset clears the values resolved from git so they are computed again.
func Reset() {
	Version = ""
	Commit = ""
	Date = ""
	once = sync.Once{}
}

// GetVersion returns the release version without a "v" prefix.
func GetVersion() string {
	ensureInitialized()
	return Version
}

// GetCommit returns the commit the binary was built from.
func GetCommit() string {
	ensureInitialized()
	return Commit
}

// GetDate returns the build date.
func GetDate() string {
	ensureInitialized()
	return Date
}

// Info returns the version line printed by `mog -v`.
func Info() string {
	ensureInitialized()
	return fmt.Sprintf("mosoblgaz-tui %s (commit: %s, built: %s, %s/%s)",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the client in portal requests.
func UserAgent() string {
	ensureInitialized()
	return "mosoblgaz-tui/" + Version
}
