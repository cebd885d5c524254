// Package app implements the mog command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/mosoblgaz-tui/internal/config"
	"github.com/j-veylop/mosoblgaz-tui/internal/services"
	"github.com/j-veylop/mosoblgaz-tui/internal/version"
)

// ErrUsage is returned for malformed command lines.
var ErrUsage = errors.New("invalid usage")

// App runs mog commands against one configuration.
type App struct {
	cfg  *config.Config
	opts *config.Options
	in   io.Reader
	out  io.Writer
	now  func() time.Time
	// runPrompt drives interactive models; replaced in tests.
	runPrompt func(tea.Model) error
}

// New creates an App writing to out and reading prompts from in.
func New(cfg *config.Config, opts *config.Options, in io.Reader, out io.Writer) *App {
	if opts == nil {
		opts = config.DefaultOptions()
	}
	a := &App{
		cfg:  cfg,
		opts: opts,
		in:   in,
		out:  out,
		now:  time.Now,
	}
	a.runPrompt = func(m tea.Model) error {
		_, err := tea.NewProgram(m, tea.WithInput(a.in), tea.WithOutput(a.out)).Run()
		return err
	}
	return a
}

type command struct {
	run   func(a *App, ctx context.Context, args []string) error
	name  string
	usage string
}

var commands = []command{
	{name: "login", usage: "login [username]", run: (*App).login},
	{name: "show", usage: "show [--chart] [--messages] [--width N] [username]", run: (*App).show},
	{name: "push", usage: "push [--date YYYY-MM-DD] [--incremental] [--force] [--account USER] <contract> <meter> <value>", run: (*App).push},
	{name: "poll", usage: "poll", run: (*App).poll},
	{name: "runs", usage: "runs [--limit N] [username]", run: (*App).runs},
	{name: "accounts", usage: "accounts add [--password P] <username> | remove <username> | list", run: (*App).accounts},
}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.PrintUsage()
		return ErrUsage
	}

	switch args[0] {
	case "-v", "--version", "version":
		fmt.Fprintln(a.out, version.Info())
		return nil
	case "-h", "--help", "help":
		a.PrintUsage()
		return nil
	}

	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(a, ctx, args[1:])
		}
	}

	a.PrintUsage()
	return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
}

// PrintUsage writes the command summary.
func (a *App) PrintUsage() {
	var b strings.Builder
	b.WriteString("mog - Mosoblgaz portal client\n\nUsage:\n")
	for _, cmd := range commands {
		b.WriteString("  mog ")
		b.WriteString(cmd.usage)
		b.WriteString("\n")
	}
	b.WriteString("  mog -v | --version\n  mog -h | --help\n")
	b.WriteString(`
Environment:
  MOSOBLGAZ_USERNAME   Portal login used when no accounts file exists
  MOSOBLGAZ_PASSWORD   Password for MOSOBLGAZ_USERNAME
  DATABASE_PATH        SQLite session store
  ACCOUNTS_PATH        Accounts JSON file
  OPTIONS_PATH         YAML display options
  POLL_INTERVAL        Interval between polls (default: 1h)
  REQUEST_TIMEOUT      Portal request timeout (default: 30s)
  INVERT_INVOICES      Report overpayment as negative (default: false)
  PRIVACY_LOGGING      Mask tokens in logs (default: true)
  METRICS_ADDR         Serve Prometheus metrics during poll, e.g. :9108
  MOG_DEBUG            Enable debug logging
`)
	fmt.Fprint(a.out, b.String())
}

// manager opens the services; one-shot commands run without notifications.
func (a *App) manager(notify bool) (*services.Manager, error) {
	mgr, err := services.NewManager(a.cfg, a.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	if !notify {
		mgr.SetNotifier(nil)
	}
	return mgr, nil
}

func closeManager(mgr *services.Manager, out io.Writer) {
	if err := mgr.Close(); err != nil {
		fmt.Fprintf(out, "Warning: error closing services: %v\n", err)
	}
}
