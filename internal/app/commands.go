package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/metrics"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
	"github.com/j-veylop/mosoblgaz-tui/internal/portal"
	"github.com/j-veylop/mosoblgaz-tui/internal/services"
	"github.com/j-veylop/mosoblgaz-tui/internal/services/poller"
	"github.com/j-veylop/mosoblgaz-tui/internal/ui/components"
)

const (
	pollRunRetention = 90 * 24 * time.Hour
	defaultWidth     = 80
	chartHeight      = 8
)

func usageError(usage string) error {
	return fmt.Errorf("%w: mog %s", ErrUsage, usage)
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// login runs the interactive login and persists the resulting tokens.
func (a *App) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return usageError("login [username]")
	}

	mgr, err := a.manager(false)
	if err != nil {
		return err
	}
	defer closeManager(mgr, a.out)

	client, err := mgr.NewClient(fs.Arg(0), a.cfg.RequestTimeout)
	if err != nil {
		return err
	}

	result, err := client.Login(ctx)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if result.State == portal.NeedsCaptcha {
		image := a.saveCaptchaImage(ctx, client, result.Captcha)
		prompt := components.NewCaptchaPrompt(client.Username(), image, func(answer string) error {
			_, err := client.ContinueLogin(ctx, answer)
			return err
		})
		if err := a.runPrompt(prompt); err != nil {
			return fmt.Errorf("captcha prompt failed: %w", err)
		}
		accepted, cancelled, err := prompt.Result()
		switch {
		case cancelled:
			return errors.New("login cancelled")
		case err != nil:
			return fmt.Errorf("login failed: %w", err)
		case !accepted:
			return errors.New("login not completed")
		}
	}

	if err := mgr.SaveLogin(client); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", client.Username())

	profile, err := client.FetchProfile(ctx)
	if err != nil {
		logger.Warn("failed to load account profile", "username", client.Username(), "error", err)
		return nil
	}
	a.printProfile(profile)
	return nil
}

func (a *App) printProfile(profile *portal.Profile) {
	fmt.Fprintf(a.out, "%s, contracts: %s\n", profile.Name, strings.Join(profile.Contracts, ", "))
	if len(profile.Degraded) > 0 {
		fmt.Fprintf(a.out, "Portal reports degraded statuses: %s\n", strings.Join(profile.Degraded, ", "))
	}
	if profile.SupportPhone != "" {
		fmt.Fprintf(a.out, "Support: %s\n", profile.SupportPhone)
	}
	a.printMessages(profile.Messages)
}

// printMessages lists portal notices, sticky ones marked with "*".
func (a *App) printMessages(messages []models.MessageData) {
	if len(messages) == 0 {
		return
	}
	fmt.Fprintln(a.out, "Portal messages:")
	for _, m := range messages {
		marker := " "
		if m.IsSticky() {
			marker = "*"
		}
		level := string(m.Level)
		if level == "" {
			level = "info"
		}
		fmt.Fprintf(a.out, "%s [%s] %s\n", marker, level, strings.TrimSpace(string(m.Body)))
	}
}

// saveCaptchaImage stores the challenge image in a temp file and returns its
// path, falling back to the image URL.
func (a *App) saveCaptchaImage(ctx context.Context, client *portal.Client, captcha *portal.Captcha) string {
	fallback := ""
	if captcha != nil {
		fallback = captcha.FileURL
	}

	data, contentType, err := client.FetchCaptchaImage(ctx, captcha)
	if err != nil {
		logger.Warn("failed to download captcha image", "error", err)
		return fallback
	}

	ext := ".img"
	switch {
	case strings.Contains(contentType, "png"):
		ext = ".png"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		ext = ".jpg"
	case strings.Contains(contentType, "gif"):
		ext = ".gif"
	}

	f, err := os.CreateTemp("", "mog-captcha-*"+ext)
	if err != nil {
		logger.Warn("failed to create captcha file", "error", err)
		return fallback
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Error("failed to close captcha file", "error", err)
		}
	}()
	if _, err := f.Write(data); err != nil {
		logger.Warn("failed to write captcha file", "error", err)
		return fallback
	}
	return f.Name()
}

// show refreshes one account and prints its contracts.
func (a *App) show(ctx context.Context, args []string) error {
	fs := newFlagSet("show", a.out)
	chart := fs.Bool("chart", false, "plot meter consumption and invoice totals")
	width := fs.Int("width", defaultWidth, "output width")
	messages := fs.Bool("messages", false, "list notices the portal shows to the account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return usageError("show [--chart] [--messages] [--width N] [username]")
	}

	mgr, err := a.manager(false)
	if err != nil {
		return err
	}
	defer closeManager(mgr, a.out)

	snapshot, err := mgr.Refresh(ctx, fs.Arg(0))
	if err != nil {
		if errors.Is(err, poller.ErrCaptchaRequired) {
			return fmt.Errorf("%w (mog login %s)", err, fs.Arg(0))
		}
		if snapshot == nil || len(snapshot.Contracts) == 0 {
			return err
		}
		fmt.Fprintf(a.out, "Warning: %v, showing last known data\n", err)
	}

	opts := components.SummaryOptions{
		Options: a.opts,
		Invert:  mgr.Invert(),
		Width:   *width,
		Now:     a.now(),
	}
	fmt.Fprintln(a.out, components.RenderSummary(snapshot.Username, snapshot.Contracts, opts))

	if *chart {
		fmt.Fprint(a.out, a.renderCharts(snapshot.Contracts, *width))
	}
	if *messages {
		a.showMessages(ctx, mgr, snapshot.Username)
	}
	return nil
}

func (a *App) showMessages(ctx context.Context, mgr *services.Manager, username string) {
	client, err := mgr.NewClient(username, a.cfg.RequestTimeout)
	if err != nil {
		fmt.Fprintf(a.out, "Messages unavailable: %v\n", err)
		return
	}
	messages, err := client.FetchMessages(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Messages unavailable: %v\n", err)
		return
	}
	if len(messages) == 0 {
		fmt.Fprintln(a.out, "No portal messages")
		return
	}
	a.printMessages(messages)
}

func (a *App) renderCharts(contracts map[string]*models.Contract, width int) string {
	var b strings.Builder
	for _, number := range slices.Sorted(maps.Keys(contracts)) {
		contract := contracts[number]
		if !contract.HasData() {
			continue
		}

		if a.opts.ShowMeters(number) {
			meters, err := contract.Meters()
			if err == nil {
				for _, id := range slices.Sorted(maps.Keys(meters)) {
					name := a.opts.FormatMeterName(number, id)
					b.WriteString("\n")
					b.WriteString(components.RenderMeterChart(meters[id], name, width-12, chartHeight))
					b.WriteString("\n")
				}
			}
		}

		if a.opts.ShowInvoices(number) {
			for _, group := range models.InvoiceGroups {
				invoices, err := contract.SortedInvoices(group)
				if err != nil || len(invoices) == 0 {
					continue
				}
				b.WriteString("\n")
				b.WriteString(a.opts.FormatInvoiceName(number, string(group)))
				b.WriteString("\n")
				b.WriteString(components.RenderInvoiceChart(invoices, width))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// parseDate reads a push date in Moscow time; empty means today.
func parseDate(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now.In(models.MoscowLocation()), nil
	}
	date, err := time.ParseInLocation(time.DateOnly, value, models.MoscowLocation())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return date, nil
}

// push submits a meter reading.
func (a *App) push(ctx context.Context, args []string) error {
	const usage = "push [--date YYYY-MM-DD] [--incremental] [--force] [--account USER] <contract> <meter> <value>"

	fs := newFlagSet("push", a.out)
	dateFlag := fs.String("date", "", "reading date (default: today)")
	incremental := fs.Bool("incremental", false, "add the value to the last reading")
	force := fs.Bool("force", false, "skip the check against the last reading")
	account := fs.String("account", "", "portal login (default: active account)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return usageError(usage)
	}

	contract, meter := fs.Arg(0), fs.Arg(1)
	value, err := strconv.ParseFloat(strings.ReplaceAll(fs.Arg(2), ",", "."), 64)
	if err != nil || value < 0 {
		return fmt.Errorf("%w: value must be a non-negative number", ErrUsage)
	}
	date, err := parseDate(*dateFlag, a.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	mgr, err := a.manager(false)
	if err != nil {
		return err
	}
	defer closeManager(mgr, a.out)

	pushed, err := mgr.PushIndication(ctx, *account, contract, meter, value, date, portal.PushOptions{
		Incremental:  *incremental,
		IgnoreValues: *force,
	})
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	fmt.Fprintf(a.out, "Pushed %d to %s on %s\n",
		pushed, a.opts.FormatMeterName(contract, meter), date.Format(time.DateOnly))
	return nil
}

// poll runs the scheduler until ctx is cancelled.
func (a *App) poll(ctx context.Context, args []string) error {
	fs := newFlagSet("poll", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	mgr, err := a.manager(true)
	if err != nil {
		return err
	}
	defer closeManager(mgr, a.out)

	if pruned, err := mgr.Database().PrunePollRuns(pollRunRetention); err != nil {
		logger.Warn("failed to prune poll runs", "error", err)
	} else if pruned > 0 {
		logger.Info("pruned poll runs", "count", pruned)
	}

	if a.cfg.MetricsAddr != "" {
		shutdown := serveMetrics(a.cfg.MetricsAddr)
		defer shutdown()
	}

	events, _ := mgr.Subscribe()
	defer mgr.Unsubscribe(events)

	mgr.Start(ctx)
	logger.Info("polling started", "interval", a.cfg.PollInterval, "accounts", mgr.Accounts().Count())

	for {
		select {
		case <-ctx.Done():
			logger.Info("polling stopped")
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(event)
		}
	}
}

func logEvent(event services.ServiceEvent) {
	switch e := event.(type) {
	case services.ContractsUpdatedEvent:
		logger.Info("contracts updated",
			"username", e.Username,
			"contracts", len(e.Snapshot.Contracts),
			"added", len(e.Delta.Added),
			"removed", len(e.Delta.Removed))
	case services.CaptchaRequiredEvent:
		logger.Warn("captcha required", "username", e.Username)
	case services.ErrorEvent:
		logger.Error("service error", "service", e.Service, "username", e.Username, "error", e.Error)
	case services.AccountsChangedEvent:
		logger.Info("accounts changed", "count", len(e.Accounts))
	}
}

// serveMetrics exposes /metrics and returns a shutdown func.
func serveMetrics(addr string) func() {
	metrics.Init()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
	}
}

// runs prints recent poll runs and indication pushes.
func (a *App) runs(_ context.Context, args []string) error {
	fs := newFlagSet("runs", a.out)
	limit := fs.Int("limit", 10, "rows to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 || *limit <= 0 {
		return usageError("runs [--limit N] [username]")
	}

	mgr, err := a.manager(false)
	if err != nil {
		return err
	}
	defer closeManager(mgr, a.out)

	username := fs.Arg(0)
	if username == "" {
		if acc := mgr.Accounts().GetActiveAccount(); acc != nil {
			username = acc.Username
		}
	}

	runs, err := mgr.Database().GetRecentPollRuns(username, *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tCONTRACTS\tDURATION\tERROR")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			run.StartedAt.Local().Format(time.DateTime), run.Outcome, run.Contracts,
			time.Duration(run.DurationMs)*time.Millisecond, run.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	pushes, err := mgr.Database().GetRecentIndicationPushes(username, *limit)
	if err != nil {
		return err
	}
	if len(pushes) == 0 {
		return nil
	}

	fmt.Fprintln(a.out)
	w = tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PUSHED FOR\tCONTRACT\tMETER\tVALUE\tRESULT")
	for _, p := range pushes {
		result := "ok"
		if !p.Success {
			result = fmt.Sprintf("error %d: %s", p.ErrorCode, p.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			p.PushedFor.Format(time.DateOnly), p.Contract, p.Meter, p.Value, result)
	}
	return w.Flush()
}

// accounts manages the accounts file.
func (a *App) accounts(_ context.Context, args []string) error {
	const usage = "accounts add [--password P] <username> | remove <username> | list"
	if len(args) == 0 {
		return usageError(usage)
	}

	mgr, err := a.manager(false)
	if err != nil {
		return err
	}
	defer closeManager(mgr, a.out)
	svc := mgr.Accounts()

	switch args[0] {
	case "list":
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tUSERNAME\tALIAS\tENABLED\tLAST USED")
		active := svc.GetActiveAccountID()
		for _, acc := range svc.GetAccounts() {
			marker := ""
			if acc.ID == active {
				marker = "*"
			}
			lastUsed := "never"
			if !acc.LastUsed.IsZero() {
				lastUsed = acc.LastUsed.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", marker, acc.Username, acc.Alias, !acc.Disabled, lastUsed)
		}
		return w.Flush()

	case "add":
		fs := newFlagSet("accounts add", a.out)
		password := fs.String("password", "", "portal password (prompted when omitted)")
		alias := fs.String("alias", "", "display name")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return usageError(usage)
		}
		if *password == "" {
			fmt.Fprint(a.out, "Password: ")
			line, err := bufio.NewReader(a.in).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read password: %w", err)
			}
			*password = strings.TrimSpace(line)
		}
		if *password == "" {
			return fmt.Errorf("%w: password is required", ErrUsage)
		}
		err := svc.AddAccount(models.Account{
			Username: fs.Arg(0),
			Password: *password,
			Alias:    *alias,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Added %s\n", fs.Arg(0))
		return nil

	case "remove":
		if len(args) != 2 {
			return usageError(usage)
		}
		acc := svc.GetAccount(args[1])
		if acc == nil {
			return fmt.Errorf("%w: %s", services.ErrUnknownAccount, args[1])
		}
		if err := svc.DeleteAccount(acc.ID); err != nil {
			return err
		}
		if err := mgr.Database().DeleteSession(acc.Username); err != nil {
			logger.Warn("failed to delete session", "username", acc.Username, "error", err)
		}
		fmt.Fprintf(a.out, "Removed %s\n", acc.Username)
		return nil
	}

	return usageError(usage)
}
