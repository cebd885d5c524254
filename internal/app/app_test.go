package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/j-veylop/mosoblgaz-tui/internal/config"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
	"github.com/j-veylop/mosoblgaz-tui/internal/portal"
	"github.com/j-veylop/mosoblgaz-tui/internal/services"
)

func newTestApp(t *testing.T, input string) (*App, *bytes.Buffer) {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := &config.Config{
		DatabasePath:   filepath.Join(tmpDir, "mog.db"),
		AccountsPath:   filepath.Join(tmpDir, "accounts.json"),
		PollInterval:   time.Hour,
		RequestTimeout: time.Second,
	}
	out := &bytes.Buffer{}
	a := New(cfg, nil, strings.NewReader(input), out)
	a.now = func() time.Time {
		return time.Date(2024, 3, 5, 12, 0, 0, 0, models.MoscowLocation())
	}
	return a, out
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    string
	}{
		{name: "no args", args: nil, wantErr: true, want: "Usage:"},
		{name: "help", args: []string{"--help"}, want: "mog push"},
		{name: "version", args: []string{"-v"}, want: "mosoblgaz-tui"},
		{name: "unknown", args: []string{"frobnicate"}, wantErr: true, want: "mog accounts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, out := newTestApp(t, "")
			err := a.Run(context.Background(), tt.args)
			if tt.wantErr != errors.Is(err, ErrUsage) {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out.String())
			}
		})
	}
}

func TestAccountsCommand(t *testing.T) {
	a, out := newTestApp(t, "")
	ctx := context.Background()

	if err := a.Run(ctx, []string{"accounts", "add", "--password", "secret", "--alias", "Dacha", "user@example.com"}); err != nil {
		t.Fatalf("accounts add failed: %v", err)
	}
	if err := a.Run(ctx, []string{"accounts", "add", "--password", "x", "USER@example.com"}); err == nil {
		t.Error("duplicate accounts add should fail")
	}

	out.Reset()
	if err := a.Run(ctx, []string{"accounts", "list"}); err != nil {
		t.Fatalf("accounts list failed: %v", err)
	}
	list := out.String()
	for _, want := range []string{"user@example.com", "Dacha", "*", "never"} {
		if !strings.Contains(list, want) {
			t.Errorf("accounts list missing %q:\n%s", want, list)
		}
	}

	out.Reset()
	if err := a.Run(ctx, []string{"accounts", "remove", "USER@example.com"}); err != nil {
		t.Fatalf("accounts remove failed: %v", err)
	}
	if !strings.Contains(out.String(), "Removed user@example.com") {
		t.Errorf("remove output = %q", out.String())
	}
	if err := a.Run(ctx, []string{"accounts", "remove", "user@example.com"}); !errors.Is(err, services.ErrUnknownAccount) {
		t.Errorf("second remove error = %v, want ErrUnknownAccount", err)
	}
}

func TestAccountsCommand_PasswordPrompt(t *testing.T) {
	a, out := newTestApp(t, "from-stdin\n")

	if err := a.Run(context.Background(), []string{"accounts", "add", "user"}); err != nil {
		t.Fatalf("accounts add failed: %v", err)
	}
	if !strings.Contains(out.String(), "Password: ") {
		t.Errorf("expected a password prompt, got %q", out.String())
	}

	mgr, err := a.manager(false)
	if err != nil {
		t.Fatalf("manager failed: %v", err)
	}
	defer mgr.Close()
	if acc := mgr.Accounts().GetAccount("user"); acc == nil || acc.Password != "from-stdin" {
		t.Errorf("GetAccount() = %+v", acc)
	}
}

func TestAccountsCommand_Usage(t *testing.T) {
	tests := [][]string{
		{"accounts"},
		{"accounts", "rename"},
		{"accounts", "add"},
		{"accounts", "remove"},
	}

	for _, args := range tests {
		a, _ := newTestApp(t, "")
		if err := a.Run(context.Background(), args); !errors.Is(err, ErrUsage) {
			t.Errorf("Run(%v) error = %v, want ErrUsage", args, err)
		}
	}

	a, _ := newTestApp(t, "")
	if err := a.Run(context.Background(), []string{"accounts", "add", "user"}); !errors.Is(err, ErrUsage) {
		t.Errorf("empty password error = %v, want ErrUsage", err)
	}
}

func TestPushCommand_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing value", args: []string{"push", "100", "m1"}},
		{name: "not a number", args: []string{"push", "100", "m1", "abc"}},
		{name: "negative", args: []string{"push", "100", "m1", "-5"}},
		{name: "bad date", args: []string{"push", "--date", "05.03.2024", "100", "m1", "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t, "")
			if err := a.Run(context.Background(), tt.args); !errors.Is(err, ErrUsage) {
				t.Errorf("Run() error = %v, want ErrUsage", err)
			}
		})
	}
}

func TestPushCommand_UnknownAccount(t *testing.T) {
	a, _ := newTestApp(t, "")

	err := a.Run(context.Background(), []string{"push", "--account", "nobody", "100", "m1", "12,5"})
	if !errors.Is(err, services.ErrUnknownAccount) {
		t.Errorf("Run() error = %v, want ErrUnknownAccount", err)
	}
}

func TestParseDate(t *testing.T) {
	now := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		value   string
		want    string
		wantErr bool
	}{
		{value: "", want: "2024-03-06"},
		{value: "2024-02-29", want: "2024-02-29"},
		{value: "2024-13-01", wantErr: true},
		{value: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseDate(tt.value, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDate(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if err == nil && got.Format(time.DateOnly) != tt.want {
			t.Errorf("parseDate(%q) = %s, want %s", tt.value, got.Format(time.DateOnly), tt.want)
		}
	}
}

func TestShowAndLogin_UnknownAccount(t *testing.T) {
	for _, args := range [][]string{{"show", "nobody"}, {"login", "nobody"}} {
		a, _ := newTestApp(t, "")
		if err := a.Run(context.Background(), args); !errors.Is(err, services.ErrUnknownAccount) {
			t.Errorf("Run(%v) error = %v, want ErrUnknownAccount", args, err)
		}
	}
}

func TestRunsCommand(t *testing.T) {
	a, out := newTestApp(t, "")

	mgr, err := a.manager(false)
	if err != nil {
		t.Fatalf("manager failed: %v", err)
	}
	started := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	if err := mgr.Database().InsertPollRun(&models.PollRun{
		ID: "run-1", Username: "user", StartedAt: started, DurationMs: 1500,
		Outcome: models.PollNeedsCaptcha, Error: "captcha required",
	}); err != nil {
		t.Fatalf("InsertPollRun failed: %v", err)
	}
	if err := mgr.Database().InsertIndicationPush(&models.IndicationPush{
		Username: "user", Contract: "100", Meter: "m1", Value: 90,
		PushedFor: started, ErrorCode: 12, Error: "rejected",
	}); err != nil {
		t.Fatalf("InsertIndicationPush failed: %v", err)
	}
	mgr.Close()

	if err := a.Run(context.Background(), []string{"runs", "user"}); err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	for _, want := range []string{"needs_captcha", "1.5s", "captcha required", "error 12: rejected", "2024-03-05"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("runs output missing %q:\n%s", want, out.String())
		}
	}

	if err := a.Run(context.Background(), []string{"runs", "--limit", "0"}); !errors.Is(err, ErrUsage) {
		t.Errorf("runs --limit 0 error = %v, want ErrUsage", err)
	}
}

func TestPollCommand_StopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, []string{"poll"}) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("poll returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not stop after cancel")
	}
}

func TestRenderCharts(t *testing.T) {
	raw := `{
		"number": "100",
		"contractData": {"number": "100", "Devices": [{"ID": "m1", "ClassCode": 10100}]},
		"metersHistory": {"number": "100", "data": [
			{"info": {"ID": "m1"}, "values": [
				{"Date": {"date": "2024-01-25 00:00:00.000000", "timezone": "Europe/Moscow"}, "V": 100, "prevV": 90},
				{"Date": {"date": "2024-02-25 00:00:00.000000", "timezone": "Europe/Moscow"}, "V": 130, "prevV": 100}
			]}
		]},
		"calculationsAndPayments": {"gas": {"02.2024": {"invoice": 150, "payment": 0, "balance": 0, "payments": []}}}
	}`
	var data models.ContractData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	contract := models.NewContract("100", nil)
	if _, err := contract.SetData(&data); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	a, _ := newTestApp(t, "")
	contracts := map[string]*models.Contract{
		"100": contract,
		"200": models.NewContract("200", []string{"x"}),
	}

	got := a.renderCharts(contracts, 60)
	for _, want := range []string{"MOG Meter m1, m³ per reading", "MOG Gas Invoice 100", "2024-02"} {
		if !strings.Contains(got, want) {
			t.Errorf("renderCharts() missing %q:\n%s", want, got)
		}
	}
}

func TestPrintProfile(t *testing.T) {
	a, out := newTestApp(t, "")
	a.printProfile(&portal.Profile{
		Name:         "Ivanov I.I.",
		SupportPhone: "8 800 100-00-00",
		Contracts:    []string{"100", "200"},
		Degraded:     []string{"coffee_break =/= false"},
		Messages: []models.MessageData{
			{Level: "warning", Sticky: "true", Body: " Pay by the 10th "},
			{Body: "Hello"},
		},
	})

	for _, want := range []string{
		"Ivanov I.I., contracts: 100, 200",
		"degraded statuses: coffee_break =/= false",
		"Support: 8 800 100-00-00",
		"* [warning] Pay by the 10th\n",
		"  [info] Hello\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintMessages_Empty(t *testing.T) {
	a, out := newTestApp(t, "")
	a.printMessages(nil)
	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing", out.String())
	}
}
