package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeOptions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadOptions_Missing(t *testing.T) {
	opts, err := LoadOptions(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOptions() error = %v", err)
	}
	if opts.ContractName != DefaultContractName || !opts.Notifications.Debt {
		t.Errorf("LoadOptions() = %+v, want defaults", opts)
	}
}

func TestLoadOptions(t *testing.T) {
	path := writeOptions(t, `
contract_name: "Gas {contract_code}"
invert_invoices: true
contracts:
  "100":
    meters: false
  "200":
    invoices: false
notifications:
  debt: false
`)

	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions() error = %v", err)
	}

	if got := opts.FormatContractName("100"); got != "Gas 100" {
		t.Errorf("FormatContractName() = %q", got)
	}
	if got := opts.FormatMeterName("100", "m1"); got != "MOG Meter m1" {
		t.Errorf("FormatMeterName() = %q", got)
	}
	if got := opts.FormatInvoiceName("100", "gas"); got != "MOG Gas Invoice 100" {
		t.Errorf("FormatInvoiceName() = %q", got)
	}
	if opts.ShowMeters("100") || !opts.ShowInvoices("100") {
		t.Error("contract 100 filters not applied")
	}
	if !opts.ShowMeters("200") || opts.ShowInvoices("200") {
		t.Error("contract 200 filters not applied")
	}
	if !opts.ShowMeters("300") || !opts.ShowInvoices("300") {
		t.Error("unlisted contracts should show everything")
	}
	if !opts.Invert(false) {
		t.Error("Invert() should follow the options file")
	}
	if opts.Notifications.Debt || !opts.Notifications.Offline {
		t.Errorf("Notifications = %+v", opts.Notifications)
	}
}

func TestLoadOptions_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"Syntax", "contract_name: [", "failed to parse"},
		{"UnknownPlaceholder", `meter_name: "{serial}"`, "meter_name"},
		{"WrongScope", `contract_name: "{meter_code}"`, "contract_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadOptions(writeOptions(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadOptions() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestInvertFallback(t *testing.T) {
	opts := DefaultOptions()
	if !opts.Invert(true) || opts.Invert(false) {
		t.Error("Invert() should use the fallback when unset")
	}
}
