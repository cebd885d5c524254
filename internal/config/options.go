package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default name formats.
const (
	DefaultContractName = "MOG Contract {contract_code}"
	DefaultMeterName    = "MOG Meter {meter_code}"
	DefaultInvoiceName  = "MOG {group} Invoice {contract_code}"
)

// ContractFilter selects what is shown for one contract.
type ContractFilter struct {
	Meters   *bool `yaml:"meters"`
	Invoices *bool `yaml:"invoices"`
}

// Notifications toggles desktop notifications.
type Notifications struct {
	CaptchaRequired bool `yaml:"captcha_required"`
	Debt            bool `yaml:"debt"`
	Offline         bool `yaml:"offline"`
}

// Options is the YAML options file.
type Options struct {
	Contracts      map[string]ContractFilter `yaml:"contracts"`
	InvertInvoices *bool                     `yaml:"invert_invoices"`
	ContractName   string                    `yaml:"contract_name"`
	MeterName      string                    `yaml:"meter_name"`
	InvoiceName    string                    `yaml:"invoice_name"`
	Notifications  Notifications             `yaml:"notifications"`
}

// DefaultOptions returns the options used when no file exists.
func DefaultOptions() *Options {
	return &Options{
		ContractName:  DefaultContractName,
		MeterName:     DefaultMeterName,
		InvoiceName:   DefaultInvoiceName,
		Notifications: Notifications{CaptchaRequired: true, Debt: true, Offline: true},
	}
}

// LoadOptions reads the options file. A missing file yields the defaults.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse options file: %w", err)
	}
	opts.ApplyDefaults()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// ApplyDefaults fills empty name formats.
func (o *Options) ApplyDefaults() {
	if strings.TrimSpace(o.ContractName) == "" {
		o.ContractName = DefaultContractName
	}
	if strings.TrimSpace(o.MeterName) == "" {
		o.MeterName = DefaultMeterName
	}
	if strings.TrimSpace(o.InvoiceName) == "" {
		o.InvoiceName = DefaultInvoiceName
	}
}

var knownPlaceholders = map[string][]string{
	"contract_name": {"{contract_code}"},
	"meter_name":    {"{meter_code}", "{contract_code}"},
	"invoice_name":  {"{group}", "{contract_code}"},
}

// Validate checks that every name format references only placeholders it can expand.
func (o *Options) Validate() error {
	var problems []string
	check := func(key, format string) {
		rest := format
		for _, placeholder := range knownPlaceholders[key] {
			rest = strings.ReplaceAll(rest, placeholder, "")
		}
		if strings.ContainsAny(rest, "{}") {
			problems = append(problems, fmt.Sprintf("%s has an unknown placeholder: %q", key, format))
		}
	}
	check("contract_name", o.ContractName)
	check("meter_name", o.MeterName)
	check("invoice_name", o.InvoiceName)

	if len(problems) > 0 {
		return fmt.Errorf("options validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// FormatContractName expands the contract name format.
func (o *Options) FormatContractName(contract string) string {
	return strings.NewReplacer("{contract_code}", contract).Replace(o.ContractName)
}

// FormatMeterName expands the meter name format.
func (o *Options) FormatMeterName(contract, meter string) string {
	return strings.NewReplacer("{meter_code}", meter, "{contract_code}", contract).Replace(o.MeterName)
}

// FormatInvoiceName expands the invoice name format. The group is title-cased.
func (o *Options) FormatInvoiceName(contract, group string) string {
	if group != "" {
		group = strings.ToUpper(group[:1]) + group[1:]
	}
	return strings.NewReplacer("{group}", group, "{contract_code}", contract).Replace(o.InvoiceName)
}

// ShowMeters reports whether meters of contract are shown. Unlisted contracts show everything.
func (o *Options) ShowMeters(contract string) bool {
	if f, ok := o.Contracts[contract]; ok && f.Meters != nil {
		return *f.Meters
	}
	return true
}

// ShowInvoices reports whether invoices of contract are shown.
func (o *Options) ShowInvoices(contract string) bool {
	if f, ok := o.Contracts[contract]; ok && f.Invoices != nil {
		return *f.Invoices
	}
	return true
}

// Invert resolves the invoice inversion flag; the options file wins over fallback.
func (o *Options) Invert(fallback bool) bool {
	if o.InvertInvoices != nil {
		return *o.InvertInvoices
	}
	return fallback
}
