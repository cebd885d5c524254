package components

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/mosoblgaz-tui/internal/config"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
	"github.com/j-veylop/mosoblgaz-tui/internal/ui/styles"
)

const (
	minSummaryWidth = 40
	sparklineWidth  = 12
)

// SummaryOptions control how contracts are rendered.
type SummaryOptions struct {
	Now     time.Time
	Options *config.Options
	Width   int
	Invert  bool
}

func (o SummaryOptions) normalized() SummaryOptions {
	if o.Options == nil {
		o.Options = config.DefaultOptions()
	}
	o.Width = max(o.Width, minSummaryWidth)
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// RenderSummary renders every contract of an account, sorted by number.
func RenderSummary(username string, contracts map[string]*models.Contract, opts SummaryOptions) string {
	opts = opts.normalized()

	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render(username))
	b.WriteString("\n")

	if len(contracts) == 0 {
		b.WriteString(styles.HelpStyle.Render("No contracts"))
		return b.String()
	}

	for _, number := range slices.Sorted(maps.Keys(contracts)) {
		b.WriteString(RenderContract(contracts[number], opts))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderContract renders one contract card.
func RenderContract(contract *models.Contract, opts SummaryOptions) string {
	opts = opts.normalized()
	inner := opts.Width - 4
	number := contract.Number()

	lines := []string{styles.SubTitleStyle.Render(ansi.Truncate(opts.Options.FormatContractName(number), inner, "…"))}

	if !contract.HasData() {
		lines = append(lines, styles.HelpStyle.Render("Contract data not fetched yet"))
		return styles.CardStyle.Width(opts.Width).Render(strings.Join(lines, "\n"))
	}

	person, _ := contract.Person()
	alias, _ := contract.Alias()
	address, _ := contract.Address()
	department, _ := contract.DepartmentTitle()
	balance, _ := contract.Balance()

	valueWidth := inner - styles.LabelStyle.GetWidth()
	lines = append(lines,
		field("Number", number, valueWidth),
		field("Person", person, valueWidth),
	)
	if alias != "" {
		lines = append(lines, field("Alias", alias, valueWidth))
	}
	lines = append(lines,
		field("Address", address, valueWidth),
		field("Department", department, valueWidth),
		styles.LabelStyle.Render("Balance")+styles.GetChargeStyle(balance).Render(formatRUB(balance)),
	)

	if opts.Options.ShowMeters(number) {
		if section := renderMeters(contract, opts, valueWidth); section != "" {
			lines = append(lines, "", section)
		}
	}
	if opts.Options.ShowInvoices(number) {
		if section := renderInvoices(contract, opts); section != "" {
			lines = append(lines, "", section)
		}
	}

	return styles.CardStyle.Width(opts.Width).Render(strings.Join(lines, "\n"))
}

func field(label, value string, width int) string {
	if value == "" {
		value = "-"
	}
	return styles.LabelStyle.Render(label) + styles.ValueStyle.Render(ansi.Truncate(value, width, "…"))
}

func renderMeters(contract *models.Contract, opts SummaryOptions, width int) string {
	meters, err := contract.Meters()
	if err != nil || len(meters) == 0 {
		return ""
	}

	var lines []string
	for _, id := range slices.Sorted(maps.Keys(meters)) {
		meter := meters[id]
		name := opts.Options.FormatMeterName(contract.Number(), id)
		lines = append(lines, styles.InfoTextStyle.Render(ansi.Truncate(name, width, "…")))

		reading := "no readings"
		if last := meter.LastHistoryEntry(); last != nil {
			reading = fmt.Sprintf("%d m³ on %s", last.Value(), last.Period())
			volumes := consumptionValues(meter)
			if spark := RenderSparkline(volumes, sparklineWidth); spark != "" {
				reading += "  " + styles.MutedTextStyle.Render(spark)
			}
		}
		lines = append(lines, styles.LabelStyle.Render("  Reading")+reading)

		if serial := meter.Serial(); serial != "" {
			lines = append(lines, field("  Serial", serial, width))
		}
		if next, ok := meter.DateNextCheck(); ok {
			days := int(next.Sub(opts.Now).Hours() / 24)
			lines = append(lines, styles.LabelStyle.Render("  Next check")+
				styles.GetDeadlineStyle(days).Render(next.Format(time.DateOnly)))
		}
	}
	return strings.Join(lines, "\n")
}

func consumptionValues(meter *models.Meter) []float64 {
	points := MeterConsumption(meter)
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Volume
	}
	return values
}

func renderInvoices(contract *models.Contract, opts SummaryOptions) string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		styles.TableHeaderStyle.Width(10).Render("Group"),
		styles.TableHeaderStyle.Width(10).Render("Period"),
		styles.TableHeaderStyle.Width(12).Render("Total"),
		styles.TableHeaderStyle.Width(12).Render("Paid"),
		styles.TableHeaderStyle.Width(12).Render("State"),
	)

	var rows []string
	for _, group := range models.InvoiceGroups {
		last, previous, err := contract.LastAndPreviousInvoice(group)
		if err != nil {
			return ""
		}
		for _, inv := range []*models.Invoice{last, previous} {
			if inv == nil {
				continue
			}
			state := inv.ChargeState(opts.Invert)
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
				lipgloss.NewStyle().Width(10).Render(strings.ToUpper(string(group))),
				lipgloss.NewStyle().Width(10).Render(inv.Period().String()),
				lipgloss.NewStyle().Width(12).Render(formatRUB(inv.Total())),
				lipgloss.NewStyle().Width(12).Render(formatRUB(inv.Paid())),
				styles.GetChargeStyle(state).Width(12).Render(formatRUB(state)),
			))
		}
	}
	if len(rows) == 0 {
		return ""
	}
	return header + "\n" + strings.Join(rows, "\n")
}

func formatRUB(amount float64) string {
	return fmt.Sprintf("%.2f ₽", amount)
}
