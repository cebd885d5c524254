// Package components provides reusable UI components for the CLI.
package components

import (
	"fmt"
	"slices"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/j-veylop/mosoblgaz-tui/internal/models"
	"github.com/j-veylop/mosoblgaz-tui/internal/ui/styles"
)

// ConsumptionPoint is the volume consumed between two readings.
type ConsumptionPoint struct {
	Period models.HistoryPeriod
	Volume float64
}

// MeterConsumption returns a meter's consumption per reading, oldest first.
func MeterConsumption(meter *models.Meter) []ConsumptionPoint {
	history := meter.History()
	points := make([]ConsumptionPoint, 0, len(history))
	for period, entry := range history {
		points = append(points, ConsumptionPoint{Period: period, Volume: float64(entry.Delta())})
	}
	slices.SortFunc(points, func(a, b ConsumptionPoint) int {
		return a.Period.Compare(b.Period)
	})
	return points
}

// RenderLineChart creates a single-series ASCII line chart.
func RenderLineChart(data []float64, width, height int, caption string) string {
	if len(data) == 0 {
		return styles.HelpStyle.Render("No data available")
	}

	// Ensure minimum dimensions
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}

	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(asciigraph.Blue),
	)
}

// RenderMeterChart plots a meter's consumption history.
func RenderMeterChart(meter *models.Meter, name string, width, height int) string {
	points := MeterConsumption(meter)
	if len(points) == 0 {
		return styles.HelpStyle.Render("No readings for " + name)
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Volume
	}
	caption := fmt.Sprintf("%s, m³ per reading (%s .. %s)", name, points[0].Period, points[len(points)-1].Period)
	return RenderLineChart(values, width, height, caption)
}

// RenderBarChart creates a simple horizontal bar chart.
func RenderBarChart(values []float64, labels []string, width int) string {
	if len(values) == 0 {
		return ""
	}

	// Find max value for scaling
	maxVal := 0.0
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal == 0 {
		maxVal = 1
	}

	maxLabelLen := 0
	for _, l := range labels {
		maxLabelLen = max(maxLabelLen, len(l))
	}

	barWidth := max(width-maxLabelLen-12, 10)

	lines := make([]string, 0, len(values))
	for i, v := range values {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}

		barLen := max(int((v/maxVal)*float64(barWidth)), 0)
		bar := strings.Repeat("█", barLen)
		lines = append(lines, fmt.Sprintf("%*s │%s %.2f", maxLabelLen, label, bar, v))
	}

	return strings.Join(lines, "\n")
}

// RenderInvoiceChart draws the totals of a group's invoices, oldest first.
func RenderInvoiceChart(invoices []*models.Invoice, width int) string {
	sorted := slices.Clone(invoices)
	slices.SortFunc(sorted, func(a, b *models.Invoice) int {
		return a.Period().Compare(b.Period())
	})

	values := make([]float64, len(sorted))
	labels := make([]string, len(sorted))
	for i, inv := range sorted {
		values[i] = inv.Total()
		labels[i] = inv.Period().String()
	}
	return RenderBarChart(values, labels, width)
}

var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// RenderSparkline creates a compact inline sparkline chart of the last width values.
func RenderSparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	maxVal := slices.Max(values)
	if maxVal <= 0 {
		maxVal = 1
	}

	var result strings.Builder
	for _, val := range values {
		normalized := int((val / maxVal) * float64(len(sparkChars)-1))
		normalized = min(max(normalized, 0), len(sparkChars)-1)
		result.WriteRune(sparkChars[normalized])
	}

	return result.String()
}
