// Package styles defines the visual styling for the application.
package styles

import "github.com/charmbracelet/lipgloss"

// Color definitions for the Mosoblgaz theme.
var (
	// Primary colors
	Primary   = lipgloss.Color("33")  // Blue
	Secondary = lipgloss.Color("214") // Flame
	Subtle    = lipgloss.Color("240") // Gray

	// Status colors
	Success = lipgloss.Color("42")  // Green
	Error   = lipgloss.Color("196") // Red
	Warning = lipgloss.Color("220") // Yellow
	Info    = lipgloss.Color("39")  // Blue

	// Text colors
	TextPrimary   = lipgloss.Color("252")
	TextSecondary = lipgloss.Color("245")
	TextMuted     = lipgloss.Color("240")
)

// TitleStyle is used for main headings.
var TitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary)

// SubTitleStyle is used for section headings.
var SubTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Secondary)

// CardStyle creates a bordered card container.
var CardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Subtle).
	Padding(0, 1).
	MarginBottom(1)

// LabelStyle styles field labels in cards.
var LabelStyle = lipgloss.NewStyle().
	Foreground(TextSecondary).
	Width(14)

// ValueStyle styles field values in cards.
var ValueStyle = lipgloss.NewStyle().
	Foreground(TextPrimary)

// FocusedBorderStyle creates a focused border.
var FocusedBorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Primary).
	Padding(0, 1)

// HelpStyle is the base style for help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// HelpKeyStyle styles keyboard shortcut keys.
var HelpKeyStyle = lipgloss.NewStyle().
	Foreground(Primary).
	Bold(true)

// TableHeaderStyle styles table headers.
var TableHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary).
	BorderStyle(lipgloss.NormalBorder()).
	BorderBottom(true).
	BorderForeground(Subtle)

// ErrorTextStyle for error messages.
var ErrorTextStyle = lipgloss.NewStyle().
	Foreground(Error)

// SuccessTextStyle for success messages.
var SuccessTextStyle = lipgloss.NewStyle().
	Foreground(Success)

// WarningTextStyle for warning messages.
var WarningTextStyle = lipgloss.NewStyle().
	Foreground(Warning)

// InfoTextStyle for info messages.
var InfoTextStyle = lipgloss.NewStyle().
	Foreground(Info)

// MutedTextStyle for secondary details.
var MutedTextStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// GetChargeStyle returns the style for an invoice charge state or balance:
// red for debt, green for overpayment.
func GetChargeStyle(amount float64) lipgloss.Style {
	switch {
	case amount < 0:
		return ErrorTextStyle
	case amount > 0:
		return SuccessTextStyle
	default:
		return ValueStyle
	}
}

// GetDeadlineStyle returns the style for a due date that is daysLeft away.
func GetDeadlineStyle(daysLeft int) lipgloss.Style {
	switch {
	case daysLeft < 0:
		return ErrorTextStyle
	case daysLeft < 30:
		return WarningTextStyle
	default:
		return ValueStyle
	}
}

// CenterHorizontal centers content horizontally within a given width.
func CenterHorizontal(content string, width int) string {
	return lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Render(content)
}
