package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/mosoblgaz-tui/internal/ui/styles"
)

// SubmitFunc checks a CAPTCHA answer. It runs outside the UI goroutine.
type SubmitFunc func(answer string) error

// captchaResultMsg carries the outcome of a submitted answer.
type captchaResultMsg struct {
	err error
}

// CaptchaPrompt is a one-field prompt for a CAPTCHA answer.
type CaptchaPrompt struct {
	err        error
	submit     SubmitFunc
	username   string
	image      string
	input      textinput.Model
	spinner    spinner.Model
	submitting bool
	done       bool
	cancelled  bool
}

// NewCaptchaPrompt creates a prompt for username. image is where the challenge
// can be viewed (a saved file or the service URL).
func NewCaptchaPrompt(username, image string, submit SubmitFunc) *CaptchaPrompt {
	input := textinput.New()
	input.Placeholder = "characters from the image"
	input.CharLimit = 16
	input.Width = 24
	input.Focus()

	spin := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	spin.Style = lipgloss.NewStyle().Foreground(styles.Secondary)

	return &CaptchaPrompt{
		username: username,
		image:    image,
		submit:   submit,
		input:    input,
		spinner:  spin,
	}
}

// Init starts the cursor blink.
func (p *CaptchaPrompt) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles key presses and submit results.
func (p *CaptchaPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			p.cancelled = true
			return p, tea.Quit
		case "enter":
			if p.submitting {
				return p, nil
			}
			answer := strings.TrimSpace(p.input.Value())
			if answer == "" {
				return p, nil
			}
			p.submitting = true
			p.err = nil
			return p, tea.Batch(p.spinner.Tick, p.submitCmd(answer))
		}

	case captchaResultMsg:
		p.submitting = false
		p.err = msg.err
		if msg.err == nil {
			p.done = true
		}
		return p, tea.Quit
	}

	var cmd tea.Cmd
	if p.submitting {
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd
	}
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p *CaptchaPrompt) submitCmd(answer string) tea.Cmd {
	submit := p.submit
	return func() tea.Msg {
		return captchaResultMsg{err: submit(answer)}
	}
}

// View renders the prompt.
func (p *CaptchaPrompt) View() string {
	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render("CAPTCHA required for " + p.username))
	b.WriteString("\n\n")
	if p.image != "" {
		b.WriteString(styles.HelpStyle.Render("Open the image: "))
		b.WriteString(styles.InfoTextStyle.Render(p.image))
		b.WriteString("\n\n")
	}

	switch {
	case p.submitting:
		b.WriteString(p.spinner.View())
		b.WriteString(styles.MutedTextStyle.Render(" checking answer"))
	case p.done:
		b.WriteString(styles.SuccessTextStyle.Render("Logged in"))
	default:
		b.WriteString(styles.FocusedBorderStyle.Render(p.input.View()))
	}

	if p.err != nil {
		b.WriteString("\n")
		b.WriteString(styles.ErrorTextStyle.Render(p.err.Error()))
	}

	b.WriteString("\n\n")
	b.WriteString(styles.HelpKeyStyle.Render("enter"))
	b.WriteString(styles.HelpStyle.Render(" submit  "))
	b.WriteString(styles.HelpKeyStyle.Render("esc"))
	b.WriteString(styles.HelpStyle.Render(" cancel"))
	b.WriteString("\n")
	return b.String()
}

// Result reports whether the answer was accepted and the last submit error.
func (p *CaptchaPrompt) Result() (accepted, cancelled bool, err error) {
	return p.done, p.cancelled, p.err
}
