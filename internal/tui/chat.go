// Package tui provides the terminal user interface for Atelier.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/atelierhq/atelier/internal/orchestrator"
)

// StreamMsg wraps an orchestration stream event for the chat view.
type StreamMsg struct {
	Event orchestrator.StreamEvent
}

// RunFinishedMsg is sent when an orchestration run completes.
type RunFinishedMsg struct {
	Reply      string
	StopReason string
	Iterations int
	Err        error
}

// ChatApp is the interactive chat model. Submitted prompts are handed to
// the onSubmit callback, which runs the orchestration off the UI goroutine
// and reports back through StreamMsg and RunFinishedMsg.
type ChatApp struct {
	projectID string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	lines    []string
	running  bool
	quitting bool
	ready    bool
	width    int
	height   int

	onSubmit func(prompt string)

	// Styles
	userStyle   lipgloss.Style
	replyStyle  lipgloss.Style
	callStyle   lipgloss.Style
	resultStyle lipgloss.Style
	errStyle    lipgloss.Style
	faintStyle  lipgloss.Style
	titleStyle  lipgloss.Style
}

// NewChatApp creates a chat model for one project.
func NewChatApp(projectID string) *ChatApp {
	input := textinput.New()
	input.Placeholder = "Describe what you want built..."
	input.CharLimit = 4000
	input.Prompt = "> "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &ChatApp{
		projectID: projectID,
		input:     input,
		spinner:   sp,

		userStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true),

		replyStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		callStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		resultStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		errStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		faintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),
	}
}

// SetSubmitHandler sets the callback invoked when a prompt is submitted.
func (a *ChatApp) SetSubmitHandler(fn func(prompt string)) {
	a.onSubmit = fn
}

// Init implements tea.Model.
func (a *ChatApp) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.input.Focus())
}

// Update implements tea.Model.
func (a *ChatApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		vpHeight := msg.Height - 5
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !a.ready {
			a.viewport = viewport.New(msg.Width, vpHeight)
			a.ready = true
		} else {
			a.viewport.Width = msg.Width
			a.viewport.Height = vpHeight
		}
		a.input.Width = msg.Width - 4
		a.refreshViewport()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		case "enter":
			if a.running {
				return a, nil
			}
			prompt := strings.TrimSpace(a.input.Value())
			if prompt == "" {
				return a, nil
			}
			a.input.Reset()
			a.running = true
			a.appendLine(a.userStyle.Render("you") + " " + prompt)
			if a.onSubmit != nil {
				a.onSubmit(prompt)
			}
			return a, a.spinner.Tick
		}

	case StreamMsg:
		a.appendEvent(msg.Event)

	case RunFinishedMsg:
		a.running = false
		if msg.Err != nil {
			a.appendLine(a.errStyle.Render("error") + " " + msg.Err.Error())
		} else {
			a.appendLine(a.faintStyle.Render(
				fmt.Sprintf("run finished after %d iteration(s): %s", msg.Iterations, msg.StopReason)))
		}

	case spinner.TickMsg:
		if a.running {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// View implements tea.Model.
func (a *ChatApp) View() string {
	if a.quitting {
		return ""
	}
	if !a.ready {
		return "loading..."
	}

	title := a.titleStyle.Render("atelier · " + a.projectID)

	status := ""
	if a.running {
		status = a.spinner.View() + " working..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		a.viewport.View(),
		status,
		a.input.View(),
	)
}

func (a *ChatApp) appendEvent(ev orchestrator.StreamEvent) {
	switch ev.Type {
	case "assistant":
		a.appendLine(a.replyStyle.Render(ev.Content))
	case "function_call":
		a.appendLine(a.callStyle.Render("→ " + ev.Name))
	case "function_result":
		line := "✓ " + ev.Name
		if ev.IsError {
			line = "✗ " + ev.Name + ": " + ev.Content
			a.appendLine(a.errStyle.Render(line))
			return
		}
		a.appendLine(a.resultStyle.Render(line))
	case "system":
		a.appendLine(a.faintStyle.Render(ev.Content))
	case "error":
		a.appendLine(a.errStyle.Render(ev.Content))
	}
}

func (a *ChatApp) appendLine(line string) {
	a.lines = append(a.lines, line)
	a.refreshViewport()
}

func (a *ChatApp) refreshViewport() {
	if !a.ready {
		return
	}
	a.viewport.SetContent(strings.Join(a.lines, "\n"))
	a.viewport.GotoBottom()
}
