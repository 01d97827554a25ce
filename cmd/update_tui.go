package cmd

import (
	"context"
	"fmt"

	"modkeeper/coordinator"
	"modkeeper/updater"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// progressMsg carries one finished mod of a refresh pass.
type progressMsg updater.Progress

// doneMsg ends the pass.
type doneMsg struct {
	summary updater.Summary
	err     error
}

// UpdateModel controls the UI for the update command
type UpdateModel struct {
	spinner  spinner.Model
	progress chan updater.Progress
	done     chan doneMsg
	start    func()

	// State
	status    string
	completed []string
	errors    []string
	summary   string
	err       error
	finished  bool
}

func initialUpdateModel(start func(onProgress func(updater.Progress)) (updater.Summary, error)) UpdateModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := UpdateModel{
		spinner:  s,
		progress: make(chan updater.Progress, 100), // Buffer slightly to avoid blocking
		done:     make(chan doneMsg, 1),
		status:   "Checking for updates...",
	}
	m.start = func() {
		sum, err := start(func(p updater.Progress) { m.progress <- p })
		m.done <- doneMsg{summary: sum, err: err}
	}
	return m
}

func (m UpdateModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startUpdate(),
		m.waitForActivity(),
	)
}

func (m UpdateModel) startUpdate() tea.Cmd {
	return func() tea.Msg {
		go m.start()
		return nil
	}
}

func (m UpdateModel) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		select {
		case p := <-m.progress:
			return progressMsg(p)
		case d := <-m.done:
			select {
			case p := <-m.progress:
				m.done <- d // deliver after the remaining progress
				return progressMsg(p)
			default:
				return d
			}
		}
	}
}

func (m UpdateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		// If done, allow any key to exit
		if m.finished {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		m.status = fmt.Sprintf("Checked %d of %d", msg.Done, msg.Total)
		r := msg.Result
		switch r.Status {
		case updater.StatusFailed:
			m.errors = append(m.errors, r.String())
		case updater.StatusUpToDate:
		default:
			m.completed = append(m.completed, fmt.Sprintf("%s %s", statusLabel(r.Status), r))
		}
		return m, m.waitForActivity()

	case doneMsg:
		m.finished = true
		m.status = "Finished"
		m.err = msg.err
		m.summary = summaryLine(msg.summary)
		return m, tea.Quit
	}

	return m, nil
}

func (m UpdateModel) View() string {
	var symbol string
	if m.finished {
		symbol = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	} else {
		symbol = m.spinner.View()
	}

	s := fmt.Sprintf("\n %s %s\n\n", symbol, m.status)

	if len(m.errors) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Errors:") + "\n"
		for _, e := range m.errors {
			s += fmt.Sprintf("  • %s\n", e)
		}
		s += "\n"
	}

	// Show last few completed
	if len(m.completed) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("Completed:") + "\n"
		start := 0
		if len(m.completed) > 5 && !m.finished {
			start = len(m.completed) - 5
		}
		for i := start; i < len(m.completed); i++ {
			s += fmt.Sprintf("  • %s\n", m.completed[i])
		}
		s += "\n"
	}

	if m.finished {
		s += lipgloss.NewStyle().Bold(true).Render(m.summary) + "\n"
		if m.err != nil {
			s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render(m.err.Error()) + "\n"
		}
	}

	return s
}

func runUpdateTUI(ctx context.Context, a *app, req coordinator.Request) error {
	model := initialUpdateModel(func(onProgress func(updater.Progress)) (updater.Summary, error) {
		return a.refresh(ctx, req, onProgress)
	})
	final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(UpdateModel); ok {
		return m.err
	}
	return nil
}
