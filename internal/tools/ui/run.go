package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type actionMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	timeout time.Duration
	action  func(context.Context) ([]string, error)
	done    bool
	details []string
	err     error
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if m.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		details, err := m.action(ctx)
		return actionMsg{details: details, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case actionMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.done {
		return fmt.Sprintf("%s: Running...\n", m.title)
	}
	if m.err != nil {
		return fmt.Sprintf("%s: FAILED\n  error: %v\n", m.title, m.err)
	}
	out := fmt.Sprintf("%s: OK\n", m.title)
	for _, d := range m.details {
		out += "  " + d + "\n"
	}
	return out
}

// Run executes action under a minimal terminal UI and returns its outcome.
func Run(title string, timeout time.Duration, action func(context.Context) ([]string, error)) ([]string, error) {
	p := tea.NewProgram(model{title: title, timeout: timeout, action: action})
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(model)
	if !ok {
		return nil, fmt.Errorf("unexpected final model %T", final)
	}
	return m.details, m.err
}
