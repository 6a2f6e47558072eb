package browse

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// ErrCancelled is returned when the user interrupts a spinner.
var ErrCancelled = errors.New("cancelled")

type workDoneMsg struct {
	err error
}

type spinnerTickMsg struct{}

type spinnerModel struct {
	label string
	work  func(ctx context.Context) error
	frame int
	err   error
	done  bool
}

func (m spinnerModel) Init() tea.Cmd {
	return tea.Batch(m.doWork(), m.tick())
}

func (m spinnerModel) doWork() tea.Cmd {
	work := m.work
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return workDoneMsg{err: work(ctx)}
	}
}

func (m spinnerModel) tick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case workDoneMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case spinnerTickMsg:
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, m.tick()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = ErrCancelled
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	spinner := lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Render(spinnerFrames[m.frame])
	return fmt.Sprintf("%s %s...\n", spinner, m.label)
}

// RunWithSpinner shows a spinner while work runs. It renders inline (no alt screen).
func RunWithSpinner(label string, work func(ctx context.Context) error) error {
	m := spinnerModel{
		label: label,
		work:  work,
	}
	p := tea.NewProgram(m)
	result, err := p.Run()
	if err != nil {
		return err
	}
	return result.(spinnerModel).err
}
