package browse

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/leadflow/internal/config"
	"github.com/amishk599/leadflow/internal/model"
)

var (
	pickerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Padding(1, 0, 1, 2)

	pickerItemStyle = lipgloss.NewStyle().
			Padding(0, 0, 0, 4)

	pickerSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 0, 0, 2)

	pickerDetailStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	pickerHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(1, 0, 0, 2)
)

// JobCounter reports per-status job totals for an organization.
type JobCounter interface {
	JobCounts(ctx context.Context, orgID int64) (map[model.Status]int, error)
}

// OrgEntry is one organization as offered by the picker.
type OrgEntry struct {
	ID        int64
	Name      string
	Providers []string // configured provider kinds, deep scrape first
	Counts    map[model.Status]int
}

// Active is the number of jobs not yet completed or failed.
func (e OrgEntry) Active() int {
	n := 0
	for status, c := range e.Counts {
		if !status.IsTerminal() {
			n += c
		}
	}
	return n
}

func (e OrgEntry) label() string {
	if e.Name == "" {
		return fmt.Sprintf("Organization #%d", e.ID)
	}
	return fmt.Sprintf("%s (#%d)", e.Name, e.ID)
}

func (e OrgEntry) detail() string {
	providers := "no provider"
	if len(e.Providers) > 0 {
		providers = strings.Join(e.Providers, " + ")
	}
	parts := []string{providers}
	if n := e.Active(); n > 0 {
		parts = append(parts, fmt.Sprintf("%d active", n))
	}
	for _, s := range []model.Status{model.StatusCompleted, model.StatusFailed} {
		if n := e.Counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 1 {
		parts = append(parts, "no jobs")
	}
	return strings.Join(parts, " · ")
}

// LoadOrgEntries pairs each configured organization with its provider setup
// and job counts.
func LoadOrgEntries(ctx context.Context, counter JobCounter, orgs []config.OrganizationConfig) ([]OrgEntry, error) {
	entries := make([]OrgEntry, 0, len(orgs))
	for _, o := range orgs {
		counts, err := counter.JobCounts(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		e := OrgEntry{ID: o.ID, Name: o.Name, Counts: counts}
		if o.Providers.DeepScrape.Configured() {
			e.Providers = append(e.Providers, "deep scrape")
		}
		if o.Providers.Lookup.APIKey != "" {
			e.Providers = append(e.Providers, "lookup")
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type pickerModel struct {
	orgs   []OrgEntry
	cursor int
	chosen int // -1 = no choice yet, -2 = quit
}

// newPickerModel starts on the first organization with jobs in flight.
func newPickerModel(orgs []OrgEntry) pickerModel {
	m := pickerModel{orgs: orgs, chosen: -1}
	for i, o := range orgs {
		if o.Active() > 0 {
			m.cursor = i
			break
		}
	}
	return m
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.chosen = -2
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.orgs)-1 {
				m.cursor++
			}
		case "enter":
			m.chosen = m.cursor
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m pickerModel) View() string {
	s := pickerTitleStyle.Render("Enrichment Jobs · Select an organization")
	s += "\n"

	for i, o := range m.orgs {
		line := o.label() + "  " + pickerDetailStyle.Render(o.detail())
		if i == m.cursor {
			s += pickerSelectedStyle.Render("> "+line) + "\n"
		} else {
			s += pickerItemStyle.Render(line) + "\n"
		}
	}

	s += pickerHintStyle.Render("↑/↓/j/k navigate  enter select  q quit")
	return s
}

// PickOrganization shows an interactive organization selector.
// Returns the chosen organization id, or ok=false if the user quit.
func PickOrganization(orgs []OrgEntry) (int64, bool, error) {
	if len(orgs) == 1 {
		return orgs[0].ID, true, nil
	}

	result, err := tea.NewProgram(newPickerModel(orgs)).Run()
	if err != nil {
		return 0, false, err
	}

	final := result.(pickerModel)
	if final.chosen < 0 {
		return 0, false, nil
	}
	return orgs[final.chosen].ID, true, nil
}
