package browse

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/leadflow/internal/model"
)

// RefreshInterval is how often the job list reloads while the browser is open.
const RefreshInterval = 2 * time.Second

const listLimit = 200

// Source is the subset of the job store the browser reads.
type Source interface {
	ListJobs(ctx context.Context, orgID int64, limit int) ([]model.EnrichmentJob, error)
	RecordsForSnapshot(ctx context.Context, snapshotID string, ids []int64) (map[int64]model.EnrichmentRecord, error)
	ResultsForProfiles(ctx context.Context, qualificationID int64, ids []int64) (map[int64]model.QualificationResult, error)
}

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

var (
	activeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("39")) // bright blue

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(16)

	detailValueStyle = lipgloss.NewStyle()

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)

	dividerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

var statusColors = map[model.Status]lipgloss.Color{
	model.StatusPending:    lipgloss.Color("245"), // gray
	model.StatusScraping:   lipgloss.Color("33"),  // blue
	model.StatusEnriching:  lipgloss.Color("141"), // purple
	model.StatusQualifying: lipgloss.Color("214"), // orange
	model.StatusCompleted:  lipgloss.Color("42"),  // green
	model.StatusFailed:     lipgloss.Color("196"), // red
}

var statusOrder = []model.Status{
	model.StatusPending,
	model.StatusScraping,
	model.StatusEnriching,
	model.StatusQualifying,
	model.StatusCompleted,
	model.StatusFailed,
}

func statusStyle(s model.Status) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(statusColors[s])
}

type jobsLoadedMsg struct {
	jobs []model.EnrichmentJob
	at   time.Time
	err  error
}

type refreshTickMsg struct{}

// detailLoadedMsg carries the per-profile data of one job.
type detailLoadedMsg struct {
	jobID   string
	records map[int64]model.EnrichmentRecord
	results map[int64]model.QualificationResult
	err     error
}

type browserModel struct {
	source Source
	orgID  int64

	jobs     []model.EnrichmentJob
	table    table.Model
	loaded   bool
	loadErr  string
	loadedAt time.Time
	width    int
	height   int

	view           viewState
	detailJob      model.EnrichmentJob
	detailRecords  map[int64]model.EnrichmentRecord
	detailResults  map[int64]model.QualificationResult
	detailLoading  bool
	detailError    string
	detailViewport viewport.Model
}

func newBrowserModel(source Source, orgID int64) browserModel {
	t := table.New(
		table.WithColumns(jobColumns(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("24")).
		Bold(false)
	t.SetStyles(styles)

	return browserModel{
		source:         source,
		orgID:          orgID,
		table:          t,
		detailViewport: viewport.New(80, 20),
	}
}

func jobColumns(width int) []table.Column {
	// Fixed columns take 72 cells; the job id absorbs the rest.
	idWidth := max(width-72, 12)
	return []table.Column{
		{Title: "Job", Width: idWidth},
		{Title: "Status", Width: 12},
		{Title: "Provider", Width: 12},
		{Title: "Profiles", Width: 8},
		{Title: "Qualified", Width: 9},
		{Title: "Created", Width: 16},
		{Title: "Age", Width: 7},
	}
}

func (m browserModel) Init() tea.Cmd {
	return m.loadJobs()
}

func (m browserModel) loadJobs() tea.Cmd {
	source, orgID := m.source, m.orgID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		jobs, err := source.ListJobs(ctx, orgID, listLimit)
		return jobsLoadedMsg{jobs: jobs, at: time.Now(), err: err}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(RefreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m browserModel) loadDetail(job model.EnrichmentJob) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		msg := detailLoadedMsg{jobID: job.ID}
		msg.records, msg.err = source.RecordsForSnapshot(ctx, job.Snapshot(), job.ProfileIDs)
		if msg.err == nil && job.QualificationID != nil {
			msg.results, msg.err = source.ResultsForProfiles(ctx, *job.QualificationID, job.ProfileIDs)
		}
		return msg
	}
}

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		return m, nil

	case jobsLoadedMsg:
		first := !m.loaded
		m.loaded = true
		if msg.err != nil {
			m.loadErr = msg.err.Error()
		} else {
			m.loadErr = ""
			m.loadedAt = msg.at
			m.setJobs(msg.jobs)
		}
		if m.view == viewDetail {
			m.detailViewport.SetContent(m.renderDetail())
		}
		if first {
			return m, scheduleRefresh()
		}
		return m, nil

	case refreshTickMsg:
		return m, tea.Batch(m.loadJobs(), scheduleRefresh())

	case detailLoadedMsg:
		if msg.jobID != m.detailJob.ID {
			return m, nil
		}
		m.detailLoading = false
		if msg.err != nil {
			m.detailError = fmt.Sprintf("failed to load profiles: %v", msg.err)
		} else {
			m.detailError = ""
			m.detailRecords = msg.records
			m.detailResults = msg.results
		}
		m.detailViewport.SetContent(m.renderDetail())
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}

	return m, nil
}

func (m browserModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "r":
		return m, m.loadJobs()
	case "enter":
		idx := m.table.Cursor()
		if idx < 0 || idx >= len(m.jobs) {
			return m, nil
		}
		m.view = viewDetail
		m.detailJob = m.jobs[idx]
		m.detailRecords = nil
		m.detailResults = nil
		m.detailError = ""
		m.detailLoading = true
		m.detailViewport.GotoTop()
		m.detailViewport.SetContent(m.renderDetail())
		return m, m.loadDetail(m.detailJob)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m browserModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "r":
		m.detailLoading = true
		return m, m.loadDetail(m.detailJob)
	}

	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	return m, cmd
}

// setJobs replaces the list, keeping the cursor on the same job when it is still present.
func (m *browserModel) setJobs(jobs []model.EnrichmentJob) {
	selected := ""
	if idx := m.table.Cursor(); idx >= 0 && idx < len(m.jobs) {
		selected = m.jobs[idx].ID
	}

	m.jobs = jobs
	rows := make([]table.Row, len(jobs))
	cursor := 0
	for i, j := range jobs {
		rows[i] = jobRow(j, m.loadedAt)
		if j.ID == selected {
			cursor = i
		}
		if m.view == viewDetail && j.ID == m.detailJob.ID {
			m.detailJob = j
		}
	}
	m.table.SetRows(rows)
	m.table.SetCursor(cursor)
}

func jobRow(j model.EnrichmentJob, now time.Time) table.Row {
	qualified := "-"
	if j.QualificationID != nil {
		qualified = fmt.Sprintf("#%d", *j.QualificationID)
	}
	return table.Row{
		j.ID,
		statusSymbol(j.Status) + " " + string(j.Status),
		string(j.Provider),
		fmt.Sprintf("%d", len(j.ProfileIDs)),
		qualified,
		j.CreatedAt.Local().Format("2006-01-02 15:04"),
		shortAge(now.Sub(j.CreatedAt)),
	}
}

func statusSymbol(s model.Status) string {
	switch s {
	case model.StatusCompleted:
		return "✓"
	case model.StatusFailed:
		return "✗"
	case model.StatusPending:
		return "·"
	}
	return "…"
}

func shortAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

func (m *browserModel) recalcLayout() {
	// Header (1 line) + border top/bottom (2) + status bar (1) = 4 lines overhead.
	m.table.SetColumns(jobColumns(max(m.width-4, 40)))
	m.table.SetWidth(max(m.width-2, 40))
	m.table.SetHeight(max(m.height-4, 5))

	m.detailViewport.Width = max(m.width-4, 20)
	m.detailViewport.Height = max(m.height-4, 5)
	m.detailViewport.SetContent(m.renderDetail())
}

func (m browserModel) View() string {
	if !m.loaded {
		return "Loading jobs..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m browserModel) viewList() string {
	header := headerStyle.Render(fmt.Sprintf("Organization #%d · %d jobs", m.orgID, len(m.jobs))) +
		"  " + statusCounts(m.jobs)

	body := m.table.View()
	if len(m.jobs) == 0 {
		body = hintStyle.Render("  (no jobs yet)")
	}
	content := activeBorderStyle.Render(body)

	statusText := " ↑/↓ select  enter detail  r refresh  q quit"
	if m.loadErr != "" {
		statusText = " refresh failed: " + m.loadErr
	} else if !m.loadedAt.IsZero() {
		statusText += "    updated " + m.loadedAt.Format("15:04:05")
	}
	statusBar := statusBarStyle.Width(m.width).Render(statusText)

	return header + "\n" + content + "\n" + statusBar
}

// statusCounts renders e.g. "2 scraping  5 completed", each in its status color.
func statusCounts(jobs []model.EnrichmentJob) string {
	counts := make(map[model.Status]int)
	for _, j := range jobs {
		counts[j.Status]++
	}
	var parts []string
	for _, s := range statusOrder {
		if n := counts[s]; n > 0 {
			parts = append(parts, statusStyle(s).Render(fmt.Sprintf("%d %s", n, s)))
		}
	}
	return strings.Join(parts, "  ")
}

func (m browserModel) viewDetail() string {
	title := detailTitleStyle.Render("Job Details")
	if m.detailLoading {
		title += "  (loading...)"
	}

	border := activeBorderStyle.Width(max(m.width-2, 20))
	content := border.Render(m.detailViewport.View())

	statusBar := statusBarStyle.Width(m.width).Render(" esc/backspace back  ↑/↓ scroll  r reload  q quit")
	return title + "\n" + content + "\n" + statusBar
}

func (m browserModel) renderDetail() string {
	j := m.detailJob
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(detailValueStyle.Render(value))
		b.WriteByte('\n')
	}

	addField("Job ID", j.ID)
	b.WriteString(detailLabelStyle.Render("Status"))
	b.WriteString(statusStyle(j.Status).Render(string(j.Status)))
	b.WriteByte('\n')
	addField("Provider", string(j.Provider))
	if j.SnapshotID != nil {
		addField("Snapshot", *j.SnapshotID)
	}
	if j.QualificationID != nil {
		addField("Qualification", fmt.Sprintf("#%d", *j.QualificationID))
	}
	addField("Created", j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	addField("Updated", j.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if j.CompletedAt != nil {
		addField("Finished", j.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if j.Error != "" {
		b.WriteByte('\n')
		b.WriteString(errorStyle.Render("⚠ "+j.Error) + "\n")
	}
	if m.detailError != "" {
		b.WriteByte('\n')
		b.WriteString(errorStyle.Render("⚠ "+m.detailError) + "\n")
	}

	wrapWidth := max(m.detailViewport.Width-4, 20)
	label := fmt.Sprintf("── Profiles (%d) ", len(j.ProfileIDs))
	b.WriteByte('\n')
	b.WriteString(dividerStyle.Render(label+strings.Repeat("─", max(wrapWidth-len(label), 3))) + "\n\n")

	for _, line := range profileLines(j, m.detailRecords, m.detailResults) {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

// profileLines renders one line per profile of j, best score first for
// qualified jobs and in submission order otherwise.
func profileLines(j model.EnrichmentJob, records map[int64]model.EnrichmentRecord, results map[int64]model.QualificationResult) []string {
	ids := append([]int64(nil), j.ProfileIDs...)
	if len(results) > 0 {
		sort.SliceStable(ids, func(a, b int) bool {
			return results[ids[a]].Score > results[ids[b]].Score
		})
	}

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		var parts []string
		rec, enriched := records[id]
		name := j.ProfileURL(id)
		if enriched && rec.FullName != "" {
			name = rec.FullName
		}
		parts = append(parts, name)

		if !enriched {
			parts = append(parts, hintStyle.Render("not enriched"))
		} else if role := joinRole(rec.CurrentTitle, rec.CurrentCompany); role != "" {
			parts = append(parts, role)
		}

		if r, ok := results[id]; ok && r.JobID == j.ID {
			verdict := statusStyle(model.StatusFailed).Render(fmt.Sprintf("%d ✗", r.Score))
			if r.Passed {
				verdict = statusStyle(model.StatusCompleted).Render(fmt.Sprintf("%d ✓", r.Score))
			}
			if r.LowConfidence {
				verdict += hintStyle.Render(" (low confidence)")
			}
			parts = append(parts, verdict)
		}
		if msg, ok := j.ScoringErrors[id]; ok {
			parts = append(parts, errorStyle.Render(msg))
		}
		lines = append(lines, strings.Join(parts, " · "))
	}
	return lines
}

func joinRole(title, company string) string {
	switch {
	case title != "" && company != "":
		return title + " @ " + company
	case title != "":
		return title
	}
	return company
}

// Run launches the job browser for orgID in the alternate screen.
func Run(source Source, orgID int64) error {
	p := tea.NewProgram(newBrowserModel(source, orgID), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
