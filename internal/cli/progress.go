package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/client"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// source is a batch the progress display follows.
type source interface {
	// Poll returns the current state and whether the batch finished.
	Poll(ctx context.Context) (batch.Snapshot, bool, error)
	// Cancel asks the batch to stop.
	Cancel()
	// Detachable reports whether quitting the display leaves the batch
	// running rather than cancelling it.
	Detachable() bool
}

// localSource follows a batch run by this process.
type localSource struct {
	job *batch.Job
}

func (s localSource) Poll(context.Context) (batch.Snapshot, bool, error) {
	snap := s.job.Snapshot()
	return snap, snap.Done, nil
}

func (s localSource) Cancel()          { s.job.Cancel() }
func (s localSource) Detachable() bool { return false }

// remoteSource follows a server-side job.
type remoteSource struct {
	client *client.Client
	jobID  string
}

func (s remoteSource) Poll(ctx context.Context) (batch.Snapshot, bool, error) {
	job, err := s.client.GetJob(ctx, s.jobID)
	if err != nil {
		return batch.Snapshot{}, false, err
	}
	snap := snapshotFromRecord(&job.JobRecord)
	return snap, snap.Done, nil
}

func (s remoteSource) Cancel()          {}
func (s remoteSource) Detachable() bool { return true }

// snapshotFromRecord maps a server-side job onto the engine's snapshot.
func snapshotFromRecord(r *batch.JobRecord) batch.Snapshot {
	s := batch.Snapshot{
		Total:      r.TotalItems,
		Processed:  r.Processed,
		OK:         r.OK,
		KO:         r.KO,
		NoRight:    r.NoRight,
		Messages:   r.Messages,
		Errors:     r.Errors,
		Cancelled:  r.Cancelled || r.Status == batch.StatusCanceled,
		Done:       r.Finished(),
		ETASeconds: r.ETASeconds,
	}
	if r.StartedAt != nil {
		s.StartedAt = *r.StartedAt
		end := time.Now()
		if r.CompletedAt != nil {
			end = *r.CompletedAt
		}
		s.Elapsed = end.Sub(*r.StartedAt)
		s.ElapsedSeconds = s.Elapsed.Seconds()
	}
	if s.ETASeconds != nil {
		s.ETA = time.Duration(*s.ETASeconds * float64(time.Second))
		s.ETAKnown = true
	}
	return s
}

type tickMsg time.Time

type pollMsg struct {
	snap batch.Snapshot
	done bool
	err  error
}

// progressModel is the bubbletea model for a running batch.
type progressModel struct {
	title      string
	jobID      string
	src        source
	interval   time.Duration
	snap       batch.Snapshot
	progress   progress.Model
	theme      Theme
	done       bool
	cancelling bool
	detached   bool
	err        error
}

func newProgressModel(title, jobID string, src source, interval time.Duration) progressModel {
	return progressModel{
		title:    title,
		jobID:    jobID,
		src:      src,
		interval: interval,
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.progress.Init())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.src.Detachable() {
				m.detached = true
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				m.src.Cancel()
			}
			return m, nil
		}

	case tickMsg:
		return m, m.poll()

	case pollMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.snap = msg.snap
		if msg.done {
			m.done = true
			return m, tea.Quit
		}
		return m, tick(m.interval)

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.detached {
		return m.finalView()
	}

	status := "running"
	if m.cancelling {
		status = "cancelling"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", m.theme.statusStyle().Render("["+status+"]"), m.title)
	fmt.Fprintf(&b, "%s %s\n", m.progress.ViewAs(m.snap.Percent()), progressLine(m.snap))

	hint := "Press Ctrl+C to cancel"
	if m.src.Detachable() {
		hint = "Press Ctrl+C to continue in background"
	}
	b.WriteString(m.theme.hintStyle().Render(hint))
	b.WriteString("\n")
	return b.String()
}

func (m progressModel) finalView() string {
	if m.detached {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'massactionctl jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	var head string
	switch {
	case m.snap.Cancelled:
		head = m.theme.warningStyle().Render("■ Cancelled")
	case m.snap.KO > 0 || len(m.snap.Errors) > 0:
		head = m.theme.warningStyle().Render("✓ Completed with failures")
	default:
		head = m.theme.completedStyle().Render("✓ Completed")
	}
	return head + "\n\n" + summary(m.snap)
}

func (m progressModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, done, err := m.src.Poll(ctx)
		return pollMsg{snap: snap, done: done, err: err}
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runProgress drives the interactive display until the batch finishes or
// the operator detaches. It returns the last state seen.
func runProgress(m progressModel) (progressModel, error) {
	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return m, fmt.Errorf("progress UI error: %w", err)
	}
	if fm, ok := final.(progressModel); ok {
		return fm, nil
	}
	return m, nil
}

// progressLine renders counters and the ETA on one line.
func progressLine(s batch.Snapshot) string {
	line := fmt.Sprintf("%d/%d items  ok %d  ko %d  noright %d", s.Processed, s.Total, s.OK, s.KO, s.NoRight)
	if s.ETAKnown {
		line += "  ETA " + s.ETA.Round(time.Second).String()
	}
	return line
}

// summary renders the final outcome of a batch.
func summary(s batch.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Items processed: %d/%d\n", s.Processed, s.Total)
	fmt.Fprintf(&b, "  OK:              %d\n", s.OK)
	fmt.Fprintf(&b, "  KO:              %d\n", s.KO)
	fmt.Fprintf(&b, "  No right:        %d\n", s.NoRight)
	if s.Elapsed > 0 {
		fmt.Fprintf(&b, "  Duration:        %s\n", s.Elapsed.Round(time.Millisecond))
	}
	if len(s.Messages) > 0 {
		fmt.Fprintf(&b, "\nMessages (%d):\n", len(s.Messages))
		for _, msg := range s.Messages {
			fmt.Fprintf(&b, "  • %s\n", msg)
		}
	}
	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d):\n", len(s.Errors))
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  • %s\n", e)
		}
	}
	return b.String()
}
