package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/noahchander/labtree/internal/db"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobFetcher returns the current state of the watched job. Both the
// database-backed and the in-process extract run satisfy it.
type jobFetcher func(ctx context.Context) (*db.JobRecord, error)

// tickMsg triggers polling the job status.
type tickMsg time.Time

// jobUpdateMsg carries the updated job data.
type jobUpdateMsg struct {
	job *db.JobRecord
	err error
}

// progressModel is the bubbletea model for pipeline job progress.
type progressModel struct {
	fetch    jobFetcher
	jobID    string
	job      *db.JobRecord
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(jobID string, fetch jobFetcher) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		fetch:    fetch,
		jobID:    jobID,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job

		switch m.job.Status {
		case "complete":
			m.done = true
			return m, tea.Quit
		case "error":
			m.done = true
			if m.job.Error != "" {
				m.err = fmt.Errorf("%s", m.job.Error)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
			return m, tea.Quit
		case "cancelled":
			m.done = true
			return m, tea.Quit
		}

		return m, tickCmd()

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
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	var pct float64
	if m.job.TotalDocuments > 0 {
		pct = float64(m.job.ProcessedDocuments) / float64(m.job.TotalDocuments)
	}

	stage := m.job.Stage
	if stage == "" {
		stage = m.job.Status
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", stage))

	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d documents", m.job.ProcessedDocuments, m.job.TotalDocuments)
	if m.job.FailedDocuments > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", m.job.FailedDocuments))
	}

	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'labtree jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	if m.job != nil && m.job.Status == "cancelled" {
		return m.theme.hintStyle().Render(fmt.Sprintf("\nJob %s was cancelled.\n", m.jobID))
	}

	if m.job != nil {
		var output string
		output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		output += fmt.Sprintf("  Documents processed: %d\n", m.job.ProcessedDocuments)
		if m.job.FailedDocuments > 0 {
			output += m.theme.errorStyle().Render(fmt.Sprintf("  Documents failed:    %d\n", m.job.FailedDocuments))
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchJob polls the job in a command goroutine so Update never blocks.
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.fetch(ctx)
		return jobUpdateMsg{job: job, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runJobProgress runs the interactive progress UI until the job reaches
// a terminal state. Ctrl+C detaches; the job keeps running.
func runJobProgress(jobID string, fetch jobFetcher) error {
	model := newProgressModel(jobID, fetch)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}

var progressCmd = &cobra.Command{
	Use:   "progress <job-id>",
	Short: "Watch a running extraction job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]
		return runJobProgress(jobID, func(ctx context.Context) (*db.JobRecord, error) {
			return dbClient.GetJob(ctx, jobID)
		})
	},
}

func init() {
	rootCmd.AddCommand(progressCmd)
}
