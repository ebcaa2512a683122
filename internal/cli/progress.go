package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/ragserve/internal/client"
	"github.com/raphaelgruber/ragserve/internal/server"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
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

// tickMsg triggers polling the document status.
type tickMsg time.Time

// docUpdateMsg carries the refreshed document.
type docUpdateMsg struct {
	doc *server.DocumentResponse
	err error
}

// statusFraction maps processing states onto the progress bar. Chunk counts
// are only known once processing finishes, so the bar tracks states.
func statusFraction(status string) float64 {
	switch status {
	case "pending":
		return 0.15
	case "processing":
		return 0.6
	default:
		return 1.0
	}
}

// progressModel is the bubbletea model for document processing progress.
type progressModel struct {
	client   *client.Client
	agentID  string
	doc      *server.DocumentResponse
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a new progress model.
func newProgressModel(c *client.Client, agentID string, doc *server.DocumentResponse) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		agentID:  agentID,
		doc:      doc,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchDocument()

	case docUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch document status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.doc = msg.doc

		switch m.doc.Status {
		case "completed":
			m.done = true
			return m, tea.Quit
		case "failed":
			m.done = true
			if m.doc.ErrorMessage != nil {
				m.err = fmt.Errorf("%s", *m.doc.ErrorMessage)
			} else {
				m.err = fmt.Errorf("processing failed with unknown error")
			}
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

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.doc == nil {
		return "Loading document status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.doc.Status))
	progressBar := m.progress.ViewAs(statusFraction(m.doc.Status))
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, m.doc.OriginalFilename, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nProcessing continues in background.\nUse 'ragserve docs list %s' to check status.\n", m.agentID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Processing failed: %s\n", m.err))
	}

	if m.doc != nil {
		var output string
		output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		output += fmt.Sprintf("  File:    %s\n", m.doc.OriginalFilename)
		output += fmt.Sprintf("  Chunks:  %d\n", m.doc.ChunkCount)
		output += fmt.Sprintf("  Size:    %s\n", formatSize(m.doc.FileSize))
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchDocument fetches the current document status from the server.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchDocument() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		doc, err := m.client.GetDocument(ctx, m.agentID, m.doc.ID)
		return docUpdateMsg{doc: doc, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunDocumentProgress runs the interactive progress UI while a document is
// processed. Returns nil on success or Ctrl+C (background), error on
// processing failure.
func RunDocumentProgress(c *client.Client, agentID string, doc *server.DocumentResponse) error {
	model := newProgressModel(c, agentID, doc)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// Ctrl+C leaves processing running server-side, not an error.
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
