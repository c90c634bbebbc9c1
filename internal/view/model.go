package view

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andresmejia3/posesync/internal/types"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Status is the pipeline state shown under the scene.
type Status struct {
	Centroid  types.Point2D
	Capturing bool
	Sampled   int64
	Committed int64
}

// Styles for the TUI.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Marker lipgloss.Style
	Help   lipgloss.Style
	Error  lipgloss.Style
}

// DefaultStyles returns the default colour scheme.
func DefaultStyles() Styles {
	primary := lipgloss.Color("#00ff9f")
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(primary),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primary),
		Marker: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true),
		Help:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")),
	}
}

const (
	marker      = "◆"
	defaultCols = 60
	defaultRows = 18
	// title, status and help lines plus the two border rows
	chromeRows = 5
)

type toggledMsg struct {
	active bool
	err    error
}

// Model is the bubbletea model.
type Model struct {
	renderer *Renderer
	toggle   func() (bool, error)
	status   func() Status
	styles   Styles

	width, height int
	last          FrameMsg
	capturing     bool
	err           error
	quitting      bool
}

// NewModel creates the TUI model. toggle starts or stops capture and reports whether capture is
// now active; status may be nil.
func NewModel(r *Renderer, toggle func() (bool, error), status func() Status) Model {
	m := Model{
		renderer: r,
		toggle:   toggle,
		status:   status,
		styles:   DefaultStyles(),
	}
	if status != nil {
		m.capturing = status().Capturing
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.listen()
}

func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		f, ok := <-m.renderer.Frames()
		if !ok {
			return nil
		}
		return f
	}
}

func (m Model) toggleCmd() tea.Cmd {
	if m.toggle == nil {
		return nil
	}
	return func() tea.Msg {
		active, err := m.toggle()
		return toggledMsg{active: active, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyRunes:
			if len(msg.Runes) != 1 {
				break
			}
			switch msg.Runes[0] {
			case 'q':
				m.quitting = true
				return m, tea.Quit
			case 's':
				return m, m.toggleCmd()
			}
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		cols, rows := m.grid()
		m.renderer.Resize(cols, rows)

	case FrameMsg:
		m.last = msg
		return m, m.listen()

	case toggledMsg:
		m.capturing = msg.active
		m.err = msg.err
	}
	return m, nil
}

func (m Model) grid() (cols, rows int) {
	cols, rows = defaultCols, defaultRows
	if m.width > 2 {
		cols = m.width - 2
	}
	if m.height > chromeRows {
		rows = m.height - chromeRows
	}
	return cols, rows
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	cols, rows := m.grid()
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("posesync"))
	b.WriteString("\n")
	b.WriteString(m.styles.Border.Render(m.canvas(cols, rows)))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(m.styles.Error.Render("error: " + m.err.Error()))
	} else {
		b.WriteString(m.styles.Help.Render("s start/stop capture • q quit"))
	}
	return b.String()
}

func (m Model) canvas(cols, rows int) string {
	grid := make([][]string, rows)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}

	if m.last.Loaded {
		x, y, ok := m.last.Camera.Project(m.last.Position, cols, rows)
		if ok {
			c, r := int(x), int(y)
			if c >= 0 && c < cols && r >= 0 && r < rows {
				grid[r][c] = m.styles.Marker.Render(marker)
			}
		}
	}

	lines := make([]string, rows)
	for r := range grid {
		lines[r] = strings.Join(grid[r], "")
	}
	return strings.Join(lines, "\n")
}

func (m Model) statusLine() string {
	var s Status
	capturing := m.capturing
	if m.status != nil {
		s = m.status()
		capturing = s.Capturing
	}
	capture := "off"
	if capturing {
		capture = "on"
	}
	model := "loading"
	if m.last.Loaded {
		p := m.last.Position
		model = fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X(), p.Y(), p.Z())
	}
	line := fmt.Sprintf("%s %s  %s %s  %s %d",
		m.styles.Label.Render("capture"), capture,
		m.styles.Label.Render("model"), model,
		m.styles.Label.Render("frame"), m.last.Frame)
	if m.status != nil {
		line += fmt.Sprintf("  %s (%.1f, %.1f)  %s %d/%d",
			m.styles.Label.Render("centroid"), s.Centroid.X, s.Centroid.Y,
			m.styles.Label.Render("poses"), s.Committed, s.Sampled)
	}
	return line
}

// Run drives the TUI until the user quits or ctx is cancelled.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
