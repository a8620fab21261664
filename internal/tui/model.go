package tui

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/xpose-agent/cli/internal/tunnel"
)

const maxLogEntries = 200

// Model is the root Bubble Tea model for the xpose-agent TUI. Unlike the
// teacher's multi-tunnel model this drives exactly one session: one status
// line, one combined HTTP traffic / WebSocket session log.
type Model struct {
	client           *tunnel.Client
	origin           string
	tunnelAuthority  string
	maxBodySizeBytes int

	status    tunnel.Status
	lastError string
	log       []string

	spinner  spinner.Model
	logVP    viewport.Model
	ready    bool
	quitting bool
	width    int
	height   int

	logWidth  int
	logHeight int
}

// NewModel creates a new TUI model bound to a single tunnel client.
func NewModel(client *tunnel.Client, origin, tunnelAuthority string, maxBodySizeBytes int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	return Model{
		client:           client,
		origin:           origin,
		tunnelAuthority:  tunnelAuthority,
		maxBodySizeBytes: maxBodySizeBytes,
		status:           tunnel.StatusConnecting,
		log:              make([]string, 0, maxLogEntries),
		spinner:          s,
	}
}

// syncLayout recalculates viewport dimensions based on terminal size.
func (m *Model) syncLayout() {
	if m.width == 0 || m.height == 0 {
		return
	}

	const footerLines = 1
	const bannerLines = 7
	borderV := 2
	borderH := 2

	bodyHeight := m.height - footerLines - bannerLines
	vpWidth := m.width - borderH
	vpHeight := bodyHeight - borderV
	if vpWidth < 1 {
		vpWidth = 1
	}
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.logWidth = vpWidth
	m.logHeight = vpHeight

	if !m.ready {
		m.logVP = viewport.New(
			viewport.WithWidth(vpWidth),
			viewport.WithHeight(vpHeight),
		)
		m.logVP.MouseWheelEnabled = true
		m.logVP.MouseWheelDelta = 3
		m.updateViewportContent()
		m.ready = true
	} else {
		m.logVP.SetWidth(vpWidth)
		m.logVP.SetHeight(vpHeight)
	}
}

// Status returns the session's current connection status.
func (m Model) Status() tunnel.Status {
	return m.status
}

// Init starts the spinner and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listenForEvents(m.client))
}

// Update handles messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.client.Disconnect()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.syncLayout()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tunnelEventMsg:
		ev := msg.event
		switch ev.Type {
		case "status":
			m.status = ev.Status
			if ev.Status == tunnel.StatusUnauthorized {
				m.quitting = true
				return m, tea.Quit
			}

		case "traffic":
			if ev.Traffic != nil {
				m.appendLog(RenderTrafficLine(
					ev.Traffic.Method,
					ev.Traffic.URL,
					ev.Traffic.Status,
					ev.Traffic.Duration,
					ev.Traffic.Timestamp,
				))
			}

		case "ws":
			if ev.Ws != nil {
				m.appendLog(RenderWsLine(ev.Ws.ID, ev.Ws.Event, ev.Ws.Timestamp))
			}

		case "error":
			if ev.Err != nil {
				m.lastError = ev.Err.Error()
			}
		}

		cmds = append(cmds, listenForEvents(m.client))
	}

	if m.ready {
		var vpCmd tea.Cmd
		m.logVP, vpCmd = m.logVP.Update(msg)
		cmds = append(cmds, vpCmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogEntries {
		m.log = m.log[len(m.log)-maxLogEntries:]
	}
	if m.ready {
		m.updateViewportContent()
		m.logVP.GotoBottom()
	}
}

// updateViewportContent sets the viewport content from the log.
func (m *Model) updateViewportContent() {
	if !m.ready {
		return
	}
	content := strings.Join(m.log, "\n")
	if len(m.log) == 0 {
		content = dimStyle.Render(" Waiting for requests...")
	}
	m.logVP.SetContent(content)
}

// renderFooter builds the footer hint line.
func (m Model) renderFooter() string {
	hint := "  q quit"
	if m.ready && len(m.log) > 0 {
		pct := m.logVP.ScrollPercent()
		hint += fmt.Sprintf(" | ↑↓ scroll | %3.0f%%", pct*100)
	}
	return dimStyle.Render(hint)
}

// View renders the TUI display.
func (m Model) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}

	banner := RenderBanner(m.origin, m.tunnelAuthority, m.maxBodySizeBytes, string(m.status))
	if m.status != tunnel.StatusConnected {
		banner += "  " + m.spinner.View() + "\n"
	}
	if m.lastError != "" {
		banner += errorStyle.Render("  "+m.lastError) + "\n"
	}

	var logPanel string
	if m.ready {
		logPanel = panelBorderStyle().
			Width(m.logWidth).
			Height(m.logHeight).
			Render(m.logVP.View())
		logPanel = injectBorderTitle(logPanel, panelTitleStyle.Render(" Activity "))
	} else {
		logPanel = dimStyle.Render(" Initializing...")
	}

	footer := m.renderFooter()
	content := lipgloss.JoinVertical(lipgloss.Left, banner, logPanel, footer)

	if m.height > 0 {
		content = lipgloss.PlaceVertical(m.height, lipgloss.Top, content)
	}

	v := tea.NewView(content)
	v.AltScreen = true
	v.MouseMode = tea.MouseModeCellMotion
	return v
}

// injectBorderTitle replaces the beginning of the first line (after the
// corner) with a styled title string, producing a "─ Title ─────" border top.
func injectBorderTitle(rendered string, title string) string {
	lines := strings.SplitN(rendered, "\n", 2)
	if len(lines) == 0 {
		return rendered
	}

	topLine := lines[0]
	runes := []rune(topLine)
	titleRunes := []rune(title)

	if len(runes) < len(titleRunes)+2 {
		return rendered
	}

	copy(runes[1:], titleRunes)

	lines[0] = string(runes)
	return strings.Join(lines, "\n")
}

// ViewString returns the View content as a plain string (for testing).
func (m Model) ViewString() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(RenderBanner(m.origin, m.tunnelAuthority, m.maxBodySizeBytes, string(m.status)))
	for _, line := range m.log {
		b.WriteString(line + "\n")
	}
	return b.String()
}
