package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// logsTabModel displays log lines captured by the LogHook.
type logsTabModel struct {
	hook       *LogHook
	viewport   viewport.Model
	lines      []string
	maxLines   int
	autoScroll bool
	width      int
	ready      bool
	filter     string // "", "info", "warn", "error"
}

type logLineMsg string

func newLogsTabModel(hook *LogHook) logsTabModel {
	return logsTabModel{hook: hook, maxLines: 2000, autoScroll: true}
}

func (m logsTabModel) Init() tea.Cmd {
	if m.hook == nil {
		return nil
	}
	return m.waitForLog
}

func (m logsTabModel) waitForLog() tea.Msg {
	line, ok := <-m.hook.Chan()
	if !ok {
		return nil
	}
	return logLineMsg(line)
}

func (m logsTabModel) Update(msg tea.Msg) (logsTabModel, tea.Cmd) {
	switch msg := msg.(type) {
	case logLineMsg:
		m.lines = append(m.lines, string(msg))
		if len(m.lines) > m.maxLines {
			m.lines = m.lines[len(m.lines)-m.maxLines:]
		}
		m.refresh()
		return m, m.waitForLog

	case tea.KeyMsg:
		switch msg.String() {
		case "a":
			m.autoScroll = !m.autoScroll
			m.refresh()
			return m, nil
		case "c":
			m.lines = nil
			m.refresh()
			return m, nil
		case "1", "2", "3", "4":
			m.filter = map[string]string{"1": "", "2": "info", "3": "warn", "4": "error"}[msg.String()]
			m.refresh()
			return m, nil
		default:
			wasAtBottom := m.viewport.AtBottom()
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			if !m.viewport.AtBottom() && wasAtBottom {
				m.autoScroll = false
			}
			if m.viewport.AtBottom() {
				m.autoScroll = true
			}
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *logsTabModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderLogs())
	if m.autoScroll {
		m.viewport.GotoBottom()
	}
}

func (m *logsTabModel) SetSize(w, h int) {
	m.width = w
	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
		m.refresh()
		return
	}
	m.viewport.Width = w
	m.viewport.Height = h
}

func (m logsTabModel) View() string {
	if !m.ready {
		return "Loading..."
	}
	return m.viewport.View()
}

func (m logsTabModel) renderLogs() string {
	var sb strings.Builder

	scrollStatus := successStyle.Render("auto-scroll")
	if !m.autoScroll {
		scrollStatus = warningStyle.Render("paused")
	}
	filterLabel := "ALL"
	if m.filter != "" {
		filterLabel = strings.ToUpper(m.filter) + "+"
	}
	sb.WriteString(titleStyle.Render(fmt.Sprintf(" Logs  %s  filter: %s  lines: %d", scrollStatus, filterLabel, len(m.lines))))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render(" a: toggle auto-scroll • c: clear • 1-4: all/info/warn/error • ↑↓: scroll"))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")

	if len(m.lines) == 0 {
		sb.WriteString(subtitleStyle.Render("Waiting for log output..."))
		return sb.String()
	}
	for _, line := range m.lines {
		if !matchLevel(m.filter, line) {
			continue
		}
		sb.WriteString(styleLine(line))
		sb.WriteString("\n")
	}
	return sb.String()
}

func matchLevel(filter, line string) bool {
	switch filter {
	case "error":
		return strings.Contains(line, "[error]") || strings.Contains(line, "[fatal]") || strings.Contains(line, "[panic]")
	case "warn":
		return strings.Contains(line, "[warn") || matchLevel("error", line)
	case "info":
		return !strings.Contains(line, "[debug]")
	default:
		return true
	}
}

func styleLine(line string) string {
	switch {
	case strings.Contains(line, "[error]"), strings.Contains(line, "[fatal]"):
		return logErrorStyle.Render(line)
	case strings.Contains(line, "[warn"):
		return logWarnStyle.Render(line)
	case strings.Contains(line, "[info"):
		return logInfoStyle.Render(line)
	case strings.Contains(line, "[debug]"):
		return logDebugStyle.Render(line)
	}
	return line
}
