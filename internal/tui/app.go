package tui

import (
	"context"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spotifyauth/tokenkeeper/internal/webapi"
	sdkAuth "github.com/spotifyauth/tokenkeeper/sdk/auth"
)

const (
	tabSession = iota
	tabLogs
)

var tabNames = []string{"Session", "Logs"}

// App is the root bubbletea model.
type App struct {
	activeTab int
	session   sessionTabModel
	logs      logsTabModel
	width     int
	height    int
	ready     bool
}

// NewApp creates the root model. hook may be nil, which leaves the logs tab empty.
func NewApp(ctx context.Context, manager *sdkAuth.Manager, api *webapi.Client, storeDescription string, hook *LogHook) App {
	return App{
		session: newSessionTabModel(ctx, manager, api, storeDescription),
		logs:    newLogsTabModel(hook),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.session.Init(), a.logs.Init())
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		contentH := max(a.height-4, 1) // tab bar + status bar
		a.session.SetSize(a.width, contentH)
		a.logs.SetSize(a.width, contentH)
		return a, nil

	case logLineMsg:
		a.logs, cmd = a.logs.Update(msg)
		return a, cmd

	case clockTickMsg, snapshotMsg, tokenFetchedMsg, profileFetchedMsg:
		a.session, cmd = a.session.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "tab":
			a.activeTab = (a.activeTab + 1) % len(tabNames)
			return a, nil
		case "shift+tab":
			a.activeTab = (a.activeTab - 1 + len(tabNames)) % len(tabNames)
			return a, nil
		}
	}

	switch a.activeTab {
	case tabSession:
		a.session, cmd = a.session.Update(msg)
	case tabLogs:
		a.logs, cmd = a.logs.Update(msg)
	}
	return a, cmd
}

func (a App) View() string {
	if !a.ready {
		return "Initializing..."
	}

	var sb strings.Builder
	sb.WriteString(a.renderTabBar())
	sb.WriteString("\n")
	switch a.activeTab {
	case tabSession:
		sb.WriteString(a.session.View())
	case tabLogs:
		sb.WriteString(a.logs.View())
	}
	sb.WriteString("\n")
	sb.WriteString(a.renderStatusBar())
	return sb.String()
}

func (a App) renderTabBar() string {
	tabs := make([]string, 0, len(tabNames))
	for i, name := range tabNames {
		if i == a.activeTab {
			tabs = append(tabs, tabActiveStyle.Render(name))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(name))
		}
	}
	return tabBarStyle.Width(a.width).Render(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
}

func (a App) renderStatusBar() string {
	left := "tokenkeeper"
	right := "tab: switch • q: quit"
	width := max(a.width, 1)
	// statusBarStyle has left/right padding(1), so content area is width-2.
	gap := max(width-2-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return statusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

// Run starts the TUI and blocks until the user quits.
// output specifies where bubbletea renders. If nil, defaults to os.Stdout.
func Run(ctx context.Context, manager *sdkAuth.Manager, api *webapi.Client, storeDescription string, hook *LogHook, output io.Writer) error {
	if output == nil {
		output = os.Stdout
	}
	app := NewApp(ctx, manager, api, storeDescription, hook)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithOutput(output), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
