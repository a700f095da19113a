package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gephgui/internal/autoupdate"
	"gephgui/internal/daemon"
	"gephgui/internal/storage"
	"gephgui/internal/ui"
)

// Tab indices.
const (
	tabStatus   = 0
	tabLogs     = 1
	tabUpdates  = 2
	tabSettings = 3
	tabCount    = 4
)

// Supervisor is the daemon control surface the shell drives.
type Supervisor interface {
	Start(ctx context.Context, cfg daemon.DaemonConfig) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context, cfg daemon.DaemonConfig) error
	Status(ctx context.Context) daemon.Status
	RecentLogs() []string
}

// Deps holds all dependencies injected into the TUI. Cache, CheckUpdate,
// NextCheck and OpenURL are optional.
type Deps struct {
	Supervisor  Supervisor
	Storage     storage.Storage
	Cache       *autoupdate.Cache
	CheckUpdate func(ctx context.Context) (autoupdate.Result, error)
	NextCheck   func() time.Time
	OpenURL     func(url string) error
	Version     string
}

// dialog is a pending yes/no question from the bus.
type dialog struct {
	title string
	body  string
	reply chan<- bool
}

// Model is the root BubbleTea model.
type Model struct {
	deps Deps

	// Dimensions.
	width  int
	height int

	// Navigation.
	activeTab int
	showHelp  bool

	// Daemon state.
	status daemon.Status
	busy   bool
	cfg    daemon.DaemonConfig

	// Tab models.
	statusTab   statusModel
	logsTab     logsModel
	updatesTab  updatesModel
	settingsTab settingsModel

	// Questions waiting for an answer, oldest first.
	dialogs []dialog

	// Notification.
	notification    string
	notificationErr bool
	notifVersion    int

	// Spinner for async operations.
	spinner spinner.Model
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return &Model{
		deps:        deps,
		activeTab:   tabStatus,
		cfg:         daemon.DaemonConfig{Exit: daemon.AutoExit()},
		spinner:     s,
		statusTab:   newStatusModel(deps.Version),
		logsTab:     newLogsModel(),
		updatesTab:  newUpdatesModel(deps.Version),
		settingsTab: newSettingsModel(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		loadArgs(m.deps.Storage),
		pollStatus(m.deps.Supervisor),
		loadUpdateInfo(m.deps),
		statusTick(),
		m.spinner.Tick,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		ch := m.contentHeight()
		m.statusTab.setSize(msg.Width, ch)
		m.logsTab.setSize(msg.Width, ch)
		m.updatesTab.setSize(msg.Width, ch)
		m.settingsTab.setSize(msg.Width, ch)
		return m, nil

	case tea.KeyMsg:
		if len(m.dialogs) > 0 {
			return m, m.handleDialogKey(msg)
		}
		if cmd := m.handleGlobalKey(msg); cmd != nil {
			return m, cmd
		}

	// Data loading.
	case argsLoadedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Saved settings unreadable: %v", msg.err), true)
		} else {
			m.cfg = msg.cfg
		}
		m.settingsTab.setConfig(m.cfg)
	case logsLoadedMsg:
		m.logsTab.setLines(msg.lines)
	case updateInfoMsg:
		m.updatesTab.setInfo(msg)

	// Daemon lifecycle.
	case daemonActionMsg:
		m.busy = false
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("%s failed: %v", capitalize(msg.action), msg.err), true)
		} else {
			m.setNotification(actionDone(msg.action), false)
			if msg.action == "stop" {
				m.status = daemon.Status{}
			}
		}
		cmds = append(cmds, pollStatus(m.deps.Supervisor), loadLogs(m.deps.Supervisor))

	// Status polling.
	case statusTickMsg:
		cmds = append(cmds, pollStatus(m.deps.Supervisor), statusTick())
		if m.activeTab == tabLogs {
			cmds = append(cmds, loadLogs(m.deps.Supervisor))
		}
	case statusResultMsg:
		wasUp := m.status.Owned && m.status.Reachable
		m.status = msg.status
		if wasUp && !msg.status.Owned && !m.busy {
			m.setNotification("Daemon exited unexpectedly", true)
		}

	// Updates.
	case updateCheckedMsg:
		m.updatesTab.checking = false
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Update check failed: %v", msg.err), true)
		} else {
			m.setNotification(describeResult(msg.result), false)
		}
		cmds = append(cmds, loadUpdateInfo(m.deps))

	// Settings.
	case settingSavedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Save failed: %v", msg.err), true)
		} else {
			m.setNotification(fmt.Sprintf("Saved %s", msg.key), false)
		}

	// Bus.
	case busCommandMsg:
		cmds = append(cmds, m.handleBusCommand(msg.cmd))
	case urlOpenedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Could not open %s: %v", msg.url, msg.err), true)
		}

	// Notification.
	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	// Spinner.
	if m.busy || m.updatesTab.checking {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Schedule notification auto-clear when a new notification was set.
	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	// Delegate to active tab.
	if _, isKey := msg.(tea.KeyMsg); !isKey || len(m.dialogs) == 0 {
		switch m.activeTab {
		case tabLogs:
			cmds = append(cmds, m.logsTab.Update(msg))
		case tabSettings:
			cmds = append(cmds, m.settingsTab.Update(msg, m))
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := renderHeader(m.activeTab, m.status.State, m.status.Reachable, m.width)

	var content string
	if len(m.dialogs) > 0 {
		content = m.renderDialog(m.dialogs[0])
	} else {
		switch m.activeTab {
		case tabStatus:
			content = m.statusTab.View(m.status, m.cfg, m.busy, m.spinner)
		case tabLogs:
			content = m.logsTab.View()
		case tabUpdates:
			content = m.updatesTab.View(m.spinner)
		case tabSettings:
			content = m.settingsTab.View()
		}
	}

	var notif string
	if m.notification != "" {
		if m.notificationErr {
			notif = notifErrorStyle.Render("! " + m.notification)
		} else {
			notif = notifSuccessStyle.Render("* " + m.notification)
		}
	}

	helpText := renderHelpBar(m.showHelp)
	footer := renderFooter(helpText, m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	output := lipgloss.JoinVertical(lipgloss.Left, parts...)

	// Force exactly m.height lines to prevent BubbleTea rendering drift.
	return forceHeight(output, m.width, m.height)
}

// forceHeight ensures the string has exactly `height` lines, each padded to `width`.
// This prevents BubbleTea from leaving ghost lines when switching tabs.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	// Truncate excess lines.
	if len(lines) > height {
		lines = lines[:height]
	}
	// Pad missing lines with blank space.
	blank := strings.Repeat(" ", max(width, 0))
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 5
	if m.showHelp {
		overhead += 3
	}
	h := m.height - overhead
	if h < 1 {
		h = 1
	}
	return h
}

func (m *Model) handleGlobalKey(msg tea.KeyMsg) tea.Cmd {
	// Don't intercept while a setting is being edited.
	if m.activeTab == tabSettings && m.settingsTab.editing {
		return nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		m.declineAll()
		return tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return nil

	case key.Matches(msg, keys.TabNext):
		m.activeTab = (m.activeTab + 1) % tabCount
		return m.enterTab()

	case key.Matches(msg, keys.TabPrev):
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		return m.enterTab()

	case key.Matches(msg, keys.Start):
		if m.busy {
			return nil
		}
		m.busy = true
		return startDaemon(m.deps.Supervisor, m.deps.Storage, m.cfg)

	case key.Matches(msg, keys.Stop):
		if m.busy {
			return nil
		}
		m.busy = true
		return stopDaemon(m.deps.Supervisor)

	case key.Matches(msg, keys.Restart):
		if m.busy {
			return nil
		}
		m.busy = true
		return restartDaemon(m.deps.Supervisor, m.cfg)

	case key.Matches(msg, keys.Check):
		if m.deps.CheckUpdate == nil || m.updatesTab.checking {
			return nil
		}
		m.updatesTab.checking = true
		return checkUpdate(m.deps.CheckUpdate)

	case key.Matches(msg, keys.Refresh):
		return tea.Batch(
			loadArgs(m.deps.Storage),
			pollStatus(m.deps.Supervisor),
			loadLogs(m.deps.Supervisor),
			loadUpdateInfo(m.deps),
		)
	}

	return nil
}

func (m *Model) enterTab() tea.Cmd {
	switch m.activeTab {
	case tabLogs:
		return loadLogs(m.deps.Supervisor)
	case tabUpdates:
		return loadUpdateInfo(m.deps)
	}
	return nil
}

// handleBusCommand runs a command posted by a worker on the UI bus.
func (m *Model) handleBusCommand(c ui.Command) tea.Cmd {
	switch c := c.(type) {
	case ui.ShowDialog:
		m.dialogs = append(m.dialogs, dialog{title: c.Title, body: c.Body, reply: c.Reply})
	case ui.ResizeWindow:
		m.setNotification(fmt.Sprintf("Scale factor set to %.2f", c.Factor), false)
	case ui.OpenURL:
		if m.deps.OpenURL != nil {
			return openURL(m.deps.OpenURL, c.URL)
		}
		m.setNotification("Open in a browser: "+c.URL, false)
	case ui.EvalScript:
		// No front end to run scripts in.
	}
	return nil
}

func (m *Model) handleDialogKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Yes):
		m.answerDialog(true)
	case key.Matches(msg, keys.No):
		m.answerDialog(false)
	case msg.String() == "ctrl+c":
		m.declineAll()
		return tea.Quit
	}
	return nil
}

func (m *Model) answerDialog(yes bool) {
	if len(m.dialogs) == 0 {
		return
	}
	d := m.dialogs[0]
	m.dialogs = m.dialogs[1:]
	select {
	case d.reply <- yes:
	default:
	}
}

// declineAll answers every pending dialog with no.
func (m *Model) declineAll() {
	for len(m.dialogs) > 0 {
		m.answerDialog(false)
	}
}

func (m *Model) renderDialog(d dialog) string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		cardTitleStyle.Render(d.title),
		d.body,
		"",
		helpKeyStyle.Render("y")+" "+helpDescStyle.Render("yes")+
			helpSepStyle.Render("  ")+
			helpKeyStyle.Render("n")+" "+helpDescStyle.Render("no"),
	)
	w := m.width - 10
	if w < 30 {
		w = 30
	}
	box := dialogStyle.Width(w).Render(body)
	return lipgloss.Place(m.width, m.contentHeight(), lipgloss.Center, lipgloss.Center, box)
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

func actionDone(action string) string {
	switch action {
	case "start":
		return "Daemon started"
	case "stop":
		return "Daemon stopped"
	default:
		return "Daemon restarted"
	}
}

func describeResult(r autoupdate.Result) string {
	switch r {
	case autoupdate.ResultAlreadyCurrent:
		return "Already up to date"
	case autoupdate.ResultCachedFresh:
		return "Update downloaded"
	case autoupdate.ResultAlreadyCached:
		return "Update already downloaded"
	default:
		return string(r)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// NewProgram creates a bubbletea program with alt screen, and the bus
// handler that forwards posted commands into it.
func NewProgram(deps Deps) (*tea.Program, ui.Handler) {
	m := NewModel(deps)
	p := tea.NewProgram(m, tea.WithAltScreen())
	return p, BusHandler(p)
}

// BusHandler forwards UI bus commands into the program's event loop.
func BusHandler(p *tea.Program) ui.Handler {
	return ui.HandlerFunc(func(c ui.Command) {
		p.Send(busCommandMsg{cmd: c})
	})
}
