package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// logsModel shows the daemon's recent output in a scrollable pane.
type logsModel struct {
	view  viewport.Model
	lines []string
}

func newLogsModel() logsModel {
	return logsModel{view: viewport.New(0, 0)}
}

func (lm *logsModel) setSize(w, h int) {
	lm.view.Width = w
	lm.view.Height = max(h-2, 1)
}

func (lm *logsModel) setLines(lines []string) {
	// Keep tailing unless the user scrolled up.
	follow := lm.view.AtBottom()
	lm.lines = lines
	lm.view.SetContent(strings.Join(lines, "\n"))
	if follow {
		lm.view.GotoBottom()
	}
}

func (lm *logsModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	lm.view, cmd = lm.view.Update(msg)
	return cmd
}

func (lm *logsModel) View() string {
	title := titleStyle.Render("Daemon Logs")
	if len(lm.lines) == 0 {
		return forceHeight(title+"\n"+dimStyle.Render("No output yet"), lm.view.Width, lm.view.Height+2)
	}
	return forceHeight(title+"\n"+lm.view.View(), lm.view.Width, lm.view.Height+2)
}
