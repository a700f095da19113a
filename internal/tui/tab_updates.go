package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"gephgui/internal/autoupdate"
	"gephgui/internal/storage/models"
)

type updatesModel struct {
	width   int
	height  int
	version string

	checking bool
	meta     *autoupdate.UpdateMetadata
	history  []*models.UpdateEvent
	next     time.Time
	err      error
}

func newUpdatesModel(version string) updatesModel {
	return updatesModel{version: version}
}

func (um *updatesModel) setSize(w, h int) {
	um.width = w
	um.height = h
}

func (um *updatesModel) setInfo(msg updateInfoMsg) {
	um.meta = msg.meta
	um.history = msg.history
	um.next = msg.next
	um.err = msg.err
}

func (um *updatesModel) View(sp spinner.Model) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Updates"))
	b.WriteString("\n")

	rows := []string{um.row("Installed", um.version)}
	if um.meta != nil {
		rows = append(rows, um.row("Downloaded", successStyle.Render(um.meta.Version)))
	} else {
		rows = append(rows, um.row("Downloaded", dimStyle.Render("none")))
	}
	if !um.next.IsZero() {
		rows = append(rows, um.row("Next check", um.next.Local().Format("Jan 2 15:04")))
	}
	if um.checking {
		rows = append(rows, "", sp.View()+" Checking for updates...")
	} else {
		rows = append(rows, "", dimStyle.Render("Press 'u' to check now"))
	}
	if um.err != nil {
		rows = append(rows, warningStyle.Render(um.err.Error()))
	}

	w := um.width - 6
	if w < 30 {
		w = 30
	}
	b.WriteString(cardStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	b.WriteString("\n\n")

	b.WriteString(cardTitleStyle.Render("History"))
	b.WriteString("\n")
	if len(um.history) == 0 {
		b.WriteString(dimStyle.Render("  No checks recorded"))
	}
	for _, ev := range um.history {
		line := fmt.Sprintf("  %s  %-10s %s", ev.CreatedAt.Local().Format("2006-01-02 15:04"), ev.Result, ev.Version)
		if ev.Message != "" {
			line += "  " + dimStyle.Render(ev.Message)
		}
		b.WriteString(line + "\n")
	}

	return forceHeight(b.String(), um.width, um.height)
}

func (um *updatesModel) row(label, value string) string {
	return cardLabelStyle.Render(label+":") + " " + cardValueStyle.Render(value)
}
