package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"gephgui/internal/daemon"
)

type statusModel struct {
	width   int
	height  int
	version string
}

func newStatusModel(version string) statusModel {
	return statusModel{version: version}
}

func (sm *statusModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
}

func (sm *statusModel) View(st daemon.Status, cfg daemon.DaemonConfig, busy bool, sp spinner.Model) string {
	var sections []string

	state := dimStyle.Render("Stopped")
	switch {
	case busy:
		state = sp.View() + " " + warningStyle.Render("Working...")
	case st.Reachable && st.Owned:
		state = successStyle.Render("Running")
	case st.Reachable:
		state = warningStyle.Render("Running (not owned)")
	case st.State == daemon.StateStarting:
		state = warningStyle.Render("Starting")
	}

	daemonRows := []string{sm.row("Status", state)}
	if st.Owned {
		mode := "proxy"
		if st.VPN {
			mode = "vpn"
		}
		daemonRows = append(daemonRows,
			sm.row("Mode", mode),
			sm.row("Launched via", st.Strategy),
			sm.row("Started", st.StartedAt.Format("15:04:05")),
			sm.row("Uptime", formatDuration(time.Since(st.StartedAt))),
		)
	}
	if !st.Reachable && !busy {
		daemonRows = append(daemonRows, "", dimStyle.Render("Press 'c' to connect"))
	}
	sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
		append([]string{cardTitleStyle.Render("Daemon")}, daemonRows...)...,
	))

	argRows := []string{
		sm.row("Exit", cfg.Exit.Short()),
		sm.row("Account", maskSecret(cfg.Secret)),
		sm.row("Global VPN", onOff(cfg.GlobalVPN)),
		sm.row("System proxy", onOff(cfg.ProxyAutoconf)),
		sm.row("Version", sm.version),
	}
	sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
		append([]string{cardTitleStyle.Render("Connection")}, argRows...)...,
	))

	// Layout: side by side if wide enough.
	w := sm.width - 6
	if w < 30 {
		w = 30
	}

	var content string
	if sm.width > 80 {
		halfW := (w - 4) / 2
		left := cardStyle.Width(halfW).Render(sections[0])
		right := cardStyle.Width(halfW).Render(sections[1])
		content = lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
	} else {
		var rendered []string
		for _, s := range sections {
			rendered = append(rendered, cardStyle.Width(w).Render(s))
		}
		content = lipgloss.JoinVertical(lipgloss.Left, rendered...)
	}
	return forceHeight(content, sm.width, sm.height)
}

func (sm *statusModel) row(label, value string) string {
	return cardLabelStyle.Render(label+":") + " " + cardValueStyle.Render(value)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// maskSecret keeps the last four characters of an account secret.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 4:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
