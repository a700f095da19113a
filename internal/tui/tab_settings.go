package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gephgui/internal/daemon"
)

// settingKind distinguishes free-text settings from choice-based settings.
type settingKind int

const (
	settingText   settingKind = iota // Free-text input.
	settingChoice                    // Cycle through predefined options.
)

// settingDef defines a setting's display metadata.
type settingDef struct {
	key         string
	label       string
	description string
	defaultVal  string
	kind        settingKind
	choices     []string // Only for settingChoice.
	secret      bool     // Masked when not being edited.
}

var toggle = []string{"off", "on"}

var settingDefs = []settingDef{
	{key: "exit", label: "Exit", description: "Exit location: auto or country/city", defaultVal: "auto", kind: settingText},
	{key: "secret", label: "Account", description: "Account secret", kind: settingText, secret: true},
	{key: "global_vpn", label: "Global VPN", description: "Route all traffic through a VPN interface", defaultVal: "off", kind: settingChoice, choices: toggle},
	{key: "proxy_autoconf", label: "System Proxy", description: "Point the system proxy at the daemon", defaultVal: "off", kind: settingChoice, choices: toggle},
	{key: "listen_all", label: "Listen All", description: "Accept proxy connections from the LAN", defaultVal: "off", kind: settingChoice, choices: toggle},
	{key: "prc_whitelist", label: "PRC Bypass", description: "Connect to mainland China sites directly", defaultVal: "off", kind: settingChoice, choices: toggle},
	{key: "allow_direct", label: "Allow Direct", description: "Let the daemon use direct bridges", defaultVal: "off", kind: settingChoice, choices: toggle},
}

type settingsModel struct {
	cfg     daemon.DaemonConfig
	cursor  int
	editing bool
	input   textinput.Model
	width   int
	height  int
}

func newSettingsModel() settingsModel {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Prompt = "> "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorAccent)
	ti.TextStyle = lipgloss.NewStyle().Foreground(colorFg)

	return settingsModel{
		cfg:   daemon.DaemonConfig{Exit: daemon.AutoExit()},
		input: ti,
	}
}

func (sm *settingsModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
	sm.input.Width = w / 2
}

func (sm *settingsModel) setConfig(cfg daemon.DaemonConfig) {
	sm.cfg = cfg
}

func (sm *settingsModel) currentDef() settingDef {
	if sm.cursor >= 0 && sm.cursor < len(settingDefs) {
		return settingDefs[sm.cursor]
	}
	return settingDefs[0]
}

// choiceIndex returns the current index in the choices slice for a choice setting.
func (sm *settingsModel) choiceIndex(def settingDef) int {
	val := configValue(sm.cfg, def.key)
	for i, c := range def.choices {
		if c == val {
			return i
		}
	}
	return 0
}

func (sm *settingsModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if sm.editing {
		return sm.updateEditing(msg, root)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		def := sm.currentDef()

		switch msg.String() {
		case "up", "k":
			if sm.cursor > 0 {
				sm.cursor--
			}
		case "down", "j":
			if sm.cursor < len(settingDefs)-1 {
				sm.cursor++
			}
		case "enter":
			if def.kind == settingChoice {
				// Cycle to next choice on enter.
				return sm.cycleChoice(root, 1)
			}
			// Text setting: open editor.
			sm.editing = true
			sm.input.SetValue(configValue(sm.cfg, def.key))
			sm.input.Focus()
			return textinput.Blink
		case "left", "h":
			if def.kind == settingChoice {
				return sm.cycleChoice(root, -1)
			}
		case "right", "l":
			if def.kind == settingChoice {
				return sm.cycleChoice(root, 1)
			}
		}
	}
	return nil
}

// cycleChoice moves to the next/prev choice and saves it.
func (sm *settingsModel) cycleChoice(root *Model, dir int) tea.Cmd {
	def := sm.currentDef()
	idx := sm.choiceIndex(def)
	idx = (idx + dir + len(def.choices)) % len(def.choices)
	return sm.commit(root, def.key, def.choices[idx])
}

func (sm *settingsModel) commit(root *Model, key, val string) tea.Cmd {
	cfg, err := applyValue(sm.cfg, key, val)
	if err != nil {
		root.setNotification(err.Error(), true)
		return nil
	}
	sm.cfg = cfg
	root.cfg = cfg
	return saveArgs(root.deps.Storage, key, cfg)
}

func (sm *settingsModel) updateEditing(msg tea.Msg, root *Model) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Back):
			sm.editing = false
			sm.input.Blur()
			return nil
		case msg.String() == "enter":
			sm.editing = false
			sm.input.Blur()
			return sm.commit(root, sm.currentDef().key, strings.TrimSpace(sm.input.Value()))
		}
	}

	var cmd tea.Cmd
	sm.input, cmd = sm.input.Update(msg)
	return cmd
}

func (sm *settingsModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Settings"))
	b.WriteString("\n\n")

	for i, def := range settingDefs {
		isSelected := i == sm.cursor

		val := configValue(sm.cfg, def.key)
		if def.secret {
			val = maskSecret(val)
		}

		var line string
		if isSelected {
			label := lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Width(18).Render("> " + def.label)
			if sm.editing {
				line = label + sm.input.View()
			} else if def.kind == settingChoice {
				line = label + sm.renderChoices(def, val)
			} else {
				line = label + lipgloss.NewStyle().Foreground(colorFg).Render(val)
			}
		} else {
			label := lipgloss.NewStyle().Foreground(colorFg).Width(18).Render("  " + def.label)
			line = label + lipgloss.NewStyle().Foreground(colorDimFg).Render(val)
		}

		b.WriteString(line + "\n")

		// Show description for selected item.
		if isSelected && !sm.editing {
			hint := def.description
			if def.kind == settingChoice {
				hint += "  (enter/arrows to change)"
			} else if def.defaultVal != "" {
				hint += fmt.Sprintf("  (enter to edit, default: %s)", def.defaultVal)
			} else {
				hint += "  (enter to edit)"
			}
			b.WriteString(lipgloss.NewStyle().
				Foreground(colorDimFg).
				PaddingLeft(2).
				Render("  "+hint) + "\n")
		}
	}

	b.WriteString("\n" + dimStyle.Render("Changes apply the next time the daemon starts."))

	return forceHeight(b.String(), sm.width, sm.height)
}

// renderChoices renders the choice selector with the active choice highlighted.
func (sm *settingsModel) renderChoices(def settingDef, current string) string {
	var parts []string
	for _, c := range def.choices {
		if c == current {
			parts = append(parts, lipgloss.NewStyle().
				Bold(true).
				Foreground(colorAccent).
				Render("["+c+"]"))
		} else {
			parts = append(parts, lipgloss.NewStyle().
				Foreground(colorDimFg).
				Render(" "+c+" "))
		}
	}
	return strings.Join(parts, " ")
}

// configValue renders one daemon argument for display and editing.
func configValue(cfg daemon.DaemonConfig, key string) string {
	switch key {
	case "exit":
		return cfg.Exit.Short()
	case "secret":
		return cfg.Secret
	case "global_vpn":
		return onOff(cfg.GlobalVPN)
	case "proxy_autoconf":
		return onOff(cfg.ProxyAutoconf)
	case "listen_all":
		return onOff(cfg.ListenAll)
	case "prc_whitelist":
		return onOff(cfg.PrcWhitelist)
	case "allow_direct":
		return onOff(cfg.AllowDirect)
	}
	return ""
}

// applyValue returns cfg with one argument replaced.
func applyValue(cfg daemon.DaemonConfig, key, val string) (daemon.DaemonConfig, error) {
	switch key {
	case "exit":
		exit, err := daemon.ParseExit(val)
		if err != nil {
			return cfg, err
		}
		cfg.Exit = exit
	case "secret":
		cfg.Secret = val
	case "global_vpn":
		cfg.GlobalVPN = val == "on"
	case "proxy_autoconf":
		cfg.ProxyAutoconf = val == "on"
	case "listen_all":
		cfg.ListenAll = val == "on"
	case "prc_whitelist":
		cfg.PrcWhitelist = val == "on"
	case "allow_direct":
		cfg.AllowDirect = val == "on"
	default:
		return cfg, fmt.Errorf("unknown setting %q", key)
	}
	return cfg, nil
}
