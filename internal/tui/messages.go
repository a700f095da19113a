package tui

import (
	"time"

	"gephgui/internal/autoupdate"
	"gephgui/internal/daemon"
	"gephgui/internal/storage/models"
	"gephgui/internal/ui"
)

// Data loading messages.

type argsLoadedMsg struct {
	cfg daemon.DaemonConfig
	err error
}

type logsLoadedMsg struct {
	lines []string
}

type updateInfoMsg struct {
	meta    *autoupdate.UpdateMetadata
	history []*models.UpdateEvent
	next    time.Time
	err     error
}

// Daemon lifecycle messages.

type daemonActionMsg struct {
	action string
	err    error
}

// Status polling messages.

type statusTickMsg struct{}

type statusResultMsg struct {
	status daemon.Status
}

// Update check messages.

type updateCheckedMsg struct {
	result autoupdate.Result
	err    error
}

// Settings update messages.

type settingSavedMsg struct {
	key string
	err error
}

// busCommandMsg carries a command posted on the UI bus.
type busCommandMsg struct {
	cmd ui.Command
}

type urlOpenedMsg struct {
	url string
	err error
}

// Notification message.

type clearNotificationMsg struct {
	version int
}
