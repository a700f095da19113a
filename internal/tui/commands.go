package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gephgui/internal/autoupdate"
	"gephgui/internal/daemon"
	"gephgui/internal/storage"
)

const historyLimit = 10

// loadArgs fetches the daemon arguments used last time.
func loadArgs(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		cfg, _, err := daemon.LoadLastArgs(context.Background(), store)
		return argsLoadedMsg{cfg: cfg, err: err}
	}
}

// saveArgs persists the daemon arguments after a settings change.
func saveArgs(store storage.Storage, key string, cfg daemon.DaemonConfig) tea.Cmd {
	return func() tea.Msg {
		err := daemon.SaveLastArgs(context.Background(), store, cfg)
		return settingSavedMsg{key: key, err: err}
	}
}

// startDaemon launches the daemon and remembers its arguments.
func startDaemon(sup Supervisor, store storage.Storage, cfg daemon.DaemonConfig) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if err := sup.Start(ctx, cfg); err != nil {
			return daemonActionMsg{action: "start", err: err}
		}
		daemon.SaveLastArgs(ctx, store, cfg)
		return daemonActionMsg{action: "start"}
	}
}

func stopDaemon(sup Supervisor) tea.Cmd {
	return func() tea.Msg {
		err := sup.Stop(context.Background())
		return daemonActionMsg{action: "stop", err: err}
	}
}

func restartDaemon(sup Supervisor, cfg daemon.DaemonConfig) tea.Cmd {
	return func() tea.Msg {
		err := sup.Restart(context.Background(), cfg)
		return daemonActionMsg{action: "restart", err: err}
	}
}

// pollStatus probes the supervisor.
func pollStatus(sup Supervisor) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return statusResultMsg{status: sup.Status(ctx)}
	}
}

// statusTick returns a tea.Cmd that fires after 2 seconds.
func statusTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

func loadLogs(sup Supervisor) tea.Cmd {
	return func() tea.Msg {
		return logsLoadedMsg{lines: sup.RecentLogs()}
	}
}

// loadUpdateInfo reads the cached update metadata and the check history.
func loadUpdateInfo(deps Deps) tea.Cmd {
	return func() tea.Msg {
		var msg updateInfoMsg
		if deps.Cache != nil {
			msg.meta, msg.err = deps.Cache.LoadMetadata()
		}
		if deps.Storage != nil {
			history, err := deps.Storage.GetUpdateHistory(context.Background(), historyLimit)
			if err != nil && msg.err == nil {
				msg.err = err
			}
			msg.history = history
		}
		if deps.NextCheck != nil {
			msg.next = deps.NextCheck()
		}
		return msg
	}
}

func checkUpdate(check func(context.Context) (autoupdate.Result, error)) tea.Cmd {
	return func() tea.Msg {
		result, err := check(context.Background())
		return updateCheckedMsg{result: result, err: err}
	}
}

func openURL(open func(string) error, url string) tea.Cmd {
	return func() tea.Msg {
		return urlOpenedMsg{url: url, err: open(url)}
	}
}

// clearNotification returns a command that fires after a delay.
func clearNotification(d time.Duration, version int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
