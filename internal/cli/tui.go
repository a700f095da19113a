package cli

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"

	"gephgui/internal/tui"
	"gephgui/internal/ui"
)

var tuiCmd = &cobra.Command{
	Use:     "ui",
	Aliases: []string{"tui"},
	Short:   "Open the interactive terminal UI",
	Long:    `Launch the full-screen terminal shell for controlling the daemon, reading its logs and managing updates.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.Lock(); err != nil {
			return err
		}

		deps := tui.Deps{
			Supervisor:  appInstance.Supervisor,
			Storage:     appInstance.Storage,
			Cache:       appInstance.Cache,
			CheckUpdate: appInstance.CheckUpdate,
			NextCheck:   appInstance.Scheduler.NextRun,
			OpenURL:     ui.OpenBrowser,
			Version:     appInstance.Current.String(),
		}

		p, handler := tui.NewProgram(deps)

		// The installer must not run under the alt screen: quit first, exit after.
		var installed atomic.Bool
		exit := func(int) {
			installed.Store(true)
			p.Quit()
		}

		err := appInstance.Run(context.Background(), handler, func(ctx context.Context) error {
			go offerCachedUpdate(ctx, appInstance.Bus, exit)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		})
		shutdownDaemon()
		if installed.Load() {
			appInstance.Close()
			os.Exit(0)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
