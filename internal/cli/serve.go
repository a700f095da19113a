package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gephgui/internal/autoupdate"
	"gephgui/internal/ui"
)

var serveIPCCmd = &cobra.Command{
	Use:   "serve-ipc",
	Short: "Host a front end over stdin/stdout",
	Long: `Run headless for a front end in another process. Each stdin line is an
envelope {"callback_code": ..., "inner": <JSON-RPC request>}; each stdout
line is a UI command such as {"type": "eval_script", "script": ...}.

Dialogs cannot be answered over this channel and are declined.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.Lock(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := appInstance.Logger
		handler := ui.NewLineHandler(os.Stdout, log.Named("ui"))
		dispatcher := appInstance.Dispatcher()

		err := appInstance.Run(ctx, handler, func(ctx context.Context) error {
			offerCachedUpdate(ctx, appInstance.Bus, nil)
			err := dispatcher.Serve(ctx, os.Stdin)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		shutdownDaemon()
		return err
	},
}

// offerCachedUpdate runs the startup install prompt; failures only log.
func offerCachedUpdate(ctx context.Context, prompter autoupdate.Prompter, exit func(int)) {
	outcome, err := appInstance.PromptCachedUpdate(ctx, prompter, exit)
	if err != nil {
		appInstance.Logger.Warn("update prompt failed", zap.Error(err))
		return
	}
	appInstance.Logger.Debug("update prompt", zap.String("outcome", string(outcome)))
}

// shutdownDaemon stops a daemon this process owns.
func shutdownDaemon() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := appInstance.Supervisor.Stop(ctx); err != nil {
		appInstance.Logger.Warn("failed to stop daemon", zap.Error(err))
	}
}

func init() {
	rootCmd.AddCommand(serveIPCCmd)
}
