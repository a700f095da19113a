package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gephgui/internal/daemon"
	pkgerrors "gephgui/pkg/errors"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon and supervise it until interrupted",
	Long: `Start the Geph daemon and stay attached to it. Ctrl+C stops the daemon.

Flags override the arguments of the previous start, which are remembered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := daemonArgs(ctx, cmd.Flags())
		if err != nil {
			return err
		}
		return superviseForeground(ctx, cfg)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if !appInstance.Supervisor.IsRunning(ctx) {
			fmt.Println("Daemon is not running")
		} else if _, err := appInstance.Bridge.Call(ctx, "stop"); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		} else {
			fmt.Println("Daemon stopped")
		}
		// Resets the system proxy whether or not a daemon was running.
		return appInstance.Supervisor.Stop(ctx)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the running daemon and start it again in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if appInstance.Supervisor.IsRunning(ctx) {
			last, err := appInstance.Storage.GetLastSession(ctx)
			if err == nil && last != nil && last.Running() && last.VPNMode {
				return pkgerrors.ErrCannotRestartInVpnMode
			}
			if _, err := appInstance.Bridge.Call(ctx, "stop"); err != nil {
				return fmt.Errorf("failed to stop daemon: %w", err)
			}
			if err := waitUnreachable(ctx, 10*time.Second); err != nil {
				return err
			}
		}

		cfg, err := daemonArgs(ctx, cmd.Flags())
		if err != nil {
			return err
		}
		return superviseForeground(ctx, cfg)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and update status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		running := appInstance.Supervisor.IsRunning(ctx)
		cfg, saved, err := daemon.LoadLastArgs(ctx, appInstance.Storage)
		if err != nil {
			return err
		}

		fmt.Printf("Daemon Status\n")
		fmt.Printf("═════════════\n\n")
		if running {
			fmt.Printf("Status:       running (%s)\n", appInstance.Config.Daemon.ControlAddr)
		} else {
			fmt.Printf("Status:       stopped\n")
		}

		if last, err := appInstance.Storage.GetLastSession(ctx); err == nil && last != nil {
			mode := "proxy"
			if last.VPNMode {
				mode = "vpn"
			}
			fmt.Printf("Last session: %s (%s, via %s)\n", last.StartedAt.Local().Format(time.DateTime), mode, last.Strategy)
			if last.StoppedAt != nil {
				fmt.Printf("Ended:        %s (%s)\n", last.StoppedAt.Local().Format(time.DateTime), last.ExitReason)
			}
		}

		if saved {
			fmt.Printf("Exit:         %s\n", cfg.Exit)
			fmt.Printf("Global VPN:   %v\n", cfg.GlobalVPN)
			fmt.Printf("Proxy conf:   %v\n", cfg.ProxyAutoconf)
		}

		fmt.Printf("Version:      %s\n", appInstance.Version)
		if meta, err := appInstance.Cache.LoadMetadata(); err == nil && meta != nil {
			fmt.Printf("Update ready: %s\n", meta.Version)
		}
		return nil
	},
}

// superviseForeground starts the daemon and blocks until a signal arrives or
// the daemon exits on its own.
func superviseForeground(ctx context.Context, cfg daemon.DaemonConfig) error {
	if err := appInstance.Lock(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting daemon (exit: %s, vpn: %v)...\n", cfg.Exit, cfg.GlobalVPN)
	if err := appInstance.Supervisor.Start(ctx, cfg); err != nil {
		var crash *pkgerrors.CrashError
		if errors.As(err, &crash) && crash.Stderr != "" {
			fmt.Fprintln(os.Stderr, strings.TrimSpace(crash.Stderr))
		}
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	if err := daemon.SaveLastArgs(ctx, appInstance.Storage, cfg); err != nil {
		appInstance.Logger.Warn("failed to remember daemon arguments")
	}
	fmt.Println("Daemon running. Press Ctrl+C to stop.")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping daemon...")
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return appInstance.Supervisor.Stop(stopCtx)
		case <-ticker.C:
			if appInstance.Supervisor.State() == daemon.StateStopped {
				if logs := appInstance.Supervisor.RecentLogs(); len(logs) > 0 {
					fmt.Fprintln(os.Stderr, logs[len(logs)-1])
				}
				return errors.New("daemon exited unexpectedly")
			}
		}
	}
}

func waitUnreachable(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for appInstance.Supervisor.IsRunning(ctx) {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon still reachable after %s", timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

// addDaemonFlags registers one flag per daemon argument.
func addDaemonFlags(fs *pflag.FlagSet) {
	fs.String("exit", "", `exit location: "auto" or country/city`)
	fs.String("secret", "", "account secret")
	fs.String("metadata", "", "opaque JSON object passed to the daemon")
	fs.Bool("global-vpn", false, "route all traffic through a VPN interface")
	fs.Bool("proxy-autoconf", false, "point the system proxy at the daemon")
	fs.Bool("listen-all", false, "accept proxy connections from the LAN")
	fs.Bool("prc-whitelist", false, "connect to mainland China sites directly")
	fs.Bool("allow-direct", false, "let the daemon use direct bridges")
}

// daemonArgs merges explicitly set flags over the remembered arguments.
func daemonArgs(ctx context.Context, fs *pflag.FlagSet) (daemon.DaemonConfig, error) {
	cfg, _, err := daemon.LoadLastArgs(ctx, appInstance.Storage)
	if err != nil {
		appInstance.Logger.Warn("ignoring unreadable saved daemon arguments")
		cfg = daemon.DaemonConfig{Exit: daemon.AutoExit()}
	}
	return applyDaemonFlags(cfg, fs)
}

func applyDaemonFlags(cfg daemon.DaemonConfig, fs *pflag.FlagSet) (daemon.DaemonConfig, error) {
	if fs.Changed("exit") {
		v, _ := fs.GetString("exit")
		exit, err := daemon.ParseExit(v)
		if err != nil {
			return cfg, err
		}
		cfg.Exit = exit
	}
	if fs.Changed("secret") {
		cfg.Secret, _ = fs.GetString("secret")
	}
	if fs.Changed("metadata") {
		v, _ := fs.GetString("metadata")
		var md map[string]any
		if err := json.Unmarshal([]byte(v), &md); err != nil {
			return cfg, fmt.Errorf("--metadata must be a JSON object: %w", err)
		}
		cfg.Metadata = md
	}

	bools := map[string]*bool{
		"global-vpn":     &cfg.GlobalVPN,
		"proxy-autoconf": &cfg.ProxyAutoconf,
		"listen-all":     &cfg.ListenAll,
		"prc-whitelist":  &cfg.PrcWhitelist,
		"allow-direct":   &cfg.AllowDirect,
	}
	for name, dst := range bools {
		if fs.Changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}
	return cfg, nil
}

func init() {
	addDaemonFlags(startCmd.Flags())
	addDaemonFlags(restartCmd.Flags())
	startCmd.RegisterFlagCompletionFunc("exit", completeExits)
	restartCmd.RegisterFlagCompletionFunc("exit", completeExits)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
}
