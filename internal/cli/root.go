package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gephgui/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gephgui",
	Short: "Geph desktop control plane",
	Long: `Geph desktop control plane

  Supervises the Geph daemon, bridges front-end calls to it and keeps
  the client up to date.

  Quick start:
    gephgui start --secret <account-secret>
    gephgui status
    gephgui ui

  Core features:
    • Daemon lifecycle with privilege-aware VPN launch
    • JSON-RPC bridge with in-process fallback
    • Background update checks with hash-verified downloads`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return ensureApp(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Cleanup
		if appInstance != nil {
			return appInstance.Close()
		}
		return nil
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console, json)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gephgui %s\n", version)
	},
}
