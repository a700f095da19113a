package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gephgui/internal/autoupdate"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for, inspect and install client updates",
}

var updateCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for an update now and download it if newer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		fmt.Printf("Checking for updates (installed: %s)...\n", appInstance.Current)
		result, err := appInstance.CheckUpdate(ctx)
		if err != nil {
			return fmt.Errorf("update check failed: %w", err)
		}

		switch result {
		case autoupdate.ResultAlreadyCurrent:
			fmt.Println("Already up to date")
		default:
			meta, err := appInstance.Cache.LoadMetadata()
			if err != nil || meta == nil {
				fmt.Println("Update downloaded")
				return nil
			}
			fmt.Printf("Update %s ready at %s\n", meta.Version, meta.DownloadPath)
		}
		return nil
	},
}

var updatePromptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Offer to install a downloaded update",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompter := autoupdate.LinePrompter{In: os.Stdin, Out: os.Stdout}
		outcome, err := appInstance.PromptCachedUpdate(context.Background(), prompter, nil)
		if err != nil {
			return err
		}
		if outcome == autoupdate.PromptNone {
			fmt.Println("No newer update downloaded")
		}
		return nil
	},
}

var updateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the downloaded update and recent checks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		fmt.Printf("Installed:    %s\n", appInstance.Current)
		meta, err := appInstance.Cache.LoadMetadata()
		switch {
		case err != nil:
			fmt.Printf("Downloaded:   (discarded: %v)\n", err)
		case meta == nil:
			fmt.Printf("Downloaded:   none\n")
		default:
			fmt.Printf("Downloaded:   %s\n", meta.Version)
			fmt.Printf("  File:       %s\n", meta.DownloadPath)
			fmt.Printf("  SHA-256:    %s\n", meta.SHA256)
		}
		if last := appInstance.LastUpdateCheck(ctx); !last.IsZero() {
			fmt.Printf("Last check:   %s\n", last.Local().Format(time.DateTime))
		}

		limit, _ := cmd.Flags().GetInt("limit")
		history, err := appInstance.Storage.GetUpdateHistory(ctx, limit)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return nil
		}
		fmt.Printf("\nRecent checks:\n")
		for _, ev := range history {
			fmt.Printf("  %s  %-10s %s", ev.CreatedAt.Local().Format(time.DateTime), ev.Result, ev.Version)
			if ev.Message != "" {
				fmt.Printf("  %s", ev.Message)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	updateStatusCmd.Flags().IntP("limit", "n", 10, "number of history entries to show")

	updateCmd.AddCommand(updateCheckCmd)
	updateCmd.AddCommand(updatePromptCmd)
	updateCmd.AddCommand(updateStatusCmd)
	rootCmd.AddCommand(updateCmd)
}
