package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"gephgui/internal/app"
)

// ensureApp lazily initializes appInstance.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp(cmd *cobra.Command) error {
	if appInstance != nil {
		return nil
	}
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFormat, _ := cmd.Flags().GetString("log-format")

	var err error
	appInstance, err = app.New(app.Options{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		LogFormat:  logFormat,
		Version:    version,
	})
	if err != nil {
		return err
	}
	return nil
}

// completeIPCMethods provides shell completion for front-end method names.
func completeIPCMethods(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, m := range appInstance.Dispatcher().Methods() {
		if strings.HasPrefix(m, toComplete) {
			completions = append(completions, m)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeExits suggests exit constraint values for --exit.
func completeExits(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"auto\tlet the daemon choose"}, cobra.ShellCompDirectiveNoFileComp
}
