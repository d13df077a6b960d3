package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nanobrain",
	Short: "Credit-weighted long-term memory for AI agents",
	Long: "nanobrain keeps an agent's memories as markdown files and scores each one by how\n" +
		"useful it proved in past sessions. Scores drive search ranking, the budgeted\n" +
		"MEMORY.md summary and the consolidate, promote and prune passes.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $NANOBRAIN_CONFIG or ~/.nanobrain/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(creditCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(renderCmd)
}
