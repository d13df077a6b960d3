package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/nanobrain/internal/config"
	"github.com/lazypower/nanobrain/internal/hooks"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Handle agent hook events",
}

var hookUsage = map[string]string{
	"start":  "Handle SessionStart hook (injects MEMORY summary)",
	"submit": "Handle UserPromptSubmit hook (correction or praise, then a new turn)",
	"stop":   "Handle Stop hook (task completed)",
	"end":    "Handle SessionEnd hook (session abandoned)",
}

// runHook never returns an error: a failing hook must not break the agent.
func runHook(event string) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			// Fall back to defaults; the server may still be reachable.
			cfg = config.Default()
		}
		logger := newLogger(cfg.Log.Level)
		client := hooks.NewClient(cfg.ServerURL(), cfg.Hooks.Timeout)
		hooks.Handle(cmd.Context(), event, cmd.InOrStdin(), cmd.OutOrStdout(), client, logger)
	}
}

func init() {
	for _, event := range hooks.Events {
		hookCmd.AddCommand(&cobra.Command{
			Use:   event,
			Short: hookUsage[event],
			Args:  cobra.NoArgs,
			Run:   runHook(event),
		})
	}
}
