package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/nanobrain/internal/engine"
)

var renderStdout bool

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run consolidate, promote and prune in order",
	RunE:  lifecycleRun(func(e *engine.Engine) passFunc { return e.Compact }),
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge same-day episodes that share tags",
	RunE:  lifecycleRun(func(e *engine.Engine) passFunc { return e.Consolidate }),
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Copy bullet facts from high-credit episodes into project entities",
	RunE:  lifecycleRun(func(e *engine.Engine) passFunc { return e.Promote }),
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Archive memories whose credit fell below the prune threshold",
	RunE:  lifecycleRun(func(e *engine.Engine) passFunc { return e.Prune }),
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the budgeted MEMORY.md summary",
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().BoolVar(&renderStdout, "stdout", false, "Print instead of writing MEMORY.md")
}

type passFunc func(context.Context) (engine.Report, error)

func lifecycleRun(pick func(*engine.Engine) passFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		eng, _, closeDB, err := openEngine()
		if err != nil {
			return err
		}
		defer closeDB()

		report, err := pick(eng)(cmd.Context())
		printReport(cmd, report)
		return err
	}
}

func printReport(cmd *cobra.Command, r engine.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "consolidated: %d  promoted: %d  pruned: %d\n", r.Consolidated, r.Promoted, r.Pruned)
	for _, d := range r.Details {
		fmt.Fprintf(out, "  %s\n", d)
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	if renderStdout {
		doc, err := eng.Summary(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	}
	path, err := eng.WriteSummary(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
