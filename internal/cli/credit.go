package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/nanobrain/internal/engine"
)

var topLimit int

var outcomeCmd = &cobra.Command{
	Use:   "outcome <session> <signal>",
	Short: "Apply an outcome signal to a session's pending retrieval",
	Long: "Apply an outcome to the most recent unresolved retrieval of the session.\n" +
		"Signals: task_completed, positive_feedback, tool_success, user_correction, session_abandoned.",
	Args: cobra.ExactArgs(2),
	RunE: runOutcome,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the highest credit scores",
	RunE:  runTop,
}

var creditCmd = &cobra.Command{
	Use:   "credit <id>",
	Short: "Show a memory's credit record and event history",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredit,
}

var decayCmd = &cobra.Command{
	Use:   "decay [days]",
	Short: "Apply exponential decay to every credit score",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDecay,
}

func init() {
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 20, "Number of records")
}

func runOutcome(cmd *cobra.Command, args []string) error {
	sig, err := engine.ParseSignal(args[1])
	if err != nil {
		return err
	}
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := eng.Tracker.ApplyOutcome(cmd.Context(), args[0], sig)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !res.Applied {
		fmt.Fprintf(out, "no pending retrieval for session %s\n", args[0])
		return nil
	}
	fmt.Fprintf(out, "%s (reward %+.2f) applied to turn %d\n", res.Signal, res.Reward, res.TurnID)
	for _, c := range res.Changes {
		fmt.Fprintf(out, "  %s  %.3f -> %.3f\n", c.ID, c.OldScore, c.NewScore)
	}
	return nil
}

func runTop(cmd *cobra.Command, args []string) error {
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	recs, err := eng.Tracker.TopScored(cmd.Context(), topLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No credit records yet.")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(out, "%.3f  %4d  %s\n", r.Score, r.AccessCount, r.ID)
	}
	return nil
}

func runCredit(cmd *cobra.Command, args []string) error {
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	rec, err := eng.DB.GetCredit(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if rec == nil {
		fmt.Fprintf(out, "no credit record for %s\n", args[0])
		return nil
	}
	fmt.Fprintf(out, "%s\n  score: %.3f\n  accesses: %d\n  decay rate: %g\n  last accessed: %s\n",
		rec.ID, rec.Score, rec.AccessCount, rec.DecayRate,
		time.UnixMilli(rec.LastAccessed).UTC().Format(time.RFC3339))

	events, err := eng.Tracker.Events(ctx, args[0])
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Fprintln(out, "\nevents:")
	}
	for _, e := range events {
		session := e.SessionID
		if session == "" {
			session = "-"
		}
		fmt.Fprintf(out, "  %s  %-18s %+.2f  %.3f -> %.3f  %s\n",
			time.UnixMilli(e.CreatedAt).UTC().Format(time.DateTime), e.EventType, e.Reward, e.OldScore, e.NewScore, session)
	}
	return nil
}

func runDecay(cmd *cobra.Command, args []string) error {
	days := 1.0
	if len(args) == 1 {
		var err error
		days, err = strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
		if err != nil {
			return fmt.Errorf("days: %w", err)
		}
	}
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := eng.Decay(cmd.Context(), days)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decayed %d record(s) by %g day(s)\n", n, days)
	return nil
}
