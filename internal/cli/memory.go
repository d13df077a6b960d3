package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/nanobrain/internal/memstore"
)

var (
	rememberTags   []string
	rememberPinned bool
	rememberDate   string
	listType       string
)

var rememberCmd = &cobra.Command{
	Use:   "remember",
	Short: "Store a new memory",
}

var rememberEntityCmd = &cobra.Command{
	Use:   "entity <category> <name> [content...]",
	Short: "Store a durable fact under a category",
	Long:  "Store a durable fact. Content is taken from the remaining arguments, or stdin when none are given.",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRememberEntity,
}

var rememberEpisodeCmd = &cobra.Command{
	Use:   "episode <slug> [content...]",
	Short: "Store a dated episode",
	Long:  "Store an episode. Content is taken from the remaining arguments, or stdin when none are given.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRememberEpisode,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a memory and its credit",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live memories",
	RunE:  runList,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Archive a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	for _, c := range []*cobra.Command{rememberEntityCmd, rememberEpisodeCmd} {
		c.Flags().StringSliceVarP(&rememberTags, "tags", "t", nil, "Comma-separated tags")
		c.Flags().BoolVar(&rememberPinned, "pinned", false, "Protect from archiving")
		rememberCmd.AddCommand(c)
	}
	rememberEpisodeCmd.Flags().StringVar(&rememberDate, "date", "", "Episode date (YYYY-MM-DD), default today")
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by type (entity or episode)")
}

func readContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func runRememberEntity(cmd *cobra.Command, args []string) error {
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	content, err := readContent(cmd, args[2:])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ref, err := eng.Store.StoreEntity(ctx, args[0], args[1], content, rememberTags, rememberPinned)
	if err != nil {
		return err
	}
	rec, err := eng.Tracker.EnsureRecord(ctx, ref.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s (score %.3f)\n", ref.ID, rec.Score)
	return nil
}

func runRememberEpisode(cmd *cobra.Command, args []string) error {
	var asOf time.Time
	if rememberDate != "" {
		var err error
		asOf, err = time.Parse(time.DateOnly, rememberDate)
		if err != nil {
			return fmt.Errorf("--date: %w", err)
		}
	}

	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	content, err := readContent(cmd, args[1:])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ref, err := eng.Store.StoreEpisode(ctx, args[0], content, rememberTags, rememberPinned, asOf)
	if err != nil {
		return err
	}
	rec, err := eng.Tracker.EnsureRecord(ctx, ref.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s (score %.3f)\n", ref.ID, rec.Score)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	m, err := eng.Store.Retrieve(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "## %s\n\n", m.ID)
	fmt.Fprintf(out, "type: %s  category: %s  pinned: %t\n", m.Type, m.Category, m.Pinned)
	if len(m.Tags) > 0 {
		fmt.Fprintf(out, "tags: %s\n", strings.Join(m.Tags, ", "))
	}
	fmt.Fprintf(out, "created: %s  updated: %s\n", m.Created.Format(time.RFC3339), m.Updated.Format(time.RFC3339))

	rec, err := eng.DB.GetCredit(ctx, m.ID)
	if err != nil {
		return err
	}
	if rec != nil {
		fmt.Fprintf(out, "score: %.3f  accesses: %d\n", rec.Score, rec.AccessCount)
	}
	fmt.Fprintf(out, "\n%s\n", m.Content)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	typ, err := memstore.ParseType(listType)
	if err != nil {
		return err
	}
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	mems, err := eng.Store.List(cmd.Context(), typ)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(mems) == 0 {
		fmt.Fprintln(out, "No memories yet.")
		return nil
	}
	for _, m := range mems {
		fmt.Fprintf(out, "%s  %s\n", m.Created.Format(time.DateOnly), m.ID)
	}
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	archived, err := eng.Store.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "archived %s -> %s\n", archived.ID, archived.ArchivePath)
	return nil
}
