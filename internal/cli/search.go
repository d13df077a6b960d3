package cli

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/lazypower/nanobrain/internal/engine"
	"github.com/lazypower/nanobrain/internal/memstore"
)

var (
	searchLimit   int
	searchType    string
	searchSession string
	searchRecord  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories",
	Long: "Search memories by name, tag and content, ranked by 0.4 x relevance + 0.6 x credit.\n" +
		"With --session (or --record for a fresh session) the results become the session's\n" +
		"pending retrieval, credited by the next outcome.",
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results (1-20)")
	searchCmd.Flags().StringVar(&searchType, "type", "", "Filter by type (entity or episode)")
	searchCmd.Flags().StringVar(&searchSession, "session", "", "Record results as this session's pending retrieval")
	searchCmd.Flags().BoolVar(&searchRecord, "record", false, "Record results under a newly generated session id")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	typ, err := memstore.ParseType(searchType)
	if err != nil {
		return err
	}

	eng, _, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()

	session := searchSession
	if session == "" && searchRecord {
		session = ulid.Make().String()
	}

	ctx := cmd.Context()
	var results []engine.WeightedResult
	if session != "" {
		results, err = eng.Ranker.SearchAndRecord(ctx, session, query, searchLimit, typ)
	} else {
		results, err = eng.Ranker.Search(ctx, query, searchLimit, typ)
	}
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. [%.3f] %s (relevance %.1f, credit %.3f)\n", i+1, r.Combined, r.ID, r.Relevance, r.Credit)
		content := r.Content
		if runes := []rune(content); len(runes) > 200 {
			content = string(runes[:200]) + "..."
		}
		fmt.Fprintf(out, "   %s\n\n", strings.ReplaceAll(content, "\n", "\n   "))
	}
	if session != "" {
		fmt.Fprintf(out, "session: %s\n", session)
	}
	return nil
}
