package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/sentry/internal/cli"
)

func runResolutions(args []string) int {
	fs := flag.NewFlagSet("resolutions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	resolution := fs.String("resolution", "", "Filter: new, skip_fts, skip_llm, or skip_update")
	limit := fs.Int("limit", 50, "Maximum ledger rows to return")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "resolutions does not accept positional arguments")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	filter := strings.TrimSpace(strings.ToLower(*resolution))
	switch filter {
	case "", "new", "skip_fts", "skip_llm", "skip_update":
	default:
		fmt.Fprintln(os.Stderr, "--resolution must be one of new, skip_fts, skip_llm, skip_update")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	items, err := pool.ListResolutions(ctx, filter, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list resolutions: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(items); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		matched := ""
		if item.MatchedArticleID != nil {
			matched = strconv.FormatInt(*item.MatchedArticleID, 10)
		}
		rows = append(rows, []string{
			item.CreatedAt.UTC().Format(time.RFC3339),
			item.CandidateSource,
			truncateForTable(item.CandidateItemID, 32),
			item.Resolution,
			item.DecidedBy,
			formatScorePtr(item.SimilarityScore),
			matched,
			truncateForTable(pointerStringOrEmpty(item.SkipReasoning), 56),
		})
	}

	if err := writeTable([]string{"DECIDED_AT", "SOURCE", "ITEM", "RESOLUTION", "DECIDED_BY", "SCORE", "MATCHED", "REASONING"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	return 0
}
