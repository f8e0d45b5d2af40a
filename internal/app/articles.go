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
	"horse.fit/sentry/internal/db"
	"horse.fit/sentry/internal/globaltime"
)

func runArticles(args []string) int {
	fs := flag.NewFlagSet("articles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	slug := fs.String("slug", "", "Show one article by slug instead of listing")
	from := fs.String("from", "", "List window start date (YYYY-MM-DD, default 30 days ago)")
	to := fs.String("to", "", "List window end date (YYYY-MM-DD, default today)")
	limit := fs.Int("limit", 50, "Maximum articles to list")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "articles does not accept positional arguments")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
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

	if trimmedSlug := strings.TrimSpace(*slug); trimmedSlug != "" {
		detail, err := pool.GetArticleBySlug(ctx, trimmedSlug)
		if err != nil {
			if errors.Is(err, db.ErrNoRows) {
				fmt.Fprintf(os.Stderr, "Article not found: %s\n", trimmedSlug)
				return 1
			}
			fmt.Fprintf(os.Stderr, "Failed to load article: %v\n", err)
			return 1
		}
		if err := printJSON(detail); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	now := globaltime.UTC()
	fromValue := now.AddDate(0, 0, -30)
	toValue := now
	if strings.TrimSpace(*from) != "" || strings.TrimSpace(*to) != "" {
		fromRaw := strings.TrimSpace(*from)
		if fromRaw == "" {
			fromRaw = fromValue.Format("2006-01-02")
		}
		toRaw := strings.TrimSpace(*to)
		if toRaw == "" {
			toRaw = now.Format("2006-01-02")
		}
		fromValue, toValue, err = parseUTCDateRange(fromRaw, toRaw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid date range: %v\n", err)
			return 2
		}
	}

	items, err := pool.ListArticles(ctx, fromValue, toValue, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list articles: %v\n", err)
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
		rows = append(rows, []string{
			strconv.FormatInt(item.ArticleID, 10),
			truncateForTable(item.Slug, 48),
			truncateForTable(item.Headline, 64),
			item.Source,
			item.Language,
			formatUTCTimestampPtr(item.PublishedAt),
			strconv.FormatInt(item.UpdateCount, 10),
		})
	}

	if err := writeTable([]string{"ID", "SLUG", "HEADLINE", "SOURCE", "LANG", "PUBLISHED", "UPDATES"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	return 0
}
