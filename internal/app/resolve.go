package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"horse.fit/sentry/internal/cli"
	"horse.fit/sentry/internal/config"
	"horse.fit/sentry/internal/db"
	"horse.fit/sentry/internal/langdetect"
	"horse.fit/sentry/internal/logging"
	"horse.fit/sentry/internal/resolve"
	"horse.fit/sentry/internal/store"
	payloadschema "horse.fit/sentry/schema"
)

type resolveCounts struct {
	Scanned    int
	Invalid    int
	Failed     int
	New        int
	SkipFTS    int
	SkipLLM    int
	SkipUpdate int
}

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dir := fs.String("dir", "", "Directory containing .json candidate payload files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files := fs.Args()
	if strings.TrimSpace(*dir) != "" {
		dirFiles, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Resolve setup failed: %v\n", err)
			return 1
		}
		files = append(files, dirFiles...)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "resolve requires payload files or --dir")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	policy, err := buildPolicy(cfg, pool, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}

	counts := resolveCounts{}
	for _, path := range files {
		counts.Scanned++

		raw, err := os.ReadFile(path)
		if err != nil {
			counts.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}

		payload, err := payloadschema.ValidateCandidatePayload(json.RawMessage(raw))
		if err != nil {
			counts.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			continue
		}

		cand := resolve.CandidateFromPayload(payload, langdetect.DetectISO6391)
		result, err := policy.Resolve(ctx, cand)
		if err != nil {
			counts.Failed++
			fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", path, err)
			continue
		}

		switch result.Record.Resolution {
		case store.ResolutionNew:
			counts.New++
		case store.ResolutionSkipFTS:
			counts.SkipFTS++
		case store.ResolutionSkipLLM:
			counts.SkipLLM++
		case store.ResolutionSkipUpdate:
			counts.SkipUpdate++
		}

		line := fmt.Sprintf("%s %s/%s resolution=%s decided_by=%s",
			filepath.Base(path), cand.Source, cand.SourceItemID, result.Record.Resolution, result.Record.DecidedBy)
		if result.Created != nil {
			line += fmt.Sprintf(" slug=%s", result.Created.Slug)
		}
		if result.Record.MatchedArticleID != nil {
			line += fmt.Sprintf(" matched_article_id=%d", *result.Record.MatchedArticleID)
		}
		fmt.Println(line)
	}

	fmt.Printf(
		"resolve scanned=%d new=%d skip_fts=%d skip_llm=%d skip_update=%d invalid=%d failed=%d\n",
		counts.Scanned,
		counts.New,
		counts.SkipFTS,
		counts.SkipLLM,
		counts.SkipUpdate,
		counts.Invalid,
		counts.Failed,
	)

	if counts.Invalid > 0 || counts.Failed > 0 {
		return 1
	}
	return 0
}

func collectJSONFiles(root string, recursive bool) ([]string, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleanRoot)
	}

	var files []string
	if !recursive {
		entries, err := os.ReadDir(cleanRoot)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", cleanRoot, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			if strings.EqualFold(filepath.Ext(name), ".json") {
				files = append(files, filepath.Join(cleanRoot, name))
			}
		}
		sort.Strings(files)
		return files, nil
	}

	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != cleanRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", cleanRoot, err)
	}

	sort.Strings(files)
	return files, nil
}
