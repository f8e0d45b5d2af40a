// Package app wires the CLI commands: candidate resolution, corpus reads,
// and the API server.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "resolve":
		return runResolve(args[1:])
	case "articles":
		return runArticles(args[1:])
	case "resolutions":
		return runResolutions(args[1:])
	case "search":
		return runSearch(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "sentry CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  sentry <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health       Verify database connectivity and run migrations")
	fmt.Fprintln(os.Stderr, "  resolve      Resolve candidate payload files against the corpus")
	fmt.Fprintln(os.Stderr, "  articles     List resolved articles or show one by slug")
	fmt.Fprintln(os.Stderr, "  resolutions  List resolution ledger entries")
	fmt.Fprintln(os.Stderr, "  search       Full-text search over article headlines")
	fmt.Fprintln(os.Stderr, "  serve        Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"sentry <command> -h\" for command-specific flags.")
}
