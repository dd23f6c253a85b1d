// Command redletters is the manual-dispatch CLI entrypoint for the
// scholarly-translation artifact pipeline.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint used by tests; it never calls os.Exit itself.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "sources":
		return runSourcesCmd(args[2:], stdout, stderr)
	case "lockfile":
		return runLockfileCmd(args[2:], stdout, stderr)
	case "translate":
		return runTranslateCmd(args[2:], stdout, stderr)
	case "run":
		return runScholarlyRunCmd(args[2:], stdout, stderr)
	case "variants":
		return runVariantsCmd(args[2:], stdout, stderr)
	case "dossier":
		return runDossierCmd(args[2:], stdout, stderr)
	case "bundle":
		return runBundleCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "jobs":
		return runJobsCmd(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, ToolVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ToolVersion is stamped into every lockfile, manifest, snapshot, and run
// log produced by this build.
const ToolVersion = "0.1.0"

// newLogger builds the text-handler logger every subcommand threads through
// the components it constructs. Level comes from REDLETTERS_LOG_LEVEL.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "redletters — reproducible scholarly-translation artifact pipeline")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  redletters <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  sources    Install, uninstall, list, and check status of data packs")
	fmt.Fprintln(w, "  lockfile   Generate, verify, and sync the installed-pack lockfile")
	fmt.Fprintln(w, "  translate  Translate a single passage reference (gate-aware)")
	fmt.Fprintln(w, "  run        Run the full scholarly pipeline and produce a bundle")
	fmt.Fprintln(w, "  variants   Build and inspect textual variants against the spine")
	fmt.Fprintln(w, "  dossier    Export the per-variant traceability dossier for a passage")
	fmt.Fprintln(w, "  bundle     Verify a produced bundle's integrity")
	fmt.Fprintln(w, "  validate   Validate an exported artifact against its schema")
	fmt.Fprintln(w, "  jobs       Inspect the background job engine's durable state")
	fmt.Fprintln(w, "  version    Print the tool version")
	fmt.Fprintln(w, "  help       Show this help")
	fmt.Fprintln(w, "")
}
