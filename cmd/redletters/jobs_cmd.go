package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Angelice80/redletters/pkg/config"
	"github.com/Angelice80/redletters/pkg/jobs"
)

func openJobsDB(cfg *config.Config) (*sql.DB, error) {
	return sql.Open("sqlite", filepath.Join(cfg.DataRoot, "jobs.db"))
}

// runJobsCmd implements `redletters jobs <list|show|events|diagnostics>`.
func runJobsCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: redletters jobs <list|show|events|diagnostics> ...")
		return 2
	}
	switch args[0] {
	case "list":
		return runJobsList(args[1:], stdout, stderr)
	case "show":
		return runJobsShow(args[1:], stdout, stderr)
	case "events":
		return runJobsEvents(args[1:], stdout, stderr)
	case "diagnostics":
		return runJobsDiagnostics(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown jobs subcommand %q\n", args[0])
		return 2
	}
}

func runJobsList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("jobs list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var stateFilter string
	var limit int
	cmd.StringVar(&stateFilter, "state", "", "Filter by state: queued|running|completed|failed|cancelled")
	cmd.IntVar(&limit, "limit", 50, "Maximum jobs to list")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	db, err := openJobsDB(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer db.Close()
	store, err := jobs.NewStore(db)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	var states []jobs.State
	if stateFilter != "" {
		states = []jobs.State{jobs.State(stateFilter)}
	}
	list, err := store.ListJobs(context.Background(), states, limit)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, j := range list {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", j.JobID, j.State, j.Config.Kind)
	}
	return 0
}

func runJobsShow(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("jobs show", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var asJSON bool
	cmd.BoolVar(&asJSON, "json", false, "Emit JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters jobs show <job_id> [--json]")
		return 2
	}
	jobID := cmd.Arg(0)

	cfg := config.Load()
	db, err := openJobsDB(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer db.Close()
	store, err := jobs.NewStore(db)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	job, err := store.GetJob(context.Background(), jobID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if asJSON {
		raw, _ := json.MarshalIndent(job, "", "  ")
		fmt.Fprintln(stdout, string(raw))
		return 0
	}
	fmt.Fprintf(stdout, "job_id:    %s\n", job.JobID)
	fmt.Fprintf(stdout, "state:     %s\n", job.State)
	fmt.Fprintf(stdout, "kind:      %s\n", job.Config.Kind)
	fmt.Fprintf(stdout, "progress:  %v%% (%s)\n", job.ProgressPercent, job.ProgressPhase)
	if job.ErrorCode != "" {
		fmt.Fprintf(stdout, "error:     %s: %s\n", job.ErrorCode, job.ErrorMessage)
	}
	return 0
}

// runJobsEvents implements `redletters jobs events --resume-from N`,
// replaying the persisted event log from a cursor. The same query backs
// Last-Event-ID resumption on any streaming transport layered above this
// store, so the two always return identical event sets.
func runJobsEvents(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("jobs events", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var resumeFrom int64
	var jobID string
	cmd.Int64Var(&resumeFrom, "resume-from", 0, "Replay events with sequence_number greater than this")
	cmd.StringVar(&jobID, "job", "", "Restrict the replay to one job")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	db, err := openJobsDB(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer db.Close()
	store, err := jobs.NewStore(db)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	events, err := store.EventsSince(context.Background(), resumeFrom, jobID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, string(line))
	}
	return 0
}

// runJobsDiagnostics implements `redletters jobs diagnostics --out <dir>`,
// exporting the tamper-evident diagnostics bundle.
func runJobsDiagnostics(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("jobs diagnostics", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var outDir string
	var fullIntegrity, asZip bool
	cmd.StringVar(&outDir, "out", "diagnostics", "Output directory (or zip path with --zip)")
	cmd.BoolVar(&fullIntegrity, "full-integrity", false, "Hash every artifact regardless of size")
	cmd.BoolVar(&asZip, "zip", false, "Write a single zip archive instead of a directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	db, err := openJobsDB(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer db.Close()
	store, err := jobs.NewStore(db)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	bundle, err := jobs.BuildDiagnosticsBundle(context.Background(), store, ToolVersion, fullIntegrity, cfg.IntegritySizeThreshold)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if asZip {
		if err := jobs.WriteDiagnosticsZip(bundle, outDir); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	} else {
		if err := jobs.WriteDiagnosticsDir(bundle, outDir); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	fmt.Fprintf(stdout, "diagnostics bundle written to %s\n", outDir)
	return 0
}
