package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Angelice80/redletters/pkg/config"
	"github.com/Angelice80/redletters/pkg/gate"
	"github.com/Angelice80/redletters/pkg/jobs"
	"github.com/Angelice80/redletters/pkg/pipeline"
	"github.com/Angelice80/redletters/pkg/run"
	"github.com/Angelice80/redletters/pkg/sources"
	"github.com/Angelice80/redletters/pkg/spine"
	"github.com/Angelice80/redletters/pkg/variants"
)

// sourcePinsFunc projects the installed-pack set into the version@hash pin
// map a job receipt embeds.
func sourcePinsFunc(in *sources.Installer) jobs.SourcePinsFunc {
	return func(ctx context.Context) (map[string]string, error) {
		installed, err := in.Installed()
		if err != nil {
			return nil, err
		}
		pins := make(map[string]string, len(installed))
		for _, p := range installed {
			pins[p.PackID] = p.Version + "@" + p.ContentHash
		}
		return pins, nil
	}
}

// runScholarlyRunCmd implements `redletters run <reference>`: the full
// lockfile -> gates -> translate -> export -> snapshot -> bundle -> verify
// -> run_log pipeline.
func runScholarlyRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var outDir, mode, session, catalogPath string
	var includeSchemas, createZip, force bool
	cmd.StringVar(&outDir, "out", ".", "Output directory for the run's artifacts")
	cmd.StringVar(&mode, "mode", "readable", "readable|traceable")
	cmd.StringVar(&session, "session", "cli", "Session ID for gate acknowledgements")
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	cmd.BoolVar(&includeSchemas, "include-schemas", false, "Include JSON Schemas in the bundle")
	cmd.BoolVar(&createZip, "zip", false, "Also emit a zip archive of the bundle")
	cmd.BoolVar(&force, "force", false, "Bypass pending gates, recording responsibility in the run log")
	var asJob bool
	var idempotencyKey string
	cmd.BoolVar(&asJob, "as-job", false, "Execute under the job engine with event streaming and a receipt")
	cmd.StringVar(&idempotencyKey, "idempotency-key", "", "Reuse an existing job for this key instead of creating a new one (with --as-job)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters run <reference> [--out dir] [--mode readable|traceable] [--force]")
		return 2
	}
	reference := cmd.Arg(0)

	cfg := config.Load()
	ctx := context.Background()

	in, err := openInstaller(cfg, catalogPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	spinePack, err := findSpinePack(in)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	variantsDB, err := openVariantsDB(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer variantsDB.Close()
	store, err := variants.NewStore(variantsDB)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	gateDB, err := openGateDB(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer gateDB.Close()
	ledger, err := gate.NewLedger(gateDB)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	spineProvider := spine.NewPackProvider(spinePack.PackID, spinePack.InstallPath)
	orch := pipeline.NewOrchestrator(spineProvider, store, ledger)

	runner := &run.Runner{
		Orchestrator: orch,
		Translator:   pipeline.LiteralTranslator{},
		VariantStore: store,
		Ledger:       ledger,
		Installer:    in,
		ToolVersion:  ToolVersion,
		SessionID:    session,
		Logger:       newLogger(stderr, cfg.LogLevel),
		Progress: func(stage, message string) {
			fmt.Fprintf(stderr, "[%s] %s\n", stage, message)
		},
	}

	var result *run.Result
	if asJob {
		jobsDB, err := openJobsDB(cfg)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer jobsDB.Close()
		jobStore, err := jobs.NewStore(jobsDB)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		mgr := jobs.NewManager(jobStore, jobs.NewBroadcaster(), cfg.WorkspaceRoot, sourcePinsFunc(in), false, newLogger(stderr, cfg.LogLevel))
		jr, err := run.ExecuteAsJob(ctx, mgr, runner, reference, outDir, pipeline.Mode(mode), includeSchemas, createZip, force, idempotencyKey)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "job %s finished\n", jr.JobID)
		if jr.Run == nil {
			return 0
		}
		result = jr.Run
	} else {
		var err error
		result, err = runner.Run(ctx, reference, outDir, pipeline.Mode(mode), includeSchemas, createZip, force)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if result.GateBlocked {
		fmt.Fprintf(stdout, "blocked by pending gates: %v\n", result.GateRefs)
		return 3
	}
	if result.Cancelled {
		fmt.Fprintln(stdout, "run cancelled")
		return 4
	}
	if !result.Success {
		for _, e := range result.Errors {
			fmt.Fprintln(stderr, e)
		}
		return 1
	}
	fmt.Fprintf(stdout, "run complete: %s (content_hash=%s)\n", result.OutputDir, result.Log.ContentHash)
	return 0
}
