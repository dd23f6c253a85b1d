package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	_ "modernc.org/sqlite"

	"github.com/Angelice80/redletters/pkg/config"
	"github.com/Angelice80/redletters/pkg/export"
	"github.com/Angelice80/redletters/pkg/gate"
	"github.com/Angelice80/redletters/pkg/pipeline"
	"github.com/Angelice80/redletters/pkg/variants"
)

// runDossierCmd implements `redletters dossier <reference>`: the full
// per-variant traceability record with support summaries and evidence-class
// labels.
func runDossierCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("dossier", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var out, session, catalogPath string
	cmd.StringVar(&out, "out", "dossier.json", "Output path")
	cmd.StringVar(&session, "session", "cli", "Session whose acknowledgements the dossier reports")
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters dossier <reference> [--out dossier.json] [--session s1]")
		return 2
	}
	reference := cmd.Arg(0)

	cfg := config.Load()
	ctx := context.Background()

	parsed, err := pipeline.ParseReference(reference)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

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
	acks, err := ledger.GetSessionAcks(ctx, session)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	scope := "verse"
	if len(parsed.VerseIDs) > 1 {
		scope = "passage"
	}
	gen := export.NewDossierGenerator(store, spinePack.PackID, acks, session)
	dossier, err := gen.Generate(ctx, parsed.NormalizedRef, scope, parsed.VerseIDs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fr, err := export.SaveDossier(dossier, out)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s (%d variants, sha256=%s)\n", out, len(dossier.Variants), fr.SHA256)
	return 0
}
