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
	"github.com/Angelice80/redletters/pkg/errs"
	"github.com/Angelice80/redletters/pkg/gate"
	"github.com/Angelice80/redletters/pkg/pipeline"
	"github.com/Angelice80/redletters/pkg/sources"
	"github.com/Angelice80/redletters/pkg/spine"
	"github.com/Angelice80/redletters/pkg/variants"
)

// findSpinePack resolves the installed pack playing the spine role.
func findSpinePack(in *sources.Installer) (*sources.InstalledPack, error) {
	installed, err := in.Installed()
	if err != nil {
		return nil, err
	}
	for _, p := range installed {
		if p.Role == sources.RoleSpine {
			return &p, nil
		}
	}
	return nil, errs.NoSpine("<none>")
}

func openVariantsDB(cfg *config.Config) (*sql.DB, error) {
	return sql.Open("sqlite", filepath.Join(cfg.DataRoot, "variants.db"))
}

func openGateDB(cfg *config.Config) (*sql.DB, error) {
	return sql.Open("sqlite", filepath.Join(cfg.DataRoot, "gates.db"))
}

// runTranslateCmd implements `redletters translate <reference>`.
func runTranslateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("translate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var mode, session, catalogPath string
	var ackAll bool
	cmd.StringVar(&mode, "mode", "readable", "readable|traceable")
	cmd.StringVar(&session, "session", "cli", "Session ID for gate acknowledgements")
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	cmd.BoolVar(&ackAll, "ack-all", false, "Acknowledge every pending gate at reading 0 before translating")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters translate <reference> [--mode readable|traceable] [--session s1]")
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

	if ackAll {
		if err := acknowledgeAllPending(ctx, orch, ledger, reference, pipeline.Mode(mode), session); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	resp, gateResp, err := orch.TranslatePassage(ctx, reference, pipeline.Mode(mode), session, pipeline.LiteralTranslator{})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if gateResp != nil {
		raw, _ := json.MarshalIndent(gateResp, "", "  ")
		fmt.Fprintln(stdout, string(raw))
		return 3 // distinct exit code: blocked by a gate, not a hard error
	}

	raw, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(raw))
	return 0
}

// acknowledgeAllPending runs the same translate once to discover pending
// gates, acknowledges each at its spine reading, and lets the caller
// re-invoke translate afterward. Convenience only; not part of the core
// orchestrator contract.
func acknowledgeAllPending(ctx context.Context, orch *pipeline.Orchestrator, ledger *gate.Ledger, reference string, mode pipeline.Mode, session string) error {
	_, gateResp, err := orch.TranslatePassage(ctx, reference, mode, session, pipeline.LiteralTranslator{})
	if err != nil {
		return err
	}
	if gateResp == nil || gateResp.Kind != pipeline.GateKindVariant {
		return nil
	}
	for _, ref := range gateResp.RequiredAcks {
		if err := ledger.AcknowledgeVariant(ctx, session, ref, 0, "acknowledged via --ack-all"); err != nil {
			return err
		}
	}
	return nil
}
