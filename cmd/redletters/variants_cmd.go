package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Angelice80/redletters/pkg/config"
	"github.com/Angelice80/redletters/pkg/pipeline"
	"github.com/Angelice80/redletters/pkg/sources"
	"github.com/Angelice80/redletters/pkg/spine"
	"github.com/Angelice80/redletters/pkg/variants"
)

// runVariantsCmd dispatches `redletters variants <build|list>`.
func runVariantsCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: redletters variants <build|list> [flags]")
		return 2
	}
	switch args[0] {
	case "build":
		return runVariantsBuild(args[1:], stdout, stderr)
	case "list":
		return runVariantsList(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown variants subcommand %q\n", args[0])
		return 2
	}
}

// newBuilderFromInstalled wires every installed comparative pack into a
// Builder as an edition, each backed by its own pack provider. The
// upper-cased pack ID doubles as the witness siglum since catalog entries
// carry no separate apparatus abbreviation.
func newBuilderFromInstalled(in *sources.Installer, spinePack *sources.InstalledPack, store *variants.Store) (*variants.Builder, int, error) {
	spineProvider := spine.NewPackProvider(spinePack.PackID, spinePack.InstallPath)
	builder := variants.NewBuilder(spineProvider, store, spinePack.PackID)

	installed, err := in.Installed()
	if err != nil {
		return nil, 0, err
	}
	editions := 0
	for _, p := range installed {
		if p.Role != sources.RoleComparative {
			continue
		}
		provider := spine.NewPackProvider(p.PackID, p.InstallPath)
		builder.AddEdition(p.PackID, provider, strings.ToUpper(p.PackID), variants.WitnessEdition, nil, nil, p.PackID)
		editions++
	}
	return builder, editions, nil
}

func runVariantsBuild(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("variants build", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var catalogPath, book string
	var chapter int
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	cmd.StringVar(&book, "book", "", "Build every chapter of a whole book instead of a passage")
	cmd.IntVar(&chapter, "chapter", 0, "With --book, restrict the build to one chapter")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if book == "" && cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters variants build <reference> | --book John [--chapter 1]")
		return 2
	}

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

	builder, editions, err := newBuilderFromInstalled(in, spinePack, store)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if editions == 0 {
		fmt.Fprintln(stderr, "no comparative packs installed; nothing to diff against the spine")
		return 1
	}

	var result variants.BuildResult
	switch {
	case book != "" && chapter > 0:
		result, err = builder.BuildChapter(ctx, book, chapter)
	case book != "":
		result, err = builder.BuildBook(ctx, book)
	default:
		parsed, perr := pipeline.ParseReference(cmd.Arg(0))
		if perr != nil {
			fmt.Fprintln(stderr, perr)
			return 2
		}
		result, err = builder.BuildRange(ctx, parsed.VerseIDs[0], parsed.VerseIDs[len(parsed.VerseIDs)-1])
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fmt.Fprintf(stdout, "verses=%d created=%d updated=%d unchanged=%d\n",
		result.VersesProcessed, result.VariantsCreated, result.VariantsUpdated, result.VariantsUnchanged)
	for _, e := range result.Errors {
		fmt.Fprintln(stderr, e)
	}
	if len(result.Errors) > 0 {
		return 1
	}
	return 0
}

func runVariantsList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("variants list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var significantOnly bool
	cmd.BoolVar(&significantOnly, "significant", false, "Only list significant/major variants")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters variants list <reference> [--significant]")
		return 2
	}

	cfg := config.Load()
	ctx := context.Background()

	parsed, err := pipeline.ParseReference(cmd.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
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

	for _, vid := range parsed.VerseIDs {
		var list []*variants.VariantUnit
		if significantOnly {
			list, err = store.ListSignificant(ctx, vid)
		} else {
			list, err = store.ListByVerse(ctx, vid)
		}
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		for _, vu := range list {
			fmt.Fprintf(stdout, "%s pos=%d %s/%s readings=%d (%s)\n",
				vu.Ref, vu.Position, vu.Classification, vu.Significance, len(vu.Readings), vu.Reason.Code)
		}
	}
	return 0
}
