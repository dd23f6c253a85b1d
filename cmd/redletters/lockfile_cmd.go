package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Angelice80/redletters/pkg/config"
	"github.com/Angelice80/redletters/pkg/lockfile"
)

// runLockfileCmd dispatches `redletters lockfile <generate|verify|sync>`.
func runLockfileCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: redletters lockfile <generate|verify|sync> [flags]")
		return 2
	}

	cfg := config.Load()

	switch args[0] {
	case "generate":
		return runLockfileGenerate(cfg, args[1:], stdout, stderr)
	case "verify":
		return runLockfileVerify(cfg, args[1:], stdout, stderr)
	case "sync":
		return runLockfileSync(cfg, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown lockfile subcommand: %s\n", args[0])
		return 2
	}
}

func runLockfileGenerate(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("lockfile generate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var out, catalogPath string
	cmd.StringVar(&out, "out", "lockfile.json", "Output path")
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	in, err := openInstaller(cfg, catalogPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	installed, err := in.Installed()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	lf, err := lockfile.Generate(ToolVersion, installed)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := lockfile.Save(out, lf); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s (lockfile_hash=%s, %d packs)\n", out, lf.LockfileHash, len(lf.Packs))
	return 0
}

func runLockfileVerify(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("lockfile verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var path, catalogPath string
	var asJSON bool
	cmd.StringVar(&path, "lockfile", "lockfile.json", "Path to lockfile.json")
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	cmd.BoolVar(&asJSON, "json", false, "Emit JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	lf, err := lockfile.Load(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	in, err := openInstaller(cfg, catalogPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	installed, err := in.Installed()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	result := lockfile.Verify(lf, installed)
	if asJSON {
		raw, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(raw))
	} else {
		for id, status := range result.Statuses {
			fmt.Fprintf(stdout, "%-20s %s\n", id, status)
		}
		fmt.Fprintf(stdout, "valid=%t\n", result.Valid)
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runLockfileSync(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("lockfile sync", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var path, catalogPath string
	var force bool
	cmd.StringVar(&path, "lockfile", "lockfile.json", "Path to lockfile.json")
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	cmd.BoolVar(&force, "force", false, "Accept hash mismatches by re-syncing")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	lf, err := lockfile.Load(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	in, err := openInstaller(cfg, catalogPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	installed, err := in.Installed()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	result, err := lockfile.Sync(context.Background(), in, lf, installed, force)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for id, status := range result.Statuses {
		fmt.Fprintf(stdout, "%-20s %s\n", id, status)
	}
	fmt.Fprintf(stdout, "valid=%t forced=%t\n", result.Valid, result.Forced)
	if !result.Valid && !force {
		return 1
	}
	return 0
}
