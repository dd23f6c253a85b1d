package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Angelice80/redletters/pkg/config"
	"github.com/Angelice80/redletters/pkg/sources"
)

func openInstaller(cfg *config.Config, catalogPath string, stderr io.Writer) (*sources.Installer, error) {
	if catalogPath == "" {
		catalogPath = filepath.Join(cfg.DataRoot, "catalog.yaml")
	}
	catalog, err := sources.LoadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	return sources.NewInstaller(cfg.DataRoot, catalog, newLogger(stderr, cfg.LogLevel)), nil
}

// runSourcesCmd dispatches `redletters sources <install|uninstall|status|list>`.
func runSourcesCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: redletters sources <install|uninstall|status|list> [flags]")
		return 2
	}

	cfg := config.Load()

	switch args[0] {
	case "install":
		return runSourcesInstall(cfg, args[1:], stdout, stderr)
	case "uninstall":
		return runSourcesUninstall(cfg, args[1:], stdout, stderr)
	case "status", "list":
		return runSourcesStatus(cfg, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown sources subcommand: %s\n", args[0])
		return 2
	}
}

func runSourcesInstall(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sources install", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var catalogPath string
	var acceptEULA, force bool
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml (default: <data-root>/catalog.yaml)")
	cmd.BoolVar(&acceptEULA, "accept-eula", false, "Accept the pack's EULA")
	cmd.BoolVar(&force, "force", false, "Bypass EULA gating")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters sources install <pack_id> [--accept-eula] [--force]")
		return 2
	}
	packID := cmd.Arg(0)

	in, err := openInstaller(cfg, catalogPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	installed, err := in.Install(context.Background(), packID, acceptEULA, force)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "installed %s@%s (%d files, content_hash=%s)\n",
		installed.PackID, installed.Version, installed.FileCount, installed.ContentHash)
	return 0
}

func runSourcesUninstall(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sources uninstall", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var catalogPath string
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters sources uninstall <pack_id>")
		return 2
	}
	packID := cmd.Arg(0)

	in, err := openInstaller(cfg, catalogPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := in.Uninstall(packID); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "uninstalled %s\n", packID)
	return 0
}

func runSourcesStatus(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sources status", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var catalogPath string
	var asJSON bool
	cmd.StringVar(&catalogPath, "catalog", "", "Path to catalog.yaml")
	cmd.BoolVar(&asJSON, "json", false, "Emit JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	in, err := openInstaller(cfg, catalogPath, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	status, err := in.Status()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if asJSON {
		raw, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, string(raw))
		return 0
	}

	for id, s := range status {
		installedMark := " "
		if s.Installed {
			installedMark = "x"
		}
		eula := ""
		if s.RequiresEULA {
			eula = " (EULA required)"
		}
		fmt.Fprintf(stdout, "[%s] %-20s role=%-12s license=%s%s\n", installedMark, id, s.Role, s.License, eula)
	}
	return 0
}
