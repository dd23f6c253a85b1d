package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Angelice80/redletters/pkg/bundle"
)

// runBundleCmd implements `redletters bundle verify <bundle_dir|bundle.zip>`.
// A .zip argument is extracted to a temp dir first, then verified like any
// bundle directory.
func runBundleCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "verify" {
		fmt.Fprintln(stderr, "Usage: redletters bundle verify <bundle_dir|bundle.zip> [--json]")
		return 2
	}

	cmd := flag.NewFlagSet("bundle verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var asJSON bool
	cmd.BoolVar(&asJSON, "json", false, "Emit JSON")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters bundle verify <bundle_dir|bundle.zip> [--json]")
		return 2
	}
	bundleDir := cmd.Arg(0)

	if strings.HasSuffix(bundleDir, ".zip") {
		tempDir, err := os.MkdirTemp("", "redletters-bundle-*")
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer os.RemoveAll(tempDir)
		bundleDir, err = bundle.OpenZip(bundleDir, tempDir)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	verifier := bundle.NewVerifier()
	result, err := verifier.Verify(bundleDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if asJSON {
		raw, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(raw))
	} else {
		for _, f := range result.Failures {
			fmt.Fprintf(stdout, "%s: %s (%s)\n", f.Kind, f.Path, f.Detail)
		}
		fmt.Fprintf(stdout, "valid=%t\n", result.Valid)
	}
	if !result.Valid {
		return 1
	}
	return 0
}
