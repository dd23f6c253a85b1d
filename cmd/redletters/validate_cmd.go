package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Angelice80/redletters/pkg/validate"
)

// runValidateCmd implements `redletters validate <artifact-file>`.
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var asJSON bool
	cmd.BoolVar(&asJSON, "json", false, "Emit JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: redletters validate <artifact-file> [--json]")
		return 2
	}
	path := cmd.Arg(0)

	reg, err := validate.NewRegistry()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	result, err := reg.ValidateFile(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if asJSON {
		raw, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(raw))
	} else {
		fmt.Fprintf(stdout, "%s: type=%s valid=%t records=%d\n", result.Path, result.ArtifactType, result.Valid, result.RecordCount)
		for _, issue := range result.Issues {
			if issue.Line > 0 {
				fmt.Fprintf(stdout, "  line %d: %s: %s\n", issue.Line, issue.Field, issue.Message)
			} else {
				fmt.Fprintf(stdout, "  %s: %s\n", issue.Field, issue.Message)
			}
		}
	}
	if !result.Valid {
		return 1
	}
	return 0
}
