// Package validate autodetects and schema-validates every artifact type the
// pipeline can emit, using embedded JSON Schema documents compiled once at
// process start.
package validate

import (
	"bufio"
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Angelice80/redletters/pkg/errs"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// ArtifactType is the set of artifact kinds this validator recognizes.
type ArtifactType string

const (
	TypeApparatus   ArtifactType = "apparatus"
	TypeTranslation ArtifactType = "translation"
	TypeCitations   ArtifactType = "citations"
	TypeQuote       ArtifactType = "quote"
	TypeDossier     ArtifactType = "dossier"
	TypeSnapshot    ArtifactType = "snapshot"
	TypeManifest    ArtifactType = "manifest"
	TypeLockfile    ArtifactType = "lockfile"
	TypeRunLog      ArtifactType = "run_log"
	TypeUnknown     ArtifactType = "unknown"
)

// jsonlTypes records which artifact types are JSONL (one record per line)
// rather than a single JSON document.
var jsonlTypes = map[ArtifactType]bool{
	TypeApparatus:   true,
	TypeTranslation: true,
}

var schemaFileByType = map[ArtifactType]string{
	TypeApparatus:   "apparatus.schema.json",
	TypeTranslation: "translation.schema.json",
	TypeCitations:   "citations.schema.json",
	TypeQuote:       "quote.schema.json",
	TypeDossier:     "dossier.schema.json",
	TypeSnapshot:    "snapshot.schema.json",
	TypeManifest:    "manifest.schema.json",
	TypeLockfile:    "lockfile.schema.json",
	TypeRunLog:      "run_log.schema.json",
}

var semverPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+`)

// WriteSchemas extracts every embedded schema document into dir, returning
// the written paths sorted by filename. Used to include a self-contained
// copy of the schema set in a bundle when the caller asks for it.
func WriteSchemas(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("validate: creating %s: %w", dir, err)
	}
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("validate: reading embedded schema dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(filepath.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("validate: reading embedded schema %s: %w", entry.Name(), err)
		}
		out := filepath.Join(dir, entry.Name())
		if err := os.WriteFile(out, raw, 0o644); err != nil {
			return nil, fmt.Errorf("validate: writing %s: %w", out, err)
		}
		paths = append(paths, out)
	}
	sort.Strings(paths)
	return paths, nil
}

// Registry compiles and holds every embedded JSON Schema, keyed by
// ArtifactType.
type Registry struct {
	schemas map[ArtifactType]*jsonschema.Schema
}

// NewRegistry compiles every embedded schema once. Compilation failure here
// is a programmer error in the embedded schema files, not a runtime
// condition callers should retry.
func NewRegistry() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	for typ, file := range schemaFileByType {
		raw, err := schemaFS.ReadFile(filepath.Join("schemas", file))
		if err != nil {
			return nil, fmt.Errorf("validate: reading embedded schema %s: %w", file, err)
		}
		url := "mem://redletters/" + file
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("validate: registering schema %s: %w", file, err)
		}
		_ = typ
	}

	reg := &Registry{schemas: make(map[ArtifactType]*jsonschema.Schema, len(schemaFileByType))}
	for typ, file := range schemaFileByType {
		url := "mem://redletters/" + file
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("validate: compiling schema %s: %w", file, err)
		}
		reg.schemas[typ] = schema
	}
	return reg, nil
}

// Detect infers an artifact's type from its filename first, falling back to
// characteristic keys present in a representative decoded record when the
// filename is uninformative (e.g. a renamed or ad hoc file).
func Detect(filename string, sample map[string]interface{}) ArtifactType {
	base := filepath.Base(filename)
	switch {
	case strings.HasSuffix(base, "apparatus.jsonl"):
		return TypeApparatus
	case strings.HasSuffix(base, "translation.jsonl"):
		return TypeTranslation
	case strings.HasSuffix(base, "citations.json"):
		return TypeCitations
	case strings.HasSuffix(base, "quote.json"):
		return TypeQuote
	case strings.HasSuffix(base, "dossier.json"):
		return TypeDossier
	case strings.HasSuffix(base, "snapshot.json"):
		return TypeSnapshot
	case strings.HasSuffix(base, "manifest.json"):
		return TypeManifest
	case strings.HasSuffix(base, "lockfile.json"):
		return TypeLockfile
	case strings.HasSuffix(base, "run_log.json"):
		return TypeRunLog
	}
	return detectByKeys(sample)
}

// detectByKeys implements the characteristic-key fallback: a filename alone
// never proves an artifact's shape, so every type here is anchored to a key
// combination no other artifact produces.
func detectByKeys(sample map[string]interface{}) ArtifactType {
	if sample == nil {
		return TypeUnknown
	}
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := sample[k]; !ok {
				return false
			}
		}
		return true
	}
	switch {
	case has("gate_status"):
		return TypeQuote
	case has("tool_version", "export_hashes"):
		return TypeSnapshot
	case has("tool_version", "content_hash", "artifacts"):
		return TypeManifest
	case has("tool_version", "lockfile_hash", "packs"):
		return TypeLockfile
	case has("command", "success", "content_hash"):
		return TypeRunLog
	case has("spine", "provenance", "variants"):
		return TypeDossier
	case has("packs", "spine_pack"):
		return TypeCitations
	case has("classification", "significance", "readings"):
		return TypeApparatus
	case has("verse_id", "spine_text"):
		return TypeTranslation
	}
	return TypeUnknown
}

// Issue is one validation failure, with a JSONL line number when applicable.
type Issue struct {
	Line    int    `json:"line,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of validating one artifact file.
type Result struct {
	Path        string       `json:"path"`
	ArtifactType ArtifactType `json:"artifact_type"`
	Valid       bool         `json:"valid"`
	RecordCount int          `json:"record_count,omitempty"`
	Issues      []Issue      `json:"issues,omitempty"`
}

// ValidateFile autodetects path's artifact type and validates it, dispatching
// to validateJSONL for the two line-oriented artifact types.
func (r *Registry) ValidateFile(path string) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("validate: reading %s: %w", path, err)
	}

	typ := r.detectFromContent(path, raw)
	if jsonlTypes[typ] {
		return r.validateJSONL(path, typ, raw)
	}
	return r.validateDocument(path, typ, raw)
}

func (r *Registry) detectFromContent(path string, raw []byte) ArtifactType {
	if typ := Detect(path, nil); typ != TypeUnknown {
		return typ
	}
	var sample map[string]interface{}
	firstLine := raw
	if idx := bytes.IndexByte(raw, '\n'); idx >= 0 {
		firstLine = raw[:idx]
	}
	_ = json.Unmarshal(firstLine, &sample)
	return Detect(path, sample)
}

func (r *Registry) validateDocument(path string, typ ArtifactType, raw []byte) (*Result, error) {
	result := &Result{Path: path, ArtifactType: typ, Valid: true}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		result.Valid = false
		result.Issues = append(result.Issues, Issue{Message: fmt.Sprintf("invalid JSON: %v", err)})
		return result, nil
	}

	result.Issues = append(result.Issues, checkSemverField(decoded)...)
	schema, ok := r.schemas[typ]
	if !ok {
		result.Valid = false
		result.Issues = append(result.Issues, Issue{Message: fmt.Sprintf("unrecognized artifact type for %s", path)})
		return result, nil
	}
	if err := schema.Validate(decoded); err != nil {
		result.Valid = false
		result.Issues = append(result.Issues, schemaIssues(err)...)
	}
	if len(result.Issues) > 0 {
		result.Valid = false
	}
	return result, nil
}

func (r *Registry) validateJSONL(path string, typ ArtifactType, raw []byte) (*Result, error) {
	result := &Result{Path: path, ArtifactType: typ, Valid: true}
	schema, ok := r.schemas[typ]
	if !ok {
		result.Valid = false
		result.Issues = append(result.Issues, Issue{Message: fmt.Sprintf("unrecognized artifact type for %s", path)})
		return result, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		result.RecordCount++

		var decoded interface{}
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			result.Valid = false
			result.Issues = append(result.Issues, Issue{Line: lineNo, Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		for _, issue := range checkSemverField(decoded) {
			issue.Line = lineNo
			result.Issues = append(result.Issues, issue)
			result.Valid = false
		}
		if err := schema.Validate(decoded); err != nil {
			result.Valid = false
			for _, issue := range schemaIssues(err) {
				issue.Line = lineNo
				result.Issues = append(result.Issues, issue)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("validate: scanning %s: %w", path, err)
	}
	return result, nil
}

func checkSemverField(decoded interface{}) []Issue {
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return nil
	}
	v, ok := obj["schema_version"]
	if !ok {
		return []Issue{{Field: "schema_version", Message: "missing required field"}}
	}
	s, ok := v.(string)
	if !ok || !semverPattern.MatchString(s) {
		return []Issue{{Field: "schema_version", Message: fmt.Sprintf("not a semver string: %v", v)}}
	}
	return nil
}

// schemaIssues flattens a jsonschema validation error (and its nested
// causes) into a sorted, flat Issue list.
func schemaIssues(err error) []Issue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Message: err.Error()}}
	}
	var issues []Issue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, Issue{Field: e.InstanceLocation, Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Slice(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
	return issues
}

// AsSchemaViolation converts a failed Result into the errs.Error taxonomy
// for callers that want a single error value rather than a Result to
// inspect.
func AsSchemaViolation(result *Result) error {
	if result.Valid {
		return nil
	}
	first := result.Issues[0]
	return errs.SchemaViolation(result.Path, first.Line, first.Field, first.Message)
}
