package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	return reg
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetect_ByFilename(t *testing.T) {
	require.Equal(t, TypeApparatus, Detect("out/apparatus.jsonl", nil))
	require.Equal(t, TypeTranslation, Detect("out/translation.jsonl", nil))
	require.Equal(t, TypeQuote, Detect("out/quote.json", nil))
	require.Equal(t, TypeSnapshot, Detect("out/snapshot.json", nil))
	require.Equal(t, TypeUnknown, Detect("out/mystery.dat", nil))
}

func TestDetect_ByCharacteristicKeys(t *testing.T) {
	require.Equal(t, TypeQuote, detectByKeys(map[string]interface{}{"gate_status": "clear"}))
	require.Equal(t, TypeSnapshot, detectByKeys(map[string]interface{}{
		"tool_version": "1.0.0", "export_hashes": []interface{}{},
	}))
	require.Equal(t, TypeUnknown, detectByKeys(map[string]interface{}{"foo": "bar"}))
	require.Equal(t, TypeUnknown, detectByKeys(nil))
}

func TestValidateFile_QuoteDocument_Valid(t *testing.T) {
	reg := newRegistry(t)
	path := writeTemp(t, "quote.json", `{
		"schema_version": "1.0.0",
		"reference": "John 1:18",
		"mode": "readable",
		"text": "No one has ever seen God.",
		"gate_status": "clear"
	}`)

	result, err := reg.ValidateFile(path)
	require.NoError(t, err)
	require.True(t, result.Valid, "issues: %+v", result.Issues)
	require.Equal(t, TypeQuote, result.ArtifactType)
}

func TestValidateFile_QuoteDocument_MissingGateStatus(t *testing.T) {
	reg := newRegistry(t)
	path := writeTemp(t, "quote.json", `{
		"schema_version": "1.0.0",
		"reference": "John 1:18",
		"mode": "readable",
		"text": "No one has ever seen God."
	}`)

	result, err := reg.ValidateFile(path)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Issues)
}

func TestValidateFile_MissingSchemaVersion(t *testing.T) {
	reg := newRegistry(t)
	path := writeTemp(t, "quote.json", `{
		"reference": "John 1:18",
		"mode": "readable",
		"text": "No one has ever seen God.",
		"gate_status": "clear"
	}`)

	result, err := reg.ValidateFile(path)
	require.NoError(t, err)
	require.False(t, result.Valid)
	found := false
	for _, issue := range result.Issues {
		if issue.Field == "schema_version" {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateFile_BadSemverShape(t *testing.T) {
	reg := newRegistry(t)
	path := writeTemp(t, "quote.json", `{
		"schema_version": "v1",
		"reference": "John 1:18",
		"mode": "readable",
		"text": "No one has ever seen God.",
		"gate_status": "clear"
	}`)

	result, err := reg.ValidateFile(path)
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestValidateFile_ApparatusJSONL_PerLineErrors(t *testing.T) {
	reg := newRegistry(t)
	good := `{"schema_version":"1.0.0","ref":"JHN.1.18","position":0,"classification":"substitution","significance":"major","readings":[{"text":"son"}],"reason":{"code":"R1","summary":"ok"}}`
	bad := `{"schema_version":"1.0.0","ref":"JHN.1.18","position":1,"classification":"substitution","significance":"major","readings":[],"reason":{"code":"R2","summary":"ok"}}`
	path := writeTemp(t, "apparatus.jsonl", good+"\n"+bad+"\n")

	result, err := reg.ValidateFile(path)
	require.NoError(t, err)
	require.Equal(t, TypeApparatus, result.ArtifactType)
	require.Equal(t, 2, result.RecordCount)
	require.False(t, result.Valid)

	require.NotEmpty(t, result.Issues)
	require.Equal(t, 2, result.Issues[0].Line)
}

func TestValidateFile_TranslationJSONL_AllValid(t *testing.T) {
	reg := newRegistry(t)
	row := `{"schema_version":"1.0.0","reference":"John 1:18","mode":"readable","verse_id":"JHN.1.18","spine_text":"text"}`
	path := writeTemp(t, "translation.jsonl", row+"\n"+row+"\n")

	result, err := reg.ValidateFile(path)
	require.NoError(t, err)
	require.True(t, result.Valid, "issues: %+v", result.Issues)
	require.Equal(t, 2, result.RecordCount)
}

func TestValidateFile_InvalidJSON(t *testing.T) {
	reg := newRegistry(t)
	path := writeTemp(t, "quote.json", `{not valid json`)

	result, err := reg.ValidateFile(path)
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestAsSchemaViolation(t *testing.T) {
	reg := newRegistry(t)
	path := writeTemp(t, "quote.json", `{"schema_version":"1.0.0","reference":"x","mode":"readable","text":"x"}`)

	result, err := reg.ValidateFile(path)
	require.NoError(t, err)
	require.False(t, result.Valid)

	wrapped := AsSchemaViolation(result)
	require.Error(t, wrapped)
}
