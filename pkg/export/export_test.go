package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/Angelice80/redletters/pkg/variants"
)

func newTestStore(t *testing.T) *variants.Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := variants.NewStore(db)
	require.NoError(t, err)
	return store
}

func johnOneEighteen() *variants.VariantUnit {
	century19 := 19
	century21 := 21
	return &variants.VariantUnit{
		Ref:                "John.1.18",
		Position:           0,
		Classification:     variants.ClassificationSubstitution,
		Significance:       variants.SignificanceMajor,
		SBLGNTReadingIndex: 0,
		Reason:             variants.Reason{Code: "theological_keyword", Summary: "theological term change"},
		Readings: []variants.WitnessReading{
			{
				ReadingIndex:   0,
				SurfaceText:    "μονογενὴς θεός",
				NormalizedText: "μονογενης θεος",
				SupportSet: []variants.WitnessSupport{
					{Siglum: "SBLGNT", Type: variants.WitnessEdition, SourcePackID: "sblgnt-canonical", CenturyEarly: &century19, CenturyLate: &century21},
				},
			},
			{
				ReadingIndex:   1,
				SurfaceText:    "μονογενὴς υἱός",
				NormalizedText: "μονογενης υιος",
				SupportSet: []variants.WitnessSupport{
					{Siglum: "WH", Type: variants.WitnessEdition, SourcePackID: "wh-canonical", CenturyEarly: &century19, CenturyLate: &century19},
				},
			},
		},
	}
}

// Deterministic apparatus export: scenario 1 of the end-to-end test seeds.
func TestExportApparatus_Deterministic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.SaveVariant(ctx, johnOneEighteen())
	require.NoError(t, err)

	dir := t.TempDir()
	a, err := ExportApparatus(ctx, store, []string{"John.1.18"}, filepath.Join(dir, "a.jsonl"))
	require.NoError(t, err)
	b, err := ExportApparatus(ctx, store, []string{"John.1.18"}, filepath.Join(dir, "b.jsonl"))
	require.NoError(t, err)

	require.Equal(t, a.SHA256, b.SHA256)
	require.Equal(t, 1, a.RecordCount)
}

func TestExportApparatus_SortsByRefThenPosition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	second := johnOneEighteen()
	second.Position = 3
	require.NoError(t, mustSave(ctx, store, second))
	first := johnOneEighteen()
	first.Position = 1
	require.NoError(t, mustSave(ctx, store, first))

	dir := t.TempDir()
	res, err := ExportApparatus(ctx, store, []string{"John.1.18"}, filepath.Join(dir, "apparatus.jsonl"))
	require.NoError(t, err)
	require.Equal(t, 2, res.RecordCount)

	raw, err := os.ReadFile(filepath.Join(dir, "apparatus.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	var rec0, rec1 struct {
		Position int `json:"position"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec0))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec1))
	require.Equal(t, 1, rec0.Position)
	require.Equal(t, 3, rec1.Position)
}

func mustSave(ctx context.Context, store *variants.Store, vu *variants.VariantUnit) error {
	_, err := store.SaveVariant(ctx, vu)
	return err
}

func TestDetermineEvidenceClass(t *testing.T) {
	cases := []struct {
		name string
		ss   SupportSummary
		want string
	}{
		{"empty", SupportSummary{ByType: map[string]TypeSummary{}}, "no recorded support"},
		{"edition only", SupportSummary{ByType: map[string]TypeSummary{"edition": {}}}, "edition-level evidence"},
		{"manuscript only", SupportSummary{ByType: map[string]TypeSummary{"manuscript": {}}}, "manuscript-level evidence"},
		{"tradition only", SupportSummary{ByType: map[string]TypeSummary{"tradition": {}}}, "tradition aggregate"},
		{"manuscript plus edition", SupportSummary{ByType: map[string]TypeSummary{"manuscript": {}, "edition": {}}}, "manuscript-level evidence"},
		{"other only", SupportSummary{ByType: map[string]TypeSummary{"other": {}}}, "secondary evidence"},
		{"edition plus tradition", SupportSummary{ByType: map[string]TypeSummary{"edition": {}, "tradition": {}}}, "mixed evidence"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, determineEvidenceClass(c.ss))
		})
	}
}

func TestDossierGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.SaveVariant(ctx, johnOneEighteen())
	require.NoError(t, err)

	gen := NewDossierGenerator(store, "morphgnt-sblgnt", map[string]int{"John.1.18": 0}, "session-1")
	d, err := gen.Generate(ctx, "John.1.18", "verse", []string{"John.1.18"})
	require.NoError(t, err)

	require.Len(t, d.Variants, 1)
	v := d.Variants[0]
	require.Equal(t, "requires_acknowledgement", v.GatingRequirement)
	require.True(t, v.Acknowledgement.Acknowledged)
	require.Equal(t, 0, *v.Acknowledgement.AcknowledgedReading)
	require.Len(t, v.Readings, 2)
	require.Equal(t, "edition-level evidence", v.Readings[0].EvidenceClass)
	require.ElementsMatch(t, []string{"sblgnt-canonical", "wh-canonical"}, d.Provenance.ComparativePacks)
}
