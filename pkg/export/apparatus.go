package export

import (
	"context"
	"fmt"
	"sort"

	"github.com/Angelice80/redletters/pkg/variants"
)

// ApparatusRecord is one line of apparatus.jsonl: a single variant unit with
// its full reading/support detail, unmediated by gate or session state.
type ApparatusRecord struct {
	SchemaVersion  string                    `json:"schema_version"`
	Ref            string                    `json:"ref"`
	Position       int                       `json:"position"`
	Classification variants.Classification   `json:"classification"`
	Significance   variants.Significance     `json:"significance"`
	Readings       []variants.WitnessReading `json:"readings"`
	Reason         variants.Reason           `json:"reason"`
	SourcePackID   string                    `json:"source_pack_id,omitempty"`
}

// ExportApparatus writes one ApparatusRecord per variant unit found across
// verseIDs, sorted by (ref, position) so two exports of the same store
// state are byte-identical regardless of query order.
func ExportApparatus(ctx context.Context, store VariantLookup, verseIDs []string, path string) (FileResult, error) {
	var units []*variants.VariantUnit
	for _, vid := range verseIDs {
		vs, err := store.ListByVerse(ctx, vid)
		if err != nil {
			return FileResult{}, fmt.Errorf("export: listing variants for %s: %w", vid, err)
		}
		units = append(units, vs...)
	}

	sort.Slice(units, func(i, j int) bool {
		if units[i].Ref != units[j].Ref {
			return units[i].Ref < units[j].Ref
		}
		return units[i].Position < units[j].Position
	})

	records := make([]interface{}, 0, len(units))
	for _, vu := range units {
		records = append(records, ApparatusRecord{
			SchemaVersion:  SchemaVersion,
			Ref:            vu.Ref,
			Position:       vu.Position,
			Classification: vu.Classification,
			Significance:   vu.Significance,
			Readings:       vu.Readings,
			Reason:         vu.Reason,
			SourcePackID:   vu.SourcePackID,
		})
	}

	return writeJSONLRecords(path, records)
}
