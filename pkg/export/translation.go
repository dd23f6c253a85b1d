package export

import (
	"github.com/Angelice80/redletters/pkg/pipeline"
)

// TranslationRecord is one line of translation.jsonl: a single verse's
// rendered text plus the claims and variant views the orchestrator
// attached to it.
type TranslationRecord struct {
	SchemaVersion string              `json:"schema_version"`
	Reference     string              `json:"reference"`
	Mode          pipeline.Mode       `json:"mode"`
	VerseID       string              `json:"verse_id"`
	SpineText     string              `json:"spine_text"`
	Variants      []pipeline.VariantView `json:"variants"`
	Claims        []pipeline.Claim    `json:"claims"`
	Confidence    pipeline.Confidence `json:"confidence"`
}

// ExportTranslation writes one TranslationRecord per verse in resp.Verses,
// in the order the orchestrator produced them (already verse-range order).
func ExportTranslation(resp *pipeline.TranslateResponse, path string) (FileResult, error) {
	records := make([]interface{}, 0, len(resp.Verses))
	for _, vb := range resp.Verses {
		records = append(records, TranslationRecord{
			SchemaVersion: SchemaVersion,
			Reference:     resp.Reference,
			Mode:          resp.Mode,
			VerseID:       vb.VerseID,
			SpineText:     vb.SpineText,
			Variants:      vb.Variants,
			Claims:        vb.Claims,
			Confidence:    resp.Confidence,
		})
	}
	return writeJSONLRecords(path, records)
}
