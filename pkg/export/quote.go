package export

import "github.com/Angelice80/redletters/pkg/pipeline"

// GateStatus summarizes, for a shareable quote, whether any gated variant
// stood between the spine text and this rendering.
type GateStatus string

const (
	// GateStatusClear means no significant/major variant touched this passage.
	GateStatusClear GateStatus = "clear"
	// GateStatusAcknowledged means one or more gated variants were present
	// and were acknowledged before this quote could be produced.
	GateStatusAcknowledged GateStatus = "acknowledged"
)

// QuoteDocument is quote.json: a compact, shareable rendering of a single
// passage plus the gate disposition a reader should be aware of. The
// `gate_status` key is what the output validator keys on to autodetect
// this artifact type.
type QuoteDocument struct {
	SchemaVersion string        `json:"schema_version"`
	Reference     string        `json:"reference"`
	Mode          pipeline.Mode `json:"mode"`
	Text          string        `json:"text"`
	GateStatus    GateStatus    `json:"gate_status"`
	SpineSource   string        `json:"spine_source"`
}

// ExportQuote writes quote.json from a completed TranslateResponse. text is
// the combined rendering across all verses; supply the translator's output
// text rather than re-deriving it here since the orchestrator never
// persists it on TranslateResponse itself.
func ExportQuote(resp *pipeline.TranslateResponse, text string, path string) (FileResult, error) {
	status := GateStatusClear
	for _, vb := range resp.Verses {
		for _, v := range vb.Variants {
			if (v.Significance == "significant" || v.Significance == "major") && v.Acknowledged {
				status = GateStatusAcknowledged
			}
		}
	}

	doc := QuoteDocument{
		SchemaVersion: SchemaVersion,
		Reference:     resp.Reference,
		Mode:          resp.Mode,
		Text:          text,
		GateStatus:    status,
		SpineSource:   resp.Provenance.SpineSource,
	}
	return writeJSONDocument(path, doc)
}
