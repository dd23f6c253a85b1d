// Package variants implements the variant store and the variant
// builder/aggregator: the central normalization-driven deduplication engine
// for merging witness support sets across data packs.
package variants

// Classification is the kind of textual variation a VariantUnit represents.
type Classification string

const (
	ClassificationSubstitution Classification = "substitution"
	ClassificationOmission     Classification = "omission"
	ClassificationAddition     Classification = "addition"
	ClassificationWordOrder    Classification = "word_order"
	ClassificationSpelling     Classification = "spelling"
)

// Significance is the editorial weight of a variant.
type Significance string

const (
	SignificanceTrivial     Significance = "trivial"
	SignificanceMinor       Significance = "minor"
	SignificanceSignificant Significance = "significant"
	SignificanceMajor       Significance = "major"
)

// WitnessType classifies a WitnessSupport entry.
type WitnessType string

const (
	WitnessManuscript WitnessType = "manuscript"
	WitnessEdition    WitnessType = "edition"
	WitnessTradition  WitnessType = "tradition"
	WitnessOther      WitnessType = "other"
)

// WitnessSupport is one attestation backing a WitnessReading.
type WitnessSupport struct {
	Siglum        string      `json:"siglum"`
	Type          WitnessType `json:"type"`
	SourcePackID  string      `json:"source_pack_id"`
	CenturyEarly  *int        `json:"century_earliest,omitempty"`
	CenturyLate   *int        `json:"century_latest,omitempty"`
}

// WitnessReading is one alternate (or the spine) reading for a variant unit.
type WitnessReading struct {
	ReadingIndex   int              `json:"reading_index"`
	SurfaceText    string           `json:"surface_text"`
	NormalizedText string           `json:"normalized_text"`
	Notes          string           `json:"notes,omitempty"`
	SourcePackID   string           `json:"source_pack_id,omitempty"`
	SupportSet     []WitnessSupport `json:"support_set"`
}

// Reason is the short UI/dossier-facing explanation for a variant.
type Reason struct {
	Code    string `json:"code"`
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// VariantUnit is a point of textual variation anchored to (ref, position).
type VariantUnit struct {
	ID                  int64           `json:"-"`
	Ref                 string          `json:"ref"`
	Position            int             `json:"position"`
	Classification      Classification  `json:"classification"`
	Significance        Significance    `json:"significance"`
	SBLGNTReadingIndex  int             `json:"sblgnt_reading_index"`
	Readings            []WitnessReading `json:"readings"`
	Reason              Reason          `json:"reason"`
	Notes               string          `json:"notes,omitempty"`
	SourcePackID         string          `json:"source_pack_id,omitempty"`
}

// SpineReading returns the reading that is the spine (canonical) reading.
func (v VariantUnit) SpineReading() WitnessReading {
	return v.Readings[v.SBLGNTReadingIndex]
}
