package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Angelice80/redletters/pkg/variants"
)

// TypeSummary counts one witness type's attestations for a reading.
type TypeSummary struct {
	Count           int      `json:"count"`
	Sigla           []string `json:"sigla"`
	CenturyEarliest *int     `json:"century_earliest,omitempty"`
	CenturyLatest   *int     `json:"century_latest,omitempty"`
}

// SupportSummary aggregates a reading's support_set by witness type. Purely
// descriptive: no field here ranks one type of evidence above another.
type SupportSummary struct {
	TotalCount      int                    `json:"total_count"`
	ByType          map[string]TypeSummary `json:"by_type"`
	EarliestCentury *int                   `json:"earliest_century,omitempty"`
	ProvenancePacks []string               `json:"provenance_packs"`
}

// determineEvidenceClass labels a reading's support_summary. Labels are
// descriptive only — they never imply that one evidence class is more
// likely original than another.
func determineEvidenceClass(ss SupportSummary) string {
	if len(ss.ByType) == 0 {
		return "no recorded support"
	}
	_, hasManuscript := ss.ByType[string(variants.WitnessManuscript)]
	_, hasEdition := ss.ByType[string(variants.WitnessEdition)]
	_, hasTradition := ss.ByType[string(variants.WitnessTradition)]
	_, hasOther := ss.ByType[string(variants.WitnessOther)]

	switch {
	case len(ss.ByType) == 1 && hasEdition:
		return "edition-level evidence"
	case len(ss.ByType) == 1 && hasManuscript:
		return "manuscript-level evidence"
	case len(ss.ByType) == 1 && hasTradition:
		return "tradition aggregate"
	case hasManuscript:
		return "manuscript-level evidence"
	case len(ss.ByType) == 1 && hasOther:
		return "secondary evidence"
	default:
		return "mixed evidence"
	}
}

func buildSupportSummary(reading variants.WitnessReading) SupportSummary {
	byType := make(map[string]TypeSummary)
	var earliest *int
	packSet := make(map[string]bool)

	for _, sup := range reading.SupportSet {
		key := string(sup.Type)
		ts, ok := byType[key]
		if !ok {
			ts = TypeSummary{}
		}
		ts.Count++
		if !containsString(ts.Sigla, sup.Siglum) {
			ts.Sigla = append(ts.Sigla, sup.Siglum)
		}
		if sup.CenturyEarly != nil {
			if earliest == nil || *sup.CenturyEarly < *earliest {
				earliest = sup.CenturyEarly
			}
			if ts.CenturyEarliest == nil || *sup.CenturyEarly < *ts.CenturyEarliest {
				ts.CenturyEarliest = sup.CenturyEarly
			}
		}
		if sup.CenturyLate != nil {
			if ts.CenturyLatest == nil || *sup.CenturyLate > *ts.CenturyLatest {
				ts.CenturyLatest = sup.CenturyLate
			}
		}
		byType[key] = ts
		if sup.SourcePackID != "" {
			packSet[sup.SourcePackID] = true
		}
	}
	if reading.SourcePackID != "" {
		packSet[reading.SourcePackID] = true
	}

	total := 0
	for _, ts := range byType {
		total += ts.Count
	}

	packs := make([]string, 0, len(packSet))
	for p := range packSet {
		packs = append(packs, p)
	}
	sort.Strings(packs)

	return SupportSummary{
		TotalCount:      total,
		ByType:          byType,
		EarliestCentury: earliest,
		ProvenancePacks: packs,
	}
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// WitnessInfo is one witness's identity as surfaced in a dossier reading.
type WitnessInfo struct {
	Siglum          string `json:"siglum"`
	Type            string `json:"type"`
	CenturyEarliest *int   `json:"century_earliest,omitempty"`
}

// DossierReading is one reading of a DossierVariant, enriched with its
// support summary and evidence-class label.
type DossierReading struct {
	Index          int              `json:"index"`
	Text           string           `json:"text"`
	IsSpine        bool             `json:"is_spine"`
	Witnesses      []WitnessInfo    `json:"witnesses"`
	SourcePacks    []string         `json:"source_packs"`
	SupportSummary SupportSummary   `json:"support_summary"`
	EvidenceClass  string           `json:"evidence_class"`
}

// DossierAcknowledgement is a variant's gate state as seen by one session.
type DossierAcknowledgement struct {
	Required             bool   `json:"required"`
	Acknowledged         bool   `json:"acknowledged"`
	AcknowledgedReading  *int   `json:"acknowledged_reading,omitempty"`
	SessionID            string `json:"session_id,omitempty"`
}

// DossierVariant is one variant unit's full traceability record.
type DossierVariant struct {
	Ref               string                 `json:"ref"`
	Position          int                    `json:"position"`
	Classification    variants.Classification `json:"classification"`
	Significance      variants.Significance   `json:"significance"`
	GatingRequirement string                 `json:"gating_requirement"`
	Reason            variants.Reason        `json:"reason"`
	Readings          []DossierReading       `json:"readings"`
	Acknowledgement   DossierAcknowledgement `json:"acknowledgement"`
}

// DossierSpine names the canonical base text a dossier's variants are
// anchored against.
type DossierSpine struct {
	SourceID  string `json:"source_id"`
	Text      string `json:"text"`
	IsDefault bool   `json:"is_default"`
}

// DossierProvenance records which spine and comparative packs contributed
// to a dossier.
type DossierProvenance struct {
	SpineSource      string    `json:"spine_source"`
	ComparativePacks []string  `json:"comparative_packs"`
	BuildTimestamp   time.Time `json:"build_timestamp"`
}

// Dossier is the full traceability record for a reference: every variant in
// scope, its readings, support, and this session's acknowledgement state.
type Dossier struct {
	SchemaVersion        string            `json:"schema_version"`
	Reference            string            `json:"reference"`
	Scope                string            `json:"scope"`
	GeneratedAt          time.Time         `json:"generated_at"`
	Spine                DossierSpine      `json:"spine"`
	Variants             []DossierVariant  `json:"variants"`
	Provenance           DossierProvenance `json:"provenance"`
	WitnessDensityNote   string            `json:"witness_density_note,omitempty"`
}

// DossierGenerator builds Dossier documents from a variant store and a
// session's acknowledgement state.
type DossierGenerator struct {
	store         VariantLookup
	spineSourceID string
	ackState      map[string]int
	sessionID     string
}

// NewDossierGenerator constructs a DossierGenerator. ackState maps
// variant_ref to the acknowledged reading index, typically sourced from
// gate.Ledger.GetSessionAcks.
func NewDossierGenerator(store VariantLookup, spineSourceID string, ackState map[string]int, sessionID string) *DossierGenerator {
	return &DossierGenerator{store: store, spineSourceID: spineSourceID, ackState: ackState, sessionID: sessionID}
}

// Generate builds a Dossier covering verseIDs. scope is a descriptive label
// ("verse", "passage", "chapter", "book") reflecting how the caller resolved
// verseIDs; the generator itself treats every verse identically.
func (g *DossierGenerator) Generate(ctx context.Context, reference, scope string, verseIDs []string) (*Dossier, error) {
	var units []*variants.VariantUnit
	for _, vid := range verseIDs {
		vs, err := g.store.ListByVerse(ctx, vid)
		if err != nil {
			return nil, fmt.Errorf("export: dossier: listing variants for %s: %w", vid, err)
		}
		units = append(units, vs...)
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].Ref != units[j].Ref {
			return units[i].Ref < units[j].Ref
		}
		return units[i].Position < units[j].Position
	})

	dossierVariants := make([]DossierVariant, 0, len(units))
	packSet := make(map[string]bool)
	var densityNotes []string
	spineText := ""

	for i, vu := range units {
		dv := g.buildDossierVariant(vu)
		dossierVariants = append(dossierVariants, dv)
		for _, r := range vu.Readings {
			for _, s := range r.SupportSet {
				if s.SourcePackID != "" {
					packSet[s.SourcePackID] = true
				}
			}
			if r.SourcePackID != "" {
				packSet[r.SourcePackID] = true
			}
		}
		if i == 0 {
			spineText = vu.SpineReading().SurfaceText
		}
		if note := witnessDensityNote(vu); note != "" {
			densityNotes = append(densityNotes, fmt.Sprintf("%s: %s", vu.Ref, note))
		}
	}

	packs := make([]string, 0, len(packSet))
	for p := range packSet {
		packs = append(packs, p)
	}
	sort.Strings(packs)

	now := time.Now().UTC()
	note := ""
	for i, n := range densityNotes {
		if i > 0 {
			note += "; "
		}
		note += n
	}

	return &Dossier{
		SchemaVersion: SchemaVersion,
		Reference:     reference,
		Scope:         scope,
		GeneratedAt:   now,
		Spine: DossierSpine{
			SourceID:  g.spineSourceID,
			Text:      spineText,
			IsDefault: true,
		},
		Variants: dossierVariants,
		Provenance: DossierProvenance{
			SpineSource:      g.spineSourceID,
			ComparativePacks: packs,
			BuildTimestamp:   now,
		},
		WitnessDensityNote: note,
	}, nil
}

func (g *DossierGenerator) buildDossierVariant(vu *variants.VariantUnit) DossierVariant {
	readings := make([]DossierReading, 0, len(vu.Readings))
	for i, r := range vu.Readings {
		seen := make(map[string]bool)
		var witnesses []WitnessInfo
		var sourcePacks []string
		sourceSeen := make(map[string]bool)
		for _, sup := range r.SupportSet {
			if !seen[sup.Siglum] {
				witnesses = append(witnesses, WitnessInfo{
					Siglum:          sup.Siglum,
					Type:            string(sup.Type),
					CenturyEarliest: sup.CenturyEarly,
				})
				seen[sup.Siglum] = true
			}
			if sup.SourcePackID != "" && !sourceSeen[sup.SourcePackID] {
				sourcePacks = append(sourcePacks, sup.SourcePackID)
				sourceSeen[sup.SourcePackID] = true
			}
		}
		if r.SourcePackID != "" && !sourceSeen[r.SourcePackID] {
			sourcePacks = append(sourcePacks, r.SourcePackID)
		}
		sort.Strings(sourcePacks)

		support := buildSupportSummary(r)
		readings = append(readings, DossierReading{
			Index:          i,
			Text:           r.SurfaceText,
			IsSpine:        i == vu.SBLGNTReadingIndex,
			Witnesses:      witnesses,
			SourcePacks:    sourcePacks,
			SupportSummary: support,
			EvidenceClass:  determineEvidenceClass(support),
		})
	}

	gating := "none"
	if vu.Significance == variants.SignificanceSignificant || vu.Significance == variants.SignificanceMajor {
		gating = "requires_acknowledgement"
	}

	var acked *int
	if idx, ok := g.ackState[vu.Ref]; ok {
		v := idx
		acked = &v
	}

	return DossierVariant{
		Ref:               vu.Ref,
		Position:          vu.Position,
		Classification:    vu.Classification,
		Significance:      vu.Significance,
		GatingRequirement: gating,
		Reason:            vu.Reason,
		Readings:          readings,
		Acknowledgement: DossierAcknowledgement{
			Required:            gating == "requires_acknowledgement",
			Acknowledged:        acked != nil,
			AcknowledgedReading: acked,
			SessionID:           g.sessionID,
		},
	}
}

// witnessDensityNote flags a variant whose spine reading has conspicuously
// thinner attestation than its alternates, a purely informational note for
// readers — not a significance recalculation.
func witnessDensityNote(vu *variants.VariantUnit) string {
	spine := vu.SpineReading()
	spineCount := len(spine.SupportSet)
	maxAlt := 0
	for i, r := range vu.Readings {
		if i == vu.SBLGNTReadingIndex {
			continue
		}
		if len(r.SupportSet) > maxAlt {
			maxAlt = len(r.SupportSet)
		}
	}
	if maxAlt > spineCount && spineCount <= 1 {
		return "spine reading has notably fewer recorded witnesses than an alternate"
	}
	return ""
}

// SaveDossier writes a Dossier as dossier.json.
func SaveDossier(d *Dossier, path string) (FileResult, error) {
	return writeJSONDocument(path, d)
}
