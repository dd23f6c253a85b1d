// Package pipeline implements the translate_passage orchestrator: parsing a
// passage reference, consulting the gate ledger, invoking an injected
// translator strategy, enforcing mode-based claim restrictions, and
// composing the final response.
package pipeline

import (
	"time"

	"github.com/Angelice80/redletters/pkg/spine"
	"github.com/Angelice80/redletters/pkg/variants"
)

// Mode selects how much interpretive machinery a translation is allowed to
// surface.
type Mode string

const (
	ModeReadable   Mode = "readable"
	ModeTraceable  Mode = "traceable"
)

// maxReadableClaimType is the lowest claim type not allowed in readable
// mode; a claim at or above this type forces an escalation gate.
const maxReadableClaimType = 5

// Claim is one interpretive decision the translator made while rendering a
// verse. ClassifyVariant/DetermineSignificance-style taxonomy of claim
// content is the translator's concern, not the orchestrator's — the
// orchestrator only enforces Type against the current mode.
type Claim struct {
	Type        int    `json:"type"`
	VerseID     string `json:"verse_id"`
	Description string `json:"description"`
	Detail      string `json:"detail,omitempty"`
}

// Confidence layers the translator's self-reported confidence scores.
type Confidence struct {
	Textual       float64 `json:"textual"`
	Grammatical   float64 `json:"grammatical"`
	Lexical       float64 `json:"lexical"`
	Interpretive  float64 `json:"interpretive"`
}

// TranslationContext is everything a Translator needs to render a passage:
// tokens and variants per verse, the requested mode, and the session doing
// the asking (so a translator can tailor itself per session if it chooses).
type TranslationContext struct {
	Mode      Mode
	SessionID string
	Tokens    map[string][]spine.Token
	Variants  map[string][]*variants.VariantUnit
}

// TranslationOutput is what a Translator strategy produces for a passage.
type TranslationOutput struct {
	CombinedText string
	Claims       []Claim
	Confidence   Confidence
}

// Translator is the injected interpretive strategy. Its internals (claim
// taxonomy, confidence formulas, morphological analysis) are deliberately
// out of scope here — the orchestrator only needs a typed output it can
// gate-check and serialize.
type Translator interface {
	Translate(spineText string, tctx TranslationContext) (TranslationOutput, error)
}

// VerseBlock is one verse's worth of composed response data.
type VerseBlock struct {
	VerseID      string                  `json:"verse_id"`
	SpineText    string                  `json:"spine_text"`
	Variants     []VariantView           `json:"variants"`
	Claims       []Claim                 `json:"claims"`
}

// VariantView is the side-by-side-readings shape surfaced to callers, with
// an acknowledged flag layered on top of the stored VariantUnit.
type VariantView struct {
	Ref            string                    `json:"ref"`
	Position       int                       `json:"position"`
	Classification variants.Classification   `json:"classification"`
	Significance   variants.Significance     `json:"significance"`
	Readings       []variants.WitnessReading `json:"readings"`
	Reason         variants.Reason           `json:"reason"`
	Acknowledged   bool                      `json:"acknowledged"`
	ChosenReading  *int                      `json:"chosen_reading,omitempty"`
}

// Provenance records where the spine text and comparative readings came
// from.
type Provenance struct {
	SpineSource   string   `json:"spine_source"`
	LexiconPacks  []string `json:"lexicon_packs"`
}

// ReceiptsSummary is the lightweight audit trail attached to every
// TranslateResponse.
type ReceiptsSummary struct {
	ChecksRun      []string  `json:"checks_run"`
	GatesSatisfied []string  `json:"gates_satisfied"`
	GatesPending   []string  `json:"gates_pending"`
	Timestamp      time.Time `json:"timestamp"`
}

// TranslateResponse is the successful, ungated, mode-compliant result.
type TranslateResponse struct {
	Reference    string          `json:"reference"`
	Mode         Mode            `json:"mode"`
	Text         string          `json:"text"`
	Verses       []VerseBlock    `json:"verses"`
	Confidence   Confidence      `json:"confidence"`
	Provenance   Provenance      `json:"provenance"`
	Receipts     ReceiptsSummary `json:"receipts"`
}

// GateKind distinguishes the two reasons a passage can be blocked.
type GateKind string

const (
	GateKindVariant    GateKind = "variant"
	GateKindEscalation GateKind = "escalation"
)

// GateResponse is the structured, non-error terminal value returned when a
// translation cannot proceed without a user decision.
type GateResponse struct {
	Kind               GateKind      `json:"kind"`
	RequiredAcks       []string      `json:"required_acks,omitempty"`
	Variants           []VariantView `json:"variants,omitempty"`
	Options            []string      `json:"options,omitempty"`
	EscalationTarget   Mode          `json:"escalation_target_mode,omitempty"`
}
