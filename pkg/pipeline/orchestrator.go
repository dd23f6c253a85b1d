package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Angelice80/redletters/pkg/errs"
	"github.com/Angelice80/redletters/pkg/gate"
	"github.com/Angelice80/redletters/pkg/spine"
	"github.com/Angelice80/redletters/pkg/variants"
)

// Orchestrator wires the spine, variant store, and gate ledger together to
// answer translate_passage requests.
type Orchestrator struct {
	spine   spine.Provider
	variantStore *variants.Store
	ledger  *gate.Ledger
}

// NewOrchestrator constructs an Orchestrator over its three collaborators.
func NewOrchestrator(spineProvider spine.Provider, variantStore *variants.Store, ledger *gate.Ledger) *Orchestrator {
	return &Orchestrator{spine: spineProvider, variantStore: variantStore, ledger: ledger}
}

// TranslatePassage runs the full gate-check-before-translate algorithm,
// returning exactly one of (*TranslateResponse, nil, nil),
// (nil, *GateResponse, nil), or (nil, nil, err).
func (o *Orchestrator) TranslatePassage(ctx context.Context, reference string, mode Mode, sessionID string, translator Translator) (*TranslateResponse, *GateResponse, error) {
	parsed, err := ParseReference(reference)
	if err != nil {
		return nil, nil, err
	}

	tokensByVerse := make(map[string][]spine.Token, len(parsed.VerseIDs))
	spineTextByVerse := make(map[string]string, len(parsed.VerseIDs))
	for _, vid := range parsed.VerseIDs {
		ok, err := o.spine.HasVerse(ctx, vid)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: checking spine for %s: %w", vid, err)
		}
		if !ok {
			return nil, nil, errs.NoSpine(o.spine.SourceKey())
		}
		tokens, err := o.spine.GetVerseTokens(ctx, vid)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: loading tokens for %s: %w", vid, err)
		}
		text, err := o.spine.GetVerseText(ctx, vid)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: loading text for %s: %w", vid, err)
		}
		tokensByVerse[vid] = tokens
		spineTextByVerse[vid] = text
	}

	variantsByVerse := make(map[string][]*variants.VariantUnit, len(parsed.VerseIDs))
	for _, vid := range parsed.VerseIDs {
		vs, err := o.variantStore.ListByVerse(ctx, vid)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: listing variants for %s: %w", vid, err)
		}
		variantsByVerse[vid] = vs
	}

	state, err := o.ledger.LoadSessionState(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: loading session state: %w", err)
	}

	var requiredAcks []string
	var pendingViews []VariantView
	for _, vid := range parsed.VerseIDs {
		for _, vu := range sortedBySignificanceThenPosition(variantsByVerse[vid]) {
			if !isGateSignificance(vu.Significance) {
				continue
			}
			if _, acked := state.AckedVariants[vu.Ref]; acked {
				continue
			}
			requiredAcks = append(requiredAcks, vu.Ref)
			pendingViews = append(pendingViews, toVariantView(vu, state))
		}
	}

	if len(requiredAcks) > 0 {
		return nil, &GateResponse{
			Kind:         GateKindVariant,
			RequiredAcks: requiredAcks,
			Variants:     pendingViews,
			Options:      []string{"acknowledge_variant(session, variant_ref, reading_index)"},
		}, nil
	}

	tctx := TranslationContext{
		Mode:      mode,
		SessionID: sessionID,
		Tokens:    tokensByVerse,
		Variants:  variantsByVerse,
	}

	combinedText := ""
	for i, vid := range parsed.VerseIDs {
		if i > 0 {
			combinedText += " "
		}
		combinedText += spineTextByVerse[vid]
	}

	output, err := translator.Translate(combinedText, tctx)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: translator failed: %w", err)
	}

	if mode == ModeReadable {
		for _, claim := range output.Claims {
			if claim.Type >= maxReadableClaimType {
				return nil, &GateResponse{
					Kind:             GateKindEscalation,
					EscalationTarget: ModeTraceable,
				}, nil
			}
		}
	}

	var verseBlocks []VerseBlock
	for _, vid := range parsed.VerseIDs {
		var views []VariantView
		for _, vu := range sortedBySignificanceThenPosition(variantsByVerse[vid]) {
			views = append(views, toVariantView(vu, state))
		}
		var claimsForVerse []Claim
		for _, c := range output.Claims {
			if c.VerseID == vid {
				claimsForVerse = append(claimsForVerse, c)
			}
		}
		verseBlocks = append(verseBlocks, VerseBlock{
			VerseID:   vid,
			SpineText: spineTextByVerse[vid],
			Variants:  views,
			Claims:    claimsForVerse,
		})
	}

	response := &TranslateResponse{
		Reference:  parsed.NormalizedRef,
		Mode:       mode,
		Text:       output.CombinedText,
		Verses:     verseBlocks,
		Confidence: output.Confidence,
		Provenance: Provenance{
			SpineSource:  o.spine.SourceKey(),
			LexiconPacks: collectSourcePacks(variantsByVerse),
		},
		Receipts: ReceiptsSummary{
			ChecksRun:      []string{"gate_check", "mode_enforcement"},
			GatesSatisfied: requiredAcksAlreadySatisfied(variantsByVerse, state),
			GatesPending:   nil,
			Timestamp:      time.Now().UTC(),
		},
	}
	return response, nil, nil
}

func isGateSignificance(sig variants.Significance) bool {
	return sig == variants.SignificanceSignificant || sig == variants.SignificanceMajor
}

// sortedBySignificanceThenPosition orders variants for the tie-break the
// orchestrator must apply: verse order (already the caller's iteration
// order) then position ascending.
func sortedBySignificanceThenPosition(vs []*variants.VariantUnit) []*variants.VariantUnit {
	out := make([]*variants.VariantUnit, len(vs))
	copy(out, vs)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func toVariantView(vu *variants.VariantUnit, state *gate.SessionState) VariantView {
	view := VariantView{
		Ref:            vu.Ref,
		Position:       vu.Position,
		Classification: vu.Classification,
		Significance:   vu.Significance,
		Readings:       vu.Readings,
		Reason:         vu.Reason,
	}
	if idx, ok := state.AckedVariants[vu.Ref]; ok {
		view.Acknowledged = true
		view.ChosenReading = &idx
	}
	return view
}

func requiredAcksAlreadySatisfied(variantsByVerse map[string][]*variants.VariantUnit, state *gate.SessionState) []string {
	var out []string
	for _, vs := range variantsByVerse {
		for _, vu := range vs {
			if !isGateSignificance(vu.Significance) {
				continue
			}
			if _, ok := state.AckedVariants[vu.Ref]; ok {
				out = append(out, vu.Ref)
			}
		}
	}
	sort.Strings(out)
	return out
}

func collectSourcePacks(variantsByVerse map[string][]*variants.VariantUnit) []string {
	seen := make(map[string]bool)
	var packs []string
	for _, vs := range variantsByVerse {
		for _, vu := range vs {
			for _, r := range vu.Readings {
				if r.SourcePackID != "" && !seen[r.SourcePackID] {
					seen[r.SourcePackID] = true
					packs = append(packs, r.SourcePackID)
				}
			}
		}
	}
	sort.Strings(packs)
	return packs
}
