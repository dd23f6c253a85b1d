package variants

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Angelice80/redletters/pkg/spine"
)

// isVerseNotFound reports whether err represents an absent verse, the only
// spine.Provider error condition callers here recover from.
func isVerseNotFound(err error) bool {
	var notFound *spine.VerseNotFoundError
	return errors.As(err, &notFound)
}

// EditionReading is one edition's attestation for a verse, queued up before
// grouping by normalized text.
type EditionReading struct {
	EditionKey     string
	Text           string
	NormalizedText string
	Siglum         string
	WitnessType    WitnessType
	CenturyEarly   *int
	CenturyLate    *int
	SourcePackID   string
}

func (r EditionReading) toSupport() WitnessSupport {
	return WitnessSupport{
		Siglum:       r.Siglum,
		Type:         r.WitnessType,
		SourcePackID: r.SourcePackID,
		CenturyEarly: r.CenturyEarly,
		CenturyLate:  r.CenturyLate,
	}
}

// edition is a registered comparative source consulted during a build.
type edition struct {
	provider     spine.Provider
	siglum       string
	witnessType  WitnessType
	centuryEarly *int
	centuryLate  *int
	sourcePackID string
}

// BuildResult tallies the outcome of a build operation across one or more
// verses.
type BuildResult struct {
	VersesProcessed  int
	VariantsCreated  int
	VariantsUpdated  int
	VariantsUnchanged int
	Errors           []string
}

// Merge folds other's counters into r.
func (r *BuildResult) Merge(other BuildResult) {
	r.VersesProcessed += other.VersesProcessed
	r.VariantsCreated += other.VariantsCreated
	r.VariantsUpdated += other.VariantsUpdated
	r.VariantsUnchanged += other.VariantsUnchanged
	r.Errors = append(r.Errors, other.Errors...)
}

// Builder diffs comparative editions against the canonical spine, producing
// VariantUnit records and persisting them idempotently.
type Builder struct {
	spine    spine.Provider
	store    *Store
	sourceID string

	editions map[string]edition
}

// NewBuilder constructs a Builder anchored on a spine provider and backed by
// store. sourceID is attached to every variant this builder creates, for
// provenance tracking.
func NewBuilder(spineProvider spine.Provider, store *Store, sourceID string) *Builder {
	return &Builder{
		spine:    spineProvider,
		store:    store,
		sourceID: sourceID,
		editions: make(map[string]edition),
	}
}

// AddEdition registers a comparative edition under editionKey. siglum is its
// apparatus abbreviation (e.g. "WH"); sourcePackID defaults to editionKey
// when empty.
func (b *Builder) AddEdition(editionKey string, provider spine.Provider, siglum string, witnessType WitnessType, centuryEarly, centuryLate *int, sourcePackID string) {
	if sourcePackID == "" {
		sourcePackID = editionKey
	}
	b.editions[editionKey] = edition{
		provider:     provider,
		siglum:       siglum,
		witnessType:  witnessType,
		centuryEarly: centuryEarly,
		centuryLate:  centuryLate,
		sourcePackID: sourcePackID,
	}
}

// BuildVerse builds (or merges) variants for a single verse. In merge mode
// (the default operating mode), an existing variant at (ref, 0) is
// aggregated into rather than replaced, so re-running a build after
// installing an additional pack only adds new readings/supports — never
// duplicates.
func (b *Builder) BuildVerse(ctx context.Context, verseID string, mergeMode bool) (BuildResult, error) {
	result := BuildResult{VersesProcessed: 1}

	spineText, err := b.spine.GetVerseText(ctx, verseID)
	if err != nil {
		if isVerseNotFound(err) {
			result.Errors = append(result.Errors, fmt.Sprintf("verse not found in spine: %s", verseID))
			return result, nil
		}
		return result, fmt.Errorf("variants: reading spine verse %s: %w", verseID, err)
	}

	var readings []EditionReading
	keys := sortedEditionKeys(b.editions)
	for _, key := range keys {
		ed := b.editions[key]
		text, err := ed.provider.GetVerseText(ctx, verseID)
		if isVerseNotFound(err) {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("variants: reading edition %s verse %s: %w", key, verseID, err)
		}
		readings = append(readings, EditionReading{
			EditionKey:     key,
			Text:           text,
			NormalizedText: NormalizeForAggregation(text),
			Siglum:         ed.siglum,
			WitnessType:    ed.witnessType,
			CenturyEarly:   ed.centuryEarly,
			CenturyLate:    ed.centuryLate,
			SourcePackID:   ed.sourcePackID,
		})
	}

	if len(readings) == 0 {
		return result, nil
	}

	spineNormalized := NormalizeForAggregation(spineText)

	var differing []EditionReading
	for _, r := range readings {
		if r.NormalizedText != spineNormalized {
			differing = append(differing, r)
		}
	}

	if len(differing) == 0 {
		result.VariantsUnchanged = 1
		return result, nil
	}

	existing, err := b.store.GetByRefPosition(ctx, verseID, 0)
	if err != nil {
		return result, err
	}

	if existing != nil && mergeMode {
		return b.mergeIntoExisting(ctx, existing, differing, result)
	}

	variant := b.buildVariantUnit(verseID, spineText, spineNormalized, differing)
	if _, err := b.store.SaveVariant(ctx, variant); err != nil {
		return result, err
	}
	if existing != nil {
		result.VariantsUpdated = 1
	} else {
		result.VariantsCreated = 1
	}
	return result, nil
}

// mergeIntoExisting aggregates differing readings into an already-persisted
// variant: a reading whose normalized text matches one already on file gets
// a new support entry (a no-op if that siglum/pack pairing was already
// recorded, thanks to the store's uniqueness constraint); anything new
// becomes a brand-new reading.
func (b *Builder) mergeIntoExisting(ctx context.Context, existing *VariantUnit, differing []EditionReading, result BuildResult) (BuildResult, error) {
	supportsAdded := 0
	readingsAdded := 0

	for _, r := range differing {
		readingID, err := b.store.FindReadingByNormalizedText(ctx, existing.ID, r.NormalizedText)
		if err != nil {
			return result, err
		}

		support := r.toSupport()

		if readingID != 0 {
			added, err := b.store.AddSupport(ctx, readingID, support)
			if err != nil {
				return result, err
			}
			if added {
				supportsAdded++
			}
			continue
		}

		newReading := WitnessReading{
			SurfaceText:    r.Text,
			NormalizedText: r.NormalizedText,
			Notes:          fmt.Sprintf("From %s", r.EditionKey),
			SourcePackID:   r.SourcePackID,
			SupportSet:     []WitnessSupport{support},
		}
		if err := b.store.AddReading(ctx, existing.ID, newReading); err != nil {
			return result, err
		}
		readingsAdded++
	}

	if supportsAdded > 0 || readingsAdded > 0 {
		result.VariantsUpdated = 1
	} else {
		result.VariantsUnchanged = 1
	}
	return result, nil
}

// buildVariantUnit assembles a brand-new VariantUnit: the spine reading
// always occupies index 0, and differing readings are grouped by identical
// normalized text so multiple editions attesting the same wording become
// one reading with a combined support set.
func (b *Builder) buildVariantUnit(verseID, spineText, spineNormalized string, differing []EditionReading) *VariantUnit {
	spineSupport := WitnessSupport{
		Siglum:       "SBLGNT",
		Type:         WitnessEdition,
		SourcePackID: "sblgnt-canonical",
	}
	readings := []WitnessReading{
		{
			SurfaceText:    spineText,
			NormalizedText: spineNormalized,
			Notes:          "SBLGNT (canonical spine)",
			SupportSet:     []WitnessSupport{spineSupport},
		},
	}

	grouped := make(map[string][]EditionReading)
	var groupOrder []string
	for _, r := range differing {
		if _, ok := grouped[r.NormalizedText]; !ok {
			groupOrder = append(groupOrder, r.NormalizedText)
		}
		grouped[r.NormalizedText] = append(grouped[r.NormalizedText], r)
	}

	for _, norm := range groupOrder {
		group := grouped[norm]
		readings = append(readings, b.buildGroupedReading(norm, group))
	}
	for i := range readings {
		readings[i].ReadingIndex = i
	}

	alternateNormalized := make([]string, 0, len(differing))
	for _, norm := range groupOrder {
		alternateNormalized = append(alternateNormalized, norm)
	}

	classification := ClassifyVariant(spineNormalized, alternateNormalized)
	significance := DetermineSignificance(spineNormalized, alternateNormalized, classification)
	reason := ClassifyReason(spineNormalized, alternateNormalized, classification)

	return &VariantUnit{
		Ref:                verseID,
		Position:           0,
		Classification:     classification,
		Significance:       significance,
		SBLGNTReadingIndex: 0,
		Readings:           readings,
		Reason:             reason,
		Notes:              fmt.Sprintf("Auto-generated from %d edition(s). Reason: %s", len(differing), reason.Summary),
		SourcePackID:        b.sourceID,
	}
}

func (b *Builder) buildGroupedReading(norm string, group []EditionReading) WitnessReading {
	supports := make([]WitnessSupport, 0, len(group))
	for _, r := range group {
		supports = append(supports, r.toSupport())
	}
	deduped := dedupeSupportSet(supports)

	first := group[0]

	editionKeys := make(map[string]bool, len(group))
	var editionOrder []string
	for _, r := range group {
		if !editionKeys[r.EditionKey] {
			editionKeys[r.EditionKey] = true
			editionOrder = append(editionOrder, r.EditionKey)
		}
	}
	sort.Strings(editionOrder)
	notes := "From " + strings.Join(editionOrder, ", ")

	return WitnessReading{
		SurfaceText:    first.Text,
		NormalizedText: norm,
		Notes:          notes,
		SourcePackID:   first.SourcePackID,
		SupportSet:     deduped,
	}
}

// dedupeSupportSet keeps one entry per (siglum, source pack): an identical
// siglum reported by two different packs is kept twice, since that reflects
// genuinely independent provenance rather than a duplicate.
func dedupeSupportSet(supports []WitnessSupport) []WitnessSupport {
	type key struct{ siglum, pack string }
	seen := make(map[key]bool, len(supports))
	out := make([]WitnessSupport, 0, len(supports))
	for _, s := range supports {
		k := key{s.Siglum, s.SourcePackID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// BuildRange builds variants for every verse between start and end
// (inclusive), which must share the same book. Chapter/verse numbering
// follows a "keep going until the spine says the verse doesn't exist"
// strategy, since books don't have a fixed verse count known in advance.
func (b *Builder) BuildRange(ctx context.Context, start, end string) (BuildResult, error) {
	var result BuildResult

	startBook, startCh, startV, err := parseVerseRef(start)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}
	endBook, endCh, endV, err := parseVerseRef(end)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}
	if startBook != endBook {
		result.Errors = append(result.Errors, fmt.Sprintf("cross-book ranges not supported: %s to %s", startBook, endBook))
		return result, nil
	}

	const maxVerse = 200
	for chapter := startCh; chapter <= endCh; chapter++ {
		vStart := 1
		if chapter == startCh {
			vStart = startV
		}
		vEnd := maxVerse
		if chapter == endCh {
			vEnd = endV
		}
		for verse := vStart; verse <= vEnd; verse++ {
			verseID := fmt.Sprintf("%s.%d.%d", startBook, chapter, verse)
			ok, err := b.spine.HasVerse(ctx, verseID)
			if err != nil {
				return result, err
			}
			if !ok {
				continue
			}
			verseResult, err := b.BuildVerse(ctx, verseID, true)
			if err != nil {
				return result, err
			}
			result.Merge(verseResult)
		}
	}
	return result, nil
}

// BuildChapter builds every verse in book/chapter, stopping at the first
// verse number the spine does not recognize.
func (b *Builder) BuildChapter(ctx context.Context, book string, chapter int) (BuildResult, error) {
	var result BuildResult
	const maxVerse = 200
	for verse := 1; verse <= maxVerse; verse++ {
		verseID := fmt.Sprintf("%s.%d.%d", book, chapter, verse)
		ok, err := b.spine.HasVerse(ctx, verseID)
		if err != nil {
			return result, err
		}
		if !ok {
			if verse > 1 {
				break
			}
			continue
		}
		verseResult, err := b.BuildVerse(ctx, verseID, true)
		if err != nil {
			return result, err
		}
		result.Merge(verseResult)
	}
	return result, nil
}

// BuildBook builds every chapter in book, stopping at the first chapter
// whose first verse the spine does not recognize.
func (b *Builder) BuildBook(ctx context.Context, book string) (BuildResult, error) {
	var result BuildResult
	const maxChapter = 100
	for chapter := 1; chapter <= maxChapter; chapter++ {
		verseID := fmt.Sprintf("%s.%d.1", book, chapter)
		ok, err := b.spine.HasVerse(ctx, verseID)
		if err != nil {
			return result, err
		}
		if !ok {
			if chapter > 1 {
				break
			}
			continue
		}
		chapterResult, err := b.BuildChapter(ctx, book, chapter)
		if err != nil {
			return result, err
		}
		result.Merge(chapterResult)
	}
	return result, nil
}

// EnsureVariants returns the stored variants for verseID, building them
// on-demand (if any comparative editions are registered) when none exist
// yet.
func (b *Builder) EnsureVariants(ctx context.Context, verseID string) ([]*VariantUnit, error) {
	existing, err := b.store.ListByVerse(ctx, verseID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	if len(b.editions) > 0 {
		if _, err := b.BuildVerse(ctx, verseID, true); err != nil {
			return nil, err
		}
	}
	return b.store.ListByVerse(ctx, verseID)
}

func sortedEditionKeys(editions map[string]edition) []string {
	keys := make([]string, 0, len(editions))
	for k := range editions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseVerseRef(ref string) (book string, chapter, verse int, err error) {
	parts := strings.Split(ref, ".")
	if len(parts) < 3 {
		return "", 0, 0, fmt.Errorf("invalid verse reference: %s", ref)
	}
	ch, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid chapter in %s: %w", ref, err)
	}
	v, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid verse in %s: %w", ref, err)
	}
	return parts[0], ch, v, nil
}
