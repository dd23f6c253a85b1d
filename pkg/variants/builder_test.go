package variants

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Angelice80/redletters/pkg/spine"
)

func newTestBuilder(t *testing.T, spineVerses, whVerses map[string]string) (*Builder, *Store) {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)

	spineProvider := spine.NewFixtureProvider("sblgnt", spineVerses)
	builder := NewBuilder(spineProvider, store, "sblgnt-canonical")
	if whVerses != nil {
		builder.AddEdition("westcott-hort", spine.NewFixtureProvider("wh", whVerses), "WH", WitnessEdition, nil, nil, "westcott-hort")
	}
	return builder, store
}

func TestBuildVerse_NoEditions_NoOp(t *testing.T) {
	builder, _ := newTestBuilder(t, map[string]string{"John.1.1": "εν αρχη ην ο λογος"}, nil)
	result, err := builder.BuildVerse(context.Background(), "John.1.1", true)
	require.NoError(t, err)
	require.Equal(t, 1, result.VersesProcessed)
	require.Zero(t, result.VariantsCreated)
}

func TestBuildVerse_IdenticalReading_Unchanged(t *testing.T) {
	text := "εν αρχη ην ο λογος"
	builder, _ := newTestBuilder(t,
		map[string]string{"John.1.1": text},
		map[string]string{"John.1.1": text})

	result, err := builder.BuildVerse(context.Background(), "John.1.1", true)
	require.NoError(t, err)
	require.Equal(t, 1, result.VariantsUnchanged)
	require.Zero(t, result.VariantsCreated)
}

func TestBuildVerse_DifferingReading_CreatesVariant(t *testing.T) {
	builder, store := newTestBuilder(t,
		map[string]string{"John.1.18": "μονογενης θεος"},
		map[string]string{"John.1.18": "μονογενης υιος"})

	ctx := context.Background()
	result, err := builder.BuildVerse(ctx, "John.1.18", true)
	require.NoError(t, err)
	require.Equal(t, 1, result.VariantsCreated)

	vu, err := store.GetByRefPosition(ctx, "John.1.18", 0)
	require.NoError(t, err)
	require.NotNil(t, vu)
	require.Len(t, vu.Readings, 2)
	require.Equal(t, "μονογενης θεος", vu.Readings[0].NormalizedText)
}

func TestBuildVerse_MergeMode_SecondPackAddsSupportNotDuplicate(t *testing.T) {
	ctx := context.Background()
	builder, store := newTestBuilder(t,
		map[string]string{"John.1.18": "μονογενης θεος"},
		map[string]string{"John.1.18": "μονογενης υιος"})

	_, err := builder.BuildVerse(ctx, "John.1.18", true)
	require.NoError(t, err)

	builder.AddEdition("na28", spine.NewFixtureProvider("na28", map[string]string{"John.1.18": "μονογενης υιος"}), "NA28", WitnessEdition, nil, nil, "na28")
	result, err := builder.BuildVerse(ctx, "John.1.18", true)
	require.NoError(t, err)
	require.Equal(t, 1, result.VariantsUpdated)

	vu, err := store.GetByRefPosition(ctx, "John.1.18", 0)
	require.NoError(t, err)
	require.Len(t, vu.Readings, 2)

	var alt *WitnessReading
	for i := range vu.Readings {
		if vu.Readings[i].NormalizedText == "μονογενης υιος" {
			alt = &vu.Readings[i]
		}
	}
	require.NotNil(t, alt)
	require.Len(t, alt.SupportSet, 2)
}

func TestBuildVerse_MergeMode_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	builder, store := newTestBuilder(t,
		map[string]string{"John.1.18": "μονογενης θεος"},
		map[string]string{"John.1.18": "μονογενης υιος"})

	_, err := builder.BuildVerse(ctx, "John.1.18", true)
	require.NoError(t, err)

	result, err := builder.BuildVerse(ctx, "John.1.18", true)
	require.NoError(t, err)
	require.Equal(t, 1, result.VariantsUnchanged)

	vu, err := store.GetByRefPosition(ctx, "John.1.18", 0)
	require.NoError(t, err)
	require.Len(t, vu.Readings, 2)
	require.Len(t, vu.Readings[1].SupportSet, 1)
}

func TestBuildVerse_MultiPackOverlappingSigla_OrderIndependent(t *testing.T) {
	ctx := context.Background()
	alt := map[string]string{"John.1.1": "αβδ"}

	// The same siglum reported by two packs is independent provenance and
	// both entries must survive; within one pack it is a duplicate.
	editions := []struct{ key, siglum, pack string }{
		{"p1-w1", "W1", "P1"},
		{"p2-w1", "W1", "P2"},
		{"p2-w2", "W2", "P2"},
	}

	for _, reversed := range []bool{false, true} {
		builder, store := newTestBuilder(t, map[string]string{"John.1.1": "αβγ"}, nil)
		order := editions
		if reversed {
			order = []struct{ key, siglum, pack string }{editions[2], editions[1], editions[0]}
		}
		for _, e := range order {
			builder.AddEdition(e.key, spine.NewFixtureProvider(e.key, alt), e.siglum, WitnessEdition, nil, nil, e.pack)
		}

		_, err := builder.BuildVerse(ctx, "John.1.1", true)
		require.NoError(t, err)
		_, err = builder.BuildVerse(ctx, "John.1.1", true)
		require.NoError(t, err)

		vu, err := store.GetByRefPosition(ctx, "John.1.1", 0)
		require.NoError(t, err)
		require.Len(t, vu.Readings, 2, "spine reading plus exactly one merged alternate")

		var altReading *WitnessReading
		for i := range vu.Readings {
			if vu.Readings[i].NormalizedText == "αβδ" {
				altReading = &vu.Readings[i]
			}
		}
		require.NotNil(t, altReading)

		got := map[[2]string]bool{}
		for _, s := range altReading.SupportSet {
			got[[2]string{s.Siglum, s.SourcePackID}] = true
		}
		require.Equal(t, map[[2]string]bool{
			{"W1", "P1"}: true,
			{"W1", "P2"}: true,
			{"W2", "P2"}: true,
		}, got)
	}
}

func TestBuildRange_WalksVersesWithinChapter(t *testing.T) {
	spineVerses := map[string]string{
		"John.1.1": "εν αρχη ην ο λογος",
		"John.1.2": "ουτος ην εν αρχη",
	}
	whVerses := map[string]string{
		"John.1.1": "εν αρχη ην ο υιος",
	}
	builder, _ := newTestBuilder(t, spineVerses, whVerses)

	result, err := builder.BuildRange(context.Background(), "John.1.1", "John.1.2")
	require.NoError(t, err)
	require.Equal(t, 2, result.VersesProcessed)
	require.Equal(t, 1, result.VariantsCreated)
}

func TestEnsureVariants_BuildsOnDemand(t *testing.T) {
	ctx := context.Background()
	builder, store := newTestBuilder(t,
		map[string]string{"John.1.18": "μονογενης θεος"},
		map[string]string{"John.1.18": "μονογενης υιος"})

	existing, err := store.ListByVerse(ctx, "John.1.18")
	require.NoError(t, err)
	require.Empty(t, existing)

	vus, err := builder.EnsureVariants(ctx, "John.1.18")
	require.NoError(t, err)
	require.Len(t, vus, 1)
}
