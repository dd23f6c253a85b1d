package variants

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func sampleVariant() *VariantUnit {
	return &VariantUnit{
		Ref:                "John.1.18",
		Position:           0,
		Classification:     ClassificationSubstitution,
		Significance:       SignificanceMajor,
		SBLGNTReadingIndex: 0,
		Reason:             Reason{Code: "theological_keyword", Summary: "Theological term change"},
		Readings: []WitnessReading{
			{
				ReadingIndex:   0,
				SurfaceText:    "μονογενης θεος",
				NormalizedText: "μονογενης θεος",
				SupportSet: []WitnessSupport{
					{Siglum: "SBLGNT", Type: WitnessEdition, SourcePackID: "sblgnt-canonical"},
				},
			},
			{
				ReadingIndex:   1,
				SurfaceText:    "μονογενης υιος",
				NormalizedText: "μονογενης υιος",
				SupportSet: []WitnessSupport{
					{Siglum: "WH", Type: WitnessEdition, SourcePackID: "westcott-hort"},
				},
			},
		},
	}
}

func TestStore_SaveAndGetByRefPosition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.SaveVariant(ctx, sampleVariant())
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := store.GetByRefPosition(ctx, "John.1.18", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ClassificationSubstitution, got.Classification)
	require.Len(t, got.Readings, 2)
	require.Len(t, got.Readings[0].SupportSet, 1)
}

func TestStore_GetByRefPosition_Missing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetByRefPosition(context.Background(), "John.1.99", 0)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_SaveVariant_UpsertReplacesReadings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	vu := sampleVariant()
	_, err := store.SaveVariant(ctx, vu)
	require.NoError(t, err)

	vu.Readings = vu.Readings[:1]
	_, err = store.SaveVariant(ctx, vu)
	require.NoError(t, err)

	got, err := store.GetByRefPosition(ctx, "John.1.18", 0)
	require.NoError(t, err)
	require.Len(t, got.Readings, 1)
}

func TestStore_AddSupport_IdempotentViaUniqueConstraint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SaveVariant(ctx, sampleVariant())
	require.NoError(t, err)

	got, err := store.GetByRefPosition(ctx, "John.1.18", 0)
	require.NoError(t, err)
	readingID, err := store.FindReadingByNormalizedText(ctx, got.ID, "μονογενης θεος")
	require.NoError(t, err)
	require.NotZero(t, readingID)

	sup := WitnessSupport{Siglum: "NA28", Type: WitnessEdition, SourcePackID: "na28"}
	added, err := store.AddSupport(ctx, readingID, sup)
	require.NoError(t, err)
	require.True(t, added)

	addedAgain, err := store.AddSupport(ctx, readingID, sup)
	require.NoError(t, err)
	require.False(t, addedAgain)

	refreshed, err := store.GetByRefPosition(ctx, "John.1.18", 0)
	require.NoError(t, err)
	require.Len(t, refreshed.Readings[0].SupportSet, 2)
}

func TestStore_AddReading_AssignsNextIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	vu := sampleVariant()
	id, err := store.SaveVariant(ctx, vu)
	require.NoError(t, err)

	err = store.AddReading(ctx, id, WitnessReading{
		SurfaceText:    "μονογενης παις",
		NormalizedText: "μονογενης παις",
		SupportSet:     []WitnessSupport{{Siglum: "Byz", Type: WitnessTradition, SourcePackID: "byzantine"}},
	})
	require.NoError(t, err)

	got, err := store.GetByRefPosition(ctx, "John.1.18", 0)
	require.NoError(t, err)
	require.Len(t, got.Readings, 3)
	require.Equal(t, 2, got.Readings[2].ReadingIndex)
}

func TestStore_ListByVerse_OrdersByPosition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := sampleVariant()
	second := sampleVariant()
	second.Position = 1

	_, err := store.SaveVariant(ctx, first)
	require.NoError(t, err)
	_, err = store.SaveVariant(ctx, second)
	require.NoError(t, err)

	list, err := store.ListByVerse(ctx, "John.1.18")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, 0, list[0].Position)
	require.Equal(t, 1, list[1].Position)
}

func TestStore_ListSignificant_FiltersByLevel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	major := sampleVariant()
	minor := sampleVariant()
	minor.Position = 1
	minor.Significance = SignificanceMinor

	_, err := store.SaveVariant(ctx, major)
	require.NoError(t, err)
	_, err = store.SaveVariant(ctx, minor)
	require.NoError(t, err)

	list, err := store.ListSignificant(ctx, "John.1.18")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, SignificanceMajor, list[0].Significance)
}
