package ledger_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/ledger"
	"github.com/sentrylabs/modelsentry/internal/storage"
	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
)

// fakeStore is an in-memory ledger.Store mirroring the Postgres
// constraints it stands in for: AppendPrediction dedupes on
// prediction_id (ON CONFLICT DO NOTHING), AppendLabel rejects a second
// label for the same prediction_id as Conflict (AlreadyLabeled) and a
// label with no matching prediction as NotFound (UnknownPrediction, the
// foreign key's behavior).
type fakeStore struct {
	predictions map[string]storage.PredictionRow
	labels      map[string]storage.LabelRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		predictions: map[string]storage.PredictionRow{},
		labels:      map[string]storage.LabelRow{},
	}
}

func (f *fakeStore) AppendPrediction(ctx context.Context, row storage.PredictionRow) error {
	if _, exists := f.predictions[row.PredictionID]; exists {
		return nil
	}
	f.predictions[row.PredictionID] = row
	return nil
}

func (f *fakeStore) AppendLabel(ctx context.Context, row storage.LabelRow) error {
	if _, exists := f.predictions[row.PredictionID]; !exists {
		return sentryerrors.NotFound.Explain("referenced prediction does not exist")
	}
	if _, exists := f.labels[row.PredictionID]; exists {
		return sentryerrors.Conflict.Explain("duplicate key")
	}
	f.labels[row.PredictionID] = row
	return nil
}

func (f *fakeStore) StreamPredictionsSince(ctx context.Context, windowStart, windowEnd time.Time, fn func(storage.PredictionRow) error) error {
	var ids []string
	for id := range f.predictions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		row := f.predictions[id]
		if row.CreatedAt.Before(windowStart) || row.CreatedAt.After(windowEnd) {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) StreamJoinedSince(ctx context.Context, windowStart, windowEnd time.Time, fn func(storage.JoinedRow) error) error {
	return f.StreamPredictionsSince(ctx, windowStart, windowEnd, func(p storage.PredictionRow) error {
		label, ok := f.labels[p.PredictionID]
		if !ok {
			return nil
		}
		return fn(storage.JoinedRow{Prediction: p, Label: label})
	})
}

func (f *fakeStore) CoverageStats(ctx context.Context, windowStart, windowEnd time.Time) (numPredictions, numLabeled int, coverageFraction float64, err error) {
	err = f.StreamPredictionsSince(ctx, windowStart, windowEnd, func(p storage.PredictionRow) error {
		numPredictions++
		if _, ok := f.labels[p.PredictionID]; ok {
			numLabeled++
		}
		return nil
	})
	if numPredictions > 0 {
		coverageFraction = float64(numLabeled) / float64(numPredictions)
	}
	return numPredictions, numLabeled, coverageFraction, err
}

func TestAppendPredictionDedupsRepeatedID(t *testing.T) {
	store := newFakeStore()
	ldg := ledger.New(store)
	ctx := context.Background()

	record := domain.PredictionRecord{PredictionID: "p1", CreatedAt: time.Now(), PredictedClass: 1}
	require.NoError(t, ldg.AppendPrediction(ctx, record))
	require.NoError(t, ldg.AppendPrediction(ctx, record))
	assert.Len(t, store.predictions, 1)
}

func TestAppendLabelRejectsAlreadyLabeled(t *testing.T) {
	store := newFakeStore()
	ldg := ledger.New(store)
	ctx := context.Background()

	require.NoError(t, ldg.AppendPrediction(ctx, domain.PredictionRecord{PredictionID: "p1", CreatedAt: time.Now()}))
	require.NoError(t, ldg.AppendLabel(ctx, domain.LabelRecord{PredictionID: "p1", TrueClass: 1}))

	err := ldg.AppendLabel(ctx, domain.LabelRecord{PredictionID: "p1", TrueClass: 0})
	require.Error(t, err)
	kind, ok := sentryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sentryerrors.KindConflict, kind)
}

func TestAppendLabelRejectsUnknownPrediction(t *testing.T) {
	store := newFakeStore()
	ldg := ledger.New(store)
	ctx := context.Background()

	err := ldg.AppendLabel(ctx, domain.LabelRecord{PredictionID: "missing", TrueClass: 1})
	require.Error(t, err)
	kind, ok := sentryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sentryerrors.KindNotFound, kind)
}

func TestCoverageStatsCountsOnlyLabeledPredictions(t *testing.T) {
	store := newFakeStore()
	ldg := ledger.New(store)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ldg.AppendPrediction(ctx, domain.PredictionRecord{PredictionID: "p1", CreatedAt: now}))
	require.NoError(t, ldg.AppendPrediction(ctx, domain.PredictionRecord{PredictionID: "p2", CreatedAt: now}))
	require.NoError(t, ldg.AppendLabel(ctx, domain.LabelRecord{PredictionID: "p1", TrueClass: 1}))

	numPredictions, numLabeled, coverage, err := ldg.CoverageStats(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, numPredictions)
	assert.Equal(t, 1, numLabeled)
	assert.InDelta(t, 0.5, coverage, 0.0001)
}
