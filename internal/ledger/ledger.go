// Package ledger implements C2, the prediction and label ledger: the
// two read queries C3 and C4 consume, plus the two writes the serving
// and labeling collaborators make.
package ledger

import (
	"context"
	"time"

	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/storage"
)

// Store is the row-level persistence C2 is built on. Satisfied by
// *storage.LedgerStore; narrowed to an interface here so AppendLabel's
// dedup/AlreadyLabeled/UnknownPrediction behavior can be tested without
// Postgres, the same "fake behind an interface" split the orchestrator
// and registry packages use for their own storage collaborators.
type Store interface {
	AppendPrediction(ctx context.Context, row storage.PredictionRow) error
	AppendLabel(ctx context.Context, row storage.LabelRow) error
	StreamPredictionsSince(ctx context.Context, windowStart, windowEnd time.Time, fn func(storage.PredictionRow) error) error
	StreamJoinedSince(ctx context.Context, windowStart, windowEnd time.Time, fn func(storage.JoinedRow) error) error
	CoverageStats(ctx context.Context, windowStart, windowEnd time.Time) (numPredictions, numLabeled int, coverageFraction float64, err error)
}

// Ledger is C2.
type Ledger struct {
	store Store
}

// New wraps a Store with the domain-level C2 contract.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// AppendPrediction appends a served prediction. A repeated
// prediction_id is a no-op (R1), not a DuplicateId failure — §6's
// at-least-once contract is handled here, not pushed onto callers.
func (l *Ledger) AppendPrediction(ctx context.Context, record domain.PredictionRecord) error {
	return l.store.AppendPrediction(ctx, storage.PredictionRowFromDomain(record))
}

// AppendLabel appends a label. Returns a Conflict-kind error (via
// pkg/errors) if prediction_id is already labeled (AlreadyLabeled), or
// a NotFound-kind error if the referenced prediction does not exist
// (UnknownPrediction, enforced by the database foreign key).
func (l *Ledger) AppendLabel(ctx context.Context, record domain.LabelRecord) error {
	return l.store.AppendLabel(ctx, storage.LabelRowFromDomain(record))
}

// LoadPredictionsSince streams predictions in [windowStart, windowEnd],
// ordered by created_at then prediction_id, invoking fn for each without
// materializing the full window in memory.
func (l *Ledger) LoadPredictionsSince(ctx context.Context, windowStart, windowEnd time.Time, fn func(domain.PredictionRecord) error) error {
	return l.store.StreamPredictionsSince(ctx, windowStart, windowEnd, func(row storage.PredictionRow) error {
		return fn(row.ToDomain())
	})
}

// LabeledPair is one inner-joined (prediction, label) row.
type LabeledPair struct {
	Prediction domain.PredictionRecord
	Label      domain.LabelRecord
}

// JoinLabeled streams the inner join of predictions and labels for the
// window, same ordering rule as LoadPredictionsSince.
func (l *Ledger) JoinLabeled(ctx context.Context, windowStart, windowEnd time.Time, fn func(LabeledPair) error) error {
	return l.store.StreamJoinedSince(ctx, windowStart, windowEnd, func(joined storage.JoinedRow) error {
		return fn(LabeledPair{
			Prediction: joined.Prediction.ToDomain(),
			Label:      joined.Label.ToDomain(),
		})
	})
}

// CoverageStats computes coverage in one pass over the window.
func (l *Ledger) CoverageStats(ctx context.Context, windowStart, windowEnd time.Time) (numPredictions, numLabeled int, coverageFraction float64, err error) {
	return l.store.CoverageStats(ctx, windowStart, windowEnd)
}

// CollectLabeled materializes JoinLabeled's stream into a slice, for
// callers (replay evaluation, temporal split) that need random access
// to a bounded window rather than a one-pass fold.
func (l *Ledger) CollectLabeled(ctx context.Context, windowStart, windowEnd time.Time) ([]LabeledPair, error) {
	var out []LabeledPair
	err := l.JoinLabeled(ctx, windowStart, windowEnd, func(p LabeledPair) error {
		out = append(out, p)
		return nil
	})
	return out, err
}
