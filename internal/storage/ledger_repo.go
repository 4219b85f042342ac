package storage

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sentrylabs/modelsentry/internal/storage/dbutil"
)

// LedgerStore is the gorm-backed storage for E2 (PredictionRow) and E3
// (LabelRow), the row-level collaborator behind internal/ledger's
// domain-level C2 operations.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore wraps an open gorm handle.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// AppendPrediction inserts a prediction row. A duplicate prediction_id
// is treated as a no-op (§6: the contract is at-least-once; the core
// deduplicates), not an error, via ON CONFLICT DO NOTHING.
func (s *LedgerStore) AppendPrediction(ctx context.Context, row PredictionRow) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "prediction_id"}}, DoNothing: true}).
		Create(&row).Error
	return dbutil.WrapError(err)
}

// AppendLabel inserts a label row. Returns a Conflict-kind error (via
// dbutil) if prediction_id is already labeled, distinguishing
// AlreadyLabeled from a fresh insert's success.
func (s *LedgerStore) AppendLabel(ctx context.Context, row LabelRow) error {
	err := s.db.WithContext(ctx).Create(&row).Error
	return dbutil.WrapError(err)
}

// StreamPredictionsSince invokes fn for every prediction in
// [windowStart, windowEnd], ordered by created_at then prediction_id,
// without materializing the full result set — gorm's row-cursor mode.
func (s *LedgerStore) StreamPredictionsSince(ctx context.Context, windowStart, windowEnd time.Time, fn func(PredictionRow) error) error {
	rows, err := s.db.WithContext(ctx).Model(&PredictionRow{}).
		Where("created_at >= ? AND created_at <= ?", windowStart, windowEnd).
		Order("created_at ASC, prediction_id ASC").
		Rows()
	if err != nil {
		return dbutil.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var r PredictionRow
		if err := s.db.ScanRows(rows, &r); err != nil {
			return dbutil.WrapError(err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return dbutil.WrapError(rows.Err())
}

// JoinedRow pairs a prediction with its eventual label.
type JoinedRow struct {
	Prediction PredictionRow
	Label      LabelRow
}

// StreamJoinedSince invokes fn for every (prediction, label) pair whose
// prediction falls in the window and has a label, same ordering rule.
func (s *LedgerStore) StreamJoinedSince(ctx context.Context, windowStart, windowEnd time.Time, fn func(JoinedRow) error) error {
	type joined struct {
		PredictionRow
		LTrueClass       int
		LLabelObservedAt time.Time
		LLabelSource     string
		LDaysDelayed     int
	}

	rows, err := s.db.WithContext(ctx).Table("predictions p").
		Select(`p.*, l.true_class as l_true_class, l.label_observed_at as l_label_observed_at,
			l.label_source as l_label_source, l.days_delayed as l_days_delayed`).
		Joins("JOIN labels l ON l.prediction_id = p.prediction_id").
		Where("p.created_at >= ? AND p.created_at <= ?", windowStart, windowEnd).
		Order("p.created_at ASC, p.prediction_id ASC").
		Rows()
	if err != nil {
		return dbutil.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var j joined
		if err := s.db.ScanRows(rows, &j); err != nil {
			return dbutil.WrapError(err)
		}
		out := JoinedRow{
			Prediction: j.PredictionRow,
			Label: LabelRow{
				PredictionID:    j.PredictionRow.PredictionID,
				TrueClass:       j.LTrueClass,
				LabelObservedAt: j.LLabelObservedAt,
				LabelSource:     j.LLabelSource,
				DaysDelayed:     j.LDaysDelayed,
			},
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return dbutil.WrapError(rows.Err())
}

// CoverageStats computes, in one pass, how many predictions in the
// window have an eventual label.
func (s *LedgerStore) CoverageStats(ctx context.Context, windowStart, windowEnd time.Time) (numPredictions, numLabeled int, coverageFraction float64, err error) {
	var counts struct {
		Total   int64
		Labeled int64
	}
	if err = s.db.WithContext(ctx).Table("predictions p").
		Select("COUNT(*) AS total, COUNT(l.prediction_id) AS labeled").
		Joins("LEFT JOIN labels l ON l.prediction_id = p.prediction_id").
		Where("p.created_at >= ? AND p.created_at <= ?", windowStart, windowEnd).
		Scan(&counts).Error; err != nil {
		return 0, 0, 0, dbutil.WrapError(err)
	}

	numPredictions = int(counts.Total)
	numLabeled = int(counts.Labeled)
	if numPredictions > 0 {
		coverageFraction = float64(numLabeled) / float64(numPredictions)
	}
	return numPredictions, numLabeled, coverageFraction, nil
}

// toJSONMap adapts a plain map into gorm's jsonb-backed map type.
func toJSONMap(m map[string]interface{}) datatypes.JSONMap {
	return datatypes.JSONMap(m)
}
