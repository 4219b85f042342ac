package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/storage/dbutil"
)

// MonitoringMetricStore persists E4 rows.
type MonitoringMetricStore struct {
	db *gorm.DB
}

func NewMonitoringMetricStore(db *gorm.DB) *MonitoringMetricStore {
	return &MonitoringMetricStore{db: db}
}

func monitoringRowFromDomain(m domain.MonitoringMetric) MonitoringMetricRow {
	return MonitoringMetricRow{
		RunID:                m.RunID,
		RunAt:                m.RunAt,
		LookbackHours:        m.LookbackHours,
		NumPredictions:       m.NumPredictions,
		PositiveRate:         m.PositiveRate,
		ProbabilityMean:      m.ProbabilityMean,
		ProbabilityStd:       m.ProbabilityStd,
		Entropy:              m.Entropy,
		DatasetDriftDetected: m.DatasetDriftDetected,
		FeatureDriftRatio:    m.FeatureDriftRatio,
		NumDriftedFeatures:   m.NumDriftedFeatures,
		NumEvaluatedFeatures: m.NumEvaluatedFeatures,
		DriftArtifactRef:     m.DriftArtifactRef,
		Reason:               m.Reason,
	}
}

// Insert appends one E4 row. run_at is unique (§3); a collision is
// translated to Conflict by dbutil.
func (s *MonitoringMetricStore) Insert(ctx context.Context, m domain.MonitoringMetric) error {
	row := monitoringRowFromDomain(m)
	return dbutil.WrapError(s.db.WithContext(ctx).Create(&row).Error)
}
