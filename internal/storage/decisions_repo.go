package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/storage/dbutil"
)

// DecisionStore persists E5 rows.
type DecisionStore struct {
	db *gorm.DB
}

func NewDecisionStore(db *gorm.DB) *DecisionStore {
	return &DecisionStore{db: db}
}

func decisionRowFromDomain(d domain.RetrainingDecision) RetrainingDecisionRow {
	var failedGate *string
	if d.FailedGate != nil {
		s := string(*d.FailedGate)
		failedGate = &s
	}
	return RetrainingDecisionRow{
		DecisionID:             d.DecisionID,
		DecidedAt:              d.DecidedAt,
		TriggerReason:          string(d.TriggerReason),
		Action:                 string(d.Action),
		FailedGate:             failedGate,
		Reason:                 d.Reason,
		FeatureDriftRatio:      d.FeatureDriftRatio,
		NumDriftedFeatures:     d.NumDriftedFeatures,
		LabeledSamples:         d.LabeledSamples,
		CoveragePct:            d.CoveragePct,
		ShadowModelVersion:     d.ShadowModelVersion,
		ProductionModelVersion: d.ProductionModelVersion,
		F1ImprovementPct:       d.F1ImprovementPct,
		BrierChange:            d.BrierChange,
		EvaluationArtifactRef:  d.EvaluationArtifactRef,
	}
}

func (r RetrainingDecisionRow) toDomain() domain.RetrainingDecision {
	var failedGate *domain.GateLabel
	if r.FailedGate != nil {
		g := domain.GateLabel(*r.FailedGate)
		failedGate = &g
	}
	return domain.RetrainingDecision{
		DecisionID:             r.DecisionID,
		DecidedAt:              r.DecidedAt,
		TriggerReason:          domain.TriggerReason(r.TriggerReason),
		Action:                 domain.DecisionAction(r.Action),
		FailedGate:             failedGate,
		Reason:                 r.Reason,
		FeatureDriftRatio:      r.FeatureDriftRatio,
		NumDriftedFeatures:     r.NumDriftedFeatures,
		LabeledSamples:         r.LabeledSamples,
		CoveragePct:            r.CoveragePct,
		ShadowModelVersion:     r.ShadowModelVersion,
		ProductionModelVersion: r.ProductionModelVersion,
		F1ImprovementPct:       r.F1ImprovementPct,
		BrierChange:            r.BrierChange,
		EvaluationArtifactRef:  r.EvaluationArtifactRef,
	}
}

// Insert appends one E5 row. decided_at is unique (§3); E5 rows are
// never mutated after insert.
func (s *DecisionStore) Insert(ctx context.Context, d domain.RetrainingDecision) error {
	row := decisionRowFromDomain(d)
	return dbutil.WrapError(s.db.WithContext(ctx).Create(&row).Error)
}

// LastN returns the most recent n decisions, newest first, for
// sentryctl status.
func (s *DecisionStore) LastN(ctx context.Context, n int) ([]domain.RetrainingDecision, error) {
	var rows []RetrainingDecisionRow
	if err := s.db.WithContext(ctx).Order("decided_at DESC").Limit(n).Find(&rows).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	out := make([]domain.RetrainingDecision, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
