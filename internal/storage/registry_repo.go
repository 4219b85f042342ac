package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/storage/dbutil"
)

// RegistryStore persists E6 rows and performs C5's atomic promotion
// transaction.
type RegistryStore struct {
	db *gorm.DB
}

func NewRegistryStore(db *gorm.DB) *RegistryStore {
	return &RegistryStore{db: db}
}

func modelVersionRowFromDomain(m domain.ModelVersion) ModelVersionRow {
	return ModelVersionRow{
		ModelName:                   m.ModelName,
		Version:                     m.Version,
		Stage:                       string(m.Stage),
		TrainedAt:                   m.TrainedAt,
		PromotedAt:                  m.PromotedAt,
		ArchivedAt:                  m.ArchivedAt,
		TrainingRunReference:        m.TrainingRunReference,
		TriggerReason:               string(m.TriggerReason),
		F1Score:                     m.F1Score,
		BrierScore:                  m.BrierScore,
		NumTrainingSamples:          m.NumTrainingSamples,
		FeatureDriftRatioAtTraining: m.FeatureDriftRatioAtTraining,
		DecisionID:                  m.DecisionID,
		ModelBlobRef:                m.ModelBlobRef,
	}
}

func (r ModelVersionRow) toDomain() domain.ModelVersion {
	return domain.ModelVersion{
		ModelName:                   r.ModelName,
		Version:                     r.Version,
		Stage:                       domain.Stage(r.Stage),
		TrainedAt:                   r.TrainedAt,
		PromotedAt:                  r.PromotedAt,
		ArchivedAt:                  r.ArchivedAt,
		TrainingRunReference:        r.TrainingRunReference,
		TriggerReason:               domain.TriggerReason(r.TriggerReason),
		F1Score:                     r.F1Score,
		BrierScore:                  r.BrierScore,
		NumTrainingSamples:          r.NumTrainingSamples,
		FeatureDriftRatioAtTraining: r.FeatureDriftRatioAtTraining,
		DecisionID:                  r.DecisionID,
		ModelBlobRef:                r.ModelBlobRef,
	}
}

// InsertStaging creates a new E6 row with stage=Staging on training
// success (None -> Staging transition).
func (s *RegistryStore) InsertStaging(ctx context.Context, m domain.ModelVersion) error {
	m.Stage = domain.StageStaging
	row := modelVersionRowFromDomain(m)
	return dbutil.WrapError(s.db.WithContext(ctx).Create(&row).Error)
}

// ArchiveStaging performs the Staging -> Archived transition (on
// decision = reject), or is called by the TTL janitor for stale rows.
func (s *RegistryStore) ArchiveStaging(ctx context.Context, modelName, version string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&ModelVersionRow{}).
		Where("model_name = ? AND version = ? AND stage = ?", modelName, version, string(domain.StageStaging)).
		Updates(map[string]interface{}{"stage": string(domain.StageArchived), "archived_at": now})
	if res.Error != nil {
		return dbutil.WrapError(res.Error)
	}
	return nil
}

// GetProduction returns the current Production row for modelName, if any.
func (s *RegistryStore) GetProduction(ctx context.Context, modelName string) (domain.ModelVersion, bool, error) {
	var row ModelVersionRow
	err := s.db.WithContext(ctx).
		Where("model_name = ? AND stage = ?", modelName, string(domain.StageProduction)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ModelVersion{}, false, nil
	}
	if err != nil {
		return domain.ModelVersion{}, false, dbutil.WrapError(err)
	}
	return row.toDomain(), true, nil
}

// Get returns one (model_name, version) row.
func (s *RegistryStore) Get(ctx context.Context, modelName, version string) (domain.ModelVersion, bool, error) {
	var row ModelVersionRow
	err := s.db.WithContext(ctx).
		Where("model_name = ? AND version = ?", modelName, version).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ModelVersion{}, false, nil
	}
	if err != nil {
		return domain.ModelVersion{}, false, dbutil.WrapError(err)
	}
	return row.toDomain(), true, nil
}

// PromoteAtomic executes §4.5's three-step promotion transaction:
// archive any existing Production row, promote the target row, commit.
// A unique-constraint violation on the partial index (a racing
// concurrent promotion) is translated to a Conflict-kind error, which
// callers must translate to RegistryConflict.
func (s *RegistryStore) PromoteAtomic(ctx context.Context, modelName, version, decisionID string, now time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ModelVersionRow{}).
			Where("model_name = ? AND stage = ?", modelName, string(domain.StageProduction)).
			Updates(map[string]interface{}{"stage": string(domain.StageArchived), "archived_at": now}).Error; err != nil {
			return err
		}

		res := tx.Model(&ModelVersionRow{}).
			Where("model_name = ? AND version = ?", modelName, version).
			Updates(map[string]interface{}{
				"stage":       string(domain.StageProduction),
				"promoted_at": now,
				"decision_id": decisionID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return dbutil.WrapError(err)
}

// ArchiveThenPromote is the manual-rollback variant of PromoteAtomic:
// promotes an already-Archived row back to Production under the same
// transaction shape (§6 rollback command).
func (s *RegistryStore) ArchiveThenPromote(ctx context.Context, modelName, version, decisionID string, now time.Time) error {
	return s.PromoteAtomic(ctx, modelName, version, decisionID, now)
}

// StaleStagingBefore lists Staging rows trained before cutoff, for the
// periodic janitor (§5 cancellation/timeouts).
func (s *RegistryStore) StaleStagingBefore(ctx context.Context, cutoff time.Time) ([]domain.ModelVersion, error) {
	var rows []ModelVersionRow
	if err := s.db.WithContext(ctx).
		Where("stage = ? AND trained_at < ?", string(domain.StageStaging), cutoff).
		Find(&rows).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	out := make([]domain.ModelVersion, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
