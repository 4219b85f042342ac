package storage

import (
	"time"

	"gorm.io/datatypes"
)

// PredictionRow is E2's gorm-mapped storage shape.
type PredictionRow struct {
	PredictionID         string `gorm:"primaryKey;column:prediction_id"`
	CreatedAt            time.Time `gorm:"index"`
	ModelName            string `gorm:"index"`
	ModelVersion         string
	Features             datatypes.JSONMap `gorm:"type:jsonb"`
	PredictedClass       int
	PredictedProbability float64
	RequestSource        string
	ResponseTimeMs       *int64
}

func (PredictionRow) TableName() string { return "predictions" }

// LabelRow is E3's gorm-mapped storage shape.
type LabelRow struct {
	PredictionID    string `gorm:"primaryKey;column:prediction_id"`
	TrueClass       int
	LabelObservedAt time.Time `gorm:"index"`
	LabelSource     string
	DaysDelayed     int
}

func (LabelRow) TableName() string { return "labels" }

// MonitoringMetricRow is E4's gorm-mapped storage shape.
type MonitoringMetricRow struct {
	RunID                string `gorm:"primaryKey;column:run_id"`
	RunAt                time.Time `gorm:"uniqueIndex"`
	LookbackHours        int
	NumPredictions       int
	PositiveRate         float64
	ProbabilityMean      float64
	ProbabilityStd       float64
	Entropy              float64
	DatasetDriftDetected bool
	FeatureDriftRatio    float64
	NumDriftedFeatures   int
	NumEvaluatedFeatures int
	DriftArtifactRef     string
	Reason               string
}

func (MonitoringMetricRow) TableName() string { return "monitoring_metrics" }

// RetrainingDecisionRow is E5's gorm-mapped storage shape.
type RetrainingDecisionRow struct {
	DecisionID             string `gorm:"primaryKey;column:decision_id"`
	DecidedAt              time.Time `gorm:"uniqueIndex"`
	TriggerReason          string
	Action                 string
	FailedGate             *string
	Reason                 string
	FeatureDriftRatio      *float64
	NumDriftedFeatures     *int
	LabeledSamples         int
	CoveragePct            float64
	ShadowModelVersion     *string
	ProductionModelVersion *string
	F1ImprovementPct       *float64
	BrierChange            *float64
	EvaluationArtifactRef  *string
}

func (RetrainingDecisionRow) TableName() string { return "retraining_decisions" }

// ModelVersionRow is E6's gorm-mapped storage shape. The partial unique
// index enforcing "at most one Production row per model_name" is created
// in AutoMigrate since gorm tags cannot express a partial index.
type ModelVersionRow struct {
	ModelName                   string `gorm:"primaryKey;column:model_name"`
	Version                     string `gorm:"primaryKey;column:version"`
	Stage                       string `gorm:"index"`
	TrainedAt                   time.Time
	PromotedAt                  *time.Time
	ArchivedAt                  *time.Time
	TrainingRunReference        string
	TriggerReason               string
	F1Score                     float64
	BrierScore                  float64
	NumTrainingSamples          int
	FeatureDriftRatioAtTraining float64
	DecisionID                  *string
	ModelBlobRef                string
}

func (ModelVersionRow) TableName() string { return "model_versions" }
