// Package domain defines the entities (E1-E6) shared by every component:
// plain Go structs with no storage or transport concerns attached.
package domain

import "time"

// SemanticType tags a feature column with how drift tests should treat it.
type SemanticType string

const (
	SemanticContinuous  SemanticType = "continuous"
	SemanticOrdinal     SemanticType = "ordinal"
	SemanticCategorical SemanticType = "categorical"
)

// FeatureColumn is one entry of a ReferenceBaseline's feature schema.
type FeatureColumn struct {
	Name         string       `json:"name"`
	SemanticType SemanticType `json:"semantic_type"`
}

// FeatureSchema is the ordered column list that defines row layout for
// every PredictionRecord and for reference-baseline rows.
type FeatureSchema []FeatureColumn

// ReferenceBaseline is E1: the frozen distributional null hypothesis.
type ReferenceBaseline struct {
	ReferenceID   string
	FeatureSchema FeatureSchema
	RowCount      int
	ContentDigest string
	CreatedAt     time.Time
	// Rows holds the canonical-order sample used for drift comparison.
	// Not persisted on E1's governance row; loaded alongside it.
	Rows []FeatureRow
}

// FeatureRow is one row of feature values, keyed by FeatureSchema
// column name.
type FeatureRow map[string]interface{}

// PredictionRecord is E2.
type PredictionRecord struct {
	PredictionID         string
	CreatedAt            time.Time
	ModelName            string
	ModelVersion         string
	Features             FeatureRow
	PredictedClass       int
	PredictedProbability float64
	RequestSource        string
	ResponseTimeMs       *int64
}

// LabelRecord is E3.
type LabelRecord struct {
	PredictionID     string
	TrueClass        int
	LabelObservedAt  time.Time
	LabelSource      string
	DaysDelayed      int
}

// MonitoringMetric is E4, one row per C3 tick.
type MonitoringMetric struct {
	RunID                 string
	RunAt                 time.Time
	LookbackHours         int
	NumPredictions        int
	PositiveRate          float64
	ProbabilityMean       float64
	ProbabilityStd        float64
	Entropy               float64
	DatasetDriftDetected  bool
	FeatureDriftRatio     float64
	NumDriftedFeatures    int
	NumEvaluatedFeatures  int
	DriftArtifactRef      string
	Reason                string
}

// TriggerReason enumerates why C4 was invoked.
type TriggerReason string

const (
	TriggerScheduled  TriggerReason = "scheduled"
	TriggerManual     TriggerReason = "manual"
	TriggerDriftAlert TriggerReason = "drift_alert"
)

// DecisionAction enumerates E5's terminal outcome.
type DecisionAction string

const (
	ActionTrain   DecisionAction = "train"
	ActionSkip    DecisionAction = "skip"
	ActionPromote DecisionAction = "promote"
	ActionReject  DecisionAction = "reject"
)

// GateLabel identifies which of the six gates stopped evaluation, or a
// non-gate short-circuit reason (coverage_stats_unavailable,
// concurrent_promotion).
type GateLabel string

const (
	GateG1SampleValidity     GateLabel = "G1"
	GateG2LabelCoverage      GateLabel = "G2"
	GateG3PromotionCooldown  GateLabel = "G3"
	GateG4PerformanceGain    GateLabel = "G4"
	GateG5CalibrationHold    GateLabel = "G5"
	GateG6SegmentFairness    GateLabel = "G6"
	GateConcurrentPromotion  GateLabel = "concurrent_promotion"
	GateCoverageUnavailable  GateLabel = "coverage_stats_unavailable"
)

// RetrainingDecision is E5.
type RetrainingDecision struct {
	DecisionID              string
	DecidedAt               time.Time
	TriggerReason           TriggerReason
	Action                  DecisionAction
	FailedGate              *GateLabel
	Reason                  string
	FeatureDriftRatio       *float64
	NumDriftedFeatures      *int
	LabeledSamples          int
	CoveragePct             float64
	ShadowModelVersion      *string
	ProductionModelVersion  *string
	F1ImprovementPct        *float64
	BrierChange             *float64
	EvaluationArtifactRef   *string
}

// Stage enumerates E6's governance lifecycle.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// ModelVersion is E6.
type ModelVersion struct {
	ModelName                    string
	Version                      string
	Stage                        Stage
	TrainedAt                    time.Time
	PromotedAt                   *time.Time
	ArchivedAt                   *time.Time
	TrainingRunReference         string
	TriggerReason                TriggerReason
	F1Score                      float64
	BrierScore                   float64
	NumTrainingSamples           int
	FeatureDriftRatioAtTraining  float64
	DecisionID                   *string
	ModelBlobRef                 string
}
