package gate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/replay"
)

func baseConfig() config.GateConfig {
	return config.GateConfig{
		MinSamplesForDecision: 200,
		MinCoveragePct:        30.0,
		PromotionCooldownDays: 7,
		MinF1ImprovementPct:   2.0,
		MaxBrierDegradation:   0.01,
		MinSegmentF1DropPct:   1.0,
		SegmentMin:            50,
	}
}

func passingEvidence() Evidence {
	return Evidence{
		NumSamples:             1800,
		CoveragePct:            36.0,
		CoverageStatsAvailable: true,
		DaysSinceLastPromotion: 14,
		ProductionF1:           0.800,
		ShadowF1:               0.826,
		ProductionBrier:        0.150,
		ShadowBrier:            0.153,
	}
}

func TestEvaluateAllGatesPassPromotes(t *testing.T) {
	d := Evaluate(passingEvidence(), baseConfig())
	require.Equal(t, domain.ActionPromote, d.Action)
	assert.Nil(t, d.FailedGate)
}

func TestEvaluateG1InsufficientSamplesRejects(t *testing.T) {
	e := passingEvidence()
	e.NumSamples = 0
	d := Evaluate(e, baseConfig())
	require.Equal(t, domain.ActionReject, d.Action)
	require.NotNil(t, d.FailedGate)
	assert.Equal(t, domain.GateG1SampleValidity, *d.FailedGate)
}

func TestEvaluateG5CalibrationRegressionRejects(t *testing.T) {
	e := passingEvidence()
	e.ShadowBrier = 0.165 // delta +0.015 > 0.01
	d := Evaluate(e, baseConfig())
	require.Equal(t, domain.ActionReject, d.Action)
	require.NotNil(t, d.FailedGate)
	assert.Equal(t, domain.GateG5CalibrationHold, *d.FailedGate)
}

func TestEvaluateG6SegmentRegressionRejects(t *testing.T) {
	e := passingEvidence()
	e.Segments = []replay.SegmentResult{
		{Name: "age:low", ProductionF1: 0.80, ShadowF1: 0.824}, // +3% ok
		{Name: "age:mid", ProductionF1: 0.80, ShadowF1: 0.784}, // -2% regression
	}
	d := Evaluate(e, baseConfig())
	require.Equal(t, domain.ActionReject, d.Action)
	require.NotNil(t, d.FailedGate)
	assert.Equal(t, domain.GateG6SegmentFairness, *d.FailedGate)
}

func TestEvaluateG3CooldownBlockRejects(t *testing.T) {
	e := passingEvidence()
	e.DaysSinceLastPromotion = 3
	d := Evaluate(e, baseConfig())
	require.Equal(t, domain.ActionReject, d.Action)
	require.NotNil(t, d.FailedGate)
	assert.Equal(t, domain.GateG3PromotionCooldown, *d.FailedGate)
}

func TestEvaluateCoverageStatsUnavailableFailsClosed(t *testing.T) {
	e := passingEvidence()
	e.CoverageStatsAvailable = false
	d := Evaluate(e, baseConfig())
	require.Equal(t, domain.ActionReject, d.Action)
	require.NotNil(t, d.FailedGate)
	assert.Equal(t, domain.GateCoverageUnavailable, *d.FailedGate)
}

// B1: num_samples == min_samples_for_decision passes G1 (inclusive).
func TestBoundaryB1SampleCountEqualToThresholdPasses(t *testing.T) {
	e := passingEvidence()
	e.NumSamples = 200
	d := Evaluate(e, baseConfig())
	assert.NotEqual(t, domain.GateG1SampleValidity, derefGate(d.FailedGate))
}

// B2: coverage_pct == min_coverage_pct passes G2.
func TestBoundaryB2CoverageEqualToThresholdPasses(t *testing.T) {
	e := passingEvidence()
	e.CoveragePct = 30.0
	d := Evaluate(e, baseConfig())
	assert.NotEqual(t, domain.GateG2LabelCoverage, derefGate(d.FailedGate))
}

// B3: shadow_f1 == production_f1 * (1 + min_f1_improvement_pct/100) passes G4.
func TestBoundaryB3ExactImprovementThresholdPasses(t *testing.T) {
	e := passingEvidence()
	e.ProductionF1 = 0.800
	e.ShadowF1 = 0.800 * 1.02
	d := Evaluate(e, baseConfig())
	assert.NotEqual(t, domain.GateG4PerformanceGain, derefGate(d.FailedGate))
}

// B4: shadow_brier - production_brier == max_brier_degradation passes G5.
func TestBoundaryB4ExactBrierDegradationThresholdPasses(t *testing.T) {
	e := passingEvidence()
	e.ProductionBrier = 0.150
	e.ShadowBrier = 0.160
	d := Evaluate(e, baseConfig())
	assert.NotEqual(t, domain.GateG5CalibrationHold, derefGate(d.FailedGate))
}

// B5: a segment with n_s = segment_min - 1 is abstained, not failed.
func TestBoundaryB5UndersizedSegmentAbstainsNotFails(t *testing.T) {
	e := passingEvidence()
	e.Segments = []replay.SegmentResult{
		{Name: "age:low", Insufficient: true, N: 49},
	}
	d := Evaluate(e, baseConfig())
	assert.Equal(t, domain.ActionPromote, d.Action)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := passingEvidence()
	d1 := Evaluate(e, baseConfig())
	d2 := Evaluate(e, baseConfig())
	assert.Equal(t, d1.Action, d2.Action)
	assert.Equal(t, d1.Reason, d2.Reason)
	assert.Equal(t, derefGate(d1.FailedGate), derefGate(d2.FailedGate))
}

func TestEvaluateNeverPromotionWhenProductionNeverSet(t *testing.T) {
	e := passingEvidence()
	e.DaysSinceLastPromotion = math.Inf(1)
	d := Evaluate(e, baseConfig())
	assert.NotEqual(t, domain.GateG3PromotionCooldown, derefGate(d.FailedGate))
}

// TestMissingInShadowSegmentsReportsOnlyUnevaluatedNames covers the
// original_source/ supplement: a segment name declared in config but
// absent from the shadow's evaluated results is reported distinctly
// from one that was evaluated, regardless of that evaluated segment's
// own status.
func TestMissingInShadowSegmentsReportsOnlyUnevaluatedNames(t *testing.T) {
	evaluated := []replay.SegmentResult{
		{Name: "age:low", ProductionF1: 0.8, ShadowF1: 0.82},
	}
	missing := MissingInShadowSegments([]string{"age:low", "age:high"}, evaluated)
	require.Len(t, missing, 1)
	assert.Equal(t, "age:high", missing[0].Name)
	assert.Equal(t, "missing_in_shadow", missing[0].Status)
}

func TestMissingInShadowSegmentsEmptyWhenAllEvaluated(t *testing.T) {
	evaluated := []replay.SegmentResult{
		{Name: "age:low", ProductionF1: 0.8, ShadowF1: 0.82},
		{Name: "age:high", Insufficient: true, N: 3},
	}
	missing := MissingInShadowSegments([]string{"age:low", "age:high"}, evaluated)
	assert.Empty(t, missing)
}

func derefGate(g *domain.GateLabel) domain.GateLabel {
	if g == nil {
		return ""
	}
	return *g
}
