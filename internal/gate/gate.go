// Package gate implements C5's pure decision function: the six
// promotion gates (G1-G6), evaluated in order with first-failure
// short-circuiting. The function performs no I/O (§4.5); all artifact
// persistence is the orchestrator's job. Percentage deltas are computed
// with github.com/shopspring/decimal rather than raw floats, so
// repeated relative-improvement comparisons near a gate's threshold
// don't drift from binary floating-point accumulation.
package gate

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/replay"
)

// Evidence is the full input to the gate function (§4.5).
type Evidence struct {
	NumSamples             int
	CoveragePct            float64
	CoverageStatsAvailable bool
	DaysSinceLastPromotion float64 // math.Inf(1) if never promoted
	ProductionF1           float64
	ShadowF1               float64
	ProductionBrier        float64
	ShadowBrier            float64
	Segments               []replay.SegmentResult
}

// SegmentDetail reports one segment's outcome for the structured detail
// report handed back to the orchestrator.
type SegmentDetail struct {
	Name         string  `json:"name"`
	Status       string  `json:"status"` // "ok", "regressed", "insufficient", "missing_in_shadow"
	DeltaPct     float64 `json:"delta_pct,omitempty"`
	N            int     `json:"n,omitempty"`
}

// Decision is the gate function's verdict.
type Decision struct {
	Action     domain.DecisionAction // ActionPromote or ActionReject
	FailedGate *domain.GateLabel
	Reason     string
	Detail     map[string]interface{}
}

// Evaluate runs the six gates over evidence. It cannot fail (§4.5) —
// every input combination produces a Decision, never an error — except
// for the defensive coverage_stats_unavailable short-circuit, which
// signals an orchestrator bug rather than a business outcome.
func Evaluate(evidence Evidence, cfg config.GateConfig) Decision {
	detail := map[string]interface{}{}

	if !evidence.CoverageStatsAvailable {
		label := domain.GateCoverageUnavailable
		return Decision{
			Action:     domain.ActionReject,
			FailedGate: &label,
			Reason:     "coverage stats unavailable",
			Detail:     detail,
		}
	}

	// G1 SampleValidity
	if d, rejected := checkG1(evidence, cfg); rejected {
		return withDetail(d, detail)
	}

	// G2 LabelCoverage
	if d, rejected := checkG2(evidence, cfg); rejected {
		return withDetail(d, detail)
	}

	// G3 PromotionCooldown
	if d, rejected := checkG3(evidence, cfg); rejected {
		return withDetail(d, detail)
	}

	// G4 PerformanceGain
	f1ImprovementPct, d, rejected := checkG4(evidence, cfg)
	detail["f1_improvement_pct"] = f1ImprovementPct
	if rejected {
		return withDetail(d, detail)
	}

	// G5 CalibrationHold
	brierChange, d, rejected := checkG5(evidence, cfg)
	detail["brier_change"] = brierChange
	if rejected {
		return withDetail(d, detail)
	}

	// G6 SegmentFairness
	segmentDetails, d, rejected := checkG6(evidence, cfg)
	detail["segments"] = segmentDetails
	if rejected {
		return withDetail(d, detail)
	}

	return Decision{
		Action: domain.ActionPromote,
		Reason: "all gates passed",
		Detail: detail,
	}
}

func withDetail(d Decision, detail map[string]interface{}) Decision {
	if d.Detail == nil {
		d.Detail = detail
	}
	return d
}

func checkG1(e Evidence, cfg config.GateConfig) (Decision, bool) {
	if e.NumSamples >= cfg.MinSamplesForDecision {
		return Decision{}, false
	}
	label := domain.GateG1SampleValidity
	return Decision{
		Action:     domain.ActionReject,
		FailedGate: &label,
		Reason:     fmt.Sprintf("num_samples %d < %d", e.NumSamples, cfg.MinSamplesForDecision),
	}, true
}

func checkG2(e Evidence, cfg config.GateConfig) (Decision, bool) {
	if e.CoveragePct >= cfg.MinCoveragePct {
		return Decision{}, false
	}
	label := domain.GateG2LabelCoverage
	return Decision{
		Action:     domain.ActionReject,
		FailedGate: &label,
		Reason:     fmt.Sprintf("coverage_pct %.2f < %.2f", e.CoveragePct, cfg.MinCoveragePct),
	}, true
}

func checkG3(e Evidence, cfg config.GateConfig) (Decision, bool) {
	cooldown := float64(cfg.PromotionCooldownDays)
	if math.IsInf(e.DaysSinceLastPromotion, 1) || e.DaysSinceLastPromotion >= cooldown {
		return Decision{}, false
	}
	label := domain.GateG3PromotionCooldown
	return Decision{
		Action:     domain.ActionReject,
		FailedGate: &label,
		Reason:     fmt.Sprintf("%.0f days < %d days cooldown", e.DaysSinceLastPromotion, cfg.PromotionCooldownDays),
	}, true
}

func checkG4(e Evidence, cfg config.GateConfig) (float64, Decision, bool) {
	prodF1 := decimal.NewFromFloat(e.ProductionF1)
	shadowF1 := decimal.NewFromFloat(e.ShadowF1)
	if prodF1.IsZero() {
		label := domain.GateG4PerformanceGain
		return 0, Decision{
			Action:     domain.ActionReject,
			FailedGate: &label,
			Reason:     "production_f1 is zero, cannot compute relative improvement",
		}, true
	}

	improvement := shadowF1.Sub(prodF1).Div(prodF1).Mul(decimal.NewFromInt(100))
	improvementFloat, _ := improvement.Float64()

	threshold := decimal.NewFromFloat(cfg.MinF1ImprovementPct)
	if improvement.GreaterThanOrEqual(threshold) {
		return improvementFloat, Decision{}, false
	}

	label := domain.GateG4PerformanceGain
	return improvementFloat, Decision{
		Action:     domain.ActionReject,
		FailedGate: &label,
		Reason:     fmt.Sprintf("f1 improvement %.2f%% < %.2f%% required", improvementFloat, cfg.MinF1ImprovementPct),
	}, true
}

func checkG5(e Evidence, cfg config.GateConfig) (float64, Decision, bool) {
	prodBrier := decimal.NewFromFloat(e.ProductionBrier)
	shadowBrier := decimal.NewFromFloat(e.ShadowBrier)
	change := shadowBrier.Sub(prodBrier)
	changeFloat, _ := change.Float64()

	maxDegradation := decimal.NewFromFloat(cfg.MaxBrierDegradation)
	if change.LessThanOrEqual(maxDegradation) {
		return changeFloat, Decision{}, false
	}

	label := domain.GateG5CalibrationHold
	return changeFloat, Decision{
		Action:     domain.ActionReject,
		FailedGate: &label,
		Reason:     fmt.Sprintf("brier degradation %.4f > %.4f", changeFloat, cfg.MaxBrierDegradation),
	}, true
}

func checkG6(e Evidence, cfg config.GateConfig) ([]SegmentDetail, Decision, bool) {
	var details []SegmentDetail
	minDrop := decimal.NewFromFloat(cfg.MinSegmentF1DropPct).Neg()

	for _, seg := range e.Segments {
		if seg.Insufficient {
			details = append(details, SegmentDetail{Name: seg.Name, Status: "insufficient", N: seg.N})
			continue
		}

		prodF1 := decimal.NewFromFloat(seg.ProductionF1)
		shadowF1 := decimal.NewFromFloat(seg.ShadowF1)
		if prodF1.IsZero() {
			details = append(details, SegmentDetail{Name: seg.Name, Status: "ok", N: seg.N})
			continue
		}

		delta := shadowF1.Sub(prodF1).Div(prodF1).Mul(decimal.NewFromInt(100))
		deltaFloat, _ := delta.Float64()

		if delta.LessThan(minDrop) {
			details = append(details, SegmentDetail{Name: seg.Name, Status: "regressed", DeltaPct: deltaFloat, N: seg.N})
			label := domain.GateG6SegmentFairness
			return details, Decision{
				Action:     domain.ActionReject,
				FailedGate: &label,
				Reason:     fmt.Sprintf("segment %s regressed by %.1f%%", seg.Name, deltaFloat),
			}, true
		}

		details = append(details, SegmentDetail{Name: seg.Name, Status: "ok", DeltaPct: deltaFloat, N: seg.N})
	}

	return details, Decision{}, false
}

// MissingInShadowSegments records, per the original_source/ supplement,
// segments present in production evidence but absent from the shadow's
// replay set — surfaced for operator visibility without failing G6,
// since an untested segment is distinct from a regressed one.
func MissingInShadowSegments(productionSegmentNames []string, evaluated []replay.SegmentResult) []SegmentDetail {
	seen := map[string]bool{}
	for _, s := range evaluated {
		seen[s.Name] = true
	}
	var missing []SegmentDetail
	for _, name := range productionSegmentNames {
		if !seen[name] {
			missing = append(missing, SegmentDetail{Name: name, Status: "missing_in_shadow"})
		}
	}
	return missing
}
