// Package monitoring implements C3, the monitoring engine: a
// ticker-driven worker that computes label-free proxy metrics and
// per-feature drift verdicts against the frozen reference baseline.
// The Start/Stop lifecycle follows the teacher's ticker-driven
// background-worker pattern (internal/risk/monitoring, internal/manipulation).
package monitoring

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentrylabs/modelsentry/internal/baseline"
	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/events"
	"github.com/sentrylabs/modelsentry/internal/ledger"
	"github.com/sentrylabs/modelsentry/internal/stats"
	"github.com/sentrylabs/modelsentry/pkg/metrics"
)

// MetricStore persists E4 rows. Satisfied by *storage.MonitoringMetricStore.
type MetricStore interface {
	Insert(ctx context.Context, m domain.MonitoringMetric) error
}

// Engine is C3.
type Engine struct {
	cfg          config.MonitoringConfig
	baselineStr  *baseline.Store
	ledger       *ledger.Ledger
	metricStore  MetricStore
	artifactDir  string
	bus          *events.Bus
	log          *zap.Logger

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	ticking  bool // true while a tick is writing its row; guards overlap-skip
}

// New builds the monitoring engine.
func New(cfg config.MonitoringConfig, baselineStr *baseline.Store, ledger *ledger.Ledger, metricStore MetricStore, artifactDir string, bus *events.Bus, log *zap.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		baselineStr: baselineStr,
		ledger:      ledger,
		metricStore: metricStore,
		artifactDir: artifactDir,
		bus:         bus,
		log:         log.Named("monitor"),
	}
}

// Start launches the ticker goroutine. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	go func() {
		ticker := time.NewTicker(time.Duration(e.cfg.IntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				e.tick(loopCtx, time.Now().UTC())
			}
		}
	}()
}

// Stop halts the ticker goroutine. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.cancel()
	e.started = false
}

// tick runs one monitoring pass, skipping instead of queuing if the
// previous tick has not finished writing its row (§4.3 ordering).
func (e *Engine) tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	if e.ticking {
		e.mu.Unlock()
		e.log.Info("monitoring tick skipped, previous tick still in flight", zap.Time("now", now))
		metrics.MonitoringTicks.WithLabelValues("skipped_overlap").Inc()
		e.recordOverlapSkip(ctx, now)
		return
	}
	e.ticking = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ticking = false
		e.mu.Unlock()
	}()

	start := time.Now()
	outcome := e.runTick(ctx, now)
	metrics.MonitoringTickDuration.Observe(time.Since(start).Seconds())
	metrics.MonitoringTicks.WithLabelValues(outcome).Inc()
}

// recordOverlapSkip persists one E4 row for a tick attempted while the
// previous one was still in flight, so every attempted tick leaves a
// row behind per §4.3 Ordering, not just the ones that run to
// completion.
func (e *Engine) recordOverlapSkip(ctx context.Context, now time.Time) {
	m := domain.MonitoringMetric{
		RunID:                uuid.NewString(),
		RunAt:                now,
		LookbackHours:        e.cfg.LookbackHours,
		DatasetDriftDetected: false,
		NumDriftedFeatures:   0,
		Reason:               "overlap_skip",
	}
	if err := e.metricStore.Insert(ctx, m); err != nil {
		e.log.Error("persisting overlap-skip E4 row failed", zap.Error(err))
	}
}

func (e *Engine) runTick(ctx context.Context, now time.Time) (outcome string) {
	ref, err := e.baselineStr.Load()
	if err != nil {
		e.log.Error("reference baseline failed integrity check, aborting tick", zap.Error(err))
		return "error"
	}

	windowStart := now.Add(-time.Duration(e.cfg.LookbackHours) * time.Hour)
	runID := uuid.NewString()

	var (
		n                     int
		classCounts           [2]int
		probabilities         []float64
		featureValuesByCol    = map[string][]float64{}
		featureCategoryCounts = map[string]map[string]int{}
	)

	for _, col := range ref.FeatureSchema {
		if col.SemanticType == domain.SemanticCategorical {
			featureCategoryCounts[col.Name] = map[string]int{}
		} else {
			featureValuesByCol[col.Name] = nil
		}
	}

	err = e.ledger.LoadPredictionsSince(ctx, windowStart, now, func(p domain.PredictionRecord) error {
		n++
		classCounts[p.PredictedClass]++
		probabilities = append(probabilities, p.PredictedProbability)
		for _, col := range ref.FeatureSchema {
			v, ok := p.Features[col.Name]
			if !ok || v == nil {
				continue
			}
			if col.SemanticType == domain.SemanticCategorical {
				featureCategoryCounts[col.Name][toCategory(v)]++
			} else if f, ok := toFloat(v); ok {
				featureValuesByCol[col.Name] = append(featureValuesByCol[col.Name], f)
			}
		}
		return nil
	})
	if err != nil {
		e.log.Error("streaming predictions failed", zap.Error(err))
		return "error"
	}

	if n < e.cfg.MinSamples {
		m := domain.MonitoringMetric{
			RunID:                runID,
			RunAt:                now,
			LookbackHours:        e.cfg.LookbackHours,
			NumPredictions:       n,
			DatasetDriftDetected: false,
			NumDriftedFeatures:   0,
			Reason:               "insufficient_samples",
		}
		if err := e.metricStore.Insert(ctx, m); err != nil {
			e.log.Error("persisting insufficient-samples E4 row failed", zap.Error(err))
			return "error"
		}
		return "insufficient_data"
	}

	positiveRate := float64(classCounts[1]) / float64(n)
	probMean := stats.Mean(probabilities)
	probStd := stats.StdDev(probabilities)
	entropy := stats.BinaryEntropy(probabilities)

	referenceValuesByCol := map[string][]float64{}
	referenceCategoryCounts := map[string]map[string]int{}
	for _, col := range ref.FeatureSchema {
		if col.SemanticType == domain.SemanticCategorical {
			counts := map[string]int{}
			for _, row := range ref.Rows {
				if v, ok := row[col.Name]; ok && v != nil {
					counts[toCategory(v)]++
				}
			}
			referenceCategoryCounts[col.Name] = counts
		} else {
			var vals []float64
			for _, row := range ref.Rows {
				if v, ok := row[col.Name]; ok {
					if f, ok := toFloat(v); ok {
						vals = append(vals, f)
					}
				}
			}
			referenceValuesByCol[col.Name] = vals
		}
	}

	verdicts, evaluated, drifted := evaluateFeatures(ref.FeatureSchema, referenceValuesByCol, featureValuesByCol, referenceCategoryCounts, featureCategoryCounts, e.cfg)

	var driftRatio float64
	if evaluated > 0 {
		driftRatio = float64(drifted) / float64(evaluated)
	}
	datasetDrift := driftRatio >= e.cfg.DatasetDriftThresh

	artifactRef, artifactErr := e.writeArtifact(runID, now, windowStart, n, verdicts)
	if artifactErr != nil {
		e.log.Error("persisting drift artifact failed", zap.Error(artifactErr))
	}

	m := domain.MonitoringMetric{
		RunID:                runID,
		RunAt:                now,
		LookbackHours:        e.cfg.LookbackHours,
		NumPredictions:       n,
		PositiveRate:         positiveRate,
		ProbabilityMean:      probMean,
		ProbabilityStd:       probStd,
		Entropy:              entropy,
		DatasetDriftDetected: datasetDrift,
		FeatureDriftRatio:    driftRatio,
		NumDriftedFeatures:   drifted,
		NumEvaluatedFeatures: evaluated,
		DriftArtifactRef:     artifactRef,
	}
	if err := e.metricStore.Insert(ctx, m); err != nil {
		e.log.Error("persisting E4 row failed", zap.Error(err))
		return "error"
	}

	metrics.DriftRatio.WithLabelValues("default").Set(driftRatio)

	if datasetDrift {
		var driftedNames []string
		for name, v := range verdicts {
			if v.Drifted {
				driftedNames = append(driftedNames, name)
			}
		}
		e.log.Info("dataset drift detected", zap.String("run_id", runID), zap.Float64("feature_drift_ratio", driftRatio))
		e.bus.PublishDriftAlert(events.DriftAlert{
			RunID:             runID,
			RunAt:             now,
			FeatureDriftRatio: driftRatio,
			DriftedFeatures:   driftedNames,
		})
	}

	return "ok"
}

// FeatureVerdict is one feature's drift test result.
type FeatureVerdict struct {
	Feature    string  `json:"feature"`
	Excluded   bool    `json:"excluded"`
	Drifted    bool    `json:"drifted,omitempty"`
	PValue     float64 `json:"p_value,omitempty"`
	EffectSize float64 `json:"effect_size,omitempty"`
	Test       string  `json:"test,omitempty"`
}

func evaluateFeatures(
	schema domain.FeatureSchema,
	refCont, winCont map[string][]float64,
	refCat, winCat map[string]map[string]int,
	cfg config.MonitoringConfig,
) (verdicts map[string]FeatureVerdict, evaluated, drifted int) {
	verdicts = map[string]FeatureVerdict{}

	for _, col := range schema {
		if col.SemanticType == domain.SemanticCategorical {
			rc, wc := refCat[col.Name], winCat[col.Name]
			if countTotal(rc) < stats.MinNonNull || countTotal(wc) < stats.MinNonNull {
				verdicts[col.Name] = FeatureVerdict{Feature: col.Name, Excluded: true}
				continue
			}
			_, p, _ := stats.ChiSquaredTest(rc, wc)
			tv := stats.TotalVariationDistance(rc, wc)
			isDrifted := p < cfg.DriftPThreshold && tv >= cfg.DriftEffectFloor
			verdicts[col.Name] = FeatureVerdict{Feature: col.Name, PValue: p, EffectSize: tv, Drifted: isDrifted, Test: "chi_squared"}
			evaluated++
			if isDrifted {
				drifted++
			}
			continue
		}

		rv, wv := refCont[col.Name], winCont[col.Name]
		if len(rv) < stats.MinNonNull || len(wv) < stats.MinNonNull {
			verdicts[col.Name] = FeatureVerdict{Feature: col.Name, Excluded: true}
			continue
		}
		_, p := stats.KSTwoSample(rv, wv)
		effect := stats.WassersteinDistance1D(rv, wv)
		isDrifted := p < cfg.DriftPThreshold && effect >= cfg.DriftEffectFloor
		verdicts[col.Name] = FeatureVerdict{Feature: col.Name, PValue: p, EffectSize: effect, Drifted: isDrifted, Test: "ks"}
		evaluated++
		if isDrifted {
			drifted++
		}
	}
	return verdicts, evaluated, drifted
}

func countTotal(m map[string]int) int {
	t := 0
	for _, v := range m {
		t += v
	}
	return t
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func toCategory(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

type artifactFile struct {
	RunID          string                     `json:"run_id"`
	StartTime      time.Time                  `json:"start_time"`
	EndTime        time.Time                  `json:"end_time"`
	NumPredictions int                        `json:"num_predictions"`
	Verdicts       map[string]FeatureVerdict  `json:"verdicts"`
}

// writeArtifact persists the per-feature detail blob behind
// drift_artifact_ref, as a JSON file referenced by relative path (Open
// Question 1's decided answer). It also attaches analysis-window
// metadata per the original_source/ supplement.
func (e *Engine) writeArtifact(runID string, now, windowStart time.Time, n int, verdicts map[string]FeatureVerdict) (string, error) {
	relPath := filepath.Join("artifacts", "drift", runID+".json")
	fullPath := filepath.Join(e.artifactDir, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}

	af := artifactFile{
		RunID:          runID,
		StartTime:      windowStart,
		EndTime:        now,
		NumPredictions: n,
		Verdicts:       verdicts,
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(af); err != nil {
		return "", err
	}
	return relPath, nil
}
