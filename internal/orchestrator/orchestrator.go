// Package orchestrator implements C4: trigger handling, per-model
// orchestration locking, and the training/replay/gate pipeline that
// turns a window of labeled predictions into one E5 decision (§4.4).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/events"
	"github.com/sentrylabs/modelsentry/internal/gate"
	"github.com/sentrylabs/modelsentry/internal/ledger"
	"github.com/sentrylabs/modelsentry/internal/lock"
	"github.com/sentrylabs/modelsentry/internal/registry"
	"github.com/sentrylabs/modelsentry/internal/replay"
	"github.com/sentrylabs/modelsentry/internal/training"
	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
	"github.com/sentrylabs/modelsentry/pkg/metrics"
)

// LedgerReader is the C2 surface the orchestrator reads from. Satisfied
// by *ledger.Ledger; narrowed to an interface here so tests can fake a
// labeled window without a database.
type LedgerReader interface {
	CoverageStats(ctx context.Context, windowStart, windowEnd time.Time) (numPredictions, numLabeled int, coverageFraction float64, err error)
	CollectLabeled(ctx context.Context, windowStart, windowEnd time.Time) ([]ledger.LabeledPair, error)
}

// DecisionRecorder persists E5 rows. Satisfied by *storage.DecisionStore.
type DecisionRecorder interface {
	Insert(ctx context.Context, d domain.RetrainingDecision) error
}

// ModelCache holds trained artifacts in-process, keyed by (model_name,
// version). The training algorithm and its blob format are explicitly
// out of scope (§1); this stands in for the real training collaborator's
// model store so a shadow candidate trained in one orchestration can
// later be reloaded as Production to score the next window's replay
// set, without re-running Train.
type ModelCache struct {
	mu     sync.RWMutex
	models map[string]training.Model
}

// NewModelCache builds an empty cache.
func NewModelCache() *ModelCache {
	return &ModelCache{models: map[string]training.Model{}}
}

func cacheKey(modelName, version string) string {
	return modelName + "@" + version
}

// Put stores a trained model under (modelName, version).
func (c *ModelCache) Put(modelName, version string, m training.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[cacheKey(modelName, version)] = m
}

// Get retrieves a previously stored model, if present.
func (c *ModelCache) Get(modelName, version string) (training.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[cacheKey(modelName, version)]
	return m, ok
}

// Orchestrator is C4 for a single model_name: it serializes its own
// orchestration attempts via a named lock (§5) and produces at most one
// E5 decision per attempt.
type Orchestrator struct {
	modelName string
	cfg       *config.Config
	ledger    LedgerReader
	registry  *registry.Registry
	decisions DecisionRecorder
	trainer   training.Trainer
	locker    lock.Locker
	cache     *ModelCache
	bus       *events.Bus
	log       *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New wires C4's collaborators for one model_name.
func New(
	modelName string,
	cfg *config.Config,
	ldg LedgerReader,
	reg *registry.Registry,
	decisions DecisionRecorder,
	trainer training.Trainer,
	locker lock.Locker,
	cache *ModelCache,
	bus *events.Bus,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		modelName: modelName,
		cfg:       cfg,
		ledger:    ldg,
		registry:  reg,
		decisions: decisions,
		trainer:   trainer,
		locker:    locker,
		cache:     cache,
		bus:       bus,
		log:       log.Named("orchestrator").With(zap.String("model_name", modelName)),
	}
}

// Start subscribes to drift_alert events and runs the wall-clock
// "scheduled" trigger on its own cadence (§4.4, independent of C3's
// monitoring tick interval). Both feed the same TriggerRetraining path
// that TriggerManual exposes for the operator CLI.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.started = true
	o.mu.Unlock()

	drift := o.bus.SubscribeDriftAlert(4)
	ticker := time.NewTicker(o.cfg.ScheduleInterval())

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				o.run(runCtx, domain.TriggerScheduled)
			case alert, ok := <-drift:
				if !ok {
					return
				}
				_ = alert
				o.run(runCtx, domain.TriggerDriftAlert)
			}
		}
	}()
}

// Stop cancels the background trigger loop. Any orchestration already
// past its lock acquisition runs to completion.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}
	o.cancel()
	o.started = false
}

// TriggerManual runs one orchestration attempt synchronously, for
// sentryctl's trigger-retraining command.
func (o *Orchestrator) TriggerManual(ctx context.Context) (domain.RetrainingDecision, error) {
	return o.attempt(ctx, domain.TriggerManual)
}

func (o *Orchestrator) run(ctx context.Context, reason domain.TriggerReason) {
	if _, err := o.attempt(ctx, reason); err != nil {
		o.log.Error("orchestration attempt failed", zap.Error(err))
	}
}

// attempt acquires the per-model lock, runs the pipeline, and always
// records exactly one E5 decision (or none, on lock contention — §5
// says a skipped-for-contention attempt produces no decision row of its
// own, since the in-flight attempt already owns this window).
func (o *Orchestrator) attempt(ctx context.Context, reason domain.TriggerReason) (domain.RetrainingDecision, error) {
	token, acquired, err := o.locker.TryAcquire(ctx, o.modelName, o.cfg.LockTTL())
	if err != nil {
		return domain.RetrainingDecision{}, sentryerrors.TransientStorageError.Wrap(err)
	}
	if !acquired {
		o.log.Info("orchestration skipped: already in flight", zap.String("trigger_reason", string(reason)))
		metrics.RetrainingRuns.WithLabelValues(string(reason), "skip_in_flight").Inc()
		return domain.RetrainingDecision{}, nil
	}
	defer func() {
		if err := o.locker.Release(ctx, o.modelName, token); err != nil {
			o.log.Warn("failed to release orchestration lock", zap.Error(err))
		}
	}()

	decision := o.pipeline(ctx, reason)
	if err := o.decisions.Insert(ctx, decision); err != nil {
		o.log.Error("failed to persist retraining decision", zap.Error(err))
		return decision, err
	}
	metrics.RetrainingRuns.WithLabelValues(string(reason), string(decision.Action)).Inc()
	o.log.Info("orchestration attempt recorded",
		zap.String("trigger_reason", string(reason)),
		zap.String("action", string(decision.Action)),
		zap.String("reason", decision.Reason),
	)
	return decision, nil
}

// pipeline runs §4.4 steps 1-9 and always returns a complete E5 value;
// it never returns an error, since every failure mode (insufficient
// coverage, training timeout, training failure, empty partition, a lost
// promotion race) is itself a terminal decision outcome, not a fault.
func (o *Orchestrator) pipeline(ctx context.Context, reason domain.TriggerReason) domain.RetrainingDecision {
	now := time.Now().UTC()
	base := domain.RetrainingDecision{
		DecisionID:    uuid.NewString(),
		DecidedAt:     now,
		TriggerReason: reason,
	}

	windowEnd := now
	windowStart := now.Add(-time.Duration(o.cfg.Retraining.TrainingWindowHours) * time.Hour)

	numPredictions, numLabeled, coverageFraction, err := o.ledger.CoverageStats(ctx, windowStart, windowEnd)
	if err != nil {
		return skip(base, 0, 0, fmt.Sprintf("coverage_stats_error: %v", err), nil)
	}
	coveragePct := coverageFraction * 100
	base.LabeledSamples = numLabeled
	base.CoveragePct = coveragePct

	if numLabeled < o.cfg.Gate.MinSamplesForDecision {
		label := domain.GateG1SampleValidity
		reason := fmt.Sprintf("num_samples %d < %d", numLabeled, o.cfg.Gate.MinSamplesForDecision)
		return skip(base, numLabeled, coveragePct, reason, &label)
	}
	if coveragePct < o.cfg.Gate.MinCoveragePct {
		label := domain.GateG2LabelCoverage
		reason := fmt.Sprintf("coverage_pct %.2f < %.2f", coveragePct, o.cfg.Gate.MinCoveragePct)
		return skip(base, numLabeled, coveragePct, reason, &label)
	}
	_ = numPredictions

	pairs, err := o.ledger.CollectLabeled(ctx, windowStart, windowEnd)
	if err != nil {
		return skip(base, numLabeled, coveragePct, fmt.Sprintf("ledger_read_error: %v", err), nil)
	}
	if len(pairs) == 0 {
		return skip(base, numLabeled, coveragePct, "empty_partition", nil)
	}

	split := replay.TemporalSplit(pairs, o.cfg.Retraining.TestFraction)
	if len(split.TrainingRows) == 0 || len(split.ReplayRows) == 0 {
		return skip(base, numLabeled, coveragePct, "empty_partition", nil)
	}

	trainCtx, cancel := context.WithTimeout(ctx, o.cfg.TrainingTimeout())
	defer cancel()
	shadowModel, shadowMetrics, err := o.trainer.Train(trainCtx, split.TrainingRows, split.ReplayRows, now.UnixNano())
	if err != nil {
		if trainCtx.Err() != nil {
			return skip(base, numLabeled, coveragePct, "training_timeout", nil)
		}
		return skip(base, numLabeled, coveragePct, fmt.Sprintf("training_failed: %v", err), nil)
	}

	shadowVersion := registry.NewVersionID()
	shadowModelVersion := domain.ModelVersion{
		ModelName:          o.modelName,
		Version:            shadowVersion,
		Stage:              domain.StageStaging,
		TrainedAt:          now,
		TriggerReason:      reason,
		F1Score:            shadowMetrics.F1,
		BrierScore:         shadowMetrics.Brier,
		NumTrainingSamples: len(split.TrainingRows),
		ModelBlobRef:       shadowModel.BlobRef,
		DecisionID:         &base.DecisionID,
	}
	if err := o.registry.RegisterShadow(ctx, shadowModelVersion); err != nil {
		return skip(base, numLabeled, coveragePct, fmt.Sprintf("shadow_registration_failed: %v", err), nil)
	}
	o.cache.Put(o.modelName, shadowVersion, shadowModel)
	base.ShadowModelVersion = &shadowVersion

	production, hasProduction, err := o.registry.CurrentProduction(ctx, o.modelName)
	if err != nil {
		o.archiveOnFailure(ctx, shadowVersion)
		return skip(base, numLabeled, coveragePct, fmt.Sprintf("registry_read_error: %v", err), nil)
	}

	if !hasProduction {
		// Bootstrap path (§4.4 step 2): no production model exists yet,
		// so there is nothing to compare against. The shadow is promoted
		// unconditionally and the gates never run.
		return o.promote(ctx, base, shadowVersion, now, numLabeled, coveragePct, "bootstrap: no production model exists", nil)
	}
	base.ProductionModelVersion = &production.Version

	productionModel, ok := o.cache.Get(o.modelName, production.Version)
	if !ok {
		o.archiveOnFailure(ctx, shadowVersion)
		return skip(base, numLabeled, coveragePct, "production_model_unavailable", nil)
	}

	productionMetrics := training.Evaluate(split.ReplayRows, productionModel)
	shadowReplayMetrics := training.Evaluate(split.ReplayRows, shadowModel)

	segments := replay.EvaluateSegments(split, o.cfg.Segments, o.cfg.Gate.SegmentMin, productionModel.Predict, shadowModel.Predict)
	missingSegments := gate.MissingInShadowSegments(replay.ExpectedSegmentNames(o.cfg.Segments), segments)

	daysSincePromotion, err := o.registry.DaysSinceLastPromotion(ctx, o.modelName, now)
	if err != nil {
		o.archiveOnFailure(ctx, shadowVersion)
		return skip(base, numLabeled, coveragePct, fmt.Sprintf("registry_read_error: %v", err), nil)
	}

	evidence := gate.Evidence{
		NumSamples:             numLabeled,
		CoveragePct:            coveragePct,
		CoverageStatsAvailable: true,
		DaysSinceLastPromotion: daysSincePromotion,
		ProductionF1:           productionMetrics.F1,
		ShadowF1:               shadowReplayMetrics.F1,
		ProductionBrier:        productionMetrics.Brier,
		ShadowBrier:            shadowReplayMetrics.Brier,
		Segments:               segments,
	}
	decision := gate.Evaluate(evidence, o.cfg.Gate)
	if len(missingSegments) > 0 {
		decision.Detail["segment_missing_in_shadow"] = missingSegments
		o.log.Info("segments declared in config are missing from the shadow's replay set", zap.Any("segments", missingSegments))
	}
	failedGateLabel := ""
	if decision.FailedGate != nil {
		failedGateLabel = string(*decision.FailedGate)
	}
	metrics.GateDecisions.WithLabelValues(string(decision.Action), failedGateLabel).Inc()

	base.FailedGate = decision.FailedGate
	base.Reason = decision.Reason
	if v, ok := decision.Detail["f1_improvement_pct"].(float64); ok {
		base.F1ImprovementPct = &v
	}
	if v, ok := decision.Detail["brier_change"].(float64); ok {
		base.BrierChange = &v
	}

	if decision.Action != domain.ActionPromote {
		base.Action = domain.ActionReject
		if err := o.registry.ArchiveShadow(ctx, o.modelName, shadowVersion); err != nil {
			o.log.Warn("failed to archive rejected shadow", zap.Error(err))
		}
		return base
	}

	return o.promote(ctx, base, shadowVersion, now, numLabeled, coveragePct, decision.Reason, decision.FailedGate)
}

// promote performs the registry promotion and translates a lost
// promotion race (RegistryConflict, S6) into a reject decision rather
// than a fault.
func (o *Orchestrator) promote(ctx context.Context, base domain.RetrainingDecision, shadowVersion string, now time.Time, numLabeled int, coveragePct float64, reason string, failedGate *domain.GateLabel) domain.RetrainingDecision {
	base.LabeledSamples = numLabeled
	base.CoveragePct = coveragePct
	base.Reason = reason
	base.FailedGate = failedGate

	if err := o.registry.Promote(ctx, o.modelName, shadowVersion, base.DecisionID, now); err != nil {
		if kind, isTaxonomy := sentryerrors.KindOf(err); isTaxonomy && kind == sentryerrors.KindRegistryConflict {
			concurrent := domain.GateConcurrentPromotion
			base.Action = domain.ActionReject
			base.FailedGate = &concurrent
			base.Reason = "lost promotion race to a concurrent orchestration"
			return base
		}
		base.Action = domain.ActionReject
		base.Reason = fmt.Sprintf("promotion_failed: %v", err)
		return base
	}

	base.Action = domain.ActionPromote
	return base
}

func (o *Orchestrator) archiveOnFailure(ctx context.Context, shadowVersion string) {
	if err := o.registry.ArchiveShadow(ctx, o.modelName, shadowVersion); err != nil {
		o.log.Warn("failed to archive shadow after pipeline failure", zap.Error(err))
	}
}

func skip(base domain.RetrainingDecision, numLabeled int, coveragePct float64, reason string, failedGate *domain.GateLabel) domain.RetrainingDecision {
	base.Action = domain.ActionSkip
	base.LabeledSamples = numLabeled
	base.CoveragePct = coveragePct
	base.Reason = reason
	base.FailedGate = failedGate
	return base
}
