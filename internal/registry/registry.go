// Package registry implements C5's governance half: the E6.stage state
// machine and the sole authority to mutate it. The legal transitions
// (§4.5) are enforced here before ever reaching storage; storage's
// partial-unique constraint is the last line of defense against a race,
// not the primary enforcement mechanism.
package registry

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/events"
	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
	"github.com/sentrylabs/modelsentry/pkg/metrics"
)

// Store is the storage collaborator registry needs. Satisfied by
// *storage.RegistryStore.
type Store interface {
	InsertStaging(ctx context.Context, m domain.ModelVersion) error
	ArchiveStaging(ctx context.Context, modelName, version string) error
	GetProduction(ctx context.Context, modelName string) (domain.ModelVersion, bool, error)
	Get(ctx context.Context, modelName, version string) (domain.ModelVersion, bool, error)
	PromoteAtomic(ctx context.Context, modelName, version, decisionID string, now time.Time) error
	ArchiveThenPromote(ctx context.Context, modelName, version, decisionID string, now time.Time) error
	StaleStagingBefore(ctx context.Context, cutoff time.Time) ([]domain.ModelVersion, error)
}

// Registry is C5's mutator.
type Registry struct {
	store Store
	bus   *events.Bus
}

// New wraps a storage collaborator with the state-machine contract.
func New(store Store, bus *events.Bus) *Registry {
	return &Registry{store: store, bus: bus}
}

// RegisterShadow performs the None -> Staging transition on a
// successfully trained candidate.
func (r *Registry) RegisterShadow(ctx context.Context, m domain.ModelVersion) error {
	return r.store.InsertStaging(ctx, m)
}

// ArchiveShadow performs the Staging -> Archived transition, used both
// on gate rejection and by the staging-TTL janitor.
func (r *Registry) ArchiveShadow(ctx context.Context, modelName, version string) error {
	return r.store.ArchiveStaging(ctx, modelName, version)
}

// CurrentProduction returns the live Production version for modelName,
// or ok=false if none exists (the bootstrap path, §4.4 step 2).
func (r *Registry) CurrentProduction(ctx context.Context, modelName string) (domain.ModelVersion, bool, error) {
	return r.store.GetProduction(ctx, modelName)
}

// DaysSinceLastPromotion returns +Inf if modelName has never had a
// Production row, for the cooldown gate's input.
func (r *Registry) DaysSinceLastPromotion(ctx context.Context, modelName string, now time.Time) (float64, error) {
	current, ok, err := r.store.GetProduction(ctx, modelName)
	if err != nil {
		return 0, err
	}
	if !ok || current.PromotedAt == nil {
		return math.Inf(1), nil
	}
	return now.Sub(*current.PromotedAt).Hours() / 24, nil
}

// Promote performs §4.5's atomic promotion: Staging -> Production for
// the target version, archiving any prior Production row in the same
// transaction. A concurrent promotion that loses the commit race
// surfaces as a RegistryConflict for the caller to record as a reject
// decision with failed_gate = concurrent_promotion (S6).
func (r *Registry) Promote(ctx context.Context, modelName, version, decisionID string, now time.Time) error {
	candidate, ok, err := r.store.Get(ctx, modelName, version)
	if err != nil {
		return err
	}
	if !ok || candidate.Stage != domain.StageStaging {
		return sentryerrors.InvariantViolation.Reason("promotion target is not in Staging")
	}

	previous, hadPrevious, err := r.store.GetProduction(ctx, modelName)
	if err != nil {
		return err
	}

	if err := r.store.PromoteAtomic(ctx, modelName, version, decisionID, now); err != nil {
		if kind, isTaxonomy := sentryerrors.KindOf(err); isTaxonomy && kind == sentryerrors.KindConflict {
			return sentryerrors.RegistryConflict.Wrap(err)
		}
		return err
	}

	if hadPrevious {
		metrics.PromotionState.WithLabelValues(modelName, previous.Version).Set(0)
	}
	metrics.PromotionState.WithLabelValues(modelName, version).Set(1)
	r.bus.PublishModelPromoted(events.ModelPromoted{ModelName: modelName, NewVersion: version, PromotedAt: now})
	return nil
}

// Rollback performs the manual Archived -> Production transition (§6
// rollback command). It is the only path that promotes a version not
// produced by the C4/C5 auto path.
func (r *Registry) Rollback(ctx context.Context, modelName, version, decisionID string, now time.Time) error {
	target, ok, err := r.store.Get(ctx, modelName, version)
	if err != nil {
		return err
	}
	if !ok {
		return sentryerrors.InvariantViolation.Reason("rollback target model version does not exist")
	}
	if target.Stage != domain.StageArchived {
		return sentryerrors.InvariantViolation.Reason("rollback target is not Archived")
	}

	previous, hadPrevious, err := r.store.GetProduction(ctx, modelName)
	if err != nil {
		return err
	}

	if err := r.store.ArchiveThenPromote(ctx, modelName, version, decisionID, now); err != nil {
		if kind, isTaxonomy := sentryerrors.KindOf(err); isTaxonomy && kind == sentryerrors.KindConflict {
			return sentryerrors.RegistryConflict.Wrap(err)
		}
		return err
	}

	if hadPrevious {
		metrics.PromotionState.WithLabelValues(modelName, previous.Version).Set(0)
	}
	metrics.PromotionState.WithLabelValues(modelName, version).Set(1)
	r.bus.PublishModelPromoted(events.ModelPromoted{ModelName: modelName, NewVersion: version, PromotedAt: now})
	return nil
}

// RunStagingJanitor archives Staging rows older than ttl, a periodic
// sweep for cancelled/abandoned orchestrations (§5).
func (r *Registry) RunStagingJanitor(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-ttl)
	stale, err := r.store.StaleStagingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, m := range stale {
		if err := r.store.ArchiveStaging(ctx, m.ModelName, m.Version); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// NewVersionID mints an opaque version identifier for a freshly trained
// shadow candidate.
func NewVersionID() string {
	return uuid.NewString()
}
