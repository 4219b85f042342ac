package registry_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/events"
	"github.com/sentrylabs/modelsentry/internal/registry"
	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
)

// fakeStore is an in-memory registry.Store, mirroring the orchestrator
// package's fakeRegistryStore so the state machine can be exercised
// without Postgres.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]domain.ModelVersion
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]domain.ModelVersion{}}
}

func key(modelName, version string) string { return modelName + "@" + version }

func (s *fakeStore) InsertStaging(ctx context.Context, m domain.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Stage = domain.StageStaging
	s.rows[key(m.ModelName, m.Version)] = m
	return nil
}

func (s *fakeStore) ArchiveStaging(ctx context.Context, modelName, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key(modelName, version)]
	if !ok {
		return nil
	}
	row.Stage = domain.StageArchived
	s.rows[key(modelName, version)] = row
	return nil
}

func (s *fakeStore) GetProduction(ctx context.Context, modelName string) (domain.ModelVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ModelName == modelName && row.Stage == domain.StageProduction {
			return row, true, nil
		}
	}
	return domain.ModelVersion{}, false, nil
}

func (s *fakeStore) Get(ctx context.Context, modelName, version string) (domain.ModelVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key(modelName, version)]
	return row, ok, nil
}

func (s *fakeStore) PromoteAtomic(ctx context.Context, modelName, version, decisionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, row := range s.rows {
		if row.ModelName == modelName && row.Stage == domain.StageProduction {
			row.Stage = domain.StageArchived
			row.ArchivedAt = &now
			s.rows[k] = row
		}
	}
	k := key(modelName, version)
	row, ok := s.rows[k]
	if !ok {
		return sentryerrors.InvariantViolation.Reason("no such version")
	}
	row.Stage = domain.StageProduction
	row.PromotedAt = &now
	row.DecisionID = &decisionID
	s.rows[k] = row
	return nil
}

func (s *fakeStore) ArchiveThenPromote(ctx context.Context, modelName, version, decisionID string, now time.Time) error {
	return s.PromoteAtomic(ctx, modelName, version, decisionID, now)
}

func (s *fakeStore) StaleStagingBefore(ctx context.Context, cutoff time.Time) ([]domain.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []domain.ModelVersion
	for _, row := range s.rows {
		if row.Stage == domain.StageStaging && row.TrainedAt.Before(cutoff) {
			stale = append(stale, row)
		}
	}
	return stale, nil
}

func TestRegisterShadowThenPromoteGoesToProduction(t *testing.T) {
	store := newFakeStore()
	reg := registry.New(store, events.NewBus())
	ctx := context.Background()

	require.NoError(t, reg.RegisterShadow(ctx, domain.ModelVersion{ModelName: "credit_risk", Version: "v1", TrainedAt: time.Now()}))
	require.NoError(t, reg.Promote(ctx, "credit_risk", "v1", "decision-1", time.Now().UTC()))

	prod, ok, err := reg.CurrentProduction(ctx, "credit_risk")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StageProduction, prod.Stage)
	assert.Equal(t, "v1", prod.Version)
}

// TestPromoteArchivesPriorProduction verifies P1: promoting v2 archives
// v1 in the same call, never leaving two Production rows.
func TestPromoteArchivesPriorProduction(t *testing.T) {
	store := newFakeStore()
	reg := registry.New(store, events.NewBus())
	ctx := context.Background()

	require.NoError(t, reg.RegisterShadow(ctx, domain.ModelVersion{ModelName: "credit_risk", Version: "v1", TrainedAt: time.Now()}))
	require.NoError(t, reg.Promote(ctx, "credit_risk", "v1", "decision-1", time.Now().UTC()))

	require.NoError(t, reg.RegisterShadow(ctx, domain.ModelVersion{ModelName: "credit_risk", Version: "v2", TrainedAt: time.Now()}))
	require.NoError(t, reg.Promote(ctx, "credit_risk", "v2", "decision-2", time.Now().UTC()))

	v1, ok, err := store.Get(ctx, "credit_risk", "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StageArchived, v1.Stage)

	prod, ok, err := reg.CurrentProduction(ctx, "credit_risk")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", prod.Version)
}

func TestPromoteRejectsNonStagingTarget(t *testing.T) {
	store := newFakeStore()
	reg := registry.New(store, events.NewBus())
	ctx := context.Background()

	err := reg.Promote(ctx, "credit_risk", "v-missing", "decision-1", time.Now().UTC())
	require.Error(t, err)
	kind, ok := sentryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sentryerrors.KindInvariantViolation, kind)
}

func TestRollbackRequiresArchivedTarget(t *testing.T) {
	store := newFakeStore()
	reg := registry.New(store, events.NewBus())
	ctx := context.Background()

	require.NoError(t, reg.RegisterShadow(ctx, domain.ModelVersion{ModelName: "credit_risk", Version: "v1", TrainedAt: time.Now()}))

	err := reg.Rollback(ctx, "credit_risk", "v1", "decision-1", time.Now().UTC())
	require.Error(t, err)
	kind, ok := sentryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sentryerrors.KindInvariantViolation, kind)
}

// TestRollbackPromotesArchivedVersionBack simulates the manual recovery
// path: an old Archived version becomes Production again.
func TestRollbackPromotesArchivedVersionBack(t *testing.T) {
	store := newFakeStore()
	reg := registry.New(store, events.NewBus())
	ctx := context.Background()

	require.NoError(t, reg.RegisterShadow(ctx, domain.ModelVersion{ModelName: "credit_risk", Version: "v1", TrainedAt: time.Now()}))
	require.NoError(t, reg.Promote(ctx, "credit_risk", "v1", "decision-1", time.Now().UTC()))
	require.NoError(t, reg.RegisterShadow(ctx, domain.ModelVersion{ModelName: "credit_risk", Version: "v2", TrainedAt: time.Now()}))
	require.NoError(t, reg.Promote(ctx, "credit_risk", "v2", "decision-2", time.Now().UTC()))

	require.NoError(t, reg.Rollback(ctx, "credit_risk", "v1", "decision-3", time.Now().UTC()))

	prod, ok, err := reg.CurrentProduction(ctx, "credit_risk")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", prod.Version)

	v2, ok, err := store.Get(ctx, "credit_risk", "v2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StageArchived, v2.Stage)
}

// TestPromoteConcurrentLossSurfacesAsRegistryConflict simulates S6: a
// storage-level conflict is translated to RegistryConflict, never the
// raw Conflict kind, so callers above the registry only need to check
// for one kind.
func TestPromoteConcurrentLossSurfacesAsRegistryConflict(t *testing.T) {
	store := &conflictingFakeStore{fakeStore: newFakeStore()}
	reg := registry.New(store, events.NewBus())
	ctx := context.Background()

	require.NoError(t, reg.RegisterShadow(ctx, domain.ModelVersion{ModelName: "credit_risk", Version: "v1", TrainedAt: time.Now()}))

	err := reg.Promote(ctx, "credit_risk", "v1", "decision-1", time.Now().UTC())
	require.Error(t, err)
	kind, ok := sentryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sentryerrors.KindRegistryConflict, kind)
}

type conflictingFakeStore struct {
	*fakeStore
}

func (c *conflictingFakeStore) PromoteAtomic(ctx context.Context, modelName, version, decisionID string, now time.Time) error {
	return sentryerrors.Conflict.Reason("duplicate promotion")
}

func TestDaysSinceLastPromotionIsInfiniteWithNoProduction(t *testing.T) {
	store := newFakeStore()
	reg := registry.New(store, events.NewBus())
	ctx := context.Background()

	days, err := reg.DaysSinceLastPromotion(ctx, "credit_risk", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, math.IsInf(days, 1))
}

func TestRunStagingJanitorArchivesStaleStagingRows(t *testing.T) {
	store := newFakeStore()
	reg := registry.New(store, events.NewBus())
	ctx := context.Background()

	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, reg.RegisterShadow(ctx, domain.ModelVersion{ModelName: "credit_risk", Version: "stale", TrainedAt: old}))

	n, err := reg.RunStagingJanitor(ctx, 7*24*time.Hour, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, ok, err := store.Get(ctx, "credit_risk", "stale")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StageArchived, row.Stage)
}
