package baseline_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrylabs/modelsentry/internal/baseline"
	"github.com/sentrylabs/modelsentry/internal/domain"
	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
)

func testSchema() domain.FeatureSchema {
	return domain.FeatureSchema{
		{Name: "age", SemanticType: domain.SemanticContinuous},
		{Name: "region", SemanticType: domain.SemanticCategorical},
	}
}

func testRows() []domain.FeatureRow {
	return []domain.FeatureRow{
		{"age": 35.0, "region": "west"},
		{"age": 41.0, "region": "east"},
	}
}

func TestBootstrapThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference_baseline.json")
	store := baseline.New(path)

	created, err := store.Bootstrap(testSchema(), testRows())
	require.NoError(t, err)
	assert.Equal(t, 2, created.RowCount)
	assert.NotEmpty(t, created.ContentDigest)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, created.ContentDigest, loaded.ContentDigest)
	assert.Equal(t, created.ReferenceID, loaded.ReferenceID)
}

// TestBootstrapFailsIfAlreadyExists covers the CLI's precondition-failed
// exit path: bootstrap-reference must never silently overwrite E1.
func TestBootstrapFailsIfAlreadyExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference_baseline.json")
	store := baseline.New(path)

	_, err := store.Bootstrap(testSchema(), testRows())
	require.NoError(t, err)

	_, err = store.Bootstrap(testSchema(), testRows())
	require.Error(t, err)
	kind, ok := sentryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sentryerrors.KindConflict, kind)
}

// TestLoadDetectsDigestMismatch covers P7: a mutated file on disk must
// fail integrity verification rather than being silently accepted.
func TestLoadDetectsDigestMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference_baseline.json")
	store := baseline.New(path)

	_, err := store.Bootstrap(testSchema(), testRows())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var tampered map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &tampered))
	rows := tampered["rows"].([]interface{})
	row0 := rows[0].(map[string]interface{})
	row0["age"] = 999.0
	tamperedBytes, err := json.Marshal(tampered)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tamperedBytes, 0o644))

	_, err = store.Load()
	require.Error(t, err)
	kind, ok := sentryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sentryerrors.KindIntegrityError, kind)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	store := baseline.New(path)

	_, err := store.Load()
	require.Error(t, err)
	kind, ok := sentryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sentryerrors.KindTransientStorageError, kind)
}
