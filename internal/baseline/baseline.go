// Package baseline implements C1, the reference baseline store: the
// frozen distributional sample and feature schema used by C3 and C4,
// serialized to a single JSON file whose digest is re-verified on every
// Load. Grounded on the teacher's persistence.FileWAL append-only-file
// shape, adapted here to a single immutable snapshot rather than an
// append log.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
	"github.com/sentrylabs/modelsentry/internal/domain"
)

// fileFormat is the on-disk representation. Rows are stored as JSON
// objects keyed by feature name, sorted by a canonical row key;
// ContentDigest is computed over each row's values taken in feature
// schema order, so it is reproducible across runs.
type fileFormat struct {
	ReferenceID   string                `json:"reference_id"`
	FeatureSchema domain.FeatureSchema  `json:"feature_schema"`
	RowCount      int                   `json:"row_count"`
	ContentDigest string                `json:"content_digest"`
	CreatedAt     time.Time             `json:"created_at"`
	Rows          []domain.FeatureRow   `json:"rows"`
}

// Store is C1: a single file holding the immutable baseline.
type Store struct {
	path string
}

// New points a Store at the baseline file. The file is not read until
// Load or Bootstrap is called.
func New(path string) *Store {
	return &Store{path: path}
}

// canonicalRowKey produces the sort key used to fix row order before
// digesting, so two processes given the same logical rows compute the
// same digest regardless of insertion order.
func canonicalRowKey(schema domain.FeatureSchema, row domain.FeatureRow) string {
	b, _ := json.Marshal(canonicalRowValues(schema, row))
	return string(b)
}

func canonicalRowValues(schema domain.FeatureSchema, row domain.FeatureRow) []interface{} {
	vals := make([]interface{}, len(schema))
	for i, col := range schema {
		vals[i] = row[col.Name]
	}
	return vals
}

func digest(schema domain.FeatureSchema, rows []domain.FeatureRow) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(schema)
	for _, row := range rows {
		_ = enc.Encode(canonicalRowValues(schema, row))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortRows(schema domain.FeatureSchema, rows []domain.FeatureRow) {
	sort.Slice(rows, func(i, j int) bool {
		return canonicalRowKey(schema, rows[i]) < canonicalRowKey(schema, rows[j])
	})
}

// Bootstrap creates the baseline file once. Fails if a baseline already
// exists on disk.
func (s *Store) Bootstrap(schema domain.FeatureSchema, rows []domain.FeatureRow) (domain.ReferenceBaseline, error) {
	if _, err := os.Stat(s.path); err == nil {
		return domain.ReferenceBaseline{}, sentryerrors.Conflict.Reason("reference baseline already exists at " + s.path)
	}

	canonical := make([]domain.FeatureRow, len(rows))
	copy(canonical, rows)
	sortRows(schema, canonical)

	baseline := domain.ReferenceBaseline{
		ReferenceID:   uuid.NewString(),
		FeatureSchema: schema,
		RowCount:      len(canonical),
		ContentDigest: digest(schema, canonical),
		CreatedAt:     time.Now().UTC(),
		Rows:          canonical,
	}

	if err := s.write(baseline); err != nil {
		return domain.ReferenceBaseline{}, err
	}
	return baseline, nil
}

func (s *Store) write(baseline domain.ReferenceBaseline) error {
	f := fileFormat{
		ReferenceID:   baseline.ReferenceID,
		FeatureSchema: baseline.FeatureSchema,
		RowCount:      baseline.RowCount,
		ContentDigest: baseline.ContentDigest,
		CreatedAt:     baseline.CreatedAt,
		Rows:          baseline.Rows,
	}

	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return sentryerrors.TransientStorageError.Wrap(err)
	}
	enc := json.NewEncoder(file)
	if err := enc.Encode(f); err != nil {
		file.Close()
		return sentryerrors.TransientStorageError.Wrap(err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return sentryerrors.TransientStorageError.Wrap(err)
	}
	if err := file.Close(); err != nil {
		return sentryerrors.TransientStorageError.Wrap(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return sentryerrors.TransientStorageError.Wrap(err)
	}
	return nil
}

// Load reads the baseline from disk and re-verifies its digest,
// failing with IntegrityError on mismatch or corruption. Safe to call
// repeatedly and cache the result in-process after a successful
// verification (P7).
func (s *Store) Load() (domain.ReferenceBaseline, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.ReferenceBaseline{}, sentryerrors.TransientStorageError.Wrap(err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.ReferenceBaseline{}, sentryerrors.IntegrityError.Reason("reference baseline file is not valid JSON").Wrap(err)
	}

	recomputed := digest(f.FeatureSchema, f.Rows)
	if recomputed != f.ContentDigest {
		return domain.ReferenceBaseline{}, sentryerrors.IntegrityError.Reason("reference baseline digest mismatch").
			WithFields(map[string]interface{}{"expected": f.ContentDigest, "actual": recomputed})
	}

	return domain.ReferenceBaseline{
		ReferenceID:   f.ReferenceID,
		FeatureSchema: f.FeatureSchema,
		RowCount:      f.RowCount,
		ContentDigest: f.ContentDigest,
		CreatedAt:     f.CreatedAt,
		Rows:          f.Rows,
	}, nil
}
