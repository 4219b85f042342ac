// Package replay implements the temporal train/replay split (§4.4 step
// 4) and per-segment F1 computation (§4.4 step 6, §4.5 segmentation)
// shared by the orchestrator and the gate's fairness evidence.
package replay

import (
	"sort"

	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/ledger"
	"github.com/sentrylabs/modelsentry/internal/training"
)

// Split is the temporal partition of a labeled window: the most recent
// testFraction is the replay set, the remainder (in original temporal
// order) is the training set.
type Split struct {
	TrainingRows []training.Row
	ReplayRows   []training.Row
	ReplayPairs  []ledger.LabeledPair // retained for segment derivation
}

// TemporalSplit orders pairs is already guaranteed ascending by the
// ledger's contract; it partitions without reshuffling, so no future
// information leaks into the training partition.
func TemporalSplit(pairs []ledger.LabeledPair, testFraction float64) Split {
	n := len(pairs)
	testCount := int(float64(n) * testFraction)
	splitIdx := n - testCount

	var out Split
	for i, p := range pairs[:splitIdx] {
		_ = i
		out.TrainingRows = append(out.TrainingRows, training.Row{Features: p.Prediction.Features, TrueClass: p.Label.TrueClass})
	}
	for _, p := range pairs[splitIdx:] {
		out.ReplayRows = append(out.ReplayRows, training.Row{Features: p.Prediction.Features, TrueClass: p.Label.TrueClass})
	}
	out.ReplayPairs = pairs[splitIdx:]
	return out
}

// SegmentResult is one segment's evaluable F1 pair, or an abstention
// flag when the segment has too few rows on either side.
type SegmentResult struct {
	Name          string
	Insufficient  bool
	ProductionF1  float64
	ShadowF1      float64
	N             int
}

// EvaluateSegments buckets replay rows per the declared SegmentSpecs and
// computes production/shadow F1 within each bucket, abstaining
// (Insufficient=true) when a bucket has fewer than segmentMin rows.
func EvaluateSegments(split Split, specs []config.SegmentSpec, segmentMin int, productionPredict, shadowPredict func(domain.FeatureRow) (int, float64)) []SegmentResult {
	var results []SegmentResult

	for _, spec := range specs {
		buckets := bucketize(split.ReplayRows, spec)
		for name, rows := range buckets {
			segName := spec.Feature + ":" + name
			if len(rows) < segmentMin {
				results = append(results, SegmentResult{Name: segName, Insufficient: true, N: len(rows)})
				continue
			}
			prodMetrics := training.Evaluate(rows, training.Model{Predict: productionPredict})
			shadowMetrics := training.Evaluate(rows, training.Model{Predict: shadowPredict})
			results = append(results, SegmentResult{
				Name:         segName,
				ProductionF1: prodMetrics.F1,
				ShadowF1:     shadowMetrics.F1,
				N:            len(rows),
			})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// ExpectedSegmentNames enumerates every segment name a fully-populated
// replay set would produce for specs, independent of the data actually
// observed — the declared side of the "declared in config but absent
// from the shadow's replay results" comparison the gate's
// MissingInShadowSegments performs.
func ExpectedSegmentNames(specs []config.SegmentSpec) []string {
	var names []string
	for _, spec := range specs {
		for i := 0; i <= len(spec.BucketEdges); i++ {
			names = append(names, spec.Feature+":"+bucketName(i, spec.BucketEdges))
		}
	}
	return names
}

func bucketize(rows []training.Row, spec config.SegmentSpec) map[string][]training.Row {
	buckets := map[string][]training.Row{}
	for _, row := range rows {
		v, ok := row.Features[spec.Feature]
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		label := bucketLabel(f, spec.BucketEdges)
		buckets[label] = append(buckets[label], row)
	}
	return buckets
}

func bucketLabel(v float64, edges []float64) string {
	for i, edge := range edges {
		if v < edge {
			return bucketName(i, edges)
		}
	}
	return bucketName(len(edges), edges)
}

func bucketName(idx int, edges []float64) string {
	names := []string{"low", "mid", "high"}
	if idx < len(names) {
		return names[idx]
	}
	return "bucket"
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
