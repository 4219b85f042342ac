package replay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/ledger"
	"github.com/sentrylabs/modelsentry/internal/replay"
	"github.com/sentrylabs/modelsentry/internal/training"
)

func pair(age float64, class int) ledger.LabeledPair {
	return ledger.LabeledPair{
		Prediction: domain.PredictionRecord{Features: domain.FeatureRow{"age": age}},
		Label:      domain.LabelRecord{TrueClass: class},
	}
}

func TestTemporalSplitKeepsTailAsReplay(t *testing.T) {
	pairs := []ledger.LabeledPair{pair(10, 0), pair(20, 1), pair(30, 0), pair(40, 1), pair(50, 0)}
	split := replay.TemporalSplit(pairs, 0.4)
	require.Len(t, split.ReplayRows, 2)
	require.Len(t, split.TrainingRows, 3)
	assert.Equal(t, 40.0, split.ReplayRows[0].Features["age"])
	assert.Equal(t, 50.0, split.ReplayRows[1].Features["age"])
}

func predictAlways(class int, prob float64) func(domain.FeatureRow) (int, float64) {
	return func(domain.FeatureRow) (int, float64) { return class, prob }
}

func TestEvaluateSegmentsAbstainsBelowSegmentMin(t *testing.T) {
	split := replay.Split{ReplayRows: []training.Row{
		{Features: domain.FeatureRow{"age": 10.0}, TrueClass: 1},
	}}
	specs := []config.SegmentSpec{{Feature: "age", BucketEdges: []float64{50}}}
	results := replay.EvaluateSegments(split, specs, 5, predictAlways(1, 0.9), predictAlways(1, 0.9))
	require.Len(t, results, 1)
	assert.True(t, results[0].Insufficient)
	assert.Equal(t, "age:low", results[0].Name)
}

func TestExpectedSegmentNamesCoversEveryBucketRegardlessOfData(t *testing.T) {
	specs := []config.SegmentSpec{{Feature: "age", BucketEdges: []float64{30, 50}}}
	names := replay.ExpectedSegmentNames(specs)
	assert.Equal(t, []string{"age:low", "age:mid", "age:high"}, names)
}
