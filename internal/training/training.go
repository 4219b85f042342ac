// Package training defines the external Train() contract (§6) and
// provides a reference/stub implementation — logistic regression by
// gradient descent — standing in for the real training collaborator in
// tests and local runs. The real training algorithm is explicitly out
// of scope (§1); this package exists only so C4 has something to call.
package training

import (
	"context"
	"math"

	"github.com/sentrylabs/modelsentry/internal/domain"
)

// Row is one labeled training/replay row: feature values plus a
// ground-truth class, keyed by feature name per the schema.
type Row struct {
	Features  domain.FeatureRow
	TrueClass int
}

// Metrics carries at minimum the fields the spec names (§6); additional
// fields are allowed and stored verbatim alongside the required ones.
type Metrics struct {
	F1        float64
	Brier     float64
	Precision float64
	Recall    float64
	AUC       float64
	Extra     map[string]float64
}

// Model is the trained artifact: a blob reference plus a predictor, so
// C4's replay step can score rows without re-deserializing a blob format
// this spec leaves opaque.
type Model struct {
	BlobRef string
	Predict func(domain.FeatureRow) (class int, probability float64)
}

// Trainer is the external training contract: pure and deterministic
// given inputs and seed.
type Trainer interface {
	Train(ctx context.Context, trainingRows, testRows []Row, seed int64) (Model, Metrics, error)
}

// LogisticRegressionTrainer is the reference/stub Trainer: a small
// numeric-feature logistic regression fit by batch gradient descent.
// Non-numeric feature values are ignored by this stub; a real training
// collaborator would own its own featurization.
type LogisticRegressionTrainer struct {
	Epochs       int
	LearningRate float64
	FeatureOrder []string
}

// NewLogisticRegressionTrainer builds the stub trainer over the given
// numeric feature names, in a fixed order so weights are reproducible.
func NewLogisticRegressionTrainer(featureOrder []string) *LogisticRegressionTrainer {
	return &LogisticRegressionTrainer{Epochs: 200, LearningRate: 0.1, FeatureOrder: featureOrder}
}

func (t *LogisticRegressionTrainer) vectorize(row domain.FeatureRow) []float64 {
	out := make([]float64, len(t.FeatureOrder)+1)
	out[0] = 1 // bias term
	for i, name := range t.FeatureOrder {
		if v, ok := row[name]; ok {
			switch x := v.(type) {
			case float64:
				out[i+1] = x
			case int:
				out[i+1] = float64(x)
			}
		}
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Train fits weights by batch gradient descent on trainingRows, then
// scores testRows to compute the metrics the gate function consumes.
// seed is accepted for contract parity; gradient descent here is
// deterministic given the same rows and hyperparameters regardless of
// seed, since the stub does no randomized initialization or sampling.
func (t *LogisticRegressionTrainer) Train(ctx context.Context, trainingRows, testRows []Row, seed int64) (Model, Metrics, error) {
	dims := len(t.FeatureOrder) + 1
	weights := make([]float64, dims)

	for epoch := 0; epoch < t.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return Model{}, Metrics{}, ctx.Err()
		default:
		}
		grad := make([]float64, dims)
		for _, row := range trainingRows {
			x := t.vectorize(row.Features)
			pred := sigmoid(dot(weights, x))
			err := pred - float64(row.TrueClass)
			for i := range grad {
				grad[i] += err * x[i]
			}
		}
		n := float64(len(trainingRows))
		if n == 0 {
			n = 1
		}
		for i := range weights {
			weights[i] -= t.LearningRate * grad[i] / n
		}
	}

	predict := func(features domain.FeatureRow) (int, float64) {
		x := t.vectorize(features)
		p := sigmoid(dot(weights, x))
		class := 0
		if p >= 0.5 {
			class = 1
		}
		return class, p
	}

	metrics := evaluate(testRows, predict)
	return Model{BlobRef: "in-memory-logistic-regression", Predict: predict}, metrics, nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// evaluate computes F1/Brier/precision/recall/AUC over rows scored by
// predict, shared by the trainer and usable by replay evaluation for
// any Predict-shaped model.
func evaluate(rows []Row, predict func(domain.FeatureRow) (int, float64)) Metrics {
	var tp, fp, fn, tn int
	var brierSum float64
	for _, row := range rows {
		class, prob := predict(row.Features)
		if class == 1 && row.TrueClass == 1 {
			tp++
		} else if class == 1 && row.TrueClass == 0 {
			fp++
		} else if class == 0 && row.TrueClass == 1 {
			fn++
		} else {
			tn++
		}
		diff := prob - float64(row.TrueClass)
		brierSum += diff * diff
	}

	precision := safeDiv(float64(tp), float64(tp+fp))
	recall := safeDiv(float64(tp), float64(tp+fn))
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	brier := 0.0
	if len(rows) > 0 {
		brier = brierSum / float64(len(rows))
	}

	return Metrics{
		F1:        f1,
		Brier:     brier,
		Precision: precision,
		Recall:    recall,
		AUC:       approximateAUC(rows, predict),
	}
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// approximateAUC computes the rank-based (Mann-Whitney) AUC estimator.
func approximateAUC(rows []Row, predict func(domain.FeatureRow) (int, float64)) float64 {
	type scored struct {
		prob  float64
		label int
	}
	var scoredRows []scored
	var positives, negatives int
	for _, row := range rows {
		_, prob := predict(row.Features)
		scoredRows = append(scoredRows, scored{prob: prob, label: row.TrueClass})
		if row.TrueClass == 1 {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return 0.5
	}

	var rankSum float64
	for i := range scoredRows {
		rank := 1
		for j := range scoredRows {
			if scoredRows[j].prob < scoredRows[i].prob {
				rank++
			}
		}
		if scoredRows[i].label == 1 {
			rankSum += float64(rank)
		}
	}
	return (rankSum - float64(positives)*(float64(positives)+1)/2) / (float64(positives) * float64(negatives))
}

// Evaluate scores rows against an already-trained Model, used by C4 to
// score the current production model P on the replay set without
// retraining it.
func Evaluate(rows []Row, model Model) Metrics {
	return evaluate(rows, model.Predict)
}
