package storage

import (
	"github.com/sentrylabs/modelsentry/internal/domain"
)

// PredictionRowFromDomain builds the storage row for an append.
func PredictionRowFromDomain(r domain.PredictionRecord) PredictionRow {
	return PredictionRow{
		PredictionID:         r.PredictionID,
		CreatedAt:            r.CreatedAt,
		ModelName:            r.ModelName,
		ModelVersion:         r.ModelVersion,
		Features:             toJSONMap(r.Features),
		PredictedClass:       r.PredictedClass,
		PredictedProbability: r.PredictedProbability,
		RequestSource:        r.RequestSource,
		ResponseTimeMs:       r.ResponseTimeMs,
	}
}

// ToDomain converts a storage row back to the domain type.
func (p PredictionRow) ToDomain() domain.PredictionRecord {
	return domain.PredictionRecord{
		PredictionID:         p.PredictionID,
		CreatedAt:            p.CreatedAt,
		ModelName:            p.ModelName,
		ModelVersion:         p.ModelVersion,
		Features:             domain.FeatureRow(p.Features),
		PredictedClass:       p.PredictedClass,
		PredictedProbability: p.PredictedProbability,
		RequestSource:        p.RequestSource,
		ResponseTimeMs:       p.ResponseTimeMs,
	}
}

// LabelRowFromDomain builds the storage row for an append.
func LabelRowFromDomain(r domain.LabelRecord) LabelRow {
	return LabelRow{
		PredictionID:    r.PredictionID,
		TrueClass:       r.TrueClass,
		LabelObservedAt: r.LabelObservedAt,
		LabelSource:     r.LabelSource,
		DaysDelayed:     r.DaysDelayed,
	}
}

// ToDomain converts a storage row back to the domain type.
func (l LabelRow) ToDomain() domain.LabelRecord {
	return domain.LabelRecord{
		PredictionID:    l.PredictionID,
		TrueClass:       l.TrueClass,
		LabelObservedAt: l.LabelObservedAt,
		LabelSource:     l.LabelSource,
		DaysDelayed:     l.DaysDelayed,
	}
}
