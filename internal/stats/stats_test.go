package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKSTwoSampleIdenticalDistributionsNoDrift(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	b := append([]float64(nil), a...)

	stat, p := KSTwoSample(a, b)
	require.Zero(t, stat)
	assert.Greater(t, p, 0.05)
}

func TestKSTwoSampleShiftedDistributionsDetectsDrift(t *testing.T) {
	a := make([]float64, 200)
	b := make([]float64, 200)
	for i := range a {
		a[i] = float64(i)
		b[i] = float64(i) + 150
	}

	stat, p := KSTwoSample(a, b)
	assert.Greater(t, stat, 0.5)
	assert.Less(t, p, 0.05)
}

func TestTotalVariationDistanceIdenticalIsZero(t *testing.T) {
	ref := map[string]int{"a": 50, "b": 50}
	win := map[string]int{"a": 50, "b": 50}
	assert.Zero(t, TotalVariationDistance(ref, win))
}

func TestTotalVariationDistanceDisjointIsOne(t *testing.T) {
	ref := map[string]int{"a": 100}
	win := map[string]int{"b": 100}
	assert.InDelta(t, 1.0, TotalVariationDistance(ref, win), 1e-9)
}

func TestChiSquaredTestSkewedCategoriesRejectsHomogeneity(t *testing.T) {
	ref := map[string]int{"a": 500, "b": 500}
	win := map[string]int{"a": 900, "b": 100}

	chi2, p, df := ChiSquaredTest(ref, win)
	assert.Equal(t, 1, df)
	assert.Greater(t, chi2, 0.0)
	assert.Less(t, p, 0.05)
}

func TestBinaryEntropyHandlesZeroAndOneWithoutNaN(t *testing.T) {
	e := BinaryEntropy([]float64{0, 1, 0.5})
	assert.False(t, math.IsNaN(e))
	assert.Greater(t, e, 0.0)
}

func TestWassersteinDistanceIdenticalIsZero(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := append([]float64(nil), a...)
	assert.Zero(t, WassersteinDistance1D(a, b))
}

func TestWassersteinDistanceShiftedIsPositive(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{11, 12, 13, 14, 15}
	assert.Greater(t, WassersteinDistance1D(a, b), 0.0)
}
