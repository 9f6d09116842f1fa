package portfolio

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func diagCov(variances []float64) *mat.SymDense {
	n := len(variances)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, variances[i])
	}
	return cov
}

func TestMaxSimsStaticModeUsesSimRuns(t *testing.T) {
	p := SamplerParams{Adaptive: false, SimRuns: 500}
	assert.Equal(t, 500, p.MaxSims(5))
}

func TestMaxSimsAdaptiveClampedToProgMinForSmallK(t *testing.T) {
	p := SamplerParams{Adaptive: true, ProgMin: 50, ProgBase: 10, ProgCap: 1000}
	assert.Equal(t, 50, p.MaxSims(1))
}

func TestMaxSimsAdaptiveClampedToCap(t *testing.T) {
	p := SamplerParams{Adaptive: true, ProgMin: 50, ProgBase: 10000, ProgCap: 200}
	assert.Equal(t, 200, p.MaxSims(20))
}

func TestSampleFindsReasonableSharpe(t *testing.T) {
	mean := []float64{0.15, 0.10, 0.08}
	cov := diagCov([]float64{0.04, 0.09, 0.01})
	p := SamplerParams{Adaptive: false, SimRuns: 2000, RiskFreeRate: 0.02}
	rng := rand.New(rand.NewSource(1))

	res := Sample(mean, cov, p, rng, math.Inf(-1))
	assert.Len(t, res.Weights, 3)
	var sum float64
	for _, w := range res.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, res.Sharpe, 0.0)
}

func TestEarlyDiscardStopsWeakSubset(t *testing.T) {
	mean := []float64{0.01, 0.01}
	cov := diagCov([]float64{1, 1}) // huge vol -> low Sharpe
	p := SamplerParams{
		Adaptive:            true,
		ProgMin:             1000,
		ProgBase:            10,
		ProgCap:             5000,
		InitialScanSims:     10,
		EarlyDiscardMinBest: 0.1,
		EarlyDiscardFactor:  0.5,
	}
	rng := rand.New(rand.NewSource(1))
	res := Sample(mean, cov, p, rng, 5.0) // overall best is very strong
	assert.LessOrEqual(t, res.SimsRun, 10)
}
