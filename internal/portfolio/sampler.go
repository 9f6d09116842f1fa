// Package portfolio implements the k-stock portfolio search: exact
// subset enumeration for small k, an adaptive weight sampler for
// per-subset Sharpe optimization, and a refinement pass over the best
// brute-force candidates.
package portfolio

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SamplerParams controls the Adaptive Weight Sampler.
type SamplerParams struct {
	RiskFreeRate            float64
	Adaptive                bool
	SimRuns                 int // used when !Adaptive
	ProgMin                 int
	ProgBase                float64
	ProgCap                 int
	InitialScanSims         int
	EarlyDiscardMinBest     float64
	EarlyDiscardFactor      float64
	ProgCheckInterval       int
	ProgConvergenceWindow   int
	ProgConvergenceDelta    float64
	NoEarlyDiscard          bool // true during refinement
}

// MaxSims returns the simulation budget for a k-stock subset.
func (p SamplerParams) MaxSims(k int) int {
	if !p.Adaptive {
		return p.SimRuns
	}
	if k < 2 {
		return p.ProgMin
	}
	v := int(p.ProgBase * math.Pow(math.Log(float64(k)), 2))
	if v < p.ProgMin {
		return p.ProgMin
	}
	if v > p.ProgCap {
		return p.ProgCap
	}
	return v
}

// SampleResult is the best weight vector found for a subset.
type SampleResult struct {
	Weights        []float64
	ExpectedReturn float64
	Volatility     float64
	Sharpe         float64
	SimsRun        int
}

// Sample runs the Adaptive Weight Sampler for one subset of stocks,
// given their annualized mean-return vector and covariance matrix.
// overallBestSharpe is read for the early-discard check (spec §4.8);
// math.Inf(-1) (what the very first subset evaluated sees) never
// triggers it, and p.NoEarlyDiscard (set during refinement) disables it.
func Sample(mean []float64, cov *mat.SymDense, p SamplerParams, rng *rand.Rand, overallBestSharpe float64) SampleResult {
	n := len(mean)
	maxSims := p.MaxSims(n)

	best := SampleResult{Sharpe: math.Inf(-1)}
	recentSharpes := make([]float64, 0, p.ProgConvergenceWindow)

	for sim := 0; sim < maxSims; sim++ {
		w := randomWeights(n, rng)
		expRet := dot(mean, w)
		vol := portfolioVol(cov, w)

		sharpe := math.Inf(-1)
		if vol > 0 {
			sharpe = (expRet - p.RiskFreeRate) / vol
		}

		if sharpe > best.Sharpe {
			best = SampleResult{Weights: w, ExpectedReturn: expRet, Volatility: vol, Sharpe: sharpe}
		}
		best.SimsRun = sim + 1

		if !p.NoEarlyDiscard && sim+1 == p.InitialScanSims {
			if overallBestSharpe > p.EarlyDiscardMinBest && best.Sharpe < p.EarlyDiscardFactor*overallBestSharpe {
				return best
			}
		}

		if sim+1 >= p.ProgMin && p.ProgCheckInterval > 0 && (sim+1)%p.ProgCheckInterval == 0 {
			recentSharpes = append(recentSharpes, best.Sharpe)
			if len(recentSharpes) > p.ProgConvergenceWindow {
				recentSharpes = recentSharpes[len(recentSharpes)-p.ProgConvergenceWindow:]
			}
			if len(recentSharpes) == p.ProgConvergenceWindow {
				if rangeOf(recentSharpes) < p.ProgConvergenceDelta {
					return best
				}
			}
		}
	}

	return best
}

// randomWeights draws a weight vector by normalizing independent
// uniform draws to sum to 1. This is not an exact Dirichlet(1,...,1)
// sample: it favors more even weightings than a flat Dirichlet does.
func randomWeights(n int, rng *rand.Rand) []float64 {
	w := make([]float64, n)
	var sum float64
	for i := range w {
		w[i] = rng.Float64()
		sum += w[i]
	}
	if sum == 0 {
		for i := range w {
			w[i] = 1.0 / float64(n)
		}
		return w
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func portfolioVol(cov *mat.SymDense, w []float64) float64 {
	n := len(w)
	wv := mat.NewVecDense(n, w)
	var tmp mat.VecDense
	tmp.MulVec(cov, wv)
	variance := mat.Dot(wv, &tmp)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func rangeOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}
