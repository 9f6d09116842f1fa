// Package backtest computes a historical equity curve and summary risk
// metrics for a fixed-weight portfolio.
package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Result is the outcome of a backtest run.
type Result struct {
	EquityCurve       []float64
	CAGR              float64
	AnnualizedVol     float64
	Sharpe            float64
	MaxDrawdown       float64
}

// Run computes the equity curve for weights applied to closes (aligned
// on a common date index, one series per ticker in the same order as
// weights), normalized to the first day, starting from initialInvestment.
// years is the number of calendar years spanned by the series, used for
// the CAGR annualization.
func Run(closes [][]float64, weights []float64, initialInvestment, riskFreeRate, years float64) Result {
	n := len(closes[0])
	normalized := make([][]float64, len(closes))
	for i, series := range closes {
		base := series[0]
		normalized[i] = make([]float64, n)
		for t, v := range series {
			if base == 0 {
				normalized[i][t] = 1
				continue
			}
			normalized[i][t] = v / base
		}
	}

	curve := make([]float64, n)
	for t := 0; t < n; t++ {
		var acc float64
		for i, w := range weights {
			acc += w * normalized[i][t]
		}
		curve[t] = acc * initialInvestment
	}

	dailyReturns := make([]float64, 0, n-1)
	for t := 1; t < n; t++ {
		if curve[t-1] == 0 {
			continue
		}
		dailyReturns = append(dailyReturns, curve[t]/curve[t-1]-1)
	}

	totalReturn := curve[n-1]/curve[0] - 1
	cagr := math.Pow(1+totalReturn, 1/years) - 1

	vol := 0.0
	sharpe := 0.0
	if len(dailyReturns) > 1 {
		vol = stat.StdDev(dailyReturns, nil) * math.Sqrt(252)
		if vol > 0 {
			sharpe = (stat.Mean(dailyReturns, nil)*252 - riskFreeRate) / vol
		}
	}

	return Result{
		EquityCurve:   curve,
		CAGR:          cagr,
		AnnualizedVol: vol,
		Sharpe:        sharpe,
		MaxDrawdown:   maxDrawdown(curve),
	}
}

func maxDrawdown(curve []float64) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0]
	worst := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak == 0 {
			continue
		}
		dd := v/peak - 1
		if dd < worst {
			worst = dd
		}
	}
	return worst
}
