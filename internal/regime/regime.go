// Package regime implements market regime detection: a benchmark-driven
// trend/volatility-percentile classification into five discrete states,
// each carrying a strength multiplier used to blend scoring weights
// toward a risk profile's tendencies.
package regime

import (
	"math"
	"strings"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Regime is one of the five discrete market states.
type Regime string

const (
	StrongBull Regime = "strong_bull"
	Bull       Regime = "bull"
	Neutral    Regime = "neutral"
	Bear       Regime = "bear"
	StrongBear Regime = "strong_bear"
)

// Thresholds controls the classification cascade. All are expressed on
// annualized trend and rolling-vol-percentile scales, matching spec's
// T_strong_bull/T_bull/T_strong_bear/T_bear_vol/T_bear.
type Thresholds struct {
	StrongBullTrend  float64 // T_strong_bull
	StrongBullVolMax float64 // strong_bull also requires vol_percentile below this
	BullTrend        float64 // T_bull
	StrongBearTrend  float64 // T_strong_bear
	BearVolPctile    float64 // T_bear_vol
	BearTrend        float64 // T_bear
}

// DefaultThresholds matches the values assumed throughout spec.md's
// worked examples.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongBullTrend:  0.25,
		StrongBullVolMax: 0.7,
		BullTrend:        0.08,
		StrongBearTrend:  -0.25,
		BearVolPctile:    0.8,
		BearTrend:        -0.08,
	}
}

// StrengthMultipliers maps each regime to its default scoring-weight
// blend multiplier.
func StrengthMultipliers() map[Regime]float64 {
	return map[Regime]float64{
		StrongBull: 1.5,
		Bull:       1.2,
		Neutral:    1.0,
		Bear:       0.8,
		StrongBear: 0.6,
	}
}

// Detector classifies the current market regime from a benchmark close series.
type Detector struct {
	thresholds Thresholds
	log        zerolog.Logger
}

// New returns a Detector.
func New(thresholds Thresholds, log zerolog.Logger) *Detector {
	return &Detector{thresholds: thresholds, log: log.With().Str("component", "regime").Logger()}
}

// SelectBenchmark picks the benchmark close series from a universe: the
// first ticker whose symbol contains "BVSP" or "IBOV", else the
// cross-sectional mean of every ticker's close series (aligned on the
// shortest series length).
func SelectBenchmark(tickers []string, closes map[string][]float64) []float64 {
	for _, t := range tickers {
		u := strings.ToUpper(t)
		if strings.Contains(u, "BVSP") || strings.Contains(u, "IBOV") {
			return closes[t]
		}
	}
	return crossSectionalMean(closes)
}

func crossSectionalMean(closes map[string][]float64) []float64 {
	minLen := -1
	for _, c := range closes {
		if minLen < 0 || len(c) < minLen {
			minLen = len(c)
		}
	}
	if minLen <= 0 {
		return nil
	}
	out := make([]float64, minLen)
	for _, c := range closes {
		offset := len(c) - minLen
		for i := 0; i < minLen; i++ {
			out[i] += c[offset+i]
		}
	}
	n := float64(len(closes))
	for i := range out {
		out[i] /= n
	}
	return out
}

// Result is the outcome of a classification.
type Result struct {
	Regime        Regime
	Strength      float64
	Trend         float64
	VolPercentile float64
}

// Classify determines the regime from the last lookbackDays of the
// benchmark close series, using the full series for the rolling-vol
// history needed to compute a volatility percentile.
func (d *Detector) Classify(benchmarkCloses []float64, lookbackDays int) Result {
	if len(benchmarkCloses) < lookbackDays+2 {
		return Result{Regime: Neutral, Strength: StrengthMultipliers()[Neutral]}
	}

	window := benchmarkCloses[len(benchmarkCloses)-lookbackDays-1:]
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		returns = append(returns, window[i]/window[i-1]-1)
	}
	if len(returns) == 0 {
		return Result{Regime: Neutral, Strength: StrengthMultipliers()[Neutral]}
	}

	trend := d.confirmedTrend(window)
	currentVol := stat.StdDev(returns, nil) * math.Sqrt(252)
	volPercentile := d.rollingVolPercentile(benchmarkCloses, lookbackDays, currentVol)

	r := d.classifyCascade(trend, volPercentile)
	return Result{Regime: r, Strength: StrengthMultipliers()[r], Trend: trend, VolPercentile: volPercentile}
}

// confirmedTrend smooths the close window with an EMA before computing
// the annualized trend, so a single sharp daily move cannot flip the
// classification cascade on its own; the EMA period is a fixed fraction
// of the window, matching the cascade's lookback-relative sensitivity.
func (d *Detector) confirmedTrend(window []float64) float64 {
	period := len(window) / 10
	if period < 2 {
		return stat.Mean(dailyReturns(window), nil) * 252
	}
	smoothed := talib.Ema(window, period)
	start := period
	if start >= len(smoothed) {
		return stat.Mean(dailyReturns(window), nil) * 252
	}
	trimmed := smoothed[start:]
	returns := dailyReturns(trimmed)
	if len(returns) == 0 {
		return 0
	}
	return stat.Mean(returns, nil) * 252
}

func dailyReturns(series []float64) []float64 {
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			continue
		}
		out = append(out, series[i]/series[i-1]-1)
	}
	return out
}

// rollingVolPercentile computes the fraction of historical rolling
// lookbackDays-window volatilities that are below the current one.
func (d *Detector) rollingVolPercentile(closes []float64, lookbackDays int, currentVol float64) float64 {
	var history []float64
	for end := lookbackDays + 1; end <= len(closes); end++ {
		window := closes[end-lookbackDays-1 : end]
		returns := make([]float64, 0, len(window)-1)
		for i := 1; i < len(window); i++ {
			if window[i-1] == 0 {
				continue
			}
			returns = append(returns, window[i]/window[i-1]-1)
		}
		if len(returns) == 0 {
			continue
		}
		history = append(history, stat.StdDev(returns, nil)*math.Sqrt(252))
	}
	if len(history) == 0 {
		return 0.5
	}
	below := 0
	for _, v := range history {
		if v < currentVol {
			below++
		}
	}
	return float64(below) / float64(len(history))
}

func (d *Detector) classifyCascade(trend, volPercentile float64) Regime {
	t := d.thresholds
	switch {
	case trend > t.StrongBullTrend && volPercentile < t.StrongBullVolMax:
		return StrongBull
	case trend > t.BullTrend:
		return Bull
	case trend < t.StrongBearTrend || volPercentile > t.BearVolPctile:
		return StrongBear
	case trend < t.BearTrend:
		return Bear
	default:
		return Neutral
	}
}

// Profile holds a risk profile's base tendencies and multipliers used by
// the scorer's blend step (spec §4.7).
type Profile struct {
	Name             string
	Tendency         ProfileWeights
	Multiplier       ProfileWeights
	Strength         float64
}

// ProfileWeights is a (sharpe, upside, momentum) triple mirroring
// scoring.Weights, declared independently so this package has no
// dependency on the scoring package.
type ProfileWeights struct {
	Sharpe   float64
	Upside   float64
	Momentum float64
}

// DefaultProfiles returns the three named risk profiles from spec.md.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"conservador": {
			Name:       "conservador",
			Tendency:   ProfileWeights{Sharpe: 0.6, Upside: 0.2, Momentum: 0.2},
			Multiplier: ProfileWeights{Sharpe: 1.2, Upside: 0.8, Momentum: 0.8},
			Strength:   0.5,
		},
		"moderado": {
			Name:       "moderado",
			Tendency:   ProfileWeights{Sharpe: 0.4, Upside: 0.35, Momentum: 0.25},
			Multiplier: ProfileWeights{Sharpe: 1.0, Upside: 1.0, Momentum: 1.0},
			Strength:   0.5,
		},
		"arrojado": {
			Name:       "arrojado",
			Tendency:   ProfileWeights{Sharpe: 0.2, Upside: 0.4, Momentum: 0.4},
			Multiplier: ProfileWeights{Sharpe: 0.8, Upside: 1.2, Momentum: 1.2},
			Strength:   0.5,
		},
	}
}
