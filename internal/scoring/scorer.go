// Package scoring implements the per-stock composite scoring pipeline:
// Sharpe ratio, upside potential and momentum, min-max normalized and
// blended under a risk-profile x market-regime weighting scheme.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// WeightMode selects how Sharpe/Upside/Momentum are combined before
// profile/regime blending.
type WeightMode string

const (
	WeightStatic  WeightMode = "static"
	WeightDynamic WeightMode = "dynamic"
)

// Params controls the scoring run.
type Params struct {
	RiskFreeRate     float64
	MomentumDays     int
	WeightMode       WeightMode
	StaticWeights    Weights // used when WeightMode == WeightStatic
	RunID            string
	RiskProfile      string
	Regime           string
	RegimeStrength   float64 // multiplier from RegimeDetector, e.g. 1.2
	ProfileTendency  Weights // (t_sharpe, t_upside, t_momentum)
	ProfileMultiplier Weights // (mu_sharpe, mu_upside, mu_momentum)
	ProfileStrength  float64 // base blend strength before clamping
}

// Weights is a (sharpe, upside, momentum) triple.
type Weights struct {
	Sharpe   float64
	Upside   float64
	Momentum float64
}

func (w Weights) sum() float64 { return w.Sharpe + w.Upside + w.Momentum }

// Normalize rescales w so its components sum to 1.
func (w Weights) Normalize() Weights {
	s := w.sum()
	if s == 0 {
		return Weights{1.0 / 3, 1.0 / 3, 1.0 / 3}
	}
	return Weights{w.Sharpe / s, w.Upside / s, w.Momentum / s}
}

// StockInput is one ticker's inputs into the scorer. SectorMedianPE is
// not supplied by the caller: it is computed across the universe
// passed to Score from every stock's ForwardPE (see
// sectorForwardPEStats), since the fallback upside formula needs a
// sector view no single StockInput carries on its own.
type StockInput struct {
	Ticker          string
	Sector          string
	Industry        string
	Closes          []float64 // chronological daily close series
	ForwardPE       float64
	ForwardEPS      float64
	TargetMeanPrice float64
	CurrentPrice    float64
	DividendYield   float64
}

// Scorer computes ScoredStock rows for a universe of stocks.
type Scorer struct {
	log zerolog.Logger
}

// New returns a Scorer.
func New(log zerolog.Logger) *Scorer {
	return &Scorer{log: log.With().Str("component", "scorer").Logger()}
}

// Score computes ScoredStock rows plus per-sector median forward P/E and
// the top-20-by-composite correlation matrix (tickers, matrix).
type scoredRaw struct {
	in           StockInput
	annMean      float64
	annStd       float64
	sharpe       float64
	momentum     float64
	upside       float64
	targetPrice  float64
	targetSource string
	returns      []float64
}

func (s *Scorer) Score(inputs []StockInput, p Params) ([]domain.ScoredStock, []domain.SectorPE, []string, [][]float64) {
	raws := make([]scoredRaw, 0, len(inputs))
	for _, in := range inputs {
		returns := dailyReturns(in.Closes)
		if len(returns) == 0 {
			continue
		}
		mean := stat.Mean(returns, nil)
		std := stat.StdDev(returns, nil)
		annMean := mean * 252
		annStd := std * math.Sqrt(252)

		sharpe := 0.0
		if annStd != 0 {
			sharpe = (annMean - p.RiskFreeRate) / annStd
		}

		momentum := momentumReturn(in.Closes, p.MomentumDays)

		raws = append(raws, scoredRaw{in: in, annMean: annMean, annStd: annStd, sharpe: sharpe, momentum: momentum, returns: returns})
	}

	// Sector median forward P/E must be known across the whole universe
	// before any single stock's upside can be resolved, since the
	// sector-PE fallback needs it as an input.
	sectorMedianPE, sectorPEs := sectorForwardPEStats(raws, p.RunID)
	for i := range raws {
		upside, targetPrice, source := upsidePotential(raws[i].in, sectorMedianPE[raws[i].in.Sector])
		raws[i].upside = upside
		raws[i].targetPrice = targetPrice
		raws[i].targetSource = source
	}

	sharpes := extract(raws, func(r scoredRaw) float64 { return r.sharpe })
	upsides := extract(raws, func(r scoredRaw) float64 { return r.upside })
	momentums := extract(raws, func(r scoredRaw) float64 { return r.momentum })

	sharpeNorm := minMaxNormalize(sharpes)
	upsideNorm := minMaxNormalize(upsides)
	momentumNorm := minMaxNormalize(momentums)

	weights := s.resolveWeights(p, sharpes, upsides, momentums)
	blended := blendWithProfileAndRegime(weights, p)

	scored := make([]domain.ScoredStock, 0, len(raws))

	for i, r := range raws {
		composite := blended.Sharpe*sharpeNorm[i] + blended.Upside*upsideNorm[i] + blended.Momentum*momentumNorm[i]

		if !persistFilter(r.in, r.upside, r.targetPrice) {
			continue
		}

		scored = append(scored, domain.ScoredStock{
			RunID:             p.RunID,
			Ticker:            r.in.Ticker,
			Sector:            r.in.Sector,
			Industry:          r.in.Industry,
			AnnMean:           r.annMean,
			AnnStd:            r.annStd,
			Sharpe:            r.sharpe,
			Momentum:          r.momentum,
			UpsidePotential:   r.upside,
			SharpeNorm:        sharpeNorm[i],
			UpsideNorm:        upsideNorm[i],
			MomentumNorm:      momentumNorm[i],
			WeightSharpe:      blended.Sharpe,
			WeightUpside:      blended.Upside,
			WeightMomentum:    blended.Momentum,
			CompositeScore:    composite,
			Regime:            p.Regime,
			RiskProfile:       p.RiskProfile,
			CurrentPrice:      r.in.CurrentPrice,
			TargetMeanPrice:   r.in.TargetMeanPrice,
			ForwardPE:         r.in.ForwardPE,
			ForwardEPS:        r.in.ForwardEPS,
			DividendYield:     r.in.DividendYield,
			SectorMedianPE:    sectorMedianPE[r.in.Sector],
			TargetPrice:       r.targetPrice,
			TargetPriceSource: r.targetSource,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].CompositeScore > scored[j].CompositeScore })

	top := scored
	if len(top) > 20 {
		top = top[:20]
	}
	tickers := make([]string, len(top))
	closeSeries := make([][]float64, len(top))
	for i, sc := range top {
		tickers[i] = sc.Ticker
		for _, in := range inputs {
			if in.Ticker == sc.Ticker {
				closeSeries[i] = dailyReturns(in.Closes)
				break
			}
		}
	}
	corr := correlationMatrix(closeSeries)

	return scored, sectorPEs, tickers, corr
}

func (s *Scorer) resolveWeights(p Params, sharpes, upsides, momentums []float64) Weights {
	if p.WeightMode == WeightStatic {
		return p.StaticWeights.Normalize()
	}
	vs := stat.Variance(sharpes, nil)
	vu := stat.Variance(upsides, nil)
	vm := stat.Variance(momentums, nil)
	total := vs + vu + vm
	if total == 0 {
		return Weights{1.0 / 3, 1.0 / 3, 1.0 / 3}
	}
	return Weights{vs / total, vu / total, vm / total}
}

// blendWithProfileAndRegime implements spec §4.7's profile x regime
// blend: s = min(1, profile_strength * regime_strength); w' = (1-s)*w_base
// + s*(tendency * multiplier), renormalized to sum to 1.
func blendWithProfileAndRegime(base Weights, p Params) Weights {
	if p.ProfileStrength == 0 && p.RegimeStrength == 0 {
		return base
	}
	s := p.ProfileStrength * p.RegimeStrength
	if s > 1 {
		s = 1
	}
	profile := Weights{
		Sharpe:   p.ProfileTendency.Sharpe * p.ProfileMultiplier.Sharpe,
		Upside:   p.ProfileTendency.Upside * p.ProfileMultiplier.Upside,
		Momentum: p.ProfileTendency.Momentum * p.ProfileMultiplier.Momentum,
	}
	blended := Weights{
		Sharpe:   (1-s)*base.Sharpe + s*profile.Sharpe,
		Upside:   (1-s)*base.Upside + s*profile.Upside,
		Momentum: (1-s)*base.Momentum + s*profile.Momentum,
	}
	return blended.Normalize()
}

// persistFilter drops rows with non-positive upside, a missing/non-positive
// current or target price, or a missing/non-positive forward P/E.
func persistFilter(in StockInput, upside, targetPrice float64) bool {
	if upside <= 0 {
		return false
	}
	if in.CurrentPrice <= 0 || targetPrice <= 0 {
		return false
	}
	if in.ForwardPE <= 0 {
		return false
	}
	return true
}

// upsidePotential prefers (targetMeanPrice/currentPrice - 1) when the
// provider supplies a usable analyst target; otherwise it falls back to
// an implied upside from the stock's own forward P/E against its
// sector's median forward P/E (sectorMedianPE/forwardPE - 1), deriving
// an implied target price from that upside. Returns (upside, target
// price, source label); source is "" when neither path is usable.
func upsidePotential(in StockInput, sectorMedianPE float64) (upside, targetPrice float64, source string) {
	switch {
	case in.TargetMeanPrice > 0 && in.CurrentPrice > 0:
		upside = clamp(in.TargetMeanPrice/in.CurrentPrice-1, -0.99, 10.0)
		return upside, in.TargetMeanPrice, "provider-target"
	case sectorMedianPE > 0 && in.ForwardPE > 0 && in.CurrentPrice > 0:
		upside = clamp(sectorMedianPE/in.ForwardPE-1, -0.99, 10.0)
		return upside, in.CurrentPrice * (1 + upside), "sector-pe-fallback"
	default:
		return -1, 0, "" // filtered out by persistFilter (upside <= 0)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func momentumReturn(closes []float64, days int) float64 {
	if len(closes) <= days || days <= 0 {
		return 0
	}
	past := closes[len(closes)-1-days]
	cur := closes[len(closes)-1]
	if past == 0 {
		return 0
	}
	return cur/past - 1
}

func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

func extract(raws []scoredRaw, f func(r scoredRaw) float64) []float64 {
	out := make([]float64, len(raws))
	for i, r := range raws {
		out[i] = f(r)
	}
	return out
}

// minMaxNormalize rescales values to [0,1]; returns 0.5 for every entry
// when max == min (flat input carries no signal).
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
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
	if max == min {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}

// sectorForwardPEStats computes, per sector, the median forward P/E
// across every raw with a positive ForwardPE, plus the SectorPE rows
// for persistence. The median map feeds the sector-PE upside fallback;
// it is computed over the whole scoring universe, not just the rows
// that end up persisted.
func sectorForwardPEStats(raws []scoredRaw, runID string) (map[string]float64, []domain.SectorPE) {
	bySector := map[string][]float64{}
	for _, r := range raws {
		if r.in.ForwardPE > 0 {
			bySector[r.in.Sector] = append(bySector[r.in.Sector], r.in.ForwardPE)
		}
	}
	medians := make(map[string]float64, len(bySector))
	sectorPEs := make([]domain.SectorPE, 0, len(bySector))
	for sector, pes := range bySector {
		sort.Float64s(pes)
		m := median(pes)
		medians[sector] = m
		sectorPEs = append(sectorPEs, domain.SectorPE{RunID: runID, Sector: sector, Median: m, Count: len(pes)})
	}
	sort.Slice(sectorPEs, func(i, j int) bool { return sectorPEs[i].Sector < sectorPEs[j].Sector })
	return medians, sectorPEs
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func correlationMatrix(series [][]float64) [][]float64 {
	n := len(series)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				m[i][j] = 1
				continue
			}
			a, b := alignedPair(series[i], series[j])
			if len(a) < 2 {
				m[i][j] = 0
				continue
			}
			m[i][j] = stat.Correlation(a, b, nil)
		}
	}
	return m
}

func alignedPair(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}

// ValidateWeights returns an error if the three weights don't sum to 1
// within the given epsilon; the package tests use it to check
// normalized and blended weights.
func ValidateWeights(w Weights, eps float64) error {
	if math.Abs(w.sum()-1) > eps {
		return fmt.Errorf("weights must sum to 1 +/- %g, got %g", eps, w.sum())
	}
	return nil
}
