// Package optimize implements the transition optimizer: it reconciles a
// user's realized holdings against the ideal portfolio and searches
// blended transition weightings to find the best post-cost-adjusted
// candidate, emitting a HOLD or REBALANCE recommendation.
package optimize

import (
	"math"
	"sort"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
)

// CostModel selects how transition costs are estimated.
type CostModel string

const (
	CostDynamic CostModel = "dynamic" // derived from recent ledger fee history
	CostFixed   CostModel = "fixed"
)

// Params controls one optimization run.
type Params struct {
	RunID                    string
	CandidateSteps           int // N in lambda = i/N
	MinExcessReturnThreshold float64
	CostModel                CostModel
	FixedCostPct             float64
	MomentumLookbackDays     int
	WeightReturn             float64 // w_R
	WeightSharpe             float64 // w_S
	WeightMomentum           float64 // w_M
	RiskFreeRate             float64
}

// HoldingsInput describes the user's current positions priced against
// the latest available prices.
type HoldingsInput struct {
	Positions     []domain.Position
	CurrentPrices map[string]float64 // ticker -> current price
	TargetPrices  map[string]float64 // provider targetMeanPrice, when available
	Momentum12mo  map[string]float64
	LedgerFees    []domain.LedgerRow // recent rows, used for the dynamic cost model
}

// IdealInput is the engine's winning portfolio, repriced with current
// market prices (the historical expected return is retained separately
// per spec §9's documented choice).
type IdealInput struct {
	Weights        map[string]float64
	ExpectedReturn float64 // recomputed with current prices
	HistoricalRet  float64 // retained, not used in decision math
	Sharpe         float64
	Momentum       float64
}

// Optimizer computes the optimized transition recommendation.
type Optimizer struct {
	log zerolog.Logger
}

// New returns an Optimizer.
func New(log zerolog.Logger) *Optimizer {
	return &Optimizer{log: log.With().Str("component", "optimizer").Logger()}
}

// Run executes the full reconciliation + candidate search + decision.
//
// Design note (spec §9, open question a): the source this pipeline was
// derived from references a "holdings Sharpe" used for interpolation
// but never actually computes one from the ledger. This implementation
// computes it explicitly from the holdings' own expected return and the
// caller-supplied holdingsVol (cmd/portfolioctl passes the annualized
// standard deviation of the held tickers' weighted daily close returns)
// rather than silently treating it as zero, since zero would bias every interpolated
// score toward the ideal portfolio regardless of how the holdings are
// actually diversified.
func (o *Optimizer) Run(holdings HoldingsInput, holdingsVol float64, ideal IdealInput, portfolioValue float64, p Params) domain.OptimizationRecommendation {
	currentWeights := CurrentWeights(holdings.Positions, holdings.CurrentPrices, portfolioValue)
	holdingsExpRet := WeightedExpectedReturn(currentWeights, holdings.TargetPrices, holdings.CurrentPrices, holdings.Momentum12mo, p.MomentumLookbackDays)
	holdingsSharpe := 0.0
	if holdingsVol > 0 {
		holdingsSharpe = (holdingsExpRet - p.RiskFreeRate) / holdingsVol
	}
	holdingsMomentum := WeightedMomentum(currentWeights, holdings.Momentum12mo)

	costPct := o.costPct(holdings.LedgerFees, p)

	candidates := o.generateCandidates(currentWeights, ideal.Weights, p)

	type scored struct {
		lambda       float64
		weights      map[string]float64
		expRet       float64
		sharpe       float64
		momentum     float64
		transCostPct float64
		netReturn    float64
		score        float64
	}

	var best scored
	first := true

	for _, c := range candidates {
		lambda := c.lambda
		expRet := (1-lambda)*holdingsExpRet + lambda*ideal.ExpectedReturn
		sharpe := (1-lambda)*holdingsSharpe + lambda*ideal.Sharpe
		momentum := (1-lambda)*holdingsMomentum + lambda*ideal.Momentum

		turnover := weightTurnover(currentWeights, c.weights)
		transCostPct := turnover * costPct * 100 // percent of portfolio value
		netReturn := expRet - transCostPct

		score := p.WeightReturn*normClamp(netReturn, -20, 100) +
			p.WeightSharpe*normClamp(sharpe, -1, 3) +
			p.WeightMomentum*normClamp(momentum, -1, 2)

		s := scored{lambda: lambda, weights: c.weights, expRet: expRet, sharpe: sharpe, momentum: momentum, transCostPct: transCostPct, netReturn: netReturn, score: score}
		if first || s.score > best.score {
			best = s
			first = false
		}
	}

	excess := best.netReturn - holdingsExpRet
	decision := "HOLD"
	if excess >= p.MinExcessReturnThreshold {
		decision = "REBALANCE"
	}

	var transactions []domain.Transaction
	if decision == "REBALANCE" {
		transactions = diffToTransactions(currentWeights, best.weights, portfolioValue)
	}

	return domain.OptimizationRecommendation{
		RunID:    p.RunID,
		Decision: decision,
		Holdings: domain.PortfolioView{Weights: currentWeights, ExpectedReturn: holdingsExpRet, Sharpe: holdingsSharpe, Momentum: holdingsMomentum},
		Ideal:    domain.PortfolioView{Weights: ideal.Weights, ExpectedReturn: ideal.ExpectedReturn, Sharpe: ideal.Sharpe, Momentum: ideal.Momentum},
		Optimal:  domain.PortfolioView{Weights: best.weights, ExpectedReturn: best.expRet, Sharpe: best.sharpe, Momentum: best.momentum},
		BlendRatio:        best.lambda,
		TransitionCostPct: best.transCostPct,
		NetReturn:         best.netReturn,
		ExcessReturn:      excess,
		Transactions:      transactions,
	}
}

func normClamp(v, lo, hi float64) float64 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return (v - lo) / (hi - lo)
}

// CurrentWeights prices a FIFO-lot position list against current
// market prices and returns by-value portfolio weights.
func CurrentWeights(positions []domain.Position, prices map[string]float64, portfolioValue float64) map[string]float64 {
	out := make(map[string]float64, len(positions))
	if portfolioValue <= 0 {
		return out
	}
	for _, pos := range positions {
		price, ok := prices[pos.Ticker]
		if !ok || price <= 0 {
			continue
		}
		out[pos.Ticker] = pos.Quantity * price / portfolioValue
	}
	return out
}

// WeightedExpectedReturn blends per-ticker target-price upside with a
// momentum fallback when no analyst target is available, weighted by
// portfolio weight.
func WeightedExpectedReturn(weights map[string]float64, targets, current, momentum12mo map[string]float64, lookback int) float64 {
	var sum float64
	for ticker, w := range weights {
		var r float64
		target, hasTarget := targets[ticker]
		cur, hasCur := current[ticker]
		if hasTarget && hasCur && cur > 0 {
			r = target/cur - 1
		} else if m, ok := momentum12mo[ticker]; ok {
			r = m
		}
		sum += w * r
	}
	return sum
}

// WeightedMomentum returns the weight-weighted 12-month momentum.
func WeightedMomentum(weights, momentum12mo map[string]float64) float64 {
	var sum float64
	for ticker, w := range weights {
		sum += w * momentum12mo[ticker]
	}
	return sum
}

type candidate struct {
	lambda  float64
	weights map[string]float64
}

// generateCandidates blends current and ideal weights at N evenly spaced
// lambda steps, drops entries under 0.1%, and renormalizes.
func (o *Optimizer) generateCandidates(current, ideal map[string]float64, p Params) []candidate {
	n := p.CandidateSteps
	if n <= 0 {
		n = 10
	}
	tickers := unionKeys(current, ideal)

	out := make([]candidate, 0, n+1)
	for i := 0; i <= n; i++ {
		lambda := float64(i) / float64(n)
		weights := make(map[string]float64, len(tickers))
		var sum float64
		for _, t := range tickers {
			w := (1-lambda)*current[t] + lambda*ideal[t]
			if w < 0.001 {
				continue
			}
			weights[t] = w
			sum += w
		}
		if sum > 0 {
			for t := range weights {
				weights[t] /= sum
			}
		}
		out = append(out, candidate{lambda: lambda, weights: weights})
	}
	return out
}

func unionKeys(a, b map[string]float64) []string {
	set := make(map[string]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func weightTurnover(a, b map[string]float64) float64 {
	tickers := unionKeys(a, b)
	var turnover float64
	for _, t := range tickers {
		turnover += math.Abs(b[t] - a[t])
	}
	return turnover
}

// costPct implements the dynamic transaction cost model: avg_cost_pct =
// sum(fees) / sum(gross) over whichever of two windows has more rows —
// the last 20 ledger rows, or the rows from the last 6 months (relative
// to wall-clock now, not the ledger's own latest date).
func (o *Optimizer) costPct(rows []domain.LedgerRow, p Params) float64 {
	if p.CostModel == CostFixed || len(rows) == 0 {
		return p.FixedCostPct / 100
	}

	last20 := rows
	if len(rows) > 20 {
		last20 = rows[len(rows)-20:]
	}

	cutoff := time.Now().AddDate(0, -6, 0)
	var last6mo []domain.LedgerRow
	for _, r := range rows {
		if r.Date.After(cutoff) {
			last6mo = append(last6mo, r)
		}
	}

	window := last20
	if len(last6mo) > len(last20) {
		window = last6mo
	}

	var fees, gross float64
	for _, r := range window {
		fees += r.Fees
		gross += r.Quantity * r.Price
	}
	if gross == 0 {
		return p.FixedCostPct / 100
	}
	return fees / gross
}

// diffToTransactions turns a weight delta into a transaction list,
// ignoring deltas smaller than 0.1%.
func diffToTransactions(current, target map[string]float64, portfolioValue float64) []domain.Transaction {
	tickers := unionKeys(current, target)
	var out []domain.Transaction
	for _, t := range tickers {
		delta := target[t] - current[t]
		if math.Abs(delta) < 0.001 {
			continue
		}
		side := "BUY"
		if delta < 0 {
			side = "SELL"
		}
		out = append(out, domain.Transaction{
			Ticker:      t,
			Side:        side,
			WeightDelta: delta,
			ValueDelta:  delta * portfolioValue,
		})
	}
	return out
}
