package portfolio

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GAEngine is the subset of portfolio/ga.GA the PortfolioEngine needs for
// k values above the exact-enumeration threshold.
type GAEngine interface {
	Run(ctx context.Context, k int, mean []float64, cov *mat.SymDense, tickers []string, sectorOf map[string]string, maxPerSector int) (GAOutcome, error)
}

// GAOutcome mirrors ga.Result's shape without importing the ga package
// from here, keeping PortfolioEngine decoupled from GA internals; the
// concrete ga.GA implements this via an adapter in cmd/portfolioctl.
type GAOutcome struct {
	Stocks         []string
	Weights        []float64
	Sharpe         float64
	ExpectedReturn float64
	Volatility     float64
	SharpeHistory  []float64
}

// EngineParams controls a full portfolio search run.
type EngineParams struct {
	KMin             int
	KMax             int
	HeuristicK       int // K*: k <= HeuristicK uses exact enumeration
	MaxPerSector     int
	Workers          int
	Sampler          SamplerParams
	TopNPctRefine    float64 // e.g. 0.10 for 10%
	RunID            string
	Seed             int64
	ProgressCallback func(percent int, etaSeconds float64)
}

// Engine runs the full k-range search.
type Engine struct {
	ga  GAEngine
	log zerolog.Logger
}

// New returns an Engine. ga may be nil if no k in [KMin,KMax] exceeds
// HeuristicK.
func New(ga GAEngine, log zerolog.Logger) *Engine {
	return &Engine{ga: ga, log: log.With().Str("component", "portfolio_engine").Logger()}
}

// Universe is the stock universe input to the search: per-ticker
// annualized mean return, the full covariance matrix (ordered the same
// as Tickers), and sector membership.
type Universe struct {
	Tickers  []string
	Mean     []float64
	Cov      *mat.SymDense
	SectorOf map[string]string
}

// Run executes the full k-range search and returns every result plus the
// winning (highest-Sharpe) portfolio.
func (e *Engine) Run(ctx context.Context, u Universe, p EngineParams) ([]domain.PortfolioResult, *domain.PortfolioResult, error) {
	var (
		mu          sync.Mutex
		overallBest int64 // bits of float64, for atomic compare-and-update
		results     []domain.PortfolioResult
		bruteForce  []domain.PortfolioResult
	)
	atomic.StoreInt64(&overallBest, int64(math.Float64bits(math.Inf(-1))))

	totalK := p.KMax - p.KMin + 1
	doneK := 0

	for k := p.KMin; k <= p.KMax; k++ {
		k := k
		var kResults []domain.PortfolioResult
		var err error

		if k <= p.HeuristicK {
			kResults, err = e.runBruteForce(ctx, u, k, p, &overallBest)
		} else {
			kResults, err = e.runGA(ctx, u, k, p)
		}
		if err != nil {
			return nil, nil, err
		}

		mu.Lock()
		results = append(results, kResults...)
		if k <= p.HeuristicK {
			bruteForce = append(bruteForce, kResults...)
		}
		for _, r := range kResults {
			updateBest(&overallBest, r.Sharpe)
		}
		mu.Unlock()

		prevPct := int(float64(doneK) / float64(totalK) * 100)
		doneK++
		pct := int(float64(doneK) / float64(totalK) * 100)
		if p.ProgressCallback != nil {
			for _, milestone := range []int{25, 50, 75, 100} {
				if prevPct < milestone && pct >= milestone {
					p.ProgressCallback(milestone, 0)
				}
			}
		}
	}

	refined, err := e.refine(ctx, u, bruteForce, p, &overallBest)
	if err != nil {
		return nil, nil, err
	}
	results = append(results, refined...)

	best := bestOf(results)
	return results, best, nil
}

func bestOf(results []domain.PortfolioResult) *domain.PortfolioResult {
	if len(results) == 0 {
		return nil
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Sharpe > best.Sharpe {
			best = r
		}
	}
	return &best
}

func updateBest(overallBest *int64, sharpe float64) {
	for {
		old := atomic.LoadInt64(overallBest)
		oldVal := math.Float64frombits(uint64(old))
		if sharpe <= oldVal {
			return
		}
		newBits := int64(math.Float64bits(sharpe))
		if atomic.CompareAndSwapInt64(overallBest, old, newBits) {
			return
		}
	}
}

func loadBest(overallBest *int64) float64 {
	return math.Float64frombits(uint64(atomic.LoadInt64(overallBest)))
}

// runBruteForce enumerates every k-subset of u.Tickers respecting
// MaxPerSector, and runs the Adaptive Weight Sampler on each.
func (e *Engine) runBruteForce(ctx context.Context, u Universe, k int, p EngineParams, overallBest *int64) ([]domain.PortfolioResult, error) {
	subsets := enumerateSubsets(u.Tickers, u.SectorOf, k, p.MaxPerSector)

	results := make([]domain.PortfolioResult, len(subsets))
	g, ctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}

	idxOf := make(map[string]int, len(u.Tickers))
	for i, t := range u.Tickers {
		idxOf[t] = i
	}

	for i, subset := range subsets {
		i, subset := i, subset
		g.Go(func() error {
			rng := rand.New(rand.NewSource(p.Seed + int64(i) + int64(k)*1_000_003))
			mean, cov := subMatrix(u.Mean, u.Cov, subset, idxOf)
			res := Sample(mean, cov, p.Sampler, rng, loadBest(overallBest))
			results[i] = domain.PortfolioResult{
				RunID:          p.RunID,
				K:              k,
				Stocks:         subset,
				Weights:        res.Weights,
				ExpectedReturn: res.ExpectedReturn,
				Volatility:     res.Volatility,
				Sharpe:         res.Sharpe,
				Source:         "brute_force",
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) runGA(ctx context.Context, u Universe, k int, p EngineParams) ([]domain.PortfolioResult, error) {
	if e.ga == nil {
		return nil, nil
	}
	outcome, err := e.ga.Run(ctx, k, u.Mean, u.Cov, u.Tickers, u.SectorOf, p.MaxPerSector)
	if err != nil {
		return nil, err
	}
	return []domain.PortfolioResult{{
		RunID:          p.RunID,
		K:              k,
		Stocks:         outcome.Stocks,
		Weights:        outcome.Weights,
		ExpectedReturn: outcome.ExpectedReturn,
		Volatility:     outcome.Volatility,
		Sharpe:         outcome.Sharpe,
		Source:         "ga",
	}}, nil
}

// refine re-runs the sampler (fixed SIM_RUNS, no early discard) on the
// top TopNPctRefine fraction (minimum 1) of brute-force-only results,
// sorted by Sharpe descending. GA results are never refined (spec §9).
func (e *Engine) refine(ctx context.Context, u Universe, bruteForce []domain.PortfolioResult, p EngineParams, overallBest *int64) ([]domain.PortfolioResult, error) {
	if len(bruteForce) == 0 {
		return nil, nil
	}
	pool := make([]domain.PortfolioResult, len(bruteForce))
	copy(pool, bruteForce)
	sort.Slice(pool, func(i, j int) bool { return pool[i].Sharpe > pool[j].Sharpe })

	n := int(float64(len(pool)) * p.TopNPctRefine)
	if n < 1 {
		n = 1
	}
	if n > len(pool) {
		n = len(pool)
	}
	top := pool[:n]

	idxOf := make(map[string]int, len(u.Tickers))
	for i, t := range u.Tickers {
		idxOf[t] = i
	}

	refineParams := p.Sampler
	refineParams.Adaptive = false
	refineParams.NoEarlyDiscard = true

	results := make([]domain.PortfolioResult, len(top))
	g, ctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}

	for i, cand := range top {
		i, cand := i, cand
		g.Go(func() error {
			rng := rand.New(rand.NewSource(p.Seed + 7_000_000 + int64(i)))
			mean, cov := subMatrix(u.Mean, u.Cov, cand.Stocks, idxOf)
			res := Sample(mean, cov, refineParams, rng, loadBest(overallBest))
			results[i] = domain.PortfolioResult{
				RunID:          p.RunID,
				K:              cand.K,
				Stocks:         cand.Stocks,
				Weights:        res.Weights,
				ExpectedReturn: res.ExpectedReturn,
				Volatility:     res.Volatility,
				Sharpe:         res.Sharpe,
				Source:         "refinement",
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// enumerateSubsets returns every k-combination of tickers that satisfies
// the per-sector cap.
func enumerateSubsets(tickers []string, sectorOf map[string]string, k, maxPerSector int) [][]string {
	var out [][]string
	n := len(tickers)
	combo := make([]int, k)
	var rec func(start, depth int)
	rec = func(start, depth int) {
		if depth == k {
			subset := make([]string, k)
			sectorCount := make(map[string]int)
			ok := true
			for i, idx := range combo {
				subset[i] = tickers[idx]
				sectorCount[sectorOf[tickers[idx]]]++
				if maxPerSector > 0 && sectorCount[sectorOf[tickers[idx]]] > maxPerSector {
					ok = false
				}
			}
			if ok {
				cp := make([]string, k)
				copy(cp, subset)
				out = append(out, cp)
			}
			return
		}
		for i := start; i < n; i++ {
			combo[depth] = i
			rec(i+1, depth+1)
		}
	}
	rec(0, 0)
	return out
}

func subMatrix(mean []float64, cov *mat.SymDense, subset []string, idxOf map[string]int) ([]float64, *mat.SymDense) {
	n := len(subset)
	subMean := make([]float64, n)
	subCov := mat.NewSymDense(n, nil)
	for i, t := range subset {
		gi := idxOf[t]
		subMean[i] = mean[gi]
		for j, t2 := range subset {
			gj := idxOf[t2]
			subCov.SetSym(i, j, cov.At(gi, gj))
		}
	}
	return subMean, subCov
}

// BuildCovariance computes the annualized covariance matrix from daily
// return series aligned by ticker order.
func BuildCovariance(tickers []string, dailyReturns map[string][]float64) *mat.SymDense {
	n := len(tickers)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := dailyReturns[tickers[i]], dailyReturns[tickers[j]]
			c := covariance(a, b) * 252
			cov.SetSym(i, j, c)
		}
	}
	return cov
}

func covariance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	return stat.Covariance(a[len(a)-n:], b[len(b)-n:], nil)
}
