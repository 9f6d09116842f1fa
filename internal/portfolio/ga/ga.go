// Package ga implements the genetic algorithm used for k-stock subset
// search when k exceeds the exact-enumeration threshold: tournament
// selection, single-point crossover with repair, single-gene mutation,
// elitism, and best-so-far-range convergence.
package ga

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/gabrielcampos/portfolioesg/internal/portfolio"
)

// Params controls the genetic algorithm.
type Params struct {
	PopulationSize      int     // P
	Generations         int     // G
	MutationRate        float64 // p_m
	CrossoverRate       float64 // p_c
	Elitism             int     // E
	TournamentSize      int     // T
	ConvergenceWindow   int     // G_conv
	ConvergenceDelta    float64 // eps_conv
	MaxAttemptsMult     int     // cap on unique-population collection attempts, P * MaxAttemptsMult
	Workers             int
	Seed                int64
	Sampler             portfolio.SamplerParams
}

// Result is the GA's output for one k.
type Result struct {
	Stocks         []string
	Weights        []float64
	Sharpe         float64
	ExpectedReturn float64
	Volatility     float64
	SharpeHistory  []float64 // per-generation best-so-far, monotone non-decreasing
}

// GA runs the genetic algorithm search.
type GA struct {
	params Params
	log    zerolog.Logger
}

// New returns a GA.
func New(p Params, log zerolog.Logger) *GA {
	return &GA{params: p, log: log.With().Str("component", "ga").Logger()}
}

type individual struct {
	subset  []int // indices into the universe
	weights []float64
	exp     float64
	vol     float64
	sharpe  float64
}

// Run executes the GA for a single k against the given universe.
func (g *GA) Run(ctx context.Context, k int, mean []float64, cov *mat.SymDense, tickers []string, sectorOf map[string]string, maxPerSector int) (Result, error) {
	n := len(tickers)
	rng := rand.New(rand.NewSource(g.params.Seed + int64(k)*99_991))

	pop, err := g.initialPopulation(n, k, sectorOf, tickers, maxPerSector, rng)
	if err != nil {
		return Result{}, err
	}

	if err := g.evaluate(ctx, pop, mean, cov, rng); err != nil {
		return Result{}, err
	}

	history := make([]float64, 0, g.params.Generations)
	bestSoFar := bestOf(pop)
	history = append(history, bestSoFar.sharpe)

	for gen := 1; gen < g.params.Generations; gen++ {
		next := g.nextGeneration(pop, n, sectorOf, tickers, maxPerSector, rng)
		if err := g.evaluate(ctx, next, mean, cov, rng); err != nil {
			return Result{}, err
		}
		pop = next

		genBest := bestOf(pop)
		if genBest.sharpe > bestSoFar.sharpe {
			bestSoFar = genBest
		}
		history = append(history, bestSoFar.sharpe)

		if converged(history, g.params.ConvergenceWindow, g.params.ConvergenceDelta) {
			break
		}
	}

	stocks := make([]string, k)
	for i, idx := range bestSoFar.subset {
		stocks[i] = tickers[idx]
	}

	return Result{
		Stocks:         stocks,
		Weights:        bestSoFar.weights,
		Sharpe:         bestSoFar.sharpe,
		ExpectedReturn: bestSoFar.exp,
		Volatility:     bestSoFar.vol,
		SharpeHistory:  history,
	}, nil
}

func converged(history []float64, window int, delta float64) bool {
	if len(history) < window {
		return false
	}
	recent := history[len(history)-window:]
	min, max := recent[0], recent[0]
	for _, v := range recent {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max-min < delta
}

func bestOf(pop []individual) individual {
	best := pop[0]
	for _, ind := range pop[1:] {
		if ind.sharpe > best.sharpe {
			best = ind
		}
	}
	return best
}

// initialPopulation draws unique k-subsets (respecting the per-sector
// cap) until PopulationSize are collected or P*MaxAttemptsMult tries are
// exhausted, in which case the partial population is used as-is.
func (g *GA) initialPopulation(n, k int, sectorOf map[string]string, tickers []string, maxPerSector int, rng *rand.Rand) ([]individual, error) {
	seen := make(map[string]bool)
	var pop []individual
	maxAttempts := g.params.PopulationSize * g.params.MaxAttemptsMult
	if maxAttempts <= 0 {
		maxAttempts = g.params.PopulationSize * 20
	}

	for attempt := 0; attempt < maxAttempts && len(pop) < g.params.PopulationSize; attempt++ {
		subset := randomSubset(n, k, rng)
		if !respectsSectorCap(subset, tickers, sectorOf, maxPerSector) {
			continue
		}
		key := subsetKey(subset)
		if seen[key] {
			continue
		}
		seen[key] = true
		pop = append(pop, individual{subset: subset})
	}
	return pop, nil
}

func randomSubset(n, k int, rng *rand.Rand) []int {
	perm := rng.Perm(n)
	subset := append([]int{}, perm[:k]...)
	return subset
}

func respectsSectorCap(subset []int, tickers []string, sectorOf map[string]string, maxPerSector int) bool {
	if maxPerSector <= 0 {
		return true
	}
	count := make(map[string]int)
	for _, idx := range subset {
		s := sectorOf[tickers[idx]]
		count[s]++
		if count[s] > maxPerSector {
			return false
		}
	}
	return true
}

func subsetKey(subset []int) string {
	sorted := append([]int{}, subset...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	key := make([]byte, 0, len(sorted)*5)
	for _, v := range sorted {
		key = append(key, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), ',')
	}
	return string(key)
}

func (g *GA) evaluate(ctx context.Context, pop []individual, mean []float64, cov *mat.SymDense, rng *rand.Rand) error {
	eg, _ := errgroup.WithContext(ctx)
	if g.params.Workers > 0 {
		eg.SetLimit(g.params.Workers)
	}
	for i := range pop {
		i := i
		seed := rng.Int63()
		eg.Go(func() error {
			subMean, subCov := subMatrix(mean, cov, pop[i].subset)
			localRng := rand.New(rand.NewSource(seed))
			res := portfolio.Sample(subMean, subCov, g.params.Sampler, localRng, -1)
			pop[i].weights = res.Weights
			pop[i].exp = res.ExpectedReturn
			pop[i].vol = res.Volatility
			pop[i].sharpe = res.Sharpe
			return nil
		})
	}
	return eg.Wait()
}

func subMatrix(mean []float64, cov *mat.SymDense, subset []int) ([]float64, *mat.SymDense) {
	k := len(subset)
	subMean := make([]float64, k)
	subCov := mat.NewSymDense(k, nil)
	for i, gi := range subset {
		subMean[i] = mean[gi]
		for j, gj := range subset {
			subCov.SetSym(i, j, cov.At(gi, gj))
		}
	}
	return subMean, subCov
}

// nextGeneration builds the next population via elitism + tournament
// selection + crossover + mutation.
func (g *GA) nextGeneration(pop []individual, n int, sectorOf map[string]string, tickers []string, maxPerSector int, rng *rand.Rand) []individual {
	sorted := append([]individual{}, pop...)
	sortBySharpeDesc(sorted)

	next := make([]individual, 0, len(pop))
	elitism := g.params.Elitism
	if elitism > len(sorted) {
		elitism = len(sorted)
	}
	next = append(next, sorted[:elitism]...)

	k := len(pop[0].subset)
	for len(next) < len(pop) {
		parentA := tournamentSelect(pop, g.params.TournamentSize, rng)
		parentB := tournamentSelect(pop, g.params.TournamentSize, rng)

		child := parentA.subset
		if rng.Float64() < g.params.CrossoverRate {
			child = crossoverWithRepair(parentA.subset, parentB.subset, n, k, rng)
		} else {
			child = append([]int{}, child...)
		}

		if rng.Float64() < g.params.MutationRate {
			child = mutate(child, n, rng)
		}

		if !respectsSectorCap(child, tickers, sectorOf, maxPerSector) {
			child = parentA.subset // fall back to a known-valid parent
		}

		next = append(next, individual{subset: child})
	}
	return next
}

func sortBySharpeDesc(pop []individual) {
	for i := 1; i < len(pop); i++ {
		for j := i; j > 0 && pop[j-1].sharpe < pop[j].sharpe; j-- {
			pop[j-1], pop[j] = pop[j], pop[j-1]
		}
	}
}

func tournamentSelect(pop []individual, size int, rng *rand.Rand) individual {
	if size > len(pop) {
		size = len(pop)
	}
	best := pop[rng.Intn(len(pop))]
	for i := 1; i < size; i++ {
		cand := pop[rng.Intn(len(pop))]
		if cand.sharpe > best.sharpe {
			best = cand
		}
	}
	return best
}

// crossoverWithRepair splits both parents at k/2, unions the two halves,
// deduplicates, and pads with random universe members not already present
// until the child has exactly k genes.
func crossoverWithRepair(a, b []int, n, k int, rng *rand.Rand) []int {
	split := k / 2
	set := make(map[int]bool)
	var child []int
	for _, idx := range a[:min(split, len(a))] {
		if !set[idx] {
			set[idx] = true
			child = append(child, idx)
		}
	}
	for _, idx := range b[min(split, len(b)):] {
		if len(child) >= k {
			break
		}
		if !set[idx] {
			set[idx] = true
			child = append(child, idx)
		}
	}
	for len(child) < k {
		cand := rng.Intn(n)
		if !set[cand] {
			set[cand] = true
			child = append(child, cand)
		}
	}
	return child[:k]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// mutate swaps one gene for a random universe member not already present.
func mutate(subset []int, n int, rng *rand.Rand) []int {
	child := append([]int{}, subset...)
	present := make(map[int]bool, len(child))
	for _, idx := range child {
		present[idx] = true
	}
	pos := rng.Intn(len(child))
	for attempts := 0; attempts < n*2; attempts++ {
		cand := rng.Intn(n)
		if !present[cand] {
			delete(present, child[pos])
			child[pos] = cand
			present[cand] = true
			break
		}
	}
	return child
}
