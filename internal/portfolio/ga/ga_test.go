package ga

import (
	"context"
	"testing"

	"github.com/gabrielcampos/portfolioesg/internal/portfolio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func buildUniverse(n int) ([]string, []float64, *mat.SymDense, map[string]string) {
	tickers := make([]string, n)
	mean := make([]float64, n)
	sectorOf := make(map[string]string, n)
	for i := range tickers {
		tickers[i] = string(rune('A' + i))
		mean[i] = 0.05 + 0.01*float64(i%5)
		sectorOf[tickers[i]] = string(rune('a' + i%3))
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.0
			if i == j {
				v = 0.04
			}
			cov.SetSym(i, j, v)
		}
	}
	return tickers, mean, cov, sectorOf
}

func TestGASharpeHistoryMonotoneNonDecreasing(t *testing.T) {
	tickers, mean, cov, sectorOf := buildUniverse(12)
	p := Params{
		PopulationSize:    10,
		Generations:       8,
		MutationRate:      0.3,
		CrossoverRate:     0.7,
		Elitism:           2,
		TournamentSize:    3,
		ConvergenceWindow: 100, // effectively disable early stop for this test
		ConvergenceDelta:  0,
		MaxAttemptsMult:   50,
		Workers:           2,
		Seed:              42,
		Sampler: portfolio.SamplerParams{
			Adaptive: false,
			SimRuns:  20,
		},
	}
	g := New(p, zerolog.Nop())

	res, err := g.Run(context.Background(), 5, mean, cov, tickers, sectorOf, 0)
	require.NoError(t, err)
	require.Len(t, res.Stocks, 5)
	require.NotEmpty(t, res.SharpeHistory)

	for i := 1; i < len(res.SharpeHistory); i++ {
		assert.GreaterOrEqual(t, res.SharpeHistory[i], res.SharpeHistory[i-1])
	}
}

func TestGARespectsSectorCap(t *testing.T) {
	tickers, mean, cov, sectorOf := buildUniverse(9)
	p := Params{
		PopulationSize:    15,
		Generations:       5,
		MutationRate:      0.2,
		CrossoverRate:     0.6,
		Elitism:           1,
		TournamentSize:    3,
		ConvergenceWindow: 50,
		ConvergenceDelta:  0,
		MaxAttemptsMult:   100,
		Workers:           1,
		Seed:              7,
		Sampler: portfolio.SamplerParams{
			Adaptive: false,
			SimRuns:  10,
		},
	}
	g := New(p, zerolog.Nop())
	res, err := g.Run(context.Background(), 6, mean, cov, tickers, sectorOf, 2)
	require.NoError(t, err)

	count := map[string]int{}
	for _, s := range res.Stocks {
		count[sectorOf[s]]++
	}
	for _, c := range count {
		assert.LessOrEqual(t, c, 2)
	}
}
