package regime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func trending(n int, dailyRet float64, start float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		out[i] = v
		v *= 1 + dailyRet
	}
	return out
}

func TestClassifyStrongBull(t *testing.T) {
	d := New(DefaultThresholds(), zerolog.Nop())
	closes := trending(120, 0.003, 100) // ~ +75%/yr annualized trend
	res := d.Classify(closes, 60)
	assert.Equal(t, StrongBull, res.Regime)
	assert.Equal(t, 1.5, res.Strength)
}

func TestClassifyStrongBear(t *testing.T) {
	d := New(DefaultThresholds(), zerolog.Nop())
	closes := trending(120, -0.003, 100)
	res := d.Classify(closes, 60)
	assert.Equal(t, StrongBear, res.Regime)
}

func TestClassifyNeutralOnShortHistory(t *testing.T) {
	d := New(DefaultThresholds(), zerolog.Nop())
	res := d.Classify([]float64{100, 101, 102}, 60)
	assert.Equal(t, Neutral, res.Regime)
}

func TestSelectBenchmarkPrefersIndexTicker(t *testing.T) {
	closes := map[string][]float64{
		"PETR4":    {1, 2, 3},
		"^BVSP":    {10, 20, 30},
		"VALE3":    {5, 6, 7},
	}
	got := SelectBenchmark([]string{"PETR4", "^BVSP", "VALE3"}, closes)
	assert.Equal(t, []float64{10, 20, 30}, got)
}

func TestSelectBenchmarkFallsBackToCrossSectionalMean(t *testing.T) {
	closes := map[string][]float64{
		"PETR4": {2, 4},
		"VALE3": {4, 8},
	}
	got := SelectBenchmark([]string{"PETR4", "VALE3"}, closes)
	assert.Equal(t, []float64{3, 6}, got)
}
