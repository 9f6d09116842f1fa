package scoring

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		out[i] = v
		v += step
	}
	return out
}

func TestScorePersistFilterDropsNonPositiveUpside(t *testing.T) {
	s := New(zerolog.Nop())
	inputs := []StockInput{
		{
			Ticker:          "GOOD4",
			Sector:          "Financials",
			Closes:          risingCloses(300, 10, 0.05),
			ForwardPE:       8,
			ForwardEPS:      1,
			TargetMeanPrice: 20,
			CurrentPrice:    10,
		},
		{
			Ticker:          "BAD4",
			Sector:          "Financials",
			Closes:          risingCloses(300, 10, 0.05),
			ForwardPE:       8,
			ForwardEPS:      1,
			TargetMeanPrice: 5, // below current price -> negative upside
			CurrentPrice:    10,
		},
	}
	p := Params{MomentumDays: 126, WeightMode: WeightStatic, StaticWeights: Weights{1.0 / 3, 1.0 / 3, 1.0 / 3}}

	scored, _, _, _ := s.Score(inputs, p)
	require.Len(t, scored, 1)
	assert.Equal(t, "GOOD4", scored[0].Ticker)
}

func TestWeightsSumToOne(t *testing.T) {
	w := Weights{Sharpe: 2, Upside: 2, Momentum: 4}.Normalize()
	require.NoError(t, ValidateWeights(w, 1e-9))
}

func TestMinMaxNormalizeFlatInputReturnsHalf(t *testing.T) {
	out := minMaxNormalize([]float64{5, 5, 5})
	for _, v := range out {
		assert.Equal(t, 0.5, v)
	}
}

func TestUpsidePotentialClamped(t *testing.T) {
	in := StockInput{CurrentPrice: 1, TargetMeanPrice: 100}
	upside, targetPrice, source := upsidePotential(in, 0)
	assert.Equal(t, 10.0, upside)
	assert.Equal(t, 100.0, targetPrice)
	assert.Equal(t, "provider-target", source)
}

func TestUpsidePotentialSectorFallback(t *testing.T) {
	in := StockInput{CurrentPrice: 10, ForwardPE: 8}
	upside, targetPrice, source := upsidePotential(in, 12)
	assert.InDelta(t, 0.5, upside, 1e-9) // 12/8 - 1
	assert.InDelta(t, 15, targetPrice, 1e-9)
	assert.Equal(t, "sector-pe-fallback", source)
}

func TestBlendWithProfileAndRegimeRenormalizes(t *testing.T) {
	base := Weights{1.0 / 3, 1.0 / 3, 1.0 / 3}
	p := Params{
		ProfileStrength:   0.8,
		RegimeStrength:    1.2,
		ProfileTendency:   Weights{0.6, 0.3, 0.1},
		ProfileMultiplier: Weights{1, 1, 1},
	}
	blended := blendWithProfileAndRegime(base, p)
	require.NoError(t, ValidateWeights(blended, 1e-9))
}
