package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunFlatSeriesZeroDrawdown(t *testing.T) {
	closes := [][]float64{{10, 10, 10, 10}}
	res := Run(closes, []float64{1.0}, 1000, 0, 1)
	assert.Equal(t, 0.0, res.MaxDrawdown)
	assert.InDelta(t, 0.0, res.CAGR, 1e-9)
}

func TestRunDrawdownDetected(t *testing.T) {
	closes := [][]float64{{10, 5, 10}}
	res := Run(closes, []float64{1.0}, 1000, 0, 1)
	assert.InDelta(t, -0.5, res.MaxDrawdown, 1e-9)
}

func TestRunDoublingGivesPositiveCAGR(t *testing.T) {
	closes := [][]float64{{10, 20}}
	res := Run(closes, []float64{1.0}, 1000, 0, 1)
	assert.InDelta(t, 1.0, res.CAGR, 1e-9)
}
