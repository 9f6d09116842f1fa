package optimize

import (
	"testing"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldWhenIdealEqualsHoldings(t *testing.T) {
	o := New(zerolog.Nop())

	holdings := HoldingsInput{
		Positions:     []domain.Position{{Ticker: "PETR4", Quantity: 100}},
		CurrentPrices: map[string]float64{"PETR4": 10},
		TargetPrices:  map[string]float64{"PETR4": 11},
		Momentum12mo:  map[string]float64{"PETR4": 0.05},
	}
	ideal := IdealInput{
		Weights:        map[string]float64{"PETR4": 1.0},
		ExpectedReturn: 0.10,
		Sharpe:         0.8,
		Momentum:       0.05,
	}

	p := Params{
		RunID:                    "run1",
		CandidateSteps:           10,
		MinExcessReturnThreshold: 0.02,
		CostModel:                CostFixed,
		FixedCostPct:             0.5,
		WeightReturn:             0.6,
		WeightSharpe:             0.3,
		WeightMomentum:           0.1,
	}

	rec := o.Run(holdings, 0.2, ideal, 1000, p)
	assert.Equal(t, "HOLD", rec.Decision)
	assert.Empty(t, rec.Transactions)
}

func TestRebalanceWhenExcessExceedsThreshold(t *testing.T) {
	o := New(zerolog.Nop())

	holdings := HoldingsInput{
		Positions:     []domain.Position{{Ticker: "OLD4", Quantity: 100}},
		CurrentPrices: map[string]float64{"OLD4": 10, "NEW4": 20},
		TargetPrices:  map[string]float64{"OLD4": 10, "NEW4": 40},
		Momentum12mo:  map[string]float64{"OLD4": 0.0, "NEW4": 0.3},
	}
	ideal := IdealInput{
		Weights:        map[string]float64{"NEW4": 1.0},
		ExpectedReturn: 1.0,
		Sharpe:         2.0,
		Momentum:       0.3,
	}

	p := Params{
		RunID:                    "run2",
		CandidateSteps:           10,
		MinExcessReturnThreshold: 0.02,
		CostModel:                CostFixed,
		FixedCostPct:             0.1,
		WeightReturn:             0.6,
		WeightSharpe:             0.3,
		WeightMomentum:           0.1,
	}

	rec := o.Run(holdings, 0.2, ideal, 1000, p)
	require.Equal(t, "REBALANCE", rec.Decision)
	assert.NotEmpty(t, rec.Transactions)
}

func TestDynamicCostPctFromLedger(t *testing.T) {
	o := New(zerolog.Nop())
	rows := []domain.LedgerRow{
		{Ticker: "A", Quantity: 10, Price: 100, Fees: 5},
		{Ticker: "B", Quantity: 10, Price: 100, Fees: 5},
	}
	pct := o.costPct(rows, Params{CostModel: CostDynamic})
	assert.InDelta(t, 0.005, pct, 1e-9) // fees 10 / gross 2000
}
