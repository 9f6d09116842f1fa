package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `transaction_id,portfolio,trade_date,settlement_date,broker_document,ticker,side,quantity,unit_price,gross_value,allocated_fees,total_cost,net_cash_flow,effective_price
1,main,2026-01-05,2026-01-07,doc1,PETR4,BUY,100,30.00,3000.00,5.00,3005.00,-3005.00,30.05
2,main,2026-01-10,2026-01-12,doc2,PETR4,BUY,50,32.00,1600.00,3.00,1603.00,-1603.00,32.06
3,main,2026-01-15,2026-01-17,doc3,PETR4,SELL,120,35.00,4200.00,4.00,4196.00,4196.00,34.97
4,main,2026-01-20,2026-01-22,doc4,VALE3,BUY,10,60.00,600.00,2.00,602.00,-602.00,60.20
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	return path
}

func TestLoadParsesColumnsByHeader(t *testing.T) {
	rows, err := Load(writeSample(t))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "PETR4", rows[0].Ticker)
	assert.Equal(t, "BUY", rows[0].Side)
	assert.Equal(t, 100.0, rows[0].Quantity)
	assert.Equal(t, 30.0, rows[0].Price)
	assert.Equal(t, 5.0, rows[0].Fees)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	rows, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBuildPositionsFIFOConsumesOldestLotsFirst(t *testing.T) {
	rows, err := Load(writeSample(t))
	require.NoError(t, err)

	positions := BuildPositions(rows)

	var found bool
	for _, p := range positions {
		if p.Ticker == "PETR4" {
			found = true
			// 100 @ 30 + 50 @ 32 = 150 bought, 120 sold FIFO:
			// consumes all 100 of lot 1 and 20 of lot 2, leaving 30 @ 32.
			assert.Equal(t, 30.0, p.Quantity)
			require.Len(t, p.Lots, 1)
			assert.Equal(t, 32.0, p.Lots[0].Price)
			assert.Equal(t, 30.0, p.Lots[0].Quantity)
		}
	}
	assert.True(t, found, "expected a remaining PETR4 position")

	for _, p := range positions {
		if p.Ticker == "VALE3" {
			assert.Equal(t, 10.0, p.Quantity)
		}
	}
}
