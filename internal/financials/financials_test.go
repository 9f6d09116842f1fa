package financials

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(ticker, date string, forwardPE float64) domain.Financials {
	d, _ := time.Parse("2006-01-02", date)
	return domain.Financials{Ticker: ticker, ForwardPE: forwardPE, FetchDate: d}
}

func TestMergeDedupeKeepsLatestPerTickerAndDate(t *testing.T) {
	dir := t.TempDir()
	db := New(filepath.Join(dir, "financials.csv"), zerolog.Nop())

	require.NoError(t, db.Merge([]domain.Financials{snapshot("PETR4", "2026-01-05", 8)}))
	require.NoError(t, db.Merge([]domain.Financials{snapshot("PETR4", "2026-01-05", 9.5)}))

	rows, err := db.Load()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 9.5, rows[0].ForwardPE)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	db := New(filepath.Join(t.TempDir(), "missing.csv"), zerolog.Nop())
	rows, err := db.Load()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLatestPicksMostRecentFetchDatePerTicker(t *testing.T) {
	rows := []domain.Financials{
		snapshot("PETR4", "2026-01-01", 8),
		snapshot("PETR4", "2026-01-10", 9),
		snapshot("VALE3", "2026-01-05", 12),
	}
	latest := Latest(rows)
	require.Len(t, latest, 2)
	assert.Equal(t, 9.0, latest["PETR4"].ForwardPE)
	assert.Equal(t, 12.0, latest["VALE3"].ForwardPE)
}
