package masterdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(stock, date string, close float64) domain.PriceBar {
	d, _ := time.Parse("2006-01-02", date)
	return domain.PriceBar{Date: d, Close: close, Stock: stock}
}

func TestMergeDedupeKeepsLater(t *testing.T) {
	dir := t.TempDir()
	db := New(filepath.Join(dir, "findb.csv"), zerolog.Nop())

	require.NoError(t, db.Merge([]domain.PriceBar{bar("PETR4", "2026-01-05", 10.0)}))
	require.NoError(t, db.Merge([]domain.PriceBar{bar("PETR4", "2026-01-05", 11.5)}))

	bars, err := db.Load()
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 11.5, bars[0].Close)
}

func TestMergeSortsByStockThenDate(t *testing.T) {
	dir := t.TempDir()
	db := New(filepath.Join(dir, "findb.csv"), zerolog.Nop())

	require.NoError(t, db.Merge([]domain.PriceBar{
		bar("VALE3", "2026-01-02", 70),
		bar("PETR4", "2026-01-03", 30),
		bar("PETR4", "2026-01-02", 29),
	}))

	bars, err := db.Load()
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, "PETR4", bars[0].Stock)
	assert.Equal(t, "PETR4", bars[1].Stock)
	assert.Equal(t, "VALE3", bars[2].Stock)
	assert.True(t, bars[0].Date.Before(bars[1].Date))
}

func TestMergeRejectsNegativeClose(t *testing.T) {
	dir := t.TempDir()
	db := New(filepath.Join(dir, "findb.csv"), zerolog.Nop())
	err := db.Merge([]domain.PriceBar{bar("XYZ4", "2026-01-02", -1)})
	require.Error(t, err)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	db := New(filepath.Join(dir, "missing.csv"), zerolog.Nop())
	bars, err := db.Load()
	require.NoError(t, err)
	assert.Empty(t, bars)
}
