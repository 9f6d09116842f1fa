package artifacts

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendScoredStocksWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scored.csv")
	w := New(zerolog.Nop())

	rows := []domain.ScoredStock{{RunID: "r1", Ticker: "PETR4", Sector: "Energy", CompositeScore: 0.8}}
	require.NoError(t, w.AppendScoredStocks(path, rows))
	require.NoError(t, w.AppendScoredStocks(path, rows))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	assert.Equal(t, "run_id", records[0][0])
	assert.Len(t, records, 3) // header + 2 appended rows
}

func TestPruneScoredRunsKeepsOnlyMostRecentRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scored.csv")
	w := New(zerolog.Nop())

	for _, run := range []string{"r1", "r2", "r3"} {
		require.NoError(t, w.AppendScoredStocks(path, []domain.ScoredStock{{RunID: run, Ticker: "X"}}))
	}

	require.NoError(t, w.PruneScoredRuns(path, 2))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	var runs []string
	for _, r := range records[1:] {
		runs = append(runs, r[0])
	}
	assert.ElementsMatch(t, []string{"r2", "r3"}, runs)
}

func TestWriteAndReadCorrelationCacheRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corr.msgpack")
	w := New(zerolog.Nop())

	tickers := []string{"AAAA4", "BBBB3"}
	matrix := [][]float64{{1, 0.5}, {0.5, 1}}
	require.NoError(t, w.WriteCorrelationCache(path, tickers, matrix))

	gotTickers, gotMatrix, err := ReadCorrelationCache(path)
	require.NoError(t, err)
	assert.Equal(t, tickers, gotTickers)
	assert.Equal(t, matrix, gotMatrix)
}

func TestWriteProgressIsReadableJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")
	w := New(zerolog.Nop())

	require.NoError(t, w.WriteProgress(path, ProgressUpdate{RunID: "r1", Stage: "scoring", PercentDone: 50, EtaSeconds: 12.5, Status: "running"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"stage": "scoring"`)
}

func TestWriteRunSummaryAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest_run_summary.json")
	w := New(zerolog.Nop())

	summary := domain.LatestRunSummary{RunID: "r1", Date: time.Now().Format("2006-01-02"), K: 5, Stocks: []string{"A", "B"}}
	require.NoError(t, w.WriteRunSummary(path, summary))

	_, err := os.Stat(path)
	require.NoError(t, err)
}
