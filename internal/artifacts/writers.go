// Package artifacts writes every append-only CSV and JSON output the
// pipeline produces: scored stocks, sector P/E, portfolio results,
// correlation matrices, run summaries, optimizer recommendations, and
// progress files.
package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/gabrielcampos/portfolioesg/internal/storage"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// correlationCache is the msgpack sidecar for WriteCorrelationMatrix,
// letting downstream tooling load the matrix without a CSV re-parse.
type correlationCache struct {
	Tickers []string    `msgpack:"tickers"`
	Matrix  [][]float64 `msgpack:"matrix"`
}

// Writer bundles every artifact-writing operation behind one injectable
// component, the way the pipeline's other stages take a zerolog.Logger.
type Writer struct {
	log zerolog.Logger
}

// New returns a Writer.
func New(log zerolog.Logger) *Writer {
	return &Writer{log: log.With().Str("component", "artifacts").Logger()}
}

// AppendScoredStocks appends rows to the scored-stocks database CSV,
// writing a header if the file doesn't exist yet.
func (w *Writer) AppendScoredStocks(path string, rows []domain.ScoredStock) error {
	header := []string{"run_id", "ticker", "sector", "industry", "ann_mean", "ann_std", "sharpe", "momentum",
		"upside_potential", "sharpe_norm", "upside_norm", "momentum_norm", "weight_sharpe", "weight_upside",
		"weight_momentum", "composite_score", "regime", "risk_profile", "current_price", "target_mean_price",
		"forward_pe", "forward_eps", "dividend_yield", "sector_median_pe", "target_price", "target_price_source"}

	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.RunID, r.Ticker, r.Sector, r.Industry,
			f(r.AnnMean), f(r.AnnStd), f(r.Sharpe), f(r.Momentum),
			f(r.UpsidePotential), f(r.SharpeNorm), f(r.UpsideNorm), f(r.MomentumNorm),
			f(r.WeightSharpe), f(r.WeightUpside), f(r.WeightMomentum), f(r.CompositeScore),
			r.Regime, r.RiskProfile, f(r.CurrentPrice), f(r.TargetMeanPrice), f(r.ForwardPE), f(r.ForwardEPS),
			f(r.DividendYield), f(r.SectorMedianPE), f(r.TargetPrice), r.TargetPriceSource,
		})
	}
	return appendCSV(path, header, records)
}

// AppendSectorPE appends rows to the sector-P/E database CSV.
func (w *Writer) AppendSectorPE(path string, rows []domain.SectorPE) error {
	header := []string{"run_id", "sector", "median_forward_pe", "count"}
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{r.RunID, r.Sector, f(r.Median), strconv.Itoa(r.Count)})
	}
	return appendCSV(path, header, records)
}

// AppendPortfolioResults appends rows to the portfolio-results database CSV.
func (w *Writer) AppendPortfolioResults(path string, rows []domain.PortfolioResult) error {
	header := []string{"run_id", "k", "stocks", "weights", "expected_return", "volatility", "sharpe", "source"}
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.RunID, strconv.Itoa(r.K), joinStocks(r.Stocks), joinWeights(r.Weights),
			f(r.ExpectedReturn), f(r.Volatility), f(r.Sharpe), r.Source,
		})
	}
	return appendCSV(path, header, records)
}

// WriteCorrelationMatrix writes a dense correlation matrix as CSV, with
// ticker labels on the header row and the first column.
func (w *Writer) WriteCorrelationMatrix(path string, tickers []string, matrix [][]float64) error {
	header := append([]string{""}, tickers...)
	records := make([][]string, 0, len(tickers))
	for i, t := range tickers {
		row := make([]string, 0, len(tickers)+1)
		row = append(row, t)
		for j := range tickers {
			row = append(row, f(matrix[i][j]))
		}
		records = append(records, row)
	}
	return writeCSV(path, header, records)
}

// WriteCorrelationCache writes a msgpack-encoded sidecar next to the CSV
// correlation matrix, avoiding a CSV re-parse for callers that only need
// the matrix back in memory (e.g. a resumed optimization run).
func (w *Writer) WriteCorrelationCache(path string, tickers []string, matrix [][]float64) error {
	b, err := msgpack.Marshal(correlationCache{Tickers: tickers, Matrix: matrix})
	if err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, b, 0o644)
}

// ReadCorrelationCache loads a sidecar written by WriteCorrelationCache.
func ReadCorrelationCache(path string) ([]string, [][]float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var c correlationCache
	if err := msgpack.Unmarshal(b, &c); err != nil {
		return nil, nil, err
	}
	return c.Tickers, c.Matrix, nil
}

// WriteRunSummary atomically writes latest_run_summary.json.
func (w *Writer) WriteRunSummary(path string, summary domain.LatestRunSummary) error {
	b, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, b, 0o644)
}

// ReadRunSummary loads latest_run_summary.json, the winning portfolio of
// the most recent portfolio-search run.
func ReadRunSummary(path string) (domain.LatestRunSummary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.LatestRunSummary{}, err
	}
	var s domain.LatestRunSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.LatestRunSummary{}, err
	}
	return s, nil
}

// WriteRecommendation atomically writes optimized_recommendation.json.
func (w *Writer) WriteRecommendation(path string, rec domain.OptimizationRecommendation) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, b, 0o644)
}

// AppendOptimizedPortfolioHistory appends one row per optimizer run to
// optimized_portfolio_history.csv, for tracking decisions over time.
func (w *Writer) AppendOptimizedPortfolioHistory(path string, rec domain.OptimizationRecommendation) error {
	header := []string{"run_id", "date", "decision", "blend_ratio", "transition_cost_pct", "net_return", "excess_return"}
	record := []string{rec.RunID, rec.Date, rec.Decision, f(rec.BlendRatio), f(rec.TransitionCostPct), f(rec.NetReturn), f(rec.ExcessReturn)}
	return appendCSV(path, header, [][]string{record})
}

// ProgressUpdate is the JSON shape written during a long-running stage,
// locked against concurrent writers via storage.DirLock.
type ProgressUpdate struct {
	RunID        string  `json:"run_id"`
	Stage        string  `json:"stage"`
	PercentDone  int     `json:"percent_done"`
	EtaSeconds   float64 `json:"eta_seconds"`
	Status       string  `json:"status"`
}

// AppendBacktestMetrics appends one row of summary risk/return metrics
// to the backtest metrics history CSV.
func (w *Writer) AppendBacktestMetrics(path, runID string, cagr, annualizedVol, sharpe, maxDrawdown float64) error {
	header := []string{"run_id", "cagr", "annualized_vol", "sharpe", "max_drawdown"}
	record := []string{runID, f(cagr), f(annualizedVol), f(sharpe), f(maxDrawdown)}
	return appendCSV(path, header, [][]string{record})
}

// WriteEquityCurve writes the per-day portfolio-vs-benchmark equity
// curve for one backtest run.
func (w *Writer) WriteEquityCurve(path, runID string, dates []time.Time, portfolio, benchmark []float64) error {
	header := []string{"Date", "Portfolio", "Benchmark", "run_id"}
	records := make([][]string, 0, len(dates))
	for i, d := range dates {
		records = append(records, []string{d.Format("2006-01-02"), f(portfolio[i]), f(benchmark[i]), runID})
	}
	return writeCSV(path, header, records)
}

// WriteProgress atomically writes a progress JSON, guarded by an
// exclusive directory lock so concurrent stage workers never interleave
// partial writes.
func (w *Writer) WriteProgress(path string, p ProgressUpdate) error {
	lock := storage.NewDirLock(path)
	if err := lock.Acquire(5 * time.Second); err != nil {
		return err
	}
	defer lock.Release()

	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, b, 0o644)
}

// WriteRunManifest snapshots the resolved parameter set for a run,
// supplementing the pipeline's append-only artifacts with a record of
// what configuration actually produced them.
func (w *Writer) WriteRunManifest(path, runID string, params map[string]string) error {
	manifest := struct {
		RunID  string            `json:"run_id"`
		Params map[string]string `json:"params"`
	}{RunID: runID, Params: params}
	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, b, 0o644)
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinStocks(stocks []string) string {
	out := ""
	for i, s := range stocks {
		if i > 0 {
			out += "|"
		}
		out += s
	}
	return out
}

func joinWeights(weights []float64) string {
	out := ""
	for i, w := range weights {
		if i > 0 {
			out += "|"
		}
		out += f(w)
	}
	return out
}

func appendCSV(path string, header []string, records [][]string) error {
	_, err := os.Stat(path)
	needsHeader := os.IsNotExist(err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeCSV(path string, header []string, records [][]string) error {
	var buf fileBuffer
	w := csv.NewWriter(&buf)
	all := append([][]string{header}, records...)
	if err := w.WriteAll(all); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, buf.Bytes(), 0o644)
}

type fileBuffer struct{ data []byte }

func (b *fileBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
func (b *fileBuffer) Bytes() []byte { return b.data }

// PruneScoredRuns removes every row from the scored-stocks CSV belonging
// to a run_id older than the most recent keepRuns distinct run ids, a
// retention sweep supplementing the append-only database with the kind
// of periodic cleanup the original cleanup_scored_runs.py performed.
func (w *Writer) PruneScoredRuns(path string, keepRuns int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	f.Close()
	if err != nil {
		return err
	}
	if len(rows) < 2 {
		return nil
	}

	header := rows[0]
	body := rows[1:]

	var runOrder []string
	seen := map[string]bool{}
	for _, row := range body {
		runID := row[0]
		if !seen[runID] {
			seen[runID] = true
			runOrder = append(runOrder, runID)
		}
	}
	if len(runOrder) <= keepRuns {
		return nil
	}
	keep := map[string]bool{}
	for _, id := range runOrder[len(runOrder)-keepRuns:] {
		keep[id] = true
	}

	var kept [][]string
	for _, row := range body {
		if keep[row[0]] {
			kept = append(kept, row)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i][0] < kept[j][0] })

	return writeCSV(path, header, kept)
}
