// Command portfolioctl drives the B3 portfolio pipeline: incremental
// price download, composite scoring, k-stock portfolio search,
// backtesting, and holdings reconciliation.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/artifacts"
	"github.com/gabrielcampos/portfolioesg/internal/backtest"
	"github.com/gabrielcampos/portfolioesg/internal/calendar"
	"github.com/gabrielcampos/portfolioesg/internal/checkpoint"
	"github.com/gabrielcampos/portfolioesg/internal/config"
	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/gabrielcampos/portfolioesg/internal/download"
	"github.com/gabrielcampos/portfolioesg/internal/financials"
	"github.com/gabrielcampos/portfolioesg/internal/ledger"
	"github.com/gabrielcampos/portfolioesg/internal/logging"
	"github.com/gabrielcampos/portfolioesg/internal/marketdata"
	"github.com/gabrielcampos/portfolioesg/internal/masterdb"
	"github.com/gabrielcampos/portfolioesg/internal/optimize"
	"github.com/gabrielcampos/portfolioesg/internal/portfolio"
	"github.com/gabrielcampos/portfolioesg/internal/portfolio/ga"
	"github.com/gabrielcampos/portfolioesg/internal/regime"
	"github.com/gabrielcampos/portfolioesg/internal/scoring"
	"github.com/gabrielcampos/portfolioesg/internal/skipstore"
	"github.com/gabrielcampos/portfolioesg/internal/statusserver"
	"github.com/gabrielcampos/portfolioesg/internal/tickers"
	"github.com/gabrielcampos/portfolioesg/pkg/workerpool"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: portfolioctl <download|score|portfolio|backtest|optimize|runner|status> [flags]")
		os.Exit(2)
	}

	repoRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "getwd:", err)
		os.Exit(1)
	}

	store := config.New(zerolog.Nop())
	if err := store.LoadFiles(repoRoot, "parameters/default.properties", "parameters/local.properties"); err != nil {
		fmt.Fprintln(os.Stderr, "load params:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:  store.StringOr("LOG_LEVEL", "info"),
		Pretty: store.BoolOr("LOG_PRETTY", true),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &app{store: store, log: log, repoRoot: repoRoot}

	var cmdErr error
	switch os.Args[1] {
	case "download":
		fs := flag.NewFlagSet("download", flag.ContinueOnError)
		enrich := fs.Bool("enrich", false, "backfill missing Sector/Industry in tickers.txt instead of downloading price history")
		if err := fs.Parse(os.Args[2:]); err != nil {
			os.Exit(2)
		}
		if *enrich {
			cmdErr = app.runEnrich(ctx)
		} else {
			cmdErr = app.runDownload(ctx)
		}
	case "score":
		cmdErr = app.runScore(ctx)
	case "portfolio":
		cmdErr = app.runPortfolio(ctx)
	case "backtest":
		cmdErr = app.runBacktest(ctx)
	case "optimize":
		cmdErr = app.runOptimize(ctx)
	case "runner":
		cmdErr = app.runRunner(ctx, os.Args[2:])
	case "status":
		cmdErr = app.runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}

	if cmdErr != nil {
		log.Error().Err(cmdErr).Msg("command failed")
		os.Exit(1)
	}
}

type app struct {
	store    *config.ParamStore
	log      zerolog.Logger
	repoRoot string
}

func (a *app) path(key, def string) string {
	if v, ok := a.store.Get(key); ok {
		return a.store.NormalizePath(a.repoRoot, v)
	}
	return filepath.Join(a.repoRoot, def)
}

// runDownload fetches missing price history for every ticker and merges
// it into the master database.
func (a *app) runDownload(ctx context.Context) error {
	log := a.log.With().Str("stage", "download").Logger()

	cal := calendar.New([]int{time.Now().Year() - 1, time.Now().Year()}, a.store.StringOr("SPECIAL_CLOSURES", ""))
	skips, err := skipstore.Load(a.path("SKIPPED_TICKERS_FILE", "findb/skipped_tickers.json"), log)
	if err != nil {
		return err
	}
	db := masterdb.New(a.path("FINDB_FILE", "findb/master.csv"), log)
	existing, err := db.Load()
	if err != nil {
		return err
	}

	client := marketdata.New(15*time.Second, log)
	dl := download.New(client, skips, cal, download.ModeDirect, nil, a.store.IntOr("DOWNLOAD_WORKERS", workerpool.DefaultSize()), a.store.IntOr("HISTORY_YEARS", 5), log)

	tickerEntries, err := tickers.Load(a.path("TICKERS_FILE", "parameters/tickers.txt"))
	if err != nil {
		return err
	}
	tickerSymbols := make([]string, len(tickerEntries))
	for i, t := range tickerEntries {
		tickerSymbols[i] = t.Ticker
	}

	existingDates := indexExistingDates(existing)
	results, err := dl.Run(ctx, tickerSymbols, existingDates, time.Now())
	if err != nil {
		return err
	}

	var bars []domain.PriceBar
	var snapshots []domain.Financials
	for _, r := range results {
		if r.Err != nil {
			log.Warn().Str("ticker", r.Ticker).Err(r.Err).Msg("ticker download failed")
			continue
		}
		bars = append(bars, r.Bars...)
		if r.Financials != nil {
			snapshots = append(snapshots, *r.Financials)
		}
	}
	if len(bars) > 0 {
		if err := db.Merge(bars); err != nil {
			return err
		}
	}
	if len(snapshots) > 0 {
		findb := financials.New(a.path("FINANCIALS_DB_FILE", "findb/financials.csv"), log)
		if err := findb.Merge(snapshots); err != nil {
			return err
		}
	}
	log.Info().Int("tickers", len(tickerSymbols)).Int("new_bars", len(bars)).Int("financials_snapshots", len(snapshots)).Msg("download complete")
	return nil
}

// runEnrich backfills missing Sector/Industry metadata in tickers.txt
// from the market-data provider, for "download --enrich".
func (a *app) runEnrich(ctx context.Context) error {
	log := a.log.With().Str("stage", "enrich").Logger()
	client := marketdata.New(15*time.Second, log)
	path := a.path("TICKERS_FILE", "parameters/tickers.txt")
	if err := tickers.EnrichTickers(ctx, path, client, log); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("ticker enrichment complete")
	return nil
}

// runScore computes composite scores for the universe and writes the
// scored-stocks/sector-PE artifacts for this run.
func (a *app) runScore(ctx context.Context) error {
	log := a.log.With().Str("stage", "score").Logger()
	runID := uuid.NewString()

	db := masterdb.New(a.path("FINDB_FILE", "findb/master.csv"), log)
	bars, err := db.Load()
	if err != nil {
		return err
	}
	byTicker := map[string][]domain.PriceBar{}
	for _, b := range bars {
		byTicker[b.Stock] = append(byTicker[b.Stock], b)
	}

	tickerEntries, err := tickers.Load(a.path("TICKERS_FILE", "parameters/tickers.txt"))
	if err != nil {
		return err
	}

	findb := financials.New(a.path("FINANCIALS_DB_FILE", "findb/financials.csv"), log)
	finRows, err := findb.Load()
	if err != nil {
		return err
	}
	latestFin := financials.Latest(finRows)

	var tickerSymbols []string
	closesByTicker := map[string][]float64{}
	var inputs []scoring.StockInput
	for _, t := range tickerEntries {
		series := byTicker[t.Ticker]
		if len(series) == 0 {
			continue
		}
		closes := make([]float64, len(series))
		for i, b := range series {
			closes[i] = b.Close
		}
		closesByTicker[t.Ticker] = closes
		tickerSymbols = append(tickerSymbols, t.Ticker)

		in := scoring.StockInput{Ticker: t.Ticker, Sector: t.Sector, Industry: t.Industry, Closes: closes}
		if fin, ok := latestFin[t.Ticker]; ok {
			in.ForwardPE = fin.ForwardPE
			in.ForwardEPS = fin.ForwardEPS
			in.TargetMeanPrice = fin.TargetMeanPrice
			in.CurrentPrice = fin.CurrentPrice
			in.DividendYield = fin.DividendYield
		}
		if in.CurrentPrice == 0 && len(closes) > 0 {
			in.CurrentPrice = closes[len(closes)-1]
		}
		inputs = append(inputs, in)
	}

	det := regime.New(regime.DefaultThresholds(), log)
	benchmark := regime.SelectBenchmark(tickerSymbols, closesByTicker)
	regimeResult := det.Classify(benchmark, a.store.IntOr("REGIME_LOOKBACK_DAYS", 252))

	profiles := regime.DefaultProfiles()
	riskProfile := a.store.StringOr("RISK_PROFILE", "moderado")
	profile := profiles[riskProfile]

	scorer := scoring.New(log)
	scored, sectorPE, topTickers, corr := scorer.Score(inputs, scoring.Params{
		RiskFreeRate:      a.store.FloatOr("RISK_FREE_RATE", 0.10),
		MomentumDays:      a.store.IntOr("MOMENTUM_DAYS", 252),
		WeightMode:        scoring.WeightDynamic,
		RunID:             runID,
		RiskProfile:       riskProfile,
		Regime:            string(regimeResult.Regime),
		RegimeStrength:    regime.StrengthMultipliers()[regimeResult.Regime],
		ProfileTendency:   scoring.Weights(profile.Tendency),
		ProfileMultiplier: scoring.Weights(profile.Multiplier),
		ProfileStrength:   profile.Strength,
	})

	aw := artifacts.New(log)
	if err := aw.AppendScoredStocks(a.path("SCORED_STOCKS_DB_FILE", "findb/scored_stocks.csv"), scored); err != nil {
		return err
	}
	if err := aw.AppendSectorPE(a.path("SECTOR_PE_DB_FILE", "findb/sector_pe.csv"), sectorPE); err != nil {
		return err
	}
	if len(corr) > 0 {
		corrPath := a.path("CORRELATION_MATRIX_FILE", "findb/correlation_matrix.csv")
		if err := aw.WriteCorrelationMatrix(corrPath, topTickers, corr); err != nil {
			return err
		}
		if err := aw.WriteCorrelationCache(corrPath+".msgpack", topTickers, corr); err != nil {
			return err
		}
	}

	log.Info().Str("run_id", runID).Int("scored", len(scored)).Str("regime", string(regimeResult.Regime)).Msg("scoring complete")
	return nil
}

// runPortfolio searches the k-stock portfolio space and writes the
// winning portfolio to latest_run_summary.json.
func (a *app) runPortfolio(ctx context.Context) error {
	log := a.log.With().Str("stage", "portfolio").Logger()
	runID := uuid.NewString()

	db := masterdb.New(a.path("FINDB_FILE", "findb/master.csv"), log)
	bars, err := db.Load()
	if err != nil {
		return err
	}
	stockOf := map[string][]domain.PriceBar{}
	for _, b := range bars {
		stockOf[b.Stock] = append(stockOf[b.Stock], b)
	}

	tickerEntries, err := tickers.Load(a.path("TICKERS_FILE", "parameters/tickers.txt"))
	if err != nil {
		return err
	}
	sectorOf := tickers.SectorMap(tickerEntries)

	var universe []string
	dailyReturns := map[string][]float64{}
	for t, series := range stockOf {
		if len(series) < 30 {
			continue
		}
		closes := make([]float64, len(series))
		for i, b := range series {
			closes[i] = b.Close
		}
		universe = append(universe, t)
		dailyReturns[t] = toDailyReturns(closes)
	}
	sort.Strings(universe)

	cov := portfolio.BuildCovariance(universe, dailyReturns)
	mean := make([]float64, len(universe))
	for i, t := range universe {
		mean[i] = annualizedMean(dailyReturns[t])
	}

	samplerParams := portfolio.SamplerParams{
		RiskFreeRate:          a.store.FloatOr("RISK_FREE_RATE", 0.10),
		Adaptive:              true,
		SimRuns:               a.store.IntOr("SIM_RUNS", 20000),
		ProgMin:               a.store.IntOr("PROG_MIN", 500),
		ProgBase:              a.store.FloatOr("PROG_BASE", 300),
		ProgCap:               a.store.IntOr("PROG_CAP", 20000),
		InitialScanSims:       a.store.IntOr("INITIAL_SCAN_SIMS", 200),
		EarlyDiscardMinBest:   a.store.FloatOr("EARLY_DISCARD_MIN_BEST", 0.3),
		EarlyDiscardFactor:    a.store.FloatOr("EARLY_DISCARD_FACTOR", 0.5),
		ProgCheckInterval:     a.store.IntOr("PROG_CHECK_INTERVAL", 100),
		ProgConvergenceWindow: a.store.IntOr("PROG_CONVERGENCE_WINDOW", 5),
		ProgConvergenceDelta:  a.store.FloatOr("PROG_CONVERGENCE_DELTA", 0.001),
	}

	gaEngine := ga.New(ga.Params{
		PopulationSize:    a.store.IntOr("GA_POPULATION_SIZE", 60),
		Generations:       a.store.IntOr("GA_GENERATIONS", 40),
		MutationRate:      a.store.FloatOr("GA_MUTATION_RATE", 0.1),
		CrossoverRate:     a.store.FloatOr("GA_CROSSOVER_RATE", 0.8),
		Elitism:           a.store.IntOr("GA_ELITISM", 2),
		TournamentSize:    a.store.IntOr("GA_TOURNAMENT_SIZE", 3),
		ConvergenceWindow: a.store.IntOr("GA_CONVERGENCE_WINDOW", 8),
		ConvergenceDelta:  a.store.FloatOr("GA_CONVERGENCE_DELTA", 0.001),
		MaxAttemptsMult:   a.store.IntOr("GA_MAX_ATTEMPTS_MULT", 50),
		Workers:           a.store.IntOr("PORTFOLIO_WORKERS", workerpool.DefaultSize()),
		Seed:              int64(a.store.IntOr("RANDOM_SEED", 42)),
		Sampler:           samplerParams,
	}, log)

	aw := artifacts.New(log)

	engine := portfolio.New(&gaAdapter{ga: gaEngine}, log)
	results, best, err := engine.Run(ctx, portfolio.Universe{Tickers: universe, Mean: mean, Cov: cov, SectorOf: sectorOf}, portfolio.EngineParams{
		KMin:          a.store.IntOr("K_MIN", 3),
		KMax:          a.store.IntOr("K_MAX", 15),
		HeuristicK:    a.store.IntOr("HEURISTIC_K", 8),
		MaxPerSector:  a.store.IntOr("MAX_PER_SECTOR", 3),
		Workers:       a.store.IntOr("PORTFOLIO_WORKERS", workerpool.DefaultSize()),
		Sampler:       samplerParams,
		TopNPctRefine: a.store.FloatOr("TOP_N_PCT_REFINE", 0.10),
		RunID:         runID,
		Seed:          int64(a.store.IntOr("RANDOM_SEED", 42)),
		ProgressCallback: func(percent int, eta float64) {
			_ = aw.WriteProgress(a.path("PROGRESS_FILE", "findb/portfolio_progress.json"), artifacts.ProgressUpdate{
				RunID: runID, Stage: "portfolio", PercentDone: percent, EtaSeconds: eta, Status: "running",
			})
		},
	})
	if err != nil {
		return err
	}

	if err := aw.AppendPortfolioResults(a.path("PORTFOLIO_RESULTS_DB_FILE", "findb/portfolio_results.csv"), results); err != nil {
		return err
	}

	if best != nil {
		summary := buildRunSummary(runID, best)
		if err := aw.WriteRunSummary(a.path("LATEST_RUN_SUMMARY_FILE", "findb/latest_run_summary.json"), summary); err != nil {
			return err
		}
	}

	if err := aw.WriteRunManifest(a.path("RUN_MANIFEST_FILE", "findb/run_manifest.json"), runID, a.store.All()); err != nil {
		return err
	}

	log.Info().Str("run_id", runID).Int("candidates", len(results)).Msg("portfolio search complete")
	return nil
}

// runBacktest runs the historical backtest for the winning portfolio of
// the most recent run against its benchmark.
func (a *app) runBacktest(ctx context.Context) error {
	log := a.log.With().Str("stage", "backtest").Logger()
	runID := uuid.NewString()

	summary, err := artifacts.ReadRunSummary(a.path("LATEST_RUN_SUMMARY_FILE", "findb/latest_run_summary.json"))
	if err != nil {
		return err
	}

	db := masterdb.New(a.path("FINDB_FILE", "findb/master.csv"), log)
	bars, err := db.Load()
	if err != nil {
		return err
	}
	byTicker := map[string][]domain.PriceBar{}
	for _, b := range bars {
		byTicker[b.Stock] = append(byTicker[b.Stock], b)
	}

	tickerEntries, err := tickers.Load(a.path("TICKERS_FILE", "parameters/tickers.txt"))
	if err != nil {
		return err
	}
	universeSymbols := make([]string, len(tickerEntries))
	closesByTicker := map[string][]float64{}
	for i, t := range tickerEntries {
		universeSymbols[i] = t.Ticker
		series := byTicker[t.Ticker]
		closes := make([]float64, len(series))
		for j, b := range series {
			closes[j] = b.Close
		}
		closesByTicker[t.Ticker] = closes
	}
	benchmark := regime.SelectBenchmark(universeSymbols, closesByTicker)

	benchSeries := byTicker[benchmark]
	if len(benchSeries) == 0 {
		return fmt.Errorf("backtest: no price history for benchmark %q", benchmark)
	}

	aligned, dates := alignSeries(append([]string{benchmark}, summary.Stocks...), byTicker)
	if len(aligned) < len(summary.Stocks)+1 || len(dates) < 2 {
		return fmt.Errorf("backtest: insufficient overlapping history for %q and its %d holdings", benchmark, len(summary.Stocks))
	}

	initialInvestment := a.store.FloatOr("BACKTEST_INITIAL_INVESTMENT", 100000)
	riskFreeRate := a.store.FloatOr("RISK_FREE_RATE", 0.10)
	years := float64(len(dates)) / 252.0

	portfolioResult := backtest.Run(aligned[1:], summary.Weights, initialInvestment, riskFreeRate, years)
	benchmarkResult := backtest.Run(aligned[:1], []float64{1}, initialInvestment, riskFreeRate, years)

	aw := artifacts.New(log)
	if err := aw.AppendBacktestMetrics(a.path("BACKTEST_RESULTS_FILE", "findb/backtest_results.csv"), runID,
		portfolioResult.CAGR, portfolioResult.AnnualizedVol, portfolioResult.Sharpe, portfolioResult.MaxDrawdown); err != nil {
		return err
	}
	if err := aw.WriteEquityCurve(a.path("BACKTEST_EQUITY_CURVE_FILE", "findb/backtest_equity_curve.csv"), runID,
		dates, portfolioResult.EquityCurve, benchmarkResult.EquityCurve); err != nil {
		return err
	}

	log.Info().Str("run_id", runID).Str("benchmark", benchmark).Float64("cagr", portfolioResult.CAGR).Float64("sharpe", portfolioResult.Sharpe).Msg("backtest complete")
	return nil
}

// alignSeries intersects every ticker's close series on a common set of
// dates (the dates present for all tickers), returning each ticker's
// closes restricted to that common index plus the aligned date slice.
func alignSeries(tickerList []string, byTicker map[string][]domain.PriceBar) ([][]float64, []time.Time) {
	common := map[string]int{}
	for i, t := range tickerList {
		dates := map[string]bool{}
		for _, b := range byTicker[t] {
			dates[b.Date.Format("2006-01-02")] = true
		}
		if i == 0 {
			for d := range dates {
				common[d] = 0
			}
			continue
		}
		for d := range common {
			if !dates[d] {
				delete(common, d)
			}
		}
	}

	orderedDates := make([]string, 0, len(common))
	for d := range common {
		orderedDates = append(orderedDates, d)
	}
	sort.Strings(orderedDates)

	dates := make([]time.Time, len(orderedDates))
	for i, d := range orderedDates {
		dates[i], _ = time.Parse("2006-01-02", d)
	}

	closesByDate := func(t string) map[string]float64 {
		out := map[string]float64{}
		for _, b := range byTicker[t] {
			out[b.Date.Format("2006-01-02")] = b.Close
		}
		return out
	}

	aligned := make([][]float64, len(tickerList))
	for i, t := range tickerList {
		byDate := closesByDate(t)
		series := make([]float64, len(orderedDates))
		for j, d := range orderedDates {
			series[j] = byDate[d]
		}
		aligned[i] = series
	}
	return aligned, dates
}

// runOptimize reconciles realized holdings against the ideal portfolio.
func (a *app) runOptimize(ctx context.Context) error {
	log := a.log.With().Str("stage", "optimize").Logger()
	runID := uuid.NewString()

	summary, err := artifacts.ReadRunSummary(a.path("LATEST_RUN_SUMMARY_FILE", "findb/latest_run_summary.json"))
	if err != nil {
		return err
	}

	ledgerRows, err := ledger.Load(a.path("LEDGER_FILE", "data/ledger.csv"))
	if err != nil {
		return err
	}
	positions := ledger.BuildPositions(ledgerRows)

	db := masterdb.New(a.path("FINDB_FILE", "findb/master.csv"), log)
	bars, err := db.Load()
	if err != nil {
		return err
	}
	closesByTicker := map[string][]float64{}
	for _, b := range bars {
		closesByTicker[b.Stock] = append(closesByTicker[b.Stock], b.Close)
	}

	findb := financials.New(a.path("FINANCIALS_DB_FILE", "findb/financials.csv"), log)
	finRows, err := findb.Load()
	if err != nil {
		return err
	}
	latestFin := financials.Latest(finRows)

	momentumDays := a.store.IntOr("MOMENTUM_DAYS", 252)
	currentPrices := map[string]float64{}
	targetPrices := map[string]float64{}
	momentum := map[string]float64{}
	for t, closes := range closesByTicker {
		if len(closes) == 0 {
			continue
		}
		currentPrices[t] = closes[len(closes)-1]
		momentum[t] = trailingReturn(closes, momentumDays)
	}
	for t, fin := range latestFin {
		if fin.CurrentPrice > 0 {
			currentPrices[t] = fin.CurrentPrice
		}
		if fin.TargetMeanPrice > 0 {
			targetPrices[t] = fin.TargetMeanPrice
		}
	}

	var portfolioValue float64
	for _, pos := range positions {
		portfolioValue += pos.Quantity * currentPrices[pos.Ticker]
	}

	holdingsWeights := optimize.CurrentWeights(positions, currentPrices, portfolioValue)
	holdingsVol := weightedVolatility(holdingsWeights, closesByTicker)

	idealWeights := make(map[string]float64, len(summary.Stocks))
	for i, t := range summary.Stocks {
		if i < len(summary.Weights) {
			idealWeights[t] = summary.Weights[i]
		}
	}
	idealExpRet := optimize.WeightedExpectedReturn(idealWeights, targetPrices, currentPrices, momentum, momentumDays)
	idealMomentum := optimize.WeightedMomentum(idealWeights, momentum)

	p := optimize.Params{
		RunID:                    runID,
		CandidateSteps:           a.store.IntOr("OPTIMIZE_CANDIDATE_STEPS", 20),
		MinExcessReturnThreshold: a.store.FloatOr("MIN_EXCESS_RETURN_THRESHOLD", 0.02),
		CostModel:                optimize.CostModel(a.store.StringOr("OPTIMIZE_COST_MODEL", string(optimize.CostDynamic))),
		FixedCostPct:             a.store.FloatOr("OPTIMIZE_FIXED_COST_PCT", 0.5),
		MomentumLookbackDays:     momentumDays,
		WeightReturn:             a.store.FloatOr("OPTIMIZE_WEIGHT_RETURN", 0.5),
		WeightSharpe:             a.store.FloatOr("OPTIMIZE_WEIGHT_SHARPE", 0.3),
		WeightMomentum:           a.store.FloatOr("OPTIMIZE_WEIGHT_MOMENTUM", 0.2),
		RiskFreeRate:             a.store.FloatOr("RISK_FREE_RATE", 0.10),
	}

	holdings := optimize.HoldingsInput{
		Positions:     positions,
		CurrentPrices: currentPrices,
		TargetPrices:  targetPrices,
		Momentum12mo:  momentum,
		LedgerFees:    ledgerRows,
	}
	ideal := optimize.IdealInput{
		Weights:        idealWeights,
		ExpectedReturn: idealExpRet,
		HistoricalRet:  summary.ExpectedReturn,
		Sharpe:         summary.Sharpe,
		Momentum:       idealMomentum,
	}

	opt := optimize.New(log)
	rec := opt.Run(holdings, holdingsVol, ideal, portfolioValue, p)
	rec.Date = time.Now().Format("2006-01-02")

	aw := artifacts.New(log)
	if err := aw.WriteRecommendation(a.path("OPTIMIZED_RECOMMENDATION_FILE", "findb/optimized_recommendation.json"), rec); err != nil {
		return err
	}
	if err := aw.AppendOptimizedPortfolioHistory(a.path("OPTIMIZED_PORTFOLIO_HISTORY_FILE", "findb/optimized_portfolio_history.csv"), rec); err != nil {
		return err
	}

	log.Info().Str("run_id", runID).Str("decision", rec.Decision).Float64("excess_return", rec.ExcessReturn).Msg("optimize complete")
	return nil
}

// trailingReturn returns the total return over the last lookback closes,
// or 0 if the series is too short.
func trailingReturn(closes []float64, lookback int) float64 {
	if len(closes) <= lookback || closes[len(closes)-1-lookback] == 0 {
		return 0
	}
	return closes[len(closes)-1]/closes[len(closes)-1-lookback] - 1
}

// weightedVolatility returns the annualized standard deviation of the
// weight-weighted daily return series across the given tickers.
func weightedVolatility(weights map[string]float64, closesByTicker map[string][]float64) float64 {
	n := 0
	for t := range weights {
		if len(closesByTicker[t]) > n {
			n = len(closesByTicker[t])
		}
	}
	if n < 2 {
		return 0
	}
	portfolioReturns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		var r float64
		for t, w := range weights {
			closes := closesByTicker[t]
			if i >= len(closes) || closes[i-1] == 0 {
				continue
			}
			r += w * (closes[i]/closes[i-1] - 1)
		}
		portfolioReturns = append(portfolioReturns, r)
	}
	if len(portfolioReturns) < 2 {
		return 0
	}
	return stat.StdDev(portfolioReturns, nil) * math.Sqrt(252)
}

// runRunner drives the full pipeline stage-by-stage, recording each
// stage's running/completed/failed/interrupted status in the checkpoint
// store. Every pass starts a new run id at the download stage; recorded
// checkpoints are not read back, so an interrupted run is not resumed
// and no resume wait is applied. --schedule accepts a cron
// expression to re-run the whole stage sequence periodically instead of
// once; --serve exposes a read-only HTTP status endpoint over the last
// checkpoint recorded.
func (a *app) runRunner(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runner", flag.ContinueOnError)
	schedule := fs.String("schedule", "", "cron expression to re-run the pipeline periodically instead of once")
	serve := fs.Bool("serve", false, "expose a read-only HTTP status endpoint")
	serveAddr := fs.String("serve-addr", ":8089", "address for --serve")
	skipSync := fs.Bool("skip-sync", false, "skip syncing artifacts to GCS_DATA_BUCKET after a successful run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := a.log.With().Str("stage", "runner").Logger()

	cp, err := checkpoint.Open(a.path("CHECKPOINT_DB_FILE", "findb/checkpoint.db"), log)
	if err != nil {
		return err
	}
	defer cp.Close()

	var lastStatus struct {
		RunID string    `json:"run_id"`
		Stage string    `json:"stage"`
		Ts    time.Time `json:"timestamp"`
	}

	if *serve {
		srv := statusserver.New(log, func() (interface{}, error) {
			return lastStatus, nil
		})
		httpSrv := &http.Server{Addr: *serveAddr, Handler: srv.Handler()}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("status server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	runOnce := func(ctx context.Context) error {
		runID := uuid.NewString()
		stages := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"download", a.runDownload},
			{"score", a.runScore},
			{"portfolio", a.runPortfolio},
			{"backtest", a.runBacktest},
			{"optimize", a.runOptimize},
		}

		for _, st := range stages {
			lastStatus.RunID, lastStatus.Stage, lastStatus.Ts = runID, st.name, time.Now()
			if err := cp.Record(ctx, runID, st.name, checkpoint.StatusRunning, time.Now()); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				_ = cp.Record(ctx, runID, st.name, checkpoint.StatusInterrupted, time.Now())
				return ctx.Err()
			default:
			}

			if err := st.fn(ctx); err != nil {
				_ = cp.Record(ctx, runID, st.name, checkpoint.StatusFailed, time.Now())
				return fmt.Errorf("stage %s: %w", st.name, err)
			}
			if err := cp.Record(ctx, runID, st.name, checkpoint.StatusCompleted, time.Now()); err != nil {
				return err
			}
		}

		if !*skipSync {
			if bucket, ok := a.store.Get("GCS_DATA_BUCKET"); ok && bucket != "" {
				syncer, err := artifacts.NewSyncer(ctx, bucket, log)
				if err != nil {
					log.Warn().Err(err).Msg("artifact sync skipped: could not build syncer")
				} else if err := syncer.SyncDir(ctx, a.path("FINDB_DIR", "findb")); err != nil {
					log.Warn().Err(err).Msg("artifact sync failed")
				}
			}
		}

		log.Info().Str("run_id", runID).Msg("runner completed all stages")
		return nil
	}

	if *schedule == "" {
		return runOnce(ctx)
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, func() {
		if err := runOnce(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled run failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid --schedule: %w", err)
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return nil
}

// runStatus prints a read-only summary of the master database: row
// counts, date range, and the most stale ticker.
func (a *app) runStatus(ctx context.Context) error {
	db := masterdb.New(a.path("FINDB_FILE", "findb/master.csv"), a.log)
	bars, err := db.Load()
	if err != nil {
		return err
	}
	latestByTicker := map[string]time.Time{}
	for _, b := range bars {
		if b.Date.After(latestByTicker[b.Stock]) {
			latestByTicker[b.Stock] = b.Date
		}
	}
	var staleTicker string
	var staleDate time.Time
	first := true
	for t, d := range latestByTicker {
		if first || d.Before(staleDate) {
			staleTicker, staleDate, first = t, d, false
		}
	}
	fmt.Printf("rows=%d tickers=%d most_stale=%s(%s)\n", len(bars), len(latestByTicker), staleTicker, staleDate.Format("2006-01-02"))
	return nil
}

// gaAdapter adapts the concrete ga.GA to portfolio.GAEngine, translating
// ga.Result into portfolio.GAOutcome so the two packages stay decoupled.
type gaAdapter struct {
	ga *ga.GA
}

func (a *gaAdapter) Run(ctx context.Context, k int, mean []float64, cov *mat.SymDense, tickers []string, sectorOf map[string]string, maxPerSector int) (portfolio.GAOutcome, error) {
	res, err := a.ga.Run(ctx, k, mean, cov, tickers, sectorOf, maxPerSector)
	if err != nil {
		return portfolio.GAOutcome{}, err
	}
	return portfolio.GAOutcome{
		Stocks:         res.Stocks,
		Weights:        res.Weights,
		Sharpe:         res.Sharpe,
		ExpectedReturn: res.ExpectedReturn,
		Volatility:     res.Volatility,
		SharpeHistory:  res.SharpeHistory,
	}, nil
}

func indexExistingDates(bars []domain.PriceBar) map[string]map[string]bool {
	out := map[string]map[string]bool{}
	for _, b := range bars {
		if out[b.Stock] == nil {
			out[b.Stock] = map[string]bool{}
		}
		out[b.Stock][b.Date.Format("2006-01-02")] = true
	}
	return out
}

func toDailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

func annualizedMean(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return stat.Mean(dailyReturns, nil) * 252
}

func buildRunSummary(runID string, best *domain.PortfolioResult) domain.LatestRunSummary {
	top := best.Stocks
	if len(top) > 5 {
		top = top[:5]
	}
	hhi := 0.0
	for _, w := range best.Weights {
		hhi += w * w
	}
	return domain.LatestRunSummary{
		RunID:          runID,
		Date:           time.Now().Format("2006-01-02"),
		K:              best.K,
		Stocks:         best.Stocks,
		Weights:        best.Weights,
		ExpectedReturn: best.ExpectedReturn,
		Volatility:     best.Volatility,
		Sharpe:         best.Sharpe,
		Top5Holdings:   top,
		HHI:            hhi,
	}
}
