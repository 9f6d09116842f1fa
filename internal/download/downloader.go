// Package download implements the incremental price-history downloader:
// for each ticker, compute the set of business days missing from the
// master database, fetch only those from the market-data provider, and
// record dates the provider could not supply in the skip store.
package download

import (
	"context"
	"sort"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/calendar"
	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/gabrielcampos/portfolioesg/internal/marketdata"
	"github.com/gabrielcampos/portfolioesg/internal/skipstore"
	"github.com/gabrielcampos/portfolioesg/pkg/workerpool"
	"github.com/rs/zerolog"
)

// Provider is the subset of the market-data client the Downloader needs,
// so tests can substitute a fake.
type Provider interface {
	GetQuote(ctx context.Context, ticker string) (*marketdata.Quote, error)
	GetHistory(ctx context.Context, ticker string, from, to time.Time) ([]domain.PriceBar, error)
}

// Mode controls how per-ticker results are accumulated.
type Mode string

const (
	// ModeDirect accumulates all fetched bars in memory for a single
	// final merge into the MasterDB.
	ModeDirect Mode = "direct"
	// ModeLegacy writes one CSV per ticker as it completes, for callers
	// that want incremental on-disk progress before the final merge.
	ModeLegacy Mode = "legacy"
)

// TickerWriter persists one ticker's freshly fetched bars immediately,
// used only in ModeLegacy.
type TickerWriter interface {
	WriteTickerCSV(ticker string, bars []domain.PriceBar) error
}

// Downloader orchestrates the per-ticker incremental download pipeline.
type Downloader struct {
	provider   Provider
	skips      *skipstore.Store
	calendar   *calendar.Calendar
	mode       Mode
	writer     TickerWriter
	workers    int
	historyYrs int
	log        zerolog.Logger
}

// New builds a Downloader.
func New(provider Provider, skips *skipstore.Store, cal *calendar.Calendar, mode Mode, writer TickerWriter, workers, historyYears int, log zerolog.Logger) *Downloader {
	return &Downloader{
		provider:   provider,
		skips:      skips,
		calendar:   cal,
		mode:       mode,
		writer:     writer,
		workers:    workers,
		historyYrs: historyYears,
		log:        log.With().Str("component", "downloader").Logger(),
	}
}

// Result is the outcome of downloading one ticker.
type Result struct {
	Ticker     string
	Bars       []domain.PriceBar
	Financials *domain.Financials // nil when the quote fetch failed or the ticker is delisted
	Skipped    bool
	Err        error
}

// Run downloads missing history for every ticker in tickers, given the
// dates already present in the master database (existingDates, keyed by
// ticker). The last business day before today is the latest date for
// which data must exist. Returns one Result per ticker, in input order;
// tickers already marked ALL or found delisted carry Skipped=true. In
// ModeDirect callers merge Bars into the MasterDB themselves, in
// ModeLegacy bars have already been flushed via TickerWriter and Bars is
// empty.
func (d *Downloader) Run(ctx context.Context, tickers []string, existingDates map[string]map[string]bool, today time.Time) ([]Result, error) {
	results := make([]Result, len(tickers))
	prevBusinessDay := d.calendar.PreviousBusinessDay(today)

	indices := make([]int, len(tickers))
	for i := range tickers {
		indices[i] = i
	}

	err := workerpool.Run(ctx, d.workers, indices, func(ctx context.Context, i int) error {
		ticker := tickers[i]
		results[i] = d.runTicker(ctx, ticker, existingDates[ticker], prevBusinessDay, today)
		return nil // per-ticker errors are captured in Result, not propagated
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Downloader) runTicker(ctx context.Context, ticker string, existing map[string]bool, prevBusinessDay, today time.Time) Result {
	log := d.log.With().Str("ticker", ticker).Logger()

	if d.skips.IsAll(ticker) {
		log.Debug().Msg("ticker fully skipped")
		return Result{Ticker: ticker, Skipped: true}
	}

	quote, err := d.provider.GetQuote(ctx, ticker)
	if err != nil {
		log.Warn().Err(err).Msg("metadata fetch failed")
	} else if quote != nil && quote.Delisted {
		if err := d.skips.MarkAll(ticker); err != nil {
			log.Error().Err(err).Msg("failed to persist skip-all")
		}
		return Result{Ticker: ticker, Skipped: true}
	}

	var fin *domain.Financials
	if quote != nil && !quote.Delisted {
		fin = &domain.Financials{
			Ticker:          ticker,
			FetchDate:       today,
			ForwardPE:       quote.ForwardPE,
			ForwardEPS:      quote.ForwardEPS,
			TargetMeanPrice: quote.TargetMeanPrice,
			CurrentPrice:    quote.CurrentPrice,
			DividendYield:   quote.DividendYield,
			AverageVolume:   quote.AverageVolume,
			Sector:          quote.Sector,
		}
	}

	start := d.calendar.PreviousBusinessDay(today.AddDate(-d.historyYrs, 0, 1))
	allBusinessDays := d.calendar.BusinessDays(start, prevBusinessDay)

	skipDates := make(map[string]bool)
	for _, dt := range d.skips.Get(ticker) {
		skipDates[dt] = true
	}

	var missing []time.Time
	for _, bd := range allBusinessDays {
		key := bd.Format("2006-01-02")
		if existing[key] || skipDates[key] {
			continue
		}
		missing = append(missing, bd)
	}

	if len(missing) == 0 {
		log.Debug().Msg("no missing dates")
		return Result{Ticker: ticker, Financials: fin}
	}

	minDate, maxDate := missing[0], missing[0]
	for _, d := range missing {
		if d.Before(minDate) {
			minDate = d
		}
		if d.After(maxDate) {
			maxDate = d
		}
	}

	bars, err := d.provider.GetHistory(ctx, ticker, minDate, maxDate.AddDate(0, 0, 1))
	if err != nil {
		log.Warn().Err(err).Msg("history fetch failed, provider error does not change skip store")
		return Result{Ticker: ticker, Err: err}
	}

	returned := make(map[string]bool, len(bars))
	for _, b := range bars {
		returned[b.Date.Format("2006-01-02")] = true
	}

	var unfilled []string
	for _, m := range missing {
		key := m.Format("2006-01-02")
		if !returned[key] {
			unfilled = append(unfilled, key)
		}
	}
	sort.Strings(unfilled)

	noMetadata := err != nil || quote == nil
	allMissingFailed := len(unfilled) == len(missing) && len(missing) > 0

	if noMetadata && allMissingFailed {
		if err := d.skips.MarkAll(ticker); err != nil {
			log.Error().Err(err).Msg("failed to persist skip-all")
		}
		return Result{Ticker: ticker, Skipped: true}
	}

	if len(unfilled) > 0 {
		if err := d.skips.AddDates(ticker, unfilled); err != nil {
			log.Error().Err(err).Msg("failed to persist skip dates")
		}
	}

	if d.mode == ModeLegacy && d.writer != nil {
		if err := d.writer.WriteTickerCSV(ticker, bars); err != nil {
			log.Error().Err(err).Msg("failed to write per-ticker CSV")
			return Result{Ticker: ticker, Err: err}
		}
		return Result{Ticker: ticker, Financials: fin}
	}

	log.Info().Int("bars", len(bars)).Msg("downloaded history")
	return Result{Ticker: ticker, Bars: bars, Financials: fin}
}
