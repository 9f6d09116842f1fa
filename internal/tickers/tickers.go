// Package tickers loads parameters/tickers.txt and benchmarks.txt — the
// per-ticker Name/Sector/Industry/BrokerName metadata the Scorer and
// the portfolio engine's per-sector cap both need — and backfills
// missing Sector/Industry via the market-data provider.
package tickers

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"strings"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/gabrielcampos/portfolioesg/internal/marketdata"
	"github.com/gabrielcampos/portfolioesg/internal/storage"
	"github.com/rs/zerolog"
)

// parseAll reads the CSV columns Ticker,Name,Sector,Industry,BrokerName
// (BrokerName optional) from path, skipping blank lines and `#`
// comments. It does not filter out "Error" rows; callers decide.
func parseAll(path string) ([]domain.Ticker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.IOError{Path: path, Err: err}
	}
	defer f.Close()

	var body strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(body.String()))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Ticker, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		t := domain.Ticker{
			Ticker: strings.TrimSpace(row[0]),
			Name:   strings.TrimSpace(row[1]),
			Sector: strings.TrimSpace(row[2]),
		}
		if len(row) > 3 {
			t.Industry = strings.TrimSpace(row[3])
		}
		if len(row) > 4 {
			t.BrokerName = strings.TrimSpace(row[4])
		}
		out = append(out, t)
	}
	return out, nil
}

// Load reads a tickers.txt / benchmarks.txt file and excludes rows
// whose Sector contains "Error" (a failed enrichment run).
func Load(path string) ([]domain.Ticker, error) {
	all, err := parseAll(path)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(all))
	for _, t := range all {
		if strings.Contains(t.Sector, "Error") {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// SectorMap indexes entries by ticker symbol for the sector-cap lookup
// the portfolio engine needs.
func SectorMap(entries []domain.Ticker) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Ticker] = e.Sector
	}
	return out
}

// QuoteProvider is the subset of the market-data client EnrichTickers
// needs, so tests can substitute a fake.
type QuoteProvider interface {
	GetQuote(ctx context.Context, ticker string) (*marketdata.Quote, error)
}

// EnrichTickers backfills Sector/Industry for every entry in the
// tickers.txt file at path whose Sector is blank or a prior "Error",
// by querying provider, then atomically rewrites the file with the
// enrichment cached in place. Entries that already carry a usable
// Sector are left untouched, so repeated runs only pay for the gaps.
func EnrichTickers(ctx context.Context, path string, provider QuoteProvider, log zerolog.Logger) error {
	entries, err := parseAll(path)
	if err != nil {
		return err
	}

	for i, e := range entries {
		if e.Sector != "" && !strings.Contains(e.Sector, "Error") {
			continue
		}
		quote, err := provider.GetQuote(ctx, e.Ticker)
		if err != nil {
			log.Warn().Str("ticker", e.Ticker).Err(err).Msg("enrich: quote fetch failed")
			entries[i].Sector = "Error"
			entries[i].Industry = err.Error()
			continue
		}
		entries[i].Sector = quote.Sector
		entries[i].Industry = quote.Industry
		if entries[i].Sector == "" {
			entries[i].Sector = "Unknown"
		}
		if entries[i].Industry == "" {
			entries[i].Industry = "Unknown"
		}
	}

	return writeFile(path, entries)
}

func writeFile(path string, entries []domain.Ticker) error {
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	for _, e := range entries {
		row := []string{e.Ticker, e.Name, e.Sector, e.Industry}
		if e.BrokerName != "" {
			row = append(row, e.BrokerName)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, []byte(buf.String()), 0o644)
}
