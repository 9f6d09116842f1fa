// Package financials implements the FinancialsDB: a point-in-time
// fundamentals snapshot per ticker (forward P/E, forward EPS, analyst
// target, dividend yield). It merges and dedupes the same way masterdb
// merges price bars — keep the latest-written row for a given (ticker,
// fetch date) — then atomically rewrites the CSV file.
package financials

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/gabrielcampos/portfolioesg/internal/storage"
	"github.com/rs/zerolog"
)

var header = []string{"Stock", "forwardPE", "forwardEPS", "dividendYield", "averageVolume", "targetMeanPrice", "currentPrice", "LastUpdated"}

// DB wraps the CSV-backed fundamentals snapshot file.
type DB struct {
	path string
	log  zerolog.Logger
}

// New returns a DB bound to path (FINANCIALS_DB_FILE).
func New(path string, log zerolog.Logger) *DB {
	return &DB{path: path, log: log.With().Str("component", "financialsdb").Logger()}
}

// Load reads every snapshot currently in the database. A missing file
// returns an empty slice, not an error.
func (db *DB) Load() ([]domain.Financials, error) {
	f, err := os.Open(db.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]domain.Financials, 0, len(rows)-1)
	for _, row := range rows[1:] {
		fin, err := parseRow(row)
		if err != nil {
			db.log.Warn().Strs("row", row).Err(err).Msg("skipping malformed row")
			continue
		}
		out = append(out, fin)
	}
	return out, nil
}

func parseRow(row []string) (domain.Financials, error) {
	if len(row) != 8 {
		return domain.Financials{}, fmt.Errorf("expected 8 columns, got %d", len(row))
	}
	fetched, err := time.Parse(time.RFC3339, row[7])
	if err != nil {
		return domain.Financials{}, err
	}
	pe, _ := strconv.ParseFloat(row[1], 64)
	eps, _ := strconv.ParseFloat(row[2], 64)
	div, _ := strconv.ParseFloat(row[3], 64)
	vol, _ := strconv.ParseFloat(row[4], 64)
	target, _ := strconv.ParseFloat(row[5], 64)
	cur, _ := strconv.ParseFloat(row[6], 64)
	return domain.Financials{
		Ticker: row[0], ForwardPE: pe, ForwardEPS: eps, DividendYield: div,
		AverageVolume: vol, TargetMeanPrice: target, CurrentPrice: cur, FetchDate: fetched,
	}, nil
}

// Merge merges newRows into the existing database, keeping the latest
// row per (ticker, fetch date) — entries in newRows win over existing
// rows sharing that key — then atomically rewrites the CSV file.
func (db *DB) Merge(newRows []domain.Financials) error {
	existing, err := db.Load()
	if err != nil {
		return err
	}

	type key struct {
		ticker string
		date   string
	}
	merged := make(map[key]domain.Financials, len(existing)+len(newRows))
	for _, r := range existing {
		merged[key{r.Ticker, r.FetchDate.Format("2006-01-02")}] = r
	}
	for _, r := range newRows {
		merged[key{r.Ticker, r.FetchDate.Format("2006-01-02")}] = r
	}

	out := make([]domain.Financials, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticker != out[j].Ticker {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].FetchDate.Before(out[j].FetchDate)
	})

	return db.write(out)
}

// Latest reduces rows to the single most recently fetched snapshot per
// ticker, the view the Scorer needs.
func Latest(rows []domain.Financials) map[string]domain.Financials {
	out := make(map[string]domain.Financials, len(rows))
	for _, r := range rows {
		if cur, ok := out[r.Ticker]; !ok || r.FetchDate.After(cur.FetchDate) {
			out[r.Ticker] = r
		}
	}
	return out
}

func (db *DB) write(rows []domain.Financials) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, header)
	for _, r := range rows {
		records = append(records, []string{
			r.Ticker,
			strconv.FormatFloat(r.ForwardPE, 'f', -1, 64),
			strconv.FormatFloat(r.ForwardEPS, 'f', -1, 64),
			strconv.FormatFloat(r.DividendYield, 'f', -1, 64),
			strconv.FormatFloat(r.AverageVolume, 'f', -1, 64),
			strconv.FormatFloat(r.TargetMeanPrice, 'f', -1, 64),
			strconv.FormatFloat(r.CurrentPrice, 'f', -1, 64),
			r.FetchDate.Format(time.RFC3339),
		})
	}

	var buf fileBuffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	db.log.Info().Int("rows", len(rows)).Str("path", db.path).Msg("writing financials database")
	return storage.AtomicWriteFile(db.path, buf.Bytes(), 0o644)
}

type fileBuffer struct{ data []byte }

func (b *fileBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
func (b *fileBuffer) Bytes() []byte { return b.data }
