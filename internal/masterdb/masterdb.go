// Package masterdb implements the append-only price history database:
// concat new rows, normalize dates, sort, dedupe keeping the
// last-written bar for a given (ticker, date), and atomically rewrite
// the CSV file.
package masterdb

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

var header = []string{"Date", "Open", "High", "Low", "Close", "Volume", "Stock"}

// DB wraps the CSV-backed price history file.
type DB struct {
	path string
	log  zerolog.Logger
}

// New returns a DB bound to path (FINDB_FILE).
func New(path string, log zerolog.Logger) *DB {
	return &DB{path: path, log: log.With().Str("component", "masterdb").Logger()}
}

// Load reads every bar currently in the database. A missing file returns
// an empty slice, not an error.
func (db *DB) Load() ([]domain.PriceBar, error) {
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

	bars := make([]domain.PriceBar, 0, len(rows)-1)
	for _, row := range rows[1:] {
		bar, err := parseRow(row)
		if err != nil {
			db.log.Warn().Strs("row", row).Err(err).Msg("skipping malformed row")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseRow(row []string) (domain.PriceBar, error) {
	if len(row) != 7 {
		return domain.PriceBar{}, fmt.Errorf("expected 7 columns, got %d", len(row))
	}
	date, err := time.Parse("2006-01-02", row[0])
	if err != nil {
		return domain.PriceBar{}, err
	}
	o, _ := strconv.ParseFloat(row[1], 64)
	h, _ := strconv.ParseFloat(row[2], 64)
	l, _ := strconv.ParseFloat(row[3], 64)
	c, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return domain.PriceBar{}, err
	}
	v, _ := strconv.ParseFloat(row[5], 64)
	return domain.PriceBar{Date: date, Open: o, High: h, Low: l, Close: c, Volume: v, Stock: row[6]}, nil
}

// Merge appends newBars to the existing database, normalizing dates,
// sorting by (Stock, Date), and deduping on (Stock, Date) keeping the
// later-written bar (i.e. entries from newBars win over existing rows
// with the same key), then atomically rewrites the CSV file.
func (db *DB) Merge(newBars []domain.PriceBar) error {
	existing, err := db.Load()
	if err != nil {
		return err
	}

	if err := validateBars(newBars); err != nil {
		return err
	}

	type key struct {
		stock string
		date  string
	}
	merged := make(map[key]domain.PriceBar, len(existing)+len(newBars))
	for _, b := range existing {
		merged[key{b.Stock, b.Date.Format("2006-01-02")}] = b
	}
	for _, b := range newBars {
		merged[key{b.Stock, b.Date.Format("2006-01-02")}] = b
	}

	out := make([]domain.PriceBar, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stock != out[j].Stock {
			return out[i].Stock < out[j].Stock
		}
		return out[i].Date.Before(out[j].Date)
	})

	return db.write(out)
}

func validateBars(bars []domain.PriceBar) error {
	for _, b := range bars {
		if b.Close < 0 {
			return &domain.ValidationError{Field: "Close", Msg: fmt.Sprintf("%s %s: close must be >= 0", b.Stock, b.Date.Format("2006-01-02"))}
		}
	}
	return nil
}

func (db *DB) write(bars []domain.PriceBar) error {
	records := make([][]string, 0, len(bars)+1)
	records = append(records, header)
	for _, b := range bars {
		records = append(records, []string{
			b.Date.Format("2006-01-02"),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
			b.Stock,
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

	db.log.Info().Int("rows", len(bars)).Str("path", db.path).Msg("writing master price database")
	return storage.AtomicWriteFile(db.path, buf.Bytes(), 0o644)
}

// fileBuffer is a minimal io.Writer accumulating bytes for csv.Writer.
type fileBuffer struct {
	data []byte
}

func (b *fileBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *fileBuffer) Bytes() []byte { return b.data }
