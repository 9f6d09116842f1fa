// Package ledger loads data/ledger.csv — the externally produced
// transaction ledger an upstream PDF-ingest collaborator writes — and
// reduces it to FIFO-accounted current positions for the Optimizer.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
)

// Load reads ledger.csv, indexing columns by header name since the file
// is produced by an external collaborator and its column order is not
// a contract this pipeline owns.
func Load(path string) ([]domain.LedgerRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &domain.IOError{Path: path, Err: err}
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

	idx := map[string]int{}
	for i, col := range rows[0] {
		idx[strings.TrimSpace(col)] = i
	}
	col := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]domain.LedgerRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		date, err := time.Parse("2006-01-02", col(row, "trade_date"))
		if err != nil {
			return nil, fmt.Errorf("ledger row trade_date: %w", err)
		}
		qty, _ := strconv.ParseFloat(col(row, "quantity"), 64)
		price, _ := strconv.ParseFloat(col(row, "unit_price"), 64)
		fees, _ := strconv.ParseFloat(col(row, "allocated_fees"), 64)
		out = append(out, domain.LedgerRow{
			Date:     date,
			Ticker:   col(row, "ticker"),
			Side:     strings.ToUpper(col(row, "side")),
			Quantity: qty,
			Price:    price,
			Fees:     fees,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// BuildPositions reduces a chronologically sorted ledger to FIFO-lot
// positions per ticker: BUY rows open a lot, SELL rows consume the
// oldest open lots first. Tickers fully sold out carry no position.
func BuildPositions(rows []domain.LedgerRow) []domain.Position {
	byTicker := map[string]*domain.Position{}
	order := make([]string, 0)

	for _, r := range rows {
		pos, ok := byTicker[r.Ticker]
		if !ok {
			pos = &domain.Position{Ticker: r.Ticker}
			byTicker[r.Ticker] = pos
			order = append(order, r.Ticker)
		}

		switch r.Side {
		case "BUY":
			pos.Lots = append(pos.Lots, domain.Lot{Date: r.Date, Quantity: r.Quantity, Price: r.Price, Fees: r.Fees})
			pos.Quantity += r.Quantity
		case "SELL":
			remaining := r.Quantity
			for remaining > 0 && len(pos.Lots) > 0 {
				lot := &pos.Lots[0]
				if lot.Quantity <= remaining {
					remaining -= lot.Quantity
					pos.Quantity -= lot.Quantity
					pos.Lots = pos.Lots[1:]
					continue
				}
				lot.Quantity -= remaining
				pos.Quantity -= remaining
				remaining = 0
			}
		}
	}

	out := make([]domain.Position, 0, len(order))
	for _, t := range order {
		pos := byTicker[t]
		if pos.Quantity > 0 {
			out = append(out, *pos)
		}
	}
	return out
}
