package download

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/calendar"
	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/gabrielcampos/portfolioesg/internal/marketdata"
	"github.com/gabrielcampos/portfolioesg/internal/skipstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	quote   *marketdata.Quote
	quoteErr error
	bars    []domain.PriceBar
	barsErr error
}

func (f *fakeProvider) GetQuote(ctx context.Context, ticker string) (*marketdata.Quote, error) {
	return f.quote, f.quoteErr
}

func (f *fakeProvider) GetHistory(ctx context.Context, ticker string, from, to time.Time) ([]domain.PriceBar, error) {
	return f.bars, f.barsErr
}

func newStore(t *testing.T) *skipstore.Store {
	dir := t.TempDir()
	s, err := skipstore.Load(filepath.Join(dir, "skip.json"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestDownloaderDelistedMarksAll(t *testing.T) {
	cal := calendar.New([]int{2026}, "")
	store := newStore(t)
	p := &fakeProvider{quote: &marketdata.Quote{Delisted: true}}
	d := New(p, store, cal, ModeDirect, nil, 1, 1, zerolog.Nop())

	results, err := d.Run(context.Background(), []string{"DELI4"}, map[string]map[string]bool{}, time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.True(t, store.IsAll("DELI4"))
}

func TestDownloaderSkipsAlreadySkippedAll(t *testing.T) {
	cal := calendar.New([]int{2026}, "")
	store := newStore(t)
	require.NoError(t, store.MarkAll("OLD4"))
	p := &fakeProvider{}
	d := New(p, store, cal, ModeDirect, nil, 1, 1, zerolog.Nop())

	results, err := d.Run(context.Background(), []string{"OLD4"}, map[string]map[string]bool{}, time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, results[0].Skipped)
	assert.Nil(t, results[0].Bars)
}

func TestDownloaderUnfulfilledDatesGoToSkipStore(t *testing.T) {
	cal := calendar.New([]int{2026}, "")
	store := newStore(t)
	p := &fakeProvider{
		quote: &marketdata.Quote{CurrentPrice: 10},
		bars:  nil, // provider returns nothing for the requested range
	}
	d := New(p, store, cal, ModeDirect, nil, 1, 1, zerolog.Nop())

	today := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	_, err := d.Run(context.Background(), []string{"NODA4"}, map[string]map[string]bool{}, today)
	require.NoError(t, err)

	assert.NotEmpty(t, store.Get("NODA4"))
}

func TestDownloaderNoMissingDatesReturnsEmptyResult(t *testing.T) {
	cal := calendar.New([]int{2026}, "")
	store := newStore(t)
	p := &fakeProvider{quote: &marketdata.Quote{CurrentPrice: 10}}
	d := New(p, store, cal, ModeDirect, nil, 1, 0, zerolog.Nop())

	today := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	// historyYears=0 puts the window start at today, after the previous
	// business day that ends the window, so no business day is missing;
	// today is also marked as already existing.
	existing := map[string]map[string]bool{
		"HAVE4": {cal.PreviousBusinessDay(today.AddDate(0, 0, 1)).Format("2006-01-02"): true},
	}
	results, err := d.Run(context.Background(), []string{"HAVE4"}, existing, today)
	require.NoError(t, err)
	assert.Empty(t, results[0].Bars)
	assert.False(t, results[0].Skipped)
}
