// Package marketdata implements an HTTP client against the Yahoo Finance
// public endpoints: v7/finance/quote for fundamentals and
// v8/finance/chart for historical OHLCV bars.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
	"github.com/rs/zerolog"
)

const (
	quoteURL = "https://query1.finance.yahoo.com/v7/finance/quote"
	chartURL = "https://query1.finance.yahoo.com/v8/finance/chart/%s"
)

// Client is the market-data provider client used by the Downloader and
// by ticker enrichment. Retries with exponential backoff on transient HTTP failures.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// New returns a Client with the given timeout.
func New(timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  log.With().Str("component", "marketdata").Logger(),
	}
}

// ToProviderSymbol appends the B3 ".SA" suffix expected by Yahoo for
// Brazilian tickers, unless the ticker already carries an exchange suffix.
func ToProviderSymbol(ticker string) string {
	if strings.Contains(ticker, ".") {
		return ticker
	}
	return ticker + ".SA"
}

func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt < 4; attempt++ {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err == nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// Quote is the fundamentals snapshot returned by v7/finance/quote.
type Quote struct {
	Symbol          string
	ForwardPE       float64
	ForwardEPS      float64
	TargetMeanPrice float64
	CurrentPrice    float64
	DividendYield   float64
	AverageVolume   float64
	Sector          string
	Industry        string
	Delisted        bool
}

// GetQuote fetches the fundamentals snapshot for a single ticker.
func (c *Client) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	symbol := ToProviderSymbol(ticker)

	q := url.Values{}
	q.Set("symbols", symbol)
	req, err := http.NewRequest(http.MethodGet, quoteURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, &domain.ProviderError{Ticker: ticker, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Ticker: ticker, Err: err}
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &domain.ProviderError{Ticker: ticker, Err: err}
	}

	if len(parsed.QuoteResponse.Result) == 0 {
		// No metadata at all: candidate for a full skip (delisted).
		return &Quote{Symbol: symbol, Delisted: true}, nil
	}

	r := parsed.QuoteResponse.Result[0]
	return &Quote{
		Symbol:          symbol,
		ForwardPE:       getFloat64(r, "forwardPE"),
		ForwardEPS:      getFloat64(r, "epsForward"),
		TargetMeanPrice: getFloat64(r, "targetMeanPrice"),
		CurrentPrice:    getFloat64(r, "regularMarketPrice"),
		DividendYield:   getFloat64(r, "trailingAnnualDividendYield"),
		AverageVolume:   getFloat64(r, "averageDailyVolume3Month"),
		Sector:          getString(r, "sector"),
		Industry:        getString(r, "industry"),
	}, nil
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []map[string]interface{} `json:"result"`
	} `json:"quoteResponse"`
}

func getFloat64(m map[string]interface{}, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func getString(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetHistory fetches daily OHLCV bars for ticker in [from, to]. An empty
// slice (not an error) is returned if the provider has no bars in range;
// callers are responsible for turning that into
// EmptyResponseForRequestedDate/SkipStore entries per day.
func (c *Client) GetHistory(ctx context.Context, ticker string, from, to time.Time) ([]domain.PriceBar, error) {
	symbol := ToProviderSymbol(ticker)

	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", from.Unix()))
	q.Set("period2", fmt.Sprintf("%d", to.Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")

	endpoint := fmt.Sprintf(chartURL, url.PathEscape(symbol))
	req, err := http.NewRequest(http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, &domain.ProviderError{Ticker: ticker, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Ticker: ticker, Err: err}
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &domain.ProviderError{Ticker: ticker, Err: err}
	}

	if len(parsed.Chart.Result) == 0 {
		return nil, nil
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	q0 := result.Indicators.Quote[0]

	bars := make([]domain.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q0.Close) || q0.Close[i] == nil {
			continue
		}
		bars = append(bars, domain.PriceBar{
			Date:   time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Open:   floatOrZero(q0.Open, i),
			High:   floatOrZero(q0.High, i),
			Low:    floatOrZero(q0.Low, i),
			Close:  *q0.Close[i],
			Volume: floatOrZero(q0.Volume, i),
			Stock:  ticker,
		})
	}
	return bars, nil
}

func floatOrZero(s []*float64, i int) float64 {
	if i >= len(s) || s[i] == nil {
		return 0
	}
	return *s[i]
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}
