// Package binance adapts the Binance spot REST API.
package binance

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/source"
)

const (
	ID          = "binance"
	DefaultURL  = "https://api.binance.com"
	klinesLimit = 1000
)

// Adapter fetches tickers and klines from Binance.
type Adapter struct {
	client   *source.HTTPClient
	now      func() time.Time
	pageSize int
}

var _ source.Adapter = (*Adapter)(nil)

// New creates a Binance adapter against baseURL.
func New(baseURL string, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Adapter{client: source.NewHTTPClient(ID, baseURL, timeout), now: time.Now, pageSize: klinesLimit}
}

func (a *Adapter) ID() string { return ID }

// Supports every interval Binance publishes klines for.
func (a *Adapter) Supports(c source.Capability) bool {
	return c.Kind == source.KindQuote || c.Interval.Valid()
}

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

// FetchQuote reads /api/v3/ticker/24hr for symbol ("BTC/USDT" -> "BTCUSDT").
func (a *Adapter) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var t ticker24h
	q := url.Values{"symbol": {pair(symbol)}}
	if err := a.client.GetJSON(ctx, "/api/v3/ticker/24hr", q, &t); err != nil {
		return models.Quote{}, err
	}
	if t.LastPrice == "" {
		return models.Quote{}, errs.Invalid("lastPrice", "missing in binance ticker for %s", symbol)
	}
	d, err := source.Decimals(
		"lastPrice", t.LastPrice,
		"priceChange", t.PriceChange,
		"priceChangePercent", t.PriceChangePercent,
		"highPrice", t.HighPrice,
		"lowPrice", t.LowPrice,
		"volume", t.Volume,
	)
	if err != nil {
		return models.Quote{}, err
	}
	ts := a.now().UTC()
	if t.CloseTime > 0 {
		ts = time.UnixMilli(t.CloseTime).UTC()
	}
	return models.Quote{
		Symbol: symbol, Price: d[0], Change24h: d[1], ChangePct24h: d[2],
		High24h: d[3], Low24h: d[4], Volume24h: d[5],
		Source: ID, Timestamp: ts,
	}, nil
}

// FetchBars pages /api/v3/klines forward from start until end.
func (a *Adapter) FetchBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	var out []models.OHLCVBar
	cursor := start
	for cursor.Before(end) {
		q := url.Values{
			"symbol":    {pair(symbol)},
			"interval":  {string(iv)},
			"startTime": {strconv.FormatInt(cursor.UnixMilli(), 10)},
			"endTime":   {strconv.FormatInt(end.UnixMilli()-1, 10)},
			"limit":     {strconv.Itoa(a.pageSize)},
		}
		var rows [][]json.RawMessage
		if err := a.client.GetJSON(ctx, "/api/v3/klines", q, &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		var lastOpen time.Time
		for _, row := range rows {
			bar, err := parseKline(symbol, iv, row)
			if err != nil {
				return nil, err
			}
			lastOpen = bar.Time
			if !bar.Time.Before(start) && bar.Time.Before(end) {
				out = append(out, bar)
			}
		}
		next := lastOpen.Add(iv.Duration())
		if !next.After(cursor) || len(rows) < a.pageSize {
			break
		}
		cursor = next
	}
	return out, nil
}

// kline row: [openTime, open, high, low, close, volume, closeTime, ...]
func parseKline(symbol string, iv models.Interval, row []json.RawMessage) (models.OHLCVBar, error) {
	if len(row) < 6 {
		return models.OHLCVBar{}, errs.Invalid("kline", "expected at least 6 fields, got %d", len(row))
	}
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return models.OHLCVBar{}, errs.Invalid("kline.openTime", "%v", err)
	}
	vals := make([]float64, 5)
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return models.OHLCVBar{}, errs.Invalid("kline", "field %d: %v", i+1, err)
		}
		f, err := source.Float("kline", s)
		if err != nil {
			return models.OHLCVBar{}, err
		}
		vals[i] = f
	}
	return models.OHLCVBar{
		Symbol: symbol, Interval: iv, Time: time.UnixMilli(openTime).UTC(),
		Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		Source: ID,
	}, nil
}

func pair(symbol string) string { return strings.ReplaceAll(symbol, "/", "") }
