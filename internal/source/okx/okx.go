// Package okx adapts the OKX v5 public market REST API.
package okx

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/source"
)

const (
	ID         = "okx"
	DefaultURL = "https://www.okx.com"
	pageLimit  = 100
)

// OKX bar names differ from ours for hour and longer intervals.
var barNames = map[models.Interval]string{
	models.Interval1m:  "1m",
	models.Interval5m:  "5m",
	models.Interval15m: "15m",
	models.Interval1h:  "1H",
	models.Interval4h:  "4H",
	models.Interval1d:  "1Dutc",
	models.Interval1w:  "1Wutc",
}

// Adapter fetches tickers and history candles from OKX.
type Adapter struct {
	client   *source.HTTPClient
	pageSize int
}

var _ source.Adapter = (*Adapter)(nil)

// New creates an OKX adapter against baseURL.
func New(baseURL string, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Adapter{client: source.NewHTTPClient(ID, baseURL, timeout), pageSize: pageLimit}
}

func (a *Adapter) ID() string { return ID }

func (a *Adapter) Supports(c source.Capability) bool {
	if c.Kind == source.KindQuote {
		return true
	}
	_, ok := barNames[c.Interval]
	return ok
}

// envelope is the common OKX response wrapper; code "0" means success.
type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func (e envelope[T]) err(path string) error {
	if e.Code == "0" {
		return nil
	}
	// 50011: rate limit; 50001/50013: service busy or unavailable.
	switch e.Code {
	case "50011":
		return &errs.SourceUnavailableError{Source: ID, Class: errs.ClassRateLimit, Err: errFromMsg(path, e.Msg)}
	case "50001", "50013":
		return &errs.SourceUnavailableError{Source: ID, Class: errs.ClassServer, Err: errFromMsg(path, e.Msg)}
	}
	return errs.Invalid("code", "okx %s: code %s: %s", path, e.Code, e.Msg)
}

type ticker struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Vol24h  string `json:"vol24h"`
	Ts      string `json:"ts"`
}

// FetchQuote reads /api/v5/market/ticker for symbol ("BTC/USDT" -> "BTC-USDT").
func (a *Adapter) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	const path = "/api/v5/market/ticker"
	var env envelope[ticker]
	if err := a.client.GetJSON(ctx, path, url.Values{"instId": {instID(symbol)}}, &env); err != nil {
		return models.Quote{}, err
	}
	if err := env.err(path); err != nil {
		return models.Quote{}, err
	}
	if len(env.Data) == 0 || env.Data[0].Last == "" {
		return models.Quote{}, errs.Invalid("data", "empty okx ticker for %s", symbol)
	}
	t := env.Data[0]
	d, err := source.Decimals("last", t.Last, "open24h", t.Open24h, "high24h", t.High24h, "low24h", t.Low24h, "vol24h", t.Vol24h)
	if err != nil {
		return models.Quote{}, err
	}
	ms, err := strconv.ParseInt(t.Ts, 10, 64)
	if err != nil {
		return models.Quote{}, errs.Invalid("ts", "not a timestamp: %q", t.Ts)
	}
	change, pct := models.ChangeFromOpen(d[0], d[1])
	return models.Quote{
		Symbol: symbol, Price: d[0], Change24h: change, ChangePct24h: pct,
		High24h: d[2], Low24h: d[3], Volume24h: d[4],
		Source: ID, Timestamp: time.UnixMilli(ms).UTC(),
	}, nil
}

// FetchBars walks /api/v5/market/history-candles backwards from end.
// OKX returns newest first; "after" asks for records older than the given ts.
func (a *Adapter) FetchBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	const path = "/api/v5/market/history-candles"
	bar, ok := barNames[iv]
	if !ok {
		return nil, errs.Invalid("interval", "okx does not serve %s", iv)
	}

	var out []models.OHLCVBar
	after := end.UnixMilli()
	for {
		q := url.Values{
			"instId": {instID(symbol)},
			"bar":    {bar},
			"after":  {strconv.FormatInt(after, 10)},
			"limit":  {strconv.Itoa(a.pageSize)},
		}
		var env envelope[[]string]
		if err := a.client.GetJSON(ctx, path, q, &env); err != nil {
			return nil, err
		}
		if err := env.err(path); err != nil {
			return nil, err
		}
		if len(env.Data) == 0 {
			break
		}

		oldest := after
		for _, row := range env.Data {
			b, err := parseCandle(symbol, iv, row)
			if err != nil {
				return nil, err
			}
			ms := b.Time.UnixMilli()
			if ms < oldest {
				oldest = ms
			}
			if !b.Time.Before(start) && b.Time.Before(end) {
				out = append(out, b)
			}
		}
		if oldest <= start.UnixMilli() || oldest >= after || len(env.Data) < a.pageSize {
			break
		}
		after = oldest
	}
	return models.SortBars(out), nil
}

// candle row: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
func parseCandle(symbol string, iv models.Interval, row []string) (models.OHLCVBar, error) {
	if len(row) < 6 {
		return models.OHLCVBar{}, errs.Invalid("candle", "expected at least 6 fields, got %d", len(row))
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.OHLCVBar{}, errs.Invalid("candle.ts", "not a timestamp: %q", row[0])
	}
	vals := make([]float64, 5)
	for i := range vals {
		if vals[i], err = source.Float("candle", row[i+1]); err != nil {
			return models.OHLCVBar{}, err
		}
	}
	return models.OHLCVBar{
		Symbol: symbol, Interval: iv, Time: time.UnixMilli(ms).UTC(),
		Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		Source: ID,
	}, nil
}

func instID(symbol string) string { return strings.ReplaceAll(symbol, "/", "-") }

type msgError string

func (m msgError) Error() string { return string(m) }

func errFromMsg(path, msg string) error { return msgError(path + ": " + msg) }
