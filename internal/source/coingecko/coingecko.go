// Package coingecko adapts the CoinGecko public API. It only serves daily bars.
package coingecko

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/source"
	"github.com/shopspring/decimal"
)

const (
	ID         = "coingecko"
	DefaultURL = "https://api.coingecko.com"
)

// coinIDs maps base assets to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"BNB":   "binancecoin",
	"ADA":   "cardano",
	"SOL":   "solana",
	"XRP":   "ripple",
	"DOT":   "polkadot",
	"DOGE":  "dogecoin",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
	"LTC":   "litecoin",
	"TRX":   "tron",
	"ATOM":  "cosmos",
}

// SupportedBases lists the base assets with a known CoinGecko id, sorted by market relevance.
func SupportedBases() []string {
	return []string{"BTC", "ETH", "BNB", "SOL", "XRP", "ADA", "DOGE", "TRX", "DOT", "AVAX", "MATIC", "LINK", "LTC", "ATOM"}
}

// Adapter fetches market snapshots and daily history from CoinGecko.
type Adapter struct {
	client *source.HTTPClient
}

var _ source.Adapter = (*Adapter)(nil)

// New creates a CoinGecko adapter against baseURL.
func New(baseURL string, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Adapter{client: source.NewHTTPClient(ID, baseURL, timeout)}
}

func (a *Adapter) ID() string { return ID }

func (a *Adapter) Supports(c source.Capability) bool {
	return c.Kind == source.KindQuote || c.Interval == models.Interval1d
}

type market struct {
	ID                       string          `json:"id"`
	CurrentPrice             decimal.Decimal `json:"current_price"`
	PriceChange24h           decimal.Decimal `json:"price_change_24h"`
	PriceChangePercentage24h decimal.Decimal `json:"price_change_percentage_24h"`
	High24h                  decimal.Decimal `json:"high_24h"`
	Low24h                   decimal.Decimal `json:"low_24h"`
	TotalVolume              decimal.Decimal `json:"total_volume"`
	LastUpdated              time.Time       `json:"last_updated"`
}

// FetchQuote reads /api/v3/coins/markets for the symbol's coin id.
func (a *Adapter) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	id, vs, err := resolve(symbol)
	if err != nil {
		return models.Quote{}, err
	}
	var rows []market
	q := url.Values{"vs_currency": {vs}, "ids": {id}}
	if err := a.client.GetJSON(ctx, "/api/v3/coins/markets", q, &rows); err != nil {
		return models.Quote{}, err
	}
	if len(rows) == 0 {
		return models.Quote{}, errs.Invalid("data", "coingecko returned no market for %s", id)
	}
	m := rows[0]
	return models.Quote{
		Symbol: symbol, Price: m.CurrentPrice,
		Change24h: m.PriceChange24h, ChangePct24h: m.PriceChangePercentage24h.Round(4),
		High24h: m.High24h, Low24h: m.Low24h, Volume24h: m.TotalVolume,
		Source: ID, Timestamp: m.LastUpdated.UTC(),
	}, nil
}

type marketChart struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// FetchBars builds daily bars from /api/v3/coins/{id}/market_chart/range.
// CoinGecko only exposes price points, so each day's OHLC is derived from the
// points that fall in it.
func (a *Adapter) FetchBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	if iv != models.Interval1d {
		return nil, errs.Invalid("interval", "coingecko only serves 1d bars, got %s", iv)
	}
	id, vs, err := resolve(symbol)
	if err != nil {
		return nil, err
	}
	var chart marketChart
	q := url.Values{
		"vs_currency": {vs},
		"from":        {strconv.FormatInt(start.Unix(), 10)},
		"to":          {strconv.FormatInt(end.Unix(), 10)},
	}
	if err := a.client.GetJSON(ctx, "/api/v3/coins/"+id+"/market_chart/range", q, &chart); err != nil {
		return nil, err
	}

	volumes := make(map[int64]float64, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		day := iv.Truncate(time.UnixMilli(int64(v[0]))).Unix()
		volumes[day] = v[1]
	}

	byDay := map[int64]*models.OHLCVBar{}
	var order []int64
	for _, p := range chart.Prices {
		ts := time.UnixMilli(int64(p[0])).UTC()
		day := iv.Truncate(ts)
		if day.Before(start) || !day.Before(end) {
			continue
		}
		key := day.Unix()
		b, ok := byDay[key]
		if !ok {
			b = &models.OHLCVBar{Symbol: symbol, Interval: iv, Time: day, Open: p[1], High: p[1], Low: p[1], Source: ID}
			byDay[key] = b
			order = append(order, key)
		}
		b.High = max(b.High, p[1])
		b.Low = min(b.Low, p[1])
		b.Close = p[1]
	}

	out := make([]models.OHLCVBar, 0, len(order))
	for _, key := range order {
		b := byDay[key]
		b.Volume = volumes[key]
		out = append(out, *b)
	}
	return models.SortBars(out), nil
}

func resolve(symbol string) (id, vs string, err error) {
	base, quote := models.SplitSymbol(symbol)
	id, ok := coinIDs[base]
	if !ok {
		return "", "", errs.Invalid("symbol", "coingecko has no coin id for %s", base)
	}
	switch quote {
	case "USDT", "USDC", "BUSD", "USD":
		vs = "usd"
	default:
		vs = strings.ToLower(quote)
	}
	return id, vs, nil
}
