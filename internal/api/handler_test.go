package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/coinpulse/internal/domain/dto"
	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/middleware"
	"github.com/guttosm/coinpulse/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 9, 17, 12, 30, 0, 0, time.UTC)

// mockMarketService records the arguments of the last call.
type mockMarketService struct {
	err error

	symbol     string
	symbols    []string
	interval   models.Interval
	start, end time.Time
	indicators []string
	window     models.AnalysisWindow
}

var _ service.MarketService = (*mockMarketService)(nil)

func (m *mockMarketService) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	m.symbol = symbol
	if m.err != nil {
		return nil, m.err
	}
	return &models.Quote{Symbol: "BTC/USDT", Price: decimal.RequireFromString("67012.5"), Source: "binance", Timestamp: fixedNow}, nil
}

func (m *mockMarketService) GetOverview(_ context.Context, symbols []string) (*models.Overview, error) {
	m.symbols = symbols
	if m.err != nil {
		return nil, m.err
	}
	return &models.Overview{
		Quotes:  map[string]models.Quote{"BTC/USDT": {Symbol: "BTC/USDT", Price: decimal.NewFromInt(1), Source: "okx", Timestamp: fixedNow}},
		Missing: map[string]string{"SOL/USDT": "all sources unavailable for SOL/USDT: no eligible source"},
		AsOf:    fixedNow,
	}, nil
}

func (m *mockMarketService) GetHistory(_ context.Context, symbol string, iv models.Interval, start, end time.Time) (*models.HistoricalSeries, error) {
	m.symbol, m.interval, m.start, m.end = symbol, iv, start, end
	if m.err != nil {
		return nil, m.err
	}
	return &models.HistoricalSeries{
		Symbol: "ETH/USDT", Interval: iv, Start: start, End: end,
		Bars: []models.OHLCVBar{{Symbol: "ETH/USDT", Interval: iv, Time: start, Open: 1, High: 1, Low: 1, Close: 1}},
	}, nil
}

func (m *mockMarketService) GetIndicators(_ context.Context, symbol string, indicators []string, w models.AnalysisWindow) (*models.TechnicalIndicatorSet, error) {
	m.symbol, m.indicators, m.window = symbol, indicators, w
	if m.err != nil {
		return nil, m.err
	}
	return &models.TechnicalIndicatorSet{
		Symbol: "BTC/USDT",
		Indicators: map[string]models.IndicatorResult{
			"rsi_14": {Values: map[string]float64{"value": 55}},
			"sma_50": {Unavailable: true, Reason: "insufficient data for sma_50: required 50, available 20"},
		},
	}, nil
}

func (m *mockMarketService) RefreshOverview(ctx context.Context, symbols []string) (*models.Overview, error) {
	return m.GetOverview(ctx, symbols)
}

func (m *mockMarketService) Symbols() []models.Asset { return models.SupportedAssets }

func (m *mockMarketService) Sources() []models.SourceHealth {
	return []models.SourceHealth{{AdapterID: "binance", Priority: 1, State: models.Degraded, ConsecutiveFailures: 3}}
}

func (m *mockMarketService) Stats(context.Context) (*models.DataStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.DataStats{TotalBars: 42}, nil
}

func setupRouterWithMock(s service.MarketService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(s)
	h.now = func() time.Time { return fixedNow }
	r := gin.New()
	r.Use(middleware.ErrorHandler)
	v1 := r.Group("/api/v1")
	v1.GET("/quotes/:symbol", h.GetQuote)
	v1.GET("/overview", h.GetOverview)
	v1.GET("/history", h.GetHistory)
	v1.GET("/indicators", h.GetIndicators)
	v1.GET("/symbols", h.GetSymbols)
	v1.GET("/sources", h.GetSources)
	v1.GET("/stats", h.GetStats)
	return r
}

func do(r *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHandlers_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		query  string
		status int
	}{
		{name: "quote ok", query: "/api/v1/quotes/btc", status: http.StatusOK},
		{name: "quote all sources down", err: &errs.AllSourcesUnavailableError{Symbol: "BTC/USDT"}, query: "/api/v1/quotes/btc", status: http.StatusServiceUnavailable},
		{name: "quote bad symbol", err: errs.Invalid("symbol", "invalid symbol"), query: "/api/v1/quotes/%24%24", status: http.StatusBadRequest},
		{name: "overview ok", query: "/api/v1/overview?symbols=BTC,SOL", status: http.StatusOK},
		{name: "history ok", query: "/api/v1/history?symbol=eth", status: http.StatusOK},
		{name: "history bad interval", query: "/api/v1/history?symbol=eth&interval=3h", status: http.StatusBadRequest},
		{name: "history bad start", query: "/api/v1/history?symbol=eth&start=yesterday", status: http.StatusBadRequest},
		{name: "history bad period", query: "/api/v1/history?symbol=eth&period=-1d", status: http.StatusBadRequest},
		{name: "history no data", err: &errs.InsufficientDataError{Required: 1}, query: "/api/v1/history?symbol=eth", status: http.StatusUnprocessableEntity},
		{name: "indicators ok", query: "/api/v1/indicators?symbol=btc&indicators=rsi,sma", status: http.StatusOK},
		{name: "indicators bad period", query: "/api/v1/indicators?symbol=btc&period=soon", status: http.StatusBadRequest},
		{name: "stats internal error", err: errors.New("db down"), query: "/api/v1/stats", status: http.StatusInternalServerError},
		{name: "symbols", query: "/api/v1/symbols", status: http.StatusOK},
		{name: "sources", query: "/api/v1/sources", status: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(setupRouterWithMock(&mockMarketService{err: tc.err}), tc.query)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.status >= 400 {
				var body dto.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestGetQuote_Body(t *testing.T) {
	m := &mockMarketService{}
	w := do(setupRouterWithMock(m), "/api/v1/quotes/btc")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "btc", m.symbol)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "67012.5", out["price"], "decimals are rendered as strings")
}

func TestGetOverview_PassesSymbolsAndMissing(t *testing.T) {
	m := &mockMarketService{}
	w := do(setupRouterWithMock(m), "/api/v1/overview?symbols=BTC,%20SOL,,")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"BTC", "SOL"}, m.symbols)

	var ov models.Overview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ov))
	assert.Contains(t, ov.Missing, "SOL/USDT")
}

func TestGetHistory_Range(t *testing.T) {
	cases := []struct {
		name      string
		query     string
		wantStart time.Time
		wantEnd   time.Time
		wantIv    models.Interval
	}{
		{
			name: "default period", query: "symbol=eth",
			wantStart: fixedNow.Add(-7 * 24 * time.Hour), wantEnd: fixedNow, wantIv: models.Interval1h,
		},
		{
			name: "period in days", query: "symbol=eth&interval=1D&period=30d",
			wantStart: fixedNow.Add(-30 * 24 * time.Hour), wantEnd: fixedNow, wantIv: models.Interval1d,
		},
		{
			name: "explicit range", query: "symbol=eth&start=2025-09-01&end=2025-09-02T06:00:00Z",
			wantStart: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), wantEnd: time.Date(2025, 9, 2, 6, 0, 0, 0, time.UTC), wantIv: models.Interval1h,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockMarketService{}
			w := do(setupRouterWithMock(m), "/api/v1/history?"+tc.query)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tc.wantStart, m.start)
			assert.Equal(t, tc.wantEnd, m.end)
			assert.Equal(t, tc.wantIv, m.interval)

			var resp struct {
				Count    int  `json:"count"`
				Complete bool `json:"complete"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, 1, resp.Count)
			assert.True(t, resp.Complete)
		})
	}
}

func TestGetIndicators_Window(t *testing.T) {
	m := &mockMarketService{}
	w := do(setupRouterWithMock(m), "/api/v1/indicators?symbol=btc&indicators=rsi,%20macd&interval=4h&period=2w")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"rsi", "macd"}, m.indicators)
	assert.Equal(t, models.AnalysisWindow{Interval: models.Interval4h, Lookback: 14 * 24 * time.Hour}, m.window)

	var set models.TechnicalIndicatorSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.True(t, set.Indicators["sma_50"].Unavailable)
}

func TestGetSymbolsAndSources(t *testing.T) {
	r := setupRouterWithMock(&mockMarketService{})

	var syms dto.SymbolsResponse
	require.NoError(t, json.Unmarshal(do(r, "/api/v1/symbols").Body.Bytes(), &syms))
	assert.Len(t, syms.Symbols, len(models.SupportedAssets))
	assert.Contains(t, syms.Intervals, "1h")
	assert.Contains(t, syms.Indicators, "bollinger")

	var src struct {
		Sources []struct {
			AdapterID string `json:"adapter_id"`
			State     string `json:"state"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(do(r, "/api/v1/sources").Body.Bytes(), &src))
	require.Len(t, src.Sources, 1)
	assert.Equal(t, "degraded", src.Sources[0].State)
}

func TestParsePeriod(t *testing.T) {
	cases := map[string]time.Duration{
		"24h": 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"2W":  14 * 24 * time.Hour,
		"90m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, err := parsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "0d", "d", "-2h", "week"} {
		_, err := parsePeriod(bad)
		assert.Error(t, err, bad)
	}
}
