package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/coinpulse/internal/analysis"
	"github.com/guttosm/coinpulse/internal/domain/dto"
	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/service"
)

// defaultHistoryPeriod applies when neither start nor period is given.
const defaultHistoryPeriod = 7 * 24 * time.Hour

// Handler provides the HTTP handlers of the market endpoints.
//
// Responsibilities:
//   - Validate incoming path and query parameters
//   - Delegate to the MarketService
//   - Attach domain errors with c.Error so middleware.ErrorHandler maps them
//   - Return structured JSON responses with appropriate HTTP status codes
type Handler struct {
	svc service.MarketService
	now func() time.Time
}

// NewHandler constructs a new Handler instance.
//
// Parameters:
//   - svc (service.MarketService): the market read operations.
//
// Returns:
//   - *Handler: A handler ready to be registered with the router.
func NewHandler(svc service.MarketService) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// GetQuote godoc
// @Summary      Get a live quote
// @Description  Returns the current 24h ticker for a symbol from the first healthy source
// @Tags         market
// @Produce      json
// @Param        symbol  path      string  true  "Symbol, e.g. BTC, ETH-USDT or SOL/USDC"  example(BTC)
// @Success      200     {object}  models.Quote
// @Failure      400     {object}  dto.ErrorResponse  "Bad Request"
// @Failure      503     {object}  dto.ErrorResponse  "All sources unavailable"
// @Router       /api/v1/quotes/{symbol} [get]
func (h *Handler) GetQuote(c *gin.Context) {
	q, err := h.svc.GetQuote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// GetOverview godoc
// @Summary      Get a market overview
// @Description  Returns the freshest quote per symbol. Symbols no source could serve are listed under missing.
// @Tags         market
// @Produce      json
// @Param        symbols  query     string  true  "Comma separated symbols"  example(BTC,ETH,SOL)
// @Success      200      {object}  models.Overview
// @Failure      400      {object}  dto.ErrorResponse  "Bad Request"
// @Router       /api/v1/overview [get]
func (h *Handler) GetOverview(c *gin.Context) {
	ov, err := h.svc.GetOverview(c.Request.Context(), splitCSV(c.Query("symbols")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// GetHistory godoc
// @Summary      Get OHLCV history
// @Description  Returns bars for [start, end). Missing bars are backfilled from the sources; ranges that could not be filled are listed under gaps.
// @Tags         history
// @Produce      json
// @Param        symbol    query     string  true   "Symbol"  example(ETH)
// @Param        interval  query     string  false  "Bar interval (1m,5m,15m,1h,4h,1d,1w)"  default(1h)
// @Param        start     query     string  false  "RFC3339 time or YYYY-MM-DD"
// @Param        end       query     string  false  "RFC3339 time or YYYY-MM-DD, defaults to now"
// @Param        period    query     string  false  "Lookback from end when start is omitted (e.g. 24h, 7d, 2w)"  default(7d)
// @Success      200       {object}  dto.HistoryResponse
// @Failure      400       {object}  dto.ErrorResponse  "Bad Request"
// @Failure      422       {object}  dto.ErrorResponse  "No data"
// @Router       /api/v1/history [get]
func (h *Handler) GetHistory(c *gin.Context) {
	iv, err := parseInterval(c.DefaultQuery("interval", string(models.Interval1h)))
	if err != nil {
		_ = c.Error(err)
		return
	}
	start, end, err := h.parseRange(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	series, err := h.svc.GetHistory(c.Request.Context(), c.Query("symbol"), iv, start, end)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewHistoryResponse(series))
}

// GetIndicators godoc
// @Summary      Compute technical indicators
// @Description  Computes the requested indicators over stored history. Indicators lacking data are reported as unavailable with a reason.
// @Tags         analysis
// @Produce      json
// @Param        symbol      query     string  true   "Symbol"  example(BTC)
// @Param        indicators  query     string  false  "Comma separated kinds (sma,ema,rsi,macd,bollinger,stochastic,williams_r,cci,momentum); empty means all"
// @Param        interval    query     string  false  "Bar interval"  default(1h)
// @Param        period      query     string  false  "Lookback window (e.g. 30d)"  default(30d)
// @Success      200         {object}  models.TechnicalIndicatorSet
// @Failure      400         {object}  dto.ErrorResponse  "Bad Request"
// @Failure      422         {object}  dto.ErrorResponse  "No data"
// @Router       /api/v1/indicators [get]
func (h *Handler) GetIndicators(c *gin.Context) {
	var window models.AnalysisWindow
	if s := c.Query("interval"); s != "" {
		iv, err := parseInterval(s)
		if err != nil {
			_ = c.Error(err)
			return
		}
		window.Interval = iv
	}
	if s := c.Query("period"); s != "" {
		d, err := parsePeriod(s)
		if err != nil {
			_ = c.Error(err)
			return
		}
		window.Lookback = d
	}

	set, err := h.svc.GetIndicators(c.Request.Context(), c.Query("symbol"), splitCSV(c.Query("indicators")), window)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// GetSymbols godoc
// @Summary      List supported symbols
// @Tags         market
// @Produce      json
// @Success      200  {object}  dto.SymbolsResponse
// @Router       /api/v1/symbols [get]
func (h *Handler) GetSymbols(c *gin.Context) {
	ivs := models.SupportedIntervals()
	resp := dto.SymbolsResponse{Symbols: h.svc.Symbols(), Intervals: make([]string, len(ivs))}
	for i, iv := range ivs {
		resp.Intervals[i] = iv.String()
	}
	for _, k := range analysis.AllKinds() {
		resp.Indicators = append(resp.Indicators, string(k))
	}
	c.JSON(http.StatusOK, resp)
}

// GetSources godoc
// @Summary      Source health
// @Description  Returns the health state of every registered source adapter
// @Tags         ops
// @Produce      json
// @Success      200  {object}  dto.SourcesResponse
// @Router       /api/v1/sources [get]
func (h *Handler) GetSources(c *gin.Context) {
	c.JSON(http.StatusOK, dto.SourcesResponse{Sources: h.svc.Sources()})
}

// GetStats godoc
// @Summary      Stored history statistics
// @Tags         ops
// @Produce      json
// @Success      200  {object}  models.DataStats
// @Failure      500  {object}  dto.ErrorResponse  "Internal Error"
// @Router       /api/v1/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// parseRange resolves start/end/period into an absolute range.
func (h *Handler) parseRange(c *gin.Context) (time.Time, time.Time, error) {
	end := h.now().UTC()
	if s := c.Query("end"); s != "" {
		t, err := parseTime("end", s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	if s := c.Query("start"); s != "" {
		start, err := parseTime("start", s)
		return start, end, err
	}

	period := defaultHistoryPeriod
	if s := c.Query("period"); s != "" {
		d, err := parsePeriod(s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		period = d
	}
	return end.Add(-period), end, nil
}

func parseInterval(s string) (models.Interval, error) {
	iv, err := models.ParseInterval(s)
	if err != nil {
		return "", errs.Invalid("interval", "unsupported interval %q", s)
	}
	return iv, nil
}

func parseTime(field, s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, errs.Invalid(field, "expected RFC3339 or YYYY-MM-DD, got %q", s)
}

// parsePeriod accepts Go durations plus day ("7d") and week ("2w") suffixes.
func parsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	var d time.Duration
	var err error
	switch {
	case strings.HasSuffix(s, "d"), strings.HasSuffix(s, "w"):
		unit := 24 * time.Hour
		if strings.HasSuffix(s, "w") {
			unit *= 7
		}
		var n int
		n, err = strconv.Atoi(s[:len(s)-1])
		d = time.Duration(n) * unit
	default:
		d, err = time.ParseDuration(s)
	}
	if err != nil || d <= 0 {
		return 0, errs.Invalid("period", "expected a positive duration like 24h, 7d or 2w, got %q", s)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
