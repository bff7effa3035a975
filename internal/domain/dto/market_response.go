package dto

import "github.com/guttosm/coinpulse/internal/domain/models"

// SymbolsResponse is returned by GET /api/v1/symbols.
type SymbolsResponse struct {
	Symbols    []models.Asset `json:"symbols"`
	Intervals  []string       `json:"intervals" example:"1m,1h,1d"`
	Indicators []string       `json:"indicators" example:"rsi,macd"`
}

// SourcesResponse is returned by GET /api/v1/sources.
type SourcesResponse struct {
	Sources []models.SourceHealth `json:"sources"`
}

// HistoryResponse wraps a series with summary fields for clients that do not
// want to walk the bars.
type HistoryResponse struct {
	*models.HistoricalSeries
	Count    int  `json:"count" example:"168"`
	Complete bool `json:"complete"`
}

// NewHistoryResponse builds a HistoryResponse from a series.
func NewHistoryResponse(s *models.HistoricalSeries) HistoryResponse {
	return HistoryResponse{HistoricalSeries: s, Count: len(s.Bars), Complete: s.Complete()}
}
