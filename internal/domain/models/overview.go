package models

import "time"

// Overview is the result of a batch quote lookup.
//
// Quotes holds the freshest valid quote per symbol; Missing lists symbols
// for which no provider returned a valid quote, with the reason.
type Overview struct {
	Quotes  map[string]Quote  `json:"quotes"`
	Missing map[string]string `json:"missing,omitempty"`
	AsOf    time.Time         `json:"as_of"`
}

// IndicatorResult is either a set of named values or an unavailable marker.
type IndicatorResult struct {
	Values      map[string]float64 `json:"values,omitempty"`
	Unavailable bool               `json:"unavailable,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// TechnicalIndicatorSet is the sparse outcome of an analysis request.
type TechnicalIndicatorSet struct {
	Symbol     string                     `json:"symbol"`
	Interval   Interval                   `json:"interval" swaggertype:"string"`
	AsOf       time.Time                  `json:"as_of"`
	DataPoints int                        `json:"data_points"`
	LastClose  float64                    `json:"last_close"`
	Indicators map[string]IndicatorResult `json:"indicators"`
	Signals    map[string]string          `json:"signals,omitempty"`
	Gaps       int                        `json:"gaps,omitempty"`
}

// AnalysisWindow is how much history an analysis pulls.
type AnalysisWindow struct {
	Interval Interval      `json:"interval"`
	Lookback time.Duration `json:"lookback"`
}
