package models

import (
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/shopspring/decimal"
)

// Quote is a live 24h ticker snapshot from one provider.
//
// Monetary fields use decimal.Decimal so prices survive JSON and cache
// round-trips without float drift.
type Quote struct {
	Symbol       string          `json:"symbol" example:"BTC/USDT"`
	Price        decimal.Decimal `json:"price" swaggertype:"string" example:"67012.5"`
	Change24h    decimal.Decimal `json:"change_24h" swaggertype:"string" example:"-120.3"`
	ChangePct24h decimal.Decimal `json:"change_pct_24h" swaggertype:"string" example:"-0.18"`
	High24h      decimal.Decimal `json:"high_24h" swaggertype:"string" example:"68000"`
	Low24h       decimal.Decimal `json:"low_24h" swaggertype:"string" example:"66000"`
	Volume24h    decimal.Decimal `json:"volume_24h" swaggertype:"string" example:"12345.67"`
	Source       string          `json:"source" example:"binance"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Validate checks the quote invariants against now with the given clock-skew tolerance.
func (q Quote) Validate(now time.Time, skew time.Duration) error {
	switch {
	case q.Symbol == "":
		return errs.Invalid("symbol", "missing")
	case q.Source == "":
		return errs.Invalid("source", "missing")
	case q.Timestamp.IsZero():
		return errs.Invalid("timestamp", "missing")
	case q.Price.IsNegative():
		return errs.Invalid("price", "negative price %s", q.Price)
	case q.Timestamp.After(now.Add(skew)):
		return errs.Invalid("timestamp", "%s is ahead of now beyond %s skew", q.Timestamp.Format(time.RFC3339), skew)
	}
	return nil
}

// ChangeFromOpen derives the absolute and percentage 24h change from an opening price.
func ChangeFromOpen(last, open decimal.Decimal) (abs, pct decimal.Decimal) {
	abs = last.Sub(open)
	if open.IsZero() {
		return abs, decimal.Zero
	}
	return abs, abs.Div(open).Mul(decimal.NewFromInt(100)).Round(4)
}
