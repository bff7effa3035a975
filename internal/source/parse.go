package source

import (
	"strconv"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/shopspring/decimal"
)

// Decimal parses a provider numeric string; empty means zero.
func Decimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errs.Invalid(field, "not a number: %q", s)
	}
	return d, nil
}

// Float parses a provider numeric string into float64.
func Float(field, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errs.Invalid(field, "not a number: %q", s)
	}
	return f, nil
}

// Decimals parses several fields at once, stopping at the first failure.
func Decimals(pairs ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		d, err := Decimal(pairs[i], pairs[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
