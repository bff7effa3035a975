package models

import (
	"slices"
	"strings"

	"github.com/guttosm/coinpulse/internal/domain/errs"
)

// DefaultQuoteAsset is appended to bare symbols ("BTC" -> "BTC/USDT").
const DefaultQuoteAsset = "USDT"

var knownQuoteAssets = []string{"USDT", "USDC", "BUSD", "USD"}

// NormalizeSymbol turns user input into the canonical BASE/QUOTE form.
//
// Examples:
//
//	"btc"      -> "BTC/USDT"
//	"eth-usdt" -> "ETH/USDT"
//	"SOLUSDC"  -> "SOL/USDC"
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "/", "_", "/").Replace(s)
	if s == "" {
		return "", errs.Invalid("symbol", "symbol is required")
	}

	var base, quote string
	if i := strings.IndexByte(s, '/'); i >= 0 {
		base, quote = s[:i], s[i+1:]
	} else {
		base, quote = s, DefaultQuoteAsset
		if !slices.Contains(knownQuoteAssets, s) {
			for _, q := range knownQuoteAssets {
				if strings.HasSuffix(s, q) {
					base, quote = strings.TrimSuffix(s, q), q
					break
				}
			}
		}
	}

	if !validAsset(base) || !validAsset(quote) {
		return "", errs.Invalid("symbol", "invalid symbol %q", raw)
	}
	if base == quote {
		return "", errs.Invalid("symbol", "base and quote of %q are the same asset", raw)
	}
	return base + "/" + quote, nil
}

// SplitSymbol returns base and quote of a normalized symbol.
func SplitSymbol(symbol string) (base, quote string) {
	base, quote, _ = strings.Cut(symbol, "/")
	return base, quote
}

func validAsset(a string) bool {
	if len(a) < 2 || len(a) > 10 {
		return false
	}
	for _, r := range a {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Asset is a tradable base asset advertised by the API.
type Asset struct {
	Symbol string `json:"symbol" example:"BTC"`
	Name   string `json:"name" example:"Bitcoin"`
}

// SupportedAssets is the advertised symbol list. Any symbol a provider lists
// can still be queried.
var SupportedAssets = []Asset{
	{"BTC", "Bitcoin"},
	{"ETH", "Ethereum"},
	{"ADA", "Cardano"},
	{"DOT", "Polkadot"},
	{"LINK", "Chainlink"},
	{"LTC", "Litecoin"},
	{"XRP", "Ripple"},
	{"BNB", "Binance Coin"},
	{"SOL", "Solana"},
	{"MATIC", "Polygon"},
}
