package app

import (
	"fmt"
	"math"
	"strings"

	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/router"
	"github.com/guttosm/coinpulse/internal/source"
	"github.com/guttosm/coinpulse/internal/source/binance"
	"github.com/guttosm/coinpulse/internal/source/coingecko"
	"github.com/guttosm/coinpulse/internal/source/okx"
)

// buildSources instantiates every enabled provider, wrapped with its local
// rate limit, in the order given by PROVIDERS_ENABLED.
func buildSources(cfg config.ProvidersConfig) ([]router.Registration, error) {
	var regs []router.Registration
	seen := map[string]bool{}
	for _, name := range cfg.Enabled {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true

		var (
			a  source.Adapter
			pc config.ProviderConfig
		)
		switch name {
		case binance.ID:
			pc = cfg.Binance
			a = binance.New(pc.BaseURL, pc.Timeout)
		case okx.ID:
			pc = cfg.OKX
			a = okx.New(pc.BaseURL, pc.Timeout)
		case coingecko.ID:
			pc = cfg.CoinGecko
			a = coingecko.New(pc.BaseURL, pc.Timeout)
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}

		burst := max(1, int(math.Ceil(pc.RateLimit)))
		regs = append(regs, router.Registration{Adapter: source.WithRateLimit(a, pc.RateLimit, burst), Priority: pc.Priority})
	}
	if len(regs) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}
	return regs, nil
}
