package source

import (
	"context"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/domain/models"
	"golang.org/x/time/rate"
)

// RateLimited throttles calls into an adapter with a local token bucket so
// retries and fan-out never exceed the provider's published request rate.
type RateLimited struct {
	Adapter
	limiter *rate.Limiter
}

// WithRateLimit wraps a with a limiter of rps requests per second. rps <= 0 returns a unchanged.
func WithRateLimit(a Adapter, rps float64, burst int) Adapter {
	if rps <= 0 {
		return a
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Adapter: a, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		// Wait fails fast when the deadline cannot be met; treat as local rate limiting.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errs.SourceUnavailableError{Source: r.ID(), Class: errs.ClassRateLimit, Err: err}
	}
	return nil
}

func (r *RateLimited) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := r.wait(ctx); err != nil {
		return models.Quote{}, err
	}
	return r.Adapter.FetchQuote(ctx, symbol)
}

func (r *RateLimited) FetchBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.Adapter.FetchBars(ctx, symbol, iv, start, end)
}
