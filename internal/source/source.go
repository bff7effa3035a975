// Package source defines the capability every upstream price provider implements,
// plus the HTTP plumbing shared by the concrete adapters.
package source

import (
	"context"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/models"
)

// Kind is what a caller needs from an adapter.
type Kind int

const (
	KindQuote Kind = iota
	KindBars
)

// Capability narrows candidate adapters to those able to serve a request.
// Interval is only meaningful for KindBars.
type Capability struct {
	Kind     Kind
	Interval models.Interval
}

// QuoteCapability is the capability for live quotes.
var QuoteCapability = Capability{Kind: KindQuote}

// BarsCapability is the capability for historical bars at iv.
func BarsCapability(iv models.Interval) Capability {
	return Capability{Kind: KindBars, Interval: iv}
}

// Adapter is one external provider. Implementations hold no cross-provider state.
//
// Errors must be classifiable by errs.ClassOf: transport failures surface as
// *errs.SourceUnavailableError, malformed payloads as *errs.ValidationError.
type Adapter interface {
	ID() string
	Supports(c Capability) bool
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
	// FetchBars returns bars with Time in [start, end), ascending.
	FetchBars(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.OHLCVBar, error)
}
