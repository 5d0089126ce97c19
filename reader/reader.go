// Package reader defines the provider adapter contract shared by every
// market-data source, the error taxonomy adapters report, and request
// validation performed before any network call.
package reader

import (
	"context"

	"marketfeed/models"
)

// RawPayload is the provider-shaped response of one Fetch. It is owned by the
// adapter that produced it and only that adapter can normalize it.
//
// Instrument is the provider-side symbol the request resolved to, such as
// BTCUSDT for a BTC request.
type RawPayload interface {
	Provider() models.ProviderKind
	Instrument() string
}

// Adapter is implemented once per provider kind.
//
// Fetch performs exactly one outbound call and never retries. On failure it
// returns a *ProviderError and no payload.
//
// Normalize maps a payload from the same adapter into canonical records,
// dropping rows with missing or non-numeric price or volume fields. The second
// return value is the number of dropped rows. Records are returned in provider
// order; ordering and deduplication belong to the assembler.
type Adapter interface {
	Kind() models.ProviderKind
	Fetch(ctx context.Context, req Request) (RawPayload, error)
	Normalize(raw RawPayload) ([]models.OhlcvRecord, int, error)
	DefaultBudget() models.DownsampleBudget
}

// Request is what the core needs from a consumer's free-form trade request.
type Request struct {
	Symbol string
	Window models.QueryWindow
	// Budget overrides the adapter default when MaxPoints > 0.
	Budget models.DownsampleBudget
	Equity EquityOptions
}

// EquityOptions carries the equity time-series knobs. Interval, Adjusted,
// ExtendedHours and Month only apply to the intraday function.
type EquityOptions struct {
	Function      string
	OutputSize    string
	Adjusted      *bool
	ExtendedHours *bool
	Month         string
}

// WithInterval returns a copy of r targeting another granularity.
func (r Request) WithInterval(interval models.Interval) Request {
	r.Window.Interval = interval
	return r
}
