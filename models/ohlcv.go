package models

import (
	"time"
)

// ProviderKind identifies the upstream market-data source of a series.
type ProviderKind string

const (
	ProviderBinance      ProviderKind = "binance"
	ProviderBybit        ProviderKind = "bybit"
	ProviderAlphaVantage ProviderKind = "alphavantage"
)

// Interval is the bar granularity requested from a provider. Crypto readers use
// exchange notation (1m, 5m, 1h, 1d); the equity reader uses its own names
// (1min, 5min, ...) and ignores the interval for non-intraday functions.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// DefaultAnalysisIntervals are the granularities fetched together when a caller
// asks for a multi-interval view of one trade.
var DefaultAnalysisIntervals = []Interval{Interval1m, Interval5m, Interval1h, Interval1d}

// OhlcvRecord is the canonical unit of every series. The optional fields are
// only populated by providers that report adjusted data.
type OhlcvRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Open             float64   `json:"open"`
	High             float64   `json:"high"`
	Low              float64   `json:"low"`
	Close            float64   `json:"close"`
	Volume           float64   `json:"volume"`
	AdjustedClose    *float64  `json:"adjusted_close,omitempty"`
	Dividend         *float64  `json:"dividend,omitempty"`
	SplitCoefficient *float64  `json:"split_coefficient,omitempty"`
}

// Valid reports whether the record satisfies low <= open,close <= high,
// a non-negative volume and a set timestamp.
func (r OhlcvRecord) Valid() bool {
	if r.Timestamp.IsZero() {
		return false
	}
	if r.Volume < 0 {
		return false
	}
	if r.Low > r.High {
		return false
	}
	if r.Open < r.Low || r.Open > r.High {
		return false
	}
	if r.Close < r.Low || r.Close > r.High {
		return false
	}
	return true
}

// Series is an ordered run of records. After assembly it is strictly
// increasing by timestamp.
type Series []OhlcvRecord

// Last returns the final record and false when the series is empty.
func (s Series) Last() (OhlcvRecord, bool) {
	if len(s) == 0 {
		return OhlcvRecord{}, false
	}
	return s[len(s)-1], true
}

// Ordered reports whether timestamps strictly increase.
func (s Series) Ordered() bool {
	for i := 1; i < len(s); i++ {
		if !s[i].Timestamp.After(s[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// QueryWindow is the inclusive [Start, End] range and granularity of a fetch.
type QueryWindow struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Interval Interval  `json:"interval"`
}

// Contains reports whether t lies inside the window, both ends inclusive.
func (w QueryWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// DownsampleBudget bounds the number of points handed to the consumer.
type DownsampleBudget struct {
	MaxPoints int `json:"max_points"`
}

// CanonicalSeries is the bounded, ordered and filtered output of one pipeline
// run, tagged with enough context for the consumer to tell runs apart.
type CanonicalSeries struct {
	RequestID string       `json:"request_id"`
	Provider  ProviderKind `json:"provider"`
	Symbol    string       `json:"symbol"`
	Window    QueryWindow  `json:"window"`
	Records   Series       `json:"records"`
	// Rejected counts provider rows dropped by the normalizer.
	Rejected    int       `json:"rejected"`
	Downsampled bool      `json:"downsampled"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// StreamBar is one closed kline pushed by a live stream.
type StreamBar struct {
	Provider ProviderKind `json:"provider"`
	Symbol   string       `json:"symbol"`
	Interval Interval     `json:"interval"`
	Record   OhlcvRecord  `json:"record"`
}
