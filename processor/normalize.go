package processor

import (
	"math"
	"strconv"
	"strings"
	"time"

	"marketfeed/models"
)

// RequiredFields are the values every canonical record must carry.
type RequiredFields struct {
	Open, High, Low, Close, Volume string
}

// OptionalFields are only reported by adjusted equity series.
type OptionalFields struct {
	AdjustedClose, Dividend, SplitCoefficient *string
}

// ParseFloat is the tolerant numeric parse shared by all providers: surrounding
// whitespace is ignored and NaN or infinities are treated as unparsable.
func ParseFloat(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseOptional(raw *string) *float64 {
	if raw == nil {
		return nil
	}
	v, ok := ParseFloat(*raw)
	if !ok {
		return nil
	}
	return &v
}

// BuildRecord converts provider strings into a canonical record. It reports
// false when any required field is missing or non-numeric, or when the result
// breaks the OHLC ordering or has negative volume. Optional fields that fail
// to parse are left absent and never reject the record.
func BuildRecord(ts time.Time, req RequiredFields, opt OptionalFields) (models.OhlcvRecord, bool) {
	open, ok := ParseFloat(req.Open)
	if !ok {
		return models.OhlcvRecord{}, false
	}
	high, ok := ParseFloat(req.High)
	if !ok {
		return models.OhlcvRecord{}, false
	}
	low, ok := ParseFloat(req.Low)
	if !ok {
		return models.OhlcvRecord{}, false
	}
	closePrice, ok := ParseFloat(req.Close)
	if !ok {
		return models.OhlcvRecord{}, false
	}
	volume, ok := ParseFloat(req.Volume)
	if !ok {
		return models.OhlcvRecord{}, false
	}

	rec := models.OhlcvRecord{
		Timestamp:        ts.UTC(),
		Open:             open,
		High:             high,
		Low:              low,
		Close:            closePrice,
		Volume:           volume,
		AdjustedClose:    parseOptional(opt.AdjustedClose),
		Dividend:         parseOptional(opt.Dividend),
		SplitCoefficient: parseOptional(opt.SplitCoefficient),
	}
	if !rec.Valid() {
		return models.OhlcvRecord{}, false
	}
	return rec, true
}
