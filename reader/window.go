package reader

import (
	"strings"
	"time"

	"marketfeed/models"
)

var windowLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC3339, "YYYY-MM-DD HH:MM:SS" and "YYYY-MM-DD". Values
// without a zone are read as UTC.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, InvalidInput("empty date")
	}
	for _, layout := range windowLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, InvalidInput("invalid date %q", value)
}

// ParseWindow builds a window from caller strings. A start after end is
// rejected rather than swapped.
func ParseWindow(start, end string, interval models.Interval) (models.QueryWindow, error) {
	s, err := ParseTime(start)
	if err != nil {
		return models.QueryWindow{}, err
	}
	e, err := ParseTime(end)
	if err != nil {
		return models.QueryWindow{}, err
	}
	w := models.QueryWindow{Start: s, End: e, Interval: interval}
	if err := ValidateWindow(w); err != nil {
		return models.QueryWindow{}, err
	}
	return w, nil
}

func ValidateWindow(w models.QueryWindow) error {
	if w.Start.IsZero() || w.End.IsZero() {
		return InvalidInput("window start and end are required")
	}
	if w.Start.After(w.End) {
		return InvalidInput("start %s is after end %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// ValidateRequest runs the checks every adapter performs before dialing out.
func ValidateRequest(req Request) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return InvalidInput("symbol is required")
	}
	if req.Budget.MaxPoints < 0 {
		return InvalidInput("max_points must be positive, got %d", req.Budget.MaxPoints)
	}
	return ValidateWindow(req.Window)
}
