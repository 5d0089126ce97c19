package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func bar(ts time.Time, open, high, low, close, volume float64) OhlcvRecord {
	return OhlcvRecord{Timestamp: ts, Open: open, High: high, Low: low, Close: close, Volume: volume}
}

func TestRecordValid(t *testing.T) {
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		rec  OhlcvRecord
		want bool
	}{
		{"ok", bar(ts, 10, 12, 9, 11, 100), true},
		{"flat bar", bar(ts, 10, 10, 10, 10, 0), true},
		{"zero timestamp", bar(time.Time{}, 10, 12, 9, 11, 100), false},
		{"negative volume", bar(ts, 10, 12, 9, 11, -1), false},
		{"low above high", bar(ts, 10, 9, 12, 11, 1), false},
		{"open outside", bar(ts, 13, 12, 9, 11, 1), false},
		{"close outside", bar(ts, 10, 12, 9, 8, 1), false},
	}
	for _, tc := range cases {
		if got := tc.rec.Valid(); got != tc.want {
			t.Fatalf("%s: Valid() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSeriesOrderedAndLast(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{bar(t0, 1, 1, 1, 1, 0), bar(t0.Add(time.Hour), 1, 1, 1, 1, 0)}
	if !s.Ordered() {
		t.Fatalf("expected ordered series")
	}
	if last, ok := s.Last(); !ok || !last.Timestamp.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected last %v %v", last, ok)
	}

	dup := Series{s[0], s[0]}
	if dup.Ordered() {
		t.Fatalf("duplicate timestamps must not count as ordered")
	}
	if _, ok := (Series{}).Last(); ok {
		t.Fatalf("empty series has no last record")
	}
}

func TestWindowContainsIsInclusive(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := QueryWindow{Start: start, End: start.Add(24 * time.Hour)}
	if !w.Contains(start) || !w.Contains(w.End) {
		t.Fatalf("window bounds must be inclusive")
	}
	if w.Contains(start.Add(-time.Nanosecond)) || w.Contains(w.End.Add(time.Nanosecond)) {
		t.Fatalf("points outside the window must be excluded")
	}
}

func TestOptionalFieldsOmitted(t *testing.T) {
	data, err := json.Marshal(bar(time.Unix(0, 0).UTC(), 1, 1, 1, 1, 1))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "adjusted_close") {
		t.Fatalf("unset optional fields must be omitted: %s", data)
	}
}
