package main

import (
	"errors"
	"testing"

	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest(options{symbol: "IBM", start: "2024-01-01", end: "2024-02-01", interval: "1d", maxPoints: 20, function: "TIME_SERIES_WEEKLY"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Budget.MaxPoints != 20 || req.Equity.Function != "TIME_SERIES_WEEKLY" || req.Window.Interval != models.Interval1d {
		t.Fatalf("unexpected request %+v", req)
	}

	if _, err := buildRequest(options{symbol: "IBM", start: "2024-01-01", end: "2024-02-01", maxPoints: -1}); !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative budget, got %v", err)
	}
	if _, err := buildRequest(options{symbol: "IBM", start: "soon", end: "2024-02-01"}); !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad date, got %v", err)
	}
}

func TestSplitIntervals(t *testing.T) {
	got := splitIntervals(" 1m, ,5m,1h ")
	if len(got) != 3 || got[0] != models.Interval1m || got[2] != models.Interval1h {
		t.Fatalf("unexpected intervals %v", got)
	}
	if splitIntervals("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestIntervalResults(t *testing.T) {
	out, err := intervalResults([]processor.IntervalResult{
		{Interval: models.Interval1m, Series: models.CanonicalSeries{Symbol: "BTC"}},
		{Interval: models.Interval1h, Err: reader.InvalidInput("bad")},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if out[0].Series == nil || out[0].Error != "" {
		t.Fatalf("expected series for first interval, got %+v", out[0])
	}
	if out[1].Series != nil || out[1].Error == "" {
		t.Fatalf("expected error for second interval, got %+v", out[1])
	}
}
