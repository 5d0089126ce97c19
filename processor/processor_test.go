package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketfeed/config"
	"marketfeed/models"
	"marketfeed/reader"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64) models.OhlcvRecord {
	return models.OhlcvRecord{
		Timestamp: base.Add(time.Duration(i) * time.Hour),
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
	}
}

func hourly(n int) models.Series {
	out := make(models.Series, n)
	for i := range out {
		out[i] = bar(i, float64(100+i))
	}
	return out
}

func TestDownsampleKeepsLastRecord(t *testing.T) {
	series := hourly(1000)
	out := Downsample(series, models.DownsampleBudget{MaxPoints: 500})
	if len(out) != 500 {
		t.Fatalf("expected 500 points, got %d", len(out))
	}
	if !out[0].Timestamp.Equal(series[0].Timestamp) {
		t.Fatalf("first point must be the first input record")
	}
	last, _ := out.Last()
	if !last.Timestamp.Equal(series[999].Timestamp) || last.Close != series[999].Close {
		t.Fatalf("last point must be the final input record, got %+v", last)
	}
	if !out.Ordered() {
		t.Fatalf("downsampled series must stay ordered")
	}
}

func TestDownsampleAppendsLastWhenRoomLeft(t *testing.T) {
	out := Downsample(hourly(10), models.DownsampleBudget{MaxPoints: 4})
	want := []int{0, 3, 6, 9}
	if len(out) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(out))
	}
	for i, idx := range want {
		if !out[i].Timestamp.Equal(bar(idx, 0).Timestamp) {
			t.Fatalf("point %d: expected input %d, got %v", i, idx, out[i].Timestamp)
		}
	}

	out = Downsample(hourly(10), models.DownsampleBudget{MaxPoints: 3})
	want = []int{0, 4, 9}
	for i, idx := range want {
		if !out[i].Timestamp.Equal(bar(idx, 0).Timestamp) {
			t.Fatalf("point %d: expected input %d, got %v", i, idx, out[i].Timestamp)
		}
	}
}

func TestDownsampleBoundsAcrossSizes(t *testing.T) {
	for n := 1; n <= 400; n++ {
		series := hourly(n)
		for max := 1; max <= 120; max++ {
			out := Downsample(series, models.DownsampleBudget{MaxPoints: max})
			if n <= max {
				if len(out) != n {
					t.Fatalf("n=%d max=%d: expected identity, got %d points", n, max, len(out))
				}
				continue
			}
			if len(out) == 0 || len(out) > max {
				t.Fatalf("n=%d max=%d: got %d points", n, max, len(out))
			}
			if last, _ := out.Last(); !last.Timestamp.Equal(series[n-1].Timestamp) {
				t.Fatalf("n=%d max=%d: last record dropped", n, max)
			}
			if !out.Ordered() {
				t.Fatalf("n=%d max=%d: output not strictly increasing", n, max)
			}
			for _, rec := range out {
				i := int(rec.Timestamp.Sub(base) / time.Hour)
				if i < 0 || i >= n || rec != series[i] {
					t.Fatalf("n=%d max=%d: %v is not an input record", n, max, rec.Timestamp)
				}
			}
		}
	}
}

func TestDownsampleWithinBudgetIsIdentity(t *testing.T) {
	series := hourly(20)
	for _, budget := range []int{0, 20, 50} {
		out := Downsample(series, models.DownsampleBudget{MaxPoints: budget})
		if len(out) != len(series) {
			t.Fatalf("budget %d: expected %d points, got %d", budget, len(series), len(out))
		}
	}
}

func TestAssembleOrdersAndKeepsFirstDuplicate(t *testing.T) {
	records := []models.OhlcvRecord{bar(2, 102), bar(0, 100), bar(1, 101), bar(1, 555)}
	broken := bar(3, 103)
	broken.Low = broken.High + 1
	records = append(records, broken)

	out := Assemble(records)
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if !out.Ordered() {
		t.Fatalf("assembled series must be strictly increasing")
	}
	if out[1].Close != 101 {
		t.Fatalf("duplicate timestamp must keep the first record, got close %v", out[1].Close)
	}
	if records[0].Close != 102 {
		t.Fatalf("input must not be reordered")
	}
}

func TestAssembleEmpty(t *testing.T) {
	out := Assemble(nil)
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil series, got %#v", out)
	}
}

func TestFilterInclusiveAndIdempotent(t *testing.T) {
	series := hourly(10)
	window := models.QueryWindow{Start: bar(2, 0).Timestamp, End: bar(5, 0).Timestamp, Interval: models.Interval1h}

	once := Filter(series, window)
	if len(once) != 4 {
		t.Fatalf("expected 4 records in [2h, 5h], got %d", len(once))
	}
	twice := Filter(once, window)
	if len(twice) != len(once) {
		t.Fatalf("filter must be idempotent: %d vs %d", len(twice), len(once))
	}

	outside := models.QueryWindow{Start: base.Add(-48 * time.Hour), End: base.Add(-24 * time.Hour)}
	if got := Filter(series, outside); len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

func TestBuildRecord(t *testing.T) {
	fields := RequiredFields{Open: "10", High: "12", Low: " 9 ", Close: "11", Volume: "5"}
	rec, ok := BuildRecord(base, fields, OptionalFields{})
	if !ok || rec.Low != 9 || rec.AdjustedClose != nil {
		t.Fatalf("unexpected record %+v ok=%v", rec, ok)
	}

	bad := fields
	bad.Close = "n/a"
	if _, ok := BuildRecord(base, bad, OptionalFields{}); ok {
		t.Fatalf("non-numeric close must be rejected")
	}

	bad = fields
	bad.Volume = "NaN"
	if _, ok := BuildRecord(base, bad, OptionalFields{}); ok {
		t.Fatalf("NaN volume must be rejected")
	}

	bad = fields
	bad.High = "8"
	if _, ok := BuildRecord(base, bad, OptionalFields{}); ok {
		t.Fatalf("high below low must be rejected")
	}

	junk, adj := "junk", "10.5"
	rec, ok = BuildRecord(base, fields, OptionalFields{AdjustedClose: &adj, Dividend: &junk})
	if !ok || rec.AdjustedClose == nil || *rec.AdjustedClose != 10.5 || rec.Dividend != nil {
		t.Fatalf("optional fields mishandled: %+v", rec)
	}
}

type fakePayload struct {
	interval   models.Interval
	instrument string
}

func (fakePayload) Provider() models.ProviderKind { return models.ProviderBinance }
func (p fakePayload) Instrument() string          { return p.instrument }

// fakeAdapter serves canned records per interval.
type fakeAdapter struct {
	records    map[models.Interval][]models.OhlcvRecord
	rejected   int
	errs       map[models.Interval]error
	budget     int
	instrument string
	calls      int32
}

func (f *fakeAdapter) Kind() models.ProviderKind { return models.ProviderBinance }

func (f *fakeAdapter) DefaultBudget() models.DownsampleBudget {
	return models.DownsampleBudget{MaxPoints: f.budget}
}

func (f *fakeAdapter) Fetch(ctx context.Context, req reader.Request) (reader.RawPayload, error) {
	atomic.AddInt32(&f.calls, 1)
	if err := f.errs[req.Window.Interval]; err != nil {
		return nil, err
	}
	return fakePayload{interval: req.Window.Interval, instrument: f.instrument}, nil
}

func (f *fakeAdapter) Normalize(raw reader.RawPayload) ([]models.OhlcvRecord, int, error) {
	p := raw.(fakePayload)
	return f.records[p.interval], f.rejected, nil
}

type recordingExporter struct {
	mu     sync.Mutex
	series []models.CanonicalSeries
	err    error
}

func (e *recordingExporter) Export(ctx context.Context, s models.CanonicalSeries) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.series = append(e.series, s)
	return e.err
}

func request(interval models.Interval) reader.Request {
	return reader.Request{
		Symbol: "BTC",
		Window: models.QueryWindow{Start: base, End: base.Add(2000 * time.Hour), Interval: interval},
	}
}

func TestPipelineRun(t *testing.T) {
	records := []models.OhlcvRecord(hourly(1000))
	// reversed provider order and an out-of-window record
	reversed := make([]models.OhlcvRecord, 0, len(records)+1)
	for i := len(records) - 1; i >= 0; i-- {
		reversed = append(reversed, records[i])
	}
	reversed = append(reversed, bar(-5, 90))

	adapter := &fakeAdapter{records: map[models.Interval][]models.OhlcvRecord{models.Interval1h: reversed}, rejected: 2, budget: 500}
	failing := &recordingExporter{err: errors.New("sink down")}
	ok := &recordingExporter{}
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cfg := config.Default()
	p := NewPipeline(&cfg, WithExporters(failing, nil, ok), WithClock(func() time.Time { return fixed }))

	series, err := p.Run(context.Background(), adapter, request(models.Interval1h))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(series.Records) != 500 || !series.Downsampled {
		t.Fatalf("expected 500 downsampled points, got %d (downsampled=%v)", len(series.Records), series.Downsampled)
	}
	if !series.Records.Ordered() || !series.Records[0].Timestamp.Equal(base) {
		t.Fatalf("series must start at the window start and be ordered")
	}
	if series.Rejected != 2 || series.Provider != models.ProviderBinance || series.RequestID == "" {
		t.Fatalf("unexpected metadata %+v", series)
	}
	if !series.FetchedAt.Equal(fixed) {
		t.Fatalf("expected fetched_at from clock, got %v", series.FetchedAt)
	}
	if len(failing.series) != 1 || len(ok.series) != 1 {
		t.Fatalf("every exporter must see the series once, got %d and %d", len(failing.series), len(ok.series))
	}
}

func TestPipelineReportsResolvedSymbol(t *testing.T) {
	records := map[models.Interval][]models.OhlcvRecord{models.Interval1h: hourly(3)}
	req := request(models.Interval1h)
	req.Symbol = "btc"

	series, err := NewPipeline(nil).Run(context.Background(), &fakeAdapter{records: records, budget: 10, instrument: "BTCUSDT"}, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if series.Symbol != "BTCUSDT" {
		t.Fatalf("expected the provider instrument, got %q", series.Symbol)
	}

	req.Symbol = " eth "
	series, err = NewPipeline(nil).Run(context.Background(), &fakeAdapter{records: records, budget: 10}, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if series.Symbol != "ETH" {
		t.Fatalf("expected the upper-cased request symbol, got %q", series.Symbol)
	}
}

func TestPipelineRequestBudgetOverridesDefault(t *testing.T) {
	adapter := &fakeAdapter{records: map[models.Interval][]models.OhlcvRecord{models.Interval1h: hourly(100)}, budget: 500}
	req := request(models.Interval1h)
	req.Budget = models.DownsampleBudget{MaxPoints: 10}

	series, err := NewPipeline(nil).Run(context.Background(), adapter, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(series.Records) != 10 {
		t.Fatalf("expected 10 points, got %d", len(series.Records))
	}
}

func TestPipelineAllRowsRejected(t *testing.T) {
	adapter := &fakeAdapter{records: map[models.Interval][]models.OhlcvRecord{}, rejected: 3}
	_, err := NewPipeline(nil).Run(context.Background(), adapter, request(models.Interval1h))
	if !errors.Is(err, reader.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestPipelineEmptyResponse(t *testing.T) {
	adapter := &fakeAdapter{records: map[models.Interval][]models.OhlcvRecord{}}
	series, err := NewPipeline(nil).Run(context.Background(), adapter, request(models.Interval1h))
	if err != nil {
		t.Fatalf("empty provider response is not an error: %v", err)
	}
	if len(series.Records) != 0 || series.Downsampled {
		t.Fatalf("expected empty series, got %+v", series)
	}
}

func TestPipelineRejectsInvalidRequestBeforeFetch(t *testing.T) {
	adapter := &fakeAdapter{}
	req := request(models.Interval1h)
	req.Window.Start, req.Window.End = req.Window.End, req.Window.Start

	_, err := NewPipeline(nil).Run(context.Background(), adapter, req)
	if !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if atomic.LoadInt32(&adapter.calls) != 0 {
		t.Fatalf("no fetch expected for an invalid request")
	}

	if _, err := NewPipeline(nil).Run(context.Background(), nil, request(models.Interval1h)); !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input for nil adapter, got %v", err)
	}
}

func TestPipelinePassesProviderErrors(t *testing.T) {
	limited := reader.NewError(models.ProviderBinance, reader.KindRateLimited, "slow down", nil)
	adapter := &fakeAdapter{errs: map[models.Interval]error{models.Interval1h: limited}}
	_, err := NewPipeline(nil).Run(context.Background(), adapter, request(models.Interval1h))
	if !errors.Is(err, reader.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestRunIntervalsPreservesOrder(t *testing.T) {
	intervals := []models.Interval{models.Interval1d, models.Interval1m, models.Interval1h, models.Interval5m}
	adapter := &fakeAdapter{
		records: map[models.Interval][]models.OhlcvRecord{
			models.Interval1d: hourly(1),
			models.Interval1m: hourly(2),
			models.Interval5m: hourly(4),
		},
		errs: map[models.Interval]error{
			models.Interval1h: reader.NewError(models.ProviderBinance, reader.KindUpstream, "boom", nil),
		},
	}
	cfg := config.Default()
	cfg.Processor.MaxWorkers = 2

	results := NewPipeline(&cfg).RunIntervals(context.Background(), adapter, request(models.Interval1m), intervals)
	if len(results) != len(intervals) {
		t.Fatalf("expected %d results, got %d", len(intervals), len(results))
	}
	wantLen := []int{1, 2, 0, 4}
	for i, res := range results {
		if res.Interval != intervals[i] {
			t.Fatalf("result %d: expected %s, got %s", i, intervals[i], res.Interval)
		}
		if intervals[i] == models.Interval1h {
			if !errors.Is(res.Err, reader.ErrUpstream) {
				t.Fatalf("expected upstream error for 1h, got %v", res.Err)
			}
			continue
		}
		if res.Err != nil || len(res.Series.Records) != wantLen[i] {
			t.Fatalf("result %d: err=%v len=%d", i, res.Err, len(res.Series.Records))
		}
		if res.Series.Window.Interval != intervals[i] {
			t.Fatalf("result %d carries window interval %s", i, res.Series.Window.Interval)
		}
	}
}
