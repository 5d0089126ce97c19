package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketfeed/config"
	"marketfeed/models"
	"marketfeed/reader"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type payload struct{}

func (payload) Provider() models.ProviderKind { return models.ProviderBinance }
func (payload) Instrument() string            { return "BTCUSDT" }

type stubAdapter struct{ kind models.ProviderKind }

func (s stubAdapter) Kind() models.ProviderKind { return s.kind }

func (s stubAdapter) DefaultBudget() models.DownsampleBudget {
	return models.DownsampleBudget{MaxPoints: 500}
}

func (s stubAdapter) Fetch(ctx context.Context, req reader.Request) (reader.RawPayload, error) {
	return payload{}, nil
}

func (s stubAdapter) Normalize(raw reader.RawPayload) ([]models.OhlcvRecord, int, error) {
	return []models.OhlcvRecord{
		{Timestamp: start, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3},
		{Timestamp: start.Add(time.Minute), Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 4},
	}, 0, nil
}

type stubEquity struct{}

func (stubEquity) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	return models.Quote{Symbol: symbol, Price: 10}, nil
}

func (stubEquity) Search(ctx context.Context, keywords string) ([]models.SymbolMatch, error) {
	return []models.SymbolMatch{{Symbol: "IBM"}}, nil
}

func (stubEquity) Overview(ctx context.Context, symbol string) (models.CompanyOverview, error) {
	return models.CompanyOverview{"Symbol": symbol}, nil
}

func (stubEquity) Movers(ctx context.Context) (models.MarketMovers, error) {
	return models.MarketMovers{}, nil
}

type memorySink struct {
	mu     sync.Mutex
	series []models.CanonicalSeries
	closed bool
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Export(ctx context.Context, s models.CanonicalSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series = append(m.series, s)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func bareConfig() *config.Config {
	cfg := config.Default()
	cfg.Source.Binance.Enabled = false
	cfg.Source.Bybit.Enabled = false
	cfg.Source.AlphaVantage.Enabled = false
	return &cfg
}

func request() reader.Request {
	return reader.Request{
		Symbol: "BTC",
		Window: models.QueryWindow{Start: start, End: start.Add(time.Hour), Interval: models.Interval1m},
	}
}

func TestSeriesDefaultsToBinance(t *testing.T) {
	sink := &memorySink{}
	svc := New(bareConfig(), WithAdapter(stubAdapter{kind: models.ProviderBinance}), WithSinks(sink))

	series, err := svc.Series(context.Background(), "", request())
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(series.Records) != 2 || series.Provider != models.ProviderBinance {
		t.Fatalf("unexpected series %+v", series)
	}
	if len(sink.series) != 1 {
		t.Fatalf("expected the sink to receive the series")
	}

	if err := svc.Close(); err != nil || !sink.closed {
		t.Fatalf("close must reach the sinks, err=%v", err)
	}
}

func TestUnknownProviderIsInvalidInput(t *testing.T) {
	svc := New(bareConfig())
	if _, err := svc.Series(context.Background(), "kraken", request()); !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.Quote(context.Background(), "IBM"); !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input without equity provider, got %v", err)
	}
}

func TestIntervalsUsesDefaultSet(t *testing.T) {
	svc := New(bareConfig(), WithAdapter(stubAdapter{kind: models.ProviderBybit}))
	results, err := svc.Intervals(context.Background(), "BYBIT", request(), nil)
	if err != nil {
		t.Fatalf("intervals: %v", err)
	}
	if len(results) != len(models.DefaultAnalysisIntervals) {
		t.Fatalf("expected %d results, got %d", len(models.DefaultAnalysisIntervals), len(results))
	}
	for i, res := range results {
		if res.Interval != models.DefaultAnalysisIntervals[i] || res.Err != nil {
			t.Fatalf("result %d: %+v", i, res)
		}
	}
}

func TestEquityPassthrough(t *testing.T) {
	svc := New(bareConfig(), WithEquity(stubEquity{}))
	q, err := svc.Quote(context.Background(), "IBM")
	if err != nil || q.Price != 10 {
		t.Fatalf("unexpected quote %+v (%v)", q, err)
	}
	ov, err := svc.Overview(context.Background(), "IBM")
	if err != nil || ov["Symbol"] != "IBM" {
		t.Fatalf("unexpected overview %v (%v)", ov, err)
	}
}

func TestProvidersSorted(t *testing.T) {
	svc := New(bareConfig(),
		WithAdapter(stubAdapter{kind: models.ProviderBybit}),
		WithAdapter(stubAdapter{kind: models.ProviderBinance}),
	)
	got := svc.Providers()
	if len(got) != 2 || got[0] != "binance" || got[1] != "bybit" {
		t.Fatalf("unexpected providers %v", got)
	}
}

func TestNewsAndTradesValidateWindow(t *testing.T) {
	svc := New(bareConfig())
	inverted := models.QueryWindow{Start: start.Add(time.Hour), End: start}
	if _, err := svc.News(context.Background(), "BTC", inverted); !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.Trades(context.Background(), "0xabc", inverted); !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type chanSource struct {
	bars    chan models.StreamBar
	started bool
	stopped bool
}

func (c *chanSource) Start(ctx context.Context) error {
	c.started = true
	return nil
}

func (c *chanSource) Bars() <-chan models.StreamBar { return c.bars }

func (c *chanSource) Stop() { c.stopped = true }

type recordingPublisher struct {
	bars []models.StreamBar
	fail bool
}

func (p *recordingPublisher) PublishBar(ctx context.Context, bar models.StreamBar) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.bars = append(p.bars, bar)
	return nil
}

func TestRelayForwardsBars(t *testing.T) {
	src := &chanSource{bars: make(chan models.StreamBar, 2)}
	pub := &recordingPublisher{}
	src.bars <- models.StreamBar{Symbol: "BTCUSDT", Record: models.OhlcvRecord{Timestamp: start}}
	src.bars <- models.StreamBar{Symbol: "BTCUSDT", Record: models.OhlcvRecord{Timestamp: start.Add(time.Minute)}}
	close(src.bars)

	relay := NewRelay(src, pub, 0)
	if err := relay.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !src.started || !src.stopped {
		t.Fatalf("relay must start and stop the source")
	}
	stats := relay.Stats()
	if stats.Received != 2 || stats.Published != 2 || len(pub.bars) != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.LastBarAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected last bar time %v", stats.LastBarAt)
	}
}

func TestRelayCountsPublishFailures(t *testing.T) {
	src := &chanSource{bars: make(chan models.StreamBar, 1)}
	src.bars <- models.StreamBar{Symbol: "ETHUSDT"}
	close(src.bars)

	relay := NewRelay(src, &recordingPublisher{fail: true}, 0)
	relay.Run(context.Background())
	if stats := relay.Stats(); stats.Failed != 1 || stats.Published != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
