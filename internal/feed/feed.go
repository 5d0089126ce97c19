// Package feed wires configuration into ready adapters, the pipeline and the
// configured sinks. The HTTP API and the CLI only talk to a Service.
package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"marketfeed/config"
	"marketfeed/internal/cache"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
	"marketfeed/reader/alphavantage"
	"marketfeed/reader/binance"
	"marketfeed/reader/bybit"
	"marketfeed/writer"
)

// Equity is the Alpha Vantage surface beyond time series.
type Equity interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	Search(ctx context.Context, keywords string) ([]models.SymbolMatch, error)
	Overview(ctx context.Context, symbol string) (models.CompanyOverview, error)
	Movers(ctx context.Context) (models.MarketMovers, error)
}

// Service is safe for concurrent use once built.
type Service struct {
	cfg      *config.Config
	pipeline *processor.Pipeline
	adapters map[models.ProviderKind]reader.Adapter
	equity   Equity
	sinks    []writer.Sink
	news     reader.NewsSource
	trades   reader.TradeHistory
	log      *logger.Log
}

type Option func(*Service)

// WithAdapter registers or replaces the adapter for its kind.
func WithAdapter(a reader.Adapter) Option {
	return func(s *Service) {
		if a != nil {
			s.adapters[a.Kind()] = a
		}
	}
}

func WithEquity(e Equity) Option {
	return func(s *Service) { s.equity = e }
}

func WithSinks(sinks ...writer.Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

func WithNews(n reader.NewsSource) Option {
	return func(s *Service) { s.news = n }
}

func WithTrades(t reader.TradeHistory) Option {
	return func(s *Service) { s.trades = t }
}

// New builds adapters for every enabled source, wraps them in the cache when
// enabled, and attaches the given sinks as pipeline exporters. Options run
// after the configured adapters are created, so tests can replace them.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		adapters: make(map[models.ProviderKind]reader.Adapter),
		news:     reader.NewMemoryNews(),
		trades:   reader.NewMemoryTrades(),
		log:      logger.GetLogger(),
	}

	if cfg.Source.Binance.Enabled {
		s.adapters[models.ProviderBinance] = binance.NewKlinesReader(cfg)
	}
	if cfg.Source.Bybit.Enabled {
		s.adapters[models.ProviderBybit] = bybit.NewKlinesReader(cfg)
	}
	if cfg.Source.AlphaVantage.Enabled {
		client, ts := alphavantage.NewFromConfig(cfg)
		s.adapters[models.ProviderAlphaVantage] = ts
		s.equity = client
	}

	for _, opt := range opts {
		opt(s)
	}

	for kind, a := range s.adapters {
		s.adapters[kind] = cache.Wrap(a, cfg.Cache)
	}

	exporters := make([]processor.Exporter, 0, len(s.sinks))
	for _, sink := range s.sinks {
		exporters = append(exporters, sink)
	}
	s.pipeline = processor.NewPipeline(cfg, processor.WithExporters(exporters...))

	s.log.WithComponent("feed").WithFields(logger.Fields{
		"providers": s.Providers(),
		"sinks":     len(s.sinks),
		"cache":     cfg.Cache.Enabled,
	}).Info("feed service ready")
	return s
}

// Open builds the configured sinks and the service around them.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	sinks, err := writer.NewSinks(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}
	return New(cfg, append([]Option{WithSinks(sinks...)}, opts...)...), nil
}

// Providers lists the enabled provider kinds in name order.
func (s *Service) Providers() []string {
	out := make([]string, 0, len(s.adapters))
	for kind := range s.adapters {
		out = append(out, string(kind))
	}
	sort.Strings(out)
	return out
}

func (s *Service) adapter(provider string) (reader.Adapter, error) {
	kind := models.ProviderKind(strings.ToLower(strings.TrimSpace(provider)))
	if kind == "" {
		kind = models.ProviderBinance
	}
	a, ok := s.adapters[kind]
	if !ok {
		return nil, reader.InvalidInput("provider %q is not enabled", kind)
	}
	return a, nil
}

// Series runs one pipeline pass. An empty provider means binance.
func (s *Service) Series(ctx context.Context, provider string, req reader.Request) (models.CanonicalSeries, error) {
	a, err := s.adapter(provider)
	if err != nil {
		return models.CanonicalSeries{}, err
	}
	return s.pipeline.Run(ctx, a, req)
}

// Intervals fetches req at every interval; nil intervals means the default
// analysis set.
func (s *Service) Intervals(ctx context.Context, provider string, req reader.Request, intervals []models.Interval) ([]processor.IntervalResult, error) {
	a, err := s.adapter(provider)
	if err != nil {
		return nil, err
	}
	if len(intervals) == 0 {
		intervals = models.DefaultAnalysisIntervals
	}
	return s.pipeline.RunIntervals(ctx, a, req, intervals), nil
}

func (s *Service) equityClient() (Equity, error) {
	if s.equity == nil {
		return nil, reader.InvalidInput("provider %q is not enabled", models.ProviderAlphaVantage)
	}
	return s.equity, nil
}

func (s *Service) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	e, err := s.equityClient()
	if err != nil {
		return models.Quote{}, err
	}
	return e.Quote(ctx, symbol)
}

func (s *Service) Search(ctx context.Context, keywords string) ([]models.SymbolMatch, error) {
	e, err := s.equityClient()
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, keywords)
}

func (s *Service) Overview(ctx context.Context, symbol string) (models.CompanyOverview, error) {
	e, err := s.equityClient()
	if err != nil {
		return nil, err
	}
	return e.Overview(ctx, symbol)
}

func (s *Service) Movers(ctx context.Context) (models.MarketMovers, error) {
	e, err := s.equityClient()
	if err != nil {
		return models.MarketMovers{}, err
	}
	return e.Movers(ctx)
}

func (s *Service) News(ctx context.Context, coin string, window models.QueryWindow) ([]models.NewsArticle, error) {
	return s.news.News(ctx, coin, window)
}

func (s *Service) Trades(ctx context.Context, address string, window models.QueryWindow) ([]models.Trade, error) {
	return s.trades.Trades(ctx, address, window)
}

// BarPublisher returns the first sink able to forward live bars.
func (s *Service) BarPublisher() (BarPublisher, bool) {
	for _, sink := range s.sinks {
		if p, ok := sink.(BarPublisher); ok {
			return p, true
		}
	}
	return nil, false
}

// Close releases the sinks.
func (s *Service) Close() error {
	return writer.CloseAll(s.sinks)
}
