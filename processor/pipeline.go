package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketfeed/config"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/reader"
)

// Exporter receives every successfully produced series. Export failures are
// logged and never change what Run returns.
type Exporter interface {
	Export(ctx context.Context, series models.CanonicalSeries) error
}

// Pipeline runs fetch, normalize, assemble, filter and downsample for one
// request. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	log        *logger.Log
	maxWorkers int
	exporters  []Exporter
	now        func() time.Time
}

type Option func(*Pipeline)

func WithExporters(exporters ...Exporter) Option {
	return func(p *Pipeline) {
		for _, e := range exporters {
			if e != nil {
				p.exporters = append(p.exporters, e)
			}
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:        logger.GetLogger(),
		maxWorkers: 1,
		now:        time.Now,
	}
	if cfg != nil && cfg.Processor.MaxWorkers > 0 {
		p.maxWorkers = cfg.Processor.MaxWorkers
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the whole pipeline for req against adapter. Invalid requests
// fail before any network call. Provider and malformed-response errors are
// returned as reported by the adapter.
func (p *Pipeline) Run(ctx context.Context, adapter reader.Adapter, req reader.Request) (models.CanonicalSeries, error) {
	if adapter == nil {
		return models.CanonicalSeries{}, reader.InvalidInput("no adapter for request")
	}
	if err := reader.ValidateRequest(req); err != nil {
		return models.CanonicalSeries{}, err
	}

	provider := adapter.Kind()
	requestID := uuid.New().String()
	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"request_id": requestID,
		"provider":   string(provider),
		"symbol":     req.Symbol,
		"interval":   string(req.Window.Interval),
	})

	start := time.Now()
	raw, err := adapter.Fetch(ctx, req)
	duration := time.Since(start)
	metrics.ObserveFetch(string(provider), string(req.Window.Interval), string(reader.KindOf(err)), duration)
	logger.IncrementFetch(string(provider), err != nil)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"kind": string(reader.KindOf(err))}).Warn("provider fetch failed")
		return models.CanonicalSeries{}, err
	}
	logger.LogPerformanceEntry(log, "pipeline", "provider_fetch", duration, nil)

	records, rejected, err := adapter.Normalize(raw)
	if err != nil {
		log.WithError(err).Warn("normalization failed")
		return models.CanonicalSeries{}, err
	}
	if len(records) == 0 && rejected > 0 {
		err := reader.Malformed(provider, "all %d rows were rejected by normalization", rejected)
		log.WithError(err).Warn("no usable rows in response")
		return models.CanonicalSeries{}, err
	}

	assembled := Assemble(records)
	filtered := Filter(assembled, req.Window)

	budget := req.Budget
	if budget.MaxPoints <= 0 {
		budget = adapter.DefaultBudget()
	}
	sampled := Downsample(filtered, budget)

	out := models.CanonicalSeries{
		RequestID:   requestID,
		Provider:    provider,
		Symbol:      resolvedSymbol(raw, req),
		Window:      req.Window,
		Records:     sampled,
		Rejected:    rejected,
		Downsampled: len(sampled) < len(filtered),
		FetchedAt:   p.now().UTC(),
	}

	metrics.ObserveRecords(string(provider), len(sampled), rejected)
	logger.AddRecords(len(sampled), rejected)
	logger.LogDataFlowEntry(log, string(provider), "canonical_output", len(sampled), "ohlcv")
	log.WithFields(logger.Fields{
		"normalized": len(records),
		"rejected":   rejected,
		"assembled":  len(assembled),
		"filtered":   len(filtered),
		"emitted":    len(sampled),
	}).Debug("series assembled")

	p.export(ctx, out)
	return out, nil
}

// resolvedSymbol prefers the provider-side instrument over the caller's input.
func resolvedSymbol(raw reader.RawPayload, req reader.Request) string {
	if s := strings.TrimSpace(raw.Instrument()); s != "" {
		return s
	}
	return strings.ToUpper(strings.TrimSpace(req.Symbol))
}

func (p *Pipeline) export(ctx context.Context, series models.CanonicalSeries) {
	for _, e := range p.exporters {
		if err := e.Export(ctx, series); err != nil {
			p.log.WithComponent("pipeline").WithError(err).WithFields(logger.Fields{
				"request_id": series.RequestID,
				"exporter":   fmt.Sprintf("%T", e),
			}).Warn("series export failed")
		}
	}
}

// IntervalResult is the outcome for one interval of a multi-interval request.
type IntervalResult struct {
	Interval models.Interval
	Series   models.CanonicalSeries
	Err      error
}

// RunIntervals fetches every interval concurrently, bounded by the configured
// worker count. Each interval is assembled on its own; a failure only affects
// its own result. Results are returned in the order of intervals.
func (p *Pipeline) RunIntervals(ctx context.Context, adapter reader.Adapter, req reader.Request, intervals []models.Interval) []IntervalResult {
	results := make([]IntervalResult, len(intervals))
	sem := make(chan struct{}, p.maxWorkers)
	var wg sync.WaitGroup

	for i, interval := range intervals {
		wg.Add(1)
		go func(i int, interval models.Interval) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = IntervalResult{Interval: interval, Err: reader.TransportError(adapter.Kind(), ctx.Err())}
				return
			}
			defer func() { <-sem }()

			series, err := p.Run(ctx, adapter, req.WithInterval(interval))
			results[i] = IntervalResult{Interval: interval, Series: series, Err: err}
		}(i, interval)
	}

	wg.Wait()
	return results
}
