package feed

import (
	"context"
	"sync"
	"time"

	"marketfeed/config"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/reader/binance"
)

// BarSource is a live stream of closed bars. Bars must be closed once Stop
// returns.
type BarSource interface {
	Start(ctx context.Context) error
	Bars() <-chan models.StreamBar
	Stop()
}

// BarPublisher forwards live bars downstream.
type BarPublisher interface {
	PublishBar(ctx context.Context, bar models.StreamBar) error
}

type RelayStats struct {
	Received  int64
	Published int64
	Failed    int64
	LastBarAt time.Time
}

// Relay drains a BarSource into an optional publisher and reports traffic.
type Relay struct {
	source         BarSource
	publisher      BarPublisher
	reportInterval time.Duration
	log            *logger.Log

	statsMu sync.RWMutex
	stats   RelayStats
}

func NewRelay(source BarSource, publisher BarPublisher, reportInterval time.Duration) *Relay {
	return &Relay{
		source:         source,
		publisher:      publisher,
		reportInterval: reportInterval,
		log:            logger.GetLogger(),
	}
}

// Stream builds the Binance kline relay for the configured symbols, publishing
// to the first sink that accepts bars.
func (s *Service) Stream(cfg *config.Config) *Relay {
	publisher, _ := s.BarPublisher()
	return NewRelay(binance.NewKlineStream(cfg, cfg.Stream.Symbols), publisher, cfg.Logging.ReportInterval)
}

// Run blocks until ctx is done or the source closes its channel. The source
// is stopped before Run returns.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.source.Start(ctx); err != nil {
		return err
	}
	defer r.source.Stop()

	var tick <-chan time.Time
	if r.reportInterval > 0 {
		ticker := time.NewTicker(r.reportInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	bars := r.source.Bars()
	for {
		select {
		case <-ctx.Done():
			r.logStats()
			return nil
		case <-tick:
			r.logStats()
		case bar, ok := <-bars:
			if !ok {
				r.logStats()
				return nil
			}
			r.handle(ctx, bar)
		}
	}
}

func (r *Relay) handle(ctx context.Context, bar models.StreamBar) {
	r.statsMu.Lock()
	r.stats.Received++
	r.stats.LastBarAt = bar.Record.Timestamp
	r.statsMu.Unlock()

	r.log.WithComponent("relay").WithFields(logger.Fields{
		"symbol":    bar.Symbol,
		"interval":  string(bar.Interval),
		"timestamp": bar.Record.Timestamp,
		"close":     bar.Record.Close,
	}).Debug("closed bar received")

	if r.publisher == nil {
		return
	}
	err := r.publisher.PublishBar(ctx, bar)

	r.statsMu.Lock()
	if err != nil {
		r.stats.Failed++
	} else {
		r.stats.Published++
	}
	r.statsMu.Unlock()
}

func (r *Relay) Stats() RelayStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

func (r *Relay) logStats() {
	stats := r.Stats()
	r.log.WithComponent("relay").WithFields(logger.Fields{
		"bars_received":  stats.Received,
		"bars_published": stats.Published,
		"bars_failed":    stats.Failed,
		"last_bar_at":    stats.LastBarAt,
	}).Info("stream relay statistics")
}
