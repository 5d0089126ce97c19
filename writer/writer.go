// Package writer exports finished series. Every sink satisfies the
// pipeline's exporter contract: a failing sink is logged by the caller and
// never changes the series handed back to the consumer.
package writer

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"marketfeed/config"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
)

// Sink receives every successfully produced series.
type Sink interface {
	Name() string
	Export(ctx context.Context, series models.CanonicalSeries) error
	Close() error
}

// NewSinks builds the sinks enabled under storage. Nothing enabled yields an
// empty slice.
func NewSinks(ctx context.Context, cfg *config.Config) ([]Sink, error) {
	var sinks []Sink

	if cfg.Storage.Local.Enabled {
		local, err := NewLocalSink(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, local)
	}

	if cfg.Storage.S3.Enabled {
		s3sink, err := NewS3Sink(ctx, cfg)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, s3sink)
	}

	if cfg.Storage.Kafka.Enabled {
		kafkaSink, err := NewKafkaSink(cfg)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logger.GetLogger().WithComponent("writer").WithFields(logger.Fields{"sinks": names}).Info("series sinks initialized")
	return sinks, nil
}

// CloseAll closes every sink and returns the first error.
func CloseAll(sinks []Sink) error {
	return closeAll(sinks)
}

func closeAll(sinks []Sink) error {
	var first error
	for _, s := range sinks {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s sink: %w", s.Name(), err)
		}
	}
	return first
}

// exportContext detaches the write from the caller so an aborted API request
// does not leave half-written objects, bounded by timeout.
func exportContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// observe records the outcome of one sink write.
func observe(log *logger.Log, sink string, series models.CanonicalSeries, size int, err error) {
	metrics.ObserveSinkWrite(sink, err)
	if err != nil {
		return
	}
	logger.IncrementSinkWrite(int64(size))
	log.LogMetric(sink+"_sink", "rows_written", int64(len(series.Records)), "counter", logger.Fields{
		"provider": string(series.Provider),
		"symbol":   series.Symbol,
		"interval": string(series.Window.Interval),
	})
}

// ObjectKey places a series under the configured partition layout:
// additional keys first, then the time path of FetchedAt, then a file name
// unique to the request.
func ObjectKey(part config.PartitioningConfig, prefix string, series models.CanonicalSeries, ext string) string {
	var parts []string
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}

	for _, k := range part.AdditionalKeys {
		switch k {
		case "provider":
			parts = append(parts, "provider="+string(series.Provider))
		case "symbol":
			parts = append(parts, "symbol="+pathSafe(series.Symbol))
		case "interval":
			if series.Window.Interval != "" {
				parts = append(parts, "interval="+string(series.Window.Interval))
			}
		}
	}

	ts := series.FetchedAt.UTC()
	if part.TimeFormat != "" {
		timePath := strings.ReplaceAll(part.TimeFormat, "{year}", fmt.Sprintf("%04d", ts.Year()))
		timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", ts.Month()))
		timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", ts.Day()))
		timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", ts.Hour()))
		parts = append(parts, timePath)
	}

	filename := fmt.Sprintf("%s_%s_%s_%s.%s",
		series.Provider,
		pathSafe(series.Symbol),
		ts.Format("20060102150405"),
		series.RequestID,
		ext)

	return path.Join(append(parts, filename)...)
}

var pathSeparators = strings.NewReplacer("/", "-", "\\", "-")

// pathSafe keeps a symbol inside one key segment.
func pathSafe(symbol string) string {
	return pathSeparators.Replace(strings.TrimSpace(symbol))
}
