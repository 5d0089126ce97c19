// Command fetch runs one request against a provider and prints the result as
// JSON on stdout. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"marketfeed/config"
	"marketfeed/internal/feed"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

type options struct {
	mode      string
	provider  string
	symbol    string
	start     string
	end       string
	interval  string
	maxPoints int
	intervals string
	function  string
	output    string
	month     string
	keywords  string
}

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	var opts options
	flag.StringVar(&opts.mode, "mode", "series", "series, intervals, quote, search, overview or movers")
	flag.StringVar(&opts.provider, "provider", "", "binance, bybit or alphavantage (default binance)")
	flag.StringVar(&opts.symbol, "symbol", "", "ticker or coin symbol")
	flag.StringVar(&opts.start, "start", "", "window start, YYYY-MM-DD or RFC3339")
	flag.StringVar(&opts.end, "end", "", "window end, YYYY-MM-DD or RFC3339")
	flag.StringVar(&opts.interval, "interval", string(models.Interval1d), "bar interval")
	flag.IntVar(&opts.maxPoints, "max-points", 0, "downsample budget, 0 keeps the provider default")
	flag.StringVar(&opts.intervals, "intervals", "", "comma separated intervals for -mode intervals")
	flag.StringVar(&opts.function, "function", "", "alphavantage time series function")
	flag.StringVar(&opts.output, "outputsize", "", "alphavantage outputsize, compact or full")
	flag.StringVar(&opts.month, "month", "", "alphavantage intraday month, YYYY-MM")
	flag.StringVar(&opts.keywords, "keywords", "", "search keywords for -mode search")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath, "config/config.yml"))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, "stderr", 0); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := feed.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to open feed service")
		os.Exit(1)
	}
	defer svc.Close()

	result, err := run(ctx, svc, opts)
	if err != nil {
		log.WithComponent("fetch").WithError(err).WithFields(logger.Fields{
			"mode": opts.mode,
			"kind": string(reader.KindOf(err)),
		}).Error("request failed")
		svc.Close()
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.WithError(err).Error("failed to encode result")
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *feed.Service, opts options) (interface{}, error) {
	switch opts.mode {
	case "series", "intervals":
		req, err := buildRequest(opts)
		if err != nil {
			return nil, err
		}
		if opts.mode == "series" {
			return svc.Series(ctx, opts.provider, req)
		}
		return intervalResults(svc.Intervals(ctx, opts.provider, req, splitIntervals(opts.intervals)))
	case "quote":
		return svc.Quote(ctx, opts.symbol)
	case "search":
		return svc.Search(ctx, opts.keywords)
	case "overview":
		return svc.Overview(ctx, opts.symbol)
	case "movers":
		return svc.Movers(ctx)
	default:
		return nil, reader.InvalidInput("unknown mode %q", opts.mode)
	}
}

func buildRequest(opts options) (reader.Request, error) {
	if opts.maxPoints < 0 {
		return reader.Request{}, reader.InvalidInput("max-points must not be negative, got %d", opts.maxPoints)
	}
	window, err := reader.ParseWindow(opts.start, opts.end, models.Interval(opts.interval))
	if err != nil {
		return reader.Request{}, err
	}
	return reader.Request{
		Symbol: opts.symbol,
		Window: window,
		Budget: models.DownsampleBudget{MaxPoints: opts.maxPoints},
		Equity: reader.EquityOptions{
			Function:   opts.function,
			OutputSize: opts.output,
			Month:      opts.month,
		},
	}, nil
}

func splitIntervals(raw string) []models.Interval {
	var out []models.Interval
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, models.Interval(part))
		}
	}
	return out
}

type intervalOutput struct {
	Interval models.Interval         `json:"interval"`
	Series   *models.CanonicalSeries `json:"series,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func intervalResults(results []processor.IntervalResult, err error) ([]intervalOutput, error) {
	if err != nil {
		return nil, err
	}
	out := make([]intervalOutput, 0, len(results))
	for _, res := range results {
		item := intervalOutput{Interval: res.Interval}
		if res.Err != nil {
			item.Error = fmt.Sprintf("%s: %v", reader.KindOf(res.Err), res.Err)
		} else {
			series := res.Series
			item.Series = &series
		}
		out = append(out, item)
	}
	return out, nil
}
