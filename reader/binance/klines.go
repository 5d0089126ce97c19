package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	spot "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"marketfeed/config"
	binancemetrics "marketfeed/internal/metrics/binance"
	ratemetrics "marketfeed/internal/metrics/rate"
	"marketfeed/internal/symbols"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

const (
	component = "binance_reader"

	// maxRowsPerRequest is the provider's hard ceiling for one klines call.
	maxRowsPerRequest = 1000
	defaultRowCap     = 750

	codeTooManyRequests = -1003
	codeIPBanned        = -1015
	codeInvalidSymbol   = -1121
	codeBadInterval     = -1120

	maxErrorBody = 64 << 10
)

var validIntervals = map[models.Interval]bool{
	models.Interval1m: true, models.Interval3m: true, models.Interval5m: true,
	models.Interval15m: true, models.Interval30m: true, models.Interval1h: true,
	models.Interval2h: true, models.Interval4h: true, models.Interval6h: true,
	models.Interval8h: true, models.Interval12h: true, models.Interval1d: true,
	models.Interval3d: true, models.Interval1w: true, models.Interval1M: true,
}

// ValidInterval reports whether the klines endpoint accepts interval.
func ValidInterval(interval models.Interval) bool {
	return validIntervals[interval]
}

// KlinesPayload is the raw response of one klines call.
type KlinesPayload struct {
	Symbol string
	Klines []*spot.Kline
}

func (p *KlinesPayload) Provider() models.ProviderKind { return models.ProviderBinance }
func (p *KlinesPayload) Instrument() string            { return p.Symbol }

// KlinesReader is the spot klines adapter.
type KlinesReader struct {
	cfg     config.BinanceSourceConfig
	client  *spot.Client
	limiter *rate.Limiter
	log     *logger.Log
	rowCap  int
}

// NewKlinesReader wires the go-binance spot client onto a pooled HTTP client
// that reports the used-weight headers of every response.
func NewKlinesReader(cfg *config.Config) *KlinesReader {
	log := logger.GetLogger()
	src := cfg.Source.Binance

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = cfg.Reader.Timeout
	}
	httpClient := reader.NewHTTPClient(src.ConnectionPool, timeout, cfg.Reader.LocalIP)
	httpClient.Transport = &usedWeightTransport{
		base: httpClient.Transport,
		log:  log,
		ip:   cfg.Reader.LocalIP,
	}

	client := spot.NewClient("", "")
	client.HTTPClient = httpClient
	if base := strings.TrimRight(src.URL, "/"); base != "" {
		client.BaseURL = base
	}

	rowCap := src.Limit
	if rowCap <= 0 {
		rowCap = defaultRowCap
	}
	if rowCap > maxRowsPerRequest {
		rowCap = maxRowsPerRequest
	}

	r := &KlinesReader{
		cfg:     src,
		client:  client,
		limiter: reader.NewLimiter(src.RateLimit),
		log:     log,
		rowCap:  rowCap,
	}

	log.WithComponent(component).WithFields(logger.Fields{
		"base_url":           client.BaseURL,
		"row_cap":            rowCap,
		"max_idle_conns":     src.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": src.ConnectionPool.MaxConnsPerHost,
		"timeout":            timeout,
	}).Info("binance reader initialized")

	return r
}

func (r *KlinesReader) Kind() models.ProviderKind { return models.ProviderBinance }

func (r *KlinesReader) DefaultBudget() models.DownsampleBudget {
	return models.DownsampleBudget{MaxPoints: r.cfg.MaxPoints}
}

// Pair returns the exchange pair a ticker resolves to.
func (r *KlinesReader) Pair(ticker string) string {
	return pairFor(ticker, r.cfg.QuoteAsset)
}

func pairFor(ticker, quote string) string {
	return symbols.NormalizePair(symbols.ToBinance("binance", ticker), quote)
}

// Fetch requests at most the configured row cap of klines inside the window.
// The row cap is independent of the caller's downsample budget.
func (r *KlinesReader) Fetch(ctx context.Context, req reader.Request) (reader.RawPayload, error) {
	pair := r.Pair(req.Symbol)
	if pair == "" {
		return nil, reader.InvalidInput("symbol must not be empty")
	}
	interval := req.Window.Interval
	if !ValidInterval(interval) {
		return nil, reader.InvalidInput("unsupported binance interval %q", interval)
	}

	log := r.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":    pair,
		"interval":  string(interval),
		"operation": "fetch_klines",
	})

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, reader.NewError(models.ProviderBinance, reader.KindNetwork, "rate limiter wait aborted", err)
		}
	}

	start := time.Now()
	klines, err := r.client.NewKlinesService().
		Symbol(pair).
		Interval(string(interval)).
		StartTime(req.Window.Start.UnixMilli()).
		EndTime(req.Window.End.UnixMilli()).
		Limit(r.rowCap).
		Do(ctx)
	if err != nil {
		perr := r.classify(pair, err)
		log.WithError(perr).Warn("failed to fetch klines")
		return nil, perr
	}

	logger.LogPerformanceEntry(log, component, "api_request", time.Since(start), logger.Fields{"rows": len(klines)})
	return &KlinesPayload{Symbol: pair, Klines: klines}, nil
}

// Normalize maps klines positionally: open time becomes the record instant
// and the OHLCV strings are parsed as decimals.
func (r *KlinesReader) Normalize(raw reader.RawPayload) ([]models.OhlcvRecord, int, error) {
	p, ok := raw.(*KlinesPayload)
	if !ok || p == nil {
		return nil, 0, reader.Malformed(models.ProviderBinance, "unexpected payload %T", raw)
	}

	records := make([]models.OhlcvRecord, 0, len(p.Klines))
	rejected := 0
	for _, k := range p.Klines {
		if k == nil || k.OpenTime <= 0 {
			rejected++
			continue
		}
		rec, ok := processor.BuildRecord(time.UnixMilli(k.OpenTime), processor.RequiredFields{
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		}, processor.OptionalFields{})
		if !ok {
			rejected++
			continue
		}
		records = append(records, rec)
	}

	if rejected > 0 {
		r.log.WithComponent(component).WithFields(logger.Fields{
			"symbol":   p.Symbol,
			"rejected": rejected,
			"rows":     len(p.Klines),
		}).Debug("dropped malformed kline rows")
	}
	return records, rejected, nil
}

func (r *KlinesReader) classify(pair string, err error) *reader.ProviderError {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		ratemetrics.ReportLimitFromMessage(r.log, "binance", pair, apiErr.Message)
		kind := reader.KindUpstream
		switch apiErr.Code {
		case codeTooManyRequests, codeIPBanned:
			kind = reader.KindRateLimited
		case codeInvalidSymbol:
			kind = reader.KindInvalidSymbol
		case codeBadInterval:
			kind = reader.KindInvalidInput
		default:
			if limited, banned := ratemetrics.DetectLimit("binance", apiErr.Message); limited || banned {
				kind = reader.KindRateLimited
			}
		}
		return reader.NewError(models.ProviderBinance, kind, fmt.Sprintf("api error %d: %s", apiErr.Code, apiErr.Message), err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || strings.Contains(err.Error(), "invalid kline response") {
		return reader.NewError(models.ProviderBinance, reader.KindMalformedResponse, "undecodable klines body", err)
	}

	return reader.TransportError(models.ProviderBinance, err)
}

var _ reader.Adapter = (*KlinesReader)(nil)

// usedWeightTransport reports the X-MBX-USED-WEIGHT headers of every response.
// Throttling and server statuses whose body is not Binance JSON (proxy or ban
// pages) become typed errors here, since the SDK would report them as code 0.
type usedWeightTransport struct {
	base http.RoundTripper
	log  *logger.Log
	ip   string
}

func (t *usedWeightTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	symbol := req.URL.Query().Get("symbol")
	binancemetrics.ReportUsedWeight(t.log, resp.Header, component, symbol, t.ip)

	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusTeapot && resp.StatusCode < http.StatusInternalServerError {
		return resp, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if json.Valid(body) {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		ratemetrics.ReportRateLimitExceeded(t.log, "binance", symbol)
	case http.StatusTeapot:
		ratemetrics.ReportIPBan(t.log, "binance", symbol)
	}
	return nil, reader.StatusError(models.ProviderBinance, resp.StatusCode, truncate(strings.TrimSpace(string(body)), 256))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
