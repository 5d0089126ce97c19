package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"golang.org/x/time/rate"

	"marketfeed/config"
	bybitmetrics "marketfeed/internal/metrics/bybit"
	ratemetrics "marketfeed/internal/metrics/rate"
	"marketfeed/internal/symbols"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

const (
	component = "bybit_reader"

	maxRowsPerRequest = 1000

	retCodeOK          = 0
	retCodeParams      = 10001
	retCodeTooFrequent = 10006
	retCodeIPLimited   = 10018
)

var intervals = map[models.Interval]string{
	models.Interval1m:  "1",
	models.Interval3m:  "3",
	models.Interval5m:  "5",
	models.Interval15m: "15",
	models.Interval30m: "30",
	models.Interval1h:  "60",
	models.Interval2h:  "120",
	models.Interval4h:  "240",
	models.Interval6h:  "360",
	models.Interval12h: "720",
	models.Interval1d:  "D",
	models.Interval1w:  "W",
	models.Interval1M:  "M",
}

// KlinesPayload holds the rows of one kline call. Each row is
// [startTime, open, high, low, close, volume, turnover], newest first.
type KlinesPayload struct {
	Symbol string
	Rows   []json.RawMessage
}

func (p *KlinesPayload) Provider() models.ProviderKind { return models.ProviderBybit }
func (p *KlinesPayload) Instrument() string            { return p.Symbol }

type klineResult struct {
	Category string            `json:"category"`
	Symbol   string            `json:"symbol"`
	List     []json.RawMessage `json:"list"`
}

// KlinesReader is the secondary crypto adapter, backed by the Bybit v5
// market kline endpoint.
type KlinesReader struct {
	cfg     config.BybitSourceConfig
	quote   string
	client  *bybit.Client
	limiter *rate.Limiter
	log     *logger.Log
	rowCap  int
}

func NewKlinesReader(cfg *config.Config) *KlinesReader {
	log := logger.GetLogger()
	src := cfg.Source.Bybit

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = cfg.Reader.Timeout
	}
	httpClient := reader.NewHTTPClient(src.ConnectionPool, timeout, cfg.Reader.LocalIP)
	httpClient.Transport = &statusTransport{base: httpClient.Transport, log: log}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(strings.TrimRight(src.URL, "/")))
	client.HTTPClient = httpClient

	rowCap := src.Limit
	if rowCap <= 0 || rowCap > maxRowsPerRequest {
		rowCap = maxRowsPerRequest
	}

	log.WithComponent(component).WithFields(logger.Fields{
		"base_url": src.URL,
		"category": src.Category,
		"row_cap":  rowCap,
		"timeout":  timeout,
	}).Info("bybit reader initialized")

	return &KlinesReader{
		cfg:     src,
		quote:   cfg.Source.Binance.QuoteAsset,
		client:  client,
		limiter: reader.NewLimiter(cfg.Reader.RateLimit),
		log:     log,
		rowCap:  rowCap,
	}
}

func (r *KlinesReader) Kind() models.ProviderKind { return models.ProviderBybit }

func (r *KlinesReader) DefaultBudget() models.DownsampleBudget {
	return models.DownsampleBudget{MaxPoints: r.cfg.MaxPoints}
}

func (r *KlinesReader) Fetch(ctx context.Context, req reader.Request) (reader.RawPayload, error) {
	pair := symbols.ToBybit(symbols.NormalizePair(symbols.ToBinance("binance", req.Symbol), r.quote))
	if pair == "" {
		return nil, reader.InvalidInput("symbol must not be empty")
	}
	interval, ok := intervals[req.Window.Interval]
	if !ok {
		return nil, reader.InvalidInput("unsupported bybit interval %q", req.Window.Interval)
	}

	category := r.cfg.Category
	if category == "" {
		category = "spot"
	}
	params := map[string]interface{}{
		"category": category,
		"symbol":   pair,
		"interval": interval,
		"start":    req.Window.Start.UnixMilli(),
		"end":      req.Window.End.UnixMilli(),
		"limit":    r.rowCap,
	}

	log := r.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":    pair,
		"interval":  interval,
		"operation": "fetch_klines",
	})

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, reader.NewError(models.ProviderBybit, reader.KindNetwork, "rate limiter wait aborted", err)
		}
	}

	start := time.Now()
	resp, err := r.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		perr := reader.TransportError(models.ProviderBybit, err)
		log.WithError(perr).Warn("failed to fetch klines")
		return nil, perr
	}
	logger.LogPerformanceEntry(log, component, "api_request", time.Since(start), nil)

	if resp == nil {
		return nil, reader.Malformed(models.ProviderBybit, "empty response")
	}
	if resp.RetCode != retCodeOK {
		perr := r.classify(pair, resp.RetCode, resp.RetMsg)
		log.WithError(perr).Warn("bybit rejected kline request")
		return nil, perr
	}

	body, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, reader.NewError(models.ProviderBybit, reader.KindMalformedResponse, "unreadable result", err)
	}
	var result klineResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, reader.NewError(models.ProviderBybit, reader.KindMalformedResponse, "unreadable result", err)
	}
	if result.List == nil {
		return nil, reader.Malformed(models.ProviderBybit, "result has no list")
	}

	return &KlinesPayload{Symbol: pair, Rows: result.List}, nil
}

// Normalize maps rows positionally. Rows that are not string arrays of at
// least six fields are counted as rejected.
func (r *KlinesReader) Normalize(raw reader.RawPayload) ([]models.OhlcvRecord, int, error) {
	p, ok := raw.(*KlinesPayload)
	if !ok || p == nil {
		return nil, 0, reader.Malformed(models.ProviderBybit, "unexpected payload %T", raw)
	}

	records := make([]models.OhlcvRecord, 0, len(p.Rows))
	rejected := 0
	for _, row := range p.Rows {
		var fields []string
		if err := json.Unmarshal(row, &fields); err != nil || len(fields) < 6 {
			rejected++
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil || ms <= 0 {
			rejected++
			continue
		}
		rec, ok := processor.BuildRecord(time.UnixMilli(ms), processor.RequiredFields{
			Open:   fields[1],
			High:   fields[2],
			Low:    fields[3],
			Close:  fields[4],
			Volume: fields[5],
		}, processor.OptionalFields{})
		if !ok {
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected, nil
}

func (r *KlinesReader) classify(pair string, code int, msg string) *reader.ProviderError {
	kind := reader.KindUpstream
	switch {
	case code == retCodeTooFrequent || code == retCodeIPLimited:
		kind = reader.KindRateLimited
	case code == retCodeParams && strings.Contains(strings.ToLower(msg), "symbol"):
		kind = reader.KindInvalidSymbol
	case ratemetrics.ReportLimitFromMessage(r.log, "bybit", pair, msg):
		kind = reader.KindRateLimited
	}
	return reader.NewError(models.ProviderBybit, kind, fmt.Sprintf("retCode %d: %s", code, msg), nil)
}

var _ reader.Adapter = (*KlinesReader)(nil)

// statusTransport reports quota headers and turns throttling or server
// statuses into typed errors before the SDK sees the body.
type statusTransport struct {
	base http.RoundTripper
	log  *logger.Log
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	bybitmetrics.ReportUsage(t.log, resp.Header, component, req.URL.Query().Get("symbol"))

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		perr := reader.StatusError(models.ProviderBybit, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusForbidden {
			perr.Kind = reader.KindRateLimited
		}
		return nil, perr
	}
	return resp, nil
}
