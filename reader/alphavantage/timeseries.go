package alphavantage

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"marketfeed/config"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

const (
	FunctionIntraday        = "TIME_SERIES_INTRADAY"
	FunctionDaily           = "TIME_SERIES_DAILY"
	FunctionDailyAdjusted   = "TIME_SERIES_DAILY_ADJUSTED"
	FunctionWeekly          = "TIME_SERIES_WEEKLY"
	FunctionWeeklyAdjusted  = "TIME_SERIES_WEEKLY_ADJUSTED"
	FunctionMonthly         = "TIME_SERIES_MONTHLY"
	FunctionMonthlyAdjusted = "TIME_SERIES_MONTHLY_ADJUSTED"
)

var functions = map[string]bool{
	FunctionIntraday: true, FunctionDaily: true, FunctionDailyAdjusted: true,
	FunctionWeekly: true, FunctionWeeklyAdjusted: true,
	FunctionMonthly: true, FunctionMonthlyAdjusted: true,
}

// intradayIntervals accepts both provider names and the crypto notation used
// by the rest of the pipeline.
var intradayIntervals = map[string]string{
	"1min": "1min", "5min": "5min", "15min": "15min", "30min": "30min", "60min": "60min",
	"1m": "1min", "5m": "5min", "15m": "15min", "30m": "30min", "1h": "60min",
}

var timestampLayouts = []string{"2006-01-02 15:04:05", "2006-01-02"}

// TimeSeriesPayload is one time-series response: Rows maps the provider's
// timestamp strings to their raw field objects.
type TimeSeriesPayload struct {
	Symbol   string
	Function string
	Key      string
	Rows     map[string]json.RawMessage
}

func (p *TimeSeriesPayload) Provider() models.ProviderKind { return models.ProviderAlphaVantage }
func (p *TimeSeriesPayload) Instrument() string            { return p.Symbol }

// TimeSeriesReader adapts the TIME_SERIES_* functions to reader.Adapter.
type TimeSeriesReader struct {
	client *Client
	cfg    config.AlphaVantageSourceConfig
	log    *logger.Log
}

func NewTimeSeriesReader(client *Client, cfg config.AlphaVantageSourceConfig) *TimeSeriesReader {
	return &TimeSeriesReader{client: client, cfg: cfg, log: logger.GetLogger()}
}

// NewFromConfig builds the client and time-series reader from configuration.
func NewFromConfig(cfg *config.Config) (*Client, *TimeSeriesReader) {
	src := cfg.Source.AlphaVantage
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = cfg.Reader.Timeout
	}
	client := NewClient(src.APIKey,
		WithBaseURL(src.URL),
		WithHTTPClient(reader.NewHTTPClient(config.ConnectionPoolConfig{}, timeout, cfg.Reader.LocalIP)),
		WithLimiter(reader.NewLimiter(src.RateLimit)),
	)
	return client, NewTimeSeriesReader(client, src)
}

func (r *TimeSeriesReader) Kind() models.ProviderKind { return models.ProviderAlphaVantage }

func (r *TimeSeriesReader) DefaultBudget() models.DownsampleBudget {
	return models.DownsampleBudget{MaxPoints: r.cfg.MaxPoints}
}

// Params resolves the query for req. Interval, adjusted, extended_hours and
// month are only sent for the intraday function.
func (r *TimeSeriesReader) Params(req reader.Request) (url.Values, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, reader.InvalidInput("symbol must not be empty")
	}

	opts := req.Equity
	function := strings.ToUpper(strings.TrimSpace(opts.Function))
	if function == "" {
		function = r.cfg.Function
	}
	if function == "" {
		function = FunctionDaily
	}
	if !functions[function] {
		return nil, reader.InvalidInput("unsupported time series function %q", function)
	}

	outputSize := opts.OutputSize
	if outputSize == "" {
		outputSize = r.cfg.OutputSize
	}
	if outputSize == "" {
		outputSize = "full"
	}
	if outputSize != "full" && outputSize != "compact" {
		return nil, reader.InvalidInput("outputsize must be full or compact, got %q", outputSize)
	}

	params := url.Values{}
	params.Set("function", function)
	params.Set("symbol", symbol)
	params.Set("outputsize", outputSize)

	if function != FunctionIntraday {
		return params, nil
	}

	rawInterval := string(req.Window.Interval)
	if rawInterval == "" {
		rawInterval = r.cfg.Interval
	}
	if rawInterval == "" {
		rawInterval = "5min"
	}
	interval, ok := intradayIntervals[rawInterval]
	if !ok {
		return nil, reader.InvalidInput("unsupported intraday interval %q", rawInterval)
	}
	params.Set("interval", interval)
	params.Set("adjusted", boolParam(opts.Adjusted, r.cfg.Adjusted))
	params.Set("extended_hours", boolParam(opts.ExtendedHours, r.cfg.ExtendedHours))

	if opts.Month != "" {
		if _, err := time.Parse("2006-01", opts.Month); err != nil {
			return nil, reader.InvalidInput("month must be YYYY-MM, got %q", opts.Month)
		}
		params.Set("month", opts.Month)
	}
	return params, nil
}

func boolParam(v *bool, fallback bool) string {
	b := fallback
	if v != nil {
		b = *v
	}
	if b {
		return "true"
	}
	return "false"
}

func (r *TimeSeriesReader) Fetch(ctx context.Context, req reader.Request) (reader.RawPayload, error) {
	params, err := r.Params(req)
	if err != nil {
		return nil, err
	}

	out, err := r.client.query(ctx, params)
	if err != nil {
		return nil, err
	}

	keys := keysOf(out)
	key := ""
	for _, k := range keys {
		if strings.Contains(k, "Time Series") {
			key = k
			break
		}
	}
	if key == "" {
		return nil, reader.Malformed(models.ProviderAlphaVantage, "no time series key in response (keys: %s)", strings.Join(keys, ", "))
	}

	var rows map[string]json.RawMessage
	if err := json.Unmarshal(out[key], &rows); err != nil {
		return nil, reader.NewError(models.ProviderAlphaVantage, reader.KindMalformedResponse, "time series is not an object", err)
	}
	if len(rows) == 0 {
		return nil, reader.Malformed(models.ProviderAlphaVantage, "no time series data for the given parameters")
	}

	return &TimeSeriesPayload{
		Symbol:   params.Get("symbol"),
		Function: params.Get("function"),
		Key:      key,
		Rows:     rows,
	}, nil
}

// Normalize maps the field lookup table of the function onto canonical
// records. Adjusted functions shift volume to "6. volume" and add adjusted
// close, dividend and split coefficient; only keys present are mapped.
func (r *TimeSeriesReader) Normalize(raw reader.RawPayload) ([]models.OhlcvRecord, int, error) {
	p, ok := raw.(*TimeSeriesPayload)
	if !ok || p == nil {
		return nil, 0, reader.Malformed(models.ProviderAlphaVantage, "unexpected payload %T", raw)
	}

	adjusted := strings.Contains(p.Function, "ADJUSTED")
	volumeKey := "5. volume"
	if adjusted {
		volumeKey = "6. volume"
	}

	records := make([]models.OhlcvRecord, 0, len(p.Rows))
	rejected := 0
	for stamp, rawRow := range p.Rows {
		ts, ok := parseTimestamp(stamp)
		if !ok {
			rejected++
			continue
		}
		row, err := decodeFields(rawRow)
		if err != nil {
			rejected++
			continue
		}

		opt := processor.OptionalFields{}
		if adjusted {
			opt.AdjustedClose = lookup(row, "5. adjusted close")
			opt.Dividend = lookup(row, "7. dividend amount")
			opt.SplitCoefficient = lookup(row, "8. split coefficient")
		}
		rec, ok := processor.BuildRecord(ts, processor.RequiredFields{
			Open:   row["1. open"],
			High:   row["2. high"],
			Low:    row["3. low"],
			Close:  row["4. close"],
			Volume: row[volumeKey],
		}, opt)
		if !ok {
			rejected++
			continue
		}
		records = append(records, rec)
	}

	if rejected > 0 {
		r.log.WithComponent(component).WithFields(logger.Fields{
			"symbol":   p.Symbol,
			"function": p.Function,
			"rejected": rejected,
		}).Debug("dropped malformed time series rows")
	}
	return records, rejected, nil
}

// parseTimestamp reads provider timestamps as naive UTC instants.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeFields flattens one provider object into field text. Values may be
// JSON strings or numbers; anything else is kept as raw JSON so that it fails
// numeric parsing for that field alone.
func decodeFields(raw json.RawMessage) (map[string]string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			fields[k] = s
			continue
		}
		fields[k] = strings.TrimSpace(string(v))
	}
	return fields, nil
}

func lookup(row map[string]string, key string) *string {
	v, ok := row[key]
	if !ok {
		return nil
	}
	return &v
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ reader.Adapter = (*TimeSeriesReader)(nil)
