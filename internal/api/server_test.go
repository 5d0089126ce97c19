package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"marketfeed/config"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

var day = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

type fakeFeed struct {
	lastProvider string
	lastReq      reader.Request
	lastInterval []models.Interval
	err          error
}

func (f *fakeFeed) Providers() []string { return []string{"alphavantage", "binance"} }

func (f *fakeFeed) Series(ctx context.Context, provider string, req reader.Request) (models.CanonicalSeries, error) {
	f.lastProvider, f.lastReq = provider, req
	if f.err != nil {
		return models.CanonicalSeries{}, f.err
	}
	return models.CanonicalSeries{
		RequestID: "req-1",
		Provider:  models.ProviderBinance,
		Symbol:    req.Symbol,
		Window:    req.Window,
		Records:   models.Series{{Timestamp: day, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}},
	}, nil
}

func (f *fakeFeed) Intervals(ctx context.Context, provider string, req reader.Request, intervals []models.Interval) ([]processor.IntervalResult, error) {
	f.lastInterval = intervals
	return []processor.IntervalResult{
		{Interval: models.Interval1m, Series: models.CanonicalSeries{Symbol: req.Symbol}},
		{Interval: models.Interval1h, Err: reader.NewError(models.ProviderBinance, reader.KindRateLimited, "slow down", nil)},
	}, nil
}

func (f *fakeFeed) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	if f.err != nil {
		return models.Quote{}, f.err
	}
	return models.Quote{Symbol: symbol, Price: 162}, nil
}

func (f *fakeFeed) Search(ctx context.Context, keywords string) ([]models.SymbolMatch, error) {
	return []models.SymbolMatch{{Symbol: "TSCO.LON", Name: keywords}}, nil
}

func (f *fakeFeed) Overview(ctx context.Context, symbol string) (models.CompanyOverview, error) {
	return models.CompanyOverview{"Symbol": symbol}, nil
}

func (f *fakeFeed) Movers(ctx context.Context) (models.MarketMovers, error) {
	return models.MarketMovers{TopGainers: []models.Mover{{Ticker: "ABC"}}}, nil
}

func newTestServer(t *testing.T, feed Feed) (*Server, *gin.Engine) {
	t.Helper()
	srv := NewServer(config.APIConfig{Enabled: true, Address: ":0", Mode: "test"}, feed, logger.Logger(), "test")
	require.NotNil(t, srv)
	t.Cleanup(srv.cleanup)
	router, err := srv.Router()
	require.NoError(t, err)
	return srv, router
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                          "0.0.0.0:8080",
		"  :9090  ":                 "0.0.0.0:9090",
		"localhost":                 "localhost:8080",
		"[::1]:443":                 "[::1]:443",
		"::1":                       "[::1]:8080",
		"*:8080":                    "0.0.0.0:8080",
		"http://10.0.0.5:8080":      "10.0.0.5:8080",
		"tcp://localhost:5050":      "localhost:5050",
		"https://feed.example.com/": "feed.example.com:8080",
	}
	for input, want := range cases {
		require.Equal(t, want, normalizeAddress(input), "input %q", input)
	}
}

func TestNewServerDisabled(t *testing.T) {
	require.Nil(t, NewServer(config.APIConfig{Enabled: false}, &fakeFeed{}, logger.Logger(), "test"))
}

func TestHealth(t *testing.T) {
	_, router := newTestServer(t, &fakeFeed{})
	rec := get(router, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, []string{"alphavantage", "binance"}, body.Providers)
}

func TestSeriesForwardsQuery(t *testing.T) {
	feed := &fakeFeed{}
	_, router := newTestServer(t, feed)

	rec := get(router, "/api/v1/series?provider=binance&symbol=btc&start=2024-01-01&end=2024-01-03&interval=1h&max_points=50&adjusted=false")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Equal(t, "binance", feed.lastProvider)
	require.Equal(t, "btc", feed.lastReq.Symbol)
	require.Equal(t, models.Interval1h, feed.lastReq.Window.Interval)
	require.Equal(t, 50, feed.lastReq.Budget.MaxPoints)
	require.True(t, feed.lastReq.Window.End.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, feed.lastReq.Equity.Adjusted)
	require.False(t, *feed.lastReq.Equity.Adjusted)
	require.Nil(t, feed.lastReq.Equity.ExtendedHours)

	var series models.CanonicalSeries
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Len(t, series.Records, 1)
}

func TestSeriesRejectsBadInput(t *testing.T) {
	_, router := newTestServer(t, &fakeFeed{})
	for _, target := range []string{
		"/api/v1/series?start=2024-01-01&end=2024-01-02",
		"/api/v1/series?symbol=BTC&start=yesterday&end=2024-01-02",
		"/api/v1/series?symbol=BTC&start=2024-01-03&end=2024-01-02",
		"/api/v1/series?symbol=BTC&start=2024-01-01&end=2024-01-02&max_points=-1",
		"/api/v1/series?symbol=BTC&start=2024-01-01&end=2024-01-02&adjusted=maybe",
	} {
		rec := get(router, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		require.Contains(t, rec.Body.String(), `"kind":"invalid_input"`, target)
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := map[reader.ErrorKind]int{
		reader.KindInvalidSymbol:     http.StatusNotFound,
		reader.KindRateLimited:       http.StatusTooManyRequests,
		reader.KindMalformedResponse: http.StatusBadGateway,
		reader.KindUpstream:          http.StatusBadGateway,
		reader.KindNetwork:           http.StatusGatewayTimeout,
	}
	for kind, status := range cases {
		feed := &fakeFeed{err: reader.NewError(models.ProviderAlphaVantage, kind, "nope", nil)}
		_, router := newTestServer(t, feed)

		rec := get(router, "/api/v1/quote/IBM")
		require.Equal(t, status, rec.Code, string(kind))
		require.Contains(t, rec.Body.String(), `"provider":"alphavantage"`)
	}
	require.Equal(t, http.StatusInternalServerError, StatusFor(context.Canceled))
}

func TestIntervalsReportsPerIntervalOutcome(t *testing.T) {
	feed := &fakeFeed{}
	_, router := newTestServer(t, feed)

	rec := get(router, "/api/v1/series/intervals?symbol=BTC&start=2024-01-01&end=2024-01-02&intervals=1m,%201h")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, []models.Interval{models.Interval1m, models.Interval1h}, feed.lastInterval)

	var body struct {
		Results []struct {
			Interval string          `json:"interval"`
			Series   json.RawMessage `json:"series"`
			Error    *errorBody      `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	require.NotEmpty(t, body.Results[0].Series)
	require.Nil(t, body.Results[0].Error)
	require.NotNil(t, body.Results[1].Error)
	require.Equal(t, "rate_limited", body.Results[1].Error.Kind)
}

func TestEquityRoutes(t *testing.T) {
	_, router := newTestServer(t, &fakeFeed{})

	rec := get(router, "/api/v1/quote/IBM")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"price":162`)

	rec = get(router, "/api/v1/search?keywords=tesco")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "TSCO.LON")

	rec = get(router, "/api/v1/overview/IBM")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"Symbol":"IBM"`)

	rec = get(router, "/api/v1/movers")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ticker":"ABC"`)
}

func TestPrometheusEndpoint(t *testing.T) {
	_, router := newTestServer(t, &fakeFeed{})
	rec := get(router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestDebugEndpointsCaptureMetricsAndWarnings(t *testing.T) {
	srv, router := newTestServer(t, &fakeFeed{})

	metrics.EmitMetric(srv.log, "api_test", "sample", 1, "counter", nil)
	srv.log.WithComponent("api_test").Warn("sample warning")

	rec := get(router, "/api/v1/debug/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"sample"`)

	rec = get(router, "/api/v1/debug/logs")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sample warning")
}
