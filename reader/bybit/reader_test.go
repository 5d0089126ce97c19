package bybit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"marketfeed/config"
	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Source.Bybit.Enabled = true
	cfg.Source.Bybit.URL = baseURL
	cfg.Source.Bybit.Timeout = 2 * time.Second
	return &cfg
}

func testRequest(symbol string) reader.Request {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return reader.Request{
		Symbol: symbol,
		Window: models.QueryWindow{Start: start, End: start.Add(3 * time.Hour), Interval: models.Interval1h},
	}
}

const klineBody = `{"retCode":0,"retMsg":"OK","result":{"category":"spot","symbol":"BTCUSDT","list":[
 ["1704074400000","42100","42300","42090","42250","9.9","416000"],
 ["1704070800000","42050","42200","42000","n/a","8.1","340000"],
 ["1704067200000","42000","42100","41950","42050","12.5","525000"],
 ["1704067200000","1","2"]
]},"retExtInfo":{},"time":1704078000000}`

func TestFetchAndNormalize(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query())
		w.Header().Set("X-Bapi-Limit", "600")
		w.Header().Set("X-Bapi-Limit-Status", "599")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(klineBody))
	}))
	defer srv.Close()

	r := NewKlinesReader(testConfig(srv.URL))
	raw, err := r.Fetch(context.Background(), testRequest("btc"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	q := query.Load().(url.Values)
	if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "60" || q.Get("category") != "spot" {
		t.Fatalf("unexpected query %v", q)
	}

	records, rejected, err := r.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(records) != 2 || rejected != 2 {
		t.Fatalf("expected 2 records and 2 rejected, got %d/%d", len(records), rejected)
	}

	series := processor.Assemble(records)
	if !series.Ordered() {
		t.Fatalf("expected assembled series to be ordered")
	}
	if !series[0].Timestamp.Equal(time.UnixMilli(1704067200000)) {
		t.Fatalf("unexpected first timestamp %v", series[0].Timestamp)
	}
}

func TestFetchRetCodeKinds(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"invalid symbol", `{"retCode":10001,"retMsg":"Not supported symbols","result":{},"retExtInfo":{},"time":1}`, reader.ErrInvalidSymbol},
		{"too many visits", `{"retCode":10006,"retMsg":"Too many visits!","result":{},"retExtInfo":{},"time":1}`, reader.ErrRateLimited},
		{"other", `{"retCode":10016,"retMsg":"Server error","result":{},"retExtInfo":{},"time":1}`, reader.ErrUpstream},
		{"missing list", `{"retCode":0,"retMsg":"OK","result":{"category":"spot"},"retExtInfo":{},"time":1}`, reader.ErrMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewKlinesReader(testConfig(srv.URL)).Fetch(context.Background(), testRequest("BTCUSDT"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestFetchHTTPThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("access too frequent"))
	}))
	defer srv.Close()

	_, err := NewKlinesReader(testConfig(srv.URL)).Fetch(context.Background(), testRequest("BTCUSDT"))
	if !errors.Is(err, reader.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestFetchRejectsUnsupportedInterval(t *testing.T) {
	req := testRequest("BTCUSDT")
	req.Window.Interval = models.Interval8h
	_, err := NewKlinesReader(testConfig("http://127.0.0.1:1")).Fetch(context.Background(), req)
	if !errors.Is(err, reader.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
