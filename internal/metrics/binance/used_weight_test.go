package binancemetrics

import (
	"net/http"
	"testing"
	"time"

	"marketfeed/config"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
)

func TestReportUsedWeight_Success(t *testing.T) {
	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1M", "123.5")

	events := make(chan metrics.Metric, 1)
	id := metrics.RegisterMetricHandler(func(m metrics.Metric) { events <- m })
	t.Cleanup(func() { metrics.UnregisterMetricHandler(id) })

	weight, reported := ReportUsedWeight(logger.GetLogger(), header, "binance_reader", "BTCUSDT", "127.0.0.1")
	if !reported {
		t.Fatalf("expected metric to be reported")
	}
	if weight != 123.5 {
		t.Fatalf("unexpected weight: %v", weight)
	}

	select {
	case event := <-events:
		if event.Fields["ip"] != "127.0.0.1" || event.Fields["window"] != "1m" {
			t.Fatalf("unexpected fields %v", event.Fields)
		}
	default:
		t.Fatal("expected metric event to be emitted")
	}
}

func TestReportUsedWeight_FallsBackToSecondWindow(t *testing.T) {
	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1S", "4")

	weight, reported := ReportUsedWeight(nil, header, "binance_reader", "", "")
	if !reported || weight != 4 {
		t.Fatalf("expected weight 4, got %v reported=%v", weight, reported)
	}
}

func TestReportUsedWeight_Invalid(t *testing.T) {
	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1M", "not-a-number")

	events := make(chan metrics.Metric, 1)
	id := metrics.RegisterMetricHandler(func(m metrics.Metric) { events <- m })
	t.Cleanup(func() { metrics.UnregisterMetricHandler(id) })

	if _, reported := ReportUsedWeight(logger.GetLogger(), header, "binance_reader", "BTCUSDT", ""); reported {
		t.Fatalf("expected no metric to be reported for invalid header")
	}

	select {
	case <-events:
		t.Fatal("did not expect metric emission for invalid header")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestReportUsedWeight_NoHeaders(t *testing.T) {
	if _, reported := ReportUsedWeight(logger.GetLogger(), http.Header{}, "binance_reader", "BTCUSDT", ""); reported {
		t.Fatalf("expected no metric when headers missing")
	}
}

func TestReportUsedWeight_Disabled(t *testing.T) {
	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1M", "123.5")

	metrics.Configure(config.MetricsConfig{UsedWeight: false})
	t.Cleanup(func() { metrics.Configure(config.MetricsConfig{UsedWeight: true}) })

	if weight, reported := ReportUsedWeight(logger.GetLogger(), header, "binance_reader", "BTCUSDT", ""); reported || weight != 0 {
		t.Fatalf("expected metrics to be disabled")
	}
}
