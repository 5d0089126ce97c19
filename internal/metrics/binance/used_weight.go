package binancemetrics

import (
	"net/http"
	"strconv"

	"marketfeed/internal/metrics"
	"marketfeed/logger"
)

// ReportUsedWeight inspects Binance used-weight headers and emits a gauge when
// a numeric value is found. It returns the parsed weight and whether a metric
// was recorded.
func ReportUsedWeight(log *logger.Log, header http.Header, component, symbol, ip string) (float64, bool) {
	if header == nil || !metrics.UsedWeightEnabled() {
		return 0, false
	}
	if log == nil {
		log = logger.GetLogger()
	}

	headers := []struct {
		key    string
		window string
	}{
		{"X-MBX-USED-WEIGHT-1M", "1m"},
		{"X-MBX-USED-WEIGHT", "1m"},
		{"X-MBX-USED-WEIGHT-1S", "1s"},
	}

	for _, h := range headers {
		value := header.Get(h.key)
		if value == "" {
			continue
		}

		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent(component).WithFields(logger.Fields{
				"symbol": symbol,
				"header": h.key,
				"value":  value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}

		fields := logger.Fields{"window": h.window}
		if symbol != "" {
			fields["symbol"] = symbol
		}
		if ip != "" {
			fields["ip"] = ip
		}
		if _, ok := metrics.EmitMetric(log, component, "used_weight", used, "gauge", fields); !ok {
			return 0, false
		}
		return used, true
	}

	return 0, false
}
