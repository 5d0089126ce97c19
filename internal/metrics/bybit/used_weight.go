package bybitmetrics

import (
	"net/http"
	"strconv"

	"marketfeed/internal/metrics"
	"marketfeed/logger"
)

// ReportUsage extracts Bybit REST rate-limit headers and emits the used quota
// as a used_weight gauge. Bybit has renamed these headers over time, so the
// X-RateLimit-* pair is tried when the X-Bapi-* pair is absent. It returns the
// parsed limit and remaining quota and whether any header was present.
func ReportUsage(log *logger.Log, header http.Header, component, symbol string) (limit, remaining float64, found bool) {
	if header == nil {
		return 0, 0, false
	}
	if log == nil {
		log = logger.GetLogger()
	}

	limitKey, remainingKey := "X-Bapi-Limit", "X-Bapi-Limit-Status"
	if header.Get(limitKey) == "" && header.Get(remainingKey) == "" {
		limitKey, remainingKey = "X-RateLimit-Limit", "X-RateLimit-Remaining"
	}
	headerLimit := header.Get(limitKey)
	headerRemaining := header.Get(remainingKey)
	if headerLimit == "" && headerRemaining == "" {
		return 0, 0, false
	}

	parse := func(key, value string) float64 {
		if value == "" {
			return 0
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent(component).WithFields(logger.Fields{
				"header": key,
				"value":  value,
			}).WithError(err).Debug("failed to parse bybit rate limit header")
			return 0
		}
		return v
	}
	limit = parse(limitKey, headerLimit)
	remaining = parse(remainingKey, headerRemaining)

	if limit > 0 {
		used := limit - remaining
		if used < 0 {
			used = 0
		}
		metrics.EmitMetric(log, component, "used_weight", used, "gauge", logger.Fields{"symbol": symbol})
	}

	return limit, remaining, true
}
