package rate

import (
	"strings"

	"marketfeed/logger"
)

// ReportRateLimitExceeded counts one throttled request for provider and logs
// a warning carrying the symbol.
func ReportRateLimitExceeded(log *logger.Log, provider, symbol string) {
	component := strings.ToLower(provider) + "_reader"
	l := log.WithComponent(component)
	fields := logger.Fields{
		"provider": strings.ToLower(provider),
		"symbol":   symbol,
	}
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan counts one response telling us the host address is banned.
func ReportIPBan(log *logger.Log, provider, symbol string) {
	component := strings.ToLower(provider) + "_reader"
	l := log.WithComponent(component)
	fields := logger.Fields{
		"provider": strings.ToLower(provider),
		"symbol":   symbol,
	}
	l.LogMetric(component, "ip_ban", int64(1), "counter", fields)
	l.WithFields(fields).Error("ip banned")
}

// DetectLimit inspects a provider error message for throttling wording. Each
// provider phrases it differently; Alpha Vantage reports its quota through a
// "Note" or "Information" body rather than a status code.
func DetectLimit(provider, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(provider) {
	case "binance":
		rateLimit = strings.Contains(lowerMsg, "too many requests") ||
			strings.Contains(lowerMsg, "rate limit") ||
			strings.Contains(lowerMsg, "too much request weight")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	case "bybit":
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits"))
	case "alphavantage":
		rateLimit = strings.Contains(lowerMsg, "call frequency") ||
			strings.Contains(lowerMsg, "rate limit") ||
			strings.Contains(lowerMsg, "requests per day")
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// ReportLimitFromMessage records the matching metric when msg signals
// throttling or a ban. It returns whether msg signalled either.
func ReportLimitFromMessage(log *logger.Log, provider, symbol, msg string) bool {
	rateLimit, ipBan := DetectLimit(provider, msg)
	if rateLimit {
		ReportRateLimitExceeded(log, provider, symbol)
	}
	if ipBan {
		ReportIPBan(log, provider, symbol)
	}
	return rateLimit || ipBan
}
