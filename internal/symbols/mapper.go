package symbols

import "strings"

// KnownQuotes are the quote suffixes a ticker may already carry.
var KnownQuotes = []string{"USDT", "USDC", "BUSD", "USD"}

// bareTickerMaxLen is the longest input treated as a bare coin ticker.
const bareTickerMaxLen = 5

// NormalizePair turns a user-supplied ticker into an exchange pair. The ticker
// is trimmed and upper-cased; a bare ticker of at most five characters that
// does not already end in a known quote gets quote appended. quote defaults
// to USDT.
//
//	btc     -> BTCUSDT
//	BTCUSDT -> BTCUSDT
//	ETHUSD  -> ETHUSD
func NormalizePair(sym, quote string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if sym == "" {
		return ""
	}
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = "USDT"
	}
	if len(sym) > bareTickerMaxLen || HasKnownQuote(sym) {
		return sym
	}
	return sym + quote
}

// HasKnownQuote reports whether sym ends in one of KnownQuotes.
func HasKnownQuote(sym string) bool {
	for _, q := range KnownQuotes {
		if strings.HasSuffix(sym, q) {
			return true
		}
	}
	return false
}

// ToBinance converts various exchange-specific symbol formats to Binance style.
// It ensures symbols are uppercase without separators and uses BTC instead of XBT.
func ToBinance(exchange, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	switch strings.ToLower(exchange) {
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "coinbase":
		sym = strings.ReplaceAll(sym, "-", "")
	case "kraken":
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	default:
		sym = strings.NewReplacer("-", "", "/", "", "_", "").Replace(sym)
	}
	return sym
}

// ToBybit converts a Binance-style spot pair to the name Bybit lists it under.
func ToBybit(sym string) string {
	switch sym {
	case "SHIBUSDT":
		return "SHIB1000USDT"
	}
	return sym
}
