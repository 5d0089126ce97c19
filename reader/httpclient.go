package reader

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"marketfeed/config"
)

// NewHTTPClient builds the pooled client every REST adapter uses. Outbound
// connections bind to localIP when it parses.
func NewHTTPClient(pool config.ConnectionPoolConfig, timeout time.Duration, localIP string) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
	}

	if localIP != "" {
		if ip := net.ParseIP(localIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// NewLimiter returns nil when the configuration disables throttling.
func NewLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}
