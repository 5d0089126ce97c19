// Package alphavantage is the equity adapter. Every call is a GET on a single
// query endpoint selected by the function parameter; throttling and bad
// symbols are reported inside a 200 response body.
package alphavantage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	ratemetrics "marketfeed/internal/metrics/rate"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/reader"
)

const (
	component      = "alphavantage_reader"
	DefaultBaseURL = "https://www.alphavantage.co/query"
	maxErrorBody   = 512
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues Alpha Vantage queries. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	limiter    *rate.Limiter
	log        *logger.Log
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(hc HTTPClient) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLimiter paces outbound calls. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if hc, ok := c.httpClient.(*http.Client); ok && d > 0 {
			hc.Timeout = d
		}
	}
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// query performs exactly one GET and returns the top-level JSON object. Body
// level "Error Message", "Note" and "Information" keys become typed errors.
func (c *Client) query(ctx context.Context, params url.Values) (map[string]json.RawMessage, error) {
	function := params.Get("function")
	symbol := params.Get("symbol")
	log := c.log.WithComponent(component).WithFields(logger.Fields{
		"function": function,
		"symbol":   symbol,
	})

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, reader.NewError(models.ProviderAlphaVantage, reader.KindNetwork, "rate limiter wait aborted", err)
		}
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, reader.InvalidInput("build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		perr := reader.TransportError(models.ProviderAlphaVantage, err)
		log.WithError(perr).Warn("alphavantage request failed")
		return nil, perr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, reader.TransportError(models.ProviderAlphaVantage, err)
	}
	logger.LogPerformanceEntry(log, component, "api_request", time.Since(start), logger.Fields{"bytes": len(body)})

	if resp.StatusCode >= http.StatusBadRequest {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, reader.StatusError(models.ProviderAlphaVantage, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &out); err != nil || out == nil {
		return nil, reader.NewError(models.ProviderAlphaVantage, reader.KindMalformedResponse, "response is not a JSON object", err)
	}

	if perr := c.bodyError(symbol, out); perr != nil {
		log.WithError(perr).Warn("alphavantage rejected request")
		return nil, perr
	}
	return out, nil
}

func (c *Client) bodyError(symbol string, out map[string]json.RawMessage) *reader.ProviderError {
	if msg, ok := stringField(out, "Error Message"); ok {
		kind := reader.KindUpstream
		if strings.Contains(strings.ToLower(msg), "invalid api call") {
			kind = reader.KindInvalidSymbol
		}
		return reader.NewError(models.ProviderAlphaVantage, kind, msg, nil)
	}
	if msg, ok := stringField(out, "Note"); ok {
		ratemetrics.ReportRateLimitExceeded(c.log, string(models.ProviderAlphaVantage), symbol)
		return reader.NewError(models.ProviderAlphaVantage, reader.KindRateLimited, msg, nil)
	}
	if msg, ok := stringField(out, "Information"); ok {
		if ratemetrics.ReportLimitFromMessage(c.log, string(models.ProviderAlphaVantage), symbol, msg) {
			return reader.NewError(models.ProviderAlphaVantage, reader.KindRateLimited, msg, nil)
		}
		return reader.NewError(models.ProviderAlphaVantage, reader.KindUpstream, msg, nil)
	}
	return nil
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), true
	}
	return s, true
}
