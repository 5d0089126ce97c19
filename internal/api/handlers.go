package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/reader"
)

var kindStatus = map[reader.ErrorKind]int{
	reader.KindInvalidInput:      http.StatusBadRequest,
	reader.KindInvalidSymbol:     http.StatusNotFound,
	reader.KindRateLimited:       http.StatusTooManyRequests,
	reader.KindMalformedResponse: http.StatusBadGateway,
	reader.KindUpstream:          http.StatusBadGateway,
	reader.KindNetwork:           http.StatusGatewayTimeout,
}

// StatusFor maps an error kind to its HTTP status. Errors outside the
// taxonomy are internal failures.
func StatusFor(err error) int {
	if status, ok := kindStatus[reader.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Kind     string `json:"kind"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message"`
}

func errorPayload(err error) errorBody {
	body := errorBody{Kind: string(reader.KindOf(err)), Message: err.Error()}
	var pe *reader.ProviderError
	if errors.As(err, &pe) {
		body.Provider = string(pe.Provider)
	}
	if body.Kind == "" {
		body.Kind = "internal"
	}
	return body
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	entry := s.log.WithComponent("api").WithError(err).WithFields(logger.Fields{
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	c.JSON(status, gin.H{"error": errorPayload(err)})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   s.version,
		"providers": s.feed.Providers(),
	})
}

// seriesRequest reads symbol, start, end, interval, max_points and the
// equity options from the query string.
func seriesRequest(c *gin.Context, defaultInterval models.Interval) (reader.Request, error) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		return reader.Request{}, reader.InvalidInput("symbol is required")
	}

	interval := models.Interval(c.DefaultQuery("interval", string(defaultInterval)))
	window, err := reader.ParseWindow(c.Query("start"), c.Query("end"), interval)
	if err != nil {
		return reader.Request{}, err
	}

	req := reader.Request{Symbol: symbol, Window: window}
	if raw := c.Query("max_points"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return reader.Request{}, reader.InvalidInput("max_points must be a positive integer, got %q", raw)
		}
		req.Budget = models.DownsampleBudget{MaxPoints: n}
	}

	req.Equity.Function = c.Query("function")
	req.Equity.OutputSize = c.Query("outputsize")
	req.Equity.Month = c.Query("month")
	if req.Equity.Adjusted, err = optionalBool(c, "adjusted"); err != nil {
		return reader.Request{}, err
	}
	if req.Equity.ExtendedHours, err = optionalBool(c, "extended_hours"); err != nil {
		return reader.Request{}, err
	}
	return req, nil
}

func optionalBool(c *gin.Context, key string) (*bool, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, reader.InvalidInput("%s must be true or false, got %q", key, raw)
	}
	return &v, nil
}

func (s *Server) series(c *gin.Context) {
	req, err := seriesRequest(c, models.Interval1d)
	if err != nil {
		s.fail(c, err)
		return
	}
	series, err := s.feed.Series(c.Request.Context(), c.Query("provider"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}

type intervalResponse struct {
	Interval models.Interval         `json:"interval"`
	Series   *models.CanonicalSeries `json:"series,omitempty"`
	Error    *errorBody              `json:"error,omitempty"`
}

// intervals answers 200 even when some intervals failed; each entry carries
// its own series or error.
func (s *Server) intervals(c *gin.Context) {
	req, err := seriesRequest(c, models.Interval1d)
	if err != nil {
		s.fail(c, err)
		return
	}

	var intervals []models.Interval
	if raw := c.Query("intervals"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				intervals = append(intervals, models.Interval(part))
			}
		}
	}

	results, err := s.feed.Intervals(c.Request.Context(), c.Query("provider"), req, intervals)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]intervalResponse, 0, len(results))
	for _, res := range results {
		item := intervalResponse{Interval: res.Interval}
		if res.Err != nil {
			body := errorPayload(res.Err)
			item.Error = &body
		} else {
			series := res.Series
			item.Series = &series
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (s *Server) quote(c *gin.Context) {
	q, err := s.feed.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) search(c *gin.Context) {
	matches, err := s.feed.Search(c.Request.Context(), c.Query("keywords"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) overview(c *gin.Context) {
	ov, err := s.feed.Overview(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (s *Server) movers(c *gin.Context) {
	m, err := s.feed.Movers(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) recentMetrics(c *gin.Context) {
	snapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) recentLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
}
