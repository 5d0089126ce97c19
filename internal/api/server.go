// Package api serves series, equity lookups and service metrics over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketfeed/config"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

// Feed is what the HTTP layer needs from the feed service.
type Feed interface {
	Providers() []string
	Series(ctx context.Context, provider string, req reader.Request) (models.CanonicalSeries, error)
	Intervals(ctx context.Context, provider string, req reader.Request, intervals []models.Interval) ([]processor.IntervalResult, error)
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	Search(ctx context.Context, keywords string) ([]models.SymbolMatch, error)
	Overview(ctx context.Context, symbol string) (models.CompanyOverview, error)
	Movers(ctx context.Context) (models.MarketMovers, error)
}

const recentHistory = 200

type Server struct {
	cfg           config.APIConfig
	feed          Feed
	log           *logger.Log
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
	version       string
}

// NewServer returns nil when the API is disabled.
func NewServer(cfg config.APIConfig, feed Feed, log *logger.Log, version string) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)

	store := newMetricStore(recentHistory)
	logs := newLogStore(recentHistory)
	log.AddHook(logs)

	return &Server{
		cfg:           cfg,
		feed:          feed,
		log:           log,
		metricStore:   store,
		logStore:      logs,
		metricHandler: metrics.RegisterMetricHandler(store.handle),
		version:       version,
	}
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.Router()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address}).Info("api server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() (*gin.Engine, error) {
	mode := gin.ReleaseMode
	if m := strings.ToLower(s.cfg.Mode); m == gin.DebugMode || m == gin.TestMode {
		mode = m
	}
	gin.SetMode(mode)

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/series", s.series)
	v1.GET("/series/intervals", s.intervals)
	v1.GET("/quote/:symbol", s.quote)
	v1.GET("/search", s.search)
	v1.GET("/overview/:symbol", s.overview)
	v1.GET("/movers", s.movers)
	v1.GET("/debug/metrics", s.recentMetrics)
	v1.GET("/debug/logs", s.recentLogs)

	return router, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithComponent("api").WithFields(logger.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		})
		logger.LogPerformanceEntry(entry, "api", "http_request", time.Since(start), nil)
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
