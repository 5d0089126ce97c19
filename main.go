package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"marketfeed/config"
	"marketfeed/internal/api"
	"marketfeed/internal/feed"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath, "config/config.yml"))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("AWS_REGION").WithFields(logger.Fields{
		"service":     cfg.MarketFeed.Name,
		"version":     cfg.MarketFeed.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting marketfeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.CloudWatch.Enabled {
		cw := cfg.Metrics.CloudWatch
		logger.InitCloudWatch(ctx, cw.Region, cw.Namespace, cw.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Logging.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	svc, err := feed.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to open feed service")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	if srv := api.NewServer(cfg.API, svc, log, cfg.MarketFeed.Version); srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.WithComponent("main").WithError(err).Error("api server stopped")
				cancel()
			}
		}()
	} else {
		log.WithComponent("main").Info("api disabled")
	}

	if cfg.Stream.Enabled {
		relay := svc.Stream(cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil {
				log.WithComponent("main").WithError(err).Warn("kline stream failed to start")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()
	wg.Wait()

	log.Info("closing sinks")
	if err := svc.Close(); err != nil {
		log.WithError(err).Warn("failed to close sinks")
	}

	log.Info("marketfeed stopped")
}
