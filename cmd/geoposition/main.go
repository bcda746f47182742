package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	httpadapter "github.com/couchcryptid/geoposition-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/geoposition-service/internal/adapter/kafka"
	"github.com/couchcryptid/geoposition-service/internal/config"
	"github.com/couchcryptid/geoposition-service/internal/geo"
	"github.com/couchcryptid/geoposition-service/internal/locate"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/pipeline"
	"github.com/couchcryptid/geoposition-service/internal/provider"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	t := transport.NewHTTP(geo.TransportConfig(cfg, logger), logger, metrics)
	g := geo.Build(cfg, t, logger, metrics)
	if err := g.Init(provider.Named[locate.Provider](cfg.LocationProvider)); err != nil {
		logger.Error("no location provider available", "error", err)
		os.Exit(1)
	}
	current, _ := g.CurrentLocationProvider()
	logger.Info("geolocation ready", "location_provider", current, "cache_size", cfg.CacheSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := httpadapter.Checks{g}

	var (
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		p := pipeline.New(reader, pipeline.NewTransformer(g, logger), writer, logger, metrics, pipeline.Options{
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.EnrichConcurrency,
		})
		checks = append(checks, p)

		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		logger.Info("enrichment pipeline disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, g, checks, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
