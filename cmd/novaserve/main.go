package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nova-ml/internal/artifact"
	"nova-ml/internal/cfg"
	"nova-ml/internal/metrics"
	"nova-ml/internal/serve"
	"nova-ml/internal/storage"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	registry, err := artifact.OpenRegistry(c.ModelsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", c.ModelsDir).Msg("failed to open model registry")
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(promRegistry)

	opts := serve.Options{
		CacheSize: c.CacheSize,
		CacheTTL:  c.CacheTTL,
	}
	var audit *storage.Store
	if c.AuditEnabled {
		audit, err = storage.New(c.DataDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", c.DataDir).Msg("failed to open audit store")
		}
		defer audit.Close()
		opts.Audit = audit
	}

	engine := serve.NewEngine(registry, m, opts)

	// A missing active model is not fatal: the daemon starts unhealthy and
	// becomes servable after POST /model/reload.
	if err := engine.Reload(); err != nil {
		log.Warn().Err(err).Msg("no servable model at startup")
	}

	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
	server := serve.NewServer(engine, registry, c.ListenAddr, metricsHandler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
	log.Info().Msg("server stopped")
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.PrettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
