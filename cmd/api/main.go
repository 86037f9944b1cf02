package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"example.com/presence/internal/api"
	"example.com/presence/internal/app"
	"example.com/presence/internal/auth"
	"example.com/presence/internal/config"
	"example.com/presence/internal/dashboard"
	"example.com/presence/internal/observability"
	httptransport "example.com/presence/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build logger")
	}
	logger = logger.With().Str("service", "presence-api").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer stores.Close()

	platform, err := app.NewSlackClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build slack client")
	}

	recorder := app.NewRecorder(cfg, stores, logger)
	reconciler := app.NewReconciler(cfg, stores, recorder, platform, logger)
	scheduler := dashboard.NewScheduler(reconciler, stores.Configs, cfg.DashboardInterval,
		logger.With().Str("component", "scheduler").Logger())
	go scheduler.Start(ctx)

	dispatcher, producer := app.NewDispatcher(cfg, stores, logger)
	if dispatcher != nil {
		defer producer.Close()
		go dispatcher.Start(ctx)
	}

	handler := api.NewHandler(api.Dependencies{
		Recorder:              recorder,
		Records:               stores.Records,
		Configs:               stores.Configs,
		Dashboard:             reconciler,
		Platform:              platform,
		ReconcileOnTransition: cfg.ReconcileOnTransition,
		Logger:                logger.With().Str("component", "api").Logger(),
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	requestLogger := httptransport.RequestLogger(logger)
	recoverer := httptransport.Recoverer(logger)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.CallTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}, recoverer(requestLogger(authMiddleware.Wrap(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress).Str("driver", cfg.StoreDriver).Msg("presence api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdownCh
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	reconciler.Wait()
}
