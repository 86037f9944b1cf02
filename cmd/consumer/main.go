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
	"github.com/segmentio/kafka-go"

	"example.com/presence/internal/app"
	"example.com/presence/internal/config"
	"example.com/presence/internal/consumer"
	"example.com/presence/internal/dashboard"
	"example.com/presence/internal/observability"
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
	logger = logger.With().Str("service", "presence-consumer").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer stores.Close()

	recorder := app.NewRecorder(cfg, stores, logger)

	var trigger consumer.Triggerer
	var reconciler *dashboard.Reconciler
	if cfg.ReconcileOnTransition {
		platform, err := app.NewSlackClient(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("RECONCILE_ON_TRANSITION needs a slack client")
		}
		reconciler = app.NewReconciler(cfg, stores, recorder, platform, logger)
		trigger = reconciler
	}
	handler := consumer.NewTransitionHandler(recorder, trigger, logger.With().Str("component", "transitions").Logger())

	dispatcher, producer := app.NewDispatcher(cfg, stores, logger)
	if dispatcher != nil {
		defer producer.Close()
		go dispatcher.Start(ctx)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("address", cfg.MetricsAddress).Msg("consumer metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.PresenceTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})

	proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(logger.With().Str("component", "processor").Logger()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer reader.Close()

		logger.Info().Str("topic", cfg.PresenceTopic).Str("group", cfg.ConsumerGroupID).Msg("consumer started")
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Str("topic", cfg.PresenceTopic).Msg("consumer stopped with error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("consumer shutdown requested")
	case <-done:
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	<-done
	if dispatcher != nil {
		dispatcher.Wait()
	}
	if reconciler != nil {
		reconciler.Wait()
	}
}
