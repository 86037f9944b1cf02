// Package app assembles presence components from configuration for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"example.com/presence/internal/config"
	"example.com/presence/internal/dashboard"
	"example.com/presence/internal/domain"
	"example.com/presence/internal/outbox"
	"example.com/presence/internal/persistence/memory"
	"example.com/presence/internal/persistence/postgres"
	"example.com/presence/internal/persistence/sqlite"
	slackplatform "example.com/presence/internal/platform/slack"
	"example.com/presence/internal/presence"
)

// Stores is the storage selected by STORE_DRIVER.
type Stores struct {
	Records domain.PresenceStore
	Configs domain.ConfigStore
	// Outbox is nil when the driver has no outbox.
	Outbox outbox.Source
	close  func()
}

// Close releases the underlying connections.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores opens the configured store and applies its schema.
func OpenStores(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store := memory.NewStore()
		logger.Warn().Msg("using in-memory store, state is lost on restart")
		return &Stores{Records: store, Configs: store}, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		store := postgres.NewStore(pool, cfg.RecordEventsTopic)
		return &Stores{Records: store, Configs: store, Outbox: store, close: pool.Close}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, cfg.RecordEventsTopic)
		if err != nil {
			return nil, err
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				logger.Error().Err(err).Msg("close sqlite store")
			}
		}
		stores := &Stores{Records: store, Configs: store, close: closeFn}
		if cfg.RecordEventsTopic != "" {
			stores.Outbox = store
		}
		return stores, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// NewRecorder builds the activity recorder over the configured store.
func NewRecorder(cfg config.Config, stores *Stores, logger zerolog.Logger) *presence.Recorder {
	return presence.NewRecorder(stores.Records, presence.NewPeriodAccountant(cfg.Location()),
		presence.WithLogger(logger.With().Str("component", "recorder").Logger()),
		presence.WithCallTimeout(cfg.CallTimeout),
	)
}

// NewSlackClient builds the chat platform client.
func NewSlackClient(cfg config.Config) (*slackplatform.Client, error) {
	if cfg.SlackBotToken == "" {
		return nil, errors.New("SLACK_BOT_TOKEN is required")
	}
	return slackplatform.NewClient(cfg.SlackBotToken, cfg.SlackAPIBase, &http.Client{Timeout: cfg.CallTimeout})
}

// NewReconciler builds the dashboard reconciler.
func NewReconciler(cfg config.Config, stores *Stores, recorder *presence.Recorder, platform domain.PlatformClient, logger zerolog.Logger) *dashboard.Reconciler {
	return dashboard.NewReconciler(stores.Configs, recorder, platform,
		dashboard.WithLogger(logger.With().Str("component", "dashboard").Logger()),
		dashboard.WithCallTimeout(cfg.CallTimeout),
		dashboard.WithDefaultChannel(cfg.DashboardChannelID),
		dashboard.WithRenderer(dashboard.NewRenderer(cfg.DashboardTitle, cfg.DashboardMaxEntries)),
	)
}

// NewDispatcher builds the outbox dispatcher, or returns nil when the store has no outbox
// or no brokers are configured.
func NewDispatcher(cfg config.Config, stores *Stores, logger zerolog.Logger) (*outbox.Dispatcher, *outbox.KafkaProducer) {
	if stores.Outbox == nil || len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, outbox.WithBatchTimeout(cfg.KafkaBatchTimeout))
	dispatcher := outbox.NewDispatcher(stores.Outbox, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		logger.With().Str("component", "outbox").Logger())
	return dispatcher, producer
}
