// Package outbox delivers record change events written alongside presence records to Kafka.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// Dispatcher drains the outbox and delivers events to Kafka.
type Dispatcher struct {
	source           Source
	producer         messageWriter
	logger           zerolog.Logger
	pollInterval     time.Duration
	batchSize        int
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(source Source, producer messageWriter, pollInterval time.Duration, batchSize int, logger zerolog.Logger) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{
		source:           source,
		producer:         producer,
		logger:           logger,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("outbox dispatcher error")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.source.Claim(ctx, d.batchSize)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}

	if err := d.deliver(ctx, messages); err != nil {
		d.logger.Warn().Err(err).Int("count", len(messages)).Msg("outbox delivery failed")
		failedCounter.Add(float64(len(messages)))
		for _, msg := range messages {
			if msg.Attempts+1 >= MaxAttempts {
				parkedCounter.WithLabelValues(msg.Topic).Inc()
				d.logger.Error().Int64("event_id", msg.EventID).Str("topic", msg.Topic).Msg("outbox event parked after repeated failures")
			}
		}
		return d.source.Release(ctx, ids, err.Error())
	}

	deliveredCounter.Add(float64(len(messages)))
	return d.source.MarkPublished(ctx, ids)
}

func (d *Dispatcher) deliver(ctx context.Context, messages []Message) error {
	for _, batch := range batchByTopic(messages, time.Now().UTC()) {
		if err := d.producer.WriteMessages(ctx, batch.topic, batch.messages...); err != nil {
			return err
		}
	}
	return nil
}
