package outbox

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const defaultBatchTimeout = 50 * time.Millisecond

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*KafkaProducer)

// WithBatchTimeout bounds how long a writer holds record changes before flushing.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(p *KafkaProducer) {
		if d > 0 {
			p.batchTimeout = d
		}
	}
}

// KafkaProducer publishes record change events, keeping one writer per topic.
type KafkaProducer struct {
	brokers      []string
	batchTimeout time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) *KafkaProducer {
	p := &KafkaProducer{
		brokers:      brokers,
		batchTimeout: defaultBatchTimeout,
		writers:      make(map[string]*kafka.Writer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WriteMessages writes msgs to topic in order.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writer(topic).WriteMessages(ctx, msgs...)
}

// writer hashes on the group:subject key so a subject's changes stay ordered on one partition.
func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: p.batchTimeout,
	}
	p.writers[topic] = w
	return w
}

// Close flushes and releases every writer.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}

// topicBatch is the slice of a claimed batch bound for one topic.
type topicBatch struct {
	topic    string
	messages []kafka.Message
}

// batchByTopic converts claimed rows to Kafka records, grouped by topic in first-seen order.
func batchByTopic(messages []Message, now time.Time) []topicBatch {
	batches := make([]topicBatch, 0, 1)
	index := make(map[string]int)
	for _, msg := range messages {
		i, ok := index[msg.Topic]
		if !ok {
			i = len(batches)
			index[msg.Topic] = i
			batches = append(batches, topicBatch{topic: msg.Topic})
		}
		batches[i].messages = append(batches[i].messages, recordMessage(msg, now))
	}
	return batches
}

// recordMessage carries the group and subject as headers so consumers can route a
// record change without decoding it.
func recordMessage(msg Message, now time.Time) kafka.Message {
	headers := []kafka.Header{
		{Key: "message_id", Value: []byte(uuid.NewString())},
		{Key: "event_type", Value: []byte(msg.EventType)},
		{Key: "outbox_event_id", Value: []byte(strconv.FormatInt(msg.EventID, 10))},
		{Key: "group_id", Value: []byte(msg.GroupID)},
	}
	if subject, ok := strings.CutPrefix(msg.AggregateID, msg.GroupID+":"); ok && subject != "" {
		headers = append(headers, kafka.Header{Key: "subject_id", Value: []byte(subject)})
	}
	return kafka.Message{
		Key:     []byte(msg.PartitionKey),
		Value:   []byte(msg.Payload),
		Time:    now,
		Headers: headers,
	}
}
