package outbox

import (
	"context"
	"encoding/json"
	"fmt"
)

// MaxAttempts is how many failed deliveries an event gets before it is parked.
const MaxAttempts = 5

// Message represents a row fetched from the outbox.
type Message struct {
	EventID      int64
	GroupID      string
	AggregateID  string
	EventType    string
	Topic        string
	PartitionKey string
	Payload      json.RawMessage
	Attempts     int
}

// Entry is an event queued for the outbox inside a store transaction.
type Entry struct {
	GroupID      string
	AggregateID  string
	EventType    string
	Topic        string
	PartitionKey string
	DedupeKey    string
	Payload      []byte
}

// NewEntry marshals payload into an Entry.
func NewEntry(groupID, aggregateID, eventType, topic, partitionKey string, version int64, payload any) (Entry, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		GroupID:      groupID,
		AggregateID:  aggregateID,
		EventType:    eventType,
		Topic:        topic,
		PartitionKey: partitionKey,
		DedupeKey:    fmt.Sprintf("%s:%s:%d", aggregateID, eventType, version),
		Payload:      body,
	}, nil
}

// Source is the durable side of the outbox.
type Source interface {
	// Claim locks up to limit undelivered messages for this dispatcher.
	Claim(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []int64) error
	// Release returns messages to the queue and records the failure.
	Release(ctx context.Context, ids []int64, reason string) error
}
