package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"example.com/presence/internal/outbox"
)

const claimLease = 5 * time.Minute

// Claim implements outbox.Source. The lease is taken in a single UPDATE so two
// dispatchers never receive the same row.
func (s *Store) Claim(ctx context.Context, limit int) ([]outbox.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	now := s.now()

	rows, err := s.sqlDB.QueryContext(ctx, `
UPDATE outbox SET claimed_at = ?
WHERE event_id IN (
	SELECT event_id FROM outbox
	WHERE published_at IS NULL
	  AND attempts < ?
	  AND (claimed_at IS NULL OR claimed_at < ?)
	ORDER BY event_id
	LIMIT ?
)
RETURNING event_id, group_id, aggregate_id, event_type, topic, partition_key, payload, attempts`,
		toMillis(now), outbox.MaxAttempts, toMillis(now.Add(-claimLease)), limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	messages := make([]outbox.Message, 0)
	for rows.Next() {
		var (
			msg     outbox.Message
			payload string
		)
		if err := rows.Scan(&msg.EventID, &msg.GroupID, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.PartitionKey, &payload, &msg.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		msg.Payload = []byte(payload)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].EventID < messages[j].EventID })
	return messages, nil
}

// MarkPublished implements outbox.Source.
func (s *Store) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClause(ids)
	args = append([]any{toMillis(s.now())}, args...)
	_, err := s.sqlDB.ExecContext(ctx, `UPDATE outbox SET published_at = ? WHERE event_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// Release implements outbox.Source.
func (s *Store) Release(ctx context.Context, ids []int64, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClause(ids)
	args = append([]any{reason}, args...)
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE outbox SET claimed_at = NULL, attempts = attempts + 1, last_error = ? WHERE event_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("release outbox events: %w", err)
	}
	return nil
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
