// Package postgres stores activity records, group configs, and the outbox in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/presence/internal/domain"
	"example.com/presence/internal/events"
	"example.com/presence/internal/outbox"
)

//go:embed schema.sql
var schema string

// DefaultEventTopic receives record change events when no topic is configured.
const DefaultEventTopic = "presence_record_events"

// claimLease is how long a claimed outbox row stays invisible to other dispatchers.
const claimLease = 5 * time.Minute

const recordColumns = `group_id, subject_id, display_name, status, current_session_start, last_online, last_offline,
        total_online_ms, daily_online_ms, weekly_online_ms, monthly_online_ms,
        last_daily_reset, last_weekly_reset, last_monthly_reset, session_count, version, updated_at`

// Store provides Postgres-backed persistence. It satisfies domain.PresenceStore,
// domain.ConfigStore, and outbox.Source.
type Store struct {
	pool       *pgxpool.Pool
	eventTopic string
}

// NewStore constructs a Store. Record writes enqueue change events on eventTopic.
func NewStore(pool *pgxpool.Pool, eventTopic string) *Store {
	if strings.TrimSpace(eventTopic) == "" {
		eventTopic = DefaultEventTopic
	}
	return &Store{pool: pool, eventTopic: eventTopic}
}

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Get implements domain.PresenceStore.
func (s *Store) Get(ctx context.Context, groupID, subjectID string) (*domain.ActivityRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM activity_records WHERE group_id=$1 AND subject_id=$2`

	record, err := scanRecord(s.pool.QueryRow(ctx, query, groupID, subjectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Upsert implements domain.PresenceStore. The write and its outbox event commit together.
func (s *Store) Upsert(ctx context.Context, record domain.ActivityRecord) (version int64, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	next := record.Version + 1
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	args := []any{
		record.GroupID,
		record.SubjectID,
		record.DisplayName,
		string(record.Status),
		record.CurrentSessionStart,
		record.LastOnline,
		record.LastOffline,
		record.TotalOnlineTime.Milliseconds(),
		record.DailyOnlineTime.Milliseconds(),
		record.WeeklyOnlineTime.Milliseconds(),
		record.MonthlyOnlineTime.Milliseconds(),
		record.LastDailyReset,
		record.LastWeeklyReset,
		record.LastMonthlyReset,
		record.SessionCount,
		next,
		record.UpdatedAt,
	}

	var stmt string
	if record.Version == 0 {
		stmt = `INSERT INTO activity_records (` + recordColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
        ON CONFLICT (group_id, subject_id) DO NOTHING`
	} else {
		stmt = `UPDATE activity_records SET display_name=$3, status=$4, current_session_start=$5, last_online=$6, last_offline=$7,
        total_online_ms=$8, daily_online_ms=$9, weekly_online_ms=$10, monthly_online_ms=$11,
        last_daily_reset=$12, last_weekly_reset=$13, last_monthly_reset=$14, session_count=$15, version=$16, updated_at=$17
        WHERE group_id=$1 AND subject_id=$2 AND version=$18`
		args = append(args, record.Version)
	}

	tag, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		err = domain.ErrVersionConflict
		return 0, err
	}

	if err = s.insertOutbox(ctx, tx, record, next); err != nil {
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) insertOutbox(ctx context.Context, tx pgx.Tx, record domain.ActivityRecord, version int64) error {
	key := events.PartitionKey(record.GroupID, record.SubjectID)
	entry, err := outbox.NewEntry(record.GroupID, key, events.TypeRecordChanged, s.eventTopic, key, version, events.NewRecordChanged(record, version))
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (group_id, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		entry.GroupID,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.PartitionKey,
		entry.Payload,
		entry.DedupeKey,
	)
	return err
}

// ListByGroup implements domain.PresenceStore. Records come back ordered by subject id.
func (s *Store) ListByGroup(ctx context.Context, groupID string) ([]domain.ActivityRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM activity_records WHERE group_id=$1 ORDER BY subject_id`

	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetOrCreate implements domain.ConfigStore.
func (s *Store) GetOrCreate(ctx context.Context, groupID string) (domain.GroupConfig, error) {
	const insert = `INSERT INTO group_configs (group_id) VALUES ($1) ON CONFLICT (group_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, groupID); err != nil {
		return domain.GroupConfig{}, err
	}

	const query = `SELECT group_id, dashboard_channel_id, pointer_channel_id, pointer_message_id, updated_at
        FROM group_configs WHERE group_id=$1`
	return scanConfig(s.pool.QueryRow(ctx, query, groupID))
}

// SetDashboardChannel implements domain.ConfigStore.
func (s *Store) SetDashboardChannel(ctx context.Context, groupID, channelID string) (domain.GroupConfig, error) {
	if strings.TrimSpace(groupID) == "" {
		return domain.GroupConfig{}, errors.New("group id is required")
	}

	const stmt = `INSERT INTO group_configs (group_id, dashboard_channel_id, updated_at)
        VALUES ($1,$2,NOW())
        ON CONFLICT (group_id) DO UPDATE SET
            dashboard_channel_id=EXCLUDED.dashboard_channel_id,
            updated_at=EXCLUDED.updated_at
        RETURNING group_id, dashboard_channel_id, pointer_channel_id, pointer_message_id, updated_at`
	return scanConfig(s.pool.QueryRow(ctx, stmt, groupID, channelID))
}

// SavePointer implements domain.ConfigStore.
func (s *Store) SavePointer(ctx context.Context, groupID string, pointer domain.DashboardPointer) error {
	if strings.TrimSpace(groupID) == "" {
		return errors.New("group id is required")
	}

	const stmt = `INSERT INTO group_configs (group_id, pointer_channel_id, pointer_message_id, updated_at)
        VALUES ($1,$2,$3,NOW())
        ON CONFLICT (group_id) DO UPDATE SET
            pointer_channel_id=EXCLUDED.pointer_channel_id,
            pointer_message_id=EXCLUDED.pointer_message_id,
            updated_at=EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, stmt, groupID, pointer.ChannelID, pointer.MessageID)
	return err
}

// ListGroups implements domain.ConfigStore.
func (s *Store) ListGroups(ctx context.Context) ([]domain.GroupConfig, error) {
	const query = `SELECT group_id, dashboard_channel_id, pointer_channel_id, pointer_message_id, updated_at
        FROM group_configs ORDER BY group_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.GroupConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, cfg)
	}
	return results, rows.Err()
}

// Claim implements outbox.Source. Rows that exhausted their attempts stay parked.
func (s *Store) Claim(ctx context.Context, limit int) (messages []outbox.Message, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const query = `SELECT event_id, group_id, aggregate_id, event_type, topic, partition_key, payload, attempts
        FROM outbox
        WHERE published_at IS NULL
          AND attempts < $2
          AND (claimed_at IS NULL OR claimed_at < NOW() - ($3::int * INTERVAL '1 second'))
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit, outbox.MaxAttempts, int(claimLease.Seconds()))
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0)
	for rows.Next() {
		var msg outbox.Message
		if err = rows.Scan(&msg.EventID, &msg.GroupID, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.PartitionKey, &msg.Payload, &msg.Attempts); err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkPublished implements outbox.Source.
func (s *Store) MarkPublished(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

// Release implements outbox.Source.
func (s *Store) Release(ctx context.Context, ids []int64, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET claimed_at = NULL, attempts = attempts + 1, last_error = $2 WHERE event_id = ANY($1)`,
		ids, reason)
	return err
}

func scanRecord(row pgx.Row) (domain.ActivityRecord, error) {
	var (
		record                                domain.ActivityRecord
		status                                string
		totalMs, dailyMs, weeklyMs, monthlyMs int64
	)
	err := row.Scan(
		&record.GroupID,
		&record.SubjectID,
		&record.DisplayName,
		&status,
		&record.CurrentSessionStart,
		&record.LastOnline,
		&record.LastOffline,
		&totalMs,
		&dailyMs,
		&weeklyMs,
		&monthlyMs,
		&record.LastDailyReset,
		&record.LastWeeklyReset,
		&record.LastMonthlyReset,
		&record.SessionCount,
		&record.Version,
		&record.UpdatedAt,
	)
	if err != nil {
		return domain.ActivityRecord{}, err
	}
	record.Status = domain.Status(status)
	record.TotalOnlineTime = time.Duration(totalMs) * time.Millisecond
	record.DailyOnlineTime = time.Duration(dailyMs) * time.Millisecond
	record.WeeklyOnlineTime = time.Duration(weeklyMs) * time.Millisecond
	record.MonthlyOnlineTime = time.Duration(monthlyMs) * time.Millisecond
	return record, nil
}

func scanConfig(row pgx.Row) (domain.GroupConfig, error) {
	var cfg domain.GroupConfig
	err := row.Scan(&cfg.GroupID, &cfg.DashboardChannelID, &cfg.Pointer.ChannelID, &cfg.Pointer.MessageID, &cfg.UpdatedAt)
	return cfg, err
}
