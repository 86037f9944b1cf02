// Package sqlite provides a single-node SQLite store for presence records and group configs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"example.com/presence/internal/domain"
	"example.com/presence/internal/events"
	"example.com/presence/internal/outbox"
	"example.com/presence/internal/persistence/sqlite/migrations"
)

const recordColumns = `group_id, subject_id, display_name, status, current_session_start, last_online, last_offline,
	total_online_ms, daily_online_ms, weekly_online_ms, monthly_online_ms,
	last_daily_reset, last_weekly_reset, last_monthly_reset, session_count, version, updated_at`

// Store persists presence state in SQLite. It satisfies domain.PresenceStore,
// domain.ConfigStore, and outbox.Source.
type Store struct {
	sqlDB      *sql.DB
	eventTopic string
	now        func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func timePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens a SQLite store and applies embedded migrations. An empty eventTopic
// disables the outbox.
func Open(path, eventTopic string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, eventTopic: strings.TrimSpace(eventTopic), now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get implements domain.PresenceStore.
func (s *Store) Get(ctx context.Context, groupID, subjectID string) (*domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM activity_records WHERE group_id = ? AND subject_id = ?`,
		groupID, subjectID)
	record, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get activity record: %w", err)
	}
	return &record, nil
}

// Upsert implements domain.PresenceStore.
func (s *Store) Upsert(ctx context.Context, record domain.ActivityRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	next := record.Version + 1
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = s.now().UTC()
	}
	args := []any{
		record.GroupID,
		record.SubjectID,
		record.DisplayName,
		string(record.Status),
		nullMillis(record.CurrentSessionStart),
		nullMillis(record.LastOnline),
		nullMillis(record.LastOffline),
		record.TotalOnlineTime.Milliseconds(),
		record.DailyOnlineTime.Milliseconds(),
		record.WeeklyOnlineTime.Milliseconds(),
		record.MonthlyOnlineTime.Milliseconds(),
		toMillis(record.LastDailyReset),
		toMillis(record.LastWeeklyReset),
		toMillis(record.LastMonthlyReset),
		record.SessionCount,
		next,
		toMillis(record.UpdatedAt),
	}

	if record.Version == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO activity_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...)
		if err != nil {
			if isPrimaryKeyViolation(err) {
				return 0, domain.ErrVersionConflict
			}
			return 0, fmt.Errorf("insert activity record: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `UPDATE activity_records SET
		   display_name = ?3, status = ?4, current_session_start = ?5, last_online = ?6, last_offline = ?7,
		   total_online_ms = ?8, daily_online_ms = ?9, weekly_online_ms = ?10, monthly_online_ms = ?11,
		   last_daily_reset = ?12, last_weekly_reset = ?13, last_monthly_reset = ?14,
		   session_count = ?15, version = ?16, updated_at = ?17
		 WHERE group_id = ?1 AND subject_id = ?2 AND version = ?18`,
			append(args, record.Version)...)
		if err != nil {
			return 0, fmt.Errorf("update activity record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			return 0, domain.ErrVersionConflict
		}
	}

	if s.eventTopic != "" {
		if err := s.enqueue(ctx, tx, record, next); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) enqueue(ctx context.Context, tx *sql.Tx, record domain.ActivityRecord, version int64) error {
	key := events.PartitionKey(record.GroupID, record.SubjectID)
	entry, err := outbox.NewEntry(record.GroupID, key, events.TypeRecordChanged, s.eventTopic, key, version, events.NewRecordChanged(record, version))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (group_id, aggregate_id, event_type, topic, partition_key, payload, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		entry.GroupID, entry.AggregateID, entry.EventType, entry.Topic, entry.PartitionKey, string(entry.Payload), entry.DedupeKey, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// ListByGroup implements domain.PresenceStore. Records come back ordered by subject id.
func (s *Store) ListByGroup(ctx context.Context, groupID string) ([]domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM activity_records WHERE group_id = ? ORDER BY subject_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list activity records: %w", err)
	}
	defer rows.Close()

	results := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan activity record: %w", err)
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (domain.ActivityRecord, error) {
	var (
		record                                       domain.ActivityRecord
		status                                       string
		sessionStart, lastOnline, lastOffline        sql.NullInt64
		totalMs, dailyMs, weeklyMs, monthlyMs        int64
		dailyReset, weeklyReset, monthlyReset, updAt int64
	)
	err := scan(
		&record.GroupID,
		&record.SubjectID,
		&record.DisplayName,
		&status,
		&sessionStart,
		&lastOnline,
		&lastOffline,
		&totalMs,
		&dailyMs,
		&weeklyMs,
		&monthlyMs,
		&dailyReset,
		&weeklyReset,
		&monthlyReset,
		&record.SessionCount,
		&record.Version,
		&updAt,
	)
	if err != nil {
		return domain.ActivityRecord{}, err
	}
	record.Status = domain.Status(status)
	record.CurrentSessionStart = timePtr(sessionStart)
	record.LastOnline = timePtr(lastOnline)
	record.LastOffline = timePtr(lastOffline)
	record.TotalOnlineTime = time.Duration(totalMs) * time.Millisecond
	record.DailyOnlineTime = time.Duration(dailyMs) * time.Millisecond
	record.WeeklyOnlineTime = time.Duration(weeklyMs) * time.Millisecond
	record.MonthlyOnlineTime = time.Duration(monthlyMs) * time.Millisecond
	record.LastDailyReset = fromMillis(dailyReset)
	record.LastWeeklyReset = fromMillis(weeklyReset)
	record.LastMonthlyReset = fromMillis(monthlyReset)
	record.UpdatedAt = fromMillis(updAt)
	return record, nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// applyMigrations executes each embedded .sql file at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var applied int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
