package sqlite

import (
	"context"
	"fmt"
	"strings"

	"example.com/presence/internal/domain"
)

const configColumns = `group_id, dashboard_channel_id, pointer_channel_id, pointer_message_id, updated_at`

// GetOrCreate implements domain.ConfigStore.
func (s *Store) GetOrCreate(ctx context.Context, groupID string) (domain.GroupConfig, error) {
	if err := ctx.Err(); err != nil {
		return domain.GroupConfig{}, err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO group_configs (group_id, updated_at) VALUES (?, ?) ON CONFLICT (group_id) DO NOTHING`,
		groupID, toMillis(s.now())); err != nil {
		return domain.GroupConfig{}, fmt.Errorf("create group config: %w", err)
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+configColumns+` FROM group_configs WHERE group_id = ?`, groupID)
	cfg, err := scanConfig(row.Scan)
	if err != nil {
		return domain.GroupConfig{}, fmt.Errorf("get group config: %w", err)
	}
	return cfg, nil
}

// SetDashboardChannel implements domain.ConfigStore.
func (s *Store) SetDashboardChannel(ctx context.Context, groupID, channelID string) (domain.GroupConfig, error) {
	if err := ctx.Err(); err != nil {
		return domain.GroupConfig{}, err
	}
	if strings.TrimSpace(groupID) == "" {
		return domain.GroupConfig{}, fmt.Errorf("group id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO group_configs (group_id, dashboard_channel_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (group_id) DO UPDATE SET
		   dashboard_channel_id = excluded.dashboard_channel_id,
		   updated_at = excluded.updated_at
		 RETURNING `+configColumns,
		groupID, channelID, toMillis(s.now()))
	cfg, err := scanConfig(row.Scan)
	if err != nil {
		return domain.GroupConfig{}, fmt.Errorf("set dashboard channel: %w", err)
	}
	return cfg, nil
}

// SavePointer implements domain.ConfigStore.
func (s *Store) SavePointer(ctx context.Context, groupID string, pointer domain.DashboardPointer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(groupID) == "" {
		return fmt.Errorf("group id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO group_configs (group_id, pointer_channel_id, pointer_message_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (group_id) DO UPDATE SET
		   pointer_channel_id = excluded.pointer_channel_id,
		   pointer_message_id = excluded.pointer_message_id,
		   updated_at = excluded.updated_at`,
		groupID, pointer.ChannelID, pointer.MessageID, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("save dashboard pointer: %w", err)
	}
	return nil
}

// ListGroups implements domain.ConfigStore.
func (s *Store) ListGroups(ctx context.Context) ([]domain.GroupConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+configColumns+` FROM group_configs ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("list group configs: %w", err)
	}
	defer rows.Close()

	results := make([]domain.GroupConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan group config: %w", err)
		}
		results = append(results, cfg)
	}
	return results, rows.Err()
}

func scanConfig(scan func(dest ...any) error) (domain.GroupConfig, error) {
	var (
		cfg       domain.GroupConfig
		updatedAt int64
	)
	if err := scan(&cfg.GroupID, &cfg.DashboardChannelID, &cfg.Pointer.ChannelID, &cfg.Pointer.MessageID, &updatedAt); err != nil {
		return domain.GroupConfig{}, err
	}
	cfg.UpdatedAt = fromMillis(updatedAt)
	return cfg, nil
}
