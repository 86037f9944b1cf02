// Package memory keeps activity records and group configs in process memory for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/presence/internal/domain"
)

type recordKey struct {
	groupID   string
	subjectID string
}

// Store implements domain.PresenceStore and domain.ConfigStore.
type Store struct {
	mu      sync.RWMutex
	records map[recordKey]domain.ActivityRecord
	configs map[string]domain.GroupConfig
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[recordKey]domain.ActivityRecord),
		configs: make(map[string]domain.GroupConfig),
	}
}

// Get implements domain.PresenceStore.
func (s *Store) Get(ctx context.Context, groupID, subjectID string) (*domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordKey{groupID, subjectID}]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(record)
	return &out, nil
}

// Upsert implements domain.PresenceStore.
func (s *Store) Upsert(ctx context.Context, record domain.ActivityRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{record.GroupID, record.SubjectID}
	current, exists := s.records[key]
	switch {
	case !exists && record.Version != 0:
		return 0, domain.ErrVersionConflict
	case exists && current.Version != record.Version:
		return 0, domain.ErrVersionConflict
	}

	stored := cloneRecord(record)
	stored.Version = record.Version + 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s.records[key] = stored
	return stored.Version, nil
}

// ListByGroup implements domain.PresenceStore. Records come back ordered by subject id.
func (s *Store) ListByGroup(ctx context.Context, groupID string) ([]domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActivityRecord, 0)
	for key, record := range s.records {
		if key.groupID == groupID {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

// GetOrCreate implements domain.ConfigStore.
func (s *Store) GetOrCreate(ctx context.Context, groupID string) (domain.GroupConfig, error) {
	if err := ctx.Err(); err != nil {
		return domain.GroupConfig{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[groupID]
	if !ok {
		cfg = domain.GroupConfig{GroupID: groupID, UpdatedAt: time.Now().UTC()}
		s.configs[groupID] = cfg
	}
	return cfg, nil
}

// SetDashboardChannel implements domain.ConfigStore.
func (s *Store) SetDashboardChannel(ctx context.Context, groupID, channelID string) (domain.GroupConfig, error) {
	if err := ctx.Err(); err != nil {
		return domain.GroupConfig{}, err
	}
	if strings.TrimSpace(groupID) == "" {
		return domain.GroupConfig{}, errors.New("group id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[groupID]
	if !ok {
		cfg = domain.GroupConfig{GroupID: groupID}
	}
	cfg.DashboardChannelID = channelID
	cfg.UpdatedAt = time.Now().UTC()
	s.configs[groupID] = cfg
	return cfg, nil
}

// SavePointer implements domain.ConfigStore.
func (s *Store) SavePointer(ctx context.Context, groupID string, pointer domain.DashboardPointer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(groupID) == "" {
		return errors.New("group id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[groupID]
	if !ok {
		cfg = domain.GroupConfig{GroupID: groupID}
	}
	cfg.Pointer = pointer
	cfg.UpdatedAt = time.Now().UTC()
	s.configs[groupID] = cfg
	return nil
}

// ListGroups implements domain.ConfigStore.
func (s *Store) ListGroups(ctx context.Context) ([]domain.GroupConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.GroupConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func cloneRecord(record domain.ActivityRecord) domain.ActivityRecord {
	out := record
	out.CurrentSessionStart = cloneTime(record.CurrentSessionStart)
	out.LastOnline = cloneTime(record.LastOnline)
	out.LastOffline = cloneTime(record.LastOffline)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
