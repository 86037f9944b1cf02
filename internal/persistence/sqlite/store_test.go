package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/presence/internal/domain"
	"example.com/presence/internal/events"
	"example.com/presence/internal/outbox"
	"example.com/presence/internal/presence"
)

func openTestStore(t *testing.T, topic string) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "presence.db"), topic)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ", "")
	require.Error(t, err)
}

func TestOpenIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presence.db")
	first, err := Open(path, "")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path, "")
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestUpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, "")
	now := time.Date(2025, time.September, 10, 12, 0, 0, 0, time.UTC)

	missing, err := store.Get(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Nil(t, missing)

	record := domain.ActivityRecord{
		GroupID:             "g1",
		SubjectID:           "u1",
		DisplayName:         "Alice",
		Status:              domain.StatusOnline,
		CurrentSessionStart: &now,
		LastOnline:          &now,
		MonthlyOnlineTime:   90 * time.Minute,
		LastDailyReset:      now,
		LastWeeklyReset:     now.Add(-48 * time.Hour),
		LastMonthlyReset:    now,
		SessionCount:        3,
		UpdatedAt:           now,
	}
	version, err := store.Upsert(ctx, record)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	stored, err := store.Get(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "Alice", stored.DisplayName)
	require.Equal(t, domain.StatusOnline, stored.Status)
	require.NotNil(t, stored.CurrentSessionStart)
	require.True(t, stored.CurrentSessionStart.Equal(now))
	require.Nil(t, stored.LastOffline)
	require.Equal(t, 90*time.Minute, stored.MonthlyOnlineTime)
	require.True(t, stored.LastWeeklyReset.Equal(now.Add(-48*time.Hour)))
	require.Equal(t, int64(3), stored.SessionCount)
	require.Equal(t, int64(1), stored.Version)
}

func TestUpsertEnforcesVersion(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, "")
	now := time.Now().UTC()
	record := domain.ActivityRecord{GroupID: "g", SubjectID: "s", Status: domain.StatusOffline, LastOffline: &now,
		LastDailyReset: now, LastWeeklyReset: now, LastMonthlyReset: now}

	_, err := store.Upsert(ctx, record)
	require.NoError(t, err)

	_, err = store.Upsert(ctx, record)
	require.ErrorIs(t, err, domain.ErrVersionConflict, "second create loses")

	record.Version = 1
	version, err := store.Upsert(ctx, record)
	require.NoError(t, err)
	require.Equal(t, int64(2), version)

	_, err = store.Upsert(ctx, record)
	require.ErrorIs(t, err, domain.ErrVersionConflict, "stale version loses")
}

func TestListByGroupIsolatesGroups(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, "")
	now := time.Now().UTC()
	for _, key := range [][2]string{{"g1", "b"}, {"g1", "a"}, {"g2", "c"}} {
		_, err := store.Upsert(ctx, domain.ActivityRecord{GroupID: key[0], SubjectID: key[1], Status: domain.StatusOffline,
			LastDailyReset: now, LastWeeklyReset: now, LastMonthlyReset: now})
		require.NoError(t, err)
	}

	records, err := store.ListByGroup(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0].SubjectID)
	require.Equal(t, "b", records[1].SubjectID)

	empty, err := store.ListByGroup(ctx, "nope")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestGroupConfigs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, "")

	cfg, err := store.GetOrCreate(ctx, "g2")
	require.NoError(t, err)
	require.Equal(t, "g2", cfg.GroupID)
	require.Empty(t, cfg.DashboardChannelID)

	pointer := domain.DashboardPointer{ChannelID: "C1", MessageID: "111.222"}
	require.NoError(t, store.SavePointer(ctx, "g2", pointer))
	cfg, err = store.SetDashboardChannel(ctx, "g2", "C2")
	require.NoError(t, err)
	require.Equal(t, "C2", cfg.DashboardChannelID)
	require.Equal(t, pointer, cfg.Pointer, "channel updates leave the pointer alone")

	require.NoError(t, store.SavePointer(ctx, "g2", domain.DashboardPointer{ChannelID: "C2", MessageID: "333.444"}))
	again, err := store.GetOrCreate(ctx, "g2")
	require.NoError(t, err)
	require.Equal(t, "C2", again.DashboardChannelID, "pointer updates leave the channel alone")
	require.Equal(t, "333.444", again.Pointer.MessageID)

	_, err = store.SetDashboardChannel(ctx, "g1", "C9")
	require.NoError(t, err)
	groups, err := store.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "g1", groups[0].GroupID)
	require.Equal(t, "C9", groups[0].DashboardChannelID)

	require.Error(t, store.SavePointer(ctx, "", pointer))
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, "presence_record_events")
	now := time.Date(2025, time.September, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	store.now = func() time.Time { return clock }

	record := domain.ActivityRecord{GroupID: "g1", SubjectID: "u1", Status: domain.StatusOffline, LastOffline: &now,
		LastDailyReset: now, LastWeeklyReset: now, LastMonthlyReset: now}
	_, err := store.Upsert(ctx, record)
	require.NoError(t, err)
	record.Version = 1
	_, err = store.Upsert(ctx, record)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Less(t, claimed[0].EventID, claimed[1].EventID)
	require.Equal(t, "presence_record_events", claimed[0].Topic)
	require.Equal(t, "g1:u1", claimed[0].PartitionKey)

	var payload events.RecordChanged
	require.NoError(t, json.Unmarshal(claimed[1].Payload, &payload))
	require.Equal(t, int64(2), payload.Version)
	require.Equal(t, "offline", payload.Status)

	leased, err := store.Claim(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, leased)

	require.NoError(t, store.Release(ctx, []int64{claimed[0].EventID}, "broker down"))
	require.NoError(t, store.MarkPublished(ctx, []int64{claimed[1].EventID}))

	retried, err := store.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	require.Equal(t, claimed[0].EventID, retried[0].EventID)
	require.Equal(t, 1, retried[0].Attempts)

	clock = clock.Add(claimLease + time.Second)
	expired, err := store.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1, "an expired lease is claimable again")
}

func TestOutboxParksExhaustedEvents(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, "topic")
	now := time.Now().UTC()
	_, err := store.Upsert(ctx, domain.ActivityRecord{GroupID: "g1", SubjectID: "u1", Status: domain.StatusOffline,
		LastDailyReset: now, LastWeeklyReset: now, LastMonthlyReset: now})
	require.NoError(t, err)

	for i := 0; i < outbox.MaxAttempts; i++ {
		claimed, err := store.Claim(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, store.Release(ctx, []int64{claimed[0].EventID}, "fail"))
	}

	claimed, err := store.Claim(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestRecorderAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, "")
	recorder := presence.NewRecorder(store, presence.NewPeriodAccountant(time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(online bool) {
			defer wg.Done()
			_, err := recorder.RecordTransition(ctx, presence.TransitionInput{GroupID: "g1", SubjectID: "u1", DisplayName: "Alice", GoingOnline: online})
			assert.NoError(t, err)
		}(i%2 == 0)
	}
	wg.Wait()

	stored, err := store.Get(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, int64(8), stored.Version)
	require.NoError(t, stored.Validate())
}
