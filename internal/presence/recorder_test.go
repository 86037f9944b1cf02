package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/presence/internal/domain"
	"example.com/presence/internal/persistence/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestRecorder(store domain.PresenceStore, clock *fakeClock) *Recorder {
	return NewRecorder(store, NewPeriodAccountant(time.UTC), WithClock(clock.Now))
}

func TestRecordTransitionScenarioOneHourSession(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, time.July, 14, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	rec := newTestRecorder(memory.NewStore(), clock)

	_, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "x", DisplayName: "X", GoingOnline: true})
	require.NoError(t, err)

	clock.Set(t0.Add(3_600_000 * time.Millisecond))
	record, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "x", DisplayName: "X", GoingOnline: false})
	require.NoError(t, err)

	require.Equal(t, domain.StatusOffline, record.Status)
	require.Nil(t, record.CurrentSessionStart)
	require.Equal(t, time.Hour, record.TotalOnlineTime)
	require.Equal(t, time.Hour, record.DailyOnlineTime)
	require.Equal(t, time.Hour, record.WeeklyOnlineTime)
	require.Equal(t, time.Hour, record.MonthlyOnlineTime)
	require.Equal(t, int64(1), record.SessionCount)
	require.NoError(t, record.Validate())
}

func TestRecordTransitionAccumulatesCompletedSessions(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, time.July, 14, 1, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	store := memory.NewStore()
	rec := newTestRecorder(store, clock)

	offsets := []time.Duration{0, 10 * time.Minute, 20 * time.Minute, 45 * time.Minute, 2 * time.Hour, 2*time.Hour + 30*time.Second, 3 * time.Hour}
	var expected time.Duration
	for i, offset := range offsets {
		clock.Set(t0.Add(offset))
		online := i%2 == 0
		record, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: online})
		require.NoError(t, err)
		if !online {
			expected += offset - offsets[i-1]
		}
		require.Equal(t, expected, record.TotalOnlineTime)
		require.NoError(t, record.Validate())
	}

	stored, err := store.Get(ctx, "g", "s")
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute+25*time.Minute+30*time.Second, stored.TotalOnlineTime)
	require.Equal(t, domain.StatusOnline, stored.Status)
	require.Equal(t, int64(4), stored.SessionCount)
}

func TestRecordTransitionSameStateOnlyRefreshesLabel(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, time.July, 14, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	rec := newTestRecorder(memory.NewStore(), clock)

	first, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", DisplayName: "old", GoingOnline: true})
	require.NoError(t, err)

	clock.Set(t0.Add(5 * time.Minute))
	second, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", DisplayName: "new", GoingOnline: true})
	require.NoError(t, err)

	require.Equal(t, "new", second.DisplayName)
	require.Equal(t, first.SessionCount, second.SessionCount)
	require.Equal(t, first.TotalOnlineTime, second.TotalOnlineTime)
	require.Equal(t, *first.CurrentSessionStart, *second.CurrentSessionStart)
	require.Greater(t, second.Version, first.Version)
}

func TestRecordTransitionResetsBeforeAccumulating(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	yesterday := time.Date(2025, time.July, 13, 22, 0, 0, 0, time.UTC)
	start := time.Date(2025, time.July, 13, 23, 0, 0, 0, time.UTC)
	_, err := store.Upsert(ctx, domain.ActivityRecord{
		GroupID:             "g",
		SubjectID:           "s",
		Status:              domain.StatusOnline,
		CurrentSessionStart: &start,
		DailyOnlineTime:     5 * time.Hour,
		WeeklyOnlineTime:    5 * time.Hour,
		MonthlyOnlineTime:   5 * time.Hour,
		TotalOnlineTime:     5 * time.Hour,
		LastDailyReset:      yesterday,
		LastWeeklyReset:     yesterday,
		LastMonthlyReset:    yesterday,
		SessionCount:        1,
	})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, time.July, 14, 1, 0, 0, 0, time.UTC)}
	record, err := newTestRecorder(store, clock).RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: false})
	require.NoError(t, err)

	// The whole session lands in the window that is current when it closes.
	require.Equal(t, 2*time.Hour, record.DailyOnlineTime)
	require.Equal(t, 7*time.Hour, record.WeeklyOnlineTime)
	require.Equal(t, 7*time.Hour, record.MonthlyOnlineTime)
	require.Equal(t, 7*time.Hour, record.TotalOnlineTime)
}

func TestRecordTransitionClampsNegativeElapsed(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, time.July, 14, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	rec := newTestRecorder(memory.NewStore(), clock)

	_, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: true})
	require.NoError(t, err)

	clock.Set(t0.Add(-time.Minute))
	record, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: false})
	require.NoError(t, err)
	require.Zero(t, record.TotalOnlineTime)
	require.Equal(t, domain.StatusOffline, record.Status)
}

func TestRecordTransitionRejectsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.Upsert(ctx, domain.ActivityRecord{GroupID: "g", SubjectID: "s", Status: domain.StatusOnline})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Now().UTC()}
	_, err = newTestRecorder(store, clock).RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: false})
	require.ErrorIs(t, err, domain.ErrRecordCorrupt)
}

func TestRecordTransitionStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now().UTC()}
	store := &flakyStore{PresenceStore: memory.NewStore(), getErr: errors.New("connection refused")}

	_, err := newTestRecorder(store, clock).RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: true})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	store = &flakyStore{PresenceStore: memory.NewStore(), upsertErr: errors.New("disk full")}
	_, err = newTestRecorder(store, clock).RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: true})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRecordTransitionRetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now().UTC()}
	store := &flakyStore{PresenceStore: memory.NewStore(), conflicts: 2}

	record, err := newTestRecorder(store, clock).RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), record.Version)
	require.Equal(t, 3, store.upserts)

	store = &flakyStore{PresenceStore: memory.NewStore(), conflicts: 10}
	rec := NewRecorder(store, NewPeriodAccountant(time.UTC), WithClock(clock.Now), WithMaxConflictRetries(1))
	_, err = rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: true})
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	require.Equal(t, 2, store.upserts)
}

func TestRecordTransitionValidatesInput(t *testing.T) {
	rec := newTestRecorder(memory.NewStore(), &fakeClock{now: time.Now().UTC()})
	_, err := rec.RecordTransition(context.Background(), TransitionInput{SubjectID: "s"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = rec.RecordTransition(context.Background(), TransitionInput{GroupID: "g"})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecordTransitionConcurrentSameSubject(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, time.July, 14, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	store := memory.NewStore()
	rec := newTestRecorder(store, clock)

	_, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: true})
	require.NoError(t, err)
	clock.Set(t0.Add(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.RecordTransition(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: false})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := store.Get(ctx, "g", "s")
	require.NoError(t, err)
	require.Equal(t, time.Hour, stored.TotalOnlineTime)
	require.Equal(t, int64(17), stored.Version)
	require.Zero(t, rec.locks.Len())
}

func TestRefreshGroupPersistsResetsWithoutTransition(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	yesterday := time.Date(2025, time.July, 13, 10, 0, 0, 0, time.UTC)
	_, err := store.Upsert(ctx, domain.ActivityRecord{
		GroupID:          "g",
		SubjectID:        "y",
		Status:           domain.StatusOffline,
		DailyOnlineTime:  500 * time.Millisecond,
		TotalOnlineTime:  500 * time.Millisecond,
		LastDailyReset:   yesterday,
		LastWeeklyReset:  yesterday,
		LastMonthlyReset: yesterday,
	})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, time.July, 14, 10, 0, 0, 0, time.UTC)}
	records, err := newTestRecorder(store, clock).RefreshGroup(ctx, "g")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Zero(t, records[0].DailyOnlineTime)

	stored, err := store.Get(ctx, "g", "y")
	require.NoError(t, err)
	require.Zero(t, stored.DailyOnlineTime)
	require.Equal(t, 500*time.Millisecond, stored.TotalOnlineTime)
	require.Equal(t, domain.StatusOffline, stored.Status)
}

func TestRefreshGroupFallsBackToNewerWrite(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewStore()
	yesterday := time.Date(2025, time.July, 13, 10, 0, 0, 0, time.UTC)
	_, err := inner.Upsert(ctx, domain.ActivityRecord{
		GroupID:          "g",
		SubjectID:        "y",
		Status:           domain.StatusOffline,
		DisplayName:      "before",
		DailyOnlineTime:  time.Minute,
		LastDailyReset:   yesterday,
		LastWeeklyReset:  yesterday,
		LastMonthlyReset: yesterday,
	})
	require.NoError(t, err)

	store := &flakyStore{PresenceStore: inner, conflicts: 1, beforeConflict: func() {
		current, _ := inner.Get(ctx, "g", "y")
		current.DisplayName = "after"
		_, _ = inner.Upsert(ctx, *current)
	}}

	clock := &fakeClock{now: time.Date(2025, time.July, 14, 10, 0, 0, 0, time.UTC)}
	records, err := newTestRecorder(store, clock).RefreshGroup(ctx, "g")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "after", records[0].DisplayName)
	require.Zero(t, records[0].DailyOnlineTime)
}

type flakyStore struct {
	domain.PresenceStore
	getErr         error
	upsertErr      error
	conflicts      int
	beforeConflict func()
	upserts        int
}

func (s *flakyStore) Get(ctx context.Context, groupID, subjectID string) (*domain.ActivityRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.PresenceStore.Get(ctx, groupID, subjectID)
}

func (s *flakyStore) Upsert(ctx context.Context, record domain.ActivityRecord) (int64, error) {
	s.upserts++
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	if s.conflicts > 0 {
		s.conflicts--
		if s.beforeConflict != nil {
			s.beforeConflict()
		}
		return 0, domain.ErrVersionConflict
	}
	return s.PresenceStore.Upsert(ctx, record)
}

func TestApplyReportsOutcome(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, time.July, 14, 8, 0, 0, 0, time.UTC)}
	rec := newTestRecorder(memory.NewStore(), clock)

	steps := []struct {
		online bool
		want   Outcome
	}{
		{true, OutcomeWentOnline},
		{true, OutcomeUnchanged},
		{false, OutcomeWentOffline},
		{false, OutcomeUnchanged},
	}
	for _, step := range steps {
		_, outcome, err := rec.Apply(ctx, TransitionInput{GroupID: "g", SubjectID: "s", GoingOnline: step.online})
		require.NoError(t, err)
		require.Equal(t, step.want, outcome)
	}

	_, outcome, err := rec.Apply(ctx, TransitionInput{GroupID: "g"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Empty(t, outcome)
}
