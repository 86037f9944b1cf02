package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/presence/internal/domain"
	"example.com/presence/internal/observability"
)

// ErrInvalidTransition is returned when a transition lacks its group or subject id.
var ErrInvalidTransition = errors.New("invalid transition")

const (
	defaultCallTimeout        = 5 * time.Second
	defaultMaxConflictRetries = 3
)

// Outcome labels what a recorded event did to the record.
type Outcome string

const (
	OutcomeWentOnline  Outcome = "online"
	OutcomeWentOffline Outcome = "offline"
	OutcomeUnchanged   Outcome = "unchanged"
)

// TransitionInput is one presence-change event.
type TransitionInput struct {
	GroupID     string
	SubjectID   string
	DisplayName string
	GoingOnline bool
}

// Validate ensures the event addresses a record.
func (in TransitionInput) Validate() error {
	if strings.TrimSpace(in.GroupID) == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidTransition)
	}
	if strings.TrimSpace(in.SubjectID) == "" {
		return fmt.Errorf("%w: subject_id is required", ErrInvalidTransition)
	}
	return nil
}

// Option configures optional behaviour for the Recorder.
type Option func(*Recorder)

// WithLogger overrides the logger used to report resets and clock skew.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithCallTimeout bounds each store call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(r *Recorder) {
		if timeout > 0 {
			r.callTimeout = timeout
		}
	}
}

// WithMaxConflictRetries sets how many version conflicts are retried before giving up.
func WithMaxConflictRetries(n int) Option {
	return func(r *Recorder) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithLocks shares a KeyedMutex between recorders living in the same process.
func WithLocks(locks *KeyedMutex) Option {
	return func(r *Recorder) {
		if locks != nil {
			r.locks = locks
		}
	}
}

// Recorder applies presence transitions to activity records.
type Recorder struct {
	store       domain.PresenceStore
	accountant  PeriodAccountant
	locks       *KeyedMutex
	now         func() time.Time
	callTimeout time.Duration
	maxRetries  int
	logger      zerolog.Logger
}

// NewRecorder constructs a Recorder over store.
func NewRecorder(store domain.PresenceStore, accountant PeriodAccountant, opts ...Option) *Recorder {
	r := &Recorder{
		store:       store,
		accountant:  accountant,
		locks:       NewKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
		callTimeout: defaultCallTimeout,
		maxRetries:  defaultMaxConflictRetries,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordTransition loads or creates the record for the subject, rolls its windows over, applies
// the transition, and persists the result. Calls for the same subject are serialized.
func (r *Recorder) RecordTransition(ctx context.Context, in TransitionInput) (*domain.ActivityRecord, error) {
	record, _, err := r.Apply(ctx, in)
	return record, err
}

// Apply is RecordTransition that also reports what the event did to the record.
func (r *Recorder) Apply(ctx context.Context, in TransitionInput) (*domain.ActivityRecord, Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, "", err
	}

	unlock := r.locks.Lock(in.GroupID + "\x00" + in.SubjectID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		record, outcome, err := r.applyOnce(ctx, in)
		if err == nil {
			observability.RecordTransition(string(outcome), record.UpdatedAt)
			return record, outcome, nil
		}
		if errors.Is(err, domain.ErrVersionConflict) && attempt < r.maxRetries {
			observability.RecordVersionConflict()
			r.logger.Debug().
				Str("group_id", in.GroupID).
				Str("subject_id", in.SubjectID).
				Int("attempt", attempt+1).
				Msg("version conflict, retrying transition")
			continue
		}
		return nil, "", err
	}
}

func (r *Recorder) applyOnce(ctx context.Context, in TransitionInput) (*domain.ActivityRecord, Outcome, error) {
	now := r.now()

	existing, err := r.get(ctx, in.GroupID, in.SubjectID)
	if err != nil {
		return nil, "", err
	}

	var (
		record  domain.ActivityRecord
		outcome Outcome
	)
	if existing == nil {
		record, outcome = newRecord(in, now)
	} else {
		if err := existing.Validate(); err != nil {
			return nil, "", fmt.Errorf("load %s/%s: %w", in.GroupID, in.SubjectID, err)
		}
		record = *existing

		resets := r.accountant.CheckAndReset(&record, now)
		logResets(r.logger, &record, resets)

		if strings.TrimSpace(in.DisplayName) != "" {
			record.DisplayName = in.DisplayName
		}
		outcome = r.transition(&record, in.GoingOnline, now)
	}
	record.UpdatedAt = now

	version, err := r.upsert(ctx, record)
	if err != nil {
		return nil, "", err
	}
	record.Version = version
	return &record, outcome, nil
}

func newRecord(in TransitionInput, now time.Time) (domain.ActivityRecord, Outcome) {
	record := domain.ActivityRecord{
		GroupID:          in.GroupID,
		SubjectID:        in.SubjectID,
		DisplayName:      in.DisplayName,
		Status:           domain.StatusOffline,
		LastDailyReset:   now,
		LastWeeklyReset:  now,
		LastMonthlyReset: now,
	}
	if in.GoingOnline {
		start := now
		record.Status = domain.StatusOnline
		record.CurrentSessionStart = &start
		record.LastOnline = &start
		record.SessionCount = 1
		return record, OutcomeWentOnline
	}
	stamp := now
	record.LastOffline = &stamp
	return record, OutcomeWentOffline
}

// transition mutates record for a real state change and leaves counters alone otherwise.
func (r *Recorder) transition(record *domain.ActivityRecord, goingOnline bool, now time.Time) Outcome {
	switch {
	case goingOnline && !record.Online():
		start := now
		record.Status = domain.StatusOnline
		record.LastOnline = &start
		record.CurrentSessionStart = &start
		record.SessionCount++
		return OutcomeWentOnline
	case !goingOnline && record.Online():
		elapsed := now.Sub(*record.CurrentSessionStart)
		if elapsed < 0 {
			r.logger.Warn().
				Str("group_id", record.GroupID).
				Str("subject_id", record.SubjectID).
				Dur("elapsed", elapsed).
				Msg("negative session length, clamping to zero")
			elapsed = 0
		}
		record.TotalOnlineTime += elapsed
		record.DailyOnlineTime += elapsed
		record.WeeklyOnlineTime += elapsed
		record.MonthlyOnlineTime += elapsed

		stamp := now
		record.Status = domain.StatusOffline
		record.LastOffline = &stamp
		record.CurrentSessionStart = nil
		return OutcomeWentOffline
	default:
		return OutcomeUnchanged
	}
}

func (r *Recorder) get(ctx context.Context, groupID, subjectID string) (*domain.ActivityRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	record, err := r.store.Get(callCtx, groupID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %w", domain.ErrStoreUnavailable, groupID, subjectID, err)
	}
	return record, nil
}

func (r *Recorder) upsert(ctx context.Context, record domain.ActivityRecord) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	version, err := r.store.Upsert(callCtx, record)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: upsert %s/%s: %w", domain.ErrStoreUnavailable, record.GroupID, record.SubjectID, err)
	}
	return version, nil
}

func logResets(logger zerolog.Logger, record *domain.ActivityRecord, resets ResetsApplied) {
	if !resets.Any() {
		return
	}
	if resets.Daily {
		observability.RecordWindowReset("daily")
	}
	if resets.Weekly {
		observability.RecordWindowReset("weekly")
	}
	if resets.Monthly {
		observability.RecordWindowReset("monthly")
	}
	logger.Debug().
		Str("group_id", record.GroupID).
		Str("subject_id", record.SubjectID).
		Bool("daily", resets.Daily).
		Bool("weekly", resets.Weekly).
		Bool("monthly", resets.Monthly).
		Msg("accumulation windows reset")
}

// RefreshGroup lists every record of the group, rolls over their windows, and persists the
// records that changed. It returns the refreshed snapshot. No transition is applied.
func (r *Recorder) RefreshGroup(ctx context.Context, groupID string) ([]domain.ActivityRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	records, err := r.store.ListByGroup(callCtx, groupID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", domain.ErrStoreUnavailable, groupID, err)
	}

	now := r.now()
	for i := range records {
		refreshed, err := r.refresh(ctx, records[i], now)
		if err != nil {
			return nil, err
		}
		records[i] = refreshed
	}
	return records, nil
}

func (r *Recorder) refresh(ctx context.Context, record domain.ActivityRecord, now time.Time) (domain.ActivityRecord, error) {
	resets := r.accountant.CheckAndReset(&record, now)
	if !resets.Any() {
		return record, nil
	}

	unlock := r.locks.Lock(record.GroupID + "\x00" + record.SubjectID)
	defer unlock()

	logResets(r.logger, &record, resets)
	record.UpdatedAt = now
	version, err := r.upsert(ctx, record)
	if err == nil {
		record.Version = version
		return record, nil
	}
	if !errors.Is(err, domain.ErrVersionConflict) {
		return record, err
	}

	// A newer write already rolled the windows over; use it instead.
	observability.RecordVersionConflict()
	fresh, err := r.get(ctx, record.GroupID, record.SubjectID)
	if err != nil {
		return record, err
	}
	if fresh == nil {
		return record, nil
	}
	r.accountant.CheckAndReset(fresh, now)
	return *fresh, nil
}
