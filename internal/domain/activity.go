// Package domain defines the presence accounting model and the collaborator contracts
// the recorder and dashboard reconciler depend on.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable indicates a presence or config store could not be read or written.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrRecordCorrupt is returned when a loaded record violates the session-start invariant.
	ErrRecordCorrupt = errors.New("activity record corrupt")
	// ErrVersionConflict is returned by Upsert when the stored version moved since the read.
	ErrVersionConflict = errors.New("activity record version conflict")
)

// Status is the presence state of a subject.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ActivityRecord accumulates presence time for one subject within one group.
type ActivityRecord struct {
	GroupID     string
	SubjectID   string
	DisplayName string
	Status      Status

	// CurrentSessionStart is set if and only if Status is online.
	CurrentSessionStart *time.Time
	LastOnline          *time.Time
	LastOffline         *time.Time

	TotalOnlineTime   time.Duration
	DailyOnlineTime   time.Duration
	WeeklyOnlineTime  time.Duration
	MonthlyOnlineTime time.Duration

	LastDailyReset   time.Time
	LastWeeklyReset  time.Time
	LastMonthlyReset time.Time

	SessionCount int64

	// Version is the optimistic concurrency token; zero means the record was never persisted.
	Version   int64
	UpdatedAt time.Time
}

// Validate checks the session-start invariant.
func (r *ActivityRecord) Validate() error {
	switch r.Status {
	case StatusOnline:
		if r.CurrentSessionStart == nil {
			return errors.Join(ErrRecordCorrupt, errors.New("online record without session start"))
		}
	case StatusOffline:
		if r.CurrentSessionStart != nil {
			return errors.Join(ErrRecordCorrupt, errors.New("offline record with session start"))
		}
	default:
		return errors.Join(ErrRecordCorrupt, errors.New("unknown status "+string(r.Status)))
	}
	return nil
}

// Online reports whether the subject is currently online.
func (r *ActivityRecord) Online() bool {
	return r.Status == StatusOnline
}

// PresenceStore persists activity records keyed by (GroupID, SubjectID).
//
// Get returns (nil, nil) when no record exists. Upsert writes the whole record only when the
// stored version equals record.Version (zero for inserts) and returns the new version;
// otherwise it fails with ErrVersionConflict.
type PresenceStore interface {
	Get(ctx context.Context, groupID, subjectID string) (*ActivityRecord, error)
	Upsert(ctx context.Context, record ActivityRecord) (int64, error)
	ListByGroup(ctx context.Context, groupID string) ([]ActivityRecord, error)
}
