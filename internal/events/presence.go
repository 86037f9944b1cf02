// Package events defines the presence payloads exchanged over Kafka.
package events

import (
	"time"

	"example.com/presence/internal/domain"
)

// TypeRecordChanged is the outbox event type emitted after every record write.
const TypeRecordChanged = "presence.record_changed"

// PresenceChanged is the inbound message signalling a subject went online or offline.
type PresenceChanged struct {
	GroupID     string    `json:"group_id"`
	SubjectID   string    `json:"subject_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Online      bool      `json:"online"`
	OccurredAt  time.Time `json:"occurred_at,omitempty"`
}

// RecordChanged carries the state of an activity record after a write.
type RecordChanged struct {
	GroupID         string     `json:"group_id"`
	SubjectID       string     `json:"subject_id"`
	DisplayName     string     `json:"display_name"`
	Status          string     `json:"status"`
	SessionStart    *time.Time `json:"session_start,omitempty"`
	SessionCount    int64      `json:"session_count"`
	TotalOnlineMs   int64      `json:"total_online_ms"`
	DailyOnlineMs   int64      `json:"daily_online_ms"`
	WeeklyOnlineMs  int64      `json:"weekly_online_ms"`
	MonthlyOnlineMs int64      `json:"monthly_online_ms"`
	Version         int64      `json:"version"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewRecordChanged builds the payload for a record persisted at version.
func NewRecordChanged(record domain.ActivityRecord, version int64) RecordChanged {
	return RecordChanged{
		GroupID:         record.GroupID,
		SubjectID:       record.SubjectID,
		DisplayName:     record.DisplayName,
		Status:          string(record.Status),
		SessionStart:    record.CurrentSessionStart,
		SessionCount:    record.SessionCount,
		TotalOnlineMs:   record.TotalOnlineTime.Milliseconds(),
		DailyOnlineMs:   record.DailyOnlineTime.Milliseconds(),
		WeeklyOnlineMs:  record.WeeklyOnlineTime.Milliseconds(),
		MonthlyOnlineMs: record.MonthlyOnlineTime.Milliseconds(),
		Version:         version,
		UpdatedAt:       record.UpdatedAt,
	}
}

// PartitionKey keeps every event of one subject on one partition.
func PartitionKey(groupID, subjectID string) string {
	return groupID + ":" + subjectID
}
