package api

import (
	"errors"
	"strings"
	"time"

	"example.com/presence/internal/domain"
)

// TransitionRequest is the payload for POST /v1/presence/transitions.
type TransitionRequest struct {
	SubjectID   string `json:"subject_id"`
	DisplayName string `json:"display_name"`
	Online      *bool  `json:"online"`
}

// Validate ensures request correctness.
func (r TransitionRequest) Validate() error {
	if strings.TrimSpace(r.SubjectID) == "" {
		return errors.New("subject_id is required")
	}
	if r.Online == nil {
		return errors.New("online is required")
	}
	return nil
}

// SetChannelRequest is the payload for PUT /v1/dashboard/channel.
type SetChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

// RecordView exposes an activity record. Durations are whole seconds.
type RecordView struct {
	GroupID        string     `json:"group_id"`
	SubjectID      string     `json:"subject_id"`
	DisplayName    string     `json:"display_name"`
	Status         string     `json:"status"`
	SessionStart   *time.Time `json:"session_start,omitempty"`
	LastOnline     *time.Time `json:"last_online,omitempty"`
	LastOffline    *time.Time `json:"last_offline,omitempty"`
	TotalSeconds   int64      `json:"total_online_seconds"`
	DailySeconds   int64      `json:"daily_online_seconds"`
	WeeklySeconds  int64      `json:"weekly_online_seconds"`
	MonthlySeconds int64      `json:"monthly_online_seconds"`
	SessionCount   int64      `json:"session_count"`
	Version        int64      `json:"version"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ListPresenceResponse packages list results.
type ListPresenceResponse struct {
	Items      []RecordView `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// SummaryLineView is one dashboard row.
type SummaryLineView struct {
	SubjectID string `json:"subject_id"`
	Label     string `json:"label"`
	Glyph     string `json:"glyph"`
	Day       string `json:"day"`
	Week      string `json:"week"`
	Month     string `json:"month"`
}

// SummaryView is the rendered dashboard.
type SummaryView struct {
	Title        string            `json:"title"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Online       []SummaryLineView `json:"online"`
	Offline      []SummaryLineView `json:"offline"`
	EmptyMessage string            `json:"empty_message,omitempty"`
	Total        int               `json:"total_subjects"`
}

// ConfigView exposes a group's dashboard configuration.
type ConfigView struct {
	GroupID            string    `json:"group_id"`
	DashboardChannelID string    `json:"dashboard_channel_id"`
	ArtifactChannelID  string    `json:"artifact_channel_id,omitempty"`
	ArtifactMessageID  string    `json:"artifact_message_id,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toRecordView(record domain.ActivityRecord) RecordView {
	return RecordView{
		GroupID:        record.GroupID,
		SubjectID:      record.SubjectID,
		DisplayName:    record.DisplayName,
		Status:         string(record.Status),
		SessionStart:   record.CurrentSessionStart,
		LastOnline:     record.LastOnline,
		LastOffline:    record.LastOffline,
		TotalSeconds:   int64(record.TotalOnlineTime / time.Second),
		DailySeconds:   int64(record.DailyOnlineTime / time.Second),
		WeeklySeconds:  int64(record.WeeklyOnlineTime / time.Second),
		MonthlySeconds: int64(record.MonthlyOnlineTime / time.Second),
		SessionCount:   record.SessionCount,
		Version:        record.Version,
		UpdatedAt:      record.UpdatedAt,
	}
}

func toSummaryView(summary domain.Summary) SummaryView {
	return SummaryView{
		Title:        summary.Title,
		GeneratedAt:  summary.GeneratedAt,
		Online:       toLineViews(summary.Online),
		Offline:      toLineViews(summary.Offline),
		EmptyMessage: summary.EmptyMessage,
		Total:        summary.Total,
	}
}

func toLineViews(lines []domain.SummaryLine) []SummaryLineView {
	out := make([]SummaryLineView, 0, len(lines))
	for _, line := range lines {
		out = append(out, SummaryLineView{
			SubjectID: line.SubjectID,
			Label:     line.Label,
			Glyph:     line.StatusGlyph,
			Day:       line.DayText,
			Week:      line.WeekText,
			Month:     line.MonthText,
		})
	}
	return out
}

func toConfigView(cfg domain.GroupConfig) ConfigView {
	return ConfigView{
		GroupID:            cfg.GroupID,
		DashboardChannelID: cfg.DashboardChannelID,
		ArtifactChannelID:  cfg.Pointer.ChannelID,
		ArtifactMessageID:  cfg.Pointer.MessageID,
		UpdatedAt:          cfg.UpdatedAt,
	}
}
