package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrArtifactNotFound signals the dashboard message was deleted out from under us.
	ErrArtifactNotFound = errors.New("dashboard artifact not found")
	// ErrPlatformUnavailable covers send/edit failures other than not-found.
	ErrPlatformUnavailable = errors.New("platform unavailable")
	// ErrChannelNotFound is returned when the configured dashboard channel does not exist.
	ErrChannelNotFound = errors.New("dashboard channel not found")
	// ErrDashboardNotConfigured is returned when a group has no dashboard channel.
	ErrDashboardNotConfigured = errors.New("dashboard channel not configured")
	// ErrReconcileInFlight is returned by non-blocking reconcile attempts that found a pass running.
	ErrReconcileInFlight = errors.New("reconcile already in flight")
)

// DashboardPointer identifies the live dashboard message of a group.
type DashboardPointer struct {
	ChannelID string
	MessageID string
}

// HasMessage reports whether an artifact has been created.
func (p DashboardPointer) HasMessage() bool {
	return p.MessageID != ""
}

// GroupConfig is the per-group configuration record holding the dashboard pointer.
type GroupConfig struct {
	GroupID string
	// DashboardChannelID is the externally configured destination for new artifacts.
	DashboardChannelID string
	Pointer            DashboardPointer
	UpdatedAt          time.Time
}

// ConfigStore persists GroupConfig records.
type ConfigStore interface {
	GetOrCreate(ctx context.Context, groupID string) (GroupConfig, error)
	// SetDashboardChannel changes only the destination channel and returns the stored config.
	SetDashboardChannel(ctx context.Context, groupID, channelID string) (GroupConfig, error)
	// SavePointer changes only the artifact pointer.
	SavePointer(ctx context.Context, groupID string, pointer DashboardPointer) error
	ListGroups(ctx context.Context) ([]GroupConfig, error)
}

// SummaryLine is one subject's row on the dashboard.
type SummaryLine struct {
	SubjectID   string
	Label       string
	StatusGlyph string
	DayText     string
	WeekText    string
	MonthText   string
}

// Summary is the rendered dashboard, independent of any platform presentation.
type Summary struct {
	Title        string
	GeneratedAt  time.Time
	Online       []SummaryLine
	Offline      []SummaryLine
	EmptyMessage string
	Total        int
}

// Empty reports whether the summary has no rows.
func (s Summary) Empty() bool {
	return len(s.Online) == 0 && len(s.Offline) == 0
}

// Channel is the platform's view of a channel.
type Channel struct {
	ID   string
	Name string
}

// PlatformClient sends and edits dashboard artifacts.
//
// EditMessage returns ErrArtifactNotFound when the message no longer exists. FetchChannel
// returns (nil, nil) when the channel is absent.
type PlatformClient interface {
	SendMessage(ctx context.Context, channelID string, summary Summary) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, summary Summary) error
	FetchChannel(ctx context.Context, channelID string) (*Channel, error)
}
