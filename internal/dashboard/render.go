// Package dashboard renders presence snapshots and keeps each group's dashboard message in
// step with them.
package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"example.com/presence/internal/domain"
)

const (
	DefaultTitle        = "Activity Dashboard"
	DefaultMaxEntries   = 20
	DefaultEmptyMessage = "No activity has been recorded yet."

	OnlineGlyph  = "🟢"
	OfflineGlyph = "🔴"
)

// Renderer turns activity records into a Summary. It never writes.
type Renderer struct {
	Title        string
	MaxEntries   int
	EmptyMessage string
}

// NewRenderer returns a Renderer, substituting defaults for blank values.
func NewRenderer(title string, maxEntries int) Renderer {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return Renderer{Title: title, MaxEntries: maxEntries, EmptyMessage: DefaultEmptyMessage}
}

// Render selects at most MaxEntries records, online subjects first and then by descending
// monthly time, and splits them into online and offline groups. Times of online subjects
// include the running session.
func (r Renderer) Render(records []domain.ActivityRecord, now time.Time) domain.Summary {
	limit := r.MaxEntries
	if limit <= 0 {
		limit = DefaultMaxEntries
	}

	summary := domain.Summary{
		Title:       r.Title,
		GeneratedAt: now,
		Total:       len(records),
		Online:      make([]domain.SummaryLine, 0),
		Offline:     make([]domain.SummaryLine, 0),
	}
	if summary.Title == "" {
		summary.Title = DefaultTitle
	}
	if len(records) == 0 {
		summary.EmptyMessage = r.EmptyMessage
		if summary.EmptyMessage == "" {
			summary.EmptyMessage = DefaultEmptyMessage
		}
		return summary
	}

	ordered := make([]domain.ActivityRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Online() != b.Online() {
			return a.Online()
		}
		if a.MonthlyOnlineTime != b.MonthlyOnlineTime {
			return a.MonthlyOnlineTime > b.MonthlyOnlineTime
		}
		return a.SubjectID < b.SubjectID
	})
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	for _, record := range ordered {
		line := lineFor(record, now)
		if record.Online() {
			summary.Online = append(summary.Online, line)
		} else {
			summary.Offline = append(summary.Offline, line)
		}
	}
	return summary
}

func lineFor(record domain.ActivityRecord, now time.Time) domain.SummaryLine {
	live := liveElapsed(record, now)

	glyph := OfflineGlyph
	if record.Online() {
		glyph = OnlineGlyph
	}
	label := record.DisplayName
	if strings.TrimSpace(label) == "" {
		label = record.SubjectID
	}

	return domain.SummaryLine{
		SubjectID:   record.SubjectID,
		Label:       label,
		StatusGlyph: glyph,
		DayText:     FormatDuration(record.DailyOnlineTime + live),
		WeekText:    FormatDuration(record.WeeklyOnlineTime + live),
		MonthText:   FormatDuration(record.MonthlyOnlineTime + live),
	}
}

func liveElapsed(record domain.ActivityRecord, now time.Time) time.Duration {
	if !record.Online() || record.CurrentSessionStart == nil {
		return 0
	}
	elapsed := now.Sub(*record.CurrentSessionStart)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// FormatDuration prints d using its two largest units among days, hours, minutes and
// seconds, or seconds alone below one minute.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
