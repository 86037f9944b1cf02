package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"example.com/presence/internal/domain"
)

func messageOptions(summary domain.Summary) []slack.MsgOption {
	return []slack.MsgOption{
		slack.MsgOptionText(fallbackText(summary), false),
		slack.MsgOptionBlocks(summaryBlocks(summary)...),
	}
}

func summaryBlocks(summary domain.Summary) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, summary.Title, true, false)),
	}

	if summary.Empty() {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, summary.EmptyMessage, false, false), nil, nil))
	} else {
		blocks = append(blocks, groupBlocks(fmt.Sprintf("*Online* (%d)", len(summary.Online)), summary.Online)...)
		blocks = append(blocks, slack.NewDividerBlock())
		blocks = append(blocks, groupBlocks(fmt.Sprintf("*Offline* (%d)", len(summary.Offline)), summary.Offline)...)
	}

	footer := fmt.Sprintf("Day / Week / Month · updated <!date^%d^{date_short_pretty} {time}|%s>",
		summary.GeneratedAt.Unix(), summary.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"))
	blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, footer, false, false)))
	return blocks
}

func groupBlocks(heading string, lines []domain.SummaryLine) []slack.Block {
	var b strings.Builder
	b.WriteString(heading)
	if len(lines) == 0 {
		b.WriteString("\n_nobody_")
	}
	for _, line := range lines {
		b.WriteString("\n")
		b.WriteString(formatLine(line))
	}
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, b.String(), false, false), nil, nil),
	}
}

func formatLine(line domain.SummaryLine) string {
	return fmt.Sprintf("%s *%s*  `%s` / `%s` / `%s`", line.StatusGlyph, escape(line.Label), line.DayText, line.WeekText, line.MonthText)
}

func fallbackText(summary domain.Summary) string {
	if summary.Empty() {
		return summary.Title + ": " + summary.EmptyMessage
	}
	return fmt.Sprintf("%s: %d online, %d offline", summary.Title, len(summary.Online), len(summary.Offline))
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "*", "∗")

func escape(s string) string {
	return escaper.Replace(s)
}
