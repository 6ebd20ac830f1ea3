package rollup

import (
	"fmt"
	"strings"

	"discord-digest/internal/domain"
)

// FormatRollup формирует текст ежедневной сводки: заголовок, затем группы с секциями каналов.
func FormatRollup(r domain.Rollup) string {
	var sections []string
	sections = append(sections, fmt.Sprintf("Daily digest for %s", r.CalendarDate))

	for _, group := range r.Groups {
		if section := formatGroup(group); section != "" {
			sections = append(sections, section)
		}
	}
	return strings.TrimSpace(strings.Join(sections, "\n\n"))
}

func formatGroup(group domain.RollupGroup) string {
	if len(group.Channels) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("== " + group.Name + " ==")
	for _, ch := range group.Channels {
		builder.WriteString("\n\n")
		builder.WriteString(FormatChannel(ch))
	}
	return builder.String()
}

// FormatChannel формирует секцию канала: имя, число сообщений и сводки по порядку.
func FormatChannel(ch domain.RollupChannel) string {
	name := strings.TrimSpace(ch.ChannelName)
	if name == "" {
		name = ch.ChannelID
	}
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("#%s (%d messages)", name, ch.MessageCount()))
	for _, rec := range ch.Summaries {
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			continue
		}
		builder.WriteString("\n[" + rec.CreatedAt.UTC().Format("15:04") + "] " + text)
	}
	return builder.String()
}
