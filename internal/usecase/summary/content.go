package summary

import (
	"encoding/json"
	"strings"
	"time"

	"discord-digest/internal/domain"
)

// FormatConversation склеивает сообщения с текстом в строки `автор: текст`.
func FormatConversation(messages []domain.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Author.Username)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// latestTimestamp возвращает время самого нового сообщения.
func latestTimestamp(messages []domain.Message) time.Time {
	var latest time.Time
	for _, m := range messages {
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	return latest
}

func rawPayload(messages []domain.Message) []byte {
	data, err := json.Marshal(messages)
	if err != nil {
		return nil
	}
	return data
}
