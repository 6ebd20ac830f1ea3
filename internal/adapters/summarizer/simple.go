package summarizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Simple строит сводку эвристикой без модели. Подходит для локальной разработки.
type Simple struct{}

// NewSimple создаёт генератор.
func NewSimple() *Simple {
	return &Simple{}
}

// Generate перечисляет участников и самые содержательные реплики.
func (s *Simple) Generate(_ context.Context, req Request) (string, error) {
	lines := strings.Split(strings.TrimSpace(req.Content), "\n")
	authors := map[string]int{}
	type line struct {
		author string
		text   string
		order  int
	}
	var parsed []line
	for i, raw := range lines {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		author, text, ok := strings.Cut(raw, ": ")
		if !ok {
			author, text = "", raw
		}
		if author != "" {
			authors[author]++
		}
		parsed = append(parsed, line{author: author, text: text, order: i})
	}
	if len(parsed) == 0 {
		return "", nil
	}

	names := make([]string, 0, len(authors))
	for name := range authors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if authors[names[i]] != authors[names[j]] {
			return authors[names[i]] > authors[names[j]]
		}
		return names[i] < names[j]
	})

	highlights := append([]line(nil), parsed...)
	sort.SliceStable(highlights, func(i, j int) bool {
		return len(strings.Fields(highlights[i].text)) > len(strings.Fields(highlights[j].text))
	})
	highlights = highlights[:min(len(highlights), 3)]
	sort.Slice(highlights, func(i, j int) bool { return highlights[i].order < highlights[j].order })

	var b strings.Builder
	fmt.Fprintf(&b, "%d messages", len(parsed))
	if len(names) > 0 {
		fmt.Fprintf(&b, " from %s", strings.Join(names[:min(len(names), 5)], ", "))
	}
	b.WriteString(".")
	for _, h := range highlights {
		b.WriteString("\n- ")
		if h.author != "" {
			b.WriteString(h.author + ": ")
		}
		b.WriteString(truncate(h.text, 160))
	}
	return b.String(), nil
}

// Model возвращает имя эвристики.
func (s *Simple) Model() string {
	return "simple"
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
