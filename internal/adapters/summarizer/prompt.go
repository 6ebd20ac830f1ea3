package summarizer

import (
	"strconv"
	"strings"
	"time"
)

// DefaultPromptTemplate — шаблон запроса по умолчанию.
const DefaultPromptTemplate = `Please provide a concise summary of the following Discord conversation.
Focus on the main topics discussed, key decisions made, and important information shared.
Keep the summary under {max_length} words.

Conversation:
{content}

Summary:`

// DefaultMaxWords — бюджет слов сводки по умолчанию.
const DefaultMaxWords = 500

// Границы таймаута вызова бэкенда.
const (
	MinTimeout     = 60 * time.Second
	MaxTimeout     = 120 * time.Second
	DefaultTimeout = MaxTimeout
)

// Тексты-заглушки, которые возвращаются вместо сводки.
const (
	TimeoutText      = "Summary generation timed out"
	ErrorTextPrefix  = "Error generating summary: "
	EmptyFailureText = "Summary generation failed"
)

// FormatPrompt подставляет переписку и бюджет слов в шаблон.
func FormatPrompt(template, content string, maxWords int) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	budget := strconv.Itoa(maxWords)
	return strings.NewReplacer(
		"{max_length}", budget,
		"{max length}", budget,
		"{content}", content,
	).Replace(template)
}

// TruncateWords обрезает текст до maxWords слов. Текст в пределах бюджета возвращается как есть.
func TruncateWords(text string, maxWords int) string {
	if maxWords <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "…"
}

// ClampTimeout приводит таймаут к допустимому диапазону.
func ClampTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return DefaultTimeout
	case timeout < MinTimeout:
		return MinTimeout
	case timeout > MaxTimeout:
		return MaxTimeout
	default:
		return timeout
	}
}
