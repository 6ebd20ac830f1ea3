package summarizer

import (
	"context"
	"fmt"
	"strings"

	openai "discord-digest/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI генерирует сводки через Chat Completions.
type OpenAI struct {
	client chatClient
	model  string
}

// NewOpenAI создаёт генератор.
func NewOpenAI(client chatClient, model string) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	return &OpenAI{client: client, model: model}
}

// Generate отправляет подготовленный промпт одним сообщением пользователя.
func (s *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   req.MaxWords * 2,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You summarize chat conversations. Keep facts from the text and do not invent anything.",
			},
			{
				Role:    openai.RoleUser,
				Content: req.Prompt,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Model возвращает имя модели.
func (s *OpenAI) Model() string {
	return s.model
}
