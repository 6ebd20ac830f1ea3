package summarizer

import (
	"context"

	"discord-digest/internal/infra/ollama"
)

type generateClient interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (ollama.GenerateResponse, error)
}

// Ollama генерирует сводки локальной моделью.
type Ollama struct {
	client generateClient
	model  string
}

// NewOllama создаёт генератор Ollama.
func NewOllama(client generateClient, model string) *Ollama {
	if model == "" {
		model = "llama3.2"
	}
	return &Ollama{client: client, model: model}
}

// Generate вызывает /api/generate без потоковой передачи.
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.Generate(ctx, ollama.GenerateRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: ollama.GenerateOptions{
			Temperature: 0.7,
			TopP:        0.9,
			MaxTokens:   req.MaxWords,
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Model возвращает имя модели.
func (o *Ollama) Model() string {
	return o.model
}
