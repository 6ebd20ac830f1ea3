package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/config"
	"discord-digest/internal/infra/ollama"
	openai "discord-digest/internal/infra/openai"
)

type stubGenerator struct {
	text   string
	err    error
	block  bool
	prompt string
}

func (g *stubGenerator) Generate(ctx context.Context, req Request) (string, error) {
	g.prompt = req.Prompt
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.text, g.err
}

func (g *stubGenerator) Model() string { return "stub" }

func TestFormatPrompt(t *testing.T) {
	got := FormatPrompt("Summarize in {max length} words ({max_length}):\n{content}", "alice: hi", 42)
	want := "Summarize in 42 words (42):\nalice: hi"
	if got != want {
		t.Fatalf("FormatPrompt = %q, want %q", got, want)
	}
	def := FormatPrompt("", "bob: hello", 0)
	if !strings.Contains(def, "under 500 words") || !strings.Contains(def, "bob: hello") {
		t.Fatalf("шаблон по умолчанию собран неверно: %q", def)
	}
}

func TestTruncateWords(t *testing.T) {
	if got := TruncateWords("one two three", 5); got != "one two three" {
		t.Fatalf("текст в пределах бюджета не должен меняться: %q", got)
	}
	if got := TruncateWords("one two three four", 2); got != "one two…" {
		t.Fatalf("ожидали обрезку до двух слов, получили %q", got)
	}
}

func TestClampTimeout(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                MaxTimeout,
		10 * time.Second: MinTimeout,
		90 * time.Second: 90 * time.Second,
		10 * time.Minute: MaxTimeout,
	}
	for in, want := range cases {
		if got := ClampTimeout(in); got != want {
			t.Fatalf("ClampTimeout(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestSummarizeSuccessTruncates(t *testing.T) {
	gen := &stubGenerator{text: strings.Repeat("word ", 20)}
	svc := NewService(gen, Options{MaxWords: 5, Logger: zerolog.Nop()})
	sum := svc.Summarize(context.Background(), domain.SummaryRequest{Content: "alice: hi"})
	if sum.Failed() {
		t.Fatalf("не ожидали заглушку: %+v", sum)
	}
	if len(strings.Fields(sum.Text)) != 5 {
		t.Fatalf("ожидали 5 слов, получили %q", sum.Text)
	}
	if !strings.Contains(gen.prompt, "alice: hi") || !strings.Contains(gen.prompt, "under 5 words") {
		t.Fatalf("промпт собран неверно: %q", gen.prompt)
	}
}

func TestSummarizeUsesRequestTemplateAndBudget(t *testing.T) {
	gen := &stubGenerator{text: strings.Repeat("word ", 20)}
	svc := NewService(gen, Options{Template: "default {content}", MaxWords: 50, Logger: zerolog.Nop()})

	sum := svc.Summarize(context.Background(), domain.SummaryRequest{
		Content:        "alice: hi",
		PromptTemplate: "Brief ({max_length} words): {content}",
		MaxWords:       3,
	})
	if gen.prompt != "Brief (3 words): alice: hi" {
		t.Fatalf("шаблон запуска не дошёл до генератора: %q", gen.prompt)
	}
	if len(strings.Fields(sum.Text)) != 3 {
		t.Fatalf("ожидали обрезку до 3 слов, получили %q", sum.Text)
	}

	svc.Summarize(context.Background(), domain.SummaryRequest{Content: "bob: ok"})
	if gen.prompt != "default bob: ok" {
		t.Fatalf("без шаблона запуска ожидали шаблон по умолчанию, получили %q", gen.prompt)
	}
}

func TestSummarizeTimeoutSentinel(t *testing.T) {
	svc := NewService(&stubGenerator{block: true}, Options{Logger: zerolog.Nop()})
	svc.timeout = 10 * time.Millisecond
	sum := svc.Summarize(context.Background(), domain.SummaryRequest{Content: "alice: hi"})
	if sum.Text != TimeoutText || sum.Failure != domain.SummaryFailureTimeout {
		t.Fatalf("ожидали заглушку таймаута, получили %+v", sum)
	}
}

func TestSummarizeErrorSentinel(t *testing.T) {
	svc := NewService(&stubGenerator{err: errors.New("connection refused")}, Options{Logger: zerolog.Nop()})
	sum := svc.Summarize(context.Background(), domain.SummaryRequest{Content: "alice: hi"})
	if sum.Text != "Error generating summary: connection refused" || sum.Failure != domain.SummaryFailureError {
		t.Fatalf("ожидали заглушку ошибки, получили %+v", sum)
	}
}

func TestSummarizeEmptyResponse(t *testing.T) {
	svc := NewService(&stubGenerator{text: "  "}, Options{Logger: zerolog.Nop()})
	sum := svc.Summarize(context.Background(), domain.SummaryRequest{Content: "alice: hi"})
	if sum.Text != EmptyFailureText || !sum.Failed() {
		t.Fatalf("ожидали заглушку пустого ответа, получили %+v", sum)
	}
}

type stubOllama struct{ got ollama.GenerateRequest }

func (s *stubOllama) Generate(_ context.Context, req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
	s.got = req
	return ollama.GenerateResponse{Response: "done"}, nil
}

func TestOllamaGenerator(t *testing.T) {
	client := &stubOllama{}
	text, err := NewOllama(client, "").Generate(context.Background(), Request{Prompt: "p", MaxWords: 300})
	if err != nil || text != "done" {
		t.Fatalf("неожиданный результат %q (%v)", text, err)
	}
	if client.got.Model != "llama3.2" || client.got.Options.Temperature != 0.7 || client.got.Options.MaxTokens != 300 {
		t.Fatalf("неожиданный запрос: %+v", client.got)
	}
}

type stubChat struct{ resp openai.ChatCompletionResponse }

func (s *stubChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return s.resp, nil
}

func TestOpenAIGenerator(t *testing.T) {
	client := &stubChat{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: " итог "}}}}}
	text, err := NewOpenAI(client, "").Generate(context.Background(), Request{Prompt: "p", MaxWords: 10})
	if err != nil || text != "итог" {
		t.Fatalf("неожиданный результат %q (%v)", text, err)
	}
}

func TestSimpleGenerator(t *testing.T) {
	svc := NewService(NewSimple(), Options{Logger: zerolog.Nop()})
	sum := svc.Summarize(context.Background(), domain.SummaryRequest{Content: "alice: we ship on friday after the review\nbob: ok\nalice: thanks"})
	if sum.Failed() {
		t.Fatalf("эвристика не должна падать: %+v", sum)
	}
	if !strings.HasPrefix(sum.Text, "3 messages from alice, bob.") {
		t.Fatalf("неожиданная сводка: %q", sum.Text)
	}
}

func TestNewFromConfig(t *testing.T) {
	var cfg config.AppConfig
	cfg.Summarizer.Provider = config.ProviderOpenAI
	if _, err := NewFromConfig(cfg, zerolog.Nop()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("без ключа ожидали ошибку конфигурации, получили %v", err)
	}
	cfg.Summarizer.Provider = "bogus"
	if _, err := NewFromConfig(cfg, zerolog.Nop()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("ожидали ошибку конфигурации, получили %v", err)
	}
	cfg.Summarizer.Provider = config.ProviderOllama
	cfg.Summarizer.OllamaModel = "mistral"
	svc, err := NewFromConfig(cfg, zerolog.Nop())
	if err != nil || svc.Model() != "mistral" {
		t.Fatalf("ожидали генератор ollama, получили %v (%v)", svc, err)
	}
}
