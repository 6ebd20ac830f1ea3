package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/config"
	"discord-digest/internal/infra/ollama"
	openai "discord-digest/internal/infra/openai"
)

// Request — один вызов генерации.
type Request struct {
	Prompt   string
	Content  string
	MaxWords int
}

// Generator — бэкенд, который превращает запрос в текст.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}

// Options настраивает Service.
type Options struct {
	Template string
	MaxWords int
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Service реализует domain.Summarizer поверх произвольного генератора.
type Service struct {
	gen      Generator
	template string
	maxWords int
	timeout  time.Duration
	log      zerolog.Logger
}

var _ domain.Summarizer = (*Service)(nil)

// NewService создаёт суммаризатор.
func NewService(gen Generator, opts Options) *Service {
	template := opts.Template
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	maxWords := opts.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	return &Service{
		gen:      gen,
		template: template,
		maxWords: maxWords,
		timeout:  ClampTimeout(opts.Timeout),
		log:      opts.Logger,
	}
}

// Summarize строит сводку. Ошибки бэкенда не возвращаются, а превращаются в текст-заглушку.
// Шаблон и бюджет запроса перекрывают значения, заданные при создании.
func (s *Service) Summarize(ctx context.Context, req domain.SummaryRequest) domain.Summary {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	template := s.template
	if strings.TrimSpace(req.PromptTemplate) != "" {
		template = req.PromptTemplate
	}
	maxWords := s.maxWords
	if req.MaxWords > 0 {
		maxWords = req.MaxWords
	}

	prompt := FormatPrompt(template, req.Content, maxWords)
	text, err := s.gen.Generate(callCtx, Request{Prompt: prompt, Content: req.Content, MaxWords: maxWords})
	if err != nil {
		if isTimeout(err) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			s.log.Error().Str("model", s.gen.Model()).Dur("timeout", s.timeout).Msg("summarizer: генерация не уложилась в таймаут")
			return domain.Summary{Text: TimeoutText, Failure: domain.SummaryFailureTimeout}
		}
		s.log.Error().Err(err).Str("model", s.gen.Model()).Msg("summarizer: ошибка генерации")
		return domain.Summary{Text: ErrorTextPrefix + err.Error(), Failure: domain.SummaryFailureError}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.log.Warn().Str("model", s.gen.Model()).Msg("summarizer: пустой ответ модели")
		return domain.Summary{Text: EmptyFailureText, Failure: domain.SummaryFailureError}
	}
	return domain.Summary{Text: TruncateWords(text, maxWords)}
}

// Model возвращает имя модели генератора.
func (s *Service) Model() string {
	return s.gen.Model()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewFromConfig выбирает провайдера по конфигурации.
func NewFromConfig(cfg config.AppConfig, logger zerolog.Logger) (*Service, error) {
	opts := Options{
		Template: cfg.Summarizer.PromptTemplate,
		MaxWords: cfg.Summarizer.MaxWords,
		Timeout:  cfg.Summarizer.Timeout,
		Logger:   logger,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Summarizer.Provider)) {
	case "", config.ProviderOllama:
		client := ollama.NewClient(cfg.Summarizer.OllamaURL, nil)
		return NewService(NewOllama(client, cfg.Summarizer.OllamaModel), opts), nil
	case config.ProviderOpenAI:
		if cfg.Summarizer.OpenAIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is required for openai provider", domain.ErrConfiguration)
		}
		client := openai.NewClient(cfg.Summarizer.OpenAIKey, cfg.Summarizer.OpenAIBaseURL, ClampTimeout(cfg.Summarizer.Timeout))
		return NewService(NewOpenAI(client, cfg.Summarizer.OpenAIModel), opts), nil
	case config.ProviderSimple:
		return NewService(NewSimple(), opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown summarizer provider %q", domain.ErrConfiguration, cfg.Summarizer.Provider)
	}
}
