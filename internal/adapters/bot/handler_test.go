package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/queue"
	"discord-digest/internal/usecase/summary"
)

const operatorChat int64 = 100

type stubSender struct {
	sent      []tgbotapi.MessageConfig
	callbacks int
}

func (s *stubSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (s *stubSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.callbacks++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (s *stubSender) last(t *testing.T) string {
	t.Helper()
	if len(s.sent) == 0 {
		t.Fatalf("бот ничего не отправил")
	}
	return s.sent[len(s.sent)-1].Text
}

type stubPipeline struct {
	sweeps int
}

func (p *stubPipeline) Sweep(_ context.Context, cfg domain.PipelineConfig, now time.Time) ([]domain.ChannelOutcome, error) {
	p.sweeps++
	out := make([]domain.ChannelOutcome, 0, len(cfg.Channels))
	for _, id := range cfg.Channels {
		out = append(out, domain.ChannelOutcome{ChannelID: id, Kind: domain.OutcomeSuccess, MessageCount: 2, StartedAt: now})
	}
	return out, nil
}

func (p *stubPipeline) Status(_ context.Context, cfg domain.PipelineConfig) (summary.Status, error) {
	return summary.Status{Configured: cfg.Configured(), ChannelsCount: len(cfg.Channels), TotalSummaries: 5}, nil
}

func (p *stubPipeline) ChannelSummaries(_ context.Context, channelID string, page int) (summary.Page, error) {
	if channelID != "42" {
		return summary.Page{}, domain.ErrNotFound
	}
	return summary.Page{
		Channel:   domain.ChannelCursor{ChannelID: "42", ChannelName: "general"},
		Summaries: []domain.SummaryRecord{{CreatedAt: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), MessageCount: 3, Text: "обсудили релиз"}},
		Page:      page,
		HasNext:   true,
	}, nil
}

func configured() (domain.PipelineConfig, error) {
	return domain.PipelineConfig{Token: "t", BackendURL: "http://ollama", Channels: []string{"1", "2"}}, nil
}

func command(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}}
}

func TestRejectsForeignChat(t *testing.T) {
	sender := &stubSender{}
	pipeline := &stubPipeline{}
	h := NewHandler(sender, zerolog.Nop(), pipeline, configured, nil, operatorChat)

	h.HandleUpdate(context.Background(), command(555, "/run_now"))
	if pipeline.sweeps != 0 {
		t.Fatalf("команда из чужого чата не должна запускать обход")
	}
	if sender.sent[0].ChatID != 555 || !strings.Contains(sender.last(t), "not allowed") {
		t.Fatalf("неожиданный ответ: %+v", sender.sent)
	}
}

func TestStatusCommand(t *testing.T) {
	sender := &stubSender{}
	h := NewHandler(sender, zerolog.Nop(), &stubPipeline{}, configured, nil, operatorChat)

	h.HandleUpdate(context.Background(), command(operatorChat, "/status"))
	text := sender.last(t)
	if !strings.Contains(text, "Configured: yes") || !strings.Contains(text, "Channels: 2") || !strings.Contains(text, "Total summaries: 5") {
		t.Fatalf("неожиданный статус: %q", text)
	}
	if sender.sent[0].ReplyMarkup == nil {
		t.Fatalf("к статусу должна прилагаться клавиатура")
	}
}

func TestRunNowSweepsWithoutQueue(t *testing.T) {
	sender := &stubSender{}
	pipeline := &stubPipeline{}
	h := NewHandler(sender, zerolog.Nop(), pipeline, configured, nil, operatorChat)

	h.HandleUpdate(context.Background(), command(operatorChat, "/run_now"))
	if pipeline.sweeps != 1 {
		t.Fatalf("ожидали один обход, получили %d", pipeline.sweeps)
	}
	if text := sender.last(t); !strings.Contains(text, "1: success (2 messages)") {
		t.Fatalf("неожиданный отчёт: %q", text)
	}
}

func TestRunNowEnqueuesWithQueue(t *testing.T) {
	sender := &stubSender{}
	pipeline := &stubPipeline{}
	q := queue.NewMemory(4)
	h := NewHandler(sender, zerolog.Nop(), pipeline, configured, q, operatorChat)

	h.HandleUpdate(context.Background(), command(operatorChat, "/run_now"))
	if pipeline.sweeps != 0 {
		t.Fatalf("при очереди обход не должен выполняться синхронно")
	}
	if text := sender.last(t); text != "Queued 2 channels." {
		t.Fatalf("неожиданный ответ: %q", text)
	}
}

func TestRunNowRejectsIncompleteConfig(t *testing.T) {
	sender := &stubSender{}
	pipeline := &stubPipeline{}
	h := NewHandler(sender, zerolog.Nop(), pipeline, func() (domain.PipelineConfig, error) {
		return domain.PipelineConfig{Channels: []string{"1"}}, nil
	}, nil, operatorChat)

	h.HandleUpdate(context.Background(), command(operatorChat, "/run_now"))
	if pipeline.sweeps != 0 || !strings.HasPrefix(sender.last(t), "Application not configured") {
		t.Fatalf("неполная конфигурация должна отклоняться: %q", sender.last(t))
	}
}

func TestHistoryCommand(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{name: "страница", text: "/history 42 2", want: "More: /history 42 3"},
		{name: "по умолчанию", text: "/history 42", want: "#general, page 1"},
		{name: "неизвестный канал", text: "/history 7", want: "Channel not found."},
		{name: "без аргументов", text: "/history", want: "Usage:"},
		{name: "плохая страница", text: "/history 42 zero", want: "positive number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &stubSender{}
			h := NewHandler(sender, zerolog.Nop(), &stubPipeline{}, configured, nil, operatorChat)
			h.HandleUpdate(context.Background(), command(operatorChat, tc.text))
			if text := sender.last(t); !strings.Contains(text, tc.want) {
				t.Fatalf("ожидали %q в ответе %q", tc.want, text)
			}
		})
	}
}

func TestCallbackRunsStatus(t *testing.T) {
	sender := &stubSender{}
	h := NewHandler(sender, zerolog.Nop(), &stubPipeline{}, configured, nil, operatorChat)

	h.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    "status",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: operatorChat}},
	}})
	if sender.callbacks != 1 {
		t.Fatalf("на callback нужно ответить")
	}
	if !strings.Contains(sender.last(t), "Total summaries: 5") {
		t.Fatalf("неожиданный ответ: %q", sender.last(t))
	}
}
