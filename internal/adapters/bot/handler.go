package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"discord-digest/internal/adapters/notify"
	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
	"discord-digest/internal/usecase/summary"
)

// Sender — часть *tgbotapi.BotAPI, которая нужна обработчику.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Pipeline — операции конвейера, доступные из бота.
type Pipeline interface {
	Sweep(ctx context.Context, cfg domain.PipelineConfig, now time.Time) ([]domain.ChannelOutcome, error)
	Status(ctx context.Context, cfg domain.PipelineConfig) (summary.Status, error)
	ChannelSummaries(ctx context.Context, channelID string, page int) (summary.Page, error)
}

// Handler обслуживает вебхук операторского бота. Команды принимаются только из разрешённого чата.
type Handler struct {
	bot         Sender
	log         zerolog.Logger
	pipeline    Pipeline
	config      func() (domain.PipelineConfig, error)
	queue       domain.SweepQueue
	allowedChat int64
	now         func() time.Time
}

// NewHandler создаёт обработчик. queue может быть nil: тогда /run_now обходит каналы синхронно.
func NewHandler(bot Sender, log zerolog.Logger, pipeline Pipeline, config func() (domain.PipelineConfig, error), queue domain.SweepQueue, allowedChat int64) *Handler {
	return &Handler{
		bot:         bot,
		log:         log,
		pipeline:    pipeline,
		config:      config,
		queue:       queue,
		allowedChat: allowedChat,
		now:         time.Now,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	if chatID != h.allowedChat {
		h.log.Warn().Int64("chat", chatID).Msg("bot: команда из неразрешённого чата")
		h.reply(chatID, "This chat is not allowed to operate the digest.", nil)
		return
	}
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"), strings.HasPrefix(text, "/help"):
		h.reply(chatID, helpMessage, mainKeyboard())
	case strings.HasPrefix(text, "/status"):
		h.handleStatus(ctx, chatID)
	case strings.HasPrefix(text, "/run_now"):
		h.handleRunNow(ctx, chatID)
	case strings.HasPrefix(text, "/history"):
		h.handleHistory(ctx, chatID, strings.Fields(strings.TrimPrefix(text, "/history")))
	default:
		h.reply(chatID, "Unknown command. Use /help", nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		h.log.Warn().Err(err).Msg("bot: не удалось ответить на callback")
	}
	if q.Message == nil || q.Message.Chat == nil || q.Message.Chat.ID != h.allowedChat {
		return
	}
	chatID := q.Message.Chat.ID
	switch q.Data {
	case "status":
		h.handleStatus(ctx, chatID)
	case "run_now":
		h.handleRunNow(ctx, chatID)
	}
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64) {
	cfg, err := h.config()
	if err != nil && !errors.Is(err, domain.ErrConfiguration) {
		h.reply(chatID, "Failed to load configuration: "+err.Error(), nil)
		return
	}
	status, err := h.pipeline.Status(ctx, cfg)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: статус недоступен")
		h.reply(chatID, "Status is unavailable, try again later.", nil)
		return
	}
	configured := "yes"
	if !status.Configured {
		configured = "no"
	}
	h.reply(chatID, fmt.Sprintf("Configured: %s\nChannels: %d\nTotal summaries: %d", configured, status.ChannelsCount, status.TotalSummaries), mainKeyboard())
}

func (h *Handler) handleRunNow(ctx context.Context, chatID int64) {
	cfg, err := h.config()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		h.reply(chatID, "Application not configured: "+err.Error(), nil)
		return
	}

	if h.queue != nil {
		jobs, err := summary.EnqueueSweep(ctx, h.queue, cfg, domain.SweepCauseManual, h.now())
		if err != nil {
			h.log.Error().Err(err).Int("enqueued", len(jobs)).Msg("bot: не удалось поставить задачи")
			h.reply(chatID, "Failed to queue the sweep, try again later.", nil)
			return
		}
		h.reply(chatID, fmt.Sprintf("Queued %d channels.", len(jobs)), nil)
		return
	}

	outcomes, err := h.pipeline.Sweep(ctx, cfg, h.now())
	if err != nil {
		h.reply(chatID, "Sweep failed: "+err.Error(), nil)
		return
	}
	h.reply(chatID, formatOutcomes(outcomes), nil)
}

func (h *Handler) handleHistory(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		h.reply(chatID, "Usage: /history <channel_id> [page]", nil)
		return
	}
	page := 1
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil || parsed < 1 {
			h.reply(chatID, "Page must be a positive number.", nil)
			return
		}
		page = parsed
	}
	result, err := h.pipeline.ChannelSummaries(ctx, args[0], page)
	if errors.Is(err, domain.ErrNotFound) {
		h.reply(chatID, "Channel not found.", nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("channel", args[0]).Msg("bot: история канала недоступна")
		h.reply(chatID, "History is unavailable, try again later.", nil)
		return
	}
	h.reply(chatID, formatPage(result), nil)
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := notify.SplitMessage(text, notify.TelegramMessageLimit)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("bot: не удалось отправить сообщение")
			return
		}
	}
}

const helpMessage = `Discord digest operator bot.

/status - configuration and summary count
/run_now - summarize new messages in every channel
/history <channel_id> [page] - stored summaries, newest first`

func mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Status", "status"),
			tgbotapi.NewInlineKeyboardButtonData("▶️ Run now", "run_now"),
		),
	)
	return &buttons
}

func formatOutcomes(outcomes []domain.ChannelOutcome) string {
	var b strings.Builder
	b.WriteString("Sweep finished:")
	for _, o := range outcomes {
		b.WriteString(fmt.Sprintf("\n%s: %s", o.ChannelID, o))
		if o.Kind == domain.OutcomeSuccess {
			b.WriteString(fmt.Sprintf(" (%d messages)", o.MessageCount))
		}
	}
	return b.String()
}

func formatPage(p summary.Page) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("#%s, page %d", p.Channel.DisplayName(), p.Page))
	if len(p.Summaries) == 0 {
		b.WriteString("\nNo summaries yet.")
	}
	for _, rec := range p.Summaries {
		b.WriteString(fmt.Sprintf("\n\n[%s] %d messages\n%s", rec.CreatedAt.UTC().Format("2006-01-02 15:04"), rec.MessageCount, rec.Text))
	}
	if p.HasNext {
		b.WriteString(fmt.Sprintf("\n\nMore: /history %s %d", p.Channel.ChannelID, p.Page+1))
	}
	return b.String()
}
