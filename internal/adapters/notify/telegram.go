package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
	"discord-digest/internal/usecase/rollup"
)

// TelegramSender — часть *tgbotapi.BotAPI, которая нужна для отправки.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет ежедневную сводку в чат Telegram.
type Telegram struct {
	bot    TelegramSender
	chatID int64
}

var _ domain.Dispatcher = (*Telegram)(nil)

// NewTelegram создаёт отправителя в указанный чат.
func NewTelegram(bot TelegramSender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

// Deliver отправляет текст сводки частями. Ошибка любой части означает неудачную доставку:
// уже отправленные части не отзываются, и следующий запуск пришлёт сводку целиком.
func (t *Telegram) Deliver(ctx context.Context, r domain.Rollup) error {
	target := strconv.FormatInt(t.chatID, 10)
	parts := SplitMessage(rollup.FormatRollup(r), TelegramMessageLimit)
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", target, start, err)
		if err != nil {
			return fmt.Errorf("telegram send part %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}
