package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/config"
	"discord-digest/internal/usecase/rollup"
)

// ErrNoTransport возвращается, если ни один канал доставки не сработал.
var ErrNoTransport = errors.New("no dispatch transport delivered the rollup")

// Named связывает имя транспорта с отправителем для логов.
type Named struct {
	Name       string
	Dispatcher domain.Dispatcher
}

// Multi рассылает сводку во все транспорты. Доставка успешна, если хотя бы один транспорт принял сводку.
type Multi struct {
	targets []Named
	log     zerolog.Logger
}

var _ domain.Dispatcher = (*Multi)(nil)

// NewMulti создаёт рассылку по нескольким транспортам.
func NewMulti(logger zerolog.Logger, targets ...Named) *Multi {
	return &Multi{targets: targets, log: logger}
}

// Deliver пробует все транспорты по порядку.
func (m *Multi) Deliver(ctx context.Context, r domain.Rollup) error {
	var errs []error
	delivered := 0
	for _, target := range m.targets {
		if err := target.Dispatcher.Deliver(ctx, r); err != nil {
			m.log.Error().Err(err).Str("transport", target.Name).Str("date", r.CalendarDate).Msg("notify: не удалось отправить сводку")
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
			continue
		}
		delivered++
		m.log.Info().Str("transport", target.Name).Str("date", r.CalendarDate).Msg("notify: сводка отправлена")
	}
	if delivered > 0 {
		return nil
	}
	if len(errs) == 0 {
		return ErrNoTransport
	}
	return errors.Join(append([]error{ErrNoTransport}, errs...)...)
}

// Log пишет сводку в журнал. Используется, когда транспорты не настроены.
type Log struct {
	log zerolog.Logger
}

// NewLog создаёт отправителя в журнал.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger}
}

// Deliver всегда успешен.
func (l *Log) Deliver(_ context.Context, r domain.Rollup) error {
	l.log.Info().Str("date", r.CalendarDate).Int("groups", len(r.Groups)).Msg("notify: ежедневная сводка\n" + rollup.FormatRollup(r))
	return nil
}

// NewFromConfig собирает транспорты по конфигурации. Без транспортов сводка пишется в журнал.
func NewFromConfig(cfg config.AppConfig, logger zerolog.Logger) (domain.Dispatcher, error) {
	var targets []Named
	if cfg.Delivery.TelegramToken != "" {
		if cfg.Delivery.TelegramChatID == 0 {
			return nil, fmt.Errorf("%w: TELEGRAM_CHAT_ID is required with TELEGRAM_BOT_TOKEN", domain.ErrConfiguration)
		}
		bot, err := tgbotapi.NewBotAPI(cfg.Delivery.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		targets = append(targets, Named{Name: "telegram", Dispatcher: NewTelegram(bot, cfg.Delivery.TelegramChatID)})
	}
	if cfg.Delivery.DiscordWebhookURL != "" {
		session, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("discord session: %w", err)
		}
		hook, err := NewDiscordWebhook(session, cfg.Delivery.DiscordWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
		targets = append(targets, Named{Name: "discord_webhook", Dispatcher: hook})
	}
	if len(targets) == 0 {
		logger.Warn().Msg("notify: транспорты не настроены, сводка будет записана в журнал")
		return NewLog(logger), nil
	}
	return NewMulti(logger, targets...), nil
}
