package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
	"discord-digest/internal/usecase/rollup"
)

// ErrInvalidWebhookURL возвращается для адреса, не похожего на вебхук Discord.
var ErrInvalidWebhookURL = errors.New("invalid discord webhook url")

// WebhookExecutor — часть *discordgo.Session для выполнения вебхуков.
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordWebhook публикует ежедневную сводку в канал через вебхук.
type DiscordWebhook struct {
	exec     WebhookExecutor
	id       string
	token    string
	username string
}

var _ domain.Dispatcher = (*DiscordWebhook)(nil)

// NewDiscordWebhook разбирает адрес вебхука вида .../api/webhooks/{id}/{token}.
func NewDiscordWebhook(exec WebhookExecutor, webhookURL string) (*DiscordWebhook, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	return &DiscordWebhook{exec: exec, id: id, token: token, username: "Daily Digest"}, nil
}

// ParseWebhookURL извлекает идентификатор и токен вебхука.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidWebhookURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidWebhookURL, raw)
}

// Deliver отправляет сводку частями по лимиту сообщения Discord.
func (d *DiscordWebhook) Deliver(ctx context.Context, r domain.Rollup) error {
	for _, part := range SplitMessage(rollup.FormatRollup(r), DiscordMessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		_, err := d.exec.WebhookExecute(d.id, d.token, true, &discordgo.WebhookParams{
			Content:  part,
			Username: d.username,
		}, discordgo.WithContext(ctx))
		metrics.ObserveNetworkRequest("discord_webhook", "execute", d.id, start, err)
		if err != nil {
			return fmt.Errorf("discord webhook: %w", err)
		}
	}
	return nil
}
