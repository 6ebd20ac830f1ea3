package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"discord-digest/internal/adapters/bot"
	"discord-digest/internal/app"
	"discord-digest/internal/infra/config"
	httpinfra "discord-digest/internal/infra/http"
	applog "discord-digest/internal/infra/log"
	"discord-digest/internal/infra/metrics"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

var errInvalidSecret = errors.New("invalid webhook secret")

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if cfg.Delivery.TelegramToken == "" || cfg.Delivery.TelegramChatID == 0 {
		logger.Fatal().Msg("bot: TELEGRAM_BOT_TOKEN и TELEGRAM_CHAT_ID обязательны")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось собрать зависимости")
	}
	defer a.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Delivery.TelegramToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось создать бота")
	}

	h := bot.NewHandler(botAPI, applog.Component(logger, "bot"), a.Summary, a.Pipeline, a.Queue, cfg.Delivery.TelegramChatID)

	srv := httpinfra.NewServer(applog.Component(logger, "http"))
	srv.Router.Post("/bot/webhook", webhookHandler(h, cfg.Delivery.TelegramSecret))

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("bot: HTTP сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("bot: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type updateHandler interface {
	HandleUpdate(ctx context.Context, upd tgbotapi.Update)
}

func webhookHandler(h updateHandler, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(secret)) != 1 {
			httpinfra.WriteError(w, http.StatusUnauthorized, errInvalidSecret)
			return
		}
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, err)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	}
}
