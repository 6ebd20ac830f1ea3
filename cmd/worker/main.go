package main

import (
	"context"
	"errors"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"discord-digest/internal/app"
	"discord-digest/internal/domain"
	"discord-digest/internal/infra/config"
	applog "discord-digest/internal/infra/log"
	"discord-digest/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось собрать зависимости")
	}
	defer a.Close()

	if a.Queue == nil {
		logger.Fatal().Msg("worker: очередь не настроена (QUEUE_DRIVER=redis|rabbitmq)")
	}

	w := &jobWorker{
		log:       applog.Component(logger, "worker"),
		queue:     a.Queue,
		statuses:  a.Store,
		processor: a.Summary,
		config:    a.Pipeline,
		now:       time.Now,
		pause:     time.Second,
	}

	logger.Info().Msg("worker: запуск обработки очереди")
	w.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

type channelProcessor interface {
	ProcessChannel(ctx context.Context, cfg domain.PipelineConfig, channelID string, now time.Time) domain.ChannelOutcome
}

type jobWorker struct {
	log       zerolog.Logger
	queue     domain.SweepQueue
	statuses  domain.SweepJobStatusRepo
	processor channelProcessor
	config    func() (domain.PipelineConfig, error)
	now       func() time.Time
	pause     time.Duration
}

const maxJobAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			w.sleep(ctx)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("channel", job.ChannelID).
			Str("cause", string(job.Cause)).
			Logger()

		if job.ID == "" {
			jobLog.Error().Msg("worker: получена задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу без идентификатора")
			}
			continue
		}

		done, attempt, err := w.statuses.EnsureSweepJob(ctx, job.ID)
		if err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось зарегистрировать задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
			}
			w.sleep(ctx)
			continue
		}

		jobLog = jobLog.With().Int("attempt", attempt).Logger()

		if done {
			jobLog.Info().Msg("worker: задача уже выполнена, подтверждаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить выполненную задачу")
			}
			continue
		}

		outcome := w.handleJob(ctx, job, jobLog)

		if outcome == jobOutcomeRetry && attempt < maxJobAttempts {
			jobLog.Warn().Msg("worker: задача завершилась ошибкой, повторим позже")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось вернуть задачу после ошибки")
			}
			continue
		}

		if outcome == jobOutcomeRetry {
			jobLog.Error().Msg("worker: достигнут предел попыток, помечаем задачу как завершённую")
		}

		if err := w.statuses.MarkSweepJobDone(ctx, job.ID); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось пометить задачу завершённой")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу после ошибки статуса")
			}
			w.sleep(ctx)
			continue
		}

		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}

func (w *jobWorker) handleJob(ctx context.Context, job domain.SweepJob, jobLog zerolog.Logger) jobOutcome {
	cfg, err := w.config()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: конфигурация неполная, задача пропущена")
		return jobOutcomeCompleted
	}
	if !slices.Contains(cfg.Channels, job.ChannelID) {
		jobLog.Warn().Msg("worker: канал больше не настроен, задача пропущена")
		return jobOutcomeCompleted
	}

	outcome := w.processor.ProcessChannel(ctx, cfg, job.ChannelID, w.now().UTC())
	if outcome.Kind != domain.OutcomeError {
		return jobOutcomeCompleted
	}
	switch outcome.ErrorKind {
	case domain.ErrorKindTransientFetch, domain.ErrorKindStorage:
		return jobOutcomeRetry
	default:
		return jobOutcomeCompleted
	}
}

func (w *jobWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
