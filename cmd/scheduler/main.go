package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"discord-digest/internal/app"
	"discord-digest/internal/domain"
	"discord-digest/internal/infra/config"
	applog "discord-digest/internal/infra/log"
	"discord-digest/internal/infra/metrics"
	"discord-digest/internal/infra/scheduler"
	"discord-digest/internal/usecase/summary"
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
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать зависимости")
	}
	defer a.Close()

	rollupService, err := a.NewRollup()
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось настроить доставку")
	}

	sched := scheduler.New(applog.Component(logger, "scheduler"))
	if err := sched.Add("sweep", cfg.Sweep.Cron, func(ctx context.Context) error {
		pipeline, err := a.Pipeline()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if a.Queue == nil {
			_, err := a.Summary.Sweep(ctx, pipeline, now)
			return err
		}
		enqueue := func() error {
			jobs, err := summary.EnqueueSweep(ctx, a.Queue, pipeline, domain.SweepCauseScheduled, now)
			logger.Info().Int("jobs", len(jobs)).Msg("scheduler: задачи обхода поставлены в очередь")
			return err
		}
		if a.Redis == nil {
			return enqueue()
		}
		// несколько реплик планировщика ставят задачи один раз в час
		planKey := "sweep:plan:" + now.Truncate(time.Hour).Format("2006-01-02T15")
		return a.Redis.Once(ctx, planKey, 2*time.Hour, enqueue)
	}); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание обхода")
	}

	if err := sched.Add("rollup", cfg.Rollup.Cron, func(ctx context.Context) error {
		pipeline, err := a.Pipeline()
		if err != nil {
			return err
		}
		_, err = rollupService.Run(ctx, pipeline, time.Now().UTC())
		return err
	}); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание ежедневной сводки")
	}

	sched.Start()
	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	sched.Stop()
}
