package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Task — периодическая задача планировщика.
type Task func(ctx context.Context) error

// Scheduler запускает задачи по cron-выражениям. Запуск одной задачи не перекрывается следующим.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

// New создаёт планировщик в UTC.
func New(logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	adapter := cronLogger{log: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
	}
}

// Add регистрирует задачу под именем name.
func (s *Scheduler) Add(name, spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.log.Info().Str("task", name).Msg("scheduler: запуск задачи")
		if err := task(s.ctx); err != nil {
			s.log.Error().Err(err).Str("task", name).Dur("elapsed", time.Since(start)).Msg("scheduler: задача завершилась с ошибкой")
			return
		}
		s.log.Info().Str("task", name).Dur("elapsed", time.Since(start)).Msg("scheduler: задача завершена")
	})
	if err != nil {
		return fmt.Errorf("cron %s %q: %w", name, spec, err)
	}
	return nil
}

// Start запускает планировщик в фоне.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("tasks", len(s.cron.Entries())).Msg("scheduler: запущен")
}

// Stop отменяет контекст текущих задач и ждёт их завершения.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler: остановлен")
}

// Next возвращает время следующего запуска задачи по выражению spec.
func Next(spec string, after time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("scheduler: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("scheduler: " + msg)
}
