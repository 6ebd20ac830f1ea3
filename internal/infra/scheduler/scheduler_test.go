package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextHourly(t *testing.T) {
	after := time.Date(2024, 3, 5, 9, 10, 0, 0, time.UTC)
	next, err := Next("0 * * * *", after)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !next.Equal(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("неожиданный следующий запуск: %s", next)
	}
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	s := New(zerolog.Nop())
	if err := s.Add("sweep", "not a cron", nil); err == nil {
		t.Fatalf("ожидали ошибку разбора выражения")
	}
	if err := s.Add("sweep", "*/5 * * * *", nil); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(s.cron.Entries()) != 1 {
		t.Fatalf("ожидали одну задачу, получили %d", len(s.cron.Entries()))
	}
}

func TestStopCancelsRunningTask(t *testing.T) {
	s := New(zerolog.Nop())
	started := make(chan struct{}, 1)
	if err := s.Add("sweep", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			return nil
		}
	}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	s.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		s.Stop()
		t.Fatalf("задача не запустилась")
	}

	begin := time.Now()
	s.Stop()
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Fatalf("остановка должна прерывать задачу, ждали %v", elapsed)
	}
}
