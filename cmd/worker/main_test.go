package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/queue"
)

type stubStatuses struct {
	mu       sync.Mutex
	attempts map[string]int
	done     map[string]bool
	onDone   func()
}

func (s *stubStatuses) EnsureSweepJob(_ context.Context, jobID string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[jobID]++
	return s.done[jobID], s.attempts[jobID], nil
}

func (s *stubStatuses) MarkSweepJobDone(_ context.Context, jobID string) error {
	s.mu.Lock()
	s.done[jobID] = true
	s.mu.Unlock()
	if s.onDone != nil {
		s.onDone()
	}
	return nil
}

type stubProcessor struct {
	mu       sync.Mutex
	outcomes []domain.ChannelOutcome
	calls    int
}

func (p *stubProcessor) ProcessChannel(context.Context, domain.PipelineConfig, string, time.Time) domain.ChannelOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.outcomes) == 0 {
		return domain.ChannelOutcome{Kind: domain.OutcomeSuccess}
	}
	next := p.outcomes[0]
	p.outcomes = p.outcomes[1:]
	return next
}

func newTestWorker(q domain.SweepQueue, statuses *stubStatuses, processor *stubProcessor, channels ...string) *jobWorker {
	return &jobWorker{
		log:       zerolog.Nop(),
		queue:     q,
		statuses:  statuses,
		processor: processor,
		config: func() (domain.PipelineConfig, error) {
			return domain.PipelineConfig{Token: "t", BackendURL: "http://ollama", Channels: channels}, nil
		},
		now:   time.Now,
		pause: time.Millisecond,
	}
}

func runUntilDone(t *testing.T, w *jobWorker, statuses *stubStatuses) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	statuses.onDone = cancel
	w.Run(ctx)
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatalf("задача не была завершена")
	}
}

func TestWorkerRetriesTransientErrors(t *testing.T) {
	q := queue.NewMemory(4)
	statuses := &stubStatuses{attempts: map[string]int{}, done: map[string]bool{}}
	transient := domain.ChannelOutcome{Kind: domain.OutcomeError, ErrorKind: domain.ErrorKindTransientFetch}
	processor := &stubProcessor{outcomes: []domain.ChannelOutcome{transient, transient}}
	w := newTestWorker(q, statuses, processor, "42")

	if err := q.Enqueue(context.Background(), domain.SweepJob{ID: "job-1", ChannelID: "42"}); err != nil {
		t.Fatalf("не удалось поставить задачу: %v", err)
	}
	runUntilDone(t, w, statuses)

	if processor.calls != 3 || statuses.attempts["job-1"] != 3 || !statuses.done["job-1"] {
		t.Fatalf("ожидали 3 попытки и завершение, получили вызовов %d, попыток %d", processor.calls, statuses.attempts["job-1"])
	}
}

func TestWorkerGivesUpAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemory(4)
	statuses := &stubStatuses{attempts: map[string]int{}, done: map[string]bool{}}
	var outcomes []domain.ChannelOutcome
	for i := 0; i < maxJobAttempts+2; i++ {
		outcomes = append(outcomes, domain.ChannelOutcome{Kind: domain.OutcomeError, ErrorKind: domain.ErrorKindStorage})
	}
	processor := &stubProcessor{outcomes: outcomes}
	w := newTestWorker(q, statuses, processor, "42")

	_ = q.Enqueue(context.Background(), domain.SweepJob{ID: "job-2", ChannelID: "42"})
	runUntilDone(t, w, statuses)

	if processor.calls != maxJobAttempts {
		t.Fatalf("ожидали %d попыток, получили %d", maxJobAttempts, processor.calls)
	}
}

func TestWorkerSkipsUnconfiguredChannelAndAuthErrors(t *testing.T) {
	q := queue.NewMemory(4)
	statuses := &stubStatuses{attempts: map[string]int{}, done: map[string]bool{}}
	processor := &stubProcessor{outcomes: []domain.ChannelOutcome{{Kind: domain.OutcomeError, ErrorKind: domain.ErrorKindAuth}}}
	w := newTestWorker(q, statuses, processor, "42")

	_ = q.Enqueue(context.Background(), domain.SweepJob{ID: "job-3", ChannelID: "999"})
	runUntilDone(t, w, statuses)
	if processor.calls != 0 {
		t.Fatalf("неизвестный канал не должен обрабатываться")
	}

	_ = q.Enqueue(context.Background(), domain.SweepJob{ID: "job-4", ChannelID: "42"})
	runUntilDone(t, w, statuses)
	if processor.calls != 1 || statuses.attempts["job-4"] != 1 {
		t.Fatalf("ошибка авторизации не повторяется, получили вызовов %d", processor.calls)
	}
}
