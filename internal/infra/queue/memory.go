package queue

import (
	"context"
	"errors"
	"fmt"

	"discord-digest/internal/domain"
)

// ErrQueueFull возвращается, когда задачу некуда вернуть.
var ErrQueueFull = errors.New("memory queue is full")

// Memory — очередь внутри процесса для тестов. Задачи не переживают перезапуск.
type Memory struct {
	jobs chan domain.SweepJob
}

var _ domain.SweepQueue = (*Memory)(nil)

// NewMemory создаёт очередь заданной ёмкости.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 64
	}
	return &Memory{jobs: make(chan domain.SweepJob, capacity)}
}

// Enqueue кладёт задачу в очередь или ждёт свободного места.
func (q *Memory) Enqueue(ctx context.Context, job domain.SweepJob) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		return nil
	}
}

// Receive возвращает следующую задачу; ack(false) кладёт её обратно.
// Если очередь заполнена, ack(false) не блокируется и возвращает ErrQueueFull.
func (q *Memory) Receive(ctx context.Context) (domain.SweepJob, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.SweepJob{}, nil, ctx.Err()
	case job := <-q.jobs:
		ack := func(success bool) error {
			if success {
				return nil
			}
			select {
			case q.jobs <- job:
				return nil
			default:
				return fmt.Errorf("%w: requeue %s", ErrQueueFull, job.ID)
			}
		}
		return job, ack, nil
	}
}
