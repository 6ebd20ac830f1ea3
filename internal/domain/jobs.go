package domain

import (
	"context"
	"time"
)

// SweepJobCause описывает источник задачи.
type SweepJobCause string

const (
	// SweepCauseManual — запуск вручную через API или CLI.
	SweepCauseManual SweepJobCause = "manual"
	// SweepCauseScheduled — запуск по расписанию.
	SweepCauseScheduled SweepJobCause = "scheduled"
)

// SweepJob — задача на обработку одного канала.
type SweepJob struct {
	ID          string        `json:"job_id,omitempty"`
	ChannelID   string        `json:"channel_id"`
	RequestedAt time.Time     `json:"requested_at"`
	Cause       SweepJobCause `json:"cause"`
}

// SweepQueue описывает очередь задач по каналам.
type SweepQueue interface {
	Enqueue(ctx context.Context, job SweepJob) error
	Receive(ctx context.Context) (SweepJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error

// SweepJobStatusRepo учитывает попытки обработки задач очереди.
type SweepJobStatusRepo interface {
	// EnsureSweepJob регистрирует попытку и возвращает, завершена ли задача ранее.
	EnsureSweepJob(ctx context.Context, jobID string) (done bool, attempts int, err error)
	MarkSweepJobDone(ctx context.Context, jobID string) error
}
