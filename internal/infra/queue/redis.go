package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
)

// RedisSweepQueue реализует очередь задач на базе Redis lists.
type RedisSweepQueue struct {
	client *redis.Client
	key    string
}

var _ domain.SweepQueue = (*RedisSweepQueue)(nil)

// NewRedisSweepQueue создаёт очередь по указанному ключу.
func NewRedisSweepQueue(client *redis.Client, key string) *RedisSweepQueue {
	return &RedisSweepQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisSweepQueue) Enqueue(ctx context.Context, job domain.SweepJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. ack(false) возвращает задачу в хвост очереди.
func (q *RedisSweepQueue) Receive(ctx context.Context) (domain.SweepJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.SweepJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.SweepJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.SweepJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.SweepJob{}, nil, errors.New("redis queue: unexpected response")
		}
		raw := []byte(res[1])
		var job domain.SweepJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return domain.SweepJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, raw).Err()
		}
		return job, ack, nil
	}
}
