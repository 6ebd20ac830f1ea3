package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"discord-digest/internal/adapters/discord"
	"discord-digest/internal/adapters/notify"
	"discord-digest/internal/adapters/repo"
	"discord-digest/internal/adapters/summarizer"
	"discord-digest/internal/domain"
	"discord-digest/internal/infra/cache"
	"discord-digest/internal/infra/config"
	"discord-digest/internal/infra/db"
	applog "discord-digest/internal/infra/log"
	"discord-digest/internal/infra/queue"
	"discord-digest/internal/usecase/rollup"
	"discord-digest/internal/usecase/summary"
)

// Драйверы хранилища и очереди.
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"

	QueueNone     = "none"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"
)

const redisPrefix = "discord-digest:"

// App — собранные зависимости процесса.
type App struct {
	Config     config.AppConfig
	Log        zerolog.Logger
	Store      repo.Store
	Discord    *discord.Client
	Summarizer *summarizer.Service
	Summary    *summary.Service
	// Queue равна nil при QUEUE_DRIVER=none.
	Queue domain.SweepQueue
	// Redis равен nil без REDIS_ADDR.
	Redis *cache.RedisCache

	closers []func()
}

// New открывает хранилище, кеш и очередь и собирает сервис суммаризации.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	var (
		metaCache domain.Cache = cache.NewMemory()
		locker    domain.Locker
		client    *redis.Client
	)
	if cfg.RedisAddr != "" {
		client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = client.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Redis = cache.NewRedis(client, redisPrefix)
		metaCache = a.Redis
		locker = a.Redis
	}

	a.Queue, err = a.openQueue(client)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Discord = discord.NewClient(cfg.Discord.Token, cfg.Discord.BaseURL,
		discord.AsBot(cfg.Discord.Bot),
		discord.WithCache(metaCache),
		discord.WithLogger(applog.Component(logger, "discord")),
	)

	a.Summarizer, err = summarizer.NewFromConfig(cfg, applog.Component(logger, "summarizer"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Summary = summary.NewService(a.Discord, a.Summarizer, store, store, store, locker, applog.Component(logger, "summary"))
	return a, nil
}

// Pipeline строит конфигурацию запуска.
func (a *App) Pipeline() (domain.PipelineConfig, error) {
	return a.Config.Pipeline()
}

// NewRollup собирает агрегатор вместе с транспортами доставки.
func (a *App) NewRollup() (*rollup.Service, error) {
	dispatcher, err := notify.NewFromConfig(a.Config, applog.Component(a.Log, "notify"))
	if err != nil {
		return nil, err
	}
	return rollup.NewService(a.Store, a.Store, a.Store, dispatcher, a.Store, applog.Component(a.Log, "rollup")), nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context) (repo.Store, error) {
	switch strings.ToLower(a.Config.StorageDriver) {
	case StoragePostgres:
		if a.Config.PGDSN == "" {
			return nil, fmt.Errorf("%w: PG_DSN is required for postgres storage", domain.ErrConfiguration)
		}
		pool, err := db.Connect(a.Config.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
		}
		a.closers = append(a.closers, pool.Close)
		store := repo.NewPostgres(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStorage, err)
		}
		return store, nil
	case StorageSQLite, "":
		conn, err := db.OpenSQLite(a.Config.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		store := repo.NewSQLite(conn)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStorage, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", domain.ErrConfiguration, a.Config.StorageDriver)
	}
}

func (a *App) openQueue(client *redis.Client) (domain.SweepQueue, error) {
	switch strings.ToLower(a.Config.Sweep.QueueDriver) {
	case QueueNone, "":
		return nil, nil
	case QueueRedis:
		if client == nil {
			return nil, fmt.Errorf("%w: REDIS_ADDR is required for the redis queue", domain.ErrConfiguration)
		}
		return queue.NewRedisSweepQueue(client, redisPrefix+a.Config.Sweep.Queue), nil
	case QueueRabbitMQ:
		if a.Config.RabbitURL == "" {
			return nil, fmt.Errorf("%w: RABBITMQ_URL is required for the rabbitmq queue", domain.ErrConfiguration)
		}
		q, err := queue.NewRabbitSweepQueue(a.Config.RabbitURL, a.Config.Sweep.Queue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = q.Close() })
		return q, nil
	default:
		return nil, fmt.Errorf("%w: unknown queue driver %q", domain.ErrConfiguration, a.Config.Sweep.QueueDriver)
	}
}
