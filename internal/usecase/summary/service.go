package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
)

// PageSize — количество сводок на странице истории канала.
const PageSize = 20

// channelLockTTL ограничивает жизнь распределённой блокировки, если процесс упал.
const channelLockTTL = 10 * time.Minute

// Service выполняет инкрементальную суммаризацию каналов.
type Service struct {
	fetcher    domain.MessageFetcher
	summarizer domain.Summarizer
	cursors    domain.CursorRepo
	summaries  domain.SummaryRepo
	analytics  domain.BusinessMetricRepo
	locker     domain.Locker
	log        zerolog.Logger
}

// NewService создаёт сервис. analytics может быть nil; без locker используется блокировка в памяти.
func NewService(fetcher domain.MessageFetcher, summarizer domain.Summarizer, cursors domain.CursorRepo, summaries domain.SummaryRepo, analytics domain.BusinessMetricRepo, locker domain.Locker, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &Service{
		fetcher:    fetcher,
		summarizer: summarizer,
		cursors:    cursors,
		summaries:  summaries,
		analytics:  analytics,
		locker:     locker,
		log:        logger,
	}
}

// Sweep обрабатывает все настроенные каналы. Ошибка конфигурации прерывает обход до первого канала,
// ошибки отдельных каналов попадают в их итоги.
func (s *Service) Sweep(ctx context.Context, cfg domain.PipelineConfig, now time.Time) ([]domain.ChannelOutcome, error) {
	if err := cfg.Validate(); err != nil {
		s.log.Error().Err(err).Msg("summary: обход отменён, конфигурация неполная")
		return nil, err
	}
	start := time.Now()
	defer func() { metrics.SweepSeconds.Observe(time.Since(start).Seconds()) }()

	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	outcomes := make([]domain.ChannelOutcome, len(cfg.Channels))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, channelID := range cfg.Channels {
		i, channelID := i, channelID
		g.Go(func() error {
			outcomes[i] = s.ProcessChannel(ctx, cfg, channelID, now)
			return nil
		})
	}
	_ = g.Wait()

	counts := map[domain.OutcomeKind]int{}
	for _, o := range outcomes {
		counts[o.Kind]++
	}
	s.log.Info().
		Int("channels", len(outcomes)).
		Int("success", counts[domain.OutcomeSuccess]).
		Int("errors", counts[domain.OutcomeError]).
		Dur("elapsed", time.Since(start)).
		Msg("summary: обход завершён")
	return outcomes, nil
}

// ProcessChannel выполняет один цикл канала: дедупликация, выборка, суммаризация, фиксация.
func (s *Service) ProcessChannel(ctx context.Context, cfg domain.PipelineConfig, channelID string, now time.Time) domain.ChannelOutcome {
	outcome := s.processChannel(ctx, cfg, channelID, now)
	outcome.ChannelID = channelID
	outcome.StartedAt = now

	metrics.IncChannelOutcome(string(outcome.Kind), string(outcome.ErrorKind))
	event := s.log.Info()
	if outcome.Kind == domain.OutcomeError {
		event = s.log.Error().Str("error_kind", string(outcome.ErrorKind)).Str("error", outcome.Error)
	}
	event.Str("channel", channelID).
		Str("status", string(outcome.Kind)).
		Int("messages", outcome.MessageCount).
		Msg("summary: канал обработан")
	return outcome
}

func (s *Service) processChannel(ctx context.Context, cfg domain.PipelineConfig, channelID string, now time.Time) domain.ChannelOutcome {
	release, ok, err := s.locker.TryLock(ctx, "channel:"+channelID, channelLockTTL)
	if err != nil {
		return failed(fmt.Errorf("%w: lock: %v", domain.ErrStorage, err))
	}
	if !ok {
		return domain.ChannelOutcome{Kind: domain.OutcomeSkippedLocked}
	}
	defer release()

	window := cfg.Window()
	latest, err := s.summaries.LatestSummary(ctx, channelID, domain.SummaryPeriodic)
	hasLatest := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return failed(fmt.Errorf("%w: latest summary: %v", domain.ErrStorage, err))
	}
	if hasLatest && latest.CreatedAt.After(now.Add(-window)) {
		return domain.ChannelOutcome{Kind: domain.OutcomeSkippedDedup}
	}

	meta := s.fetcher.FetchChannelMetadata(ctx, channelID)
	cursor, err := s.cursors.EnsureCursor(ctx, channelID, meta)
	if err != nil {
		return failed(fmt.Errorf("%w: ensure cursor: %v", domain.ErrStorage, err))
	}

	after := cursor.LastReadPosition
	if hasLatest {
		after = domain.LaterPosition(after, domain.FormatPosition(latest.CreatedAt))
	}

	messages, err := s.fetcher.FetchMessages(ctx, channelID, after)
	if err != nil {
		return failed(err)
	}
	content := FormatConversation(messages)
	if len(messages) == 0 || content == "" {
		return domain.ChannelOutcome{Kind: domain.OutcomeSkippedEmpty, MessageCount: len(messages)}
	}

	result := s.summarizer.Summarize(ctx, domain.SummaryRequest{
		Content:        content,
		PromptTemplate: cfg.PromptTemplate,
		MaxWords:       cfg.MaxWords,
	})
	if result.Failed() {
		s.record(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventSummaryFailed,
			ChannelID:  channelID,
			Metadata:   map[string]any{"failure": string(result.Failure), "messages": len(messages)},
			OccurredAt: now,
		})
		if !cfg.StoreFailures {
			outcome := failed(fmt.Errorf("%w: %s", domain.ErrSummarization, result.Text))
			outcome.MessageCount = len(messages)
			return outcome
		}
	}

	position := domain.FormatPosition(latestTimestamp(messages))
	record, err := s.summaries.CommitCycle(ctx, domain.CycleCommit{
		Record: domain.SummaryRecord{
			ChannelID:    channelID,
			CreatedAt:    now,
			Kind:         domain.SummaryPeriodic,
			MessageCount: len(messages),
			Text:         result.Text,
			RawPayload:   rawPayload(messages),
		},
		Position:    position,
		DedupWindow: window,
	})
	if errors.Is(err, domain.ErrDuplicateSummary) {
		return domain.ChannelOutcome{Kind: domain.OutcomeSkippedDedup}
	}
	if err != nil {
		return failed(fmt.Errorf("%w: commit: %v", domain.ErrStorage, err))
	}

	s.record(ctx, domain.BusinessMetric{
		Event:      domain.BusinessMetricEventSummaryCreated,
		ChannelID:  channelID,
		Metadata:   map[string]any{"summary_id": record.ID, "messages": record.MessageCount},
		OccurredAt: now,
	})
	return domain.ChannelOutcome{
		Kind:         domain.OutcomeSuccess,
		MessageCount: record.MessageCount,
		SummaryID:    record.ID,
		Position:     position,
	}
}

func (s *Service) record(ctx context.Context, metric domain.BusinessMetric) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Warn().Err(err).Str("event", metric.Event).Msg("summary: не удалось сохранить бизнес-метрику")
	}
}

func failed(err error) domain.ChannelOutcome {
	return domain.ChannelOutcome{
		Kind:      domain.OutcomeError,
		ErrorKind: domain.ClassifyError(err),
		Error:     err.Error(),
	}
}

// Status — состояние конвейера для внешнего интерфейса.
type Status struct {
	Configured     bool `json:"configured"`
	ChannelsCount  int  `json:"channels_count"`
	TotalSummaries int  `json:"total_summaries"`
}

// Status возвращает сводку о настройке и количестве сохранённых сводок.
func (s *Service) Status(ctx context.Context, cfg domain.PipelineConfig) (Status, error) {
	total, err := s.summaries.CountSummaries(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("%w: count summaries: %v", domain.ErrStorage, err)
	}
	return Status{
		Configured:     cfg.Configured(),
		ChannelsCount:  len(cfg.Channels),
		TotalSummaries: total,
	}, nil
}

// Page — страница истории сводок канала.
type Page struct {
	Channel   domain.ChannelCursor
	Summaries []domain.SummaryRecord
	Page      int
	HasNext   bool
}

// ChannelSummaries возвращает страницу сводок канала, новые первыми. Страницы нумеруются с 1.
// Для неизвестного канала возвращается domain.ErrNotFound.
func (s *Service) ChannelSummaries(ctx context.Context, channelID string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	cursor, err := s.cursors.GetCursor(ctx, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return Page{}, err
	}
	if err != nil {
		return Page{}, fmt.Errorf("%w: get cursor: %v", domain.ErrStorage, err)
	}
	records, err := s.summaries.ListRecentSummaries(ctx, channelID, PageSize+1, (page-1)*PageSize)
	if err != nil {
		return Page{}, fmt.Errorf("%w: list summaries: %v", domain.ErrStorage, err)
	}
	hasNext := len(records) > PageSize
	if hasNext {
		records = records[:PageSize]
	}
	return Page{Channel: cursor, Summaries: records, Page: page, HasNext: hasNext}, nil
}
