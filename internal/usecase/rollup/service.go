package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
	"discord-digest/internal/usecase/schedule"
)

// Service собирает ежедневную сводку по группам каналов и отправляет её один раз за день.
type Service struct {
	cursors    domain.CursorRepo
	summaries  domain.SummaryRepo
	deliveries domain.RollupRepo
	dispatcher domain.Dispatcher
	analytics  domain.BusinessMetricRepo
	log        zerolog.Logger
}

// NewService создаёт агрегатор. analytics может быть nil.
func NewService(cursors domain.CursorRepo, summaries domain.SummaryRepo, deliveries domain.RollupRepo, dispatcher domain.Dispatcher, analytics domain.BusinessMetricRepo, logger zerolog.Logger) *Service {
	return &Service{
		cursors:    cursors,
		summaries:  summaries,
		deliveries: deliveries,
		dispatcher: dispatcher,
		analytics:  analytics,
		log:        logger,
	}
}

// Evaluate проверяет окно отправки и наличие доставки за календарный день ближайшего слота.
func (s *Service) Evaluate(ctx context.Context, cfg domain.PipelineConfig, now time.Time) (domain.RollupDecision, error) {
	slot := schedule.NearestSlot(now, cfg.Rollup)
	decision := domain.RollupDecision{
		InWindow:     slot.InWindow,
		CalendarDate: slot.CalendarDate(),
		LocalNow:     slot.LocalNow,
		SendAt:       slot.SendAt,
	}
	if !slot.InWindow {
		decision.Status = domain.RollupOutsideWindow
		return decision, nil
	}

	delivered, err := s.deliveries.ListDelivered(ctx, decision.CalendarDate)
	if err != nil {
		return decision, fmt.Errorf("%w: list deliveries: %v", domain.ErrStorage, err)
	}
	for _, rec := range delivered {
		if rec.Delivered {
			decision.Status = domain.RollupAlreadyDelivered
			return decision, nil
		}
	}
	decision.Status = domain.RollupReady
	return decision, nil
}

// Build собирает группы из периодических сводок за последние 24 часа.
// Каналы идут в порядке конфигурации, группы в порядке первого появления.
func (s *Service) Build(ctx context.Context, cfg domain.PipelineConfig, now time.Time, calendarDate string) (domain.Rollup, error) {
	rollup := domain.Rollup{CalendarDate: calendarDate, GeneratedAt: now}
	if len(cfg.Channels) == 0 {
		return rollup, nil
	}

	cursors, err := s.cursors.ListCursors(ctx, cfg.Channels)
	if err != nil {
		return rollup, fmt.Errorf("%w: list cursors: %v", domain.ErrStorage, err)
	}
	byID := make(map[string]domain.ChannelCursor, len(cursors))
	for _, c := range cursors {
		byID[c.ChannelID] = c
	}

	since := now.Add(-domain.RollupLookback)
	index := map[string]int{}
	for _, channelID := range cfg.Channels {
		records, err := s.summaries.ListSummariesSince(ctx, channelID, domain.SummaryPeriodic, since)
		if err != nil {
			return rollup, fmt.Errorf("%w: list summaries: %v", domain.ErrStorage, err)
		}
		records = withinLookback(records, since, now)
		if len(records) == 0 {
			continue
		}

		cursor, ok := byID[channelID]
		if !ok {
			cursor = domain.ChannelCursor{ChannelID: channelID}
		}
		groupName := cursor.GroupName
		if groupName == "" {
			groupName = domain.UngroupedLabel
		}
		pos, ok := index[groupName]
		if !ok {
			pos = len(rollup.Groups)
			index[groupName] = pos
			rollup.Groups = append(rollup.Groups, domain.RollupGroup{Name: groupName})
		}
		rollup.Groups[pos].Channels = append(rollup.Groups[pos].Channels, domain.RollupChannel{
			ChannelID:   channelID,
			ChannelName: cursor.DisplayName(),
			Summaries:   records,
		})
	}
	return rollup, nil
}

// Run выполняет проверку окна, сборку, отправку и отметку доставки.
// Ошибка возвращается только при сбое хранилища; неудачная отправка отражается в статусе.
func (s *Service) Run(ctx context.Context, cfg domain.PipelineConfig, now time.Time) (domain.RollupResult, error) {
	decision, err := s.Evaluate(ctx, cfg, now)
	result := domain.RollupResult{Decision: decision}
	if err != nil {
		return s.finish(result, err)
	}
	if !decision.Dispatch() {
		return s.finish(result, nil)
	}

	rollup, err := s.Build(ctx, cfg, now, decision.CalendarDate)
	if err != nil {
		return s.finish(result, err)
	}
	result.Rollup = rollup
	if len(rollup.Groups) == 0 {
		result.Decision.Status = domain.RollupNoActivity
		return s.finish(result, nil)
	}

	if err := s.dispatcher.Deliver(ctx, rollup); err != nil {
		result.Decision.Status = domain.RollupDispatchFailed
		result.Error = err
		return s.finish(result, nil)
	}

	deliveredAt := now.UTC()
	for _, group := range rollup.Groups {
		if err := s.deliveries.MarkDelivered(ctx, group.Name, rollup.CalendarDate, deliveredAt); err != nil {
			return s.finish(result, fmt.Errorf("%w: mark delivered %s: %v", domain.ErrStorage, group.Name, err))
		}
		for _, ch := range group.Channels {
			_, err := s.summaries.AppendSummary(ctx, domain.SummaryRecord{
				ChannelID:    ch.ChannelID,
				CreatedAt:    now,
				Kind:         domain.SummaryRollup,
				MessageCount: ch.MessageCount(),
				Text:         FormatChannel(ch),
			})
			if err != nil {
				return s.finish(result, fmt.Errorf("%w: append rollup summary: %v", domain.ErrStorage, err))
			}
		}
		s.record(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventRollupDelivered,
			Metadata:   map[string]any{"group": group.Name, "date": rollup.CalendarDate, "channels": len(group.Channels)},
			OccurredAt: now,
		})
	}
	result.Decision.Status = domain.RollupDelivered
	return s.finish(result, nil)
}

func (s *Service) finish(result domain.RollupResult, err error) (domain.RollupResult, error) {
	status := result.Decision.Status
	if err != nil {
		status = "storage-error"
	}
	metrics.IncRollupRun(string(status))

	event := s.log.Info()
	if err != nil || result.Error != nil {
		cause := err
		if cause == nil {
			cause = result.Error
		}
		event = s.log.Error().Err(cause)
	}
	event.Str("status", string(result.Decision.Status)).
		Str("date", result.Decision.CalendarDate).
		Bool("in_window", result.Decision.InWindow).
		Int("groups", len(result.Rollup.Groups)).
		Msg("rollup: запуск завершён")
	return result, err
}

func (s *Service) record(ctx context.Context, metric domain.BusinessMetric) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Warn().Err(err).Str("event", metric.Event).Msg("rollup: не удалось сохранить бизнес-метрику")
	}
}

// withinLookback оставляет сводки из полуинтервала (since, now] по возрастанию времени.
func withinLookback(records []domain.SummaryRecord, since, now time.Time) []domain.SummaryRecord {
	out := make([]domain.SummaryRecord, 0, len(records))
	for _, rec := range records {
		if rec.CreatedAt.After(since) && !rec.CreatedAt.After(now) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

