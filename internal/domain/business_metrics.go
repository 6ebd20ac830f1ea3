package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	ChannelID  string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventSummaryCreated фиксирует сохранение периодической сводки.
	BusinessMetricEventSummaryCreated = "summary_created"
	// BusinessMetricEventSummaryFailed фиксирует заглушку от бэкенда суммаризации.
	BusinessMetricEventSummaryFailed = "summary_failed"
	// BusinessMetricEventRollupDelivered фиксирует доставку ежедневной сводки группы.
	BusinessMetricEventRollupDelivered = "rollup_delivered"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
