package domain

import (
	"context"
	"time"
)

// MessageFetcher выгружает новые сообщения и метаданные каналов.
type MessageFetcher interface {
	// FetchMessages возвращает сообщения после позиции after, от старых к новым.
	FetchMessages(ctx context.Context, channelID, after string) ([]Message, error)
	// FetchChannelMetadata никогда не возвращает ошибку: при сбое результат пустой.
	FetchChannelMetadata(ctx context.Context, channelID string) ChannelMeta
}

// SummaryRequest — переписка и параметры запроса одного запуска.
// Пустой шаблон и нулевой бюджет означают значения суммаризатора по умолчанию.
type SummaryRequest struct {
	Content        string
	PromptTemplate string
	MaxWords       int
}

// Summarizer строит текстовую сводку переписки.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) Summary
}

// CursorRepo хранит водяные знаки каналов.
type CursorRepo interface {
	GetCursor(ctx context.Context, channelID string) (ChannelCursor, error)
	// EnsureCursor лениво создаёт курсор и обновляет непустые метаданные.
	EnsureCursor(ctx context.Context, channelID string, meta ChannelMeta) (ChannelCursor, error)
	ListCursors(ctx context.Context, channelIDs []string) ([]ChannelCursor, error)
}

// CycleCommit — атомарная запись результата цикла.
type CycleCommit struct {
	Record      SummaryRecord
	Position    string
	DedupWindow time.Duration
}

// SummaryRepo управляет сводками.
type SummaryRepo interface {
	// CommitCycle сохраняет сводку и продвигает курсор в одной транзакции.
	// Возвращает ErrDuplicateSummary, если в окне уже есть периодическая сводка.
	CommitCycle(ctx context.Context, commit CycleCommit) (SummaryRecord, error)
	LatestSummary(ctx context.Context, channelID string, kind SummaryKind) (SummaryRecord, error)
	ListSummariesSince(ctx context.Context, channelID string, kind SummaryKind, since time.Time) ([]SummaryRecord, error)
	ListRecentSummaries(ctx context.Context, channelID string, limit, offset int) ([]SummaryRecord, error)
	AppendSummary(ctx context.Context, record SummaryRecord) (SummaryRecord, error)
	CountSummaries(ctx context.Context) (int, error)
}

// RollupRepo хранит отметки о доставке ежедневных сводок.
type RollupRepo interface {
	ListDelivered(ctx context.Context, calendarDate string) ([]RollupDeliveryRecord, error)
	// MarkDelivered не перезаписывает уже доставленную запись.
	MarkDelivered(ctx context.Context, groupName, calendarDate string, deliveredAt time.Time) error
}

// Dispatcher доставляет ежедневную сводку. nil означает успешную доставку.
type Dispatcher interface {
	Deliver(ctx context.Context, rollup Rollup) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// Locker обеспечивает взаимное исключение по ключу канала.
type Locker interface {
	// TryLock возвращает false без ошибки, если ключ занят.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
