package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransientFetch — сеть, 5xx или исчерпанные повторы после 429.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrAuth — платформа отвергла токен.
	ErrAuth = errors.New("discord auth error")
	// ErrFetch — прочие ошибки запроса к платформе.
	ErrFetch = errors.New("fetch error")
	// ErrSummarization — бэкенд суммаризации вернул заглушку вместо сводки.
	ErrSummarization = errors.New("summarization failed")
	// ErrConfiguration — нет токена, каналов или адреса бэкенда.
	ErrConfiguration = errors.New("configuration error")
	// ErrStorage — ошибка хранилища курсоров.
	ErrStorage = errors.New("storage error")
	// ErrDuplicateSummary возвращается хранилищем, если в окне уже есть сводка.
	ErrDuplicateSummary = errors.New("summary already exists in dedup window")
	// ErrNotFound возвращается, когда запись отсутствует.
	ErrNotFound = errors.New("not found")
)

// OutcomeKind — итог одного цикла канала.
type OutcomeKind string

const (
	OutcomeSuccess       OutcomeKind = "success"
	OutcomeSkippedDedup  OutcomeKind = "skipped-dedup"
	OutcomeSkippedEmpty  OutcomeKind = "skipped-empty"
	OutcomeSkippedLocked OutcomeKind = "skipped-locked"
	OutcomeError         OutcomeKind = "error"
)

// ErrorKind уточняет OutcomeError.
type ErrorKind string

const (
	ErrorKindTransientFetch ErrorKind = "transient_fetch"
	ErrorKindAuth           ErrorKind = "auth"
	ErrorKindFetch          ErrorKind = "fetch"
	ErrorKindSummarization  ErrorKind = "summarization"
	ErrorKindStorage        ErrorKind = "storage"
	ErrorKindConfiguration  ErrorKind = "configuration"
)

// ClassifyError сопоставляет ошибку с видом из таксономии.
func ClassifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrAuth):
		return ErrorKindAuth
	case errors.Is(err, ErrTransientFetch):
		return ErrorKindTransientFetch
	case errors.Is(err, ErrFetch):
		return ErrorKindFetch
	case errors.Is(err, ErrSummarization):
		return ErrorKindSummarization
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// отменённый или просроченный запуск повторится в следующем цикле
		return ErrorKindTransientFetch
	default:
		return ErrorKindStorage
	}
}

// ChannelOutcome — результат обработки канала, который видит внешний интерфейс.
type ChannelOutcome struct {
	ChannelID    string      `json:"channel_id"`
	Kind         OutcomeKind `json:"status"`
	ErrorKind    ErrorKind   `json:"error_kind,omitempty"`
	Error        string      `json:"error,omitempty"`
	MessageCount int         `json:"message_count,omitempty"`
	SummaryID    int64       `json:"summary_id,omitempty"`
	Position     string      `json:"position,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
}

// String возвращает вид итога в форме `error: <kind>` для ошибок.
func (o ChannelOutcome) String() string {
	if o.Kind == OutcomeError {
		return string(o.Kind) + ": " + string(o.ErrorKind)
	}
	return string(o.Kind)
}

// RollupStatus — решение агрегатора.
type RollupStatus string

const (
	RollupOutsideWindow    RollupStatus = "outside-window"
	RollupAlreadyDelivered RollupStatus = "already-delivered"
	RollupNoActivity       RollupStatus = "no-activity"
	RollupDispatchFailed   RollupStatus = "dispatch-failed"
	RollupDelivered        RollupStatus = "delivered"
	RollupReady            RollupStatus = "ready"
)

// RollupDecision описывает результат проверки окна отправки.
type RollupDecision struct {
	Status       RollupStatus
	InWindow     bool
	CalendarDate string
	LocalNow     time.Time
	SendAt       time.Time
}

// Dispatch сообщает, стоит ли собирать и отправлять сводку.
func (d RollupDecision) Dispatch() bool {
	return d.InWindow && d.Status == RollupReady
}

// RollupResult — итог запуска агрегатора.
type RollupResult struct {
	Decision RollupDecision
	Rollup   Rollup
	Error    error
}
