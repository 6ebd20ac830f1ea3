package domain

import "time"

// Author описывает автора сообщения Discord.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Attachment описывает вложение сообщения.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Message представляет сообщение канала после валидации на границе клиента.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Author      Author       `json:"author"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ChannelMeta содержит отображаемое имя канала и сервера.
type ChannelMeta struct {
	Name      string
	GroupID   string
	GroupName string
}

// Empty сообщает, что метаданные не удалось получить.
func (m ChannelMeta) Empty() bool {
	return m.Name == "" && m.GroupID == "" && m.GroupName == ""
}

// ChannelCursor хранит водяной знак канала.
type ChannelCursor struct {
	ChannelID        string
	LastReadPosition string
	ChannelName      string
	GroupName        string
	GroupID          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DisplayName возвращает имя канала или его идентификатор.
func (c ChannelCursor) DisplayName() string {
	if c.ChannelName != "" {
		return c.ChannelName
	}
	return c.ChannelID
}

// SummaryKind различает периодические и итоговые сводки.
type SummaryKind string

const (
	// SummaryPeriodic — ежечасная сводка канала.
	SummaryPeriodic SummaryKind = "periodic"
	// SummaryRollup — секция канала в ежедневной рассылке.
	SummaryRollup SummaryKind = "rollup"
)

// SummaryRecord — завершённая суммаризация. После создания не меняется.
type SummaryRecord struct {
	ID           int64
	ChannelID    string
	CreatedAt    time.Time
	Kind         SummaryKind
	MessageCount int
	Text         string
	RawPayload   []byte
}

// RollupDeliveryRecord отмечает доставку ежедневной сводки группы за календарный день.
type RollupDeliveryRecord struct {
	GroupName    string
	CalendarDate string
	Delivered    bool
	DeliveredAt  *time.Time
}

// SummaryFailure описывает причину, по которой вместо сводки вернулся текст-заглушка.
type SummaryFailure string

const (
	SummaryFailureNone    SummaryFailure = ""
	SummaryFailureTimeout SummaryFailure = "timeout"
	SummaryFailureError   SummaryFailure = "error"
)

// Summary — результат вызова бэкенда суммаризации.
type Summary struct {
	Text    string
	Failure SummaryFailure
}

// Failed сообщает, что Text содержит заглушку, а не сводку.
func (s Summary) Failed() bool {
	return s.Failure != SummaryFailureNone
}

// RollupChannel — секция канала в ежедневной сводке.
type RollupChannel struct {
	ChannelID   string
	ChannelName string
	Summaries   []SummaryRecord
}

// MessageCount суммирует количество сообщений по всем сводкам канала.
func (c RollupChannel) MessageCount() int {
	total := 0
	for _, s := range c.Summaries {
		total += s.MessageCount
	}
	return total
}

// RollupGroup — группа каналов (обычно сервер).
type RollupGroup struct {
	Name     string
	Channels []RollupChannel
}

// Rollup — собранная ежедневная сводка, готовая к отправке.
type Rollup struct {
	CalendarDate string
	GeneratedAt  time.Time
	Groups       []RollupGroup
}
