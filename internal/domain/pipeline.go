package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultDedupWindow — минимальный интервал между двумя периодическими сводками канала.
	DefaultDedupWindow = time.Hour
	// DefaultRollupWindow — допуск вокруг времени отправки ежедневной сводки.
	DefaultRollupWindow = time.Hour
	// RollupLookback — глубина выборки сводок для ежедневной рассылки.
	RollupLookback = 24 * time.Hour
	// UngroupedLabel используется для каналов без сервера.
	UngroupedLabel = "ungrouped"
)

// RollupConfig описывает окно ежедневной отправки.
type RollupConfig struct {
	Location *time.Location
	SendHour int
	SendMin  int
	Window   time.Duration
}

// PipelineConfig — явная конфигурация одного запуска конвейера.
// Загружается внешним слоем один раз на вызов.
type PipelineConfig struct {
	Token          string
	BackendURL     string
	Channels       []string
	PromptTemplate string
	MaxWords       int
	DedupWindow    time.Duration
	Concurrency    int
	StoreFailures  bool
	Rollup         RollupConfig
}

// Validate проверяет, что обработка каналов имеет смысл.
func (c PipelineConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Token) == "" {
		missing = append(missing, "discord token")
	}
	if strings.TrimSpace(c.BackendURL) == "" {
		missing = append(missing, "summarizer url")
	}
	if len(c.Channels) == 0 {
		missing = append(missing, "channel ids")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Configured повторяет проверку Validate без ошибки.
func (c PipelineConfig) Configured() bool {
	return c.Validate() == nil
}

// Window возвращает окно дедупликации с учётом значения по умолчанию.
func (c PipelineConfig) Window() time.Duration {
	if c.DedupWindow <= 0 {
		return DefaultDedupWindow
	}
	return c.DedupWindow
}

// SendWindow возвращает допуск окна отправки.
func (c RollupConfig) SendWindow() time.Duration {
	if c.Window <= 0 {
		return DefaultRollupWindow
	}
	return c.Window
}

// Zone возвращает часовой пояс отправки, по умолчанию UTC.
func (c RollupConfig) Zone() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
