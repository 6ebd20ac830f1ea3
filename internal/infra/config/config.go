package config

import (
	"fmt"
	"log"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"discord-digest/internal/domain"
	"discord-digest/internal/usecase/schedule"
)

// Провайдеры суммаризации.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderSimple = "simple"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	APIToken    string `envconfig:"API_TOKEN"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"sqlite"`
	PGDSN         string `envconfig:"PG_DSN"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"./data/discord_summaries.db"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Discord struct {
		Token    string   `envconfig:"DISCORD_TOKEN"`
		Bot      bool     `envconfig:"DISCORD_BOT" default:"false"`
		BaseURL  string   `envconfig:"DISCORD_BASE_URL" default:"https://discord.com/api/v10"`
		Channels []string `envconfig:"CHANNEL_IDS"`
	} `envconfig:""`

	Summarizer struct {
		Provider       string        `envconfig:"SUMMARIZER_PROVIDER" default:"ollama"`
		OllamaURL      string        `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
		OllamaModel    string        `envconfig:"OLLAMA_MODEL" default:"llama3.2"`
		OpenAIKey      string        `envconfig:"OPENAI_API_KEY"`
		OpenAIBaseURL  string        `envconfig:"OPENAI_BASE_URL"`
		OpenAIModel    string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout        time.Duration `envconfig:"SUMMARY_TIMEOUT" default:"120s"`
		MaxWords       int           `envconfig:"SUMMARY_MAX_WORDS" default:"500"`
		PromptTemplate string        `envconfig:"SUMMARY_PROMPT_TEMPLATE"`
		StoreFailures  bool          `envconfig:"STORE_FAILED_SUMMARIES" default:"false"`
	} `envconfig:""`

	Sweep struct {
		Concurrency int    `envconfig:"SWEEP_CONCURRENCY" default:"1"`
		Cron        string `envconfig:"SWEEP_CRON" default:"0 * * * *"`
		QueueDriver string `envconfig:"QUEUE_DRIVER" default:"none"`
		Queue       string `envconfig:"SWEEP_QUEUE" default:"sweep_jobs"`
	} `envconfig:""`

	Rollup struct {
		Cron     string        `envconfig:"ROLLUP_CRON" default:"5 * * * *"`
		Timezone string        `envconfig:"ROLLUP_TIMEZONE" default:"US/Eastern"`
		SendTime string        `envconfig:"ROLLUP_SEND_TIME" default:"08:00"`
		Window   time.Duration `envconfig:"ROLLUP_WINDOW" default:"1h"`
	} `envconfig:""`

	Delivery struct {
		TelegramToken     string `envconfig:"TELEGRAM_BOT_TOKEN"`
		TelegramChatID    int64  `envconfig:"TELEGRAM_CHAT_ID"`
		TelegramSecret    string `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
		DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения (и .env, если он есть).
func Load() AppConfig {
	cfg, err := LoadE()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// LoadE загружает конфиг и возвращает ошибку вместо завершения процесса.
func LoadE() (AppConfig, error) {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	cfg.Discord.Channels = normalizeChannels(cfg.Discord.Channels)
	return cfg, nil
}

// BackendURL возвращает адрес выбранного бэкенда суммаризации.
func (c AppConfig) BackendURL() string {
	switch strings.ToLower(c.Summarizer.Provider) {
	case ProviderOpenAI:
		if c.Summarizer.OpenAIKey == "" {
			return ""
		}
		if c.Summarizer.OpenAIBaseURL == "" {
			return "https://api.openai.com/v1"
		}
		return c.Summarizer.OpenAIBaseURL
	case ProviderSimple:
		return "local"
	default:
		return c.Summarizer.OllamaURL
	}
}

// Pipeline строит явную конфигурацию конвейера на один запуск.
func (c AppConfig) Pipeline() (domain.PipelineConfig, error) {
	tz, err := schedule.NormalizeTimezone(c.Rollup.Timezone)
	if err != nil {
		return domain.PipelineConfig{}, fmt.Errorf("%w: timezone %q", domain.ErrConfiguration, c.Rollup.Timezone)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return domain.PipelineConfig{}, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	hour, minute, err := schedule.ParseClock(c.Rollup.SendTime)
	if err != nil {
		return domain.PipelineConfig{}, fmt.Errorf("%w: send time: %v", domain.ErrConfiguration, err)
	}
	return domain.PipelineConfig{
		Token:          c.Discord.Token,
		BackendURL:     c.BackendURL(),
		Channels:       append([]string(nil), c.Discord.Channels...),
		PromptTemplate: c.Summarizer.PromptTemplate,
		MaxWords:       c.Summarizer.MaxWords,
		DedupWindow:    domain.DefaultDedupWindow,
		Concurrency:    c.Sweep.Concurrency,
		StoreFailures:  c.Summarizer.StoreFailures,
		Rollup: domain.RollupConfig{
			Location: loc,
			SendHour: hour,
			SendMin:  minute,
			Window:   c.Rollup.Window,
		},
	}, nil
}

func normalizeChannels(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
