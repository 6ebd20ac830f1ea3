package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
)

const (
	defaultBaseURL        = "https://discord.com/api/v10"
	defaultRetryAfter     = 5 * time.Second
	serverErrorAttempts   = 3
	initialBackoff        = 500 * time.Millisecond
	maxRateLimitRetries   = 5
	messagesPageLimit     = 100
	metadataCacheTTL      = 6 * time.Hour
	maxResponseBodyBytes  = 8 << 20
	userAgent             = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	unknownAuthorUsername = "unknown"
)

// Sleeper ждёт указанное время или отмену контекста.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client выгружает сообщения и метаданные каналов через REST API Discord.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	bot     bool
	cache   domain.Cache
	sleep   Sleeper
	log     zerolog.Logger
}

var _ domain.MessageFetcher = (*Client)(nil)

// Option настраивает клиента.
type Option func(*Client)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithCache включает кэширование метаданных каналов.
func WithCache(cache domain.Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithSleeper подменяет ожидание между повторами.
func WithSleeper(sleep Sleeper) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// AsBot использует заголовок авторизации бота вместо пользовательского токена.
func AsBot(bot bool) Option {
	return func(c *Client) { c.bot = bot }
}

// NewClient создаёт клиента Discord.
func NewClient(token, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		sleep:   sleepContext,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMessages возвращает сообщения канала после позиции after, отсортированные от старых к новым.
// after — снежинка платформы или ISO-время; пустая строка означает «без нижней границы».
func (c *Client) FetchMessages(ctx context.Context, channelID, after string) ([]domain.Message, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(messagesPageLimit))
	if bound, err := afterBound(after); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	} else if bound != "" {
		query.Set("after", bound)
	}

	body, err := c.get(ctx, "list_messages", "/channels/"+url.PathEscape(channelID)+"/messages", query)
	if err != nil {
		return nil, err
	}

	var raw []*discordgo.Message
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode messages: %v", domain.ErrFetch, err)
	}
	messages := make([]domain.Message, 0, len(raw))
	for _, m := range raw {
		msg, ok := toMessage(channelID, m)
		if !ok {
			c.log.Warn().Str("channel", channelID).Msg("discord: сообщение без идентификатора и времени пропущено")
			continue
		}
		messages = append(messages, msg)
	}
	SortMessages(messages)
	return messages, nil
}

// FetchChannelMetadata возвращает имя канала и сервера. Ошибки не прерывают суммаризацию.
func (c *Client) FetchChannelMetadata(ctx context.Context, channelID string) domain.ChannelMeta {
	cacheKey := "discord:channel_meta:" + channelID
	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
			var cached domain.ChannelMeta
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached
			}
		}
	}

	var meta domain.ChannelMeta
	body, err := c.get(ctx, "get_channel", "/channels/"+url.PathEscape(channelID), nil)
	if err != nil {
		c.log.Warn().Err(err).Str("channel", channelID).Msg("discord: не удалось получить канал")
		return meta
	}
	var channel discordgo.Channel
	if err := json.Unmarshal(body, &channel); err != nil {
		c.log.Warn().Err(err).Str("channel", channelID).Msg("discord: некорректный ответ канала")
		return meta
	}
	meta.Name = channel.Name
	meta.GroupID = channel.GuildID

	if channel.GuildID != "" {
		body, err := c.get(ctx, "get_guild", "/guilds/"+url.PathEscape(channel.GuildID), nil)
		if err != nil {
			c.log.Warn().Err(err).Str("guild", channel.GuildID).Msg("discord: не удалось получить сервер")
		} else {
			var guild discordgo.Guild
			if err := json.Unmarshal(body, &guild); err == nil {
				meta.GroupName = guild.Name
			}
		}
	}

	if c.cache != nil && meta.Name != "" {
		if raw, err := json.Marshal(meta); err == nil {
			if err := c.cache.Set(ctx, cacheKey, raw, metadataCacheTTL); err != nil {
				c.log.Debug().Err(err).Msg("discord: не удалось сохранить метаданные в кэш")
			}
		}
	}
	return meta
}

// CheckAuth проверяет токен запросом текущего пользователя.
func (c *Client) CheckAuth(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "get_me", "/users/@me", nil)
	if err != nil {
		return "", err
	}
	var user discordgo.User
	if err := json.Unmarshal(body, &user); err != nil {
		return "", fmt.Errorf("%w: decode user: %v", domain.ErrFetch, err)
	}
	return user.Username, nil
}

func (c *Client) get(ctx context.Context, operation, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	backoff := initialBackoff
	serverFailures := 0
	rateLimited := 0
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", domain.ErrFetch, err)
		}
		req.Header.Set("Authorization", c.authorization())
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)

		start := time.Now()
		resp, err := c.http.Do(req)
		metrics.ObserveNetworkRequest("discord", operation, "discord_api", start, err)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			serverFailures++
			if serverFailures >= serverErrorAttempts {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrTransientFetch, operation, err)
			}
			metrics.IncFetchRetry("network")
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			rateLimited++
			if rateLimited > maxRateLimitRetries {
				return nil, fmt.Errorf("%w: %s: rate limited %d times", domain.ErrTransientFetch, operation, rateLimited)
			}
			wait := retryAfter(resp.Header)
			c.log.Warn().Str("operation", operation).Dur("retry_after", wait).Msg("discord: лимит запросов, ждём")
			metrics.IncFetchRetry("rate_limit")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		case resp.StatusCode >= 500:
			serverFailures++
			if serverFailures >= serverErrorAttempts {
				return nil, fmt.Errorf("%w: %s: status %d", domain.ErrTransientFetch, operation, resp.StatusCode)
			}
			metrics.IncFetchRetry("server_error")
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s: status %d", domain.ErrAuth, operation, resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: %s: status %d: %s", domain.ErrFetch, operation, resp.StatusCode, apiMessage(body))
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransientFetch, readErr)
		}
		return body, nil
	}
}

func (c *Client) authorization() string {
	if c.bot && !strings.HasPrefix(c.token, "Bot ") {
		return "Bot " + c.token
	}
	return c.token
}

// SortMessages упорядочивает сообщения по времени, при равенстве — по идентификатору.
func SortMessages(messages []domain.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].Timestamp.Before(messages[j].Timestamp)
		}
		return lessID(messages[i].ID, messages[j].ID)
	})
}

func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func toMessage(channelID string, m *discordgo.Message) (domain.Message, bool) {
	if m == nil {
		return domain.Message{}, false
	}
	ts := m.Timestamp
	if ts.IsZero() {
		derived, err := discordgo.SnowflakeTimestamp(m.ID)
		if err != nil || m.ID == "" {
			return domain.Message{}, false
		}
		ts = derived
	}
	msg := domain.Message{
		ID:        m.ID,
		ChannelID: channelID,
		Content:   m.Content,
		Timestamp: ts.UTC(),
		Author:    domain.Author{Username: unknownAuthorUsername},
	}
	if m.Author != nil {
		msg.Author = domain.Author{ID: m.Author.ID, Username: m.Author.Username, Avatar: m.Author.Avatar}
		if msg.Author.Username == "" {
			msg.Author.Username = unknownAuthorUsername
		}
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{URL: a.URL, Filename: a.Filename})
	}
	return msg, true
}

func afterBound(after string) (string, error) {
	after = strings.TrimSpace(after)
	if after == "" || domain.IsSnowflake(after) {
		return after, nil
	}
	ts, err := domain.ParsePosition(after)
	if err != nil {
		return "", fmt.Errorf("after %q: %w", after, err)
	}
	return domain.ToSnowflake(ts), nil
}

func retryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds * float64(time.Second))
}

func apiMessage(body []byte) string {
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	return strings.TrimSpace(string(body))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetryable сообщает, что ошибку стоит повторить в следующем цикле.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrTransientFetch)
}
