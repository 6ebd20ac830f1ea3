package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"discord-digest/internal/infra/metrics"
)

const defaultBaseURL = "http://localhost:11434"

// Client обращается к HTTP API Ollama.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient создаёт клиента Ollama. Таймаут генерации задаёт контекст вызова.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL возвращает адрес сервера.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GenerateRequest описывает тело /api/generate.
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

// GenerateOptions — параметры сэмплирования.
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// GenerateResponse — ответ без потоковой передачи.
type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Model описывает модель из /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Generate вызывает /api/generate.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("ollama: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	respBody, err := c.do(httpReq)
	metrics.ObserveNetworkRequest("ollama", "generate", req.Model, start, err)
	if err != nil {
		metrics.ObserveLLMGeneration(req.Model, "error", time.Since(start), 0, 0)
		return GenerateResponse{}, err
	}
	var out GenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return GenerateResponse{}, fmt.Errorf("ollama: decode response: %w", err)
	}
	metrics.ObserveLLMGeneration(req.Model, "success", time.Since(start), out.PromptEvalCount, out.EvalCount)
	return out, nil
}

// ListModels возвращает модели, доступные на сервере.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	start := time.Now()
	respBody, err := c.do(httpReq)
	metrics.ObserveNetworkRequest("ollama", "tags", c.baseURL, start, err)
	if err != nil {
		return nil, err
	}
	var out struct {
		Models []Model `json:"models"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("ollama: decode tags: %w", err)
	}
	return out.Models, nil
}

// CheckModel проверяет, что модель загружена на сервер. Возвращает список доступных моделей.
func (c *Client) CheckModel(ctx context.Context, model string) (bool, []string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, nil, err
	}
	names := make([]string, 0, len(models))
	found := false
	for _, m := range models {
		names = append(names, m.Name)
		if MatchModel(model, m.Name) {
			found = true
		}
	}
	return found, names, nil
}

// MatchModel сравнивает имена моделей без тега :latest, допускает совпадение по префиксу.
func MatchModel(configured, available string) bool {
	want := strings.TrimSuffix(strings.TrimSpace(configured), ":latest")
	have := strings.TrimSuffix(strings.TrimSpace(available), ":latest")
	if want == "" {
		return false
	}
	return want == have || strings.HasPrefix(have, want)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("ollama: %s", apiErr.Error)
		}
		return nil, fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
