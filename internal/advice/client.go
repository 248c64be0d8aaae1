// Package advice calls the YandexGPT completion API to turn a mood
// entry into a short psychological advice text.
package advice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mood-bot/internal/metrics"
)

const (
	defaultBaseURL = "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"

	systemPrompt = "Ты - профессиональный психолог. Отвечай по-русски. Будь вежлив и структурно отвечай."
)

// ErrProvider signals a non-success response or connectivity failure.
// Callers present a fixed fallback text and must not retry.
var ErrProvider = errors.New("advice provider error")

// Config holds YandexGPT client configuration.
type Config struct {
	BaseURL  string
	APIKey   string
	FolderID string
	Model    string
	Timeout  time.Duration
}

// Client provides typed access to the YandexGPT completion endpoint.
type Client struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	http     *http.Client
	baseURL  string
	apiKey   string
	folderID string
	model    string
}

// New creates a new YandexGPT client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "yandexgpt-lite"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		logger:   logger.With("component", "advice"),
		metrics:  m,
		http:     &http.Client{Timeout: timeout},
		baseURL:  base,
		apiKey:   cfg.APIKey,
		folderID: cfg.FolderID,
		model:    model,
	}
}

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens"`
}

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
		} `json:"alternatives"`
	} `json:"result"`
}

// GenerateAdvice produces an advice text for the given mood entry
// fields. Any failure is reported as ErrProvider.
func (c *Client) GenerateAdvice(ctx context.Context, moodScore int, triggerText, thoughtText string) (string, error) {
	userPrompt := fmt.Sprintf(
		"Информация о состоянии пользователя: Оценка настроения: %d/10. Что произошло: %s. Мысль по этому поводу: %s. Пожалуйста, дай краткий психологический совет, исходя из этой информации.",
		moodScore, triggerText, thoughtText,
	)

	reqBody := completionRequest{
		ModelURI: fmt.Sprintf("gpt://%s/%s", c.folderID, c.model),
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: 0.7,
			MaxTokens:   "300",
		},
		Messages: []message{
			{Role: "system", Text: systemPrompt},
			{Role: "user", Text: userPrompt},
		},
	}

	started := time.Now()
	text, err := c.complete(ctx, reqBody)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.AdviceRequests.WithLabelValues(status).Inc()
	c.metrics.AdviceLatency.WithLabelValues(status).Observe(time.Since(started).Seconds())
	return text, err
}

func (c *Client) complete(ctx context.Context, reqBody completionRequest) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("x-folder-id", c.folderID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("completion request failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("completion returned non-200", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Error("completion response unparseable", "error", err)
		return "", fmt.Errorf("%w: decode: %v", ErrProvider, err)
	}
	if len(parsed.Result.Alternatives) == 0 {
		c.logger.Error("completion returned no alternatives")
		return "", fmt.Errorf("%w: empty alternatives", ErrProvider)
	}

	return parsed.Result.Alternatives[0].Message.Text, nil
}
