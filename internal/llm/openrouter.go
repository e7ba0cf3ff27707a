// Package llm provides the OpenRouter chat-completions client behind
// the "ask a question" commands.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pressbox/pressbox/internal/config"
	"github.com/pressbox/pressbox/internal/events"
	"github.com/pressbox/pressbox/internal/httpkit"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Message is a chat message in the OpenAI-compatible format OpenRouter
// accepts.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenRouter is a client for the OpenRouter chat-completions API.
type OpenRouter struct {
	baseURL    string
	apiKey     string
	model      string
	bus        *events.Bus
	httpClient *http.Client
}

// NewOpenRouter creates an OpenRouter client from configuration.
// bus may be nil.
func NewOpenRouter(cfg config.OpenRouterConfig, bus *events.Bus) *OpenRouter {
	return &OpenRouter{
		baseURL: openRouterBaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		bus:     bus,
		// Completions on slower models can take a while.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(2 * time.Minute)),
	}
}

// Model returns the configured model identifier.
func (c *OpenRouter) Model() string { return c.model }

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Chat sends a chat-completion request and returns the assistant's
// reply content.
func (c *OpenRouter) Chat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt := httpkit.ReadErrorBody(resp.Body, 512)
		return "", fmt.Errorf("openrouter: HTTP %d: %s", resp.StatusCode, excerpt)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("openrouter: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("openrouter: response has no choices")
	}

	c.bus.Publish(events.SourceLLM, events.KindAsk, map[string]any{
		"model":         c.model,
		"total_tokens":  cr.Usage.TotalTokens,
		"duration_ms":   time.Since(start).Milliseconds(),
		"finish_reason": cr.Choices[0].FinishReason,
	})

	return cr.Choices[0].Message.Content, nil
}

// Ask sends a single user question and returns the answer.
func (c *OpenRouter) Ask(ctx context.Context, question string) (string, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: question}})
}
