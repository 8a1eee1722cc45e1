// Package generator produces chat responses by calling an external
// OpenAI-compatible completion service.
package generator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/c360/sessioncore/config"
	"github.com/c360/sessioncore/logging"
)

// HTTPGenerator calls an external OpenAI-compatible chat completion
// service.
//
// This implementation works with:
//   - OpenAI (cloud)
//   - LocalAI / vLLM / Ollama (self-hosted, OpenAI-compatible API)
//   - Any gateway exposing the chat completions endpoint
//
// Uses the standard OpenAI SDK for consistency and compatibility.
type HTTPGenerator struct {
	client *openai.Client
	model  string
	logger *logging.Logger
}

// NewHTTPGenerator creates a chat completion client from config.
func NewHTTPGenerator(cfg config.GeneratorConfig, logger *logging.Logger) (*HTTPGenerator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key" // Local services don't need real key
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{
		Timeout: timeout,
	}

	if logger == nil {
		logger = logging.New("HTTPGenerator", "", nil, nil)
	}

	return &HTTPGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Generate produces a response for a query. Context fields are passed
// to the model as a system prompt so the upstream can condition on
// conversation metadata without the core interpreting it.
func (g *HTTPGenerator) Generate(ctx context.Context, query string, reqContext map[string]string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system := systemPrompt(reqContext); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: query,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("completion API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}

	g.logger.Debug("completion generated",
		"model", g.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return resp.Choices[0].Message.Content, nil
}

// Model returns the model identifier.
func (g *HTTPGenerator) Model() string {
	return g.model
}

// Close releases resources (no-op for HTTP client).
func (g *HTTPGenerator) Close() error {
	return nil
}

// systemPrompt renders request context fields into a compact system
// message. Empty context produces no system message at all.
func systemPrompt(reqContext map[string]string) string {
	if len(reqContext) == 0 {
		return ""
	}
	keys := make([]string, 0, len(reqContext))
	for k := range reqContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	prompt := "Session context:"
	for _, k := range keys {
		prompt += fmt.Sprintf("\n%s: %s", k, reqContext[k])
	}
	return prompt
}
