// Package llmclient implements external.LLMProvider over HTTP against any
// OpenAI-compatible chat completions endpoint (Groq, Cohere's compatibility
// shim, AI21's compatibility shim, or a local vLLM/Ollama gateway). One
// Client is constructed per registered provider in ProviderRouter.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/external"
)

// Config names the endpoint and credentials for one provider.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.groq.com/openai/v1". The
	// client always POSTs BaseURL+"/chat/completions".
	BaseURL string
	APIKey  string
	// DefaultModel is used when a call's CompletionParams.Model is empty.
	DefaultModel string
}

// Client is a minimal OpenAI-compatible chat completions caller. It does
// not retry or classify errors itself — that is ProviderRouter's job via
// internal/remotecall, driven off the error text this client returns.
type Client struct {
	name       string
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// New builds a Client for the named provider.
func New(name string, cfg Config, log zerolog.Logger) *Client {
	return &Client{
		name: name,
		cfg:  cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.With().Str("component", "llmclient").Str("provider", name).Logger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	TotalTokens int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete implements external.LLMProvider.
func (c *Client) Complete(ctx context.Context, systemPrompt, userMessage string, params external.CompletionParams) (external.Completion, error) {
	model := params.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return external.Completion{}, fmt.Errorf("llmclient %s: marshal request: %w", c.name, err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return external.Completion{}, fmt.Errorf("llmclient %s: build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return external.Completion{}, fmt.Errorf("llmclient %s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return external.Completion{}, fmt.Errorf("llmclient %s: read response: %w", c.name, err)
	}

	var parsed chatResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		// The status code rides along in the error text so
		// remotecall.DefaultClassifier's "429"/"404" substring checks see
		// it without this package needing its own classification logic.
		return external.Completion{}, fmt.Errorf("llmclient %s: http %d: %s", c.name, resp.StatusCode, msg)
	}

	if len(parsed.Choices) == 0 {
		return external.Completion{}, fmt.Errorf("llmclient %s: no choices in response", c.name)
	}

	return external.Completion{
		Text:        parsed.Choices[0].Message.Content,
		TokensUsed:  parsed.Usage.TotalTokens,
		TokensIsEst: parsed.Usage.TotalTokens == 0,
	}, nil
}

// BaseURLFor returns the well-known compatibility endpoint for a provider
// name, or "" if none is known (callers should fall back to an explicit
// configured URL in that case).
func BaseURLFor(providerName string) string {
	switch providerName {
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "cohere":
		return "https://api.cohere.ai/compatibility/v1"
	case "ai21":
		return "https://api.ai21.com/studio/v1"
	default:
		return ""
	}
}

// DefaultModelFor returns a sensible default chat model for a provider
// name, mirroring what the load-balanced reference client used.
func DefaultModelFor(providerName string) string {
	switch providerName {
	case "groq":
		return "llama-3.1-8b-instant"
	case "cohere":
		return "command-r"
	case "ai21":
		return "jamba-1.5-mini"
	default:
		return ""
	}
}
