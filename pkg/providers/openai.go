// DotChat - chat assistant front-end for OpenAI-compatible models
// License: MIT
//
// Copyright (c) 2026 DotChat contributors

package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/store"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIAPIBase = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultHTTPTimeout   = 120 * time.Second

	codeContextLengthExceeded = "context_length_exceeded"
)

// OpenAIProvider completes dialogs against an OpenAI-compatible chat
// completions endpoint.
type OpenAIProvider struct {
	apiBase     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float32
	httpClient  *http.Client
}

type OpenAIOptions struct {
	APIBase     string
	APIKey      string
	Proxy       string
	Model       string
	MaxTokens   int
	Temperature float64
}

func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultOpenAIAPIBase
	}
	if _, err := url.ParseRequestURI(apiBase); err != nil {
		return nil, fmt.Errorf("parse openai api base: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	client := &http.Client{Timeout: defaultHTTPTimeout}
	if proxy := strings.TrimSpace(opts.Proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse openai proxy: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &OpenAIProvider{
		apiBase:     apiBase,
		apiKey:      strings.TrimSpace(opts.APIKey),
		model:       model,
		maxTokens:   opts.MaxTokens,
		temperature: float32(opts.Temperature),
		httpClient:  client,
	}, nil
}

func (p *OpenAIProvider) Model() string { return p.model }

// Complete sends the dialog to the model. When the request overflows the
// context window the oldest turn is dropped and the call repeated.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	key := p.resolveKey(req.APIKey)
	if key == "" {
		return Completion{}, completionError("no API key configured. Set one with /set_api_key", nil)
	}
	client := p.client(key)

	history := req.History
	for {
		resp, err := client.CreateChatCompletion(ctx, p.buildRequest(req, history))
		if err == nil {
			if len(resp.Choices) == 0 {
				return Completion{}, completionError("empty response from model", nil)
			}
			dropped := len(req.History) - len(history)
			if dropped > 0 {
				logger.DebugCF("provider", "Dropped leading turns to fit context", map[string]any{
					"dropped": dropped,
					"model":   p.model,
				})
			}
			return Completion{
				Answer:          strings.TrimSpace(resp.Choices[0].Message.Content),
				TokensUsed:      resp.Usage.TotalTokens,
				MessagesDropped: dropped,
			}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return Completion{}, completionError(ctxErr.Error(), ctxErr)
		}
		if !isContextOverflow(err) {
			return Completion{}, completionError(augmentProviderError(describeError(err)), err)
		}
		if len(history) == 0 {
			return Completion{}, completionError("dialog history is empty but the message still exceeds the model context length", err)
		}
		history = history[1:]
	}
}

func (p *OpenAIProvider) resolveKey(userKey string) string {
	if k := strings.TrimSpace(userKey); k != "" {
		return k
	}
	return p.apiKey
}

func (p *OpenAIProvider) client(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = p.apiBase
	cfg.HTTPClient = p.httpClient
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest, history []store.Turn) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)*2+2)
	if prompt := strings.TrimSpace(req.Mode.Prompt); prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	}
	for _, turn := range history {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.User},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Bot},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	out := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
		TopP:        1,
	}
	if p.maxTokens > 0 {
		out.MaxTokens = p.maxTokens
	}
	return out
}

func isContextOverflow(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if code, ok := apiErr.Code.(string); ok && code == codeContextLengthExceeded {
		return true
	}
	return apiErr.HTTPStatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "maximum context length")
}

func describeError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return fmt.Sprintf("API request failed with status %d", apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("API request failed with status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err.Error()
}
