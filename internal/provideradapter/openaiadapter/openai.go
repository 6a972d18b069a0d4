// Package openaiadapter implements provideradapter.Adapter on top of the
// official openai-go SDK, grounded on jmylchreest-refyne's
// pkg/llm.OpenAIProvider.
package openaiadapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/relaycore/relaycore/internal/provideradapter"
)

// Adapter calls the OpenAI chat completions API.
type Adapter struct {
	client       openai.Client
	capabilities map[string]bool

	mu        sync.Mutex
	healthy   bool
	lastErr   string
	lastLatency time.Duration
}

// Config configures a new Adapter.
type Config struct {
	APIKey       string
	BaseURL      string
	Capabilities map[string]bool
}

func New(cfg Config) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	caps := cfg.Capabilities
	if caps == nil {
		caps = map[string]bool{"text-generation": true, "code-generation": true}
	}

	return &Adapter{
		client:       openai.NewClient(opts...),
		capabilities: caps,
		healthy:      true,
	}
}

func (a *Adapter) ProviderID() string { return "openai" }

func (a *Adapter) Supports(capability string) bool { return a.capabilities[capability] }

func (a *Adapter) Health(ctx context.Context) provideradapter.Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	return provideradapter.Health{Healthy: a.healthy, LastError: a.lastErr, ObservedLatency: a.lastLatency}
}

func (a *Adapter) Call(ctx context.Context, req provideradapter.Request, deadline time.Time) (*provideradapter.Response, error) {
	return provideradapter.CallWithRetry(ctx, deadline, func(ctx context.Context) (*provideradapter.Response, error) {
		return a.call(ctx, req)
	})
}

func (a *Adapter) call(ctx context.Context, req provideradapter.Request) (*provideradapter.Response, error) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	if len(messages) == 0 && req.Prompt != "" {
		messages = append(messages, openai.UserMessage(req.Prompt))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(float64(req.Temperature)),
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		a.recordFailure(err, latency)
		return nil, classifyError(err)
	}
	a.recordSuccess(latency)

	if len(resp.Choices) == 0 {
		return nil, &provideradapter.CallError{Class: provideradapter.ErrorNonRetryable, Message: "openai: no choices in response"}
	}

	choice := resp.Choices[0]
	return &provideradapter.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		ModelUsed:    resp.Model,
		Latency:      latency,
		Usage: provideradapter.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (a *Adapter) recordSuccess(latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = true
	a.lastErr = ""
	a.lastLatency = latency
}

func (a *Adapter) recordFailure(err error, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = false
	a.lastErr = err.Error()
	a.lastLatency = latency
}

// classifyError maps an openai-go error into the §4.8 error taxonomy,
// matching on the SDK's error string the way tokenhub's adapter
// classifies by inspecting the upstream status/body (its StatusError),
// since the SDK error's HTTP status is not exposed as a stable typed
// field across versions.
func classifyError(err error) *provideradapter.CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &provideradapter.CallError{Class: provideradapter.ErrorTimeout, Message: "openai: deadline exceeded", Cause: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return &provideradapter.CallError{Class: provideradapter.ErrorQuota, Message: "openai: rate limited", Cause: err}
	case strings.Contains(msg, "400") || strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "404"):
		return &provideradapter.CallError{Class: provideradapter.ErrorNonRetryable, Message: "openai: request rejected", Cause: err}
	case strings.Contains(msg, "content_policy") || strings.Contains(msg, "451"):
		return &provideradapter.CallError{Class: provideradapter.ErrorPolicyViolation, Message: "openai: content policy violation", Cause: err}
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return &provideradapter.CallError{Class: provideradapter.ErrorRetryable, Message: "openai: upstream error", Cause: err}
	default:
		return &provideradapter.CallError{Class: provideradapter.ErrorRetryable, Message: "openai: call failed", Cause: err}
	}
}
