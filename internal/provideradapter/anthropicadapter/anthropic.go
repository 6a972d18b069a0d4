// Package anthropicadapter implements provideradapter.Adapter on top of
// the official anthropic-sdk-go SDK, grounded on jmylchreest-refyne's
// pkg/llm.AnthropicProvider.
package anthropicadapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaycore/relaycore/internal/provideradapter"
)

// Adapter calls the Anthropic Messages API.
type Adapter struct {
	client       anthropic.Client
	capabilities map[string]bool

	mu          sync.Mutex
	healthy     bool
	lastErr     string
	lastLatency time.Duration
}

type Config struct {
	APIKey       string
	MaxRetries   int
	Capabilities map[string]bool
}

func New(cfg Config) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	caps := cfg.Capabilities
	if caps == nil {
		caps = map[string]bool{"text-generation": true, "reasoning": true}
	}

	return &Adapter{
		client:       anthropic.NewClient(opts...),
		capabilities: caps,
		healthy:      true,
	}
}

func (a *Adapter) ProviderID() string { return "anthropic" }

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

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	var systemPrompt string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systemPrompt = m.Content
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(messages) == 0 && req.Prompt != "" {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		a.recordFailure(err, latency)
		return nil, classifyError(err)
	}
	a.recordSuccess(latency)

	var content string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			content = tb.Text
			break
		}
	}

	return &provideradapter.Response{
		Content:      content,
		FinishReason: string(resp.StopReason),
		ModelUsed:    string(resp.Model),
		Latency:      latency,
		Usage: provideradapter.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
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

func classifyError(err error) *provideradapter.CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &provideradapter.CallError{Class: provideradapter.ErrorTimeout, Message: "anthropic: deadline exceeded", Cause: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit"):
		return &provideradapter.CallError{Class: provideradapter.ErrorQuota, Message: "anthropic: rate limited", Cause: err}
	case strings.Contains(msg, "400") || strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "404"):
		return &provideradapter.CallError{Class: provideradapter.ErrorNonRetryable, Message: "anthropic: request rejected", Cause: err}
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "529"):
		return &provideradapter.CallError{Class: provideradapter.ErrorRetryable, Message: "anthropic: upstream error", Cause: err}
	default:
		return &provideradapter.CallError{Class: provideradapter.ErrorRetryable, Message: "anthropic: call failed", Cause: err}
	}
}
