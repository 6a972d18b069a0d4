// Package specialistadapter implements provideradapter.Adapter with a
// hand-rolled REST client for an in-house specialist model upstream —
// the spec's "third upstream" with no ecosystem SDK. Grounded on the
// teacher's BaseProvider (internal/services/llm/providers/provider.go)
// combined with tokenhub's StatusError-based REST adapter pattern.
package specialistadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/relaycore/relaycore/internal/provideradapter"
)

// StatusError carries the upstream HTTP status and body, as tokenhub's
// providers.StatusError does, so classification can switch on it.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("specialist: upstream status %d: %s", e.StatusCode, e.Body)
}

// Adapter calls a private in-house chat-completion endpoint.
type Adapter struct {
	id           string
	apiKey       string
	baseURL      string
	client       *http.Client
	capabilities map[string]bool

	mu          sync.Mutex
	healthy     bool
	lastErr     string
	lastLatency time.Duration
}

type Config struct {
	ProviderID   string
	APIKey       string
	BaseURL      string
	Capabilities map[string]bool
	Timeout      time.Duration
}

func New(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	caps := cfg.Capabilities
	if caps == nil {
		caps = map[string]bool{"text-generation": true}
	}
	return &Adapter{
		id:           cfg.ProviderID,
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		client:       &http.Client{Timeout: timeout},
		capabilities: caps,
		healthy:      true,
	}
}

func (a *Adapter) ProviderID() string { return a.id }

func (a *Adapter) Supports(capability string) bool { return a.capabilities[capability] }

func (a *Adapter) Health(ctx context.Context) provideradapter.Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	return provideradapter.Health{Healthy: a.healthy, LastError: a.lastErr, ObservedLatency: a.lastLatency}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Prompt      string        `json:"prompt,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type chatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Model        string `json:"model"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Call(ctx context.Context, req provideradapter.Request, deadline time.Time) (*provideradapter.Response, error) {
	return provideradapter.CallWithRetry(ctx, deadline, func(ctx context.Context) (*provideradapter.Response, error) {
		return a.call(ctx, req)
	})
}

func (a *Adapter) call(ctx context.Context, req provideradapter.Request) (*provideradapter.Response, error) {
	start := time.Now()

	messages := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = chatMessage{Role: m.Role, Name: m.Name, Content: m.Content}
	}

	payload := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	body, err := a.post(ctx, "/v1/chat/completions", payload)
	latency := time.Since(start)
	if err != nil {
		a.recordFailure(err, latency)
		return nil, classifyError(err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		a.recordFailure(err, latency)
		return nil, &provideradapter.CallError{Class: provideradapter.ErrorNonRetryable, Message: "specialist: malformed response body", Cause: err}
	}

	a.recordSuccess(latency)
	return &provideradapter.Response{
		Content:      parsed.Content,
		FinishReason: parsed.FinishReason,
		ModelUsed:    parsed.Model,
		Latency:      latency,
		Usage: provideradapter.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

func (a *Adapter) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("specialist: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("specialist: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("specialist: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("specialist: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
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
		return &provideradapter.CallError{Class: provideradapter.ErrorTimeout, Message: "specialist: deadline exceeded", Cause: err}
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return &provideradapter.CallError{Class: provideradapter.ErrorQuota, Message: "specialist: rate limited", Cause: err}
		case se.StatusCode == http.StatusForbidden:
			return &provideradapter.CallError{Class: provideradapter.ErrorPolicyViolation, Message: "specialist: policy violation", Cause: err}
		case se.StatusCode >= 500:
			return &provideradapter.CallError{Class: provideradapter.ErrorRetryable, Message: "specialist: upstream error", Cause: err}
		case se.StatusCode >= 400:
			return &provideradapter.CallError{Class: provideradapter.ErrorNonRetryable, Message: "specialist: request rejected", Cause: err}
		}
	}

	return &provideradapter.CallError{Class: provideradapter.ErrorRetryable, Message: "specialist: call failed", Cause: err}
}
