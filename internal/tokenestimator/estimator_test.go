package tokenestimator

import (
	"context"
	"testing"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/relaymodel"
)

func noEncoding(string) (*tiktoken.Tiktoken, bool) { return nil, false }

func TestEstimateContent_EmptyPrompt(t *testing.T) {
	e := New(nil)
	e.encodingForModel = noEncoding

	est, err := e.EstimateContent(context.Background(), relaymodel.Content{}, "gpt-4-turbo", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, est.InputTokens)
	assert.Equal(t, 0, est.EstimatedOutputTokens)
}

func TestEstimateString_HeuristicFallback(t *testing.T) {
	e := New(nil)
	e.encodingForModel = noEncoding

	got := e.estimateString("Hello world", "unknown-model")
	assert.Equal(t, 3, got) // ceil(11/4) = 3, matching §8 scenario 6
}

func TestEstimateContent_ChatMessage(t *testing.T) {
	e := New(nil)
	e.encodingForModel = noEncoding

	content := relaymodel.Content{
		Messages: []relaymodel.ChatMessage{{Role: "user", Content: "Hello"}},
	}

	est, err := e.EstimateContent(context.Background(), content, "unknown-model", nil)
	require.NoError(t, err)
	// §8 scenario 6: base 4 + ceil(len("Hello")/4)=2 => 6
	assert.Equal(t, 6, est.InputTokens)
}

func TestEstimateContent_NameAndToolCall(t *testing.T) {
	e := New(nil)
	e.encodingForModel = noEncoding

	content := relaymodel.Content{
		Messages: []relaymodel.ChatMessage{{
			Role:    "assistant",
			Name:    "bot",
			Content: "ok",
			ToolCall: &relaymodel.ToolCall{
				Name:      "lookup",
				Arguments: `{"q":"x"}`,
			},
		}},
	}

	est, err := e.EstimateContent(context.Background(), content, "gpt-4-turbo", nil)
	require.NoError(t, err)
	assert.Greater(t, est.InputTokens, 4+4) // base + tool-call base at minimum
}

func TestEstimateContent_OutputCappedByMaxTokens(t *testing.T) {
	e := New(nil)
	e.encodingForModel = noEncoding
	cap := 2
	content := relaymodel.Content{Prompt: "this is a somewhat longer prompt string"}

	est, err := e.EstimateContent(context.Background(), content, "gpt-4-turbo", &cap)
	require.NoError(t, err)
	assert.Equal(t, cap, est.EstimatedOutputTokens)
}

func TestEstimateContent_InvalidMixedShape(t *testing.T) {
	e := New(nil)
	content := relaymodel.Content{
		Messages: []relaymodel.ChatMessage{{Role: "user", Content: "hi"}},
		Prompt:   "also a prompt",
	}

	est, err := e.EstimateContent(context.Background(), content, "gpt-4-turbo", nil)
	require.NoError(t, err)
	assert.Equal(t, fallbackEstimate, est)
}

func TestFallback_LogsAndReturnsDocumentedConstants(t *testing.T) {
	e := New(nil)
	got := e.Fallback("unrecognized content type", "binary")
	assert.Equal(t, Estimate{InputTokens: 100, EstimatedOutputTokens: 150}, got)
}
