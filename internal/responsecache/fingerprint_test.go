package responsecache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaycore/relaycore/internal/relaymodel"
)

func chatRequest(model, content string) *relaymodel.Request {
	return &relaymodel.Request{
		Routing: relaymodel.RoutingState{Model: model},
		Content: relaymodel.Content{Messages: []relaymodel.ChatMessage{
			{Role: "user", Content: content},
		}},
	}
}

func TestFingerprint_DeterministicForSameInput(t *testing.T) {
	req := chatRequest("gpt-4-turbo", "hello world")
	a := Fingerprint(req, 0.7, 1000)
	b := Fingerprint(req, 0.7, 1000)
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersOnModel(t *testing.T) {
	req1 := chatRequest("gpt-4-turbo", "hello world")
	req2 := chatRequest("gpt-3.5-turbo", "hello world")
	assert.NotEqual(t, Fingerprint(req1, 0.7, 1000), Fingerprint(req2, 0.7, 1000))
}

func TestFingerprint_DiffersOnMessageContent(t *testing.T) {
	req1 := chatRequest("gpt-4-turbo", "hello world")
	req2 := chatRequest("gpt-4-turbo", "goodbye world")
	assert.NotEqual(t, Fingerprint(req1, 0.7, 1000), Fingerprint(req2, 0.7, 1000))
}

func TestFingerprint_TrimsWhitespace(t *testing.T) {
	req1 := chatRequest("gpt-4-turbo", "hello world")
	req2 := chatRequest("gpt-4-turbo", "  hello world  ")
	assert.Equal(t, Fingerprint(req1, 0.7, 1000), Fingerprint(req2, 0.7, 1000))
}

func TestFingerprint_BucketsSmallTemperatureDifferences(t *testing.T) {
	req := chatRequest("gpt-4-turbo", "hello world")
	assert.Equal(t, Fingerprint(req, 0.71, 1000), Fingerprint(req, 0.72, 1000))
}

func TestFingerprint_DiffersAcrossTemperatureBuckets(t *testing.T) {
	req := chatRequest("gpt-4-turbo", "hello world")
	assert.NotEqual(t, Fingerprint(req, 0.1, 1000), Fingerprint(req, 0.9, 1000))
}

func TestFingerprint_DiffersOnMaxTokensBucket(t *testing.T) {
	req := chatRequest("gpt-4-turbo", "hello world")
	assert.NotEqual(t, Fingerprint(req, 0.7, 100), Fingerprint(req, 0.7, 4000))
}

func TestFingerprint_PromptShapeIncludesSystemPrompt(t *testing.T) {
	req1 := &relaymodel.Request{
		Routing: relaymodel.RoutingState{Model: "gpt-4-turbo"},
		Content: relaymodel.Content{Prompt: "hi", SystemPrompt: "be terse"},
	}
	req2 := &relaymodel.Request{
		Routing: relaymodel.RoutingState{Model: "gpt-4-turbo"},
		Content: relaymodel.Content{Prompt: "hi", SystemPrompt: "be verbose"},
	}
	assert.NotEqual(t, Fingerprint(req1, 0.7, 1000), Fingerprint(req2, 0.7, 1000))
}

func TestBypass_StreamingRequestsBypass(t *testing.T) {
	req := chatRequest("gpt-4-turbo", "hi")
	req.Constraints.Stream = true
	assert.True(t, Bypass(req))
}

func TestBypass_NonCacheableMetadataBypasses(t *testing.T) {
	req := chatRequest("gpt-4-turbo", "hi")
	req.Metadata.NonCacheable = true
	assert.True(t, Bypass(req))
}

func TestBypass_NormalRequestDoesNotBypass(t *testing.T) {
	req := chatRequest("gpt-4-turbo", "hi")
	assert.False(t, Bypass(req))
}
