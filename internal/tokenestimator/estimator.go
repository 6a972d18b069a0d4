// Package tokenestimator implements the Token Estimator (spec §4.1): it
// turns request content into an {inputTokens, estimatedOutputTokens} pair.
//
// The precise path uses tiktoken-go's BPE encoder for recognized OpenAI
// model families; everything else — unknown model families, and the
// documented fallback behavior itself — uses the spec's char/4 heuristic.
package tokenestimator

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/relaycore/relaycore/internal/relaymodel"
)

// encodingCacheSize bounds the number of distinct model->encoding
// mappings kept warm; tiktoken's BPE rank tables are expensive enough to
// build that re-resolving them per call would dominate estimation cost
// under load.
const encodingCacheSize = 64

// Estimate is the {inputTokens, estimatedOutputTokens} pair from §4.1.
type Estimate struct {
	InputTokens          int
	EstimatedOutputTokens int
}

// fallbackEstimate is the documented constant pair callers may return
// instead of raising on unrecognized content (§4.1, §9 Open Questions).
var fallbackEstimate = Estimate{InputTokens: 100, EstimatedOutputTokens: 150}

// defaultOutputMultiplier is the 1.5x default from §4.1.
const defaultOutputMultiplier = 1.5

// Estimator counts tokens for a request, preferring tiktoken's exact BPE
// count and falling back to the spec's ⌈chars/4⌉ heuristic.
type Estimator struct {
	log *zap.Logger

	// encodingForModel resolves a model id to a tiktoken encoding name;
	// overridable in tests.
	encodingForModel func(model string) (*tiktoken.Tiktoken, bool)
}

// New builds an Estimator that logs fallback/error conditions to log.
func New(log *zap.Logger) *Estimator {
	if log == nil {
		log = zap.NewNop()
	}
	cache, _ := lru.New[string, *tiktoken.Tiktoken](encodingCacheSize)
	return &Estimator{
		log:              log,
		encodingForModel: cachedEncodingLookup(cache),
	}
}

// cachedEncodingLookup memoizes lookupEncoding per model id in an LRU
// cache, since a given Estimator sees the same handful of model ids
// repeatedly across requests.
func cachedEncodingLookup(cache *lru.Cache[string, *tiktoken.Tiktoken]) func(string) (*tiktoken.Tiktoken, bool) {
	return func(model string) (*tiktoken.Tiktoken, bool) {
		if cache != nil {
			if enc, ok := cache.Get(model); ok {
				return enc, enc != nil
			}
		}
		enc, ok := lookupEncoding(model)
		if cache != nil {
			if ok {
				cache.Add(model, enc)
			} else {
				cache.Add(model, nil)
			}
		}
		return enc, ok
	}
}

// lookupEncoding resolves a tiktoken encoding only for models tiktoken-go
// itself recognizes. Anything it doesn't recognize falls through to the
// spec's char/4 heuristic (§4.1: "always used for unrecognized content
// types") rather than silently encoding with cl100k_base.
func lookupEncoding(model string) (*tiktoken.Tiktoken, bool) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil || enc == nil {
		return nil, false
	}
	return enc, true
}

// EstimateContent computes the estimate for a request's content against a
// target model (used to pick the tiktoken encoding) and an optional
// max_tokens cap on the predicted output (§4.1: "capped by any declared
// max_tokens").
func (e *Estimator) EstimateContent(ctx context.Context, content relaymodel.Content, model string, maxTokens *int) (Estimate, error) {
	if !content.Valid() {
		e.log.Warn("token estimator received invalid content shape", zap.String("model", model))
		return fallbackEstimate, nil
	}

	var inputTokens int
	switch {
	case content.IsChat():
		inputTokens = e.estimateChat(content.Messages, model)
	case content.Prompt != "" || content.SystemPrompt != "":
		inputTokens = e.estimateString(content.SystemPrompt, model) + e.estimateString(content.Prompt, model)
	default:
		inputTokens = 0
	}

	out := int(math.Ceil(float64(inputTokens) * defaultOutputMultiplier))
	if maxTokens != nil && *maxTokens >= 0 && out > *maxTokens {
		out = *maxTokens
	}

	return Estimate{InputTokens: inputTokens, EstimatedOutputTokens: out}, nil
}

// estimateString applies §4.1's null/empty → 0 and ⌈chars/4⌉ rules, using
// tiktoken's exact count when an encoding is available for model.
func (e *Estimator) estimateString(s string, model string) int {
	if s == "" {
		return 0
	}
	if enc, ok := e.encodingForModel(model); ok {
		return len(enc.Encode(s, nil, nil))
	}
	return int(math.Ceil(float64(len(s)) / 4))
}

// estimateChat sums §4.1's per-message formula: 4 base tokens plus content
// tokens plus, if a name is present, 1 token for presence + tokens of the
// name, plus, if a tool call is present, 4 base + tokens of its name +
// tokens of its arguments.
func (e *Estimator) estimateChat(messages []relaymodel.ChatMessage, model string) int {
	total := 0
	for _, m := range messages {
		total += 4
		total += e.estimateString(m.Content, model)
		if m.Name != "" {
			total += 1 + e.estimateString(m.Name, model)
		}
		if m.ToolCall != nil {
			total += 4
			total += e.estimateString(m.ToolCall.Name, model)
			total += e.estimateString(m.ToolCall.Arguments, model)
		}
	}
	return total
}

// EstimateString is the standalone "a string yields ⌈chars/4⌉" rule from
// §4.1, exposed for callers that only have raw text (e.g. fingerprinting).
func (e *Estimator) EstimateString(s string) int {
	return e.estimateString(s, "")
}

// Fallback returns the documented {100, 150} pair and logs the failure
// that triggered it, per §4.1 and §9 Open Questions item 2: "the source
// may silently swallow token-estimator errors ... this spec keeps the
// fallback but also requires logging the failure."
func (e *Estimator) Fallback(reason string, contentType string) Estimate {
	e.log.Warn("token estimator falling back to documented constants",
		zap.String("reason", reason),
		zap.String("content_type", contentType))
	return fallbackEstimate
}

// ValidateContentType returns InvalidContent-shaped info for logging when
// content doesn't resolve to chat or prompt shape; callers choose whether
// to raise InvalidContent or call Fallback depending on context (§4.1).
func ValidateContentType(content relaymodel.Content) error {
	if !content.Valid() {
		return fmt.Errorf("invalid content: mixed chat and prompt shapes")
	}
	if !content.IsChat() && strings.TrimSpace(content.Prompt) == "" && strings.TrimSpace(content.SystemPrompt) == "" {
		return nil // empty content is valid and yields 0 tokens
	}
	return nil
}
