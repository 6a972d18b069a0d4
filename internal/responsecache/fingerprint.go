// Package responsecache implements the Response Cache (spec §4.6):
// fingerprint-keyed lookup/store with TTL and single-flight semantics,
// generalizing the teacher's services/cache.Cache (SHA-256 key over a
// marshaled params map) into a bucketed, version-tagged fingerprint.
package responsecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/relaycore/relaycore/internal/relaymodel"
)

// FingerprintVersion is bumped whenever the fingerprint's inputs change
// shape, so stale cache entries from a prior version never collide with
// entries written by a newer one.
const FingerprintVersion = "v1"

// temperatureBucketWidth and maxTokensBucketWidth define the "constrained
// parameters (temperature buckets, max tokens bucket)" from §3's
// Fingerprint definition: requests that differ only by a small amount in
// either dimension still share a cache entry.
const (
	temperatureBucketWidth = 0.1
	maxTokensBucketWidth   = 256
)

// Fingerprint computes the stable cache key for req, bucketing temperature
// and max tokens and trimming message whitespace; message order is kept,
// see normalizeContent (§3: "a stable
// hash of: normalized messages (trimmed, role-ordered), chosen model id,
// constrained parameters ..., and a version tag").
func Fingerprint(req *relaymodel.Request, temperature float64, maxTokens int) string {
	var b strings.Builder
	b.WriteString(FingerprintVersion)
	b.WriteByte('|')
	b.WriteString(req.Routing.Model)
	b.WriteByte('|')
	fmt.Fprintf(&b, "t%d", bucket(temperature, temperatureBucketWidth))
	b.WriteByte('|')
	fmt.Fprintf(&b, "m%d", bucket(float64(maxTokens), maxTokensBucketWidth))
	b.WriteByte('|')
	b.WriteString(normalizeContent(req.Content))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func bucket(v, width float64) int64 {
	if width <= 0 {
		return int64(v)
	}
	return int64(v / width)
}

// normalizeContent renders content deterministically: messages keep their
// order (role ordering is part of meaning) but each message's role and
// content are trimmed, and tool-call fields are folded in so a tool
// invocation changes the fingerprint.
func normalizeContent(c relaymodel.Content) string {
	if c.IsChat() {
		parts := make([]string, 0, len(c.Messages))
		for _, m := range c.Messages {
			entry := strings.TrimSpace(m.Role) + ":" + strings.TrimSpace(m.Content)
			if m.ToolCall != nil {
				entry += ":" + m.ToolCall.Name + ":" + m.ToolCall.Arguments
			}
			parts = append(parts, entry)
		}
		return strings.Join(parts, "\x1e")
	}
	return "prompt:" + strings.TrimSpace(c.SystemPrompt) + "\x1f" + strings.TrimSpace(c.Prompt)
}

// Bypass reports whether req must skip the cache entirely (§4.6:
// "Streaming requests and requests with non-cacheable markers ... bypass
// the cache").
func Bypass(req *relaymodel.Request) bool {
	return req.Constraints.Stream || req.Metadata.NonCacheable
}
