package responsecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/relaycore/relaycore/internal/relaymodel"
)

// Entry is the cached value keyed by fingerprint.
type Entry struct {
	Response  relaymodel.Response `json:"response"`
	StoredAt  time.Time           `json:"storedAt"`
}

// Config configures a Cache.
type Config struct {
	// DefaultTTL is used when Store is not given a content-specific TTL
	// (§4.6: "TTL is content-dependent (configurable)").
	DefaultTTL time.Duration
	// LeaseWait bounds how long any Build caller, the builder's own caller
	// included, blocks on the single-flight lease. When it elapses, Build
	// returns the timeout error; the caller does not fall back to miss
	// handling.
	LeaseWait time.Duration
}

// Cache is the Response Cache: a redis-backed fingerprint store with an
// in-process single-flight group guarding against a thundering herd on a
// shared key, grounded on the teacher's services/cache.RedisCache (same
// Get/Set-with-TTL shape over go-redis) generalized with singleflight
// leasing per §4.6.
type Cache struct {
	client *redis.Client
	cfg    Config
	flight singleflight.Group
}

func New(client *redis.Client, cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.LeaseWait <= 0 {
		cfg.LeaseWait = 2 * time.Second
	}
	return &Cache{client: client, cfg: cfg}
}

// Lookup returns the cached entry for fingerprint, or (nil, false) on a
// miss. Cache errors never fail the request; they degrade to a miss
// (§4.6: "cache errors never fail the request—they degrade to miss").
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*Entry, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cacheKey(fingerprint)).Bytes()
	if err != nil {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// Store persists resp under fingerprint with ttl (falling back to the
// configured default when ttl <= 0). Errors are swallowed for the same
// reason Lookup swallows them: a cache write is never allowed to fail the
// caller's request.
func (c *Cache) Store(ctx context.Context, fingerprint string, resp relaymodel.Response, ttl time.Duration) {
	if c.client == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	entry := Entry{Response: resp, StoredAt: time.Now().UTC()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(fingerprint), raw, ttl).Err()
}

// Build acquires a single-flight lease for fingerprint and invokes build
// at most once among concurrent callers sharing that key; every caller
// blocks until the builder finishes, LeaseWait elapses, or ctx is done,
// whichever comes first. Callers still waiting when build finishes receive
// the same result; a caller whose wait ends first receives the context's
// error instead, while build keeps running under the first caller's ctx.
func (c *Cache) Build(ctx context.Context, fingerprint string, build func(context.Context) (relaymodel.Response, error)) (relaymodel.Response, error, bool) {
	waitCtx := ctx
	if c.cfg.LeaseWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.LeaseWait)
		defer cancel()
	}

	resultCh := c.flight.DoChan(fingerprint, func() (interface{}, error) {
		return build(ctx)
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return relaymodel.Response{}, res.Err, false
		}
		return res.Val.(relaymodel.Response), nil, res.Shared
	case <-waitCtx.Done():
		return relaymodel.Response{}, waitCtx.Err(), false
	}
}

func cacheKey(fingerprint string) string {
	return fmt.Sprintf("relaycore:response:%s", fingerprint)
}
