// Package providerregistry implements the Provider Registry (spec §3
// Provider Profile, §4 table): it enumerates providers/models with their
// capabilities, per-token prices, and health, and hands the Request
// Pipeline filtered candidate sets.
//
// Profiles are held behind an atomic pointer and swapped as a whole map,
// exactly the way the Steering Engine swaps compiled rule sets (§4.3,
// §5) — in-flight evaluations keep using their captured snapshot.
package providerregistry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/relaycore/relaycore/internal/relayerr"
	"github.com/relaycore/relaycore/pkg/circuitbreaker"
)

// HealthOutcome is the "last health check outcome" field from §3.
type HealthOutcome struct {
	Healthy        bool
	LastError      string
	ObservedLatency time.Duration
	CheckedAt      time.Time
}

// Profile is the Provider Profile record from §3.
type Profile struct {
	ProviderID       string
	ModelID          string
	Capabilities     map[string]bool
	InputCostPerTok  decimal.Decimal
	OutputCostPerTok decimal.Decimal
	Currency         string
	AdvertisedP50    time.Duration
	MaxConcurrency   int
	Enabled          bool
	Fallbacks        []string // ordered successor model ids
	LastHealth       HealthOutcome

	// QualityTier classifies the model for the Cost Optimizer's
	// quality-first strategy (§4.7: "from the top-quality tier
	// (capability-matched and non-downgraded), minimize cost"). Not one
	// of §3's enumerated Provider Profile attributes, but required to
	// give that strategy something to rank on; defaults to "standard"
	// when unset.
	QualityTier string
}

// Key uniquely identifies a profile within a registry snapshot.
func (p Profile) Key() string { return p.ProviderID + "/" + p.ModelID }

// HasCapability reports whether the profile advertises a capability.
func (p Profile) HasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	return p.Capabilities[capability]
}

// validate enforces §3's Provider Profile invariants: cost fields
// non-negative; capability set non-empty; if enabled, at least one
// adapter resolves it (checked by the caller via adapterResolves).
func (p Profile) validate(adapterResolves func(providerID string) bool) error {
	if p.InputCostPerTok.IsNegative() || p.OutputCostPerTok.IsNegative() {
		return fmt.Errorf("profile %s: cost fields must be non-negative", p.Key())
	}
	if len(p.Capabilities) == 0 {
		return fmt.Errorf("profile %s: capability set must be non-empty", p.Key())
	}
	if p.Enabled && adapterResolves != nil && !adapterResolves(p.ProviderID) {
		return fmt.Errorf("profile %s: enabled but no adapter resolves provider %q", p.Key(), p.ProviderID)
	}
	return nil
}

type snapshot struct {
	profiles  map[string]Profile
	version   int
	updatedAt time.Time
}

// Registry holds the current immutable snapshot of provider profiles plus
// a circuit-breaker manager for live health tracking (health flips are not
// part of the atomic swap — they mutate per-key breaker state directly,
// matching §3's "last health check outcome" being observed live rather
// than only refreshed on reload).
type Registry struct {
	current atomic.Pointer[snapshot]
	health  *circuitbreaker.Manager
	log     *zap.Logger
}

// New creates an empty registry. Reload must be called before use.
func New(log *zap.Logger, healthThreshold int, healthCooldown time.Duration) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		health: circuitbreaker.NewManager(healthThreshold, healthCooldown),
		log:    log,
	}
	r.current.Store(&snapshot{profiles: map[string]Profile{}, version: 0, updatedAt: time.Now()})
	return r
}

// Reload validates every profile and, only on full success, atomically
// swaps in the new set (§4.4 invariants, §4.3/§5 "validation must fully
// succeed before the swap", "a load failure must not replace the
// previously good set").
func (r *Registry) Reload(profiles []Profile, adapterResolves func(providerID string) bool) error {
	next := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if err := p.validate(adapterResolves); err != nil {
			return relayerr.Wrap(relayerr.Internal, "provider registry reload rejected", err)
		}
		next[p.Key()] = p
	}

	prev := r.current.Load()
	version := 1
	if prev != nil {
		version = prev.version + 1
	}
	r.current.Store(&snapshot{profiles: next, version: version, updatedAt: time.Now()})
	r.log.Info("provider registry reloaded", zap.Int("version", version), zap.Int("profiles", len(next)))
	return nil
}

// Get resolves a single (provider, model) profile, failing with
// UnknownModel if no enabled profile matches (§4.2).
func (r *Registry) Get(providerID, modelID string) (Profile, error) {
	snap := r.current.Load()
	p, ok := snap.profiles[providerID+"/"+modelID]
	if !ok || !p.Enabled {
		return Profile{}, relayerr.New(relayerr.UnknownModel, fmt.Sprintf("no enabled profile for %s/%s", providerID, modelID))
	}
	return p, nil
}

// Candidates returns every enabled, healthy profile supporting capability,
// the candidate set the Cost Optimizer chooses from (§4.7, GLOSSARY).
func (r *Registry) Candidates(capability string) []Profile {
	snap := r.current.Load()
	out := make([]Profile, 0, len(snap.profiles))
	for _, p := range snap.profiles {
		if !p.Enabled {
			continue
		}
		if !p.HasCapability(capability) {
			continue
		}
		if r.health.IsOpen(p.Key()) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FallbackChain returns the ordered successor model ids for a profile,
// resolved against the same provider (§3 Provider Profile "fallback
// list").
func (r *Registry) FallbackChain(providerID, modelID string) []string {
	p, err := r.Get(providerID, modelID)
	if err != nil {
		return nil
	}
	return p.Fallbacks
}

// RecordSuccess / RecordFailure feed the Provider Adapter's call outcome
// back into per-model health tracking (§3 "last health check outcome",
// §4.9 step 8 fallback-on-unhealthy).
func (r *Registry) RecordSuccess(providerID, modelID string) {
	r.health.RecordSuccess(providerID + "/" + modelID)
}

func (r *Registry) RecordFailure(providerID, modelID string, cause error) {
	r.health.RecordFailure(providerID+"/"+modelID, cause)
}

// IsHealthy reports whether a profile's circuit is currently closed.
func (r *Registry) IsHealthy(providerID, modelID string) bool {
	return !r.health.IsOpen(providerID + "/" + modelID)
}

// Version returns the current snapshot's generation counter, useful for
// diagnostics and tests asserting an atomic swap occurred.
func (r *Registry) Version() int {
	return r.current.Load().version
}
