package costoptimizer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/providerregistry"
	"github.com/relaycore/relaycore/internal/relayerr"
)

func profile(providerID, modelID string, inCost, outCost float64, latency time.Duration, tier string) providerregistry.Profile {
	return providerregistry.Profile{
		ProviderID:       providerID,
		ModelID:          modelID,
		Capabilities:     map[string]bool{"text-generation": true},
		InputCostPerTok:  decimal.NewFromFloat(inCost),
		OutputCostPerTok: decimal.NewFromFloat(outCost),
		Currency:         "USD",
		AdvertisedP50:    latency,
		Enabled:          true,
		QualityTier:      tier,
	}
}

func TestOptimize_EmptyCandidatesFailsNoEligibleModel(t *testing.T) {
	_, err := Optimize(nil, StrategyAggressive, 100, 100, 0)
	require.Error(t, err)
	re, ok := relayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, relayerr.NoEligibleModel, re.Kind)
}

func TestOptimize_AggressivePicksCheapest(t *testing.T) {
	candidates := []Candidate{
		{Profile: profile("openai", "gpt-4-turbo", 0.00003, 0.00006, 400*time.Millisecond, "premium")},
		{Profile: profile("openai", "gpt-3.5-turbo", 0.000001, 0.000002, 300*time.Millisecond, "economy")},
	}
	best, err := Optimize(candidates, StrategyAggressive, 1000, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", best.Profile.ModelID)
}

func TestOptimize_AggressiveTieBreaksByLatency(t *testing.T) {
	candidates := []Candidate{
		{Profile: profile("openai", "model-slow", 0.00001, 0.00001, 900*time.Millisecond, "standard")},
		{Profile: profile("openai", "model-fast", 0.00001, 0.00001, 100*time.Millisecond, "standard")},
	}
	best, err := Optimize(candidates, StrategyAggressive, 1000, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, "model-fast", best.Profile.ModelID)
}

func TestOptimize_BalancedPenalizesHighLatency(t *testing.T) {
	// Cheaper but very slow model should lose to a slightly pricier, much
	// faster one once the latency penalty is applied.
	candidates := []Candidate{
		{Profile: profile("openai", "cheap-slow", 0.00001, 0.00001, 5000*time.Millisecond, "standard")},
		{Profile: profile("openai", "pricier-fast", 0.000011, 0.000011, 50*time.Millisecond, "standard")},
	}
	best, err := Optimize(candidates, StrategyBalanced, 1000, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, "pricier-fast", best.Profile.ModelID)
}

func TestOptimize_QualityFirstRestrictsToTopTier(t *testing.T) {
	candidates := []Candidate{
		{Profile: profile("openai", "gpt-4-turbo", 0.00003, 0.00006, 400*time.Millisecond, "premium")},
		{Profile: profile("openai", "gpt-4-vision", 0.00005, 0.00008, 500*time.Millisecond, "premium")},
		{Profile: profile("openai", "gpt-3.5-turbo", 0.000001, 0.000002, 300*time.Millisecond, "economy")},
	}
	best, err := Optimize(candidates, StrategyQualityFirst, 1000, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-turbo", best.Profile.ModelID, "cheapest within the top (premium) tier")
}

func TestOptimize_QualityFirstExcludesDowngradedCandidates(t *testing.T) {
	candidates := []Candidate{
		{Profile: profile("openai", "gpt-4-turbo", 0.00003, 0.00006, 400*time.Millisecond, "premium"), Downgraded: true},
		{Profile: profile("openai", "gpt-3.5-turbo", 0.000001, 0.000002, 300*time.Millisecond, "economy")},
	}
	best, err := Optimize(candidates, StrategyQualityFirst, 1000, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", best.Profile.ModelID, "the only non-downgraded candidate is economy tier")
}

func TestOptimize_QualityFirstFailsWhenAllDowngraded(t *testing.T) {
	candidates := []Candidate{
		{Profile: profile("openai", "gpt-4-turbo", 0.00003, 0.00006, 400*time.Millisecond, "premium"), Downgraded: true},
	}
	_, err := Optimize(candidates, StrategyQualityFirst, 1000, 1000, 0)
	require.Error(t, err)
	re, ok := relayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, relayerr.NoEligibleModel, re.Kind)
}
