package providerregistry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gpt4Profile() Profile {
	return Profile{
		ProviderID:       "openai",
		ModelID:          "gpt-4-turbo",
		Capabilities:     map[string]bool{"text-generation": true},
		InputCostPerTok:  decimal.NewFromFloat(0.00001),
		OutputCostPerTok: decimal.NewFromFloat(0.00003),
		Currency:         "USD",
		AdvertisedP50:    500 * time.Millisecond,
		MaxConcurrency:   10,
		Enabled:          true,
		Fallbacks:        []string{"gpt-3.5-turbo"},
	}
}

func TestReload_AtomicSwap(t *testing.T) {
	r := New(nil, 3, time.Minute)
	require.NoError(t, r.Reload([]Profile{gpt4Profile()}, nil))
	assert.Equal(t, 1, r.Version())

	p, err := r.Get("openai", "gpt-4-turbo")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-turbo", p.ModelID)

	require.NoError(t, r.Reload([]Profile{gpt4Profile()}, nil))
	assert.Equal(t, 2, r.Version())
}

func TestReload_RejectsNegativeCost(t *testing.T) {
	r := New(nil, 3, time.Minute)
	bad := gpt4Profile()
	bad.InputCostPerTok = decimal.NewFromFloat(-1)

	err := r.Reload([]Profile{bad}, nil)
	require.Error(t, err)
	assert.Equal(t, 0, r.Version())
}

func TestReload_RejectsEmptyCapabilities(t *testing.T) {
	r := New(nil, 3, time.Minute)
	bad := gpt4Profile()
	bad.Capabilities = nil

	require.Error(t, r.Reload([]Profile{bad}, nil))
}

func TestReload_FailurePreservesPreviousSet(t *testing.T) {
	r := New(nil, 3, time.Minute)
	require.NoError(t, r.Reload([]Profile{gpt4Profile()}, nil))

	bad := gpt4Profile()
	bad.Enabled = true
	err := r.Reload([]Profile{bad}, func(string) bool { return false })
	require.Error(t, err)

	p, err := r.Get("openai", "gpt-4-turbo")
	require.NoError(t, err, "previous good snapshot must still resolve")
	assert.True(t, p.Enabled)
}

func TestGet_UnknownModel(t *testing.T) {
	r := New(nil, 3, time.Minute)
	_, err := r.Get("openai", "nonexistent")
	require.Error(t, err)
}

func TestCandidates_ExcludesUnhealthy(t *testing.T) {
	r := New(nil, 1, time.Hour)
	require.NoError(t, r.Reload([]Profile{gpt4Profile()}, nil))

	assert.Len(t, r.Candidates("text-generation"), 1)

	r.RecordFailure("openai", "gpt-4-turbo", assert.AnError)
	assert.Empty(t, r.Candidates("text-generation"))
	assert.False(t, r.IsHealthy("openai", "gpt-4-turbo"))
}

func TestFallbackChain(t *testing.T) {
	r := New(nil, 3, time.Minute)
	require.NoError(t, r.Reload([]Profile{gpt4Profile()}, nil))

	assert.Equal(t, []string{"gpt-3.5-turbo"}, r.FallbackChain("openai", "gpt-4-turbo"))
}
