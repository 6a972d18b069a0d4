package costmodel

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/providerregistry"
	"github.com/relaycore/relaycore/internal/relayerr"
)

func newRegistry(t *testing.T) *providerregistry.Registry {
	t.Helper()
	r := providerregistry.New(nil, 3, time.Minute)
	require.NoError(t, r.Reload([]providerregistry.Profile{
		{
			ProviderID:       "openai",
			ModelID:          "gpt-4-turbo",
			Capabilities:     map[string]bool{"text-generation": true},
			InputCostPerTok:  decimal.NewFromFloat(0.00001),
			OutputCostPerTok: decimal.NewFromFloat(0.00003),
			Currency:         "USD",
			Enabled:          true,
		},
		{
			ProviderID:       "openai",
			ModelID:          "gpt-3.5-turbo",
			Capabilities:     map[string]bool{"text-generation": true},
			InputCostPerTok:  decimal.NewFromFloat(0.0000015),
			OutputCostPerTok: decimal.NewFromFloat(0.000002),
			Currency:         "USD",
			Enabled:          true,
		},
	}, nil))
	return r
}

func TestCompute_ZeroTokensIsZeroCost(t *testing.T) {
	m := New(newRegistry(t))
	cost, err := m.Compute("openai", "gpt-4-turbo", 0, 0)
	require.NoError(t, err)
	assert.True(t, cost.Amount.IsZero())
}

func TestCompute_KnownModel(t *testing.T) {
	m := New(newRegistry(t))
	cost, err := m.Compute("openai", "gpt-4-turbo", 1000, 500)
	require.NoError(t, err)

	want := decimal.NewFromFloat(0.00001).Mul(decimal.NewFromInt(1000)).
		Add(decimal.NewFromFloat(0.00003).Mul(decimal.NewFromInt(500)))
	assert.True(t, CloseEnough(cost.Amount, want), "got %s want %s", cost.Amount, want)
	assert.Equal(t, "USD", cost.Currency)
}

func TestCompute_UnknownModel(t *testing.T) {
	m := New(newRegistry(t))
	_, err := m.Compute("openai", "does-not-exist", 10, 10)
	require.Error(t, err)

	re, ok := relayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, relayerr.UnknownModel, re.Kind)
}

func TestCompute_CheaperModelCostsLess(t *testing.T) {
	m := New(newRegistry(t))
	turbo, err := m.Compute("openai", "gpt-4-turbo", 1000, 1000)
	require.NoError(t, err)
	cheap, err := m.Compute("openai", "gpt-3.5-turbo", 1000, 1000)
	require.NoError(t, err)

	assert.True(t, cheap.Amount.LessThan(turbo.Amount))
}
