// Package costmodel implements the Cost Model (spec §4.2): given a
// (provider, model, inputTokens, outputTokens) tuple, it looks up the
// Provider Profile and returns cost in the profile's currency.
//
// All arithmetic uses shopspring/decimal rather than binary floating
// point, per §4.2 and §9's design note: "do not use binary floating
// point for persisted cost or limits."
package costmodel

import (
	"github.com/shopspring/decimal"

	"github.com/relaycore/relaycore/internal/providerregistry"
	"github.com/relaycore/relaycore/internal/relayerr"
)

// costPrecision is the minimum fractional-digit precision costs are kept
// at internally (§4.2: "at least 6 fractional digits of precision").
const costPrecision = 6

// Cost is a computed cost paired with its currency.
type Cost struct {
	Amount   decimal.Decimal
	Currency string
}

// Model computes cost from the Provider Registry's profiles.
type Model struct {
	registry *providerregistry.Registry
}

func New(registry *providerregistry.Registry) *Model {
	return &Model{registry: registry}
}

// Compute returns inTok*inputCost + outTok*outputCost in the profile's
// currency, failing with UnknownModel if no enabled profile matches
// (§4.2). Zero tokens always yields zero cost regardless of model (§8).
func (m *Model) Compute(providerID, modelID string, inTok, outTok int) (Cost, error) {
	if inTok == 0 && outTok == 0 {
		profile, err := m.registry.Get(providerID, modelID)
		currency := "USD"
		if err == nil {
			currency = profile.Currency
		}
		return Cost{Amount: decimal.Zero, Currency: currency}, nil
	}

	profile, err := m.registry.Get(providerID, modelID)
	if err != nil {
		return Cost{}, relayerr.Wrap(relayerr.UnknownModel, "cost model lookup failed", err)
	}

	in := decimal.NewFromInt(int64(inTok)).Mul(profile.InputCostPerTok)
	out := decimal.NewFromInt(int64(outTok)).Mul(profile.OutputCostPerTok)
	total := in.Add(out).Round(costPrecision)

	return Cost{Amount: total, Currency: profile.Currency}, nil
}

// CloseEnough reports whether two costs match within a small epsilon, used
// by tests of §8's "cost matches CostModel(...) within a small epsilon"
// invariant.
func CloseEnough(a, b decimal.Decimal) bool {
	epsilon := decimal.New(1, -costPrecision)
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}
