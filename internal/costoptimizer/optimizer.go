// Package costoptimizer implements the Cost Optimizer (spec §4.7): given
// a set of candidate (provider, model) profiles and a predicted token
// count, it picks the optimal candidate under one of three strategies.
// The teacher has no cost-ranking analogue — the closest relative is its
// `internal/services/routing` package's capability-based model selection,
// which this package follows for the candidate-filtering shape while
// replacing the ranking itself with §4.7's cost-based strategies.
package costoptimizer

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/relaycore/relaycore/internal/providerregistry"
	"github.com/relaycore/relaycore/internal/relayerr"
)

// Strategy is one of the three optimization strategies (§4.7).
type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyBalanced     Strategy = "balanced"
	StrategyQualityFirst Strategy = "quality-first"
)

// qualityRank orders tiers for the quality-first strategy; an unset
// QualityTier defaults to "standard".
var qualityRank = map[string]int{
	"economy":  0,
	"standard": 1,
	"premium":  2,
}

func rankOf(tier string) int {
	if tier == "" {
		return qualityRank["standard"]
	}
	if r, ok := qualityRank[tier]; ok {
		return r
	}
	return qualityRank["standard"]
}

// Candidate pairs a Provider Profile with whether it has already been
// substituted in by an earlier auto-downgrade, so quality-first can
// exclude it (§4.7: "top-quality tier (capability-matched and
// non-downgraded)").
type Candidate struct {
	Profile    providerregistry.Profile
	Downgraded bool
}

// latencyReferenceDefault is used when the caller does not supply one;
// it is the denominator of the balanced strategy's latencyPenalty term.
const latencyReferenceDefault = 1000 // milliseconds

// Optimize picks the best candidate for (inTok, outTok) under strategy.
// Fails with NoEligibleModel if candidates is empty after any
// strategy-specific filtering (§4.7).
func Optimize(candidates []Candidate, strategy Strategy, inTok, outTok int, latencyReferenceMillis int64) (*Candidate, error) {
	if len(candidates) == 0 {
		return nil, relayerr.New(relayerr.NoEligibleModel, "no candidates supplied")
	}
	if latencyReferenceMillis <= 0 {
		latencyReferenceMillis = latencyReferenceDefault
	}

	switch strategy {
	case StrategyQualityFirst:
		return optimizeQualityFirst(candidates, inTok, outTok)
	case StrategyBalanced:
		return optimizeBalanced(candidates, inTok, outTok, latencyReferenceMillis)
	default:
		return optimizeAggressive(candidates, inTok, outTok)
	}
}

func computeCost(p providerregistry.Profile, inTok, outTok int) decimal.Decimal {
	in := decimal.NewFromInt(int64(inTok)).Mul(p.InputCostPerTok)
	out := decimal.NewFromInt(int64(outTok)).Mul(p.OutputCostPerTok)
	return in.Add(out).Round(6)
}

// optimizeAggressive minimizes cost, breaking ties by lower advertised
// latency (§4.7).
func optimizeAggressive(candidates []Candidate, inTok, outTok int) (*Candidate, error) {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci := computeCost(sorted[i].Profile, inTok, outTok)
		cj := computeCost(sorted[j].Profile, inTok, outTok)
		if !ci.Equal(cj) {
			return ci.LessThan(cj)
		}
		return sorted[i].Profile.AdvertisedP50 < sorted[j].Profile.AdvertisedP50
	})
	return &sorted[0], nil
}

// optimizeBalanced minimizes cost * (1 + advertisedLatency/latencyReference)
// (§4.7).
func optimizeBalanced(candidates []Candidate, inTok, outTok int, latencyReferenceMillis int64) (*Candidate, error) {
	reference := decimal.NewFromInt(latencyReferenceMillis)

	type scored struct {
		candidate Candidate
		score     decimal.Decimal
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		cost := computeCost(c.Profile, inTok, outTok)
		latencyMillis := decimal.NewFromInt(c.Profile.AdvertisedP50.Milliseconds())
		penalty := latencyMillis.Div(reference)
		score := cost.Mul(decimal.NewFromInt(1).Add(penalty))
		scoredList = append(scoredList, scored{candidate: c, score: score})
	}
	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].score.LessThan(scoredList[j].score)
	})
	return &scoredList[0].candidate, nil
}

// optimizeQualityFirst restricts to the top quality tier present among
// capability-matched, non-downgraded candidates, then minimizes cost
// within that tier (§4.7).
func optimizeQualityFirst(candidates []Candidate, inTok, outTok int) (*Candidate, error) {
	var eligible []Candidate
	for _, c := range candidates {
		if !c.Downgraded {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, relayerr.New(relayerr.NoEligibleModel, "no non-downgraded candidates for quality-first strategy")
	}

	topRank := -1
	for _, c := range eligible {
		if r := rankOf(c.Profile.QualityTier); r > topRank {
			topRank = r
		}
	}

	var topTier []Candidate
	for _, c := range eligible {
		if rankOf(c.Profile.QualityTier) == topRank {
			topTier = append(topTier, c)
		}
	}

	return optimizeAggressive(topTier, inTok, outTok)
}
