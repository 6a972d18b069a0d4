package steering

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/relaycore/relaycore/internal/relayerr"
)

// Compile validates a raw rule set and produces the immutable structure
// the Engine swaps in (§4.3 invariants: "rule ids unique within a set;
// regex values compile; numeric operators require numeric fields").
// Validation must fully succeed before any swap happens (§4.3 State,
// §9 design notes).
func Compile(file RuleSetFile) (*CompiledRuleSet, error) {
	seen := make(map[string]bool, len(file.Rules))
	rules := make([]Rule, len(file.Rules))

	for i, rule := range file.Rules {
		if rule.ID == "" {
			return nil, relayerr.New(relayerr.RuleSetInvalid, "rule missing id")
		}
		if seen[rule.ID] {
			return nil, relayerr.New(relayerr.RuleSetInvalid, fmt.Sprintf("duplicate rule id %q", rule.ID))
		}
		seen[rule.ID] = true

		if rule.Operator == "" {
			rule.Operator = RuleAnd
		}
		if rule.Operator != RuleAnd && rule.Operator != RuleOr {
			return nil, relayerr.New(relayerr.RuleSetInvalid, fmt.Sprintf("rule %q: invalid operator %q", rule.ID, rule.Operator))
		}

		conditions := make([]Condition, len(rule.Conditions))
		for j, cond := range rule.Conditions {
			compiled, err := compileCondition(cond)
			if err != nil {
				return nil, relayerr.Wrap(relayerr.RuleSetInvalid, fmt.Sprintf("rule %q condition %d", rule.ID, j), err)
			}
			conditions[j] = compiled
		}
		rule.Conditions = conditions

		for _, action := range rule.Actions {
			if err := validateAction(action); err != nil {
				return nil, relayerr.Wrap(relayerr.RuleSetInvalid, fmt.Sprintf("rule %q action", rule.ID), err)
			}
		}

		rule.insertionIndex = i
		rules[i] = rule
	}

	for _, action := range file.DefaultActions {
		if err := validateAction(action); err != nil {
			return nil, relayerr.Wrap(relayerr.RuleSetInvalid, "default action", err)
		}
	}

	// Ascending priority order; equal priorities retain insertion order
	// (§4.3 "Tie-breaks"). sort.SliceStable preserves that.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	return &CompiledRuleSet{
		Version:        file.Version,
		Name:           file.Name,
		Rules:          rules,
		DefaultActions: file.DefaultActions,
	}, nil
}

func compileCondition(cond Condition) (Condition, error) {
	switch cond.Operator {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpGT, OpLT, OpGTE, OpLTE, OpExists, OpNotExists:
		// no extra compilation needed
	case OpRegex:
		pattern, ok := cond.Value.(string)
		if !ok {
			return cond, fmt.Errorf("regex condition on field %q requires a string pattern", cond.Field)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return cond, fmt.Errorf("regex condition on field %q: %w", cond.Field, err)
		}
		cond.compiledRegex = re
	case OpIn, OpNotIn:
		set, err := toValueSet(cond.Value)
		if err != nil {
			return cond, fmt.Errorf("%s condition on field %q: %w", cond.Operator, cond.Field, err)
		}
		cond.valueSet = set
	default:
		return cond, fmt.Errorf("unknown condition operator %q", cond.Operator)
	}
	return cond, nil
}

func toValueSet(value any) (map[string]struct{}, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("in/not_in operators require a set value")
	}
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[toComparableString(item)] = struct{}{}
	}
	return set, nil
}

func validateAction(a Action) error {
	switch a.Type {
	case ActionRoute, ActionTransform, ActionInject, ActionReject, ActionLog:
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}
