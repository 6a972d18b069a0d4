package steering

import (
	"fmt"
	"strings"
)

// evaluateRule reports whether rule's conditions match ctx, combining them
// with the rule's and/or operator (§4.3 step 2). A rule with no conditions
// always matches (it behaves as an unconditional default).
func evaluateRule(rule Rule, ctx map[string]any) bool {
	if len(rule.Conditions) == 0 {
		return true
	}

	if rule.Operator == RuleOr {
		for _, cond := range rule.Conditions {
			if evaluateCondition(cond, ctx) {
				return true
			}
		}
		return false
	}

	for _, cond := range rule.Conditions {
		if !evaluateCondition(cond, ctx) {
			return false
		}
	}
	return true
}

// evaluateCondition resolves cond.Field and applies cond.Operator. Numeric
// operators on a type mismatch (e.g. comparing a string field with gt)
// are treated as a non-match rather than an error, so one malformed field
// never fails the whole evaluation (§9 design notes).
func evaluateCondition(cond Condition, ctx map[string]any) bool {
	value, present := Resolve(ctx, cond.Field)

	switch cond.Operator {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}

	if !present {
		// every remaining operator requires a value to compare against
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return valuesEqual(value, cond.Value)
	case OpNotEquals:
		return !valuesEqual(value, cond.Value)
	case OpContains:
		return stringContains(value, cond.Value)
	case OpNotContains:
		return !stringContains(value, cond.Value)
	case OpRegex:
		s, ok := value.(string)
		if !ok || cond.compiledRegex == nil {
			return false
		}
		return cond.compiledRegex.MatchString(s)
	case OpGT, OpLT, OpGTE, OpLTE:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			return false
		}
		switch cond.Operator {
		case OpGT:
			return a > b
		case OpLT:
			return a < b
		case OpGTE:
			return a >= b
		case OpLTE:
			return a <= b
		}
	case OpIn:
		_, ok := cond.valueSet[toComparableString(value)]
		return ok
	case OpNotIn:
		_, ok := cond.valueSet[toComparableString(value)]
		return !ok
	}

	return false
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return toComparableString(a) == toComparableString(b)
}

func stringContains(haystack, needle any) bool {
	h, hok := haystack.(string)
	n, nok := needle.(string)
	if !hok || !nok {
		return false
	}
	return strings.Contains(h, n)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toComparableString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
