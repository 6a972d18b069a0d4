package steering

import (
	"github.com/relaycore/relaycore/internal/relayerr"
)

// Result is the accumulated effect of evaluating a rule set against one
// request context (§4.3 "Output").
type Result struct {
	Context  map[string]any
	Provider string
	Model    string
	Logs     []LogEntry
	Rejected bool
	Status   int
	Message  string

	// MatchedRules records, in evaluation order, the ids of rules whose
	// conditions matched — useful for observability and tests.
	MatchedRules []string
}

// LogEntry is produced by a "log" action.
type LogEntry struct {
	Level   string
	Message string
	RuleID  string
}

// deepCopyContext clones a request context tree so rule actions never
// mutate the caller's map (§4.3: "actions apply to a copy of the context").
func deepCopyContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyContext(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

// applyAction applies a single action to result in place, returning an
// error only for conditions the spec treats as fatal to evaluation
// (currently just TransformTypeMismatch, §4.3 transform semantics).
func applyAction(action Action, ruleID string, result *Result) error {
	switch action.Type {
	case ActionRoute:
		if action.Provider != "" {
			result.Provider = action.Provider
		}
		if action.Model != "" {
			result.Model = action.Model
		}
	case ActionTransform:
		return applyTransform(action, result.Context)
	case ActionInject:
		writeField(result.Context, action.Field, action.Value)
	case ActionReject:
		result.Rejected = true
		result.Status = action.Status
		if result.Status == 0 {
			result.Status = 400
		}
		result.Message = action.Message
	case ActionLog:
		result.Logs = append(result.Logs, LogEntry{Level: action.Level, Message: action.Message, RuleID: ruleID})
	}
	return nil
}

func applyTransform(action Action, ctx map[string]any) error {
	switch action.Op {
	case TransformReplace:
		writeField(ctx, action.Field, action.Value)
	case TransformDelete:
		deleteField(ctx, action.Field)
	case TransformAppend, TransformPrepend:
		existing, present := Resolve(ctx, action.Field)
		if !present {
			writeField(ctx, action.Field, action.Value)
			return nil
		}
		merged, err := mergeTransform(action.Op, action.Field, existing, action.Value)
		if err != nil {
			return err
		}
		writeField(ctx, action.Field, merged)
	}
	return nil
}

func mergeTransform(op TransformOp, field string, existing, value any) (any, error) {
	switch e := existing.(type) {
	case string:
		v, ok := value.(string)
		if !ok {
			return nil, relayerr.New(relayerr.TransformTypeMismatch, "field "+field+" is a string, append/prepend value is not")
		}
		if op == TransformAppend {
			return e + v, nil
		}
		return v + e, nil
	case []any:
		if op == TransformAppend {
			return append(append([]any{}, e...), value), nil
		}
		return append([]any{value}, e...), nil
	default:
		return nil, relayerr.New(relayerr.TransformTypeMismatch, "field "+field+" is not a string or list, cannot append/prepend")
	}
}
