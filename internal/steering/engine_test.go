package steering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, file RuleSetFile) *Engine {
	t.Helper()
	compiled, err := Compile(file)
	require.NoError(t, err)
	e := &Engine{}
	e.current.Store(compiled)
	return e
}

func TestEvaluate_NoRuleSetIsNoop(t *testing.T) {
	e := &Engine{}
	result, err := e.Evaluate(map[string]any{"request": map[string]any{}})
	require.NoError(t, err)
	assert.Empty(t, result.MatchedRules)
	assert.False(t, result.Rejected)
}

func TestEvaluate_RejectIsTerminalRegardlessOfContinue(t *testing.T) {
	e := newTestEngine(t, RuleSetFile{
		Rules: []Rule{
			{
				ID:       "block-shutdown",
				Priority: 0,
				Enabled:  true,
				Continue: true, // even with continue=true, reject halts
				Conditions: []Condition{
					{Field: "request.body.prompt", Operator: OpContains, Value: "shutdown"},
				},
				Actions: []Action{
					{Type: ActionReject, Status: 403, Message: "forbidden"},
				},
			},
			{
				ID:       "never-reached",
				Priority: 10,
				Enabled:  true,
				Actions:  []Action{{Type: ActionRoute, Provider: "openai", Model: "gpt-4-turbo"}},
			},
		},
	})

	result, err := e.Evaluate(map[string]any{
		"request": map[string]any{"body": map[string]any{"prompt": "please shutdown the server"}},
	})
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Equal(t, 403, result.Status)
	assert.Equal(t, "forbidden", result.Message)
	assert.Equal(t, []string{"block-shutdown"}, result.MatchedRules)
	assert.Empty(t, result.Provider, "route action on the unreached rule must never apply")
}

func TestEvaluate_StableTieBreakPicksInsertionOrder(t *testing.T) {
	e := newTestEngine(t, RuleSetFile{
		Rules: []Rule{
			{ID: "first", Priority: 5, Enabled: true, Actions: []Action{{Type: ActionRoute, Model: "model-a"}}},
			{ID: "second", Priority: 5, Enabled: true, Actions: []Action{{Type: ActionRoute, Model: "model-b"}}},
		},
	})

	result, err := e.Evaluate(map[string]any{"request": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "model-a", result.Model)
	assert.Equal(t, []string{"first"}, result.MatchedRules)
}

func TestEvaluate_DisabledRuleSkipped(t *testing.T) {
	e := newTestEngine(t, RuleSetFile{
		Rules: []Rule{
			{ID: "disabled", Priority: 0, Enabled: false, Actions: []Action{{Type: ActionRoute, Model: "should-not-apply"}}},
			{ID: "fallback", Priority: 10, Enabled: true, Actions: []Action{{Type: ActionRoute, Model: "gpt-3.5-turbo"}}},
		},
	})

	result, err := e.Evaluate(map[string]any{"request": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", result.Model)
}

func TestEvaluate_NoMatchAppliesDefaultActionsOnce(t *testing.T) {
	e := newTestEngine(t, RuleSetFile{
		Rules: []Rule{
			{
				ID:       "never-matches",
				Priority: 0,
				Enabled:  true,
				Conditions: []Condition{
					{Field: "request.metadata.qualityRequirement", Operator: OpEquals, Value: "premium"},
				},
				Actions: []Action{{Type: ActionRoute, Model: "gpt-4-turbo"}},
			},
		},
		DefaultActions: []Action{
			{Type: ActionRoute, Provider: "openai", Model: "gpt-3.5-turbo"},
			{Type: ActionLog, Level: "info", Message: "default route applied"},
		},
	})

	result, err := e.Evaluate(map[string]any{
		"request": map[string]any{"metadata": map[string]any{"qualityRequirement": "economy"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", result.Model)
	assert.Empty(t, result.MatchedRules)
	require.Len(t, result.Logs, 1)
	assert.Equal(t, "default route applied", result.Logs[0].Message)
}

func TestEvaluate_ContinueFalseStopsAfterFirstMatch(t *testing.T) {
	e := newTestEngine(t, RuleSetFile{
		Rules: []Rule{
			{
				ID:       "inject-hint",
				Priority: 0,
				Enabled:  true,
				Continue: true,
				Actions:  []Action{{Type: ActionInject, Field: "routing.hint", Value: "long-context"}},
			},
			{
				ID:       "route",
				Priority: 10,
				Enabled:  true,
				Continue: false,
				Actions:  []Action{{Type: ActionRoute, Model: "gpt-4-turbo"}},
			},
			{
				ID:       "also-matches-but-unreached",
				Priority: 20,
				Enabled:  true,
				Actions:  []Action{{Type: ActionInject, Field: "unreached", Value: true}},
			},
		},
	})

	result, err := e.Evaluate(map[string]any{"request": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"inject-hint", "route"}, result.MatchedRules)
	hint, present := Resolve(result.Context, "routing.hint")
	assert.True(t, present)
	assert.Equal(t, "long-context", hint)
	_, unreachedPresent := Resolve(result.Context, "unreached")
	assert.False(t, unreachedPresent)
}

func TestEvaluate_TransformAppendTypeMismatchErrors(t *testing.T) {
	e := newTestEngine(t, RuleSetFile{
		Rules: []Rule{
			{
				ID:      "bad-transform",
				Enabled: true,
				Actions: []Action{
					{Type: ActionTransform, Op: TransformAppend, Field: "request.metadata.taskType", Value: 5},
				},
			},
		},
	})

	_, err := e.Evaluate(map[string]any{
		"request": map[string]any{"metadata": map[string]any{"taskType": "summarize"}},
	})
	require.Error(t, err)
}

func TestEvaluate_DeterminismSameInputSameOutput(t *testing.T) {
	e := newTestEngine(t, RuleSetFile{
		Rules: []Rule{
			{
				ID:      "route-premium",
				Enabled: true,
				Conditions: []Condition{
					{Field: "request.metadata.qualityRequirement", Operator: OpEquals, Value: "premium"},
				},
				Actions: []Action{{Type: ActionRoute, Provider: "openai", Model: "gpt-4-turbo"}},
			},
		},
	})

	ctx := map[string]any{"request": map[string]any{"metadata": map[string]any{"qualityRequirement": "premium"}}}

	first, err := e.Evaluate(ctx)
	require.NoError(t, err)
	second, err := e.Evaluate(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.MatchedRules, second.MatchedRules)
	assert.Equal(t, first.Provider, second.Provider)
	assert.Equal(t, first.Model, second.Model)
}
