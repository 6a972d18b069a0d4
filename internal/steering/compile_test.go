package steering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/relayerr"
)

func TestCompile_DuplicateRuleIDRejected(t *testing.T) {
	_, err := Compile(RuleSetFile{
		Rules: []Rule{
			{ID: "a", Priority: 1},
			{ID: "a", Priority: 2},
		},
	})
	require.Error(t, err)
	re, ok := relayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, relayerr.RuleSetInvalid, re.Kind)
}

func TestCompile_MissingRuleIDRejected(t *testing.T) {
	_, err := Compile(RuleSetFile{Rules: []Rule{{Priority: 1}}})
	require.Error(t, err)
}

func TestCompile_InvalidRegexRejected(t *testing.T) {
	_, err := Compile(RuleSetFile{
		Rules: []Rule{
			{
				ID:       "a",
				Enabled:  true,
				Operator: RuleAnd,
				Conditions: []Condition{
					{Field: "x", Operator: OpRegex, Value: "("},
				},
			},
		},
	})
	require.Error(t, err)
}

func TestCompile_UnknownOperatorRejected(t *testing.T) {
	_, err := Compile(RuleSetFile{
		Rules: []Rule{
			{ID: "a", Enabled: true, Conditions: []Condition{{Field: "x", Operator: "bogus"}}},
		},
	})
	require.Error(t, err)
}

func TestCompile_SortsByPriorityStableOnTies(t *testing.T) {
	rs, err := Compile(RuleSetFile{
		Rules: []Rule{
			{ID: "second", Priority: 5, Enabled: true},
			{ID: "first", Priority: 5, Enabled: true},
			{ID: "earliest", Priority: 1, Enabled: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, rs.Rules, 3)
	assert.Equal(t, "earliest", rs.Rules[0].ID)
	assert.Equal(t, "second", rs.Rules[1].ID)
	assert.Equal(t, "first", rs.Rules[2].ID)
}

func TestCompile_InCondition(t *testing.T) {
	rs, err := Compile(RuleSetFile{
		Rules: []Rule{
			{
				ID:      "a",
				Enabled: true,
				Conditions: []Condition{
					{Field: "x", Operator: OpIn, Value: []any{"a", "b", "c"}},
				},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, rs.Rules[0].Conditions, 1)
}
