// Package steering implements the Steering Engine (spec §4.3): it
// compiles a declarative rule set once and thereafter evaluates it as a
// pure function of (rule set version, context), producing routing,
// transform, inject, reject, and log actions.
package steering

import "regexp"

// Operator is a condition operator from §3's Steering Rule Set.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not_equals"
	OpContains   Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpRegex      Operator = "regex"
	OpGT         Operator = "gt"
	OpLT         Operator = "lt"
	OpGTE        Operator = "gte"
	OpLTE        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
)

// RuleOperator combines a rule's conditions (§3: "operator ∈ {and, or}").
type RuleOperator string

const (
	RuleAnd RuleOperator = "and"
	RuleOr  RuleOperator = "or"
)

// ActionType is one of §3's action types.
type ActionType string

const (
	ActionRoute     ActionType = "route"
	ActionTransform ActionType = "transform"
	ActionInject    ActionType = "inject"
	ActionReject    ActionType = "reject"
	ActionLog       ActionType = "log"
)

// TransformOp is one of §4.3's transform sub-operations.
type TransformOp string

const (
	TransformReplace TransformOp = "replace"
	TransformAppend  TransformOp = "append"
	TransformPrepend TransformOp = "prepend"
	TransformDelete  TransformOp = "delete"
)

// Condition is a single condition from §3.
type Condition struct {
	Field    string   `yaml:"field"`
	Operator Operator `yaml:"operator"`
	Value    any      `yaml:"value,omitempty"`

	compiledRegex *regexp.Regexp
	valueSet      map[string]struct{}
}

// Action is a single action from §3/§4.3. Fields are a superset covering
// every action type; unused fields for a given Type are zero.
type Action struct {
	Type ActionType `yaml:"type"`

	// route
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`

	// transform / inject
	Op    TransformOp `yaml:"op,omitempty"`
	Field string      `yaml:"field,omitempty"`
	Value any         `yaml:"value,omitempty"`

	// reject
	Status  int    `yaml:"status,omitempty"`
	Message string `yaml:"message,omitempty"`

	// log
	Level string `yaml:"level,omitempty"`
}

// Rule is a single rule from §3.
type Rule struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name"`
	Priority  int          `yaml:"priority"`
	Enabled   bool         `yaml:"enabled"`
	Operator  RuleOperator `yaml:"operator"`
	Conditions []Condition `yaml:"conditions"`
	Actions   []Action     `yaml:"actions"`
	Continue  bool         `yaml:"continue"`
	Tags      []string     `yaml:"tags,omitempty"`

	insertionIndex int
}

// RuleSetFile is the declarative YAML shape from §3/§6.
type RuleSetFile struct {
	Version        string   `yaml:"version"`
	Name           string   `yaml:"name"`
	Rules          []Rule   `yaml:"rules"`
	DefaultActions []Action `yaml:"defaultActions,omitempty"`
}

// CompiledRuleSet is the immutable, validated, priority-sorted rule set
// held behind the Engine's atomic pointer (§4.3 "State").
type CompiledRuleSet struct {
	Version        string
	Name           string
	Rules          []Rule
	DefaultActions []Action
}
