// Package relaymodel holds the core in-flight data types shared across
// RelayCore's subsystems (spec §3): the Request, its Scope, Content, and
// the map-tree view the Steering Engine resolves dotted paths against.
package relaymodel

import (
	"time"

	"github.com/google/uuid"
)

// Scope identifies who a request is billed to (§3 Request, GLOSSARY).
type Scope struct {
	UserID         string `json:"userId,omitempty"`
	TeamID         string `json:"teamId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
}

// QualityTier is the requested quality level (§3 Request).
type QualityTier string

const (
	QualityEconomy  QualityTier = "economy"
	QualityStandard QualityTier = "standard"
	QualityPremium  QualityTier = "premium"
)

// ChatMessage is one ordered message in a chat-style request (§3 Request
// content).
type ChatMessage struct {
	Role     string    `json:"role"`
	Name     string    `json:"name,omitempty"`
	Content  string    `json:"content"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
}

// ToolCall represents a function/tool invocation embedded in a message,
// counted by the Token Estimator (§4.1: "4 base + tokens of its name +
// tokens of its arguments").
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Content is the request body: either an ordered list of chat messages, or
// a single prompt plus optional system prompt (§3 Request, §6 inbound
// contract).
type Content struct {
	Messages     []ChatMessage `json:"messages,omitempty"`
	Prompt       string        `json:"prompt,omitempty"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
}

// IsChat reports whether the content is the chat-message shape rather than
// the prompt shape. Mixing both shapes is invalid per §6.
func (c Content) IsChat() bool { return len(c.Messages) > 0 }

// Valid rejects content that mixes both shapes (§6: "Mixed shapes fail
// with InvalidContent").
func (c Content) Valid() bool {
	hasMessages := len(c.Messages) > 0
	hasPrompt := c.Prompt != "" || c.SystemPrompt != ""
	return !(hasMessages && hasPrompt)
}

// Constraints narrows model/provider selection (§3 Request, §6 inbound
// contract).
type Constraints struct {
	PreferredProvider string        `json:"preferredProvider,omitempty"`
	PreferredModel    string        `json:"preferredModel,omitempty"`
	MaxCost           *string       `json:"maxCost,omitempty"` // decimal string, parsed by callers
	MaxLatency        time.Duration `json:"maxLatency,omitempty"`
	Stream            bool          `json:"stream,omitempty"`

	// Temperature and MaxTokens are the generation params §4.1's output
	// cap ("capped by any declared max_tokens") and §3's Fingerprint
	// ("constrained parameters (temperature buckets, max tokens bucket)")
	// both reference without §3 naming them among the Request's own
	// attributes; modeled here as the natural home for them.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// Metadata carries the routing/billing hints from the inbound contract
// (§6): task type, requested quality, budget priority.
type Metadata struct {
	TaskType           string      `json:"taskType,omitempty"`
	QualityRequirement QualityTier `json:"qualityRequirement,omitempty"`
	BudgetPriority     string      `json:"budgetPriority,omitempty"`
	NonCacheable       bool        `json:"nonCacheable,omitempty"`
}

// Request is the in-flight request object the Pipeline owns for the
// duration of one call (§3 Request lifecycle: "created at admission,
// destroyed after usage is recorded or after a terminal failure").
type Request struct {
	ID            string
	CorrelationID string
	Scope         Scope
	Content       Content
	Metadata      Metadata
	Constraints   Constraints
	Deadline      time.Time

	// Mutable working state, populated by pipeline phases. Steering acts
	// on a deep copy of this (§4.3 step 4) so partial rule application
	// never leaks into the caller's context on a non-match.
	Routing RoutingState

	// ActorRoles identifies the caller's roles, checked against a Budget
	// Definition's overrideRoles when Check Constraints returns
	// REQUIRE_APPROVAL (§4.9 step 5: "unless an override role is
	// present"). Not part of §6's inbound contract fields, but required
	// to give that clause something to check; empty means no override.
	ActorRoles []string
}

// RoutingState is the part of the context the Steering Engine's route/
// transform/inject actions write into (§4.3).
type RoutingState struct {
	Provider string
	Model    string
}

// NewRequestID mints a request id when one was not supplied (§6: "Missing
// requestId is generated").
func NewRequestID() string {
	return uuid.New().String()
}

// ToContext renders the request as the map/list tree the Steering Engine's
// dotted-path resolver walks (§3 Steering Rule Set, §9 design notes).
// Field names mirror the inbound contract's dotted names, e.g.
// "request.metadata.taskType" or "request.content.prompt".
func (r *Request) ToContext() map[string]any {
	messages := make([]any, 0, len(r.Content.Messages))
	for _, m := range r.Content.Messages {
		entry := map[string]any{
			"role":    m.Role,
			"content": m.Content,
		}
		if m.Name != "" {
			entry["name"] = m.Name
		}
		if m.ToolCall != nil {
			entry["toolCall"] = map[string]any{
				"name":      m.ToolCall.Name,
				"arguments": m.ToolCall.Arguments,
			}
		}
		messages = append(messages, entry)
	}

	return map[string]any{
		"request": map[string]any{
			"id":            r.ID,
			"correlationId": r.CorrelationID,
			"scope": map[string]any{
				"userId":         r.Scope.UserID,
				"teamId":         r.Scope.TeamID,
				"organizationId": r.Scope.OrganizationID,
				"projectId":      r.Scope.ProjectID,
			},
			"content": map[string]any{
				"messages":     messages,
				"prompt":       r.Content.Prompt,
				"systemPrompt": r.Content.SystemPrompt,
			},
			"metadata": map[string]any{
				"taskType":           r.Metadata.TaskType,
				"qualityRequirement": string(r.Metadata.QualityRequirement),
				"budgetPriority":     r.Metadata.BudgetPriority,
				"nonCacheable":       r.Metadata.NonCacheable,
			},
			"constraints": map[string]any{
				"preferredProvider": r.Constraints.PreferredProvider,
				"preferredModel":    r.Constraints.PreferredModel,
				"stream":            r.Constraints.Stream,
			},
		},
		"routing": map[string]any{
			"provider": r.Routing.Provider,
			"model":    r.Routing.Model,
		},
	}
}
