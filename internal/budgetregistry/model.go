// Package budgetregistry implements the Budget Registry (spec §4.4):
// CRUD plus parent-child hierarchy traversal over Budget Definitions,
// generalizing the teacher's models.Budget (single user-or-group scope,
// float64 amounts) to the full scope tuple and decimal money.
package budgetregistry

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScopeKind is one of the four scopes a Budget Definition can attach to
// (§3: "scope (one of organization|team|user|project with scope id)").
type ScopeKind string

const (
	ScopeOrganization ScopeKind = "organization"
	ScopeTeam         ScopeKind = "team"
	ScopeUser         ScopeKind = "user"
	ScopeProject      ScopeKind = "project"
)

// Period is one of the six supported budget periods (§3).
type Period string

const (
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
	PeriodCustom    Period = "custom"
)

// ThresholdAction is one action to take when a threshold is crossed
// (§6's enumerated action set), stored as part of the jsonb-encoded
// Actions column.
type ThresholdAction struct {
	Threshold float64 `json:"threshold"`
	Action    string  `json:"action"`
}

// Definition is the persisted Budget Definition (§3).
type Definition struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Scope  ScopeKind `gorm:"column:scope;not null;index:idx_budget_scope" json:"scope"`
	ScopeID string   `gorm:"column:scope_id;not null;index:idx_budget_scope" json:"scopeId"`

	LimitAmount decimal.Decimal `gorm:"column:limit_amount;type:numeric(18,6);not null" json:"limitAmount"`
	Currency    string          `gorm:"column:currency;not null" json:"currency"`

	Period       Period    `gorm:"column:period;not null" json:"period"`
	StartAt      time.Time `gorm:"column:start_at;not null" json:"startAt"`
	EndAt        time.Time `gorm:"column:end_at;not null" json:"endAt"`
	Recurring    bool      `gorm:"column:recurring;default:false" json:"recurring"`

	WarningThreshold  float64 `gorm:"column:warning_threshold;not null" json:"warningThreshold"`
	CriticalThreshold float64 `gorm:"column:critical_threshold;not null" json:"criticalThreshold"`
	Actions           datatypes.JSONType[[]ThresholdAction] `gorm:"column:actions" json:"actions"`

	AllowOverrides bool                            `gorm:"column:allow_overrides;default:false" json:"allowOverrides"`
	OverrideRoles  datatypes.JSONType[[]string]     `gorm:"column:override_roles" json:"overrideRoles"`

	ParentBudgetID *uuid.UUID `gorm:"column:parent_budget_id;type:uuid;index" json:"parentBudgetId,omitempty"`

	Enabled   bool      `gorm:"column:enabled;default:true" json:"enabled"`
	CreatedBy string    `gorm:"column:created_by" json:"createdBy"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (Definition) TableName() string { return "budget_definitions" }

func (d *Definition) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
