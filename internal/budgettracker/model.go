// Package budgettracker implements the Budget Tracker (spec §4.5):
// Record Usage, Get Status, and Check Constraints, generalizing the
// teacher's budget.Tracker (single team/user lookup, hardcoded $100
// default) into scope-tuple resolution against the Budget Registry.
// Only budgets attached directly to a member of the scope tuple are
// checked; parent budgets are not walked.
package budgettracker

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the derived budget health enum (§3 Budget Status).
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusExceeded Status = "exceeded"
)

// ScopeTuple identifies the request's owning scopes (§3).
type ScopeTuple struct {
	UserID         string
	TeamID         string
	OrganizationID string
	ProjectID      string
}

// UsageRecord is the immutable persisted usage event (§3).
type UsageRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BudgetID       uuid.UUID `gorm:"type:uuid;not null;index:idx_usage_budget" json:"budgetId"`
	RequestID      string    `gorm:"not null;index:idx_usage_request" json:"requestId"`
	UserID         string    `json:"userId,omitempty"`
	TeamID         string    `json:"teamId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	ProjectID      string    `json:"projectId,omitempty"`

	Provider string          `gorm:"not null" json:"provider"`
	Model    string          `gorm:"not null" json:"model"`
	InputTokens  int         `json:"inputTokens"`
	OutputTokens int         `json:"outputTokens"`
	Cost     decimal.Decimal `gorm:"type:numeric(18,6);not null" json:"cost"`
	Currency string          `gorm:"not null" json:"currency"`

	Timestamp     time.Time `gorm:"not null;index:idx_usage_budget" json:"timestamp"`
	OriginalModel string    `json:"originalModel,omitempty"`
	Downgraded    bool      `json:"downgraded"`

	BudgetStatusSnapshot datatypes.JSONType[StatusSnapshot] `json:"budgetStatusSnapshot"`
}

func (UsageRecord) TableName() string { return "budget_usage_records" }

func (u *UsageRecord) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// StatusSnapshot is the small denormalized status view stored on a usage
// record for observability (§3 Usage Record: "budget status snapshot").
type StatusSnapshot struct {
	Status      Status  `json:"status"`
	PercentUsed float64 `json:"percentUsed"`
}

// StatusCache is the persisted Budget Status cache (§3).
type StatusCache struct {
	BudgetID       uuid.UUID       `gorm:"type:uuid;primaryKey" json:"budgetId"`
	CurrentAmount  decimal.Decimal `gorm:"type:numeric(18,6)" json:"currentAmount"`
	Remaining      decimal.Decimal `gorm:"type:numeric(18,6)" json:"remaining"`
	PercentUsed    float64         `json:"percentUsed"`
	BurnRate       decimal.Decimal `gorm:"type:numeric(18,6)" json:"burnRate"`
	ProjectedTotal decimal.Decimal `gorm:"type:numeric(18,6)" json:"projectedTotal"`
	Status         Status          `json:"status"`
	LastUpdate     time.Time       `json:"lastUpdate"`
}

func (StatusCache) TableName() string { return "budget_status_cache" }

// AlertKind is one of the three threshold crossings tracked (§4.5 alert
// policy; "exceeded = 100%").
type AlertKind string

const (
	AlertWarning  AlertKind = "warning"
	AlertCritical AlertKind = "critical"
	AlertExceeded AlertKind = "exceeded"
)

// AlertHistory records a triggered, as-yet-unresolved (or resolved)
// threshold alert, so RecordUsage can suppress duplicates (§4.5: "no
// unresolved alert of that kind exists").
type AlertHistory struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BudgetID   uuid.UUID `gorm:"type:uuid;not null;index" json:"budgetId"`
	Kind       AlertKind `gorm:"not null" json:"kind"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Resolved   bool      `gorm:"default:false" json:"resolved"`
}

func (AlertHistory) TableName() string { return "budget_alert_history" }

func (a *AlertHistory) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
