package budgetregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/relaycore/relaycore/internal/relayerr"
)

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(6)
}

// validCurrencies is the ISO-4217 alphabetic-code set this registry
// accepts. No ecosystem currency-validation library appears anywhere in
// the retrieval pack (see DESIGN.md), so this is a small stdlib table
// covering the currencies RelayCore's provider profiles actually use.
var validCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CNY": true,
	"CHF": true, "CAD": true, "AUD": true, "INR": true, "SGD": true,
}

// Registry is a gorm-backed store of Budget Definitions.
type Registry struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// CreateInput is the set of fields a caller supplies; computed fields
// (id, endAt when absent, timestamps) are filled in by Create.
type CreateInput struct {
	Scope             ScopeKind
	ScopeID           string
	LimitAmount       float64
	Currency          string
	Period            Period
	StartAt           time.Time
	EndAt             *time.Time // required when Period == PeriodCustom
	Recurring         bool
	WarningThreshold  float64
	CriticalThreshold float64
	Actions           []ThresholdAction
	AllowOverrides    bool
	OverrideRoles     []string
	ParentBudgetID    *uuid.UUID
	CreatedBy         string
}

// Create validates and persists a new Budget Definition (§4.4).
func (r *Registry) Create(ctx context.Context, in CreateInput) (*Definition, error) {
	if err := validateThresholds(in.WarningThreshold, in.CriticalThreshold); err != nil {
		return nil, err
	}
	if !validCurrencies[in.Currency] {
		return nil, relayerr.New(relayerr.CurrencyUnknown, fmt.Sprintf("unknown currency %q", in.Currency))
	}

	endAt, err := resolveEndDate(in.Period, in.StartAt, in.EndAt)
	if err != nil {
		return nil, err
	}

	def := &Definition{
		Scope:             in.Scope,
		ScopeID:           in.ScopeID,
		Currency:          in.Currency,
		Period:            in.Period,
		StartAt:           in.StartAt,
		EndAt:             endAt,
		Recurring:         in.Recurring,
		WarningThreshold:  in.WarningThreshold,
		CriticalThreshold: in.CriticalThreshold,
		Actions:           datatypes.NewJSONType(in.Actions),
		AllowOverrides:    in.AllowOverrides,
		OverrideRoles:     datatypes.NewJSONType(in.OverrideRoles),
		ParentBudgetID:    in.ParentBudgetID,
		Enabled:           true,
		CreatedBy:         in.CreatedBy,
	}
	def.LimitAmount = decimalFromFloat(in.LimitAmount)

	if err := r.db.WithContext(ctx).Create(def).Error; err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget registry: create failed", err)
	}
	return def, nil
}

// Get loads a Budget Definition by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Definition, error) {
	var def Definition
	if err := r.db.WithContext(ctx).First(&def, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, relayerr.New(relayerr.BudgetNotFound, "budget definition not found")
		}
		return nil, relayerr.Wrap(relayerr.Internal, "budget registry: get failed", err)
	}
	return &def, nil
}

// UpdateInput carries only the fields being changed; zero-value pointer
// fields are left untouched.
type UpdateInput struct {
	LimitAmount       *float64
	Period            *Period
	StartAt           *time.Time
	EndAt             *time.Time
	WarningThreshold  *float64
	CriticalThreshold *float64
	Actions           *[]ThresholdAction
	AllowOverrides    *bool
	OverrideRoles     *[]string
	Enabled           *bool
}

// Update applies a partial update, re-validating thresholds and
// recomputing EndAt when the period or start changed and no explicit
// end was given (§4.4).
func (r *Registry) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Definition, error) {
	def, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.LimitAmount != nil {
		def.LimitAmount = decimalFromFloat(*in.LimitAmount)
	}
	if in.Period != nil {
		def.Period = *in.Period
	}
	if in.StartAt != nil {
		def.StartAt = *in.StartAt
	}
	if in.WarningThreshold != nil {
		def.WarningThreshold = *in.WarningThreshold
	}
	if in.CriticalThreshold != nil {
		def.CriticalThreshold = *in.CriticalThreshold
	}
	if err := validateThresholds(def.WarningThreshold, def.CriticalThreshold); err != nil {
		return nil, err
	}

	if in.EndAt != nil {
		def.EndAt = *in.EndAt
	} else if in.Period != nil || in.StartAt != nil {
		endAt, err := resolveEndDate(def.Period, def.StartAt, nil)
		if err != nil {
			return nil, err
		}
		def.EndAt = endAt
	}

	if in.Actions != nil {
		def.Actions = datatypes.NewJSONType(*in.Actions)
	}
	if in.AllowOverrides != nil {
		def.AllowOverrides = *in.AllowOverrides
	}
	if in.OverrideRoles != nil {
		def.OverrideRoles = datatypes.NewJSONType(*in.OverrideRoles)
	}
	if in.Enabled != nil {
		def.Enabled = *in.Enabled
	}

	if err := r.db.WithContext(ctx).Save(def).Error; err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget registry: update failed", err)
	}
	return def, nil
}

// Delete soft-disables a budget rather than removing its row, per §4.4's
// "deleted via explicit admin action (soft-disable preferred)".
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&Definition{}).Where("id = ?", id).Update("enabled", false)
	if result.Error != nil {
		return relayerr.Wrap(relayerr.Internal, "budget registry: delete failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return relayerr.New(relayerr.BudgetNotFound, "budget definition not found")
	}
	return nil
}

// ListByScope returns all enabled budgets attached to a scope.
func (r *Registry) ListByScope(ctx context.Context, scope ScopeKind, scopeID string) ([]Definition, error) {
	var defs []Definition
	err := r.db.WithContext(ctx).
		Where("scope = ? AND scope_id = ? AND enabled = ?", scope, scopeID, true).
		Find(&defs).Error
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget registry: list failed", err)
	}
	return defs, nil
}

// Children returns direct child budgets of a parent (§4.4 "parent-child
// hierarchy traversal").
func (r *Registry) Children(ctx context.Context, parentID uuid.UUID) ([]Definition, error) {
	var defs []Definition
	if err := r.db.WithContext(ctx).Where("parent_budget_id = ?", parentID).Find(&defs).Error; err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget registry: children lookup failed", err)
	}
	return defs, nil
}

// Ancestors walks parentBudgetID links up to the root, closest-first.
func (r *Registry) Ancestors(ctx context.Context, id uuid.UUID) ([]Definition, error) {
	var chain []Definition
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for current.ParentBudgetID != nil {
		parent, err := r.Get(ctx, *current.ParentBudgetID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *parent)
		current = parent
	}
	return chain, nil
}

// ListDueForRollover returns enabled, recurring budgets whose current
// period has already ended as of asOf (§4.4 "recurring budgets roll
// forward to a new period automatically"; §6 reset_sweep_cron).
func (r *Registry) ListDueForRollover(ctx context.Context, asOf time.Time) ([]Definition, error) {
	var defs []Definition
	err := r.db.WithContext(ctx).
		Where("recurring = ? AND enabled = ? AND end_at <= ?", true, true, asOf).
		Find(&defs).Error
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget registry: rollover list failed", err)
	}
	return defs, nil
}

// Rollover advances a recurring budget's window to the next period
// starting at its previous EndAt, leaving usage history for the closed
// period untouched (those Usage Records simply fall outside the new
// window). Non-recurring budgets are left unchanged.
func (r *Registry) Rollover(ctx context.Context, id uuid.UUID) (*Definition, error) {
	def, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !def.Recurring {
		return def, nil
	}

	newStart := def.EndAt
	newEnd, err := resolveEndDate(def.Period, newStart, nil)
	if err != nil {
		return nil, err
	}
	def.StartAt = newStart
	def.EndAt = newEnd

	if err := r.db.WithContext(ctx).Save(def).Error; err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget registry: rollover save failed", err)
	}
	return def, nil
}

func validateThresholds(warning, critical float64) error {
	if warning < 0 || critical > 100 || warning > critical {
		return relayerr.New(relayerr.ThresholdsInvalid, "thresholds must satisfy 0 <= warning <= critical <= 100")
	}
	return nil
}

// resolveEndDate computes EndAt from StartAt+Period when absent, rounded
// to end-of-day UTC (§4.4). Custom periods require an explicit end.
func resolveEndDate(period Period, start time.Time, explicitEnd *time.Time) (time.Time, error) {
	if explicitEnd != nil {
		return endOfDayUTC(*explicitEnd), nil
	}
	if period == PeriodCustom {
		return time.Time{}, relayerr.New(relayerr.InvalidPeriod, "custom period requires an explicit end date")
	}

	start = start.UTC()
	var end time.Time
	switch period {
	case PeriodDaily:
		end = start.AddDate(0, 0, 1)
	case PeriodWeekly:
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		end = start.AddDate(0, 1, 0)
	case PeriodQuarterly:
		end = start.AddDate(0, 3, 0)
	case PeriodAnnual:
		end = start.AddDate(1, 0, 0)
	default:
		return time.Time{}, relayerr.New(relayerr.InvalidPeriod, fmt.Sprintf("unknown period %q", period))
	}
	return endOfDayUTC(end), nil
}

func endOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}
