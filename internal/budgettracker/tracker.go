package budgettracker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/relaycore/relaycore/internal/budgetregistry"
	"github.com/relaycore/relaycore/internal/relayerr"
)

// Tracker implements Record Usage, Get Status, and Check Constraints
// (§4.5) against a gorm-backed store and the Budget Registry.
type Tracker struct {
	db        *gorm.DB
	registry  *budgetregistry.Registry
	freshness time.Duration
}

func New(db *gorm.DB, registry *budgetregistry.Registry, freshness time.Duration) *Tracker {
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	return &Tracker{db: db, registry: registry, freshness: freshness}
}

// RecordUsageInput is the usage event supplied after dispatch completes.
type RecordUsageInput struct {
	BudgetID      uuid.UUID
	RequestID     string
	Scope         ScopeTuple
	Provider      string
	Model         string
	InputTokens   int
	OutputTokens  int
	Cost          decimal.Decimal
	Currency      string
	Timestamp     time.Time
	OriginalModel string
	Downgraded    bool
}

// RecordUsage appends an immutable Usage Record, recomputes the owning
// budget's status, and evaluates alert thresholds, all under one
// transaction (§4.5). A duplicate requestId for the same budget is
// accepted at most once (idempotency).
func (t *Tracker) RecordUsage(ctx context.Context, in RecordUsageInput) (*UsageRecord, error) {
	var result *UsageRecord

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UsageRecord
		err := tx.Where("budget_id = ? AND request_id = ?", in.BudgetID, in.RequestID).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		record := &UsageRecord{
			BudgetID:       in.BudgetID,
			RequestID:      in.RequestID,
			UserID:         in.Scope.UserID,
			TeamID:         in.Scope.TeamID,
			OrganizationID: in.Scope.OrganizationID,
			ProjectID:      in.Scope.ProjectID,
			Provider:       in.Provider,
			Model:          in.Model,
			InputTokens:    in.InputTokens,
			OutputTokens:   in.OutputTokens,
			Cost:           in.Cost,
			Currency:       in.Currency,
			Timestamp:      in.Timestamp,
			OriginalModel:  in.OriginalModel,
			Downgraded:     in.Downgraded,
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		status, err := t.recomputeStatus(ctx, tx, in.BudgetID)
		if err != nil {
			return err
		}
		record.BudgetStatusSnapshot = datatypes.NewJSONType(StatusSnapshot{Status: status.Status, PercentUsed: status.PercentUsed})
		if err := tx.Save(record).Error; err != nil {
			return err
		}

		if err := t.evaluateAlerts(ctx, tx, in.BudgetID, status); err != nil {
			return err
		}

		result = record
		return nil
	})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget tracker: record usage failed", err)
	}
	return result, nil
}

// GetStatus returns the cached status if fresh, recomputing otherwise
// (§4.5).
func (t *Tracker) GetStatus(ctx context.Context, budgetID uuid.UUID) (*StatusCache, error) {
	var cached StatusCache
	err := t.db.WithContext(ctx).First(&cached, "budget_id = ?", budgetID).Error
	if err == nil && time.Since(cached.LastUpdate) < t.freshness {
		return &cached, nil
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, relayerr.Wrap(relayerr.Internal, "budget tracker: status lookup failed", err)
	}

	var result *StatusCache
	txErr := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status, err := t.recomputeStatus(ctx, tx, budgetID)
		result = status
		return err
	})
	if txErr != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget tracker: status recompute failed", txErr)
	}
	return result, nil
}

// recomputeStatus sums usage in [startDate, min(endDate, now)] and
// derives percent used, burn rate, projected total, and status (§4.5).
// Idempotent under concurrent callers: it always upserts the same
// deterministic result for a given moment.
func (t *Tracker) recomputeStatus(ctx context.Context, tx *gorm.DB, budgetID uuid.UUID) (*StatusCache, error) {
	def, err := t.registry.Get(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	windowEnd := def.EndAt
	if now.Before(windowEnd) {
		windowEnd = now
	}

	var current decimal.Decimal
	row := tx.Model(&UsageRecord{}).
		Where("budget_id = ? AND timestamp >= ? AND timestamp <= ?", budgetID, def.StartAt, windowEnd).
		Select("COALESCE(SUM(cost), 0)")
	if err := row.Scan(&current).Error; err != nil {
		return nil, err
	}

	remaining := def.LimitAmount.Sub(current)
	percentUsed := 0.0
	if !def.LimitAmount.IsZero() {
		percentUsed, _ = current.Div(def.LimitAmount).Mul(decimal.NewFromInt(100)).Float64()
	}

	elapsedDays := math.Max(1, now.Sub(def.StartAt).Hours()/24)
	burnRate := current.Div(decimal.NewFromFloat(elapsedDays))

	remainingDays := math.Max(0, def.EndAt.Sub(now).Hours()/24)
	projectedTotal := current.Add(burnRate.Mul(decimal.NewFromFloat(remainingDays)))

	status := deriveStatus(percentUsed, def.WarningThreshold, def.CriticalThreshold)

	cache := &StatusCache{
		BudgetID:       budgetID,
		CurrentAmount:  current,
		Remaining:      remaining,
		PercentUsed:    percentUsed,
		BurnRate:       burnRate,
		ProjectedTotal: projectedTotal,
		Status:         status,
		LastUpdate:     now,
	}

	// StatusCache's primary key (budgetId) is always pre-set by the
	// caller, so a plain Save would silently update zero rows on first
	// write instead of inserting; upsert on conflict instead.
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "budget_id"}},
		UpdateAll: true,
	}).Create(cache).Error
	if err != nil {
		return nil, err
	}
	return cache, nil
}

// deriveStatus derives status monotonically from percent used against
// thresholds (§3 Budget Status invariant).
func deriveStatus(percentUsed, warning, critical float64) Status {
	switch {
	case percentUsed >= 100:
		return StatusExceeded
	case percentUsed >= critical:
		return StatusCritical
	case percentUsed >= warning:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// evaluateAlerts inserts an unresolved AlertHistory row for each
// threshold newly crossed by status, suppressing duplicates while an
// alert of that kind is unresolved (§4.5 alert policy).
func (t *Tracker) evaluateAlerts(ctx context.Context, tx *gorm.DB, budgetID uuid.UUID, status *StatusCache) error {
	crossed := crossedKinds(status.PercentUsed, status.Status)
	for _, kind := range crossed {
		var existing AlertHistory
		err := tx.Where("budget_id = ? AND kind = ? AND resolved = ?", budgetID, kind, false).First(&existing).Error
		if err == nil {
			continue // already alerted, suppress duplicate
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		alert := &AlertHistory{BudgetID: budgetID, Kind: kind, TriggeredAt: time.Now().UTC()}
		if err := tx.Create(alert).Error; err != nil {
			return err
		}
	}
	return nil
}

func crossedKinds(percentUsed float64, status Status) []AlertKind {
	var kinds []AlertKind
	switch status {
	case StatusExceeded:
		kinds = append(kinds, AlertExceeded, AlertCritical, AlertWarning)
	case StatusCritical:
		kinds = append(kinds, AlertCritical, AlertWarning)
	case StatusWarning:
		kinds = append(kinds, AlertWarning)
	}
	return kinds
}

// ResetAlerts marks every unresolved alert for budgetID resolved, so the
// next threshold crossing raises fresh notifications instead of being
// suppressed as a duplicate. Used by the periodic reset sweep and the
// operator-triggered reset-alerts command when a recurring budget's
// period rolls over (§4.5 alert policy, §6 recurring budgets).
func (t *Tracker) ResetAlerts(ctx context.Context, budgetID uuid.UUID) error {
	err := t.db.WithContext(ctx).Model(&AlertHistory{}).
		Where("budget_id = ? AND resolved = ?", budgetID, false).
		Update("resolved", true).Error
	if err != nil {
		return relayerr.Wrap(relayerr.Internal, "budget tracker: reset alerts failed", err)
	}
	return nil
}

// Outcome is one of the four Check Constraints results (§4.5, §9 design
// notes), ordered by restrictiveness for the aggregation monoid.
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeAllowWithDowngrade
	OutcomeRequireApproval
	OutcomeDeny
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "ALLOW"
	case OutcomeAllowWithDowngrade:
		return "ALLOW_WITH_DOWNGRADE"
	case OutcomeRequireApproval:
		return "REQUIRE_APPROVAL"
	case OutcomeDeny:
		return "DENY"
	default:
		return "UNKNOWN"
	}
}

// ConstraintResult is Check Constraints' aggregated verdict.
type ConstraintResult struct {
	Outcome           Outcome
	Reason            string
	SuggestedActions  []string
	BudgetStatuses    map[uuid.UUID]*StatusCache
}

// CheckConstraints determines the allowed outcome across every budget
// attached to scope, aggregating by taking the most restrictive result
// (§4.5, §9: "a small monoid over {ALLOW < ALLOW_WITH_DOWNGRADE <
// REQUIRE_APPROVAL < DENY} taking the max").
func (t *Tracker) CheckConstraints(ctx context.Context, scope ScopeTuple, estimatedCost decimal.Decimal) (*ConstraintResult, error) {
	budgets, err := t.applicableBudgets(ctx, scope)
	if err != nil {
		return nil, err
	}

	result := &ConstraintResult{Outcome: OutcomeAllow, BudgetStatuses: map[uuid.UUID]*StatusCache{}}
	for _, def := range budgets {
		status, err := t.GetStatus(ctx, def.ID)
		if err != nil {
			return nil, err
		}
		result.BudgetStatuses[def.ID] = status

		projected := status.CurrentAmount.Add(estimatedCost)
		projectedPercent := 0.0
		if !def.LimitAmount.IsZero() {
			projectedPercent, _ = projected.Div(def.LimitAmount).Mul(decimal.NewFromInt(100)).Float64()
		}

		outcome, reason := outcomeForBudget(def, projectedPercent)
		if outcome > result.Outcome {
			result.Outcome = outcome
			result.Reason = reason
			result.SuggestedActions = actionNamesAt(def, projectedPercent)
		}
	}

	if result.Reason == "" {
		result.Reason = "within all applicable budgets"
	}
	return result, nil
}

// applicableBudgets gathers the enabled budgets attached to every
// non-empty member of the scope tuple.
func (t *Tracker) applicableBudgets(ctx context.Context, scope ScopeTuple) ([]budgetregistry.Definition, error) {
	var all []budgetregistry.Definition
	lookups := []struct {
		kind budgetregistry.ScopeKind
		id   string
	}{
		{budgetregistry.ScopeUser, scope.UserID},
		{budgetregistry.ScopeTeam, scope.TeamID},
		{budgetregistry.ScopeOrganization, scope.OrganizationID},
		{budgetregistry.ScopeProject, scope.ProjectID},
	}
	for _, l := range lookups {
		if l.id == "" {
			continue
		}
		defs, err := t.registry.ListByScope(ctx, l.kind, l.id)
		if err != nil {
			return nil, err
		}
		all = append(all, defs...)
	}
	return all, nil
}

// outcomeForBudget derives a default outcome from percent-used against
// thresholds, then lets the budget's configured threshold actions
// elevate it (§6's enumerated action set: notify, restrict-models,
// require-approval, block-all, auto-downgrade).
func outcomeForBudget(def budgetregistry.Definition, projectedPercent float64) (Outcome, string) {
	outcome := OutcomeAllow
	switch {
	case projectedPercent >= 100:
		outcome = OutcomeDeny
	case projectedPercent >= def.CriticalThreshold:
		outcome = OutcomeAllowWithDowngrade
	case projectedPercent >= def.WarningThreshold:
		outcome = OutcomeAllow
	}

	for _, action := range def.Actions.Data() {
		if projectedPercent < action.Threshold {
			continue
		}
		switch action.Action {
		case "block-all":
			if OutcomeDeny > outcome {
				outcome = OutcomeDeny
			}
		case "require-approval":
			if OutcomeRequireApproval > outcome {
				outcome = OutcomeRequireApproval
			}
		case "auto-downgrade", "restrict-models":
			if OutcomeAllowWithDowngrade > outcome {
				outcome = OutcomeAllowWithDowngrade
			}
		}
	}

	reason := fmt.Sprintf("projected usage %.1f%% of budget %s (warning %.0f%%, critical %.0f%%)",
		projectedPercent, def.ID, def.WarningThreshold, def.CriticalThreshold)
	return outcome, reason
}

func actionNamesAt(def budgetregistry.Definition, projectedPercent float64) []string {
	var names []string
	for _, action := range def.Actions.Data() {
		if projectedPercent >= action.Threshold {
			names = append(names, action.Action)
		}
	}
	return names
}
