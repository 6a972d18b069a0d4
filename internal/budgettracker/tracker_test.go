package budgettracker

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/relaycore/relaycore/internal/budgetregistry"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&budgetregistry.Definition{}, &UsageRecord{}, &StatusCache{}, &AlertHistory{}))
	return db
}

func newTestBudget(t *testing.T, reg *budgetregistry.Registry, limit float64, warning, critical float64) *budgetregistry.Definition {
	t.Helper()
	def, err := reg.Create(context.Background(), budgetregistry.CreateInput{
		Scope: budgetregistry.ScopeUser, ScopeID: "user-1",
		LimitAmount: limit, Currency: "USD",
		Period: budgetregistry.PeriodMonthly, StartAt: time.Now().UTC().Add(-24 * time.Hour),
		WarningThreshold: warning, CriticalThreshold: critical,
	})
	require.NoError(t, err)
	return def
}

func TestRecordUsage_IdempotentOnDuplicateRequestID(t *testing.T) {
	db := newTestDB(t)
	reg := budgetregistry.New(db)
	tr := New(db, reg, time.Minute)
	def := newTestBudget(t, reg, 100, 80, 95)

	in := RecordUsageInput{
		BudgetID: def.ID, RequestID: "req-1", Scope: ScopeTuple{UserID: "user-1"},
		Provider: "openai", Model: "gpt-4-turbo", Cost: decimal.NewFromFloat(10), Currency: "USD",
		Timestamp: time.Now().UTC(),
	}

	first, err := tr.RecordUsage(context.Background(), in)
	require.NoError(t, err)

	second, err := tr.RecordUsage(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&UsageRecord{}).Where("budget_id = ?", def.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "duplicate requestId must not create a second usage record")
}

func TestGetStatus_ComputesPercentAndStatus(t *testing.T) {
	db := newTestDB(t)
	reg := budgetregistry.New(db)
	tr := New(db, reg, time.Minute)
	def := newTestBudget(t, reg, 100, 80, 95)

	_, err := tr.RecordUsage(context.Background(), RecordUsageInput{
		BudgetID: def.ID, RequestID: "req-1", Scope: ScopeTuple{UserID: "user-1"},
		Provider: "openai", Model: "gpt-4-turbo", Cost: decimal.NewFromFloat(85), Currency: "USD",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	status, err := tr.GetStatus(context.Background(), def.ID)
	require.NoError(t, err)
	assert.InDelta(t, 85.0, status.PercentUsed, 0.01)
	assert.Equal(t, StatusWarning, status.Status)
}

func TestGetStatus_ReturnsCachedWithinFreshnessWindow(t *testing.T) {
	db := newTestDB(t)
	reg := budgetregistry.New(db)
	tr := New(db, reg, time.Hour)
	def := newTestBudget(t, reg, 100, 80, 95)

	_, err := tr.RecordUsage(context.Background(), RecordUsageInput{
		BudgetID: def.ID, RequestID: "req-1", Scope: ScopeTuple{UserID: "user-1"},
		Provider: "openai", Model: "gpt-4-turbo", Cost: decimal.NewFromFloat(10), Currency: "USD",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	first, err := tr.GetStatus(context.Background(), def.ID)
	require.NoError(t, err)

	// Record more usage directly, bypassing RecordUsage's recompute, to
	// prove GetStatus serves the stale cache inside the freshness window.
	require.NoError(t, db.Create(&UsageRecord{
		ID: uuid.New(), BudgetID: def.ID, RequestID: "req-2", Provider: "openai",
		Model: "gpt-4-turbo", Cost: decimal.NewFromFloat(50), Currency: "USD", Timestamp: time.Now().UTC(),
	}).Error)

	second, err := tr.GetStatus(context.Background(), def.ID)
	require.NoError(t, err)
	assert.True(t, second.CurrentAmount.Equal(first.CurrentAmount), "status should be served from cache, not recomputed")
}

func TestRecordUsage_CrossingCriticalInsertsAlertOnce(t *testing.T) {
	db := newTestDB(t)
	reg := budgetregistry.New(db)
	tr := New(db, reg, time.Minute)
	def := newTestBudget(t, reg, 100, 80, 95)

	ctx := context.Background()
	_, err := tr.RecordUsage(ctx, RecordUsageInput{
		BudgetID: def.ID, RequestID: "req-1", Provider: "openai", Model: "gpt-4-turbo",
		Cost: decimal.NewFromFloat(96), Currency: "USD", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = tr.RecordUsage(ctx, RecordUsageInput{
		BudgetID: def.ID, RequestID: "req-2", Provider: "openai", Model: "gpt-4-turbo",
		Cost: decimal.NewFromFloat(5), Currency: "USD", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	var criticalCount int64
	require.NoError(t, db.Model(&AlertHistory{}).Where("budget_id = ? AND kind = ?", def.ID, AlertCritical).Count(&criticalCount).Error)
	assert.EqualValues(t, 1, criticalCount, "crossing critical twice must only insert one unresolved alert")

	var exceededCount int64
	require.NoError(t, db.Model(&AlertHistory{}).Where("budget_id = ? AND kind = ?", def.ID, AlertExceeded).Count(&exceededCount).Error)
	assert.EqualValues(t, 1, exceededCount)
}

func TestCheckConstraints_AllowWhenWellUnderThreshold(t *testing.T) {
	db := newTestDB(t)
	reg := budgetregistry.New(db)
	tr := New(db, reg, time.Minute)
	newTestBudget(t, reg, 1000, 80, 95)

	result, err := tr.CheckConstraints(context.Background(), ScopeTuple{UserID: "user-1"}, decimal.NewFromFloat(5))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllow, result.Outcome)
}

func TestCheckConstraints_DenyWhenProjectedExceedsLimit(t *testing.T) {
	db := newTestDB(t)
	reg := budgetregistry.New(db)
	tr := New(db, reg, time.Minute)
	def := newTestBudget(t, reg, 100, 80, 95)

	_, err := tr.RecordUsage(context.Background(), RecordUsageInput{
		BudgetID: def.ID, RequestID: "req-1", Provider: "openai", Model: "gpt-4-turbo",
		Cost: decimal.NewFromFloat(90), Currency: "USD", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	result, err := tr.CheckConstraints(context.Background(), ScopeTuple{UserID: "user-1"}, decimal.NewFromFloat(20))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeny, result.Outcome)
}

func TestCheckConstraints_MostRestrictiveAcrossMultipleScopesWins(t *testing.T) {
	db := newTestDB(t)
	reg := budgetregistry.New(db)
	tr := New(db, reg, time.Minute)

	ctx := context.Background()
	userBudget, err := reg.Create(ctx, budgetregistry.CreateInput{
		Scope: budgetregistry.ScopeUser, ScopeID: "user-1", LimitAmount: 1000, Currency: "USD",
		Period: budgetregistry.PeriodMonthly, StartAt: time.Now().UTC().Add(-24 * time.Hour),
		WarningThreshold: 80, CriticalThreshold: 95,
	})
	require.NoError(t, err)

	teamBudget, err := reg.Create(ctx, budgetregistry.CreateInput{
		Scope: budgetregistry.ScopeTeam, ScopeID: "team-1", LimitAmount: 100, Currency: "USD",
		Period: budgetregistry.PeriodMonthly, StartAt: time.Now().UTC().Add(-24 * time.Hour),
		WarningThreshold: 80, CriticalThreshold: 95,
	})
	require.NoError(t, err)

	// User budget stays comfortably within range; team budget is pushed
	// past its limit, so DENY must win even though the user scope alone
	// would ALLOW.
	_, err = tr.RecordUsage(ctx, RecordUsageInput{
		BudgetID: userBudget.ID, RequestID: "req-1", Provider: "openai", Model: "gpt-4-turbo",
		Cost: decimal.NewFromFloat(10), Currency: "USD", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = tr.RecordUsage(ctx, RecordUsageInput{
		BudgetID: teamBudget.ID, RequestID: "req-2", Provider: "openai", Model: "gpt-4-turbo",
		Cost: decimal.NewFromFloat(95), Currency: "USD", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	result, err := tr.CheckConstraints(ctx, ScopeTuple{UserID: "user-1", TeamID: "team-1"}, decimal.NewFromFloat(10))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeny, result.Outcome)
}

func TestCheckConstraints_ConfiguredRequireApprovalOverridesDefault(t *testing.T) {
	db := newTestDB(t)
	reg := budgetregistry.New(db)
	tr := New(db, reg, time.Minute)

	def, err := reg.Create(context.Background(), budgetregistry.CreateInput{
		Scope: budgetregistry.ScopeUser, ScopeID: "user-1", LimitAmount: 100, Currency: "USD",
		Period: budgetregistry.PeriodMonthly, StartAt: time.Now().UTC().Add(-24 * time.Hour),
		WarningThreshold: 80, CriticalThreshold: 95,
		Actions: []budgetregistry.ThresholdAction{{Threshold: 80, Action: "require-approval"}},
	})
	require.NoError(t, err)

	result, err := tr.CheckConstraints(context.Background(), ScopeTuple{UserID: "user-1"}, decimal.NewFromFloat(85))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequireApproval, result.Outcome)
	assert.Contains(t, result.SuggestedActions, "require-approval")
	_ = def
}
