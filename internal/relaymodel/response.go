package relaymodel

import "github.com/shopspring/decimal"

// CacheStatus is the observability marker in §6/§8 ("cacheStatus").
type CacheStatus string

const (
	CacheHit   CacheStatus = "hit"
	CacheMiss  CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
	CacheError CacheStatus = "error"
)

// BudgetStatusLevel is the Budget Status enum (§3).
type BudgetStatusLevel string

const (
	BudgetNormal   BudgetStatusLevel = "normal"
	BudgetWarning  BudgetStatusLevel = "warning"
	BudgetCritical BudgetStatusLevel = "critical"
	BudgetExceeded BudgetStatusLevel = "exceeded"
)

// BudgetImpact summarizes the budget effect of a request (§6 response
// contract).
type BudgetImpact struct {
	Status          BudgetStatusLevel `json:"status"`
	AffectedBudgets []string          `json:"affectedBudgets"`
}

// Usage mirrors the normalized {inputTokens, outputTokens} pair an
// adapter reports or the estimator predicts (§4.1, §4.8).
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ModelOutput is the normalized model response body (§4.8 contract).
type ModelOutput struct {
	Content      string `json:"content"`
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finishReason"`
	ModelUsed    string `json:"modelUsed"`
}

// Response is the full response contract (§6).
type Response struct {
	SelectedModel  string          `json:"selectedModel"`
	Alternatives   []string        `json:"alternatives,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
	EstimatedCost  decimal.Decimal `json:"estimatedCost"`
	ActualCost     decimal.Decimal `json:"actualCost"`
	BudgetImpact   BudgetImpact    `json:"budgetImpact"`
	FallbackChain  []string        `json:"fallbackChain,omitempty"`
	CacheStatus    CacheStatus     `json:"cacheStatus"`
	Output         ModelOutput     `json:"output"`
	Downgraded     bool            `json:"downgraded"`
	OriginalModel  string          `json:"originalModel,omitempty"`
}
