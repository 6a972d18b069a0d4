// Package pipeline implements the Request Pipeline (spec §4.9): it wires
// every other subsystem together into the single end-to-end path a
// request takes from admission to a terminal state. There is no teacher
// analogue for this exact orchestration — the closest relative is the
// teacher's gateway HTTP handler chain (auth → rate-limit → router →
// provider call), whose sequential-phases-with-early-return shape this
// package follows while replacing the phases themselves with §4.9's ten
// steps.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/relaycore/relaycore/internal/budgetregistry"
	"github.com/relaycore/relaycore/internal/budgettracker"
	"github.com/relaycore/relaycore/internal/costmodel"
	"github.com/relaycore/relaycore/internal/costoptimizer"
	"github.com/relaycore/relaycore/internal/provideradapter"
	"github.com/relaycore/relaycore/internal/providerregistry"
	"github.com/relaycore/relaycore/internal/relayerr"
	"github.com/relaycore/relaycore/internal/relaymodel"
	"github.com/relaycore/relaycore/internal/responsecache"
	"github.com/relaycore/relaycore/internal/steering"
	"github.com/relaycore/relaycore/internal/tokenestimator"
)

// defaultCapability is used when a request declares no taskType, giving
// step 4's candidate filter something to key on (§4.9 step 4).
const defaultCapability = "text-generation"

// Config holds the pipeline's tunables, sourced from config.Config at
// construction time.
type Config struct {
	MaxConcurrency         int
	CacheEnabled           bool
	DefaultStrategy        costoptimizer.Strategy
	LatencyReferenceMillis int64
}

// Pipeline orchestrates Token Estimator, Steering Engine, Provider
// Registry, Budget Tracker, Cost Optimizer, Response Cache, and Provider
// Adapters into the single-pass state machine of §4.9: admitted → steered
// → budget-checked → dispatched → (succeeded | denied | rejected |
// failed).
type Pipeline struct {
	estimator      *tokenestimator.Estimator
	steering       *steering.Engine
	tracker        *budgettracker.Tracker
	budgetRegistry *budgetregistry.Registry
	providers      *providerregistry.Registry
	costModel      *costmodel.Model
	cache          *responsecache.Cache
	adapters       map[string]provideradapter.Adapter
	log            *zap.Logger
	tracer         trace.Tracer

	cfg Config
	sem chan struct{}
}

// New constructs a Pipeline. adapters maps a Provider Profile's
// providerId to the concrete Adapter instance that serves it.
func New(
	cfg Config,
	estimator *tokenestimator.Estimator,
	engine *steering.Engine,
	tracker *budgettracker.Tracker,
	budgetRegistry *budgetregistry.Registry,
	providers *providerregistry.Registry,
	costModel *costmodel.Model,
	cache *responsecache.Cache,
	adapters map[string]provideradapter.Adapter,
	log *zap.Logger,
) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 512
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = costoptimizer.StrategyBalanced
	}
	return &Pipeline{
		estimator:      estimator,
		steering:       engine,
		tracker:        tracker,
		budgetRegistry: budgetRegistry,
		providers:      providers,
		costModel:      costModel,
		cache:          cache,
		adapters:       adapters,
		log:            log,
		tracer:         otel.Tracer("github.com/relaycore/relaycore/internal/pipeline"),
		cfg:            cfg,
		sem:            make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Handle runs req through the full pipeline and returns the response
// contract of §6, or a *relayerr.RelayError describing the terminal
// failure (§4.9 "Failure semantics").
func (p *Pipeline) Handle(ctx context.Context, req *relaymodel.Request) (*relaymodel.Response, error) {
	if req.ID == "" {
		req.ID = relaymodel.NewRequestID()
	}

	var span trace.Span
	ctx, span = p.tracer.Start(ctx, "pipeline.Handle", trace.WithAttributes(
		attribute.String("relaycore.request_id", req.ID),
	))
	defer span.End()

	if !req.Content.Valid() {
		return nil, relayerr.New(relayerr.InvalidContent, "mixed chat and prompt content shapes")
	}

	// Backpressure ahead of steering, so rejected-by-capacity requests
	// never pay for rule evaluation (§5: "rejected ... before steering to
	// avoid wasted work").
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	default:
		return nil, relayerr.New(relayerr.Overloaded, "concurrency cap reached")
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	// A request admitted with an already-expired deadline short-circuits
	// here rather than paying for estimation, steering, and budget checks
	// only to fail once dispatch is attempted (§8: "deadline at 0 ->
	// Cancelled before dispatch").
	if err := ctx.Err(); err != nil {
		return nil, relayerr.Wrap(relayerr.Cancelled, "request deadline already exceeded", err)
	}

	estimate, err := p.estimator.EstimateContent(ctx, req.Content, req.Constraints.PreferredModel, req.Constraints.MaxTokens)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "token estimation failed", err)
	}

	// Rules see the input-token estimate as request.estimatedTokens.
	steerCtx := req.ToContext()
	steerCtx["request"].(map[string]any)["estimatedTokens"] = estimate.InputTokens
	steerResult, err := p.steering.Evaluate(steerCtx)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "steering evaluation failed", err)
	}
	if steerResult.Rejected {
		status := steerResult.Status
		if status == 0 {
			status = 400
		}
		return nil, relayerr.New(relayerr.Rejected, steerResult.Message).WithStatus(status)
	}
	if steerResult.Provider != "" {
		req.Routing.Provider = steerResult.Provider
	}
	if steerResult.Model != "" {
		req.Routing.Model = steerResult.Model
	}

	capability := req.Metadata.TaskType
	if capability == "" {
		capability = defaultCapability
	}
	candidates := p.providers.Candidates(capability)

	providerPref := req.Routing.Provider
	if providerPref == "" {
		providerPref = req.Constraints.PreferredProvider
	}
	modelPref := req.Routing.Model
	if modelPref == "" {
		modelPref = req.Constraints.PreferredModel
	}
	candidates = narrowCandidates(candidates, providerPref, modelPref)
	if len(candidates) == 0 {
		return nil, relayerr.New(relayerr.NoEligibleModel, fmt.Sprintf("no candidate providers for capability %q", capability))
	}

	scope := budgettracker.ScopeTuple{
		UserID:         req.Scope.UserID,
		TeamID:         req.Scope.TeamID,
		OrganizationID: req.Scope.OrganizationID,
		ProjectID:      req.Scope.ProjectID,
	}

	optCandidates := toOptimizerCandidates(candidates)

	// Step 5 needs a cost estimate before the optimizer has made its final
	// pick (it runs in step 6); use a cheap aggressive pass purely to get
	// a provisional candidate to cost (§4.9 steps 5-6 ordering).
	provisional, err := costoptimizer.Optimize(optCandidates, costoptimizer.StrategyAggressive, estimate.InputTokens, estimate.EstimatedOutputTokens, p.cfg.LatencyReferenceMillis)
	if err != nil {
		return nil, err
	}
	provisionalCost, err := p.costModel.Compute(provisional.Profile.ProviderID, provisional.Profile.ModelID, estimate.InputTokens, estimate.EstimatedOutputTokens)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "provisional cost computation failed", err)
	}

	constraint, err := p.tracker.CheckConstraints(ctx, scope, provisionalCost.Amount)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "budget constraint check failed", err)
	}

	downgraded := false
	originalModel := ""
	switch constraint.Outcome {
	case budgettracker.OutcomeDeny:
		return nil, relayerr.New(relayerr.BudgetDenied, constraint.Reason)
	case budgettracker.OutcomeRequireApproval:
		approved, err := p.overrideRoleSatisfied(ctx, scope, req.ActorRoles)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.Internal, "override role check failed", err)
		}
		if !approved {
			return nil, relayerr.New(relayerr.BudgetDenied, constraint.Reason+"; approval required and no override role present")
		}
	case budgettracker.OutcomeAllowWithDowngrade:
		req.Metadata.QualityRequirement = relaymodel.QualityEconomy
		downgraded = true
		originalModel = provisional.Profile.ModelID
		if economy := filterByQualityTier(optCandidates, "economy"); len(economy) > 0 {
			optCandidates = economy
		} else {
			p.log.Warn("budget downgrade required but no economy-tier candidates available, keeping full candidate set",
				zap.String("requestId", req.ID))
		}
	}

	best, err := costoptimizer.Optimize(optCandidates, p.cfg.DefaultStrategy, estimate.InputTokens, estimate.EstimatedOutputTokens, p.cfg.LatencyReferenceMillis)
	if err != nil {
		return nil, err
	}
	req.Routing.Provider = best.Profile.ProviderID
	req.Routing.Model = best.Profile.ModelID

	estimatedCost, err := p.costModel.Compute(best.Profile.ProviderID, best.Profile.ModelID, estimate.InputTokens, estimate.EstimatedOutputTokens)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, "cost model lookup for selected candidate failed", err)
	}
	alternatives := alternativeModelIDs(optCandidates, best.Profile.ModelID)

	dispatch := func(dctx context.Context) (relaymodel.Response, error) {
		return p.dispatchAndRecord(dctx, req, best.Profile, estimate, estimatedCost, scope, constraint, downgraded, originalModel, alternatives)
	}

	if !p.cfg.CacheEnabled || p.cache == nil || responsecache.Bypass(req) {
		resp, err := dispatch(ctx)
		if err != nil {
			return nil, err
		}
		resp.CacheStatus = relaymodel.CacheBypass
		return &resp, nil
	}

	temperature := 0.7
	if req.Constraints.Temperature != nil {
		temperature = *req.Constraints.Temperature
	}
	maxTokens := estimate.EstimatedOutputTokens
	if req.Constraints.MaxTokens != nil {
		maxTokens = *req.Constraints.MaxTokens
	}
	fingerprint := responsecache.Fingerprint(req, temperature, maxTokens)

	if entry, hit := p.cache.Lookup(ctx, fingerprint); hit {
		p.recordCacheHitUsage(ctx, req, scope, best.Profile, constraint, downgraded, originalModel)
		resp := entry.Response
		resp.CacheStatus = relaymodel.CacheHit
		return &resp, nil
	}

	built, buildErr, _ := p.cache.Build(ctx, fingerprint, func(bctx context.Context) (relaymodel.Response, error) {
		if entry, hit := p.cache.Lookup(bctx, fingerprint); hit {
			return entry.Response, nil
		}
		resp, err := dispatch(bctx)
		if err != nil {
			return relaymodel.Response{}, err
		}
		p.cache.Store(bctx, fingerprint, resp, 0)
		return resp, nil
	})
	if buildErr != nil {
		return nil, buildErr
	}
	built.CacheStatus = relaymodel.CacheMiss
	return &built, nil
}

// dispatchAndRecord performs step 8 (provider dispatch with fallback
// chain iteration) and, on success, step 9 (normalize, cost, record,
// refresh) via finalizeResponse. The cache write happens in Handle's
// build closure, not here.
func (p *Pipeline) dispatchAndRecord(
	ctx context.Context,
	req *relaymodel.Request,
	selected providerregistry.Profile,
	estimate tokenestimator.Estimate,
	estimatedCost costmodel.Cost,
	scope budgettracker.ScopeTuple,
	constraint *budgettracker.ConstraintResult,
	downgraded bool,
	originalModel string,
	alternatives []string,
) (relaymodel.Response, error) {
	chain := append([]string{selected.ModelID}, p.providers.FallbackChain(selected.ProviderID, selected.ModelID)...)

	var tried []string
	var lastErr error

	for _, modelID := range chain {
		profile, err := p.providers.Get(selected.ProviderID, modelID)
		if err != nil {
			lastErr = err
			continue
		}
		if !p.providers.IsHealthy(profile.ProviderID, profile.ModelID) {
			tried = append(tried, modelID)
			lastErr = relayerr.New(relayerr.ProviderUnavailable, fmt.Sprintf("%s is unhealthy", profile.Key()))
			continue
		}
		adapter, ok := p.adapters[profile.ProviderID]
		if !ok {
			lastErr = relayerr.New(relayerr.ProviderUnavailable, fmt.Sprintf("no adapter registered for provider %q", profile.ProviderID))
			continue
		}

		tried = append(tried, modelID)
		adapterReq := buildAdapterRequest(req, profile.ModelID, estimate)

		result, callErr := adapter.Call(ctx, adapterReq, req.Deadline)
		if callErr == nil {
			p.providers.RecordSuccess(profile.ProviderID, profile.ModelID)
			return p.finalizeResponse(ctx, req, profile, result, estimate, estimatedCost, scope, constraint, downgraded, originalModel, alternatives, tried)
		}

		p.providers.RecordFailure(profile.ProviderID, profile.ModelID, callErr)
		lastErr = callErr
		if ctx.Err() != nil {
			return relaymodel.Response{}, relayerr.Wrap(relayerr.Cancelled, "request deadline exceeded during dispatch", ctx.Err())
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("fallback chain had no resolvable candidates")
	}
	return relaymodel.Response{}, relayerr.Wrap(relayerr.ProviderUnavailable, "fallback chain exhausted", lastErr)
}

// finalizeResponse implements §4.9 step 9: normalize the adapter's
// response, compute actual cost, record usage once per applicable budget
// (idempotent on req.ID), refresh budget status, and assemble the
// diagnostic response contract (§6, step 10).
func (p *Pipeline) finalizeResponse(
	ctx context.Context,
	req *relaymodel.Request,
	profile providerregistry.Profile,
	result *provideradapter.Response,
	estimate tokenestimator.Estimate,
	estimatedCost costmodel.Cost,
	scope budgettracker.ScopeTuple,
	constraint *budgettracker.ConstraintResult,
	downgraded bool,
	originalModel string,
	alternatives []string,
	tried []string,
) (relaymodel.Response, error) {
	inTok, outTok := result.Usage.InputTokens, result.Usage.OutputTokens
	if inTok == 0 && outTok == 0 {
		inTok, outTok = estimate.InputTokens, estimate.EstimatedOutputTokens
	}

	actualCost, err := p.costModel.Compute(profile.ProviderID, profile.ModelID, inTok, outTok)
	if err != nil {
		p.log.Error("actual cost computation failed, falling back to the estimate", zap.String("requestId", req.ID), zap.Error(err))
		actualCost = estimatedCost
	}

	now := time.Now().UTC()
	worst := budgettracker.StatusNormal
	affected := make([]string, 0, len(constraint.BudgetStatuses))
	for budgetID := range constraint.BudgetStatuses {
		affected = append(affected, budgetID.String())

		_, err := p.tracker.RecordUsage(ctx, budgettracker.RecordUsageInput{
			BudgetID:      budgetID,
			RequestID:     req.ID,
			Scope:         scope,
			Provider:      profile.ProviderID,
			Model:         profile.ModelID,
			InputTokens:   inTok,
			OutputTokens:  outTok,
			Cost:          actualCost.Amount,
			Currency:      actualCost.Currency,
			Timestamp:     now,
			OriginalModel: originalModel,
			Downgraded:    downgraded,
		})
		if err != nil {
			// The response has already been built; a usage write failure
			// at this point is logged only and never surfaced here. It is
			// not retried: the failed record is not queued anywhere.
			p.log.Error("usage recording failed after successful dispatch",
				zap.String("requestId", req.ID), zap.String("budgetId", budgetID.String()), zap.Error(err))
			continue
		}

		status, err := p.tracker.GetStatus(ctx, budgetID)
		if err != nil {
			p.log.Error("budget status refresh failed", zap.String("budgetId", budgetID.String()), zap.Error(err))
			continue
		}
		if statusSeverity(status.Status) > statusSeverity(worst) {
			worst = status.Status
		}
	}

	return relaymodel.Response{
		SelectedModel: profile.ModelID,
		Alternatives:  alternatives,
		Reasoning:     fmt.Sprintf("selected %s under the %q strategy", profile.Key(), p.cfg.DefaultStrategy),
		EstimatedCost: estimatedCost.Amount,
		ActualCost:    actualCost.Amount,
		BudgetImpact: relaymodel.BudgetImpact{
			Status:          relaymodel.BudgetStatusLevel(worst),
			AffectedBudgets: affected,
		},
		FallbackChain: tried,
		Output: relaymodel.ModelOutput{
			Content:      result.Content,
			Usage:        relaymodel.Usage{InputTokens: inTok, OutputTokens: outTok},
			FinishReason: result.FinishReason,
			ModelUsed:    result.ModelUsed,
		},
		Downgraded:    downgraded,
		OriginalModel: originalModel,
	}, nil
}

// recordCacheHitUsage appends a zero-cost usage entry so a cache hit is
// still visible in budget accounting (§4.9 step 7: "record a cache-hit
// usage entry and return the response").
func (p *Pipeline) recordCacheHitUsage(
	ctx context.Context,
	req *relaymodel.Request,
	scope budgettracker.ScopeTuple,
	profile providerregistry.Profile,
	constraint *budgettracker.ConstraintResult,
	downgraded bool,
	originalModel string,
) {
	for budgetID := range constraint.BudgetStatuses {
		_, err := p.tracker.RecordUsage(ctx, budgettracker.RecordUsageInput{
			BudgetID:      budgetID,
			RequestID:     req.ID,
			Scope:         scope,
			Provider:      profile.ProviderID,
			Model:         profile.ModelID,
			InputTokens:   0,
			OutputTokens:  0,
			Cost:          decimal.Zero,
			Currency:      profile.Currency,
			Timestamp:     time.Now().UTC(),
			OriginalModel: originalModel,
			Downgraded:    downgraded,
		})
		if err != nil {
			p.log.Error("cache-hit usage recording failed",
				zap.String("requestId", req.ID), zap.String("budgetId", budgetID.String()), zap.Error(err))
		}
	}
}

// buildAdapterRequest translates the normalized Request into the
// Provider Adapter's wire-agnostic Request shape (§4.8).
func buildAdapterRequest(req *relaymodel.Request, modelID string, estimate tokenestimator.Estimate) provideradapter.Request {
	ar := provideradapter.Request{
		Model:     modelID,
		Stream:    req.Constraints.Stream,
		MaxTokens: estimate.EstimatedOutputTokens,
	}
	if req.Constraints.MaxTokens != nil {
		ar.MaxTokens = *req.Constraints.MaxTokens
	}
	if req.Constraints.Temperature != nil {
		ar.Temperature = float32(*req.Constraints.Temperature)
	}

	if req.Content.IsChat() {
		ar.Messages = make([]provideradapter.Message, 0, len(req.Content.Messages))
		for _, m := range req.Content.Messages {
			ar.Messages = append(ar.Messages, provideradapter.Message{Role: m.Role, Name: m.Name, Content: m.Content})
		}
		return ar
	}

	if req.Content.SystemPrompt != "" {
		ar.Messages = append(ar.Messages, provideradapter.Message{Role: "system", Content: req.Content.SystemPrompt})
	}
	ar.Prompt = req.Content.Prompt
	return ar
}

// narrowCandidates restricts candidates to a steering-routed or
// caller-preferred (provider, model), falling back to the unfiltered set
// when the preference matches nothing (§4.9 step 4: "from the steered
// result plus the profile registry").
func narrowCandidates(candidates []providerregistry.Profile, providerPref, modelPref string) []providerregistry.Profile {
	if providerPref == "" && modelPref == "" {
		return candidates
	}
	var narrowed []providerregistry.Profile
	for _, c := range candidates {
		if modelPref != "" && c.ModelID != modelPref {
			continue
		}
		if providerPref != "" && c.ProviderID != providerPref {
			continue
		}
		narrowed = append(narrowed, c)
	}
	if len(narrowed) == 0 {
		return candidates
	}
	return narrowed
}

func toOptimizerCandidates(profiles []providerregistry.Profile) []costoptimizer.Candidate {
	out := make([]costoptimizer.Candidate, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, costoptimizer.Candidate{Profile: p})
	}
	return out
}

func filterByQualityTier(candidates []costoptimizer.Candidate, tier string) []costoptimizer.Candidate {
	var out []costoptimizer.Candidate
	for _, c := range candidates {
		t := c.Profile.QualityTier
		if t == "" {
			t = "standard"
		}
		if t == tier {
			out = append(out, c)
		}
	}
	return out
}

func alternativeModelIDs(candidates []costoptimizer.Candidate, selected string) []string {
	var out []string
	for _, c := range candidates {
		if c.Profile.ModelID == selected {
			continue
		}
		out = append(out, c.Profile.ModelID)
	}
	return out
}

// overrideRoleSatisfied reports whether any budget applicable to scope
// both allows overrides and lists one of actorRoles, letting step 5's
// REQUIRE_APPROVAL outcome proceed instead of terminating (§4.9 step 5:
// "unless an override role is present"). Mirrors the Budget Tracker's own
// applicable-budgets lookup since overrideRoles lives on the Definition,
// not on the tracker's ConstraintResult.
func (p *Pipeline) overrideRoleSatisfied(ctx context.Context, scope budgettracker.ScopeTuple, actorRoles []string) (bool, error) {
	if len(actorRoles) == 0 || p.budgetRegistry == nil {
		return false, nil
	}
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
		defs, err := p.budgetRegistry.ListByScope(ctx, l.kind, l.id)
		if err != nil {
			return false, err
		}
		for _, def := range defs {
			if !def.AllowOverrides {
				continue
			}
			for _, role := range def.OverrideRoles.Data() {
				if containsString(actorRoles, role) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func statusSeverity(s budgettracker.Status) int {
	switch s {
	case budgettracker.StatusExceeded:
		return 3
	case budgettracker.StatusCritical:
		return 2
	case budgettracker.StatusWarning:
		return 1
	default:
		return 0
	}
}
