// Package bootstrap wires every subsystem package into a runnable
// Pipeline from a loaded config.Config, the way the teacher's
// cmd/server/main.go wires its database/cache/router/worker pieces
// together before starting servers.
package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaycore/relaycore/internal/budgetregistry"
	"github.com/relaycore/relaycore/internal/budgettracker"
	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/costmodel"
	"github.com/relaycore/relaycore/internal/costoptimizer"
	"github.com/relaycore/relaycore/internal/pipeline"
	"github.com/relaycore/relaycore/internal/provideradapter"
	"github.com/relaycore/relaycore/internal/provideradapter/anthropicadapter"
	"github.com/relaycore/relaycore/internal/provideradapter/openaiadapter"
	"github.com/relaycore/relaycore/internal/provideradapter/specialistadapter"
	"github.com/relaycore/relaycore/internal/providerregistry"
	"github.com/relaycore/relaycore/internal/responsecache"
	"github.com/relaycore/relaycore/internal/steering"
	"github.com/relaycore/relaycore/internal/sweep"
	"github.com/relaycore/relaycore/internal/tokenestimator"
)

// System holds every constructed component, so cmd/relaycore can start
// the sweep, expose health, and shut things down cleanly.
type System struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Steering  *steering.Engine
	Providers *providerregistry.Registry
	Budgets   *budgetregistry.Registry
	Tracker   *budgettracker.Tracker
	Cache     *responsecache.Cache
	Pipeline  *pipeline.Pipeline
	Sweeper   *sweep.Sweeper
}

// Build constructs every subsystem from cfg against an already-open db,
// returning the wired System. db is passed in rather than opened here so
// the caller (serve) owns the connection lifecycle.
func Build(cfg *config.Config, db *gorm.DB, log *zap.Logger) (*System, error) {
	redisClient := newRedisClient(cfg.Redis)

	engine, err := newSteeringEngine(cfg.Steering)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: steering engine: %w", err)
	}

	adapters, err := buildAdapters(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: provider adapters: %w", err)
	}

	providers := providerregistry.New(log, 3, 30*time.Second)
	profiles, err := buildProfiles(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: provider profiles: %w", err)
	}
	if err := providers.Reload(profiles, func(providerID string) bool {
		_, ok := adapters[providerID]
		return ok
	}); err != nil {
		return nil, fmt.Errorf("bootstrap: provider registry reload: %w", err)
	}

	budgets := budgetregistry.New(db)
	tracker := budgettracker.New(db, budgets, cfg.Budget.StatusFreshness)
	costModel := costmodel.New(providers)

	var cache *responsecache.Cache
	if cfg.Cache.Enabled {
		cache = responsecache.New(redisClient, responsecache.Config{
			DefaultTTL: cfg.Cache.DefaultTTL,
			LeaseWait:  cfg.Cache.SingleFlightWait,
		})
	}

	strategy := costoptimizer.Strategy(cfg.Optimizer.DefaultStrategy)
	if strategy == "" {
		strategy = costoptimizer.StrategyBalanced
	}

	p := pipeline.New(
		pipeline.Config{
			MaxConcurrency:         cfg.Server.MaxConcurrency,
			CacheEnabled:           cfg.Cache.Enabled,
			DefaultStrategy:        strategy,
			LatencyReferenceMillis: cfg.Optimizer.LatencyReference.Milliseconds(),
		},
		tokenestimator.New(log),
		engine,
		tracker,
		budgets,
		providers,
		costModel,
		cache,
		adapters,
		log,
	)

	sweeper, err := sweep.New(budgets, tracker, cfg.Budget.ResetSweepCron, log)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reset sweep: %w", err)
	}

	return &System{
		DB:        db,
		Redis:     redisClient,
		Steering:  engine,
		Providers: providers,
		Budgets:   budgets,
		Tracker:   tracker,
		Cache:     cache,
		Pipeline:  p,
		Sweeper:   sweeper,
	}, nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	addr := strings.TrimPrefix(cfg.URL, "redis://")
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// newSteeringEngine loads the configured rule set, falling back to a
// zero-value pass-through Engine when no rules file is configured or
// present — steering is optional ambient behavior, not a hard dependency
// (§4.3: "no rule set loaded ... is a no-op pass-through").
func newSteeringEngine(cfg config.SteeringConfig) (*steering.Engine, error) {
	if cfg.RulesPath == "" {
		return &steering.Engine{}, nil
	}
	if _, err := os.Stat(cfg.RulesPath); os.IsNotExist(err) {
		return &steering.Engine{}, nil
	}
	return steering.New(cfg)
}

// buildAdapters constructs one Adapter per distinct provider id named in
// cfg.Providers, following the teacher's pattern of a provider-keyed
// adapter/client map.
func buildAdapters(entries []config.ProviderEntry) (map[string]provideradapter.Adapter, error) {
	adapters := make(map[string]provideradapter.Adapter)
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if _, exists := adapters[entry.Provider]; exists {
			continue
		}
		caps := capsSet(entry.Capabilities)
		apiKey := os.Getenv(entry.APIKeyEnv)

		switch entry.Provider {
		case "openai":
			adapters[entry.Provider] = openaiadapter.New(openaiadapter.Config{
				APIKey:       apiKey,
				BaseURL:      entry.BaseURL,
				Capabilities: caps,
			})
		case "anthropic":
			adapters[entry.Provider] = anthropicadapter.New(anthropicadapter.Config{
				APIKey:       apiKey,
				MaxRetries:   2,
				Capabilities: caps,
			})
		default:
			adapters[entry.Provider] = specialistadapter.New(specialistadapter.Config{
				ProviderID:   entry.Provider,
				APIKey:       apiKey,
				BaseURL:      entry.BaseURL,
				Capabilities: caps,
			})
		}
	}
	return adapters, nil
}

// buildProfiles translates the static config seed into Provider Profiles
// (§3). A richer admin-driven reload path may replace this at runtime.
func buildProfiles(entries []config.ProviderEntry) ([]providerregistry.Profile, error) {
	profiles := make([]providerregistry.Profile, 0, len(entries))
	for _, entry := range entries {
		inCost, err := decimal.NewFromString(entry.InputCostPerTok)
		if err != nil {
			return nil, fmt.Errorf("provider %s/%s: invalid input cost: %w", entry.Provider, entry.Model, err)
		}
		outCost, err := decimal.NewFromString(entry.OutputCostPerTok)
		if err != nil {
			return nil, fmt.Errorf("provider %s/%s: invalid output cost: %w", entry.Provider, entry.Model, err)
		}
		profiles = append(profiles, providerregistry.Profile{
			ProviderID:       entry.Provider,
			ModelID:          entry.Model,
			Capabilities:     capsSet(entry.Capabilities),
			InputCostPerTok:  inCost,
			OutputCostPerTok: outCost,
			Currency:         entry.Currency,
			AdvertisedP50:    time.Duration(entry.AdvertisedP50Ms) * time.Millisecond,
			MaxConcurrency:   entry.MaxConcurrency,
			Enabled:          entry.Enabled,
			Fallbacks:        entry.Fallbacks,
		})
	}
	return profiles, nil
}

func capsSet(caps []string) map[string]bool {
	set := make(map[string]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}
