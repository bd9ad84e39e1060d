package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/agent"
	"github.com/sells-group/enrichment-service/internal/cache"
	"github.com/sells-group/enrichment-service/internal/gateway"
	"github.com/sells-group/enrichment-service/internal/model"
	"github.com/sells-group/enrichment-service/internal/pubsub"
	"github.com/sells-group/enrichment-service/internal/queue"
	"github.com/sells-group/enrichment-service/internal/resilience"
	"github.com/sells-group/enrichment-service/internal/search"
	"github.com/sells-group/enrichment-service/internal/store"
	anthropicpkg "github.com/sells-group/enrichment-service/pkg/anthropic"
	"github.com/sells-group/enrichment-service/pkg/campaign"
	"github.com/sells-group/enrichment-service/pkg/firecrawl"
)

// serviceEnv holds every wired component a command might need.
type serviceEnv struct {
	Redis    *redis.Client
	Store    cache.Store
	Campaign campaign.Client
	Breaker  *resilience.CircuitBreaker
	Search   *search.Client
	Agent    *agent.Agent
	Bus      *pubsub.Bus
	Queue    *queue.Queue
	Guards   *queue.Guards
	Gateway  *gateway.Gateway

	pgSink *store.PostgresSink
}

// telemetryRouter keeps status transitions and snippet persistence on the
// campaign service while redirecting telemetry writes to Postgres.
type telemetryRouter struct {
	campaign.Client
	sink *store.PostgresSink
}

func (r *telemetryRouter) LogSearchIteration(ctx context.Context, entry model.SearchLog) error {
	return r.sink.LogSearchIteration(ctx, entry)
}

func (r *telemetryRouter) LogCircuitBreakerEvent(ctx context.Context, event model.CircuitBreakerEvent) error {
	return r.sink.LogCircuitBreakerEvent(ctx, event)
}

func initEnv(ctx context.Context) (*serviceEnv, error) {
	redisClient := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	cacheStore := cache.NewRedisStore(redisClient)

	campaignClient := campaign.NewClient(cfg.Campaign.BaseURL)

	env := &serviceEnv{
		Redis:    redisClient,
		Store:    cacheStore,
		Campaign: campaignClient,
	}

	switch cfg.Telemetry.Sink {
	case "postgres":
		sink, err := store.NewPostgres(ctx, cfg.Telemetry.DatabaseURL, cfg.Telemetry.Pool)
		if err != nil {
			return nil, eris.Wrap(err, "init telemetry sink")
		}
		if err := sink.Migrate(ctx); err != nil {
			sink.Close()
			return nil, err
		}
		env.pgSink = sink
		env.Campaign = &telemetryRouter{Client: campaignClient, sink: sink}
		zap.L().Info("telemetry routed to postgres")
	case "none":
		zap.L().Info("telemetry sink disabled")
	default:
		zap.L().Info("telemetry routed to campaign service")
	}

	breakerCfg := resilience.DefaultBreakerConfig("search_api")
	if cfg.Breaker.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.Breaker.FailureThreshold
	}
	if cfg.Breaker.TimeoutSecs > 0 {
		breakerCfg.Timeout = time.Duration(cfg.Breaker.TimeoutSecs) * time.Second
		breakerCfg.HalfOpenTimeout = breakerCfg.Timeout
	}
	if cfg.Breaker.SuccessesRequired > 0 {
		breakerCfg.SuccessesRequired = cfg.Breaker.SuccessesRequired
	}
	var sink resilience.EventSink
	if cfg.Telemetry.Sink != "none" {
		sink = env.Campaign
	}
	env.Breaker = resilience.NewCircuitBreaker(breakerCfg, cacheStore, sink)

	firecrawlClient := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	env.Search = search.NewClient(search.Config{
		CacheTTL:      cfg.Search.CacheTTL(),
		ResultLimit:   cfg.Search.ResultLimit,
		ScrapeContent: cfg.Search.ScrapeContent,
	}, firecrawlClient, cacheStore, env.Breaker)

	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
	var planner agent.Planner = agent.TemplatePlanner{}
	if cfg.Anthropic.UseLLMPlanner {
		planner = agent.NewLLMPlanner(llm, cfg.Anthropic.PlannerModel)
		zap.L().Info("llm query planner enabled", zap.String("model", cfg.Anthropic.PlannerModel))
	}
	extractor, err := agent.NewLLMExtractor(llm, cfg.Anthropic.ExtractorModel)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init extractor")
	}

	env.Bus = pubsub.NewBus(redisClient)
	env.Agent = agent.New(agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		Pace:          cfg.Agent.Pace(),
	}, env.Campaign, env.Search, planner, extractor, env.Bus)

	env.Queue = queue.New(queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase(),
	}, redisClient, cacheStore, env.Campaign)

	env.Guards = queue.NewGuards(queue.GuardConfig{
		MaxConcurrentJobs: cfg.Queue.MaxConcurrentJobs,
		RateLimit:         cfg.Queue.RateLimit,
		RateWindow:        cfg.Queue.RateWindow(),
	}, cacheStore)

	env.Gateway = gateway.New(env.Bus)

	return env, nil
}

// Close releases connections in reverse dependency order.
func (e *serviceEnv) Close() {
	if e.pgSink != nil {
		e.pgSink.Close()
	}
	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			zap.L().Warn("redis close failed", zap.Error(err))
		}
	}
}
