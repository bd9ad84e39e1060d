// Package config loads application configuration from file and environment
// and owns global logger initialization.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/enrichment-service/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Campaign  CampaignConfig  `yaml:"campaign" mapstructure:"campaign"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Agent     AgentConfig     `yaml:"agent" mapstructure:"agent"`
	Breaker   BreakerConfig   `yaml:"breaker" mapstructure:"breaker"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// RedisConfig holds the coordination store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// FirecrawlConfig holds search provider API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings. The planner runs on the
// cheaper model; extraction gets the stronger one.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	PlannerModel   string `yaml:"planner_model" mapstructure:"planner_model"`
	ExtractorModel string `yaml:"extractor_model" mapstructure:"extractor_model"`
	UseLLMPlanner  bool   `yaml:"use_llm_planner" mapstructure:"use_llm_planner"`
}

// CampaignConfig points at the campaign service.
type CampaignConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SearchConfig tunes the cache-aside search layer.
type SearchConfig struct {
	CacheTTLSecs  int  `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	ResultLimit   int  `yaml:"result_limit" mapstructure:"result_limit"`
	ScrapeContent bool `yaml:"scrape_content" mapstructure:"scrape_content"`
}

// CacheTTL returns the configured TTL as a duration.
func (c SearchConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// AgentConfig tunes the enrichment loop.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
	PaceMs        int `yaml:"pace_ms" mapstructure:"pace_ms"`
}

// Pace returns the iteration pacing interval.
func (c AgentConfig) Pace() time.Duration {
	return time.Duration(c.PaceMs) * time.Millisecond
}

// BreakerConfig tunes the search circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	TimeoutSecs       int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SuccessesRequired int `yaml:"successes_required" mapstructure:"successes_required"`
}

// QueueConfig tunes job processing and admission control.
type QueueConfig struct {
	MaxAttempts       int   `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseMs     int   `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	Concurrency       int   `yaml:"concurrency" mapstructure:"concurrency"`
	MaxConcurrentJobs int64 `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	RateLimit         int64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateWindowSecs    int   `yaml:"rate_window_secs" mapstructure:"rate_window_secs"`
}

// BackoffBase returns the first retry delay.
func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// RateWindow returns the rate limit window.
func (c QueueConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSecs) * time.Second
}

// TelemetryConfig selects where breaker events and search logs go:
// "campaign" ships them to the campaign service, "postgres" writes them
// directly, "none" disables the sink.
type TelemetryConfig struct {
	Sink        string            `yaml:"sink" mapstructure:"sink"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("anthropic.planner_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.extractor_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.use_llm_planner", false)
	v.SetDefault("campaign.base_url", "http://localhost:3001")
	v.SetDefault("search.cache_ttl_secs", 1800)
	v.SetDefault("search.result_limit", 5)
	v.SetDefault("search.scrape_content", false)
	v.SetDefault("agent.max_iterations", 5)
	v.SetDefault("agent.pace_ms", 500)
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.timeout_secs", 30)
	v.SetDefault("breaker.successes_required", 2)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_ms", 2000)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.max_concurrent_jobs", 10)
	v.SetDefault("queue.rate_limit", 10)
	v.SetDefault("queue.rate_window_secs", 60)
	v.SetDefault("telemetry.sink", "campaign")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
