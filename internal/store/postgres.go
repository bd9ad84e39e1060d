// Package store persists telemetry to Postgres: circuit breaker events,
// per-iteration search logs, and context snippet batches. It is the
// self-hosted alternative to shipping telemetry through the campaign
// service's HTTP API.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-service/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, narrow enough for
// pgxmock to satisfy in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresSink writes telemetry rows through a pgx pool.
type PostgresSink struct {
	pool    Pool
	closeFn func()

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewPostgres connects a sink to the given database.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresSink, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresSink{
		pool:    pool,
		closeFn: pool.Close,
		nowFunc: time.Now,
	}, nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// LogCircuitBreakerEvent records one breaker outcome or transition.
func (s *PostgresSink) LogCircuitBreakerEvent(ctx context.Context, event model.CircuitBreakerEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO circuit_breaker_events (id, service_name, event_type, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), event.ServiceName, event.EventType, nullable(event.ErrorMessage), s.nowFunc())
	if err != nil {
		return eris.Wrap(err, "store: insert breaker event")
	}
	return nil
}

// LogSearchIteration records one agent iteration with its top results.
func (s *PostgresSink) LogSearchIteration(ctx context.Context, entry model.SearchLog) error {
	results, err := json.Marshal(entry.TopResults)
	if err != nil {
		return eris.Wrap(err, "store: marshal top results")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_logs (id, person_id, iteration, query, top_results, cache_hit, circuit_breaker_state, response_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(), entry.PersonID, entry.Iteration, entry.Query, results,
		entry.CacheHit, entry.CircuitBreakerState, entry.ResponseTimeMs, s.nowFunc())
	if err != nil {
		return eris.Wrap(err, "store: insert search log")
	}
	return nil
}

// SaveContextSnippets persists a batch atomically; a failed row rolls back
// the whole batch.
func (s *PostgresSink) SaveContextSnippets(ctx context.Context, snippets []model.ContextSnippet) error {
	if len(snippets) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin snippet batch")
	}
	defer tx.Rollback(ctx)

	now := s.nowFunc()
	for _, snippet := range snippets {
		payload, err := json.Marshal(snippet.Payload)
		if err != nil {
			return eris.Wrap(err, "store: marshal snippet payload")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO context_snippets (id, entity_type, entity_id, snippet_type, payload, confidence_score, cache_hit_ratio, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.NewString(), snippet.EntityType, snippet.EntityID, string(snippet.SnippetType),
			payload, snippet.ConfidenceScore, snippet.CacheHitRatio, now)
		if err != nil {
			return eris.Wrap(err, "store: insert snippet")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "store: commit snippet batch")
	}
	return nil
}

// RecentBreakerEvents returns the latest events for a service, newest first.
func (s *PostgresSink) RecentBreakerEvents(ctx context.Context, serviceName string, limit int) ([]model.CircuitBreakerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT service_name, event_type, COALESCE(error_message, '')
		 FROM circuit_breaker_events WHERE service_name = $1
		 ORDER BY created_at DESC LIMIT $2`,
		serviceName, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: query breaker events")
	}
	defer rows.Close()

	var events []model.CircuitBreakerEvent
	for rows.Next() {
		var e model.CircuitBreakerEvent
		if err := rows.Scan(&e.ServiceName, &e.EventType, &e.ErrorMessage); err != nil {
			return nil, eris.Wrap(err, "store: scan breaker event")
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate breaker events")
	}
	return events, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
