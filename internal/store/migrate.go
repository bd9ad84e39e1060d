package store

import (
	"context"

	"github.com/rotisserie/eris"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS circuit_breaker_events (
		id UUID PRIMARY KEY,
		service_name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cb_events_service_created
		ON circuit_breaker_events (service_name, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS search_logs (
		id UUID PRIMARY KEY,
		person_id TEXT NOT NULL,
		iteration INT NOT NULL,
		query TEXT NOT NULL,
		top_results JSONB NOT NULL DEFAULT '[]',
		cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
		circuit_breaker_state TEXT NOT NULL,
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_search_logs_person
		ON search_logs (person_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS context_snippets (
		id UUID PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		snippet_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		cache_hit_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_context_snippets_entity
		ON context_snippets (entity_type, entity_id)`,
}

// Migrate applies the telemetry schema. Statements are idempotent so repeated
// startup runs are safe.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "store: migrate")
		}
	}
	return nil
}
