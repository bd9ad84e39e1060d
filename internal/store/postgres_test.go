package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-service/internal/model"
)

// newMockSink creates a PostgresSink backed by pgxmock for unit testing.
func newMockSink(t *testing.T) (*PostgresSink, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s := &PostgresSink{pool: mock, nowFunc: func() time.Time { return now }}
	return s, mock
}

func TestLogCircuitBreakerEvent(t *testing.T) {
	s, mock := newMockSink(t)

	mock.ExpectExec(`INSERT INTO circuit_breaker_events`).
		WithArgs(pgxmock.AnyArg(), "search_api", "OPENED", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.LogCircuitBreakerEvent(context.Background(), model.CircuitBreakerEvent{
		ServiceName: "search_api",
		EventType:   "OPENED",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogCircuitBreakerEvent_InsertFails(t *testing.T) {
	s, mock := newMockSink(t)

	mock.ExpectExec(`INSERT INTO circuit_breaker_events`).
		WillReturnError(eris.New("connection reset"))

	err := s.LogCircuitBreakerEvent(context.Background(), model.CircuitBreakerEvent{
		ServiceName: "search_api",
		EventType:   "FAILURE",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert breaker event")
}

func TestLogSearchIteration(t *testing.T) {
	s, mock := newMockSink(t)

	mock.ExpectExec(`INSERT INTO search_logs`).
		WithArgs(pgxmock.AnyArg(), "p-1", 2, "Acme pricing model plans cost",
			pgxmock.AnyArg(), true, "CLOSED", int64(45), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.LogSearchIteration(context.Background(), model.SearchLog{
		PersonID:            "p-1",
		Iteration:           2,
		Query:               "Acme pricing model plans cost",
		TopResults:          []model.SearchResult{{Title: "r", URL: "https://r.test"}},
		CacheHit:            true,
		CircuitBreakerState: "CLOSED",
		ResponseTimeMs:      45,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveContextSnippets_CommitsBatch(t *testing.T) {
	s, mock := newMockSink(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO context_snippets`).
		WithArgs(pgxmock.AnyArg(), "COMPANY", "c-1", string(model.SnippetCompanyValueProp),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO context_snippets`).
		WithArgs(pgxmock.AnyArg(), "COMPANY", "c-1", string(model.SnippetProductNames),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	snippets := []model.ContextSnippet{
		{
			EntityType:  "COMPANY",
			EntityID:    "c-1",
			SnippetType: model.SnippetCompanyValueProp,
			Payload:     model.ValuePropPayload{Value: "widgets"},
		},
		{
			EntityType:  "COMPANY",
			EntityID:    "c-1",
			SnippetType: model.SnippetProductNames,
			Payload:     model.ProductNamesPayload{Products: []string{"Widget Pro"}},
		},
	}
	require.NoError(t, s.SaveContextSnippets(context.Background(), snippets))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveContextSnippets_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockSink(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO context_snippets`).
		WithArgs(pgxmock.AnyArg(), "COMPANY", "c-1", string(model.SnippetPricingModel),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(eris.New("constraint violation"))
	mock.ExpectRollback()

	snippets := []model.ContextSnippet{
		{
			EntityType:  "COMPANY",
			EntityID:    "c-1",
			SnippetType: model.SnippetPricingModel,
			Payload:     model.PricingModelPayload{Model: "per-seat"},
		},
	}
	err := s.SaveContextSnippets(context.Background(), snippets)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveContextSnippets_EmptyBatchIsNoop(t *testing.T) {
	s, mock := newMockSink(t)

	require.NoError(t, s.SaveContextSnippets(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentBreakerEvents(t *testing.T) {
	s, mock := newMockSink(t)

	rows := pgxmock.NewRows([]string{"service_name", "event_type", "error_message"}).
		AddRow("search_api", "OPENED", "").
		AddRow("search_api", "FAILURE", "timeout")
	mock.ExpectQuery(`SELECT service_name, event_type`).
		WithArgs("search_api", 10).
		WillReturnRows(rows)

	events, err := s.RecentBreakerEvents(context.Background(), "search_api", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "OPENED", events[0].EventType)
	assert.Equal(t, "timeout", events[1].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	s, mock := newMockSink(t)

	for range migrations {
		mock.ExpectExec(`CREATE (TABLE|INDEX) IF NOT EXISTS`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
