package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sells-group/enrichment-service/internal/cache"
	"github.com/sells-group/enrichment-service/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.CircuitBreakerEvent
}

func (s *recordingSink) LogCircuitBreakerEvent(_ context.Context, e model.CircuitBreakerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

func newTestBreaker(t *testing.T, cfg BreakerConfig) (*CircuitBreaker, *recordingSink, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := &recordingSink{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(cfg, cache.NewRedisStore(client), sink).
		WithNowFunc(func() time.Time { return now })
	return cb, sink, &now
}

func failingOp(msg string) func(context.Context) (string, error) {
	return func(_ context.Context) (string, error) {
		return "", errors.New(msg)
	}
}

func okOp(val string) func(context.Context) (string, error) {
	return func(_ context.Context) (string, error) {
		return val, nil
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb, _, _ := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	val, err := Execute(ctx, cb, okOp("ok"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected op result, got %q", val)
	}
	if state := cb.State(ctx); state != StateClosed {
		t.Errorf("expected CLOSED, got %s", state)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _, _ := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Execute(ctx, cb, failingOp("boom"), nil)
	}

	if state := cb.State(ctx); state != StateOpen {
		t.Fatalf("expected OPEN after 3 failures, got %s", state)
	}
	if n := cb.FailureCount(ctx); n != 3 {
		t.Errorf("expected failure count 3, got %d", n)
	}

	// Within the timeout, calls are rejected without invoking the operation.
	var called bool
	_, err := Execute(ctx, cb, func(_ context.Context) (string, error) {
		called = true
		return "", nil
	}, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("operation must not run while circuit is open")
	}
}

func TestCircuitBreaker_OpenUsesFallback(t *testing.T) {
	cb, _, _ := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Execute(ctx, cb, failingOp("boom"), nil)
	}

	val, err := Execute(ctx, cb, okOp("live"), okOp("fallback"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "fallback" {
		t.Errorf("expected fallback result while open, got %q", val)
	}
}

func TestCircuitBreaker_TimeoutTransitionsHalfOpen(t *testing.T) {
	cb, _, now := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Execute(ctx, cb, failingOp("boom"), nil)
	}

	*now = now.Add(31 * time.Second)

	// The next call probes: the op runs.
	var called bool
	_, err := Execute(ctx, cb, func(_ context.Context) (string, error) {
		called = true
		if cb.State(ctx) != StateHalfOpen {
			t.Errorf("expected HALF_OPEN during probe, got %s", cb.State(ctx))
		}
		return "probe", nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("probe operation should have run after timeout elapsed")
	}
}

func TestCircuitBreaker_TwoSuccessesCloseFromHalfOpen(t *testing.T) {
	cb, _, now := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Execute(ctx, cb, failingOp("boom"), nil)
	}
	*now = now.Add(31 * time.Second)

	_, _ = Execute(ctx, cb, okOp("a"), nil)
	if state := cb.State(ctx); state != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after one success, got %s", state)
	}

	_, _ = Execute(ctx, cb, okOp("b"), nil)
	if state := cb.State(ctx); state != StateClosed {
		t.Fatalf("expected CLOSED after two successes, got %s", state)
	}
	if n := cb.FailureCount(ctx); n != 0 {
		t.Errorf("expected failure counter reset, got %d", n)
	}
	if n := cb.SuccessCount(ctx); n != 0 {
		t.Errorf("expected success counter reset, got %d", n)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, _, now := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Execute(ctx, cb, failingOp("boom"), nil)
	}
	firstFailure := cb.LastFailure(ctx)
	*now = now.Add(31 * time.Second)

	_, _ = Execute(ctx, cb, failingOp("still down"), nil)

	if state := cb.State(ctx); state != StateOpen {
		t.Fatalf("expected OPEN after half-open failure, got %s", state)
	}
	last := cb.LastFailure(ctx)
	if last == nil || !last.After(*firstFailure) {
		t.Error("expected last failure timestamp to advance")
	}
}

func TestCircuitBreaker_FallbackMasksOperationFailure(t *testing.T) {
	cb, _, _ := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	val, err := Execute(ctx, cb, failingOp("boom"), okOp("fallback"))
	if err != nil {
		t.Fatalf("fallback should mask the failure, got %v", err)
	}
	if val != "fallback" {
		t.Errorf("expected fallback value, got %q", val)
	}
	if n := cb.FailureCount(ctx); n != 1 {
		t.Errorf("failure must still be recorded, got count %d", n)
	}
}

func TestCircuitBreaker_EventsRecorded(t *testing.T) {
	cb, sink, _ := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	_, _ = Execute(ctx, cb, okOp("a"), nil)
	for i := 0; i < 3; i++ {
		_, _ = Execute(ctx, cb, failingOp("boom"), nil)
	}

	got := sink.types()
	want := []string{EventSuccess, EventFailure, EventFailure, EventOpened, EventFailure}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestCircuitBreaker_StatusSnapshot(t *testing.T) {
	cb, _, _ := newTestBreaker(t, DefaultBreakerConfig("search_api"))
	ctx := context.Background()

	_, _ = Execute(ctx, cb, failingOp("boom"), nil)

	status := cb.Status(ctx)
	if status.State != StateClosed {
		t.Errorf("expected CLOSED, got %s", status.State)
	}
	if status.FailureCount != 1 {
		t.Errorf("expected 1 failure, got %d", status.FailureCount)
	}
	if status.LastFailure == nil {
		t.Error("expected last failure timestamp")
	}
}
