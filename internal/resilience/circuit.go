// Package resilience provides the circuit breaker and retry patterns that
// protect calls to external services.
package resilience

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/cache"
	"github.com/sells-group/enrichment-service/internal/model"
)

// State is a circuit breaker state label, externalized to the coordination
// store so every worker process observes the same view.
type State string

const (
	// StateClosed is the normal operating state — requests flow through.
	StateClosed State = "CLOSED"
	// StateOpen means too many failures — requests are rejected or fall back.
	StateOpen State = "OPEN"
	// StateHalfOpen allows probe requests to test recovery.
	StateHalfOpen State = "HALF_OPEN"
)

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open and no fallback was supplied.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker event types recorded to the telemetry sink.
const (
	EventSuccess    = "SUCCESS"
	EventFailure    = "FAILURE"
	EventOpened     = "OPENED"
	EventHalfOpened = "HALF_OPENED"
	EventClosed     = "CLOSED"
)

// EventSink receives breaker outcome and transition events. Logging is
// best-effort: sink failures are swallowed.
type EventSink interface {
	LogCircuitBreakerEvent(ctx context.Context, event model.CircuitBreakerEvent) error
}

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// ServiceName namespaces the breaker's keys in the coordination store.
	ServiceName string

	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 3.
	FailureThreshold int

	// Timeout is how long the circuit stays open before a call may probe
	// recovery. Default: 30s.
	Timeout time.Duration

	// HalfOpenTimeout bounds the lifetime of the breaker's stored state and
	// counters, so a crashed process recovers instead of wedging open.
	// Default: 30s.
	HalfOpenTimeout time.Duration

	// SuccessesRequired is the number of consecutive half-open successes
	// needed to close the circuit. Default: 2.
	SuccessesRequired int
}

// DefaultBreakerConfig returns the defaults for a named service.
func DefaultBreakerConfig(serviceName string) BreakerConfig {
	return BreakerConfig{
		ServiceName:       serviceName,
		FailureThreshold:  3,
		Timeout:           30 * time.Second,
		HalfOpenTimeout:   30 * time.Second,
		SuccessesRequired: 2,
	}
}

// BreakerStatus is a point-in-time snapshot for observability endpoints.
type BreakerStatus struct {
	State        State      `json:"state"`
	FailureCount int64      `json:"failureCount"`
	SuccessCount int64      `json:"successCount"`
	LastFailure  *time.Time `json:"lastFailure,omitempty"`
}

// CircuitBreaker serializes its state through the coordination store.
// Concurrent workers race on read-then-write of the state key; that is
// accepted as best-effort protection, not a linearizable guarantee. The
// failure and success counters use the store's atomic increment.
type CircuitBreaker struct {
	cfg   BreakerConfig
	store cache.Store
	sink  EventSink

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a breaker backed by the given store. The sink may
// be nil to disable event logging.
func NewCircuitBreaker(cfg BreakerConfig, store cache.Store, sink EventSink) *CircuitBreaker {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "search_api"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 30 * time.Second
	}
	if cfg.SuccessesRequired <= 0 {
		cfg.SuccessesRequired = 2
	}
	return &CircuitBreaker{
		cfg:     cfg,
		store:   store,
		sink:    sink,
		nowFunc: time.Now,
	}
}

// WithNowFunc overrides the clock for tests.
func (cb *CircuitBreaker) WithNowFunc(now func() time.Time) *CircuitBreaker {
	cb.nowFunc = now
	return cb
}

// Execute runs op through the breaker cb. If the circuit is open and the
// timeout has not elapsed, fallback is invoked when supplied, otherwise
// ErrCircuitOpen is returned. When op fails, the failure is recorded and
// fallback (if supplied) masks the error.
func Execute[T any](
	ctx context.Context,
	cb *CircuitBreaker,
	op func(ctx context.Context) (T, error),
	fallback func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	if cb.State(ctx) == StateOpen {
		last := cb.LastFailure(ctx)
		// A missing timestamp means the failure record expired; treat the
		// timeout as elapsed rather than wedging open.
		if last == nil || cb.nowFunc().Sub(*last) > cb.cfg.Timeout {
			zap.L().Info("circuit breaker timeout elapsed, probing recovery",
				zap.String("service", cb.cfg.ServiceName))
			cb.transition(ctx, StateHalfOpen)
		} else {
			if fallback != nil {
				zap.L().Warn("circuit breaker open, using fallback",
					zap.String("service", cb.cfg.ServiceName))
				return fallback(ctx)
			}
			return zero, ErrCircuitOpen
		}
	}

	result, err := op(ctx)
	if err == nil {
		cb.onSuccess(ctx)
		return result, nil
	}

	cb.onFailure(ctx, err)
	if fallback != nil {
		zap.L().Warn("circuit breaker recorded failure, using fallback",
			zap.String("service", cb.cfg.ServiceName), zap.Error(err))
		return fallback(ctx)
	}
	return zero, err
}

// State returns the current state, defaulting to CLOSED when absent.
func (cb *CircuitBreaker) State(ctx context.Context) State {
	raw, ok := cb.store.Get(ctx, cb.key("state"))
	if !ok {
		return StateClosed
	}
	switch State(raw) {
	case StateOpen, StateHalfOpen, StateClosed:
		return State(raw)
	default:
		return StateClosed
	}
}

// FailureCount returns the consecutive failure counter.
func (cb *CircuitBreaker) FailureCount(ctx context.Context) int64 {
	return cb.counter(ctx, "failures")
}

// SuccessCount returns the half-open success counter.
func (cb *CircuitBreaker) SuccessCount(ctx context.Context) int64 {
	return cb.counter(ctx, "successes")
}

// LastFailure returns the most recent failure time, nil when none recorded.
func (cb *CircuitBreaker) LastFailure(ctx context.Context) *time.Time {
	raw, ok := cb.store.Get(ctx, cb.key("last_failure"))
	if !ok {
		return nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(millis)
	return &t
}

// Status snapshots the breaker for the observability endpoint.
func (cb *CircuitBreaker) Status(ctx context.Context) BreakerStatus {
	return BreakerStatus{
		State:        cb.State(ctx),
		FailureCount: cb.FailureCount(ctx),
		SuccessCount: cb.SuccessCount(ctx),
		LastFailure:  cb.LastFailure(ctx),
	}
}

func (cb *CircuitBreaker) onSuccess(ctx context.Context) {
	switch cb.State(ctx) {
	case StateHalfOpen:
		successes := cb.store.Increment(ctx, cb.key("successes"), cb.cfg.HalfOpenTimeout)
		if successes >= int64(cb.cfg.SuccessesRequired) {
			zap.L().Info("circuit breaker recovered",
				zap.String("service", cb.cfg.ServiceName),
				zap.Int64("successes", successes))
			cb.transition(ctx, StateClosed)
			cb.resetCounters(ctx)
		}
	case StateClosed:
		cb.store.Delete(ctx, cb.key("failures"))
	}
	cb.logEvent(ctx, EventSuccess, "")
}

func (cb *CircuitBreaker) onFailure(ctx context.Context, opErr error) {
	state := cb.State(ctx)
	failures := cb.store.Increment(ctx, cb.key("failures"), cb.cfg.HalfOpenTimeout)
	cb.store.Set(ctx, cb.key("last_failure"),
		strconv.FormatInt(cb.nowFunc().UnixMilli(), 10), cb.cfg.HalfOpenTimeout)

	zap.L().Warn("circuit breaker failure",
		zap.String("service", cb.cfg.ServiceName),
		zap.Int64("failures", failures),
		zap.Error(opErr))

	switch {
	case state == StateHalfOpen:
		// Any failure while probing reopens the circuit.
		cb.store.Delete(ctx, cb.key("successes"))
		cb.transition(ctx, StateOpen)
	case state == StateClosed && failures >= int64(cb.cfg.FailureThreshold):
		cb.transition(ctx, StateOpen)
	}

	cb.logEvent(ctx, EventFailure, opErr.Error())
}

func (cb *CircuitBreaker) transition(ctx context.Context, to State) {
	from := cb.State(ctx)
	cb.store.Set(ctx, cb.key("state"), string(to), cb.cfg.HalfOpenTimeout)

	zap.L().Info("circuit breaker transition",
		zap.String("service", cb.cfg.ServiceName),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	var event string
	switch to {
	case StateOpen:
		event = EventOpened
	case StateHalfOpen:
		event = EventHalfOpened
	default:
		event = EventClosed
	}
	cb.logEvent(ctx, event, "")
}

func (cb *CircuitBreaker) resetCounters(ctx context.Context) {
	cb.store.Delete(ctx, cb.key("failures"))
	cb.store.Delete(ctx, cb.key("successes"))
	cb.store.Delete(ctx, cb.key("last_failure"))
}

func (cb *CircuitBreaker) counter(ctx context.Context, name string) int64 {
	raw, ok := cb.store.Get(ctx, cb.key(name))
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (cb *CircuitBreaker) key(suffix string) string {
	return "circuit_breaker:" + cb.cfg.ServiceName + ":" + suffix
}

func (cb *CircuitBreaker) logEvent(ctx context.Context, eventType, errMsg string) {
	if cb.sink == nil {
		return
	}
	event := model.CircuitBreakerEvent{
		ServiceName:  cb.cfg.ServiceName,
		EventType:    eventType,
		ErrorMessage: errMsg,
	}
	if err := cb.sink.LogCircuitBreakerEvent(ctx, event); err != nil {
		zap.L().Warn("circuit breaker event logging failed",
			zap.String("service", cb.cfg.ServiceName),
			zap.String("event", eventType),
			zap.Error(err))
	}
}
