package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"portal-messaging/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = stderrors.New("circuit breaker open")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_requests_total",
		Help: "Total number of guarded operations",
	}, []string{"breaker", "operation", "status"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_errors_total",
		Help: "Total number of guarded operation errors",
	}, []string{"breaker", "operation", "error_type"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resilience_circuit_breaker_state",
		Help: "State of the circuit breaker (0=closed, 1=half_open, 2=open)",
	}, []string{"breaker"})
)

// Config tunes a circuit breaker
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // time open before a trial call is let through
	Timeout          time.Duration // per-call timeout, 0 for none
}

// DefaultConfig opens after 3 failures and probes again after 10s
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, Cooldown: 10 * time.Second, Timeout: 10 * time.Second}
}

// CircuitBreaker guards one downstream store
type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	breakerState.WithLabelValues(name).Set(0)
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: CircuitBreakerClosed,
	}
}

// SetClock overrides the time source
func (b *CircuitBreaker) SetClock(now func() time.Time) {
	b.now = now
}

// Execute runs fn once unless the breaker is open.
// There is no retry; callers decide what a failure means.
func (b *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !b.allow() {
		requestsTotal.WithLabelValues(b.name, operation, "circuit_breaker_open").Inc()
		return fmt.Errorf("%s %s: %w", b.name, operation, ErrCircuitOpen)
	}

	callCtx := ctx
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	err := fn(callCtx)
	b.record(operation, err)
	return err
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = CircuitBreakerHalfOpen
		breakerState.WithLabelValues(b.name).Set(1)
		logger.Warn("Circuit breaker HALF-OPEN - allowing trial request", zap.String("breaker", b.name))
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		requestsTotal.WithLabelValues(b.name, operation, "success").Inc()
		if b.state != CircuitBreakerClosed {
			logger.Info("Circuit breaker CLOSED - store recovered", zap.String("breaker", b.name))
		}
		b.state = CircuitBreakerClosed
		b.consecutiveFailures = 0
		breakerState.WithLabelValues(b.name).Set(0)
		return
	}

	requestsTotal.WithLabelValues(b.name, operation, "failure").Inc()
	errorsTotal.WithLabelValues(b.name, operation, classifyError(err)).Inc()
	b.consecutiveFailures++

	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		if b.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker OPEN - too many consecutive failures",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures))
		}
		b.state = CircuitBreakerOpen
		b.openedAt = b.now()
		breakerState.WithLabelValues(b.name).Set(2)
	}
}

// State returns the current circuit breaker state
func (b *CircuitBreaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Retry runs fn with linear backoff until it succeeds, attempts are used up,
// or ctx ends. Open-breaker errors are not retried.
func Retry(ctx context.Context, attempts int, interval time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = fn(ctx)
		if lastErr == nil || stderrors.Is(lastErr, ErrCircuitOpen) {
			return lastErr
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(time.Duration(i) * interval):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "not found"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
