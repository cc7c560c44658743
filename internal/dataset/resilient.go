package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/prepchain/internal/ir"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("dataset source circuit open")

// ResilienceConfig bounds calls to a remote dataset source.
type ResilienceConfig struct {
	// Timeout caps one attempt. Zero disables the per-attempt timeout.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first failure.
	Retries uint
	// InitialBackoff is the first retry delay; later delays grow
	// exponentially.
	InitialBackoff time.Duration
	// FailureThreshold consecutive failed calls open the circuit.
	// Zero disables the breaker.
	FailureThreshold int
	// ResetAfter is how long the circuit stays open before a probe.
	ResetAfter time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultResilienceConfig returns defaults for a remote source.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout:          5 * time.Second,
		Retries:          2,
		InitialBackoff:   100 * time.Millisecond,
		FailureThreshold: 5,
		ResetAfter:       30 * time.Second,
	}
}

// Resilient wraps a Source with a per-attempt timeout, retry with
// exponential backoff and a circuit breaker. ErrNotFound is a definitive
// answer and is never retried or counted as a failure.
type Resilient struct {
	inner   Source
	cfg     ResilienceConfig
	breaker *circuitBreaker
	logger  *slog.Logger
}

// NewResilient wraps inner.
func NewResilient(inner Source, cfg ResilienceConfig) *Resilient {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	return &Resilient{
		inner:   inner,
		cfg:     cfg,
		breaker: newCircuitBreaker(cfg.FailureThreshold, cfg.ResetAfter, cfg.Now),
		logger:  cfg.Logger,
	}
}

// State exposes the breaker state for diagnostics.
func (r *Resilient) State() CircuitState {
	return r.breaker.State()
}

// Exists implements Source.
func (r *Resilient) Exists(ctx context.Context, id string) (bool, error) {
	return call(ctx, r, "exists", id, func(ctx context.Context) (bool, error) {
		return r.inner.Exists(ctx, id)
	})
}

// Sample implements Source. Failures surface as DatasetUnavailable.
func (r *Resilient) Sample(ctx context.Context, id string, limit int) (Sample, error) {
	s, err := call(ctx, r, "sample", id, func(ctx context.Context) (Sample, error) {
		return r.inner.Sample(ctx, id, limit)
	})
	if err != nil && !errors.Is(err, ErrNotFound) && ctx.Err() == nil {
		return Sample{}, ir.NewDatasetUnavailable(id, err)
	}
	return s, err
}

func call[T any](ctx context.Context, r *Resilient, op, id string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !r.breaker.Allow() {
		return zero, fmt.Errorf("%s %s: %w", op, id, ErrCircuitOpen)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff

	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		actx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}
		v, err := fn(actx)
		if errors.Is(err, ErrNotFound) {
			return v, backoff.Permanent(err)
		}
		if err != nil {
			r.logger.Debug("dataset call failed", "op", op, "dataset_id", id, "attempt", attempt, "error", err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.Retries+1))

	switch {
	case err == nil || errors.Is(err, ErrNotFound):
		r.breaker.RecordSuccess()
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about the source.
	default:
		r.breaker.RecordFailure()
		r.logger.Warn("dataset call exhausted retries", "op", op, "dataset_id", id, "attempts", attempt, "error", err)
	}
	if err != nil {
		return zero, err
	}
	return v, nil
}
