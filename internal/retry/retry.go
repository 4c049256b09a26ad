// internal/retry/retry.go

// Package retry wraps remote-store calls with bounded retries, exponential
// backoff with jitter, and a per-attempt timeout that escalates on each
// retry. The wrapper knows nothing about what it retries: the operation is an
// opaque unit of work that may have partially succeeded server-side, so
// callers keep their operations idempotent (every write here is a full-field
// merge, safe to repeat).
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	// baseDelayTimeout is the backoff base after a timed-out attempt;
	// baseDelayFailure after a plain failure. A timeout suggests the remote
	// side is loaded, so it backs off harder.
	baseDelayTimeout = 1500 * time.Millisecond
	baseDelayFailure = 800 * time.Millisecond

	// delayGrowth and timeoutGrowth are the per-attempt multipliers for the
	// backoff delay and the attempt timeout respectively.
	delayGrowth   = 1.7
	timeoutGrowth = 1.5

	// maxJitter is added uniformly at random to every backoff delay so that
	// a burst of failing callers does not retry in lockstep.
	maxJitter = 700 * time.Millisecond

	// maxTimeout caps the escalated per-attempt timeout.
	maxTimeout = 60 * time.Second
)

// Config controls one retried call. Zero values fall back to sane defaults.
type Config struct {
	// Component names the caller in log lines.
	Component string
	// MaxRetries is the total number of attempts (not additional retries).
	MaxRetries int
	// InitialTimeout bounds the first attempt; later attempts escalate.
	InitialTimeout time.Duration

	// Clock and Logger are injectable for tests; nil means real clock and
	// the logrus standard logger.
	Clock  clockwork.Clock
	Logger *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialTimeout <= 0 {
		c.InitialTimeout = 15 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

type attemptResult[T any] struct {
	val T
	err error
}

// Do runs op until it succeeds, the attempts are exhausted, or the parent
// context is cancelled. Each attempt races op against the current timeout;
// whichever settles first wins. A timed-out attempt keeps running in the
// background with a cancelled context, and its eventual result is discarded.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T

	timeout := cfg.InitialTimeout
	var (
		lastErr      error
		lastTimedOut bool
	)

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(lastTimedOut, attempt-1)
			select {
			case <-cfg.Clock.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			timeout = escalatedTimeout(cfg.InitialTimeout, attempt)
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		resCh := make(chan attemptResult[T], 1)
		go func() {
			val, err := op(attemptCtx)
			resCh <- attemptResult[T]{val, err}
		}()

		var res attemptResult[T]
		timedOut := false
		select {
		case res = <-resCh:
		case <-cfg.Clock.After(timeout):
			timedOut = true
			res.err = context.DeadlineExceeded
		case <-ctx.Done():
			cancel()
			return zero, ctx.Err()
		}
		cancel()

		if res.err == nil {
			return res.val, nil
		}
		lastErr = res.err
		lastTimedOut = timedOut
		cfg.Logger.WithFields(logrus.Fields{
			"component": cfg.Component,
			"attempt":   attempt + 1,
			"timeout":   timedOut,
			"error":     res.err,
		}).Warn("remote call failed")
	}

	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", cfg.Component, cfg.MaxRetries, lastErr)
}

// backoffDelay returns base * 1.7^attempt plus up to 700ms of jitter, where
// attempt is the zero-based index of the attempt that just failed.
func backoffDelay(afterTimeout bool, attempt int) time.Duration {
	base := baseDelayFailure
	if afterTimeout {
		base = baseDelayTimeout
	}
	d := time.Duration(float64(base) * math.Pow(delayGrowth, float64(attempt)))
	return d + time.Duration(rand.Int63n(int64(maxJitter)))
}

// escalatedTimeout returns min(initial * 1.5^attempt, 60s).
func escalatedTimeout(initial time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(initial) * math.Pow(timeoutGrowth, float64(attempt)))
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}
