package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
)

const (
	// DefaultMaxAttempts is the number of tries a single request gets
	DefaultMaxAttempts = 3
	// DefaultRetryDelay separates two tries of the same request
	DefaultRetryDelay = time.Second
)

// Operation is a single request against the data source
type Operation[T any] func(ctx context.Context) (T, *Response, error)

// PauseFunc is invoked when the data source reports quota exhaustion. It
// returns once the request may be retried.
type PauseFunc func(ctx context.Context)

// FetcherConfig configures a Fetcher
type FetcherConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Limiter     RateLimiter
	Logger      logrus.FieldLogger
}

// Fetcher runs operations with bounded retries and quota detection
type Fetcher struct {
	maxAttempts int
	retryDelay  time.Duration
	limiter     RateLimiter
	logger      logrus.FieldLogger
}

// NewFetcher creates a new fetcher
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Fetcher{
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		limiter:     cfg.Limiter,
		logger:      cfg.Logger.WithField("component", "fetcher"),
	}
}

// Limiter returns the fetcher's rate limiter
func (f *Fetcher) Limiter() RateLimiter {
	return f.limiter
}

// Attempt runs op up to the configured number of times. It returns a
// RATE_LIMITED error as soon as the data source reports quota exhaustion, and
// a FETCH_FAILED error when no try produced an OK response.
func Attempt[T any](ctx context.Context, f *Fetcher, op Operation[T]) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return zero, apperrors.NewFetchFailedError("request pacing interrupted", err)
		}

		result, resp, err := op(ctx)
		if resp != nil && !resp.Reset.IsZero() {
			f.limiter.UpdateLimit(resp.Remaining, resp.Reset)
		}
		if resp != nil && resp.RateLimited {
			return zero, apperrors.NewRateLimitedError("data source quota exhausted")
		}
		if err == nil && resp.OK() {
			return result, nil
		}

		lastErr = describeFailure(resp, err)
		f.logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": f.maxAttempts,
		}).WithError(lastErr).Warn("request failed")

		if attempt < f.maxAttempts {
			if err := sleepContext(ctx, f.retryDelay); err != nil {
				lastErr = err
				break
			}
		}
	}

	return zero, apperrors.NewFetchFailedError(
		fmt.Sprintf("no successful response after %d attempts", f.maxAttempts), lastErr)
}

// Retrieve runs op through Attempt and calls pause for as long as the data
// source reports quota exhaustion. A nil pause returns the RATE_LIMITED error.
func Retrieve[T any](ctx context.Context, f *Fetcher, pause PauseFunc, op Operation[T]) (T, error) {
	for {
		result, err := Attempt(ctx, f, op)
		if err != nil && apperrors.IsRateLimited(err) && pause != nil {
			pause(ctx)
			continue
		}
		return result, err
	}
}

// describeFailure turns a failed try into an error. Credential problems keep
// their own code so callers can tell them apart from a flaky data source.
func describeFailure(resp *Response, err error) error {
	if resp != nil {
		detail := fmt.Sprintf("status %d", resp.StatusCode)
		if err != nil {
			detail = fmt.Sprintf("status %d: %v", resp.StatusCode, err)
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return apperrors.NewUnauthorizedError("credentials rejected, " + detail)
		case http.StatusForbidden:
			return apperrors.NewForbiddenError("access denied, " + detail)
		}
	}

	switch {
	case err != nil && resp != nil:
		return fmt.Errorf("status %d: %w", resp.StatusCode, err)
	case err != nil:
		return err
	case resp == nil:
		return fmt.Errorf("no response")
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
