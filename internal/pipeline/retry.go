package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumivox/chapterreel/internal/services"
)

// RetryPolicy wraps a compose call with bounded retries and exponential
// backoff. Exhausted retries produce a normal failed terminal result, not an
// error escalation: the controller only aggregates terminal outcomes.
type RetryPolicy struct {
	MaxRetries int           // extra attempts after the first failure
	BaseDelay  time.Duration // first backoff delay, doubled per attempt
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
	}
}

// Do runs compose until it succeeds, the retry budget is exhausted, or the
// failure is not retryable. Returns the clip reference, the number of
// attempts made, and the final error (nil on success).
//
// Missing material fails immediately without consuming a retry: re-running
// cannot conjure an image or audio clip that does not exist.
func (p RetryPolicy) Do(ctx context.Context, compose func(context.Context) (string, error)) (string, int, error) {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", attempt, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		clipRef, err := compose(ctx)
		if err == nil {
			return clipRef, attempt + 1, nil
		}
		lastErr = err

		if errors.Is(err, ErrMaterialUnavailable) {
			return "", attempt + 1, err
		}

		var compErr *services.CompositionError
		if !errors.As(err, &compErr) {
			// Unknown failure class: treat as terminal rather than burning
			// the external tool on something that is not its fault.
			return "", attempt + 1, err
		}
	}

	return "", p.MaxRetries + 1, lastErr
}
