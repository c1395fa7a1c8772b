package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"imgsearch/internal/domain"
)

// Retry calls fn up to attempts times. Only errors matching domain.ErrTransient
// are retried; the wait before attempt n+1 is backoff*n. The last error is
// returned once attempts are exhausted.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(attempt int) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrTransient) || attempt == attempts {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		timer := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// StatusError classifies a non-2xx response. 5xx and 429 are transient,
// everything else is permanent.
func StatusError(resp *http.Response) error {
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: HTTP %d", domain.ErrTransient, resp.StatusCode)
	}
	return fmt.Errorf("%w: HTTP %d", domain.ErrPermanentInput, resp.StatusCode)
}

// TransportError classifies an error returned by http.Client.Do. Cancellation
// of the parent context is returned as-is so callers stop immediately; request
// timeouts and network failures are transient.
func TransportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}

// NewLimiter returns a request limiter, or nil when rps is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until l permits one request. A nil limiter never blocks.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
