package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

// RetryBaseDelay is the default first backoff step. Tests override it to avoid real sleeps.
var RetryBaseDelay = time.Second

// MaxRetryAfter caps how long a Retry-After header may make a caller wait.
var MaxRetryAfter = 2 * time.Minute

// RetryPolicy controls DoWithRetry.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	// BaseDelay starts the exponential backoff; zero uses RetryBaseDelay.
	BaseDelay time.Duration
	// OnRetry, when set, is called before each backoff wait.
	OnRetry func(attempt int, reason string, wait time.Duration)
}

// DoWithRetry executes req and retries transient failures:
// transport timeouts and connection resets, 5xx responses, and 429 responses.
// A 429 waits for Retry-After when the server sends one. Other statuses return at once.
//
// When retries are exhausted the last response (for status failures) or the last
// error (for transport failures) is returned so the caller can classify it.
// If ctx is cancelled during a wait, ctx.Err() is returned.
func (c *Client) DoWithRetry(ctx context.Context, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	base := policy.BaseDelay
	if base <= 0 {
		base = RetryBaseDelay
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.Do(ctx, req)

		var wait time.Duration
		var reason string
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !IsTransient(err) || attempt >= policy.MaxRetries {
				return nil, err
			}
			reason = err.Error()
			wait = backoff(base, attempt)
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= policy.MaxRetries {
				return resp, nil
			}
			reason = resp.Status
			wait = retryAfter(resp.Header.Get("Retry-After"), time.Now())
			if wait <= 0 {
				wait = backoff(base, attempt)
			}
			drain(resp)
		case resp.StatusCode >= 500:
			if attempt >= policy.MaxRetries {
				return resp, nil
			}
			reason = resp.Status
			wait = backoff(base, attempt)
			drain(resp)
		default:
			return resp, nil
		}

		c.logger.Debug("retrying request", "url", req.URL.Redacted(), "attempt", attempt+1, "reason", reason, "wait", wait)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, reason, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// IsTransient reports whether a transport error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func backoff(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// retryAfter parses a Retry-After value given as delta-seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	}
	if d < 0 {
		return 0
	}
	if d > MaxRetryAfter {
		return MaxRetryAfter
	}
	return d
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
