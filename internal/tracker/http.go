package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxElapsed is the retry budget of a single tracker request.
	DefaultMaxElapsed = 5 * time.Minute

	// DefaultTimeout is the per-attempt HTTP timeout.
	DefaultTimeout = 60 * time.Second

	// RateLimitSlack is added to the advertised reset time before retrying.
	RateLimitSlack = 10 * time.Second

	maxResponseSize = 50 * 1024 * 1024
)

// Requester performs GET requests against a tracker API with exponential
// backoff on transient failures and rate-limit aware sleeping.
type Requester struct {
	HTTPClient *http.Client
	MaxElapsed time.Duration

	// InitialInterval is the first backoff delay. Defaults to two seconds.
	InitialInterval time.Duration

	// Authorize decorates each outgoing request (headers, basic auth).
	Authorize func(req *http.Request)

	Log logrus.FieldLogger

	// sleep and now are replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRequester builds a requester from the adapter config.
func NewRequester(cfg *Config, log logrus.FieldLogger) *Requester {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed == 0 {
		maxElapsed = DefaultMaxElapsed
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != nil {
		transport.Proxy = http.ProxyURL(cfg.Proxy)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Requester{
		HTTPClient: &http.Client{Timeout: timeout, Transport: transport},
		MaxElapsed: maxElapsed,
		Log:        log,
	}
}

// rateLimitError signals that the tracker asked us to wait.
type rateLimitError struct {
	wait time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.wait)
}

// GetJSON fetches rawURL and decodes the JSON body into out.
func (r *Requester) GetJSON(ctx context.Context, rawURL string, out any) (http.Header, error) {
	body, header, err := r.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("failed to parse response from %s: %w", rawURL, err)
	}
	return header, nil
}

// Get fetches rawURL. Transient failures are retried until MaxElapsed is
// spent, after which an *UnavailableError is returned. A rate-limit response
// is waited out once.
func (r *Requester) Get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	rateLimited := false
	for {
		body, header, err := r.getWithBackoff(ctx, rawURL)
		var rl *rateLimitError
		if errors.As(err, &rl) && !rateLimited {
			rateLimited = true
			r.Log.WithField("url", rawURL).Warnf("Rate limit reached, sleeping %s", rl.wait)
			if err := r.doSleep(ctx, rl.wait); err != nil {
				return nil, nil, err
			}
			continue
		}
		if rl != nil {
			return nil, nil, &UnavailableError{Op: "GET", URL: rawURL, Err: rl}
		}
		if err != nil {
			return nil, nil, err
		}

		// Nearly exhausted: wait for the window to reset before the next call.
		if wait, ok := r.exhaustedWait(header); ok {
			r.Log.WithField("url", rawURL).Infof("Rate limit almost exhausted, sleeping %s", wait)
			if err := r.doSleep(ctx, wait); err != nil {
				return nil, nil, err
			}
		}
		return body, header, nil
	}
}

func (r *Requester) getWithBackoff(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	var (
		body    []byte
		header  http.Header
		attempt int
		lastErr error
		final   error
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	if r.InitialInterval > 0 {
		bo.InitialInterval = r.InitialInterval
	}
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = r.MaxElapsed

	op := func() error {
		attempt++
		b, h, err := r.attempt(ctx, rawURL)
		if err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				final = perm.Err
				return err
			}
			lastErr = err
			r.Log.WithFields(logrus.Fields{"url": rawURL, "attempt": attempt}).Debugf("Request failed: %v", err)
			return err
		}
		body, header = b, h
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	switch {
	case err == nil:
		return body, header, nil
	case final != nil:
		return nil, nil, final
	case ctx.Err() != nil:
		return nil, nil, ctx.Err()
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, nil, &UnavailableError{Op: "GET", URL: rawURL, Err: lastErr}
}

// attempt performs one request. Non-retryable failures are wrapped with
// backoff.Permanent.
func (r *Requester) attempt(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if r.Authorize != nil {
		r.Authorize(req)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, backoff.Permanent(ctx.Err())
		}
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"):
		return nil, nil, backoff.Permanent(&rateLimitError{wait: r.retryWait(resp.Header)})
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil, backoff.Permanent(fmt.Errorf("%w: %s (status %d)", ErrAuth, rawURL, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, rawURL))
	case resp.StatusCode >= 500:
		return nil, nil, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL, Body: truncate(respBody)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, nil, backoff.Permanent(&HTTPError{StatusCode: resp.StatusCode, URL: rawURL, Body: truncate(respBody)})
	}
	return respBody, resp.Header, nil
}

// retryWait derives the wait from Retry-After or X-RateLimit-Reset.
func (r *Requester) retryWait(h http.Header) time.Duration {
	if ra := h.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	if wait, ok := r.resetWait(h); ok {
		return wait
	}
	return time.Minute
}

// exhaustedWait reports how long to wait when at most one request is left
// in the current rate-limit window.
func (r *Requester) exhaustedWait(h http.Header) (time.Duration, bool) {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return 0, false
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 1 {
		return 0, false
	}
	return r.resetWait(h)
}

func (r *Requester) resetWait(h http.Header) (time.Duration, bool) {
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return 0, false
	}
	wait := time.Unix(reset, 0).Sub(r.clock()) + RateLimitSlack
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (r *Requester) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Requester) doSleep(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
