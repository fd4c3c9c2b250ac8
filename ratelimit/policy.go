package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity-sync/core"
)

const (
	DefaultMaxRetries       = 3
	DefaultMaxWait          = time.Minute
	DefaultRetryHint        = 5 * time.Second
	defaultInitialBackoff   = time.Second
	headerRemaining         = "x-rate-limit-remaining"
	headerReset             = "x-rate-limit-reset"
	headerRemainingFallback = "x-ratelimit-remaining"
	headerResetFallback     = "x-ratelimit-reset"
)

// State is the last rate limit window reported for a bucket.
type State struct {
	Bucket    string
	Remaining int
	Known     bool
	ResetAt   *time.Time
	UpdatedAt time.Time
}

type ThrottledError struct {
	Bucket     string
	Attempts   int
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: bucket %q still throttled after %d attempts (retry after %s)",
		strings.TrimSpace(e.Bucket),
		e.Attempts,
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"bucket":   strings.TrimSpace(e.Bucket),
		"attempts": e.Attempts,
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ImportErrorRateLimited).
		WithMetadata(metadata)
}

// Pacer spaces page requests against a source. It waits for the reset when a
// window is exhausted and retries 429 responses after Retry-After.
type Pacer struct {
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
	MaxRetries int
	MaxWait    time.Duration
	RetryHint  time.Duration

	mu     sync.Mutex
	states map[string]State
}

func NewPacer(maxRetries int, maxWait time.Duration) *Pacer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Pacer{
		Now:        func() time.Time { return time.Now().UTC() },
		Sleep:      sleepContext,
		MaxRetries: maxRetries,
		MaxWait:    maxWait,
		RetryHint:  DefaultRetryHint,
		states:     map[string]State{},
	}
}

// Do runs call for bucket, pacing it against the last known window.
func (p *Pacer) Do(
	ctx context.Context,
	bucket string,
	call func(ctx context.Context) (core.TransportResponse, error),
) (core.TransportResponse, error) {
	if call == nil {
		return core.TransportResponse{}, fmt.Errorf("ratelimit: call is required")
	}
	if p == nil {
		return call(ctx)
	}
	bucket = normalizeBucket(bucket)

	attempts := 0
	for {
		if wait := p.waitFor(bucket); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return core.TransportResponse{}, err
			}
		}

		res, err := call(ctx)
		if err != nil {
			return res, err
		}
		p.observe(bucket, res)
		if res.StatusCode != http.StatusTooManyRequests {
			return res, nil
		}

		attempts++
		delay := p.retryDelay(res, attempts)
		if attempts > p.MaxRetries {
			return res, ThrottledError{Bucket: bucket, Attempts: attempts, RetryAfter: delay}
		}
		if err := p.sleep(ctx, delay); err != nil {
			return core.TransportResponse{}, err
		}
	}
}

// State returns the tracked window of bucket.
func (p *Pacer) State(bucket string) (State, bool) {
	if p == nil {
		return State{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[normalizeBucket(bucket)]
	return state, ok
}

func (p *Pacer) waitFor(bucket string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[bucket]
	if !ok || !state.Known || state.Remaining > 0 || state.ResetAt == nil {
		return 0
	}
	now := p.now()
	if !now.Before(*state.ResetAt) {
		return 0
	}
	return p.bound(state.ResetAt.Sub(now))
}

func (p *Pacer) observe(bucket string, res core.TransportResponse) {
	remaining, hasRemaining := parseHeaderInt(res.Headers, headerRemaining, headerRemainingFallback)
	resetAt, hasReset := parseHeaderResetAt(res.Headers, headerReset, headerResetFallback)
	if !hasRemaining && !hasReset {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.states == nil {
		p.states = map[string]State{}
	}
	state := p.states[bucket]
	state.Bucket = bucket
	state.UpdatedAt = p.now()
	if hasRemaining {
		state.Remaining = remaining
		state.Known = true
	}
	if hasReset {
		state.ResetAt = &resetAt
	}
	p.states[bucket] = state
}

func (p *Pacer) retryDelay(res core.TransportResponse, attempt int) time.Duration {
	if delay, ok := parseRetryAfter(res.Headers, p.now()); ok {
		return p.bound(delay)
	}
	if resetAt, ok := parseHeaderResetAt(res.Headers, headerReset, headerResetFallback); ok {
		if now := p.now(); resetAt.After(now) {
			return p.bound(resetAt.Sub(now))
		}
	}
	delay := p.RetryHint
	if delay <= 0 {
		delay = defaultInitialBackoff
	}
	for i := 1; i < attempt && delay < p.MaxWait; i++ {
		delay *= 2
	}
	return p.bound(delay)
}

func (p *Pacer) bound(delay time.Duration) time.Duration {
	maximum := p.MaxWait
	if maximum <= 0 {
		maximum = DefaultMaxWait
	}
	if delay > maximum {
		return maximum
	}
	if delay < 0 {
		return 0
	}
	return delay
}

func (p *Pacer) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Pacer) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if p != nil && p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	raw := headerValue(headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func parseHeaderInt(headers map[string]string, keys ...string) (int, bool) {
	for _, key := range keys {
		value := headerValue(headers, key)
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		return parsed, true
	}
	return 0, false
}

func parseHeaderResetAt(headers map[string]string, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		value := headerValue(headers, key)
		if value == "" {
			continue
		}
		unix, err := strconv.ParseInt(value, 10, 64)
		if err != nil || unix <= 0 {
			continue
		}
		return time.Unix(unix, 0).UTC(), true
	}
	return time.Time{}, false
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeBucket(bucket string) string {
	return strings.ToLower(strings.TrimSpace(bucket))
}
