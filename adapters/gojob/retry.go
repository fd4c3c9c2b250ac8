package gojob

import (
	"strings"
	"time"

	"github.com/goliatone/go-identity-sync/core"
)

const defaultRetryBaseDelay = 5 * time.Second

// RetryPolicy bounds redelivery of import runs that failed for
// infrastructure reasons.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		BaseDelay:       defaultRetryBaseDelay,
		MaxDelay:        5 * time.Minute,
		DeadLetterOnMax: true,
	}
}

// Exhausted reports whether attempt is the last one the policy allows.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Backoff doubles BaseDelay per prior attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = defaultRetryBaseDelay
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// NormalizeAttempt applies the policy to a nack. Once attempts are exhausted
// the message is dead-lettered when DeadLetterOnMax is set, otherwise dropped.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
		return out
	}
	if p.Exhausted(attempt) {
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax
		return out
	}
	out.Requeue = true
	return out
}
