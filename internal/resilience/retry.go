package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds an exponential backoff retry loop.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig is a conservative default for an upstream that gives
// no retry hints of its own.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  2 * time.Minute,
	}
}

// RetryWithHint retries operation under exponential backoff, honoring a
// per-attempt wait hint the operation itself reports (a 429's Retry-After,
// GitHub's secondary rate limit). operation returns (hint, err): hint > 0
// means retry after waiting hint instead of the exponential interval;
// hint <= 0 with a non-nil err is terminal and aborts the retry loop
// immediately. MaxRetries and MaxElapsedTime bound the attempts in both
// cases.
func RetryWithHint(ctx context.Context, cfg RetryConfig, operation func() (time.Duration, error)) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.Multiplier = cfg.Multiplier
	exp.MaxElapsedTime = cfg.MaxElapsedTime

	var base backoff.BackOff = exp
	if cfg.MaxRetries > 0 {
		base = backoff.WithMaxRetries(exp, uint64(cfg.MaxRetries))
	}

	hinted := &hintedBackOff{BackOff: base}
	ctxBackoff := backoff.WithContext(hinted, ctx)

	return backoff.Retry(func() error {
		hint, err := operation()
		if err == nil {
			return nil
		}
		if hint <= 0 {
			return backoff.Permanent(err)
		}
		hinted.next = hint
		return err
	}, ctxBackoff)
}

// hintedBackOff lets a single upstream-reported wait override the next
// exponential interval, then falls back to the wrapped schedule.
type hintedBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if h.next > 0 {
		wait := h.next
		h.next = 0
		return wait
	}
	return next
}
