package platform

import (
	"context"
	"time"
)

// Policy bounds Retry.
type Policy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy retries up to four attempts with exponential backoff from
// 500ms, capped at one minute per wait.
var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    time.Minute,
}

func (p Policy) delay(attempt int, err error) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if ra := RetryAfterOf(err); ra > 0 {
		d = ra
	}
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-transient error, or the
// attempts run out. A server-provided RetryAfter replaces the backoff delay.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsTransient(err) || attempt >= p.MaxAttempts {
			return err
		}

		timer := time.NewTimer(p.delay(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
