package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
)

var ErrExhausted = errors.New("retry: attempts exhausted")

// SleepFunc ждёт d или отмену ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy — ограниченное число попыток с паузой между ними.
// Factor 1 даёт фиксированную паузу Delay.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Factor      float64
	Sleep       SleepFunc
}

func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, Factor: 1}
}

// Do вызывает op до MaxAttempts раз: attempt, on failure sleep, re-attempt.
// После последней неудачной попытки пауза не делается.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	b := &backoff.Backoff{Min: p.Delay, Max: maxDelay(p.Delay, factor, attempts), Factor: factor}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "retry: context done")
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		// backoff подставляет 100ms при Min <= 0, поэтому нулевую паузу пропускаем.
		if p.Delay <= 0 {
			continue
		}
		if err := sleep(ctx, b.Duration()); err != nil {
			return errors.Wrap(err, "retry: sleep interrupted")
		}
	}

	return errors.Wrapf(ErrExhausted, "%d attempts, last error: %v", attempts, lastErr)
}

func maxDelay(d time.Duration, factor float64, attempts int) time.Duration {
	out := float64(d)
	for i := 1; i < attempts; i++ {
		out *= factor
	}
	if time.Duration(out) < d {
		return d
	}
	return time.Duration(out)
}

func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
