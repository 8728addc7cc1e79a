package alert

import "time"

// backoff gates notification retries after failures. A zero base disables
// gating so every eligible frame gets an attempt.
type backoff struct {
	base     time.Duration
	max      time.Duration
	failures int
	next     time.Time
}

// ready reports whether an attempt is allowed at now
func (b *backoff) ready(now time.Time) bool {
	return b.base <= 0 || b.failures == 0 || !now.Before(b.next)
}

// fail records a failed attempt at now and returns the delay before the next one
func (b *backoff) fail(now time.Time) time.Duration {
	b.failures++
	d := b.delay()
	b.next = now.Add(d)
	return d
}

// delay is base * 2^(failures-1), capped at max
func (b *backoff) delay() time.Duration {
	if b.base <= 0 || b.failures == 0 {
		return 0
	}
	d := b.base
	for i := 1; i < b.failures; i++ {
		d *= 2
		if b.max > 0 && d >= b.max {
			return b.max
		}
	}
	if b.max > 0 && d > b.max {
		return b.max
	}
	return d
}

func (b *backoff) reset() {
	b.failures = 0
	b.next = time.Time{}
}
