// Package retry implements the pure backoff policy used to reschedule
// outbox events after a transient failure.
package retry

import "time"

// Policy is the bounded exponential-backoff schedule.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  int
	MaxAttempts int
}

// DefaultPolicy produces the delay sequence 0, 1s, 4s, 16s, 64s.
var DefaultPolicy = Policy{
	BaseDelay:   time.Second,
	Multiplier:  4,
	MaxAttempts: 5,
}

// Delay returns the delay before the n-th attempt (1-indexed):
//
//	delay(1) = 0
//	delay(n) = baseDelay * multiplier^(n-2)   for n >= 2
func (p Policy) Delay(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < n-2; i++ {
		d *= time.Duration(p.Multiplier)
	}
	return d
}

// NextRetryAt returns now + Delay(retryCount+1), the value written to the
// outbox row's next_retry_at column.
func (p Policy) NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(p.Delay(retryCount + 1))
}

// IsMaxRetriesExceeded reports whether retryCount has reached the policy's
// ceiling.
func (p Policy) IsMaxRetriesExceeded(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}
