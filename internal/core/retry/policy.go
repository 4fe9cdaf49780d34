// Package retry defines the backoff policy shared by the event queue, the
// live subscription reconnect loop and the catch-up synchronizer, so all
// three retry with identical, independently testable behavior.
package retry

import "time"

// Policy describes bounded exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the queue defaults: 5 attempts, 2s base, doubling,
// capped at one minute.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   2 * time.Second,
	Multiplier:  2,
	MaxDelay:    time.Minute,
}

// Delay returns the wait before the given retry. attempt is 1-based: the
// delay after the first failure is Delay(1) == BaseDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Exhausted reports whether a job that has failed attempts times is out of
// retry budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
