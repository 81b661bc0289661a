package fetch

import "time"

// BackoffPolicy returns the delay before retry number attempt (1-based).
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay after every failed attempt: Base, 2*Base, 4*Base...
// capped at Max when Max is positive.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements BackoffPolicy.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := min(attempt-1, 30)
	d := b.Base << uint(shift)
	if b.Max > 0 && (d > b.Max || d <= 0) {
		return b.Max
	}
	return d
}

// FixedBackoff waits the same delay between every attempt.
type FixedBackoff time.Duration

// Delay implements BackoffPolicy.
func (b FixedBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// DefaultBackoff returns 1s, 2s, 4s... capped at 30s.
func DefaultBackoff() BackoffPolicy {
	return ExponentialBackoff{Base: time.Second, Max: 30 * time.Second}
}
