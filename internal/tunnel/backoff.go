package tunnel

import "time"

// Strategy computes the delay before the next reconnection attempt. Kept as
// a pluggable shape (mirroring the teacher's pure CalculateBackoff function)
// even though this protocol mandates a single fixed delay rather than an
// exponential curve.
type Strategy func(attempt int) time.Duration

// FixedDelay returns a Strategy that always waits d, regardless of attempt
// count, per spec.md §4.5 ("sleep 5 seconds, then re-enter CONNECTING").
func FixedDelay(d time.Duration) Strategy {
	return func(attempt int) time.Duration {
		return d
	}
}
