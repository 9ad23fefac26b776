package whatsapp

import "time"

const (
	reconnectBaseDelay = 1000 * time.Millisecond
	reconnectMaxDelay  = 30000 * time.Millisecond

	// DefaultReconnectCeiling bounds automatic retries after an unexpected
	// disconnect. Past it the account transitions to failed and requires an
	// explicit Connect.
	DefaultReconnectCeiling = 5
)

// reconnectDelay returns the backoff delay for the given attempt number
// (1-based, i.e. after the counter was incremented): base × 2^attempt capped
// at 30s, so 2s, 4s, 8s, 16s, 30s — monotonically non-decreasing in the
// attempt count.
func reconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Guard the shift: past attempt 5 the cap applies anyway.
	if attempt > 30 {
		return reconnectMaxDelay
	}
	d := reconnectBaseDelay << uint(attempt)
	if d > reconnectMaxDelay || d <= 0 {
		return reconnectMaxDelay
	}
	return d
}
