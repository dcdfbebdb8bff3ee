package gateway

import "time"

// Retry budgets for the recovery protocol. Each path is bounded
// independently; a request can pass through refresh and then a server
// retry, but never the same path beyond its budget.
const (
	maxServerRetries      = 2
	serverBackoffBase     = 1 * time.Second
	serverBackoffCap      = 5 * time.Second
	defaultRetryAfterWait = 1 * time.Second
)

// AttemptState tracks which recovery paths a single logical request has
// consumed. It is a value threaded through the retry loop, never shared
// between requests, so a bounded budget on one request can never leak
// into another.
type AttemptState struct {
	RefreshTried   bool // A 401 refresh has been attempted for this request
	RateLimitTried bool // The one-shot 429 retry has been consumed
	ServerRetries  int  // Number of 5xx/no-response retries performed (0..maxServerRetries)
}

// serverBackoff returns the delay before server retry n (0-based):
// min(1s * 2^n, 5s).
func serverBackoff(retryCount int) time.Duration {
	delay := serverBackoffBase << retryCount
	if delay > serverBackoffCap {
		delay = serverBackoffCap
	}
	return delay
}
