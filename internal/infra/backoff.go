package infra

import (
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 30 * time.Second
)

// CalculateBackoff returns the exponential backoff duration for a given retry
// count: backoffBase * 2^retryCount, capped at backoffMax. Negative counts
// return backoffBase.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return backoffBase
	}

	// 2^30 seconds already dwarfs backoffMax; cap before shifting to avoid
	// overflow.
	if retryCount > 30 {
		return backoffMax
	}

	backoff := backoffBase * time.Duration(1<<retryCount)
	if backoff > backoffMax {
		return backoffMax
	}
	return backoff
}
