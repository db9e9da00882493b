package gateway

import (
	"fmt"
	"time"

	"github.com/harborhq/aigateway/pkg/ratelimit"
)

// RateLimitError is surfaced to the caller whenever admission control denies
// a request. The gateway never retries these itself.
type RateLimitError struct {
	Reason      string
	Scope       ratelimit.ScopeKind
	Dimension   ratelimit.Dimension
	RetryAfter  time.Duration
	WaitSeconds int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s (retry after %ds)", e.Reason, e.WaitSeconds)
}

func newRateLimitError(d ratelimit.Decision) *RateLimitError {
	return &RateLimitError{
		Reason:      d.Reason,
		Scope:       d.Scope,
		Dimension:   d.Dimension,
		RetryAfter:  d.RetryAfter,
		WaitSeconds: d.WaitSeconds,
	}
}
