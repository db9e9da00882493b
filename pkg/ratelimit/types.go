package ratelimit

import "time"

// ScopeKind is a level at which limits are tracked independently.
type ScopeKind string

const (
	ScopeGlobal    ScopeKind = "global"
	ScopeWorkspace ScopeKind = "workspace"
	ScopeDeveloper ScopeKind = "developer"
)

// Dimension is a limited quantity inside a scope.
type Dimension string

const (
	DimRequestsPerMinute Dimension = "requests_per_minute"
	DimRequestsPerDay    Dimension = "requests_per_day"
	DimTokensPerMinute   Dimension = "tokens_per_minute"
)

// Unlimited disables a dimension when used as its configured limit.
const Unlimited int64 = -1

// Limits are the configured ceilings for one provider.
type Limits struct {
	RequestsPerMinute int64
	RequestsPerDay    int64
	TokensPerMinute   int64
	RetryAfterSeconds int
}

// Decision is the outcome of a pre-call admission check.
type Decision struct {
	Allowed     bool          `json:"allowed"`
	Reason      string        `json:"reason,omitempty"`
	Scope       ScopeKind     `json:"scope,omitempty"`
	Dimension   Dimension     `json:"dimension,omitempty"`
	RetryAfter  time.Duration `json:"-"`
	WaitSeconds int64         `json:"wait_seconds,omitempty"`
}

// Status is the read-only view consumed by UI and reporting callers.
// Remaining values are the tightest across all applicable scopes.
type Status struct {
	Provider                string            `json:"provider"`
	IsLimited               bool              `json:"is_limited"`
	RequestsRemainingMinute int64             `json:"requests_remaining_minute"`
	RequestsRemainingDay    int64             `json:"requests_remaining_day"`
	TokensRemainingMinute   int64             `json:"tokens_remaining_minute"`
	ResetAtMinute           time.Time         `json:"reset_at_minute"`
	ResetAtDay              time.Time         `json:"reset_at_day"`
	WaitSeconds             int64             `json:"wait_seconds"`
	ScopeIDs                map[string]string `json:"scope_ids"`
	Source                  string            `json:"source"`
}
