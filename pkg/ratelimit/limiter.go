package ratelimit

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/harborhq/aigateway/pkg/config"
)

// DefaultTokenEstimate is the fixed pessimistic token estimate used for
// pre-call checks when the caller cannot produce a better one. The limiter
// is pre-check-pessimistic and post-call-accurate: Record later applies the
// true count, so counters can run slightly ahead of or behind a perfectly
// accurate sliding average. Accepted trade-off, simplicity over precision.
const DefaultTokenEstimate = 800

// recordMarkerTTL bounds how long the once-per-request Record guard lives.
const recordMarkerTTL = 10 * time.Minute

// Limiter enforces fixed-window limits per (provider, scope, dimension).
// Windows reset at clock-aligned boundaries; bursts straddling a boundary
// are a known, bounded inaccuracy of the fixed-window design.
//
// Check and Record are intentionally NOT one atomic operation. Under high
// concurrency several requests can pass Check before any of their Records
// land, briefly overshooting a limit by at most the number of in-flight
// requests admitted in that gap. We keep the race rather than serializing
// the hot path behind a lock.
type Limiter struct {
	store    CounterStore
	cfgStore *config.Store
	now      func() time.Time
}

// New builds a limiter over the given counter store. Limits and the global
// kill switch are read from the config store on every call so hot reloads
// take effect immediately.
func New(store CounterStore, cfgStore *config.Store) *Limiter {
	return &Limiter{
		store:    store,
		cfgStore: cfgStore,
		now:      time.Now,
	}
}

// SetClock overrides the limiter's clock. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

type scopeRef struct {
	kind ScopeKind
	id   string
}

// applicableScopes returns global always, workspace/developer when ids are set.
func applicableScopes(provider, workspaceID, developerID string) []scopeRef {
	scopes := []scopeRef{{kind: ScopeGlobal, id: provider}}
	if workspaceID != "" {
		scopes = append(scopes, scopeRef{kind: ScopeWorkspace, id: workspaceID})
	}
	if developerID != "" {
		scopes = append(scopes, scopeRef{kind: ScopeDeveloper, id: developerID})
	}
	return scopes
}

func (l *Limiter) limitsFor(provider string) (Limits, bool) {
	cfg := l.cfgStore.Get()
	if cfg == nil {
		return Limits{}, false
	}
	if !cfg.RateLimit.Enabled {
		return Limits{}, false
	}
	pc, ok := cfg.Providers[provider]
	if !ok {
		return Limits{}, false
	}
	limits := Limits{
		RequestsPerMinute: pc.RequestsPerMinute,
		RequestsPerDay:    pc.RequestsPerDay,
		TokensPerMinute:   pc.TokensPerMinute,
		RetryAfterSeconds: pc.RetryAfterSeconds,
	}
	// burst_size grants headroom on top of the per-minute request ceiling;
	// day and token dimensions are not burstable.
	if limits.RequestsPerMinute > 0 && pc.BurstSize > 0 {
		limits.RequestsPerMinute += int64(pc.BurstSize)
	}
	return limits, true
}

// Check evaluates every applicable scope against every configured dimension
// and short-circuits on the first violation. The returned Decision names the
// violating scope and dimension so operators can see which ceiling was hit.
// Check never mutates counters.
//
// Every scope currently shares the provider's ceilings, and the global
// counter is the sum of all traffic, so with scopes evaluated global-first
// a denial always names the global scope. Workspace and developer counters
// still gate correctly; they become the first violator only once per-scope
// ceilings diverge from the provider's.
func (l *Limiter) Check(ctx context.Context, provider string, tokensEstimate int64, workspaceID, developerID string) Decision {
	limits, enabled := l.limitsFor(provider)
	if !enabled {
		return Decision{Allowed: true}
	}
	if tokensEstimate <= 0 {
		tokensEstimate = DefaultTokenEstimate
	}

	now := l.now()
	for _, scope := range applicableScopes(provider, workspaceID, developerID) {
		for _, dim := range []dimensionSpec{
			{DimRequestsPerMinute, limits.RequestsPerMinute, 1},
			{DimRequestsPerDay, limits.RequestsPerDay, 1},
			{DimTokensPerMinute, limits.TokensPerMinute, tokensEstimate},
		} {
			if dim.limit <= 0 {
				// -1 (or unset) means unlimited for this dimension.
				continue
			}

			win := windowFor(dim.name, now)
			used, err := l.store.Get(ctx, counterKey(provider, scope, dim.name, win))
			if err != nil {
				// Counter store trouble must not take down the request
				// path. Fail open and log.
				log.Printf("[RATELIMIT] counter read failed for %s/%s/%s: %v (failing open)",
					provider, scope.kind, dim.name, err)
				continue
			}

			if used+dim.cost > dim.limit {
				wait := secondsUntil(now, win.reset)
				if limits.RetryAfterSeconds > 0 && int64(limits.RetryAfterSeconds) > wait {
					wait = int64(limits.RetryAfterSeconds)
				}
				return Decision{
					Allowed:   false,
					Scope:     scope.kind,
					Dimension: dim.name,
					Reason: fmt.Sprintf("%s limit reached for %s scope %q on provider %q (%d/%d)",
						dim.name, scope.kind, scope.id, provider, used, dim.limit),
					RetryAfter:  time.Duration(wait) * time.Second,
					WaitSeconds: wait,
				}
			}
		}
	}

	return Decision{Allowed: true}
}

// Record books one completed provider call: +1 request and +tokensUsed in
// every applicable scope. It must run exactly once per logical request; the
// requestID marker makes a second invocation (concurrent retry, double
// callback) a logged no-op instead of a double count.
func (l *Limiter) Record(ctx context.Context, provider string, tokensUsed int64, workspaceID, developerID, requestID string) {
	if _, enabled := l.limitsFor(provider); !enabled {
		return
	}

	if requestID != "" {
		first, err := l.store.SetNX(ctx, "rl:recorded:"+requestID, recordMarkerTTL)
		if err != nil {
			log.Printf("[RATELIMIT] record marker failed for %s: %v", requestID, err)
		} else if !first {
			log.Printf("[RATELIMIT] duplicate record suppressed for request %s", requestID)
			return
		}
	}

	now := l.now()
	for _, scope := range applicableScopes(provider, workspaceID, developerID) {
		for _, dim := range []dimensionSpec{
			{DimRequestsPerMinute, 0, 1},
			{DimRequestsPerDay, 0, 1},
			{DimTokensPerMinute, 0, tokensUsed},
		} {
			if dim.cost <= 0 {
				continue
			}
			win := windowFor(dim.name, now)
			key := counterKey(provider, scope, dim.name, win)
			if _, err := l.store.IncrBy(ctx, key, dim.cost, win.ttl); err != nil {
				log.Printf("[RATELIMIT] increment failed for %s: %v", key, err)
			}
		}
	}
}

// Status reports remaining capacity without mutating any counter. Remaining
// values are the tightest across all applicable scopes per dimension.
func (l *Limiter) Status(ctx context.Context, provider, workspaceID, developerID string) (*Status, error) {
	now := l.now()
	minuteWin := windowFor(DimRequestsPerMinute, now)
	dayWin := windowFor(DimRequestsPerDay, now)

	st := &Status{
		Provider:                provider,
		RequestsRemainingMinute: Unlimited,
		RequestsRemainingDay:    Unlimited,
		TokensRemainingMinute:   Unlimited,
		ResetAtMinute:           minuteWin.reset,
		ResetAtDay:              dayWin.reset,
		ScopeIDs:                map[string]string{},
		Source:                  l.store.Source(),
	}
	if workspaceID != "" {
		st.ScopeIDs["workspace"] = workspaceID
	}
	if developerID != "" {
		st.ScopeIDs["developer"] = developerID
	}

	limits, enabled := l.limitsFor(provider)
	if !enabled {
		return st, nil
	}

	for _, scope := range applicableScopes(provider, workspaceID, developerID) {
		for _, dim := range []dimensionSpec{
			{DimRequestsPerMinute, limits.RequestsPerMinute, 0},
			{DimRequestsPerDay, limits.RequestsPerDay, 0},
			{DimTokensPerMinute, limits.TokensPerMinute, 0},
		} {
			if dim.limit <= 0 {
				continue
			}
			win := windowFor(dim.name, now)
			used, err := l.store.Get(ctx, counterKey(provider, scope, dim.name, win))
			if err != nil {
				return nil, fmt.Errorf("rate limit status read: %w", err)
			}
			remaining := dim.limit - used
			if remaining < 0 {
				remaining = 0
			}

			switch dim.name {
			case DimRequestsPerMinute:
				if st.RequestsRemainingMinute == Unlimited || remaining < st.RequestsRemainingMinute {
					st.RequestsRemainingMinute = remaining
				}
			case DimRequestsPerDay:
				if st.RequestsRemainingDay == Unlimited || remaining < st.RequestsRemainingDay {
					st.RequestsRemainingDay = remaining
				}
			case DimTokensPerMinute:
				if st.TokensRemainingMinute == Unlimited || remaining < st.TokensRemainingMinute {
					st.TokensRemainingMinute = remaining
				}
			}
		}
	}

	if st.RequestsRemainingMinute == 0 || st.TokensRemainingMinute == 0 {
		st.IsLimited = true
		st.WaitSeconds = secondsUntil(now, minuteWin.reset)
	} else if st.RequestsRemainingDay == 0 {
		st.IsLimited = true
		st.WaitSeconds = secondsUntil(now, dayWin.reset)
	}

	return st, nil
}

type dimensionSpec struct {
	name  Dimension
	limit int64
	cost  int64
}

type window struct {
	start time.Time
	reset time.Time
	ttl   time.Duration
}

// windowFor computes the fixed clock-aligned window containing now.
// Minute dimensions share the minute window; requests_per_day uses UTC days.
// Keys embed the window start, so old windows simply age out via TTL and a
// counter never carries across a boundary.
func windowFor(dim Dimension, now time.Time) window {
	switch dim {
	case DimRequestsPerDay:
		start := now.UTC().Truncate(24 * time.Hour)
		return window{start: start, reset: start.Add(24 * time.Hour), ttl: 25 * time.Hour}
	default:
		start := now.Truncate(time.Minute)
		return window{start: start, reset: start.Add(time.Minute), ttl: 2 * time.Minute}
	}
}

// secondsUntil rounds up, so callers waiting this long always land in the
// next window.
func secondsUntil(now, reset time.Time) int64 {
	return int64(math.Ceil(reset.Sub(now).Seconds()))
}

func counterKey(provider string, scope scopeRef, dim Dimension, win window) string {
	return fmt.Sprintf("rl:%s:%s:%s:%s:%d", provider, scope.kind, scope.id, dim, win.start.Unix())
}
