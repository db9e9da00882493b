package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/harborhq/aigateway/pkg/billing"
	"github.com/harborhq/aigateway/pkg/cache"
	"github.com/harborhq/aigateway/pkg/provider"
	"github.com/harborhq/aigateway/pkg/ratelimit"
)

// Default TTLs by analysis kind, applied when the caller does not supply one.
const (
	DefaultAnalysisTTL   = 24 * time.Hour
	DefaultExtractionTTL = time.Hour
)

// Gateway is the single entry point for every provider call. It owns the
// ordering guarantees: cache lookup, admission check, provider call, usage
// recording, ledger write, cache write. Feature code never talks to the
// counter store or the ledger directly.
//
// Construct one per process and inject it; there is no implicit singleton.
type Gateway struct {
	prov    provider.Provider
	cache   *cache.ResponseCache
	limiter *ratelimit.Limiter
	meter   *billing.Meter // nil disables usage metering
}

func New(prov provider.Provider, respCache *cache.ResponseCache, limiter *ratelimit.Limiter, meter *billing.Meter) *Gateway {
	return &Gateway{
		prov:    prov,
		cache:   respCache,
		limiter: limiter,
		meter:   meter,
	}
}

// AnalyzeParams scopes one request. CustomerID is the billable entity and
// defaults to WorkspaceID when empty. SkipRateLimit is an explicit opt-out
// for internal priority callers; every use is logged.
type AnalyzeParams struct {
	CustomerID    string
	WorkspaceID   string
	DeveloperID   string
	UseCache      bool
	CacheTTL      time.Duration
	SkipRateLimit bool
}

// Result wraps the provider result with gateway bookkeeping.
type Result struct {
	*provider.Result
	RequestID string `json:"request_id"`
	Cached    bool   `json:"cached"`
}

// Analyze runs one request through the full pipeline.
//
// A cache hit means no provider work happened: it consumes no rate limit and
// writes no ledger row. A cancelled or failed provider call records nothing,
// so the limiter is never charged for work the provider did not do.
func (g *Gateway) Analyze(ctx context.Context, req *provider.Request, p AnalyzeParams) (*Result, error) {
	requestID := uuid.NewString()

	var cacheKey string
	if p.UseCache && g.cache != nil {
		cacheKey = cache.Key(string(req.Kind), req.Content)
		if data, err := g.cache.Get(ctx, cacheKey); err == nil {
			var res provider.Result
			if err := json.Unmarshal(data, &res); err == nil {
				cacheHits.Inc()
				return &Result{Result: &res, RequestID: requestID, Cached: true}, nil
			}
			log.Printf("[CACHE] corrupted entry for key %s, falling through", cacheKey[:16])
		}
		cacheMisses.Inc()
	}

	if p.SkipRateLimit {
		log.Printf("[GATEWAY] rate limit skipped for request %s (provider=%s workspace=%s developer=%s)",
			requestID, g.prov.Name(), p.WorkspaceID, p.DeveloperID)
	} else {
		decision := g.limiter.Check(ctx, g.prov.Name(), g.estimateTokens(req), p.WorkspaceID, p.DeveloperID)
		if !decision.Allowed {
			rateLimitDenials.WithLabelValues(g.prov.Name(), string(decision.Scope), string(decision.Dimension)).Inc()
			return nil, newRateLimitError(decision)
		}
	}

	start := time.Now()
	res, err := g.prov.Analyze(ctx, req)
	providerDuration.WithLabelValues(g.prov.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		// Provider failures (including cancellation) propagate as-is and
		// leave both the limiter and the ledger untouched.
		return nil, err
	}

	// Post-call bookkeeping survives caller cancellation: the provider work
	// already happened and must be accounted for.
	bgCtx := context.WithoutCancel(ctx)

	g.limiter.Record(bgCtx, g.prov.Name(), res.TotalTokens(), p.WorkspaceID, p.DeveloperID, requestID)
	requestTokenHistogram.Observe(float64(res.TotalTokens()))

	g.recordUsage(bgCtx, req, res, p, requestID)

	if p.UseCache && g.cache != nil && res.Confidence > 0 {
		ttl := p.CacheTTL
		if ttl == 0 {
			ttl = defaultTTL(req.Kind)
		}
		if data, err := json.Marshal(res); err == nil {
			go func() {
				setCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				g.cache.Set(setCtx, cacheKey, data, ttl)
			}()
		}
	}

	return &Result{Result: res, RequestID: requestID}, nil
}

// AnalyzeBatch runs requests sequentially through Analyze so that rate-limit
// consumption is accounted for deterministically per item. Parallelizing
// this would need the limiter's check+record pair to be atomic together.
// Processing stops at the first error; completed results are returned with it.
func (g *Gateway) AnalyzeBatch(ctx context.Context, reqs []*provider.Request, p AnalyzeParams) ([]*Result, error) {
	results := make([]*Result, 0, len(reqs))
	for _, req := range reqs {
		res, err := g.Analyze(ctx, req, p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ExtractSignals runs a lighter extraction call through the same pipeline.
func (g *Gateway) ExtractSignals(ctx context.Context, content string, p AnalyzeParams) (*Result, error) {
	return g.Analyze(ctx, &provider.Request{Kind: provider.KindExtraction, Content: content}, p)
}

// ScoreMatch scores subject against target through the same pipeline.
func (g *Gateway) ScoreMatch(ctx context.Context, subject, target string, p AnalyzeParams) (*Result, error) {
	return g.Analyze(ctx, &provider.Request{
		Kind:    provider.KindScoring,
		Content: subject,
		Context: map[string]interface{}{"target": target},
	}, p)
}

// HealthCheck reports provider reachability. Cache trouble is not fatal to
// the request path, so it only logs.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	if g.cache != nil && !g.cache.HealthCheck(ctx) {
		log.Printf("[GATEWAY] response cache unhealthy, requests will bypass it")
	}
	return g.prov.HealthCheck(ctx)
}

// recordUsage writes the ledger row for a completed call. Ledger failures
// are logged and swallowed: metering must never fail a user-facing request.
func (g *Gateway) recordUsage(ctx context.Context, req *provider.Request, res *provider.Result, p AnalyzeParams, requestID string) {
	if g.meter == nil || res.TotalTokens() == 0 {
		return
	}
	customerID := p.CustomerID
	if customerID == "" {
		customerID = p.WorkspaceID
	}
	if customerID == "" {
		return
	}

	_, err := g.meter.RecordUsage(ctx, billing.MeterInput{
		CustomerID:   customerID,
		Provider:     res.Provider,
		Model:        res.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		AnalysisKind: string(req.Kind),
		RequestID:    requestID,
	})
	if err != nil {
		ledgerWriteFailures.Inc()
		log.Printf("[GATEWAY] usage ledger write failed for request %s: %v", requestID, err)
	}
}

// estimateTokens produces the pessimistic pre-check estimate. Encoding
// failures fall back to the fixed default rather than blocking the call.
func (g *Gateway) estimateTokens(req *provider.Request) int64 {
	est, err := provider.EstimateTokens("", req.Content)
	if err != nil || est < ratelimit.DefaultTokenEstimate {
		return ratelimit.DefaultTokenEstimate
	}
	return est
}

func defaultTTL(kind provider.AnalysisKind) time.Duration {
	switch kind {
	case provider.KindExtraction, provider.KindScoring:
		return DefaultExtractionTTL
	default:
		return DefaultAnalysisTTL
	}
}
