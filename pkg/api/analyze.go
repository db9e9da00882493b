package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harborhq/aigateway/pkg/gateway"
	"github.com/harborhq/aigateway/pkg/provider"
)

// AnalyzeAPI exposes the gateway facade over HTTP for feature services.
type AnalyzeAPI struct {
	gw *gateway.Gateway
}

func NewAnalyzeAPI(gw *gateway.Gateway) *AnalyzeAPI {
	return &AnalyzeAPI{gw: gw}
}

// RegisterRoutes registers the analysis endpoints
func (api *AnalyzeAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/analyze", api.handleAnalyze)
	mux.HandleFunc("/v1/analyze/batch", api.handleAnalyzeBatch)
}

type analyzeRequest struct {
	Content         string                 `json:"content"`
	Kind            string                 `json:"kind"`
	Context         map[string]interface{} `json:"context,omitempty"`
	CustomerID      string                 `json:"customer_id,omitempty"`
	WorkspaceID     string                 `json:"workspace_id,omitempty"`
	DeveloperID     string                 `json:"developer_id,omitempty"`
	UseCache        bool                   `json:"use_cache"`
	CacheTTLSeconds int                    `json:"cache_ttl_seconds,omitempty"`
	SkipRateLimit   bool                   `json:"skip_rate_limit,omitempty"`
}

func (r *analyzeRequest) params() gateway.AnalyzeParams {
	return gateway.AnalyzeParams{
		CustomerID:    r.CustomerID,
		WorkspaceID:   r.WorkspaceID,
		DeveloperID:   r.DeveloperID,
		UseCache:      r.UseCache,
		CacheTTL:      time.Duration(r.CacheTTLSeconds) * time.Second,
		SkipRateLimit: r.SkipRateLimit,
	}
}

func (r *analyzeRequest) descriptor() *provider.Request {
	kind := provider.AnalysisKind(r.Kind)
	if kind == "" {
		kind = provider.KindGeneral
	}
	return &provider.Request{Content: r.Content, Kind: kind, Context: r.Context}
}

func (api *AnalyzeAPI) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
		return
	}
	if req.Content == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "content is required",
		})
		return
	}

	result, err := api.gw.Analyze(r.Context(), req.descriptor(), req.params())
	if err != nil {
		respondAnalyzeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (api *AnalyzeAPI) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		analyzeRequest
		Items []struct {
			Content string                 `json:"content"`
			Kind    string                 `json:"kind"`
			Context map[string]interface{} `json:"context,omitempty"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
		return
	}
	if len(req.Items) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "items is required",
		})
		return
	}

	descriptors := make([]*provider.Request, 0, len(req.Items))
	for _, item := range req.Items {
		kind := provider.AnalysisKind(item.Kind)
		if kind == "" {
			kind = provider.KindGeneral
		}
		descriptors = append(descriptors, &provider.Request{
			Content: item.Content,
			Kind:    kind,
			Context: item.Context,
		})
	}

	results, err := api.gw.AnalyzeBatch(r.Context(), descriptors, req.params())
	if err != nil {
		respondAnalyzeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func respondAnalyzeError(w http.ResponseWriter, err error) {
	var rlErr *gateway.RateLimitError
	if errors.As(err, &rlErr) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", rlErr.WaitSeconds))
		respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":        rlErr.Reason,
			"scope":        rlErr.Scope,
			"dimension":    rlErr.Dimension,
			"wait_seconds": rlErr.WaitSeconds,
		})
		return
	}

	respondJSON(w, http.StatusBadGateway, map[string]string{
		"error": fmt.Sprintf("Provider call failed: %v", err),
	})
}
