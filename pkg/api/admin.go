package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harborhq/aigateway/pkg/billing"
	"github.com/harborhq/aigateway/pkg/ratelimit"
)

// AdminAPI provides operator endpoints for limits and billing
type AdminAPI struct {
	limiter  *ratelimit.Limiter
	reporter *billing.Reporter
	ledger   billing.Ledger
	adminKey string // Simple admin authentication
}

// NewAdminAPI creates a new admin API handler
func NewAdminAPI(limiter *ratelimit.Limiter, reporter *billing.Reporter, ledger billing.Ledger, adminKey string) *AdminAPI {
	return &AdminAPI{
		limiter:  limiter,
		reporter: reporter,
		ledger:   ledger,
		adminKey: adminKey,
	}
}

// RegisterRoutes registers admin endpoints
func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	// Rate limits
	mux.HandleFunc("/admin/limits", api.authenticate(api.handleLimitStatus))

	// Billing
	mux.HandleFunc("/admin/billing/report", api.authenticate(api.handleReport))
	mux.HandleFunc("/admin/billing/accounts", api.authenticate(api.handleUpsertAccount))
	mux.HandleFunc("/admin/usage", api.authenticate(api.handleUnreportedUsage))

	// System
	mux.HandleFunc("/admin/health", api.handleHealth)
}

// authenticate middleware checks admin key
func (api *AdminAPI) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("X-Admin-Key")
		if authHeader != api.adminKey {
			respondJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid admin key",
			})
			return
		}
		next(w, r)
	}
}

// handleLimitStatus returns the read-only rate limit status payload for a
// provider, optionally narrowed to a workspace and developer.
func (api *AdminAPI) handleLimitStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "provider parameter required",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, err := api.limiter.Status(ctx,
		providerName,
		r.URL.Query().Get("workspace_id"),
		r.URL.Query().Get("developer_id"))
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("Failed to get limit status: %v", err),
		})
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// handleReport runs the billing reporter, for one customer or the full batch.
func (api *AdminAPI) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if api.reporter == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Billing not enabled",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	if customerID := r.URL.Query().Get("customer_id"); customerID != "" {
		summary, err := api.reporter.ReportCustomer(ctx, customerID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": fmt.Sprintf("Failed to report usage: %v", err),
			})
			return
		}
		respondJSON(w, http.StatusOK, summary)
		return
	}

	result, err := api.reporter.ReportAll(ctx)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("Failed to run report batch: %v", err),
		})
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleUpsertAccount creates or updates a customer's billing account.
func (api *AdminAPI) handleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if api.ledger == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Billing not enabled",
		})
		return
	}

	var acct billing.Account
	if err := json.NewDecoder(r.Body).Decode(&acct); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
		return
	}

	if acct.CustomerID == "" || acct.SubscriptionItemID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer_id and subscription_item_id are required",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := api.ledger.UpsertAccount(ctx, &acct); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("Failed to save account: %v", err),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Billing account saved",
	})
}

// handleUnreportedUsage summarizes pending usage for a customer.
func (api *AdminAPI) handleUnreportedUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if api.ledger == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Billing not enabled",
		})
		return
	}

	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer_id parameter required",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	records, err := api.ledger.UnreportedForCustomer(ctx, customerID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("Failed to get usage: %v", err),
		})
		return
	}

	var totalCents float64
	for _, rec := range records {
		totalCents += rec.TotalCostCents
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id":      customerID,
		"unreported_count": len(records),
		"total_cost_cents": totalCents,
		"records":          records,
	})
}

// handleHealth returns system health
func (api *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	}

	if api.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := api.ledger.Ping(ctx); err != nil {
			health["ledger"] = "unhealthy"
			health["status"] = "degraded"
		} else {
			health["ledger"] = "healthy"
		}
	}

	respondJSON(w, http.StatusOK, health)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
