package billing

import "time"

// UsageRecord is one immutable metered provider call. Costs are in minor
// currency units (cents); fractional cents are kept so that sub-cent calls
// still accumulate instead of rounding to zero row by row.
// Only the reported/reported_at transition ever mutates a row, exactly once.
type UsageRecord struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	Provider           string     `json:"provider"`
	Model              string     `json:"model"`
	InputTokens        int64      `json:"input_tokens"`
	OutputTokens       int64      `json:"output_tokens"`
	BaseCostCents      float64    `json:"base_cost_cents"`
	MarginPercent      float64    `json:"margin_percent"`
	TotalCostCents     float64    `json:"total_cost_cents"`
	BillingPeriodStart time.Time  `json:"billing_period_start"`
	BillingPeriodEnd   time.Time  `json:"billing_period_end"`
	AnalysisKind       string     `json:"analysis_kind"`
	RequestID          string     `json:"request_id"`
	Reported           bool       `json:"reported"`
	ReportedAt         *time.Time `json:"reported_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Account links a platform customer to their Stripe billing objects.
// Customers without an account have their usage silently unmetered.
// CarryCents holds the sub-cent remainder from the last reported batch;
// it is added to the next batch so fractional cents accumulate instead of
// rounding away.
type Account struct {
	CustomerID         string    `json:"customer_id"`
	StripeCustomerID   string    `json:"stripe_customer_id"`
	SubscriptionItemID string    `json:"subscription_item_id"`
	Active             bool      `json:"active"`
	CarryCents         float64   `json:"carry_cents"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ReportSummary is the outcome of reporting one customer's unreported usage.
// ReportedQuantity is the integral cent quantity actually submitted to the
// platform; it can be zero for a sub-cent batch whose value moved to carry.
type ReportSummary struct {
	CustomerID       string  `json:"customer_id"`
	ReportedCount    int     `json:"reported_count"`
	TotalCostCents   float64 `json:"total_cost_cents"`
	ReportedQuantity int64   `json:"reported_quantity"`
	CarryCents       float64 `json:"carry_cents"`
}

// BatchResult aggregates a run over every customer with unreported usage.
type BatchResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
