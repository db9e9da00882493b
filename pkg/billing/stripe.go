package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// UsageReportClient submits incremental metered usage to the billing
// platform. Narrow interface so the reporter can be tested with a fake.
type UsageReportClient interface {
	// ReportUsage increments the metered quantity on a subscription item.
	// The idempotency key makes a crash-retry of the same batch a no-op
	// on the platform side.
	ReportUsage(subscriptionItemID string, quantity int64, idempotencyKey string) error
}

// StripeClient reports usage through Stripe's subscription usage records.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(apiKey string) (*StripeClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stripe API key is required")
	}

	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeClient{api: api}, nil
}

func (s *StripeClient) ReportUsage(subscriptionItemID string, quantity int64, idempotencyKey string) error {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(subscriptionItemID),
		Quantity:         stripe.Int64(quantity),
		Action:           stripe.String(stripe.UsageRecordActionIncrement),
	}
	params.SetIdempotencyKey(idempotencyKey)

	if _, err := s.api.UsageRecords.New(params); err != nil {
		return fmt.Errorf("stripe usage record: %w", err)
	}
	return nil
}
