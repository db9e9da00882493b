package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Reporter settles unreported ledger rows against the billing platform.
//
// Settlement is reserve/commit: rows are stamped with a batch ID before the
// external call and flipped to reported after it. The idempotency key is
// derived from the batch ID, so a crash between the call and the commit
// replays the SAME batch under the SAME key on retry, and usage that landed
// in between stays out of it. Stripe's idempotency layer turns the replay
// into a no-op.
//
// Stripe quantities are integral cents. Each batch reports
// floor(total + carry) and persists the fractional remainder as the
// customer's carry, so sub-cent usage accumulates across batches instead
// of being dropped.
type Reporter struct {
	ledger Ledger
	client UsageReportClient
	pacer  *rate.Limiter
	now    func() time.Time
}

func NewReporter(ledger Ledger, client UsageReportClient) *Reporter {
	return &Reporter{
		ledger: ledger,
		client: client,
		// Pace outbound billing calls so a large batch run does not
		// hammer the platform API.
		pacer: rate.NewLimiter(rate.Limit(10), 5),
		now:   time.Now,
	}
}

// SetClock overrides the reporter's clock. Test hook.
func (r *Reporter) SetClock(now func() time.Time) {
	r.now = now
}

// ReportCustomer settles all unreported usage for one customer. A pending
// batch left behind by an earlier crash is resumed before any new rows are
// reserved. Rows are committed only after the external call succeeds.
func (r *Reporter) ReportCustomer(ctx context.Context, customerID string) (*ReportSummary, error) {
	batchID, records, err := r.ledger.PendingBatch(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if batchID == "" {
		batchID = uuid.New().String()
		records, err = r.ledger.ReserveBatch(ctx, customerID, batchID)
		if err != nil {
			return nil, err
		}
	} else {
		log.Printf("[BILLING] customer %s: resuming pending batch %s (%d rows)", customerID, batchID, len(records))
	}

	summary := &ReportSummary{CustomerID: customerID}
	if len(records) == 0 {
		return summary, nil
	}

	var totalCents float64
	for _, rec := range records {
		totalCents += rec.TotalCostCents
	}
	summary.ReportedCount = len(records)
	summary.TotalCostCents = totalCents

	acct, err := r.ledger.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var carry float64
	if acct != nil {
		carry = acct.CarryCents
	}
	quantity := int64(math.Floor(totalCents + carry))
	newCarry := totalCents + carry - float64(quantity)
	summary.ReportedQuantity = quantity
	summary.CarryCents = newCarry

	if quantity > 0 {
		if acct == nil || !acct.Active {
			return nil, fmt.Errorf("customer %s has unreported usage but no active billing account", customerID)
		}

		if err := r.pacer.Wait(ctx); err != nil {
			return nil, err
		}
		if err := r.client.ReportUsage(acct.SubscriptionItemID, quantity, batchIdempotencyKey(customerID, batchID)); err != nil {
			return nil, fmt.Errorf("report usage for %s: %w", customerID, err)
		}
	} else {
		log.Printf("[BILLING] customer %s: batch %s below one cent (%.4f + carry %.4f), carrying forward", customerID, batchID, totalCents, carry)
	}

	if err := r.ledger.CommitBatch(ctx, customerID, batchID, r.now().UTC(), newCarry); err != nil {
		// The external increment is durable but the commit failed. The
		// next run resumes this batch under the same idempotency key.
		return nil, fmt.Errorf("commit batch for %s: %w", customerID, err)
	}

	return summary, nil
}

// ReportAll runs ReportCustomer for every customer with unreported usage.
// One customer's failure never aborts the batch.
func (r *Reporter) ReportAll(ctx context.Context) (*BatchResult, error) {
	customers, err := r.ledger.CustomersWithUnreported(ctx)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for _, customerID := range customers {
		result.Processed++
		if _, err := r.ReportCustomer(ctx, customerID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", customerID, err))
			reportOutcomes.WithLabelValues("failed").Inc()
			log.Printf("[BILLING] report failed for customer %s: %v", customerID, err)
			continue
		}
		result.Succeeded++
		reportOutcomes.WithLabelValues("succeeded").Inc()
	}

	return result, nil
}

// batchIdempotencyKey is stable for a given batch no matter how many times
// the batch is retried.
func batchIdempotencyKey(customerID, batchID string) string {
	sum := sha256.Sum256([]byte(customerID + "|" + batchID))
	return "usage-" + hex.EncodeToString(sum[:16])
}
