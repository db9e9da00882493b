package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Meter turns raw token counts into priced ledger entries.
type Meter struct {
	pricer *Pricer
	ledger Ledger
	now    func() time.Time
}

func NewMeter(pricer *Pricer, ledger Ledger) *Meter {
	return &Meter{
		pricer: pricer,
		ledger: ledger,
		now:    time.Now,
	}
}

// SetClock overrides the meter's clock. Test hook.
func (m *Meter) SetClock(now func() time.Time) {
	m.now = now
}

// MeterInput carries everything needed to price and persist one call.
type MeterInput struct {
	CustomerID   string
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	AnalysisKind string
	RequestID    string
}

// RecordUsage prices a completed provider call and writes one immutable
// ledger row. Returns (nil, nil) when the customer has no active billing
// account: the call simply goes unmetered rather than failing the feature.
func (m *Meter) RecordUsage(ctx context.Context, in MeterInput) (*UsageRecord, error) {
	acct, err := m.ledger.GetAccount(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if acct == nil || !acct.Active {
		log.Printf("[USAGE] no billing account for customer %s, usage not metered", in.CustomerID)
		return nil, nil
	}

	base, total := m.pricer.Cost(in.Provider, in.InputTokens, in.OutputTokens)
	periodStart, periodEnd := billingPeriod(m.now())

	rec := &UsageRecord{
		ID:                 uuid.NewString(),
		CustomerID:         in.CustomerID,
		Provider:           in.Provider,
		Model:              in.Model,
		InputTokens:        in.InputTokens,
		OutputTokens:       in.OutputTokens,
		BaseCostCents:      base,
		MarginPercent:      m.pricer.MarginPercent(),
		TotalCostCents:     total,
		BillingPeriodStart: periodStart,
		BillingPeriodEnd:   periodEnd,
		AnalysisKind:       in.AnalysisKind,
		RequestID:          in.RequestID,
		CreatedAt:          m.now().UTC(),
	}

	if err := m.ledger.InsertUsage(ctx, rec); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	return rec, nil
}

// billingPeriod returns the UTC calendar month containing t.
func billingPeriod(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
