package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger is an in-memory Ledger shared by the meter and reporter tests.
type fakeLedger struct {
	accounts  map[string]*Account
	records   []UsageRecord
	batchIDs  map[string]string // record ID -> reserved batch ID
	insertErr error
	commitErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[string]*Account{},
		batchIDs: map[string]string{},
	}
}

func (f *fakeLedger) InsertUsage(_ context.Context, rec *UsageRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeLedger) UnreportedForCustomer(_ context.Context, customerID string) ([]UsageRecord, error) {
	var out []UsageRecord
	for _, rec := range f.records {
		if rec.CustomerID == customerID && !rec.Reported {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeLedger) PendingBatch(_ context.Context, customerID string) (string, []UsageRecord, error) {
	for _, rec := range f.records {
		if rec.CustomerID != customerID || rec.Reported {
			continue
		}
		if batchID, ok := f.batchIDs[rec.ID]; ok {
			return batchID, f.batchRecords(batchID), nil
		}
	}
	return "", nil, nil
}

func (f *fakeLedger) ReserveBatch(_ context.Context, customerID, batchID string) ([]UsageRecord, error) {
	for _, rec := range f.records {
		if rec.CustomerID != customerID || rec.Reported {
			continue
		}
		if _, reserved := f.batchIDs[rec.ID]; !reserved {
			f.batchIDs[rec.ID] = batchID
		}
	}
	return f.batchRecords(batchID), nil
}

func (f *fakeLedger) batchRecords(batchID string) []UsageRecord {
	var out []UsageRecord
	for _, rec := range f.records {
		if !rec.Reported && f.batchIDs[rec.ID] == batchID {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakeLedger) CommitBatch(_ context.Context, customerID, batchID string, at time.Time, carryCents float64) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	for i := range f.records {
		if f.batchIDs[f.records[i].ID] == batchID && !f.records[i].Reported {
			f.records[i].Reported = true
			t := at
			f.records[i].ReportedAt = &t
		}
	}
	if acct, ok := f.accounts[customerID]; ok {
		acct.CarryCents = carryCents
	}
	return nil
}

func (f *fakeLedger) CustomersWithUnreported(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, rec := range f.records {
		if !rec.Reported && !seen[rec.CustomerID] {
			seen[rec.CustomerID] = true
			out = append(out, rec.CustomerID)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetAccount(_ context.Context, customerID string) (*Account, error) {
	return f.accounts[customerID], nil
}

func (f *fakeLedger) UpsertAccount(_ context.Context, acct *Account) error {
	f.accounts[acct.CustomerID] = acct
	return nil
}

func (f *fakeLedger) Ping(context.Context) error { return nil }

func activeAccount(customerID string) *Account {
	return &Account{
		CustomerID:         customerID,
		StripeCustomerID:   "cus_" + customerID,
		SubscriptionItemID: "si_" + customerID,
		Active:             true,
	}
}

func TestRecordUsageWritesPricedLedgerRow(t *testing.T) {
	ledger := newFakeLedger()
	ledger.accounts["cust-1"] = activeAccount("cust-1")

	m := NewMeter(NewPricer(pricingConfig(30)), ledger)
	fixed := time.Date(2026, 4, 15, 10, 30, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	rec, err := m.RecordUsage(context.Background(), MeterInput{
		CustomerID:   "cust-1",
		Provider:     "acme",
		Model:        "acme-analyst-2",
		InputTokens:  1000,
		OutputTokens: 200,
		AnalysisKind: "general",
		RequestID:    "req-1",
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.NotEmpty(t, rec.ID)
	assert.InDelta(t, 0.6, rec.BaseCostCents, 1e-9)
	assert.Equal(t, 30.0, rec.MarginPercent)
	assert.InDelta(t, 0.78, rec.TotalCostCents, 1e-9)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), rec.BillingPeriodStart)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), rec.BillingPeriodEnd)
	assert.False(t, rec.Reported)
	require.Len(t, ledger.records, 1)
	assert.Equal(t, rec.ID, ledger.records[0].ID)
}

func TestRecordUsageSkipsCustomersWithoutAccount(t *testing.T) {
	ledger := newFakeLedger()
	m := NewMeter(NewPricer(pricingConfig(30)), ledger)

	rec, err := m.RecordUsage(context.Background(), MeterInput{
		CustomerID:  "nobody",
		Provider:    "acme",
		InputTokens: 1000,
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, ledger.records)
}

func TestRecordUsageSkipsInactiveAccounts(t *testing.T) {
	ledger := newFakeLedger()
	acct := activeAccount("cust-1")
	acct.Active = false
	ledger.accounts["cust-1"] = acct

	m := NewMeter(NewPricer(pricingConfig(30)), ledger)
	rec, err := m.RecordUsage(context.Background(), MeterInput{CustomerID: "cust-1", Provider: "acme"})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, ledger.records)
}

func TestRecordUsagePropagatesInsertError(t *testing.T) {
	ledger := newFakeLedger()
	ledger.accounts["cust-1"] = activeAccount("cust-1")
	ledger.insertErr = errors.New("db down")

	m := NewMeter(NewPricer(pricingConfig(30)), ledger)
	_, err := m.RecordUsage(context.Background(), MeterInput{CustomerID: "cust-1", Provider: "acme"})
	assert.Error(t, err)
}
