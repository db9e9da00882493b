package billing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresLedger(db), mock
}

func TestInsertUsageWritesAllColumns(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Now().UTC()

	rec := &UsageRecord{
		ID:                 "rec-1",
		CustomerID:         "cust-1",
		Provider:           "acme",
		Model:              "acme-analyst-2",
		InputTokens:        1000,
		OutputTokens:       200,
		BaseCostCents:      0.6,
		MarginPercent:      30,
		TotalCostCents:     0.78,
		BillingPeriodStart: now,
		BillingPeriodEnd:   now.AddDate(0, 1, 0),
		AnalysisKind:       "general",
		RequestID:          "req-1",
		CreatedAt:          now,
	}

	mock.ExpectExec("INSERT INTO ai_usage_records").
		WithArgs(rec.ID, rec.CustomerID, rec.Provider, rec.Model,
			rec.InputTokens, rec.OutputTokens,
			rec.BaseCostCents, rec.MarginPercent, rec.TotalCostCents,
			rec.BillingPeriodStart, rec.BillingPeriodEnd,
			rec.AnalysisKind, rec.RequestID, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ledger.InsertUsage(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func usageTestColumns() []string {
	return []string{"id", "customer_id", "provider", "model", "input_tokens", "output_tokens",
		"base_cost_cents", "margin_percent", "total_cost_cents",
		"billing_period_start", "billing_period_end",
		"analysis_kind", "request_id", "reported", "reported_at", "created_at"}
}

func TestReserveBatchStampsOnlyUnreservedRows(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE ai_usage_records").
		WithArgs("cust-1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT (.+) FROM ai_usage_records").
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows(usageTestColumns()).
			AddRow("r1", "cust-1", "acme", "acme-analyst-2", 1000, 200,
				0.6, 30.0, 0.78, now, now.AddDate(0, 1, 0),
				"general", "req-1", false, nil, now))

	records, err := ledger.ReserveBatch(context.Background(), "cust-1", "batch-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingBatchEmptyWhenNothingReserved(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("SELECT report_batch_id FROM ai_usage_records").
		WithArgs("cust-1").
		WillReturnRows(sqlmock.NewRows([]string{"report_batch_id"}))

	batchID, records, err := ledger.PendingBatch(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Empty(t, batchID)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingBatchReturnsReservedRows(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT report_batch_id FROM ai_usage_records").
		WithArgs("cust-1").
		WillReturnRows(sqlmock.NewRows([]string{"report_batch_id"}).AddRow("batch-1"))
	mock.ExpectQuery("SELECT (.+) FROM ai_usage_records").
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows(usageTestColumns()).
			AddRow("r1", "cust-1", "acme", "acme-analyst-2", 1000, 200,
				0.6, 30.0, 0.78, now, now.AddDate(0, 1, 0),
				"general", "req-1", false, nil, now))

	batchID, records, err := ledger.PendingBatch(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", batchID)
	require.Len(t, records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBatchFlipsRowsAndCarryInOneTransaction(t *testing.T) {
	ledger, mock := newMockLedger(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE ai_usage_records").
		WithArgs("batch-1", at).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE billing_accounts").
		WithArgs("cust-1", 0.34).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ledger.CommitBatch(context.Background(), "cust-1", "batch-1", at, 0.34))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnreportedForCustomerScansRows(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM ai_usage_records").
		WithArgs("cust-1").
		WillReturnRows(sqlmock.NewRows(usageTestColumns()).
			AddRow("r1", "cust-1", "acme", "acme-analyst-2", 1000, 200,
				0.6, 30.0, 0.78, now, now.AddDate(0, 1, 0),
				"general", "req-1", false, nil, now))

	records, err := ledger.UnreportedForCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
	assert.InDelta(t, 0.78, records[0].TotalCostCents, 1e-9)
	assert.Nil(t, records[0].ReportedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountMissingReturnsNilNil(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("SELECT (.+) FROM billing_accounts").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "stripe_customer_id",
			"subscription_item_id", "active", "carry_cents", "created_at", "updated_at"}))

	acct, err := ledger.GetAccount(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestGetAccountFound(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM billing_accounts").
		WithArgs("cust-1").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "stripe_customer_id",
			"subscription_item_id", "active", "carry_cents", "created_at", "updated_at"}).
			AddRow("cust-1", "cus_123", "si_456", true, 0.34, now, now))

	acct, err := ledger.GetAccount(context.Background(), "cust-1")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "si_456", acct.SubscriptionItemID)
	assert.True(t, acct.Active)
	assert.InDelta(t, 0.34, acct.CarryCents, 1e-9)
}

func TestCustomersWithUnreported(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("SELECT DISTINCT customer_id FROM ai_usage_records").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).
			AddRow("cust-1").AddRow("cust-2"))

	customers, err := ledger.CustomersWithUnreported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cust-1", "cust-2"}, customers)
}
