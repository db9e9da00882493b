package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Ledger persists usage records and billing accounts. The Postgres schema
// lives in migrations/0001_billing.sql.
//
// Settlement is a two-phase reserve/commit: ReserveBatch stamps the
// customer's unreported rows with a batch ID before the platform call, and
// CommitBatch flips them to reported afterwards. A crash between the two
// leaves a pending batch that PendingBatch returns on the next run, so the
// retry reuses the same batch ID (and thus the same idempotency key) no
// matter how much new usage landed in between.
type Ledger interface {
	InsertUsage(ctx context.Context, rec *UsageRecord) error
	UnreportedForCustomer(ctx context.Context, customerID string) ([]UsageRecord, error)
	PendingBatch(ctx context.Context, customerID string) (string, []UsageRecord, error)
	ReserveBatch(ctx context.Context, customerID, batchID string) ([]UsageRecord, error)
	CommitBatch(ctx context.Context, customerID, batchID string, at time.Time, carryCents float64) error
	CustomersWithUnreported(ctx context.Context) ([]string, error)
	GetAccount(ctx context.Context, customerID string) (*Account, error)
	UpsertAccount(ctx context.Context, acct *Account) error
	Ping(ctx context.Context) error
}

// PostgresLedger implements Ledger on database/sql with the lib/pq driver.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// OpenPostgres connects and pings within a short deadline.
func OpenPostgres(dsn string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresLedger{db: db}, nil
}

func (l *PostgresLedger) InsertUsage(ctx context.Context, rec *UsageRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ai_usage_records (
			id, customer_id, provider, model, input_tokens, output_tokens,
			base_cost_cents, margin_percent, total_cost_cents,
			billing_period_start, billing_period_end,
			analysis_kind, request_id, reported, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, false, $14)
	`, rec.ID, rec.CustomerID, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens,
		rec.BaseCostCents, rec.MarginPercent, rec.TotalCostCents,
		rec.BillingPeriodStart, rec.BillingPeriodEnd,
		rec.AnalysisKind, rec.RequestID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

const usageColumns = `id, customer_id, provider, model, input_tokens, output_tokens,
	base_cost_cents, margin_percent, total_cost_cents,
	billing_period_start, billing_period_end,
	analysis_kind, request_id, reported, reported_at, created_at`

func (l *PostgresLedger) queryRecords(ctx context.Context, query string, args ...interface{}) ([]UsageRecord, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		var reportedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.CustomerID, &rec.Provider, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens,
			&rec.BaseCostCents, &rec.MarginPercent, &rec.TotalCostCents,
			&rec.BillingPeriodStart, &rec.BillingPeriodEnd,
			&rec.AnalysisKind, &rec.RequestID, &rec.Reported, &reportedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if reportedAt.Valid {
			rec.ReportedAt = &reportedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (l *PostgresLedger) UnreportedForCustomer(ctx context.Context, customerID string) ([]UsageRecord, error) {
	return l.queryRecords(ctx, `
		SELECT `+usageColumns+`
		FROM ai_usage_records
		WHERE customer_id = $1 AND reported = false
		ORDER BY created_at ASC
	`, customerID)
}

// PendingBatch returns the customer's reserved-but-uncommitted batch, if one
// exists. The batch ID is empty when there is nothing to resume.
func (l *PostgresLedger) PendingBatch(ctx context.Context, customerID string) (string, []UsageRecord, error) {
	var batchID sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT report_batch_id FROM ai_usage_records
		WHERE customer_id = $1 AND reported = false AND report_batch_id IS NOT NULL
		LIMIT 1
	`, customerID).Scan(&batchID)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("query pending batch: %w", err)
	}

	records, err := l.queryRecords(ctx, `
		SELECT `+usageColumns+`
		FROM ai_usage_records
		WHERE report_batch_id = $1 AND reported = false
		ORDER BY created_at ASC
	`, batchID.String)
	if err != nil {
		return "", nil, err
	}
	return batchID.String, records, nil
}

// ReserveBatch stamps every unreserved unreported row for the customer with
// the batch ID and returns the reserved rows. Rows inserted after the stamp
// stay out of this batch.
func (l *PostgresLedger) ReserveBatch(ctx context.Context, customerID, batchID string) ([]UsageRecord, error) {
	if _, err := l.db.ExecContext(ctx, `
		UPDATE ai_usage_records
		SET report_batch_id = $2
		WHERE customer_id = $1 AND reported = false AND report_batch_id IS NULL
	`, customerID, batchID); err != nil {
		return nil, fmt.Errorf("reserve batch: %w", err)
	}

	return l.queryRecords(ctx, `
		SELECT `+usageColumns+`
		FROM ai_usage_records
		WHERE report_batch_id = $1 AND reported = false
		ORDER BY created_at ASC
	`, batchID)
}

// CommitBatch flips the batch's rows to reported and stores the customer's
// new carry remainder, in one transaction. The reported=false guard keeps
// the transition monotonic: a row never goes back, and a concurrent
// reporter cannot flip the same row twice.
func (l *PostgresLedger) CommitBatch(ctx context.Context, customerID, batchID string, at time.Time, carryCents float64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit-batch tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE ai_usage_records
		SET reported = true, reported_at = $2
		WHERE report_batch_id = $1 AND reported = false
	`, batchID, at); err != nil {
		return fmt.Errorf("mark batch reported: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE billing_accounts
		SET carry_cents = $2, updated_at = now()
		WHERE customer_id = $1
	`, customerID, carryCents); err != nil {
		return fmt.Errorf("update carry: %w", err)
	}

	return tx.Commit()
}

func (l *PostgresLedger) CustomersWithUnreported(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT DISTINCT customer_id FROM ai_usage_records WHERE reported = false
	`)
	if err != nil {
		return nil, fmt.Errorf("query customers with unreported usage: %w", err)
	}
	defer rows.Close()

	var customers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		customers = append(customers, id)
	}
	return customers, rows.Err()
}

func (l *PostgresLedger) GetAccount(ctx context.Context, customerID string) (*Account, error) {
	var acct Account
	err := l.db.QueryRowContext(ctx, `
		SELECT customer_id, stripe_customer_id, subscription_item_id, active, carry_cents, created_at, updated_at
		FROM billing_accounts WHERE customer_id = $1
	`, customerID).Scan(&acct.CustomerID, &acct.StripeCustomerID,
		&acct.SubscriptionItemID, &acct.Active, &acct.CarryCents, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		// No billing configured for this customer. Not an error: usage
		// metering must never block a feature request over billing setup.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get billing account: %w", err)
	}
	return &acct, nil
}

func (l *PostgresLedger) UpsertAccount(ctx context.Context, acct *Account) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO billing_accounts (customer_id, stripe_customer_id, subscription_item_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (customer_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id,
		    subscription_item_id = EXCLUDED.subscription_item_id,
		    active = EXCLUDED.active,
		    updated_at = now()
	`, acct.CustomerID, acct.StripeCustomerID, acct.SubscriptionItemID, acct.Active)
	if err != nil {
		return fmt.Errorf("upsert billing account: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
