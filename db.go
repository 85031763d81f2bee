package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type DBConfig struct {
	DSN    string
	Schema string
}

type RunSummary struct {
	RunID           string
	CreatedAt       time.Time
	StartMonth      string
	EndMonth        string
	MonthsCommitted int
	MonthsFailed    int
	TotalRecords    int
}

func resolveDBConfig(dsnFlag string, schema string) (DBConfig, error) {
	dsn := strings.TrimSpace(dsnFlag)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("VITASHOP_LIFECYCLE_DB_URL"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return DBConfig{}, errors.New("database DSN missing: set --db-url, VITASHOP_LIFECYCLE_DB_URL, or DATABASE_URL")
	}
	if strings.TrimSpace(schema) == "" {
		schema = "vitashop_lifecycle"
	}
	return DBConfig{DSN: dsn, Schema: schema}, nil
}

func openDB(cfg DBConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, schema string) error {
	if schema == "" {
		schema = "vitashop_lifecycle"
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pqQuoteIdentifier(schema)))
	return err
}

func ensureTables(ctx context.Context, db *sql.DB, schema string) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s.lifecycle_records (
	analysis_month TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	order_line_id TEXT NOT NULL,
	order_id TEXT,
	order_date DATE NOT NULL,
	lifecycle_overall TEXT NOT NULL,
	lifecycle_brand TEXT,
	lifecycle_payment TEXT,
	lifecycle_product TEXT,
	lifecycle_modality TEXT,
	brand_name TEXT,
	payment_method TEXT,
	product_category TEXT,
	fulfillment_type TEXT,
	revenue_amount NUMERIC,
	quantity INT,
	attributes JSONB,
	PRIMARY KEY (analysis_month, order_line_id)
);
CREATE INDEX IF NOT EXISTS lifecycle_records_month_idx ON %[1]s.lifecycle_records (analysis_month);
CREATE INDEX IF NOT EXISTS lifecycle_records_customer_idx ON %[1]s.lifecycle_records (customer_id);
CREATE TABLE IF NOT EXISTS %[1]s.lifecycle_runs (
	run_id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	input_path TEXT,
	start_month TEXT NOT NULL,
	end_month TEXT NOT NULL,
	months_committed INT NOT NULL,
	months_failed INT NOT NULL,
	total_records INT NOT NULL,
	report JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS lifecycle_runs_created_at_idx ON %[1]s.lifecycle_runs (created_at DESC);
`, pqQuoteIdentifier(schema))

	_, err := db.ExecContext(ctx, query)
	return err
}

// PostgresSink commits each month inside one transaction: the month's slice
// is deleted and re-inserted, so a failed month rolls back to the previous
// committed state and a re-run never duplicates rows.
type PostgresSink struct {
	db     *sql.DB
	schema string
}

func newPostgresSink(ctx context.Context, db *sql.DB, schema string) (*PostgresSink, error) {
	if err := ensureSchema(ctx, db, schema); err != nil {
		return nil, err
	}
	if err := ensureTables(ctx, db, schema); err != nil {
		return nil, err
	}
	return &PostgresSink{db: db, schema: schema}, nil
}

func (s *PostgresSink) WriteMonth(ctx context.Context, month AnalysisMonth, records []LifecycleRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	deleteQuery := fmt.Sprintf("DELETE FROM %s.lifecycle_records WHERE analysis_month = $1", pqQuoteIdentifier(s.schema))
	if _, err := tx.ExecContext(ctx, deleteQuery, month.Key()); err != nil {
		return err
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s.lifecycle_records (
	analysis_month, customer_id, order_line_id, order_id, order_date,
	lifecycle_overall, lifecycle_brand, lifecycle_payment, lifecycle_product, lifecycle_modality,
	brand_name, payment_method, product_category, fulfillment_type,
	revenue_amount, quantity, attributes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`, pqQuoteIdentifier(s.schema))

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, record := range records {
		attributes, err := json.Marshal(map[string]string{
			"customer_gender":     record.Gender,
			"customer_birthdate":  record.Birthdate,
			"region_name":         record.Region,
			"store_name":          record.Store,
			"booking_channel":     record.BookingChannel,
			"channel_group":       record.ChannelGroup,
			"campaign_non_direct": record.Campaign,
			"health_plan_name":    record.HealthPlan,
			"market_segment":      record.MarketSegment,
		})
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			record.AnalysisMonth,
			record.CustomerID,
			record.OrderLineID,
			nullableString(record.OrderID),
			record.OrderDate,
			string(record.LifecycleOverall),
			nullableState(record.LifecycleBrand),
			nullableState(record.LifecyclePayment),
			nullableState(record.LifecycleProduct),
			nullableState(record.LifecycleModality),
			nullableString(record.Brand),
			nullableString(record.PaymentMethod),
			nullableString(record.ProductCategory),
			nullableString(record.FulfillmentType),
			nullableString(record.Revenue),
			record.Quantity,
			attributes,
		)
		if err != nil {
			return fmt.Errorf("insert line %s: %w", record.OrderLineID, err)
		}
	}
	return tx.Commit()
}

func insertRun(ctx context.Context, db *sql.DB, schema string, inputPath string, report BackfillReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s.lifecycle_runs (run_id, input_path, start_month, end_month, months_committed, months_failed, total_records, report)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, pqQuoteIdentifier(schema))
	_, err = db.ExecContext(ctx, query,
		report.RunID, inputPath, report.StartMonth, report.EndMonth,
		report.MonthsCommitted, report.MonthsFailed, report.TotalRecords, payload)
	return err
}

func listRuns(ctx context.Context, db *sql.DB, schema string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`
SELECT run_id, created_at, start_month, end_month, months_committed, months_failed, total_records
FROM %s.lifecycle_runs
ORDER BY created_at DESC
LIMIT $1
`, pqQuoteIdentifier(schema))

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var summary RunSummary
		if err := rows.Scan(&summary.RunID, &summary.CreatedAt, &summary.StartMonth, &summary.EndMonth,
			&summary.MonthsCommitted, &summary.MonthsFailed, &summary.TotalRecords); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableState(state LifecycleState) any {
	if state == "" {
		return nil
	}
	return string(state)
}

func pqQuoteIdentifier(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
