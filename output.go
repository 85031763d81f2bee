package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var recordCSVHeader = []string{
	"analysis_month", "customer_id", "order_line_id", "order_id", "order_date",
	"lifecycle_overall", "lifecycle_brand", "lifecycle_payment",
	"lifecycle_product", "lifecycle_modality",
	"brand_name", "payment_method", "product_category", "fulfillment_type",
	"revenue_amount", "quantity", "customer_gender", "customer_birthdate",
	"region_name", "store_name", "booking_channel", "channel_group",
	"campaign_non_direct", "health_plan_name", "market_segment",
}

func recordCSVRow(record LifecycleRecord) []string {
	return []string{
		record.AnalysisMonth,
		record.CustomerID,
		record.OrderLineID,
		record.OrderID,
		record.OrderDate,
		string(record.LifecycleOverall),
		string(record.LifecycleBrand),
		string(record.LifecyclePayment),
		string(record.LifecycleProduct),
		string(record.LifecycleModality),
		record.Brand,
		record.PaymentMethod,
		record.ProductCategory,
		record.FulfillmentType,
		record.Revenue,
		strconv.Itoa(record.Quantity),
		record.Gender,
		record.Birthdate,
		record.Region,
		record.Store,
		record.BookingChannel,
		record.ChannelGroup,
		record.Campaign,
		record.HealthPlan,
		record.MarketSegment,
	}
}

// CSVSink writes one file per analysis month under a directory. The file is
// written to a temp name and renamed into place, so a re-run replaces the
// month's slice atomically and a failed write leaves the prior file intact.
type CSVSink struct {
	dir string
}

func newCSVSink(dir string) (*CSVSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &CSVSink{dir: dir}, nil
}

func (s *CSVSink) monthPath(month AnalysisMonth) string {
	return filepath.Join(s.dir, fmt.Sprintf("lifecycle-%s.csv", month.Key()))
}

func (s *CSVSink) WriteMonth(ctx context.Context, month AnalysisMonth, records []LifecycleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf("lifecycle-%s-*.tmp", month.Key()))
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	writer := csv.NewWriter(tmp)
	writeErr := writer.Write(recordCSVHeader)
	if writeErr == nil {
		for _, record := range records {
			if writeErr = writer.Write(recordCSVRow(record)); writeErr != nil {
				break
			}
		}
	}
	if writeErr == nil {
		writer.Flush()
		writeErr = writer.Error()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return writeErr
	}
	return os.Rename(tmpPath, s.monthPath(month))
}

func writeReportCSV(report BackfillReport, output string) error {
	basePath, err := resolveCSVBase(output)
	if err != nil {
		return err
	}
	return writeMonthSummaryCSV(basePath+"-month-summary.csv", report.Months)
}

func resolveCSVBase(output string) (string, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return "", errors.New("csv output path is empty")
	}
	info, err := os.Stat(output)
	if err == nil && info.IsDir() {
		return filepath.Join(output, "lifecycle"), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	return strings.TrimSuffix(output, ".csv"), nil
}

func writeMonthSummaryCSV(path string, months []MonthSummary) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{
		"month", "status", "customers_evaluated", "records",
		"new", "recurring", "inactive", "churned", "recovered", "anomaly",
		"revenue", "error",
	}); err != nil {
		return err
	}
	for _, summary := range months {
		record := []string{
			summary.Month,
			string(summary.Status),
			strconv.Itoa(summary.Customers),
			strconv.Itoa(summary.Records),
			strconv.Itoa(summary.States.New),
			strconv.Itoa(summary.States.Recurring),
			strconv.Itoa(summary.States.Inactive),
			strconv.Itoa(summary.States.Churned),
			strconv.Itoa(summary.States.Recovered),
			strconv.Itoa(summary.States.Anomaly),
			summary.Revenue,
			summary.Error,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
