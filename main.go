package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"
)

// defaultStartDate is the historical origin of the VitaShop order dataset;
// backfills start there unless told otherwise.
const defaultStartDate = "2022-01-01"

func main() {
	inputPath := flag.String("input", "data/sample_orders.csv", "Path to enriched order lines CSV")
	startInput := flag.String("start", defaultStartDate, "First analysis month (YYYY-MM-DD, truncated to month)")
	endInput := flag.String("end", "", "Last analysis month (defaults to current date)")
	outDir := flag.String("out", "out", "Directory for per-month lifecycle CSVs (empty disables)")
	csvOut := flag.String("csv-out", "", "Write run summary CSV using this path prefix or directory")
	jsonOutput := flag.Bool("json", false, "Emit JSON run report")
	workers := flag.Int("workers", 4, "Concurrent per-customer workers within a month")
	useDB := flag.Bool("db", false, "Commit months to Postgres and record the run")
	dbURL := flag.String("db-url", "", "Postgres DSN (falls back to VITASHOP_LIFECYCLE_DB_URL, DATABASE_URL)")
	dbSchema := flag.String("db-schema", "", "Postgres schema (default vitashop_lifecycle)")
	listRunsTop := flag.Int("list-runs", 0, "List the N most recent runs from the registry and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *listRunsTop > 0 {
		if err := printRecentRuns(ctx, *dbURL, *dbSchema, *listRunsTop); err != nil {
			fmt.Fprintf(os.Stderr, "failed to list runs: %v\n", err)
			os.Exit(1)
		}
		return
	}

	startDate, err := parseDate(*startInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid start date: %v\n", err)
		os.Exit(1)
	}
	endDate := time.Now().UTC()
	if strings.TrimSpace(*endInput) != "" {
		endDate, err = parseDate(*endInput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid end date: %v\n", err)
			os.Exit(1)
		}
	}

	lines, stats, err := loadOrderLines(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load order lines: %v\n", err)
		os.Exit(1)
	}
	index := buildOrderIndex(lines)

	var sinks []MonthSink
	if strings.TrimSpace(*outDir) != "" {
		csvSink, err := newCSVSink(*outDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to prepare output directory: %v\n", err)
			os.Exit(1)
		}
		sinks = append(sinks, csvSink)
	}

	var db *sql.DB
	var dbCfg DBConfig
	if *useDB {
		dbCfg, err = resolveDBConfig(*dbURL, *dbSchema)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		db, err = openDB(dbCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		pgSink, err := newPostgresSink(ctx, db, dbCfg.Schema)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to prepare database: %v\n", err)
			os.Exit(1)
		}
		sinks = append(sinks, pgSink)
	}

	report := execute(ctx, index, stats, BackfillConfig{
		Start:   startDate,
		End:     endDate,
		Workers: *workers,
		Sinks:   sinks,
	}, *csvOut, *jsonOutput, *inputPath)

	if db != nil {
		if err := insertRun(ctx, db, dbCfg.Schema, *inputPath, report); err != nil {
			fmt.Fprintf(os.Stderr, "failed to record run: %v\n", err)
		}
	}
	if report.MonthsFailed > 0 {
		os.Exit(1)
	}
}

func execute(ctx context.Context, index *OrderIndex, stats LoadStats, cfg BackfillConfig, csvOut string, jsonOutput bool, inputPath string) BackfillReport {
	report, err := runBackfill(ctx, index, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backfill failed: %v\n", err)
		os.Exit(1)
	}

	if strings.TrimSpace(csvOut) != "" {
		if err := writeReportCSV(report, csvOut); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write csv output: %v\n", err)
			os.Exit(1)
		}
	}

	if report.TotalAnomalies > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d anomaly classifications (customers evaluated with no history); check driver pruning\n", report.TotalAnomalies)
	}
	for _, month := range report.Months {
		if month.Status == MonthFailed {
			fmt.Fprintf(os.Stderr, "month %s failed: %s\n", month.Month, month.Error)
		}
	}

	if jsonOutput {
		payload, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode json: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return report
	}

	printReport(report, stats, index.customerCount(), inputPath)
	return report
}

func printReport(report BackfillReport, stats LoadStats, customers int, inputPath string) {
	fmt.Printf("VitaShop Customer Lifecycle Backfill\n")
	fmt.Printf("Run: %s | Generated: %s\n", report.RunID, report.GeneratedAt)
	fmt.Printf("Input: %s | Rows: %d | Loaded: %d | Customers: %d | Excluded: %d | Cancelled: %d | Duplicates: %d\n",
		inputPath, stats.Rows, stats.Loaded, customers, stats.ExcludedLines, stats.CancelledLines, stats.DuplicateLines)
	if stats.Unclassified > 0 || stats.BadRevenue > 0 {
		fmt.Printf("Data quality: unclassified tags %d | unparseable revenue %d\n",
			stats.Unclassified, stats.BadRevenue)
	}
	fmt.Printf("Months: %s to %s | Committed: %d | Failed: %d | Workers: %d\n",
		report.StartMonth, report.EndMonth, report.MonthsCommitted, report.MonthsFailed, report.Workers)
	fmt.Printf("Records: %d\n\n", report.TotalRecords)

	total := report.TotalStates
	evaluated := total.New + total.Recurring + total.Inactive + total.Churned + total.Recovered + total.Anomaly
	fmt.Println("Customer-Month States (overall dimension)")
	fmt.Printf("- New: %d (%.1f%%) | Recurring: %d (%.1f%%) | Inactive: %d (%.1f%%)\n",
		total.New, percent(total.New, evaluated),
		total.Recurring, percent(total.Recurring, evaluated),
		total.Inactive, percent(total.Inactive, evaluated))
	fmt.Printf("- Churned: %d (%.1f%%) | Recovered: %d (%.1f%%) | Anomaly: %d\n",
		total.Churned, percent(total.Churned, evaluated),
		total.Recovered, percent(total.Recovered, evaluated),
		total.Anomaly)

	fmt.Println()
	fmt.Println("By Month")
	for _, month := range report.Months {
		fmt.Printf("- %s | %s\n", month.Month, month.Status)
		fmt.Printf("  Customers: %d | Records: %d | Revenue: %s\n",
			month.Customers, month.Records, month.Revenue)
		fmt.Printf("  New: %d | Recurring: %d | Inactive: %d | Churned: %d | Recovered: %d\n",
			month.States.New, month.States.Recurring, month.States.Inactive,
			month.States.Churned, month.States.Recovered)
	}
}

func printRecentRuns(ctx context.Context, dbURL, dbSchema string, limit int) error {
	cfg, err := resolveDBConfig(dbURL, dbSchema)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := listRuns(ctx, db, cfg.Schema, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	fmt.Printf("Recent Runs (%d)\n", len(runs))
	for _, run := range runs {
		fmt.Printf("- %s | %s\n", run.RunID, run.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  Months: %s to %s | Committed: %d | Failed: %d | Records: %d\n",
			run.StartMonth, run.EndMonth, run.MonthsCommitted, run.MonthsFailed, run.TotalRecords)
	}
	return nil
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nCSV columns required: order_line_id, customer_id, order_date\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Dimension columns read when present: brand_name, payment_method, product_category, fulfillment_type\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Date formats accepted: YYYY-MM-DD, RFC3339, YYYY-MM-DD HH:MM:SS\n")
	}
}
