package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MonthStatus tracks one analysis month through the driver's state machine.
type MonthStatus string

const (
	MonthPending   MonthStatus = "pending"
	MonthRunning   MonthStatus = "running"
	MonthCommitted MonthStatus = "committed"
	MonthFailed    MonthStatus = "failed"
)

// LifecycleRecord is one output row: an order line of the analysis month
// joined with its customer's five lifecycle labels for that month. The four
// tagged lifecycle fields are empty when the line carries no value for that
// axis.
type LifecycleRecord struct {
	AnalysisMonth string `json:"analysis_month"`
	CustomerID    string `json:"customer_id"`
	OrderLineID   string `json:"order_line_id"`
	OrderID       string `json:"order_id,omitempty"`
	OrderDate     string `json:"order_date"`

	LifecycleOverall  LifecycleState `json:"lifecycle_overall"`
	LifecycleBrand    LifecycleState `json:"lifecycle_brand,omitempty"`
	LifecyclePayment  LifecycleState `json:"lifecycle_payment,omitempty"`
	LifecycleProduct  LifecycleState `json:"lifecycle_product,omitempty"`
	LifecycleModality LifecycleState `json:"lifecycle_modality,omitempty"`

	Brand           string `json:"brand_name,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	ProductCategory string `json:"product_category,omitempty"`
	FulfillmentType string `json:"fulfillment_type,omitempty"`

	Revenue        string `json:"revenue_amount,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	Gender         string `json:"customer_gender,omitempty"`
	Birthdate      string `json:"customer_birthdate,omitempty"`
	Region         string `json:"region_name,omitempty"`
	Store          string `json:"store_name,omitempty"`
	BookingChannel string `json:"booking_channel,omitempty"`
	ChannelGroup   string `json:"channel_group,omitempty"`
	Campaign       string `json:"campaign_non_direct,omitempty"`
	HealthPlan     string `json:"health_plan_name,omitempty"`
	MarketSegment  string `json:"market_segment,omitempty"`
}

// StateBreakdown counts evaluated customers per overall lifecycle state.
type StateBreakdown struct {
	New       int `json:"new"`
	Recurring int `json:"recurring"`
	Inactive  int `json:"inactive"`
	Churned   int `json:"churned"`
	Recovered int `json:"recovered"`
	Anomaly   int `json:"anomaly"`
}

func (b *StateBreakdown) add(state LifecycleState) {
	switch state {
	case StateNew:
		b.New++
	case StateRecurring:
		b.Recurring++
	case StateInactive:
		b.Inactive++
	case StateChurned:
		b.Churned++
	case StateRecovered:
		b.Recovered++
	case StateAnomaly:
		b.Anomaly++
	}
}

func (b *StateBreakdown) merge(other StateBreakdown) {
	b.New += other.New
	b.Recurring += other.Recurring
	b.Inactive += other.Inactive
	b.Churned += other.Churned
	b.Recovered += other.Recovered
	b.Anomaly += other.Anomaly
}

// MonthSummary is the per-month entry of the run report.
type MonthSummary struct {
	Month     string         `json:"month"`
	Status    MonthStatus    `json:"status"`
	Customers int            `json:"customers_evaluated"`
	Records   int            `json:"records"`
	States    StateBreakdown `json:"states"`
	Revenue   string         `json:"revenue"`
	Error     string         `json:"error,omitempty"`
}

// BackfillReport summarizes one driver run across all months.
type BackfillReport struct {
	RunID           string         `json:"run_id"`
	GeneratedAt     string         `json:"generated_at"`
	StartMonth      string         `json:"start_month"`
	EndMonth        string         `json:"end_month"`
	Workers         int            `json:"workers"`
	MonthsTotal     int            `json:"months_total"`
	MonthsCommitted int            `json:"months_committed"`
	MonthsFailed    int            `json:"months_failed"`
	TotalRecords    int            `json:"total_records"`
	TotalAnomalies  int            `json:"total_anomalies"`
	TotalStates     StateBreakdown `json:"total_states"`
	Months          []MonthSummary `json:"months"`
}

// MonthSink commits one month's record batch. Implementations must replace
// the month's slice atomically: a failed write leaves no partial output and
// a re-run never duplicates records.
//
// With multiple sinks the driver commits them in configuration order. Each
// commit is atomic per sink, not across sinks: if a later sink fails, the
// earlier ones already hold the month while the month is marked failed.
// Because every sink replaces rather than appends, re-running the failed
// month reconverges all sinks.
type MonthSink interface {
	WriteMonth(ctx context.Context, month AnalysisMonth, records []LifecycleRecord) error
}

// BackfillConfig drives one run. Start and End are truncated to their first
// of month before iteration.
type BackfillConfig struct {
	Start   time.Time
	End     time.Time
	Workers int
	Sinks   []MonthSink
}

func (cfg BackfillConfig) validate() error {
	if cfg.Start.IsZero() || cfg.End.IsZero() {
		return errors.New("start and end dates are required")
	}
	if truncateToMonth(cfg.End).Before(truncateToMonth(cfg.Start)) {
		return errors.New("end date is before start date")
	}
	if cfg.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	return nil
}

// runBackfill iterates analysis months from start to end inclusive,
// classifying and committing one month at a time. A failed month is
// reported with its original error and does not disturb other months; a
// cancelled context stops after the month in flight.
func runBackfill(ctx context.Context, index *OrderIndex, cfg BackfillConfig) (BackfillReport, error) {
	if err := cfg.validate(); err != nil {
		return BackfillReport{}, err
	}
	months, err := monthsBetween(cfg.Start, cfg.End)
	if err != nil {
		return BackfillReport{}, err
	}

	report := BackfillReport{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		StartMonth:  truncateToMonth(cfg.Start).Format("2006-01"),
		EndMonth:    truncateToMonth(cfg.End).Format("2006-01"),
		Workers:     cfg.Workers,
		MonthsTotal: len(months),
	}

	for i, monthStart := range months {
		if ctx.Err() != nil {
			// "Stop after the current month's commit": the rest stays pending.
			for _, rest := range months[i:] {
				report.Months = append(report.Months, MonthSummary{
					Month: rest.Format("2006-01"), Status: MonthPending, Revenue: "0",
				})
			}
			break
		}
		month, err := computeAnalysisMonth(monthStart)
		if err != nil {
			return BackfillReport{}, err
		}
		summary := runMonth(ctx, index, month, cfg)
		report.Months = append(report.Months, summary)
		report.TotalAnomalies += summary.States.Anomaly
		report.TotalStates.merge(summary.States)
		switch summary.Status {
		case MonthCommitted:
			report.MonthsCommitted++
			report.TotalRecords += summary.Records
		case MonthFailed:
			report.MonthsFailed++
		}
	}
	return report, nil
}

// monthShard is one worker's share of a month: the states of its customers
// and the records for their current-month lines.
type monthShard struct {
	states  StateBreakdown
	records []LifecycleRecord
}

func runMonth(ctx context.Context, index *OrderIndex, month AnalysisMonth, cfg BackfillConfig) MonthSummary {
	summary := MonthSummary{Month: month.Key(), Status: MonthRunning, Revenue: "0"}

	customers := index.customersActiveBy(month.MonthEnd)
	summary.Customers = len(customers)

	shards := classifyMonth(ctx, index, month, customers, cfg.Workers)
	var records []LifecycleRecord
	for _, shard := range shards {
		summary.States.merge(shard.states)
		records = append(records, shard.records...)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].OrderDate == records[j].OrderDate {
			return records[i].OrderLineID < records[j].OrderLineID
		}
		return records[i].OrderDate < records[j].OrderDate
	})
	summary.Records = len(records)
	summary.Revenue = sumRevenue(records)

	if err := ctx.Err(); err != nil {
		summary.Status = MonthFailed
		summary.Error = err.Error()
		return summary
	}
	for _, sink := range cfg.Sinks {
		if err := sink.WriteMonth(ctx, month, records); err != nil {
			summary.Status = MonthFailed
			summary.Error = fmt.Sprintf("commit %s: %v", month.Key(), err)
			return summary
		}
	}
	summary.Status = MonthCommitted
	return summary
}

// classifyMonth shards the customer list across workers. Aggregation holds
// no cross-customer state and the index is read-only, so workers share it
// without locking; shard order keeps the merge deterministic.
func classifyMonth(ctx context.Context, index *OrderIndex, month AnalysisMonth, customers []string, workers int) []monthShard {
	if workers < 1 {
		workers = 1
	}
	chunkSize := (len(customers) + workers - 1) / workers
	if chunkSize < 1 {
		chunkSize = 1
	}
	var chunks [][]string
	for start := 0; start < len(customers); start += chunkSize {
		end := start + chunkSize
		if end > len(customers) {
			end = len(customers)
		}
		chunks = append(chunks, customers[start:end])
	}

	shards := make([]monthShard, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			shards[i] = classifyChunk(index, month, chunk)
			return nil
		})
	}
	// Workers only fail on cancellation, which runMonth checks before commit.
	_ = g.Wait()
	return shards
}

func classifyChunk(index *OrderIndex, month AnalysisMonth, customers []string) monthShard {
	shard := monthShard{}
	for _, customerID := range customers {
		overall := index.classifyCustomer(customerID, overallKey, month)
		shard.states.add(overall)

		tl := index.timeline(customerID)
		// Per-key cache: many lines of one customer share tag values.
		states := map[DimensionKey]LifecycleState{overallKey: overall}
		for _, line := range tl.lines {
			if line.OrderDate.Before(month.MonthStart) || !line.OrderDate.Before(month.NextMonth()) {
				continue
			}
			shard.records = append(shard.records, buildRecord(index, month, line, states))
		}
	}
	return shard
}

// buildRecord broadcasts the customer-month classification onto one
// contributing order line. A line lacking a tag for an axis gets no
// lifecycle label on that axis; the classifier is not invoked for it.
func buildRecord(index *OrderIndex, month AnalysisMonth, line *OrderLine, states map[DimensionKey]LifecycleState) LifecycleRecord {
	record := LifecycleRecord{
		AnalysisMonth:    month.Key(),
		CustomerID:       line.CustomerID,
		OrderLineID:      line.OrderLineID,
		OrderID:          line.OrderID,
		OrderDate:        line.OrderDate.Format("2006-01-02"),
		LifecycleOverall: states[overallKey],
		Brand:            line.Brand,
		PaymentMethod:    line.PaymentMethod,
		ProductCategory:  line.ProductCategory,
		FulfillmentType:  line.FulfillmentType,
		Quantity:         line.Quantity,
		Gender:           line.Gender,
		Birthdate:        line.Birthdate,
		Region:           line.Region,
		Store:            line.Store,
		BookingChannel:   line.BookingChannel,
		ChannelGroup:     line.ChannelGroup,
		Campaign:         line.Campaign,
		HealthPlan:       line.HealthPlan,
		MarketSegment:    line.MarketSegment,
	}
	if line.Revenue != nil {
		record.Revenue = line.Revenue.String()
	}
	for _, axis := range taggedDimensions {
		value := line.dimensionValue(axis)
		if value == "" {
			continue
		}
		key := DimensionKey{Axis: axis, Value: value}
		state, ok := states[key]
		if !ok {
			state = index.classifyCustomer(line.CustomerID, key, month)
			states[key] = state
		}
		switch axis {
		case DimensionBrand:
			record.LifecycleBrand = state
		case DimensionPayment:
			record.LifecyclePayment = state
		case DimensionProduct:
			record.LifecycleProduct = state
		case DimensionModality:
			record.LifecycleModality = state
		}
	}
	return record
}

// sumRevenue totals the batch's revenue exactly, without float drift.
func sumRevenue(records []LifecycleRecord) string {
	total := apd.New(0, 0)
	dctx := apd.BaseContext.WithPrecision(34)
	for _, record := range records {
		if record.Revenue == "" {
			continue
		}
		value, _, err := apd.NewFromString(record.Revenue)
		if err != nil {
			continue
		}
		if _, err := dctx.Add(total, total, value); err != nil {
			continue
		}
	}
	return total.String()
}
