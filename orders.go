package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Dimension is one of the five classification axes.
type Dimension string

const (
	DimensionOverall  Dimension = "overall"
	DimensionBrand    Dimension = "brand"
	DimensionPayment  Dimension = "payment"
	DimensionProduct  Dimension = "product"
	DimensionModality Dimension = "modality"
)

// taggedDimensions are the axes that read a tag off the order line. The
// overall axis applies to every line and carries no value.
var taggedDimensions = []Dimension{
	DimensionBrand, DimensionPayment, DimensionProduct, DimensionModality,
}

// DimensionKey identifies one classification axis and, for tagged axes, the
// concrete tag value it is restricted to. The overall key has an empty value.
type DimensionKey struct {
	Axis  Dimension
	Value string
}

var overallKey = DimensionKey{Axis: DimensionOverall}

// OrderLine is one immutable enriched order-line fact, as produced by the
// upstream enrichment pipeline (tb_dimensions_customer_orders shape). The
// enrichment contract guarantees at most one attribution record per customer
// per day has been joined in (most-recent-wins); duplicate line ids are
// still collapsed defensively on load.
type OrderLine struct {
	OrderLineID string
	OrderID     string
	CustomerID  string
	OrderDate   time.Time

	// Dimension tags; empty means the line carries no value for that axis
	// and the corresponding lifecycle field stays absent.
	Brand           string
	PaymentMethod   string
	ProductCategory string
	FulfillmentType string

	// Pass-through reporting attributes, not used for classification.
	Revenue        *apd.Decimal
	Quantity       int
	CustomerCPF    string
	Gender         string
	Birthdate      string
	Region         string
	Store          string
	BookingChannel string
	ChannelGroup   string
	Campaign       string
	HealthPlan     string
	MarketSegment  string
	OrderStatus    string
}

// dimensionValue returns the line's tag for a given axis, or "" when absent.
func (l *OrderLine) dimensionValue(axis Dimension) string {
	switch axis {
	case DimensionBrand:
		return l.Brand
	case DimensionPayment:
		return l.PaymentMethod
	case DimensionProduct:
		return l.ProductCategory
	case DimensionModality:
		return l.FulfillmentType
	default:
		return ""
	}
}

// Known category vocabularies. A tag that is present but not recognized maps
// to a sentinel value so the line still flows downstream (never a fatal
// error). Brand and product category are open vocabularies and pass through.
var knownPaymentMethods = map[string]struct{}{
	"credit_card":     {},
	"vitashop_wallet": {},
	"health_plan":     {},
}

var knownFulfillmentTypes = map[string]struct{}{
	"IN_STORE_PICKUP": {},
	"HOME_DELIVERY":   {},
}

const (
	sentinelPayment     = "unclassified"
	sentinelFulfillment = "UNCLASSIFIED"
)

func normalizePaymentMethod(value string) string {
	if value == "" {
		return ""
	}
	if _, ok := knownPaymentMethods[value]; ok {
		return value
	}
	return sentinelPayment
}

func normalizeFulfillmentType(value string) string {
	if value == "" {
		return ""
	}
	if _, ok := knownFulfillmentTypes[value]; ok {
		return value
	}
	return sentinelFulfillment
}

// LoadStats reports what the loader kept and dropped.
type LoadStats struct {
	Rows           int `json:"rows"`
	Loaded         int `json:"loaded"`
	ExcludedLines  int `json:"excluded_lines"`
	CancelledLines int `json:"cancelled_lines"`
	DuplicateLines int `json:"duplicate_lines"`
	Unclassified   int `json:"unclassified_tags"`
	BadRevenue     int `json:"bad_revenue"`
}

func loadOrderLines(path string) ([]*OrderLine, LoadStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, LoadStats{}, err
	}
	if len(records) < 2 {
		return nil, LoadStats{}, errors.New("CSV must include header and at least one row")
	}

	header := normalizeHeader(records[0])
	idx := map[string]int{}
	for i, name := range header {
		idx[name] = i
	}

	required := []string{"order_line_id", "customer_id", "order_date"}
	for _, key := range required {
		if _, ok := idx[key]; !ok {
			return nil, LoadStats{}, fmt.Errorf("missing required column: %s", key)
		}
	}

	stats := LoadStats{}
	seen := map[string]struct{}{}
	var lines []*OrderLine
	for rowIndex, row := range records[1:] {
		if len(row) == 0 {
			continue
		}
		stats.Rows++
		line, keep, err := parseOrderRow(row, idx, &stats)
		if err != nil {
			return nil, LoadStats{}, fmt.Errorf("row %d: %w", rowIndex+2, err)
		}
		if !keep {
			continue
		}
		if _, dup := seen[line.OrderLineID]; dup {
			stats.DuplicateLines++
			continue
		}
		seen[line.OrderLineID] = struct{}{}
		stats.Loaded++
		lines = append(lines, line)
	}
	return lines, stats, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		out[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return out
}

func parseOrderRow(row []string, idx map[string]int, stats *LoadStats) (*OrderLine, bool, error) {
	get := func(key string) string {
		pos, ok := idx[key]
		if !ok || pos >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[pos])
	}

	// Enrichment-side exclusions: flagged and cancelled lines never reach
	// the lifecycle tables.
	if parseBool(get("is_excluded")) {
		stats.ExcludedLines++
		return nil, false, nil
	}
	status := get("order_status")
	if strings.EqualFold(status, "CANCELLED") {
		stats.CancelledLines++
		return nil, false, nil
	}

	lineID := get("order_line_id")
	customerID := get("customer_id")
	if lineID == "" {
		return nil, false, errors.New("empty order_line_id")
	}
	if customerID == "" {
		return nil, false, errors.New("empty customer_id")
	}
	orderDate, err := parseDate(get("order_date"))
	if err != nil {
		return nil, false, fmt.Errorf("invalid order_date: %w", err)
	}

	payment := normalizePaymentMethod(get("payment_method"))
	fulfillment := normalizeFulfillmentType(get("fulfillment_type"))
	if payment == sentinelPayment || fulfillment == sentinelFulfillment {
		stats.Unclassified++
	}

	var revenue *apd.Decimal
	if raw := get("revenue_amount"); raw != "" {
		d, _, err := apd.NewFromString(raw)
		if err != nil {
			// Pass-through attribute, so not fatal; counted for the operator.
			stats.BadRevenue++
		} else {
			revenue = d
		}
	}

	quantity := 0
	if raw := get("quantity"); raw != "" {
		if q, err := strconv.Atoi(raw); err == nil {
			quantity = q
		}
	}

	return &OrderLine{
		OrderLineID:     lineID,
		OrderID:         get("order_id"),
		CustomerID:      customerID,
		OrderDate:       orderDate,
		Brand:           get("brand_name"),
		PaymentMethod:   payment,
		ProductCategory: get("product_category"),
		FulfillmentType: fulfillment,
		Revenue:         revenue,
		Quantity:        quantity,
		CustomerCPF:     get("customer_cpf"),
		Gender:          get("customer_gender"),
		Birthdate:       get("customer_birthdate"),
		Region:          get("region_name"),
		Store:           get("store_name"),
		BookingChannel:  get("booking_channel"),
		ChannelGroup:    get("channel_group"),
		Campaign:        get("campaign_non_direct"),
		HealthPlan:      get("health_plan_name"),
		MarketSegment:   get("market_segment"),
		OrderStatus:     status,
	}, true, nil
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "t", "1", "yes":
		return true
	default:
		return false
	}
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}

	layouts := []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported format: %s", value)
}

// customerTimeline holds one customer's order-line dates, sorted ascending,
// overall and per tagged dimension value. Read-only after the index is
// built, so it is safe to share across concurrent workers.
type customerTimeline struct {
	all   []time.Time
	byDim map[DimensionKey][]time.Time
	lines []*OrderLine
}

func (tl *customerTimeline) firstOrder() time.Time {
	return tl.all[0]
}

func (tl *customerTimeline) lastOrder() time.Time {
	return tl.all[len(tl.all)-1]
}

// OrderIndex is the per-customer, time-ordered view of all order lines. It
// supports range counting over arbitrary half-open date ranges; each
// customer's current-month lines are reached through their timeline.
type OrderIndex struct {
	customers map[string]*customerTimeline
}

func buildOrderIndex(lines []*OrderLine) *OrderIndex {
	sorted := make([]*OrderLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].OrderDate.Equal(sorted[j].OrderDate) {
			return sorted[i].OrderLineID < sorted[j].OrderLineID
		}
		return sorted[i].OrderDate.Before(sorted[j].OrderDate)
	})

	index := &OrderIndex{customers: map[string]*customerTimeline{}}
	for _, line := range sorted {
		tl, ok := index.customers[line.CustomerID]
		if !ok {
			tl = &customerTimeline{byDim: map[DimensionKey][]time.Time{}}
			index.customers[line.CustomerID] = tl
		}
		tl.all = append(tl.all, line.OrderDate)
		tl.lines = append(tl.lines, line)
		for _, axis := range taggedDimensions {
			value := line.dimensionValue(axis)
			if value == "" {
				continue
			}
			key := DimensionKey{Axis: axis, Value: value}
			tl.byDim[key] = append(tl.byDim[key], line.OrderDate)
		}
	}
	return index
}

func (idx *OrderIndex) customerCount() int {
	return len(idx.customers)
}

func (idx *OrderIndex) timeline(customerID string) *customerTimeline {
	return idx.customers[customerID]
}

// customersActiveBy lists customers whose first order is at or before the
// given date (skip-pruning: a customer is never evaluated before the month
// of their first order). Sorted for deterministic iteration.
func (idx *OrderIndex) customersActiveBy(cutoff time.Time) []string {
	var ids []string
	for id, tl := range idx.customers {
		if !tl.firstOrder().After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
