package main

import (
	"sort"
	"time"
)

// countBefore returns how many dates in the sorted slice fall strictly
// before the cutoff.
func countBefore(dates []time.Time, cutoff time.Time) int {
	return sort.Search(len(dates), func(i int) bool {
		return !dates[i].Before(cutoff)
	})
}

// countRange returns how many dates fall in the half-open range [from, to).
func countRange(dates []time.Time, from, to time.Time) int {
	return countBefore(dates, to) - countBefore(dates, from)
}

// bucketCounts splits one sorted timeline into the three disjoint buckets of
// an analysis month. The buckets partition every date up to and including
// the month end; nothing is counted twice or dropped.
func bucketCounts(dates []time.Time, month AnalysisMonth) RollingCounts {
	windowIdx := countBefore(dates, month.WindowStart)
	monthIdx := countBefore(dates, month.MonthStart)
	endIdx := countBefore(dates, month.NextMonth())
	return RollingCounts{
		Hist: windowIdx,
		Roll: monthIdx - windowIdx,
		Curr: endIdx - monthIdx,
	}
}

// aggregateCounts computes the count triple for one customer on one
// dimension key. The overall key spans all of the customer's lines; a
// tagged key is restricted to lines carrying that tag value. A customer
// with no matching lines yields zero counts, not an error.
func (idx *OrderIndex) aggregateCounts(customerID string, key DimensionKey, month AnalysisMonth) RollingCounts {
	tl := idx.timeline(customerID)
	if tl == nil {
		return RollingCounts{}
	}
	if key.Axis == DimensionOverall {
		return bucketCounts(tl.all, month)
	}
	return bucketCounts(tl.byDim[key], month)
}

// classifyCustomer computes the lifecycle state for one customer on one
// dimension key for the given month.
func (idx *OrderIndex) classifyCustomer(customerID string, key DimensionKey, month AnalysisMonth) LifecycleState {
	return classifyLifecycle(idx.aggregateCounts(customerID, key, month))
}
