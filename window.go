package main

import (
	"errors"
	"fmt"
	"time"
)

// rollingMonths is the number of full months preceding the analysis month
// that form the rolling window. Together with the analysis month itself this
// gives the 24-month decision horizon.
const rollingMonths = 23

// AnalysisMonth describes the three time buckets evaluated for one calendar
// month: everything before WindowStart is history, [WindowStart, MonthStart)
// is the rolling window, and [MonthStart, NextMonth) is the current month.
type AnalysisMonth struct {
	MonthStart  time.Time
	MonthEnd    time.Time
	WindowStart time.Time
}

// NextMonth returns the exclusive upper bound of the current-month bucket,
// i.e. the first day of the following calendar month. For date-granularity
// order dates this is equivalent to order_date <= MonthEnd.
func (m AnalysisMonth) NextMonth() time.Time {
	return m.MonthStart.AddDate(0, 1, 0)
}

// Key returns the month in YYYY-MM form, used for output partitioning.
func (m AnalysisMonth) Key() string {
	return m.MonthStart.Format("2006-01")
}

func computeAnalysisMonth(monthStart time.Time) (AnalysisMonth, error) {
	if monthStart.IsZero() {
		return AnalysisMonth{}, errors.New("month start is unset")
	}
	start := truncateToMonth(monthStart)
	return AnalysisMonth{
		MonthStart:  start,
		MonthEnd:    start.AddDate(0, 1, -1),
		WindowStart: truncateToMonth(start.AddDate(0, -rollingMonths, 0)),
	}, nil
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthsBetween lists the first-of-month starts from start to end inclusive,
// both truncated to their month.
func monthsBetween(start, end time.Time) ([]time.Time, error) {
	if start.IsZero() || end.IsZero() {
		return nil, errors.New("start and end dates are required")
	}
	first := truncateToMonth(start)
	last := truncateToMonth(end)
	if last.Before(first) {
		return nil, fmt.Errorf("end month %s is before start month %s",
			last.Format("2006-01"), first.Format("2006-01"))
	}
	var months []time.Time
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months, nil
}
