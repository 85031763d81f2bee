package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustMonth(t *testing.T, monthStart time.Time) AnalysisMonth {
	t.Helper()
	month, err := computeAnalysisMonth(monthStart)
	require.NoError(t, err)
	return month
}

func TestComputeAnalysisMonthTruncatesAndBounds(t *testing.T) {
	month := mustMonth(t, date(2024, time.March, 17))

	require.Equal(t, date(2024, time.March, 1), month.MonthStart)
	require.Equal(t, date(2024, time.March, 31), month.MonthEnd)
	require.Equal(t, date(2022, time.April, 1), month.WindowStart)
	require.Equal(t, date(2024, time.April, 1), month.NextMonth())
	require.Equal(t, "2024-03", month.Key())
}

func TestComputeAnalysisMonthInvariants(t *testing.T) {
	for _, start := range []time.Time{
		date(2022, time.January, 1),
		date(2023, time.February, 28),
		date(2024, time.December, 31),
	} {
		month := mustMonth(t, start)
		require.False(t, month.MonthStart.Before(month.WindowStart))
		require.False(t, month.MonthEnd.Before(month.MonthStart))
		// MonthEnd is the last calendar day of the month.
		require.Equal(t, month.NextMonth(), month.MonthEnd.AddDate(0, 0, 1))
	}
}

func TestComputeAnalysisMonthRejectsZeroTime(t *testing.T) {
	_, err := computeAnalysisMonth(time.Time{})
	require.Error(t, err)
}

func TestWindowStartAdvancesOneMonthPerMonth(t *testing.T) {
	prev := mustMonth(t, date(2023, time.January, 1))
	for m := date(2023, time.February, 1); m.Before(date(2025, time.January, 1)); m = m.AddDate(0, 1, 0) {
		current := mustMonth(t, m)
		require.Equal(t, prev.WindowStart.AddDate(0, 1, 0), current.WindowStart,
			"window start for %s", current.Key())
		prev = current
	}
}

func TestMonthsBetween(t *testing.T) {
	months, err := monthsBetween(date(2022, time.November, 15), date(2023, time.February, 3))
	require.NoError(t, err)
	require.Equal(t, []time.Time{
		date(2022, time.November, 1),
		date(2022, time.December, 1),
		date(2023, time.January, 1),
		date(2023, time.February, 1),
	}, months)
}

func TestMonthsBetweenSingleMonth(t *testing.T) {
	months, err := monthsBetween(date(2022, time.May, 1), date(2022, time.May, 31))
	require.NoError(t, err)
	require.Len(t, months, 1)
}

func TestMonthsBetweenEndBeforeStart(t *testing.T) {
	_, err := monthsBetween(date(2023, time.March, 1), date(2023, time.January, 1))
	require.Error(t, err)
}
