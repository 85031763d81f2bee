package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSinkWritesMonthFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := newCSVSink(dir)
	require.NoError(t, err)

	month := mustMonth(t, date(2024, time.March, 1))
	records := []LifecycleRecord{
		{
			AnalysisMonth:    "2024-03",
			CustomerID:       "CUST_001",
			OrderLineID:      "OL_1",
			OrderDate:        "2024-03-10",
			LifecycleOverall: StateNew,
			Revenue:          "59.90",
			Quantity:         2,
		},
	}
	require.NoError(t, sink.WriteMonth(context.Background(), month, records))

	rows := readCSV(t, filepath.Join(dir, "lifecycle-2024-03.csv"))
	require.Len(t, rows, 2)
	require.Equal(t, recordCSVHeader, rows[0])
	require.Equal(t, "OL_1", rows[1][2])
	require.Equal(t, "new", rows[1][5])
	require.Equal(t, "59.90", rows[1][14])
}

func TestCSVSinkReplacesMonthOnRerun(t *testing.T) {
	dir := t.TempDir()
	sink, err := newCSVSink(dir)
	require.NoError(t, err)
	month := mustMonth(t, date(2024, time.March, 1))

	first := []LifecycleRecord{
		{AnalysisMonth: "2024-03", CustomerID: "CUST_001", OrderLineID: "OL_1", LifecycleOverall: StateNew},
		{AnalysisMonth: "2024-03", CustomerID: "CUST_002", OrderLineID: "OL_2", LifecycleOverall: StateNew},
	}
	require.NoError(t, sink.WriteMonth(context.Background(), month, first))

	second := first[:1]
	require.NoError(t, sink.WriteMonth(context.Background(), month, second))

	rows := readCSV(t, filepath.Join(dir, "lifecycle-2024-03.csv"))
	require.Len(t, rows, 2, "the month's slice is replaced, not appended")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestCSVSinkCancelledContext(t *testing.T) {
	dir := t.TempDir()
	sink, err := newCSVSink(dir)
	require.NoError(t, err)
	month := mustMonth(t, date(2024, time.March, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, sink.WriteMonth(ctx, month, nil))

	_, statErr := os.Stat(filepath.Join(dir, "lifecycle-2024-03.csv"))
	require.True(t, os.IsNotExist(statErr), "failed commit leaves no output")
}

func TestNewCSVSinkRejectsEmptyDir(t *testing.T) {
	_, err := newCSVSink("  ")
	require.Error(t, err)
}

func TestWriteReportCSV(t *testing.T) {
	dir := t.TempDir()
	report := BackfillReport{
		Months: []MonthSummary{
			{Month: "2024-02", Status: MonthCommitted, Customers: 10, Records: 4,
				States: StateBreakdown{New: 2, Recurring: 3, Churned: 5}, Revenue: "120.50"},
			{Month: "2024-03", Status: MonthFailed, Revenue: "0", Error: "disk full"},
		},
	}
	require.NoError(t, writeReportCSV(report, dir))

	rows := readCSV(t, filepath.Join(dir, "lifecycle-month-summary.csv"))
	require.Len(t, rows, 3)
	require.Equal(t, "2024-02", rows[1][0])
	require.Equal(t, "committed", rows[1][1])
	require.Equal(t, "120.50", rows[1][10])
	require.Equal(t, "failed", rows[2][1])
	require.Equal(t, "disk full", rows[2][11])
}

func TestResolveCSVBase(t *testing.T) {
	dir := t.TempDir()
	base, err := resolveCSVBase(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "lifecycle"), base)

	base, err = resolveCSVBase(filepath.Join(dir, "report.csv"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "report"), base)

	_, err = resolveCSVBase("")
	require.Error(t, err)
}
